package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const protocolVersion = "2024-11-05"

// ErrClosed is returned for calls pending when the client shuts down.
var ErrClosed = errors.New("mcp: client closed")

// ToolInfo describes a tool exposed by an MCP server.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// RPCError is a JSON-RPC error object returned by the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("mcp rpc error %d: %s", e.Code, e.Message)
}

// CallResult is the outcome of tools/call. IsError is set when the tool
// itself reported a failure.
type CallResult struct {
	Text    string
	IsError bool
}

type rpcReply struct {
	result json.RawMessage
	err    error
}

// Client is an MCP SSE client: it connects to the server's event stream,
// discovers the JSON-RPC endpoint and lists and calls tools.
type Client struct {
	name    string
	sseURL  string
	rpcURL  string
	http    *http.Client
	timeout time.Duration
	tools   []ToolInfo
	pending map[int64]chan rpcReply
	nextID  atomic.Int64
	closed  bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	logger  *zap.Logger
}

// NewClient creates a new MCP client for the given SSE endpoint.
func NewClient(name, sseURL string, logger *zap.Logger) *Client {
	return &Client{
		name:    name,
		sseURL:  sseURL,
		http:    &http.Client{},
		timeout: 30 * time.Second,
		pending: make(map[int64]chan rpcReply),
		logger:  logger,
	}
}

func (c *Client) Name() string { return c.name }

// Tools returns the tools discovered during Connect.
func (c *Client) Tools() []ToolInfo { return c.tools }

// Connect opens the event stream, waits for the endpoint event, performs
// the initialize handshake and fetches the tool list.
func (c *Client) Connect(ctx context.Context) error {
	sseCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(sseCtx, http.MethodGet, c.sseURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("mcp connect: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("mcp sse connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("mcp sse status %d", resp.StatusCode)
	}
	c.cancel = cancel

	events := newEventReader(resp.Body)
	endpoint, err := events.waitFor("endpoint")
	if err != nil {
		c.Close()
		return fmt.Errorf("mcp endpoint event: %w", err)
	}
	if c.rpcURL, err = c.resolve(endpoint); err != nil {
		c.Close()
		return err
	}
	c.logger.Info("MCP endpoint discovered", zap.String("name", c.name), zap.String("rpc", c.rpcURL))

	go c.readLoop(events, resp.Body)

	if _, err := c.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]string{"name": "nuka-relay", "version": "1.0.0"},
	}); err != nil {
		c.Close()
		return fmt.Errorf("mcp initialize: %w", err)
	}
	if err := c.notify(ctx, "notifications/initialized"); err != nil {
		c.Close()
		return fmt.Errorf("mcp initialized: %w", err)
	}
	if err := c.fetchTools(ctx); err != nil {
		c.Close()
		return fmt.Errorf("mcp list tools: %w", err)
	}
	c.logger.Info("MCP tools discovered", zap.String("name", c.name), zap.Int("count", len(c.tools)))
	return nil
}

func (c *Client) resolve(endpoint string) (string, error) {
	base, err := url.Parse(c.sseURL)
	if err != nil {
		return "", fmt.Errorf("mcp sse url: %w", err)
	}
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("mcp endpoint %q: %w", endpoint, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// eventReader splits an SSE stream into (event, data) pairs.
type eventReader struct {
	scanner *bufio.Scanner
}

func newEventReader(r io.Reader) *eventReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 4<<20)
	return &eventReader{scanner: s}
}

// next returns the next complete event. The event type defaults to "message".
func (e *eventReader) next() (string, string, error) {
	event, data := "", ""
	for e.scanner.Scan() {
		line := e.scanner.Text()
		switch {
		case line == "":
			if data != "" {
				if event == "" {
					event = "message"
				}
				return event, data, nil
			}
			event = ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			chunk := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
			if data != "" {
				data += "\n"
			}
			data += chunk
		}
	}
	if err := e.scanner.Err(); err != nil {
		return "", "", err
	}
	return "", "", io.EOF
}

func (e *eventReader) waitFor(kind string) (string, error) {
	for {
		event, data, err := e.next()
		if err != nil {
			return "", err
		}
		if event == kind {
			return data, nil
		}
	}
}

// readLoop dispatches JSON-RPC responses arriving on the event stream to
// their waiting callers until the stream ends.
func (c *Client) readLoop(events *eventReader, body io.ReadCloser) {
	defer body.Close()
	for {
		event, data, err := events.next()
		if err != nil {
			c.failPending(fmt.Errorf("mcp stream ended: %w", err))
			return
		}
		if event == "message" {
			c.dispatch([]byte(data))
		}
	}
}

func (c *Client) dispatch(data []byte) {
	var msg struct {
		ID     *int64          `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.ID == nil {
		c.logger.Debug("mcp: ignoring non-response event", zap.String("name", c.name))
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[*msg.ID]
	delete(c.pending, *msg.ID)
	c.mu.Unlock()
	if !ok {
		return
	}
	if msg.Error != nil {
		ch <- rpcReply{err: msg.Error}
		return
	}
	ch <- rpcReply{result: msg.Result}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- rpcReply{err: err}
		delete(c.pending, id)
	}
}

func (c *Client) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal rpc: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create rpc request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send rpc: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("rpc status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) notify(ctx context.Context, method string) error {
	return c.post(ctx, map[string]string{"jsonrpc": "2.0", "method": method})
}

// call sends a JSON-RPC request and waits for its response on the stream.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan rpcReply, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	err := c.post(ctx, map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		forget()
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case reply := <-ch:
		return reply.result, reply.err
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	case <-timer.C:
		forget()
		return nil, fmt.Errorf("mcp rpc timeout for %s", method)
	}
}

func (c *Client) fetchTools(ctx context.Context) error {
	result, err := c.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return err
	}
	var resp struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("parse tools/list: %w", err)
	}
	c.tools = resp.Tools
	return nil
}

// CallTool invokes a tool and joins its text content blocks.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	result, err := c.call(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return nil, fmt.Errorf("mcp call %s: %w", name, err)
	}

	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("mcp call %s: parse result: %w", name, err)
	}
	var texts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			texts = append(texts, block.Text)
		}
	}
	return &CallResult{Text: strings.Join(texts, "\n"), IsError: resp.IsError}, nil
}

// Close shuts down the event stream and fails pending calls.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.failPending(ErrClosed)
	return nil
}
