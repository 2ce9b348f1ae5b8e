package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeServer speaks the SSE transport: responses to POSTed requests are
// delivered on the event stream.
type fakeServer struct {
	events chan string
}

func newFakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := &fakeServer{events: make(chan string, 16)}
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: endpoint\ndata: /rpc?session=1\n\n")
		flusher.Flush()
		for {
			select {
			case ev := <-s.events:
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", ev)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
	mux.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     *int64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		if req.ID == nil {
			return
		}
		msg := map[string]any{"jsonrpc": "2.0", "id": *req.ID}
		switch req.Method {
		case "initialize":
			msg["result"] = map[string]any{"protocolVersion": protocolVersion}
		case "tools/list":
			msg["result"] = map[string]any{"tools": []ToolInfo{
				{Name: "lookup", Description: "look things up"},
				{Name: "broken", Description: "always fails"},
			}}
		case "tools/call":
			var p struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			}
			json.Unmarshal(req.Params, &p)
			switch p.Name {
			case "lookup":
				msg["result"] = map[string]any{"content": []map[string]string{
					{"type": "text", "text": fmt.Sprintf("found %v", p.Arguments["id"])},
					{"type": "text", "text": "done"},
				}}
			case "broken":
				msg["result"] = map[string]any{"isError": true, "content": []map[string]string{{"type": "text", "text": "bad input"}}}
			default:
				msg["error"] = map[string]any{"code": -32601, "message": "unknown tool"}
			}
		}
		b, _ := json.Marshal(msg)
		s.events <- string(b)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientConnectAndCall(t *testing.T) {
	srv := newFakeServer(t)
	c := NewClient("fake", srv.URL+"/sse", zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	if len(c.Tools()) != 2 || c.Tools()[0].Name != "lookup" {
		t.Fatalf("unexpected tools %+v", c.Tools())
	}

	res, err := c.CallTool(ctx, "lookup", map[string]any{"id": "C-1"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.IsError || res.Text != "found C-1\ndone" {
		t.Errorf("unexpected result %+v", res)
	}

	res, err = c.CallTool(ctx, "broken", nil)
	if err != nil {
		t.Fatalf("call broken: %v", err)
	}
	if !res.IsError || res.Text != "bad input" {
		t.Errorf("expected tool error result, got %+v", res)
	}

	_, err = c.CallTool(ctx, "missing", nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32601 {
		t.Errorf("expected RPCError, got %v", err)
	}
}

func TestClientCallAfterClose(t *testing.T) {
	srv := newFakeServer(t)
	c := NewClient("fake", srv.URL+"/sse", zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.Close()

	if _, err := c.CallTool(ctx, "lookup", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestClientConnectRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	c := NewClient("fake", srv.URL+"/sse", zap.NewNop())
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
}
