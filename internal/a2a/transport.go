package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// Transport delivers one envelope to an address and returns the decoded,
// validated response. Failures are reported as *TransportError.
type Transport interface {
	Do(ctx context.Context, addr string, req *TaskRequest) (*TaskResponse, error)
}

// TransportError carries the failure category of a transport call.
type TransportError struct {
	Category Category
	Err      error
}

func (e *TransportError) Error() string {
	return string(e.Category) + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// CategoryOf extracts the category of err. Context deadline errors map to
// Timeout and anything unclassified to Unreachable.
func CategoryOf(err error) Category {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Unreachable
}

func transportErr(cat Category, format string, args ...any) error {
	return &TransportError{Category: cat, Err: fmt.Errorf(format, args...)}
}

const maxResponseBytes = 4 << 20

// HTTPTransport posts JSON envelopes to <addr>/task, or to <addr> itself
// when Path is set to "".
type HTTPTransport struct {
	Client *http.Client
	Path   string
}

// NewHTTPTransport returns a transport posting to <addr>/task.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{Client: &http.Client{}, Path: "/task"}
}

func (t *HTTPTransport) Do(ctx context.Context, addr string, req *TaskRequest) (*TaskResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	url := strings.TrimRight(addr, "/") + t.Path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, transportErr(Unreachable, "build request for %s: %w", url, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, classifyNetErr(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, transportErr(Timeout, "read response: %w", err)
		}
		return nil, transportErr(MalformedResponse, "read response: %w", err)
	}

	env, decErr := DecodeResponse(data)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Non-2xx answers are tolerated only when they carry a FAILED envelope.
		if decErr == nil && env.Status == StatusFailed {
			return env, nil
		}
		return nil, transportErr(MalformedResponse, "status %d from %s", resp.StatusCode, url)
	}
	if decErr != nil {
		return nil, &TransportError{Category: MalformedResponse, Err: decErr}
	}
	return env, nil
}

func classifyNetErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TransportError{Category: Timeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TransportError{Category: Timeout, Err: err}
	}
	return &TransportError{Category: Unreachable, Err: err}
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, addr string, req *TaskRequest) (*TaskResponse, error)

func (f TransportFunc) Do(ctx context.Context, addr string, req *TaskRequest) (*TaskResponse, error) {
	return f(ctx, addr, req)
}
