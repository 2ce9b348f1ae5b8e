package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nidhogg/nuka-relay/internal/provider"
	"go.uber.org/zap"
)

type stubProvider struct {
	reply string
	err   error
	delay time.Duration
	last  *provider.ChatRequest
}

func (s *stubProvider) ID() string   { return "stub" }
func (s *stubProvider) Name() string { return "stub" }
func (s *stubProvider) Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	s.last = req
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &provider.ChatResponse{Content: s.reply}, nil
}
func (s *stubProvider) HealthCheck(context.Context) error { return nil }

func newRouter(p provider.Provider) *provider.Router {
	r := provider.NewRouter(zap.NewNop())
	r.Register(p)
	return r
}

func TestRouterOracleComplete(t *testing.T) {
	p := &stubProvider{reply: "SIMPLE"}
	o := FromRouter(newRouter(p), Options{Role: "relay", System: "sys", Model: "m"})

	got, err := o.Complete(context.Background(), "classify this")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != "SIMPLE" {
		t.Errorf("unexpected reply %q", got)
	}
	if len(p.last.Messages) != 2 || p.last.Messages[1].Content != "classify this" {
		t.Errorf("unexpected messages %+v", p.last.Messages)
	}
}

func TestRouterOracleUnavailable(t *testing.T) {
	o := FromRouter(newRouter(&stubProvider{err: errors.New("connection refused")}), Options{})
	_, err := o.Complete(context.Background(), "x")
	if KindOf(err) != KindUnavailable {
		t.Fatalf("expected %s, got %v", KindUnavailable, err)
	}
}

func TestRouterOracleEmptyReply(t *testing.T) {
	for _, reply := range []string{"", "  \n"} {
		o := FromRouter(newRouter(&stubProvider{reply: reply}), Options{})
		got, err := o.Complete(context.Background(), "x")
		if got != "" || KindOf(err) != KindUnavailable {
			t.Errorf("reply %q: got %q, %v", reply, got, err)
		}
	}
}

func TestRouterOracleTimeout(t *testing.T) {
	o := FromRouter(newRouter(&stubProvider{delay: time.Second}), Options{Timeout: 20 * time.Millisecond})
	_, err := o.Complete(context.Background(), "x")
	if KindOf(err) != KindTimeout {
		t.Fatalf("expected %s, got %v", KindTimeout, err)
	}
}

func TestKindOfPlainErrors(t *testing.T) {
	if KindOf(context.DeadlineExceeded) != KindTimeout {
		t.Error("deadline should map to timeout")
	}
	if KindOf(errors.New("boom")) != KindUnavailable {
		t.Error("plain error should map to unavailable")
	}
}
