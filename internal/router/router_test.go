package router

import (
	"context"
	"sync"
	"testing"

	"github.com/nidhogg/nuka-relay/internal/command"
	"github.com/nidhogg/nuka-relay/internal/gateway"
	"github.com/nidhogg/nuka-relay/internal/orchestrator"
	"go.uber.org/zap"
)

type fakeAnswerer struct {
	queries []string
}

func (f *fakeAnswerer) Handle(_ context.Context, q string) *orchestrator.Result {
	f.queries = append(f.queries, q)
	return &orchestrator.Result{
		RequestID: "req-1",
		Answer:    orchestrator.Answer{Text: "42", Source: orchestrator.SourceDirect},
	}
}

type captureReplier struct {
	mu   sync.Mutex
	sent []*gateway.OutboundMessage
}

func (c *captureReplier) Send(_ context.Context, msg *gateway.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func TestHandleQuery(t *testing.T) {
	ans := &fakeAnswerer{}
	rep := &captureReplier{}
	mr := New(ans, rep, command.NewRegistry(), 0, zap.NewNop())

	mr.Handle(&gateway.InboundMessage{Platform: "slack", ChannelID: "C1", Content: "  simple lookup ", ReplyTo: "123.4"})

	if len(ans.queries) != 1 || ans.queries[0] != "simple lookup" {
		t.Errorf("queries = %v", ans.queries)
	}
	if len(rep.sent) != 1 {
		t.Fatalf("sent %d replies", len(rep.sent))
	}
	got := rep.sent[0]
	if got.Content != "42" || got.ChannelID != "C1" || got.ReplyTo != "123.4" || got.RequestID != "req-1" || got.Source != "direct" {
		t.Errorf("reply = %+v", got)
	}
}

func TestHandleCommand(t *testing.T) {
	ans := &fakeAnswerer{}
	rep := &captureReplier{}
	reg := command.NewRegistry()
	command.RegisterBuiltins(reg, command.Deps{})
	mr := New(ans, rep, reg, 0, zap.NewNop())

	mr.Handle(&gateway.InboundMessage{Platform: "rest", ChannelID: "ch", Content: "/nope"})

	if len(ans.queries) != 0 {
		t.Errorf("command reached the orchestrator: %v", ans.queries)
	}
	if len(rep.sent) != 1 || rep.sent[0].Content != "Unknown command: /nope. Type /help for available commands." {
		t.Errorf("sent = %+v", rep.sent)
	}
}

func TestHandleWithoutCommands(t *testing.T) {
	ans := &fakeAnswerer{}
	mr := New(ans, &captureReplier{}, nil, 0, zap.NewNop())

	mr.Handle(&gateway.InboundMessage{Platform: "rest", Content: "/plan x"})
	if len(ans.queries) != 1 {
		t.Error("without a command registry every message is a query")
	}
}
