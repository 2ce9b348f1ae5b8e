package command

import (
	"context"
	"strings"
	"testing"

	"github.com/nidhogg/nuka-relay/internal/gateway"
	"github.com/nidhogg/nuka-relay/internal/orchestrator"
	"github.com/nidhogg/nuka-relay/internal/registry"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in         string
		name, args string
		ok         bool
	}{
		{"/plan check contract 7", "plan", "check contract 7", true},
		{"  /HELP  ", "help", "", true},
		{"/", "", "", false},
		{"what is /plan", "", "", false},
	}
	for _, tt := range tests {
		name, args, ok := Parse(tt.in)
		if name != tt.name || args != tt.args || ok != tt.ok {
			t.Errorf("Parse(%q) = %q, %q, %v", tt.in, name, args, ok)
		}
	}
}

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{
		Name:    "ping",
		Aliases: []string{"p"},
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			return &CommandResult{Content: "pong: " + args}, nil
		},
	})

	ctx := context.Background()
	cc := &CommandContext{Platform: "test"}

	for _, in := range []string{"/ping hello", "/p hello"} {
		result, err := reg.Dispatch(ctx, in, cc)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Content != "pong: hello" {
			t.Errorf("%s: got %q, want %q", in, result.Content, "pong: hello")
		}
	}

	result, err := reg.Dispatch(ctx, "/unknown", cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Content, "Unknown command: /unknown") {
		t.Errorf("got %q", result.Content)
	}

	if _, err := reg.Dispatch(ctx, "hello", cc); err == nil {
		t.Error("expected error for non-command input")
	}
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{Name: "beta"})
	reg.Register(&Command{Name: "alpha"})

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("got %d commands, want 2", len(list))
	}
	if list[0].Name != "alpha" {
		t.Errorf("got %q first, want %q", list[0].Name, "alpha")
	}
}

type workers []registry.Worker

func (w workers) List() []registry.Worker { return w }

type planner struct{}

func (planner) Classify(context.Context, string) orchestrator.Complexity { return orchestrator.Complex }

func (planner) Plan(context.Context, string, orchestrator.Complexity) orchestrator.Plan {
	return orchestrator.Plan{
		Workers:   []string{"worker_1", "worker_2"},
		Mode:      orchestrator.Parallel,
		Rationale: "lookup and validation are independent",
		Rejected:  []string{"ghost"},
	}
}

type statuses []gateway.AdapterStatus

func (s statuses) Status() []gateway.AdapterStatus { return s }

func TestBuiltins(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg, Deps{
		Workers: workers{{ID: "worker_1", Address: "http://localhost:8101", Transport: "http", Description: "records"}},
		Planner: planner{},
		Status:  statuses{{Platform: "slack", Connected: true}, {Platform: "discord", Error: "open failed"}},
	})
	ctx := context.Background()
	cc := &CommandContext{Platform: "rest"}

	if len(reg.List()) != 4 {
		t.Errorf("expected 4 commands without events, got %d", len(reg.List()))
	}

	res, _ := reg.Dispatch(ctx, "/workers", cc)
	if !strings.Contains(res.Content, "[worker_1] records (http http://localhost:8101)") {
		t.Errorf("workers = %q", res.Content)
	}

	res, _ = reg.Dispatch(ctx, "/plan validate contract C-001", cc)
	for _, want := range []string{"Complexity: COMPLEX", "Workers: worker_1, worker_2 (PARALLEL)", "Rejected: ghost"} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("plan output missing %q: %q", want, res.Content)
		}
	}

	res, _ = reg.Dispatch(ctx, "/plan", cc)
	if res.Content != "Usage: /plan <query>" {
		t.Errorf("plan without args = %q", res.Content)
	}

	res, _ = reg.Dispatch(ctx, "/status", cc)
	if !strings.Contains(res.Content, "slack: connected") || !strings.Contains(res.Content, "discord: disconnected (open failed)") {
		t.Errorf("status = %q", res.Content)
	}

	res, _ = reg.Dispatch(ctx, "/h", cc)
	if !strings.Contains(res.Content, "/workers: List the workers") {
		t.Errorf("help = %q", res.Content)
	}
}
