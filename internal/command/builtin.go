package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/nidhogg/nuka-relay/internal/gateway"
	"github.com/nidhogg/nuka-relay/internal/orchestrator"
	"github.com/nidhogg/nuka-relay/internal/registry"
)

// WorkerLister lists the registered workers.
type WorkerLister interface {
	List() []registry.Worker
}

// Planner exposes the first two pipeline stages for dry runs.
type Planner interface {
	Classify(ctx context.Context, query string) orchestrator.Complexity
	Plan(ctx context.Context, query string, c orchestrator.Complexity) orchestrator.Plan
}

// StatusProvider reports chat adapter connection state.
type StatusProvider interface {
	Status() []gateway.AdapterStatus
}

// EventReader returns recent pipeline events, newest first.
type EventReader interface {
	Recent(ctx context.Context, n int64) ([]orchestrator.Event, error)
}

// Deps are the collaborators of the builtin commands. Commands whose
// collaborator is nil are not registered.
type Deps struct {
	Workers WorkerLister
	Planner Planner
	Status  StatusProvider
	Events  EventReader
}

// RegisterBuiltins registers /help plus /workers, /plan, /status and
// /events when their collaborators are set.
func RegisterBuiltins(reg *Registry, d Deps) {
	reg.Register(helpCommand(reg))
	if d.Workers != nil {
		reg.Register(workersCommand(d.Workers))
	}
	if d.Planner != nil {
		reg.Register(planCommand(d.Planner))
	}
	if d.Status != nil {
		reg.Register(statusCommand(d.Status))
	}
	if d.Events != nil {
		reg.Register(eventsCommand(d.Events))
	}
}

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "List all available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range reg.List() {
				fmt.Fprintf(&b, "  /%s: %s\n", c.Name, c.Description)
				if c.Usage != "" {
					fmt.Fprintf(&b, "    Usage: %s\n", c.Usage)
				}
			}
			b.WriteString("Anything else is answered by the workers.")
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

func workersCommand(lister WorkerLister) *Command {
	return &Command{
		Name:        "workers",
		Description: "List the workers the relay can call",
		Usage:       "/workers",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			workers := lister.List()
			if len(workers) == 0 {
				return &CommandResult{Content: "No workers registered."}, nil
			}
			var b strings.Builder
			b.WriteString("Registered workers:\n")
			for _, w := range workers {
				fmt.Fprintf(&b, "  [%s] %s (%s %s)\n", w.ID, w.Description, w.Transport, w.Address)
			}
			return &CommandResult{Content: b.String(), Data: workers}, nil
		},
	}
}

func planCommand(p Planner) *Command {
	return &Command{
		Name:        "plan",
		Description: "Show how a query would be routed without running it",
		Usage:       "/plan <query>",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			if args == "" {
				return &CommandResult{Content: "Usage: /plan <query>"}, nil
			}
			c := p.Classify(ctx, args)
			plan := p.Plan(ctx, args, c)

			var b strings.Builder
			fmt.Fprintf(&b, "Complexity: %s\n", c)
			fmt.Fprintf(&b, "Workers: %s (%s)\n", strings.Join(plan.Workers, ", "), plan.Mode)
			if plan.Rationale != "" {
				fmt.Fprintf(&b, "Rationale: %s\n", plan.Rationale)
			}
			if len(plan.Rejected) > 0 {
				fmt.Fprintf(&b, "Rejected: %s\n", strings.Join(plan.Rejected, ", "))
			}
			if plan.Fallback != "" {
				fmt.Fprintf(&b, "Fallback: %s\n", plan.Fallback)
			}
			return &CommandResult{Content: strings.TrimRight(b.String(), "\n"), Data: plan}, nil
		},
	}
}

func statusCommand(sp StatusProvider) *Command {
	return &Command{
		Name:        "status",
		Description: "Show chat adapter connection status",
		Usage:       "/status",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			statuses := sp.Status()
			if len(statuses) == 0 {
				return &CommandResult{Content: "No adapters registered."}, nil
			}
			var b strings.Builder
			b.WriteString("Adapter status:\n")
			for _, s := range statuses {
				state := "disconnected"
				if s.Connected {
					state = "connected"
				}
				fmt.Fprintf(&b, "  %s: %s", s.Platform, state)
				if s.Error != "" {
					fmt.Fprintf(&b, " (%s)", s.Error)
				}
				b.WriteString("\n")
			}
			return &CommandResult{Content: b.String(), Data: statuses}, nil
		},
	}
}

func eventsCommand(er EventReader) *Command {
	return &Command{
		Name:        "events",
		Description: "Show the most recent pipeline events",
		Usage:       "/events [n]",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			n := int64(10)
			if args != "" {
				v, err := strconv.ParseInt(args, 10, 64)
				if err != nil || v <= 0 {
					return &CommandResult{Content: "Usage: /events [n]"}, nil
				}
				n = v
			}
			events, err := er.Recent(ctx, n)
			if err != nil {
				return nil, fmt.Errorf("read events: %w", err)
			}
			if len(events) == 0 {
				return &CommandResult{Content: "No events recorded."}, nil
			}
			var b strings.Builder
			for _, ev := range events {
				fmt.Fprintf(&b, "%s %s %s\n", ev.Time.Format("15:04:05"), ev.RequestID, ev.Type)
			}
			return &CommandResult{Content: b.String(), Data: events}, nil
		},
	}
}
