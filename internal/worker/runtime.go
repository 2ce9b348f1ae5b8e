package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/nuka-relay/internal/oracle"
	"go.uber.org/zap"
)

// DefaultMaxIterations bounds the decide/act loop when none is configured.
const DefaultMaxIterations = 10

// IncompleteMarker prefixes answers cut off by the iteration cap.
const IncompleteMarker = "[incomplete]"

// Answer is the result of one Run.
type Answer struct {
	Text       string `json:"text"`
	Complete   bool   `json:"complete"`
	Failed     bool   `json:"failed"`
	Iterations int    `json:"iterations"`
}

// Role is the fixed identity of a runtime.
type Role struct {
	ID            string
	Description   string
	Instructions  string
	MaxIterations int
}

// Runtime turns one query into one answer by alternating oracle decisions
// and tool calls. It holds no per-request state and serves concurrent runs.
type Runtime struct {
	role   Role
	oracle oracle.Oracle
	tools  *ToolRegistry
	logger *zap.Logger
}

func NewRuntime(role Role, o oracle.Oracle, tools *ToolRegistry, logger *zap.Logger) *Runtime {
	if role.MaxIterations <= 0 {
		role.MaxIterations = DefaultMaxIterations
	}
	return &Runtime{role: role, oracle: o, tools: tools, logger: logger.With(zap.String("worker", role.ID))}
}

func (r *Runtime) Role() Role           { return r.role }
func (r *Runtime) Tools() *ToolRegistry { return r.tools }

// Run executes the loop for query. It never returns an error: oracle
// failure yields a Failed answer, and hitting the cap yields an answer
// marked incomplete.
func (r *Runtime) Run(ctx context.Context, query string) Answer {
	var tr Transcript

	for i := 1; i <= r.role.MaxIterations; i++ {
		reply, err := r.oracle.Complete(ctx, r.prompt(query, tr))
		if err != nil {
			r.logger.Warn("oracle failed", zap.Int("iteration", i), zap.String("kind", string(oracle.KindOf(err))), zap.Error(err))
			return Answer{
				Text:       fmt.Sprintf("worker %s could not reach its oracle: %v", r.role.ID, err),
				Failed:     true,
				Iterations: i,
			}
		}

		d, err := ParseDecision(reply)
		if err != nil {
			r.logger.Debug("malformed decision", zap.Int("iteration", i), zap.Error(err))
			tr = append(tr, Step{Result: ToolResult{Error: err.Error()}})
			continue
		}
		if d.IsFinal() {
			r.logger.Debug("run complete", zap.Int("iterations", i), zap.Int("steps", len(tr)))
			return Answer{Text: d.Final, Complete: true, Iterations: i}
		}

		call := ToolCall{Tool: d.Tool, Arguments: d.Arguments}
		res := r.tools.Execute(ctx, call)
		if !res.OK {
			r.logger.Debug("tool failed", zap.String("tool", call.Tool), zap.String("error", res.Error))
		}
		tr = append(tr, Step{Decision: d, Call: &call, Result: res})
	}

	r.logger.Warn("iteration cap reached", zap.Int("max_iterations", r.role.MaxIterations))
	return Answer{Text: r.incomplete(tr), Iterations: r.role.MaxIterations}
}

func (r *Runtime) incomplete(tr Transcript) string {
	if p, ok := tr.LastSuccess(); ok {
		return IncompleteMarker + " " + renderPayload(p)
	}
	return fmt.Sprintf("%s no tool produced a result within %d steps", IncompleteMarker, r.role.MaxIterations)
}

// prompt rebuilds the full context for one turn.
func (r *Runtime) prompt(query string, tr Transcript) string {
	var b strings.Builder
	if r.role.Instructions != "" {
		b.WriteString(r.role.Instructions)
		b.WriteString("\n\n")
	}

	b.WriteString("Tools:\n")
	specs := r.tools.Specs()
	if len(specs) == 0 {
		b.WriteString("(none)\n")
	}
	for _, s := range specs {
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, s.Description)
		for _, name := range sortedKeys(s.Parameters) {
			fmt.Fprintf(&b, "    %s: %s\n", name, s.Parameters[name])
		}
	}

	b.WriteString(`
Reply with exactly one JSON object and nothing else.
To call a tool: {"thought": "...", "tool": "<name>", "arguments": {...}}
To answer:      {"thought": "...", "final": "<answer>"}
`)
	fmt.Fprintf(&b, "\nQuestion: %s\n", query)
	if len(tr) > 0 {
		b.WriteString("\nSteps so far:\n")
		b.WriteString(tr.Render())
	}
	return b.String()
}
