package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nidhogg/nuka-relay/internal/oracle"
	"go.uber.org/zap"
)

// DefaultPlan is the single-worker plan used for SIMPLE queries and for
// every planning fallback.
func (o *Orchestrator) DefaultPlan(fallback string) Plan {
	return Plan{Workers: []string{o.defaultWorker}, Mode: Sequential, Fallback: fallback}
}

// Plan picks the workers for query. SIMPLE queries get the default plan
// without consulting the oracle.
func (o *Orchestrator) Plan(ctx context.Context, query string, c Complexity) Plan {
	if c == Simple {
		return o.DefaultPlan("")
	}

	reply, err := o.oracle.Complete(ctx, o.planPrompt(query))
	if err != nil {
		kind := oracle.KindOf(err)
		o.logger.Warn("planning failed, using default plan", zap.String("kind", string(kind)), zap.Error(err))
		if kind == oracle.KindTimeout {
			return o.DefaultPlan(FallbackOracleTimeout)
		}
		return o.DefaultPlan(FallbackOracleUnavailable)
	}

	p, err := parsePlan(reply)
	if err != nil {
		o.logger.Warn("malformed plan, using default plan",
			zap.Error(err), zap.String("reply", truncate(reply, 120)))
		return o.DefaultPlan(FallbackMalformed)
	}
	if len(p.Workers) == 0 {
		return o.DefaultPlan(FallbackEmpty)
	}

	var kept, rejected []string
	seen := make(map[string]bool, len(p.Workers))
	for _, id := range p.Workers {
		if seen[id] {
			continue
		}
		seen[id] = true
		if !o.registry.Has(id) {
			rejected = append(rejected, id)
			continue
		}
		kept = append(kept, id)
	}
	if len(rejected) > 0 {
		o.logger.Warn("plan names unregistered workers", zap.Strings("rejected", rejected))
	}
	if len(kept) == 0 {
		fb := o.DefaultPlan(FallbackEmptyAfterFilter)
		fb.Rejected = rejected
		return fb
	}

	p.Workers = kept
	p.Rejected = rejected
	return p
}

func (o *Orchestrator) planPrompt(query string) string {
	var b strings.Builder
	b.WriteString("You coordinate a team of specialist workers. Decide which workers should handle the request.\n\nWorkers:\n")
	for _, w := range o.registry.List() {
		fmt.Fprintf(&b, "- %s: %s\n", w.ID, w.Description)
	}
	b.WriteString(`
Reply with exactly one JSON object and nothing else:
{"workers": ["<worker id>", ...], "parallel": true|false, "rationale": "<one sentence>"}

Use "parallel": true when the workers can run independently; false runs them in the listed order.

Request: `)
	b.WriteString(query)
	return b.String()
}

type planReply struct {
	Workers   *[]string `json:"workers"`
	Parallel  *bool     `json:"parallel"`
	Rationale string    `json:"rationale"`
}

var errMalformedPlan = errors.New(FallbackMalformed)

// parsePlan accepts exactly one JSON object with required "workers" and
// "parallel" keys and an optional "rationale". Prose, code fences, unknown
// keys and trailing data are rejected.
func parsePlan(reply string) (Plan, error) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(reply)))
	dec.DisallowUnknownFields()

	var raw planReply
	if err := dec.Decode(&raw); err != nil {
		return Plan{}, fmt.Errorf("%w: %v", errMalformedPlan, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Plan{}, fmt.Errorf("%w: trailing data", errMalformedPlan)
	}
	if raw.Workers == nil || raw.Parallel == nil {
		return Plan{}, fmt.Errorf("%w: workers and parallel are required", errMalformedPlan)
	}

	p := Plan{Workers: *raw.Workers, Mode: Sequential, Rationale: raw.Rationale}
	if *raw.Parallel {
		p.Mode = Parallel
	}
	return p, nil
}
