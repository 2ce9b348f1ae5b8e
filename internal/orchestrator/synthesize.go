package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/nuka-relay/internal/a2a"
	"github.com/nidhogg/nuka-relay/internal/oracle"
	"go.uber.org/zap"
)

// Synthesize turns the worker results into one answer. A single-worker
// plan whose worker succeeded is answered directly; everything else goes
// through the oracle, with deterministic text when the oracle cannot help.
func (o *Orchestrator) Synthesize(ctx context.Context, query string, plan Plan, results []a2a.WorkerResult) Answer {
	var ok, failed []a2a.WorkerResult
	for _, r := range results {
		if r.OK {
			ok = append(ok, r)
		} else {
			failed = append(failed, r)
		}
	}
	failedIDs := workerIDs(failed)

	if len(plan.Workers) == 1 && len(results) == 1 && results[0].OK {
		return Answer{Text: results[0].Payload, Source: SourceDirect}
	}

	reply, err := o.oracle.Complete(ctx, synthesisPrompt(query, results))
	if err == nil && strings.TrimSpace(reply) != "" {
		text := strings.TrimSpace(reply)
		if missing := unmentioned(text, failedIDs); len(missing) > 0 {
			text += "\n\n" + fallbackNote(failed)
		}
		return Answer{Text: text, Source: SourceOracle, Failed: failedIDs}
	}
	if err != nil {
		o.logger.Warn("synthesis failed, concatenating results",
			zap.String("kind", string(oracle.KindOf(err))), zap.Error(err))
	} else {
		o.logger.Warn("empty synthesis, concatenating results")
	}

	if len(ok) == 0 {
		return Answer{Text: failureText(failed), Source: SourceFailure, Failed: failedIDs}
	}

	var b strings.Builder
	if len(failed) > 0 {
		b.WriteString(fallbackNote(failed))
		b.WriteString("\n\n")
	}
	for i, r := range ok {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s]\n%s", r.WorkerID, r.Payload)
	}
	return Answer{Text: b.String(), Source: SourceFallback, Failed: failedIDs}
}

func synthesisPrompt(query string, results []a2a.WorkerResult) string {
	var b strings.Builder
	b.WriteString("Combine the worker results below into one answer to the request. ")
	b.WriteString("If a worker failed, say which part of the request could not be covered.\n\n")
	b.WriteString("Request: ")
	b.WriteString(query)
	b.WriteString("\n\nResults:\n")
	for _, r := range results {
		if r.OK {
			fmt.Fprintf(&b, "\n[%s] COMPLETED\n%s\n", r.WorkerID, r.Payload)
		} else {
			fmt.Fprintf(&b, "\n[%s] FAILED (%s): %s\n", r.WorkerID, r.Category, r.Message)
		}
	}
	b.WriteString("\nAnswer:")
	return b.String()
}

// fallbackNote names the failed workers and their categories.
func fallbackNote(failed []a2a.WorkerResult) string {
	cats := make([]string, len(failed))
	for i, r := range failed {
		cats[i] = string(r.Category)
	}
	return fmt.Sprintf("Note: workers %s could not contribute (%s).",
		strings.Join(workerIDs(failed), ", "), strings.Join(cats, ", "))
}

func failureText(failed []a2a.WorkerResult) string {
	if len(failed) == 0 {
		return "All workers failed: no worker was called."
	}
	parts := make([]string, len(failed))
	for i, r := range failed {
		parts[i] = fmt.Sprintf("%s (%s: %s)", r.WorkerID, r.Category, r.Message)
	}
	return "All workers failed: " + strings.Join(parts, ", ")
}

func workerIDs(rs []a2a.WorkerResult) []string {
	if len(rs) == 0 {
		return nil
	}
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.WorkerID
	}
	return ids
}

func unmentioned(text string, ids []string) []string {
	var out []string
	for _, id := range ids {
		if !strings.Contains(text, id) {
			out = append(out, id)
		}
	}
	return out
}
