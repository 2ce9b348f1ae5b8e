package orchestrator

import (
	"context"
	"strings"

	"github.com/nidhogg/nuka-relay/internal/oracle"
	"go.uber.org/zap"
)

const classifyPrompt = `Classify the user's request for a team of specialist workers.

Reply SIMPLE if one specialist can answer it with a single lookup or check.
Reply COMPLEX if it needs several specialists, several steps or a combination of results.

Reply with exactly one word: SIMPLE or COMPLEX.

Request: `

// Classify asks the oracle whether query is SIMPLE or COMPLEX. Any reply
// other than those two tokens, and any oracle failure, yields COMPLEX.
func (o *Orchestrator) Classify(ctx context.Context, query string) Complexity {
	reply, err := o.oracle.Complete(ctx, classifyPrompt+query)
	if err != nil {
		o.logger.Warn("classification failed, assuming complex",
			zap.String("kind", string(oracle.KindOf(err))), zap.Error(err))
		return Complex
	}
	c, ok := parseComplexity(reply)
	if !ok {
		o.logger.Warn("unrecognized classification, assuming complex",
			zap.String("kind", FallbackMalformed), zap.String("reply", truncate(reply, 80)))
		return Complex
	}
	return c
}

// parseComplexity accepts only the bare tokens, trimmed and case-folded.
func parseComplexity(reply string) (Complexity, bool) {
	s := strings.TrimSpace(reply)
	switch {
	case strings.EqualFold(s, string(Simple)):
		return Simple, true
	case strings.EqualFold(s, string(Complex)):
		return Complex, true
	}
	return Complex, false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
