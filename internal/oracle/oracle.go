// Package oracle exposes the LLM as a plain prompt-in, text-out decision
// service with typed failures.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/nuka-relay/internal/provider"
)

// Kind classifies an oracle failure.
type Kind string

const (
	KindUnavailable Kind = "ORACLE_UNAVAILABLE"
	KindTimeout     Kind = "ORACLE_TIMEOUT"
)

// Error is the only error type returned by Oracle implementations in this
// package.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the failure kind of err, defaulting to KindUnavailable.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnavailable
}

// Oracle completes a prompt.
type Oracle interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Func adapts a plain function to Oracle.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Options tune a router-backed oracle.
type Options struct {
	Role        string
	Model       string
	System      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// RouterOracle sends each prompt as a single user message through a
// provider.Router.
type RouterOracle struct {
	router *provider.Router
	opts   Options
}

// FromRouter builds an Oracle over the provider router.
func FromRouter(r *provider.Router, opts Options) *RouterOracle {
	return &RouterOracle{router: r, opts: opts}
}

func (o *RouterOracle) Complete(ctx context.Context, prompt string) (string, error) {
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	msgs := make([]provider.Message, 0, 2)
	if o.opts.System != "" {
		msgs = append(msgs, provider.Message{Role: "system", Content: o.opts.System})
	}
	msgs = append(msgs, provider.Message{Role: "user", Content: prompt})

	resp, err := o.router.Route(ctx, o.opts.Role, &provider.ChatRequest{
		Model:       o.opts.Model,
		Messages:    msgs,
		Temperature: o.opts.Temperature,
		MaxTokens:   o.opts.MaxTokens,
	})
	if err != nil {
		return "", classify(ctx, err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", &Error{Kind: KindUnavailable, Err: errors.New("empty completion")}
	}
	return resp.Content, nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindUnavailable, Err: fmt.Errorf("complete: %w", err)}
}
