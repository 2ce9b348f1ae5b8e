package orchestrator

import (
	"github.com/nidhogg/nuka-relay/internal/a2a"
)

// Complexity is the classification of a query.
type Complexity string

const (
	Simple  Complexity = "SIMPLE"
	Complex Complexity = "COMPLEX"
)

// Mode defines how the workers of a plan are dispatched.
type Mode string

const (
	Sequential Mode = "SEQUENTIAL"
	Parallel   Mode = "PARALLEL"
)

// Reasons recorded in Plan.Fallback when the default plan is substituted.
const (
	FallbackOracleUnavailable = "ORACLE_UNAVAILABLE"
	FallbackOracleTimeout     = "ORACLE_TIMEOUT"
	FallbackMalformed         = "ORACLE_MALFORMED_OUTPUT"
	FallbackEmpty             = "PLAN_EMPTY"
	FallbackEmptyAfterFilter  = "PLAN_EMPTY_AFTER_FILTERING"
)

// Plan lists the workers to call, in order, and how to dispatch them.
// Rationale, Rejected and Fallback are diagnostic only.
type Plan struct {
	Workers   []string `json:"workers"`
	Mode      Mode     `json:"mode"`
	Rationale string   `json:"rationale,omitempty"`
	Rejected  []string `json:"rejected,omitempty"`
	Fallback  string   `json:"fallback,omitempty"`
}

// Source records which synthesis path produced an answer.
type Source string

const (
	SourceDirect   Source = "direct"
	SourceOracle   Source = "oracle"
	SourceFallback Source = "fallback"
	SourceFailure  Source = "failure"
)

// Answer is the final answer for one request.
type Answer struct {
	Text   string   `json:"text"`
	Source Source   `json:"source"`
	Failed []string `json:"failed,omitempty"`
}

// Result is everything Handle produced for one request.
type Result struct {
	RequestID  string             `json:"request_id"`
	Complexity Complexity         `json:"complexity"`
	Plan       Plan               `json:"plan"`
	Results    []a2a.WorkerResult `json:"results"`
	Answer     Answer             `json:"answer"`
	Stage      Stage              `json:"stage"`
}
