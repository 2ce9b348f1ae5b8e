package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Event types emitted over a request's life.
const (
	EventQueryReceived        = "QUERY_RECEIVED"
	EventComplexityClassified = "COMPLEXITY_CLASSIFIED"
	EventPlanCreated          = "PLAN_CREATED"
	EventExecutionStarted     = "EXECUTION_STARTED"
	EventExecutionComplete    = "EXECUTION_COMPLETE"
	EventSynthesisComplete    = "SYNTHESIS_COMPLETE"
)

// Event is one structured pipeline event.
type Event struct {
	RequestID string         `json:"request_id"`
	Stage     Stage          `json:"stage"`
	Type      string         `json:"type"`
	Time      time.Time      `json:"time"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// EventSink receives pipeline events. Implementations must be safe for
// concurrent use and must not block the pipeline on failure.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// LogSink writes events to a zap logger.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Emit(_ context.Context, ev Event) {
	fields := make([]zap.Field, 0, len(ev.Fields)+3)
	fields = append(fields,
		zap.String("request_id", ev.RequestID),
		zap.String("stage", string(ev.Stage)),
		zap.String("event", ev.Type))
	for k, v := range ev.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	s.Logger.Info("pipeline event", fields...)
}

// MultiSink fans an event out to every sink.
type MultiSink []EventSink

func (m MultiSink) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Emit(ctx, ev)
	}
}

type nopSink struct{}

func (nopSink) Emit(context.Context, Event) {}
