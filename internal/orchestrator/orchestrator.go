// Package orchestrator answers a query by classifying it, planning which
// workers to call, calling them and synthesizing their results.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-relay/internal/a2a"
	"github.com/nidhogg/nuka-relay/internal/oracle"
	"github.com/nidhogg/nuka-relay/internal/registry"
	"go.uber.org/zap"
)

// WorkerCaller invokes one worker. Implementations never fail; every
// outcome is a WorkerResult. *a2a.Client implements it.
type WorkerCaller interface {
	Call(ctx context.Context, workerID, query string) a2a.WorkerResult
}

// Options configure an Orchestrator. Events and Metrics are optional.
type Options struct {
	DefaultWorker string
	WorkerTimeout time.Duration
	Events        EventSink
	Metrics       *Metrics
}

// Orchestrator holds only read-only collaborators, so one instance serves
// any number of concurrent requests.
type Orchestrator struct {
	oracle        oracle.Oracle
	registry      *registry.Registry
	workers       WorkerCaller
	defaultWorker string
	workerTimeout time.Duration
	events        EventSink
	metrics       *Metrics
	logger        *zap.Logger
}

// New validates the options and builds an orchestrator.
func New(o oracle.Oracle, reg *registry.Registry, workers WorkerCaller, opts Options, logger *zap.Logger) (*Orchestrator, error) {
	if o == nil || reg == nil || workers == nil {
		return nil, fmt.Errorf("orchestrator: oracle, registry and worker caller are required")
	}
	if opts.DefaultWorker == "" {
		list := reg.List()
		if len(list) == 0 {
			return nil, fmt.Errorf("orchestrator: no workers registered")
		}
		opts.DefaultWorker = list[0].ID
	}
	if !reg.Has(opts.DefaultWorker) {
		return nil, fmt.Errorf("orchestrator: default worker %q is not registered", opts.DefaultWorker)
	}
	if opts.WorkerTimeout <= 0 {
		opts.WorkerTimeout = 60 * time.Second
	}
	if opts.Events == nil {
		opts.Events = nopSink{}
	}
	return &Orchestrator{
		oracle:        o,
		registry:      reg,
		workers:       workers,
		defaultWorker: opts.DefaultWorker,
		workerTimeout: opts.WorkerTimeout,
		events:        opts.Events,
		metrics:       opts.Metrics,
		logger:        logger,
	}, nil
}

// DefaultWorker returns the worker used for SIMPLE queries and fallbacks.
func (o *Orchestrator) DefaultWorker() string { return o.defaultWorker }

// Registry returns the worker registry the orchestrator plans against.
func (o *Orchestrator) Registry() *registry.Registry { return o.registry }

// Handle runs the whole pipeline once. It always returns a Result with an
// answer; no failure below it escapes as an error.
func (o *Orchestrator) Handle(ctx context.Context, query string) *Result {
	res := &Result{RequestID: uuid.NewString(), Stage: StageReceived}
	clock := newStageClock()
	log := o.logger.With(zap.String("request_id", res.RequestID))

	o.emit(ctx, res, EventQueryReceived, map[string]any{"query_len": len(query)})

	res.Complexity = o.Classify(ctx, query)
	o.metrics.observeRequest(res.Complexity)
	o.advance(ctx, res, clock, StageClassified, EventComplexityClassified,
		map[string]any{"complexity": string(res.Complexity)})

	res.Plan = o.Plan(ctx, query, res.Complexity)
	o.advance(ctx, res, clock, StagePlanned, EventPlanCreated, map[string]any{
		"workers":  res.Plan.Workers,
		"mode":     string(res.Plan.Mode),
		"fallback": res.Plan.Fallback,
	})

	o.advance(ctx, res, clock, StageExecuting, EventExecutionStarted, nil)
	res.Results = o.Execute(ctx, query, res.Plan)
	succeeded := 0
	for _, r := range res.Results {
		o.metrics.observeWorker(r)
		if r.OK {
			succeeded++
		}
	}
	o.emit(ctx, res, EventExecutionComplete, map[string]any{
		"succeeded": succeeded,
		"failed":    len(res.Results) - succeeded,
	})

	res.Answer = o.Synthesize(ctx, query, res.Plan, res.Results)
	o.metrics.observeSynthesis(res.Answer.Source)
	o.advance(ctx, res, clock, StageSynthesized, EventSynthesisComplete, map[string]any{
		"source": string(res.Answer.Source),
		"failed": res.Answer.Failed,
	})

	log.Info("request handled",
		zap.String("complexity", string(res.Complexity)),
		zap.Strings("workers", res.Plan.Workers),
		zap.String("source", string(res.Answer.Source)))
	return res
}

func (o *Orchestrator) advance(ctx context.Context, res *Result, clock *stageClock, to Stage, event string, fields map[string]any) {
	from, spent, err := clock.advance(to)
	if err != nil {
		o.logger.Error("stage transition", zap.String("request_id", res.RequestID), zap.Error(err))
		return
	}
	o.metrics.observeStage(from, spent.Seconds())
	res.Stage = to
	o.emit(ctx, res, event, fields)
}

func (o *Orchestrator) emit(ctx context.Context, res *Result, event string, fields map[string]any) {
	o.events.Emit(ctx, Event{
		RequestID: res.RequestID,
		Stage:     res.Stage,
		Type:      event,
		Time:      time.Now(),
		Fields:    fields,
	})
}
