package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nidhogg/nuka-relay/internal/a2a"
	"github.com/nidhogg/nuka-relay/internal/oracle"
	"github.com/nidhogg/nuka-relay/internal/registry"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type reply struct {
	text string
	err  error
}

// fakeOracle answers by prompt kind and counts calls.
type fakeOracle struct {
	classify, plan, synth reply
	calls                 atomic.Int32
}

func (f *fakeOracle) Complete(_ context.Context, prompt string) (string, error) {
	f.calls.Add(1)
	var r reply
	switch {
	case strings.HasPrefix(prompt, "Classify"):
		r = f.classify
	case strings.HasPrefix(prompt, "You coordinate"):
		r = f.plan
	default:
		r = f.synth
	}
	return r.text, r.err
}

type callerFunc func(ctx context.Context, id, query string) a2a.WorkerResult

func (f callerFunc) Call(ctx context.Context, id, query string) a2a.WorkerResult {
	return f(ctx, id, query)
}

// fixedCaller returns canned results by worker id.
func fixedCaller(results map[string]a2a.WorkerResult) callerFunc {
	return func(_ context.Context, id, _ string) a2a.WorkerResult {
		if r, ok := results[id]; ok {
			return r
		}
		return a2a.Failure(id, a2a.Unreachable, "unknown worker")
	}
}

var unavailable = &oracle.Error{Kind: oracle.KindUnavailable, Err: errors.New("connection refused")}

func newTestOrchestrator(t *testing.T, o oracle.Oracle, caller WorkerCaller, opts Options) *Orchestrator {
	t.Helper()
	reg, err := registry.New([]registry.Worker{
		{ID: "worker_1", Address: "http://w1", Description: "looks up contract records"},
		{ID: "worker_2", Address: "http://w2", Description: "checks records against business rules"},
		{ID: "worker_3", Address: "http://w3", Description: "summarizes findings"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if opts.WorkerTimeout == 0 {
		opts.WorkerTimeout = time.Second
	}
	orc, err := New(o, reg, caller, opts, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return orc
}

func TestNewRejectsUnknownDefaultWorker(t *testing.T) {
	reg, _ := registry.New([]registry.Worker{{ID: "worker_1", Address: "http://w1"}})
	_, err := New(&fakeOracle{}, reg, fixedCaller(nil), Options{DefaultWorker: "ghost"}, zap.NewNop())
	if err == nil {
		t.Fatal("expected error for unregistered default worker")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		reply reply
		want  Complexity
	}{
		{"simple", reply{text: "SIMPLE"}, Simple},
		{"trimmed lowercase", reply{text: "  simple\n"}, Simple},
		{"complex", reply{text: "Complex"}, Complex},
		{"trailing punctuation", reply{text: "SIMPLE."}, Complex},
		{"sentence", reply{text: "I think this is SIMPLE"}, Complex},
		{"empty", reply{text: ""}, Complex},
		{"oracle unavailable", reply{err: unavailable}, Complex},
		{"oracle timeout", reply{err: &oracle.Error{Kind: oracle.KindTimeout}}, Complex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orc := newTestOrchestrator(t, &fakeOracle{classify: tt.reply}, fixedCaller(nil), Options{})
			if got := orc.Classify(context.Background(), "q"); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPlanSimpleSkipsOracle(t *testing.T) {
	o := &fakeOracle{plan: reply{text: `{"workers":["worker_2"],"parallel":false}`}}
	orc := newTestOrchestrator(t, o, fixedCaller(nil), Options{})

	p := orc.Plan(context.Background(), "q", Simple)
	if len(p.Workers) != 1 || p.Workers[0] != "worker_1" || p.Mode != Sequential {
		t.Errorf("unexpected plan %+v", p)
	}
	if n := o.calls.Load(); n != 0 {
		t.Errorf("expected no oracle calls, got %d", n)
	}
}

func TestPlanComplex(t *testing.T) {
	o := &fakeOracle{plan: reply{text: `{"workers":["worker_2","worker_1","worker_2"],"parallel":true,"rationale":"both"}`}}
	orc := newTestOrchestrator(t, o, fixedCaller(nil), Options{})

	p := orc.Plan(context.Background(), "q", Complex)
	if p.Mode != Parallel || p.Fallback != "" || p.Rationale != "both" {
		t.Errorf("unexpected plan %+v", p)
	}
	if strings.Join(p.Workers, ",") != "worker_2,worker_1" {
		t.Errorf("workers = %v, want duplicates collapsed in order", p.Workers)
	}
}

func TestPlanFiltersUnknownWorkers(t *testing.T) {
	o := &fakeOracle{plan: reply{text: `{"workers":["worker_3","ghost"],"parallel":false,"rationale":""}`}}
	orc := newTestOrchestrator(t, o, fixedCaller(nil), Options{})

	p := orc.Plan(context.Background(), "q", Complex)
	if strings.Join(p.Workers, ",") != "worker_3" {
		t.Errorf("workers = %v", p.Workers)
	}
	if len(p.Rejected) != 1 || p.Rejected[0] != "ghost" {
		t.Errorf("rejected = %v", p.Rejected)
	}
}

func TestPlanAllUnknownFallsBackToDefault(t *testing.T) {
	o := &fakeOracle{plan: reply{text: `{"workers":["ghost","phantom"],"parallel":true}`}}
	orc := newTestOrchestrator(t, o, fixedCaller(nil), Options{DefaultWorker: "worker_2"})

	p := orc.Plan(context.Background(), "q", Complex)
	if strings.Join(p.Workers, ",") != "worker_2" || p.Mode != Sequential {
		t.Errorf("expected default plan, got %+v", p)
	}
	if p.Fallback != FallbackEmptyAfterFilter {
		t.Errorf("fallback = %q", p.Fallback)
	}
	if len(p.Rejected) != 2 {
		t.Errorf("rejected = %v", p.Rejected)
	}
}

func TestPlanFallbacks(t *testing.T) {
	tests := []struct {
		name  string
		reply reply
		want  string
	}{
		{"prose", reply{text: "Use worker_1 and worker_2."}, FallbackMalformed},
		{"code fence", reply{text: "```json\n{\"workers\":[\"worker_1\"],\"parallel\":false}\n```"}, FallbackMalformed},
		{"trailing text", reply{text: `{"workers":["worker_1"],"parallel":false} done`}, FallbackMalformed},
		{"two objects", reply{text: `{"workers":["worker_1"],"parallel":false}{}`}, FallbackMalformed},
		{"missing parallel", reply{text: `{"workers":["worker_1"]}`}, FallbackMalformed},
		{"missing workers", reply{text: `{"parallel":true}`}, FallbackMalformed},
		{"unknown key", reply{text: `{"workers":["worker_1"],"parallel":false,"order":1}`}, FallbackMalformed},
		{"wrong type", reply{text: `{"workers":"worker_1","parallel":false}`}, FallbackMalformed},
		{"empty workers", reply{text: `{"workers":[],"parallel":false}`}, FallbackEmpty},
		{"oracle unavailable", reply{err: unavailable}, FallbackOracleUnavailable},
		{"oracle timeout", reply{err: &oracle.Error{Kind: oracle.KindTimeout}}, FallbackOracleTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orc := newTestOrchestrator(t, &fakeOracle{plan: tt.reply}, fixedCaller(nil), Options{})
			p := orc.Plan(context.Background(), "q", Complex)
			if p.Fallback != tt.want {
				t.Errorf("fallback = %q, want %q", p.Fallback, tt.want)
			}
			if strings.Join(p.Workers, ",") != "worker_1" || p.Mode != Sequential {
				t.Errorf("expected default plan, got %+v", p)
			}
		})
	}
}

func TestPlanPromptListsWorkers(t *testing.T) {
	orc := newTestOrchestrator(t, &fakeOracle{}, fixedCaller(nil), Options{})
	prompt := orc.planPrompt("check contract 7")
	for _, want := range []string{
		"- worker_1: looks up contract records",
		"- worker_2: checks records against business rules",
		"Request: check contract 7",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestExecuteParallelKeepsPlanOrderOnTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	caller := callerFunc(func(ctx context.Context, id, _ string) a2a.WorkerResult {
		switch id {
		case "worker_1":
			time.Sleep(30 * time.Millisecond)
			return a2a.Success(id, "A")
		case "worker_2":
			<-release // ignores ctx
			return a2a.Success(id, "too late")
		default:
			return a2a.Success(id, "C")
		}
	})
	orc := newTestOrchestrator(t, &fakeOracle{}, caller, Options{WorkerTimeout: 150 * time.Millisecond})
	plan := Plan{Workers: []string{"worker_1", "worker_2", "worker_3"}, Mode: Parallel}

	start := time.Now()
	got := orc.Execute(context.Background(), "q", plan)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("execute took %s, abandoned call blocked completion", elapsed)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
	if got[0] != a2a.Success("worker_1", "A") {
		t.Errorf("result 0 = %+v", got[0])
	}
	if got[1].WorkerID != "worker_2" || got[1].OK || got[1].Category != a2a.Timeout {
		t.Errorf("result 1 = %+v, want worker_2 TIMEOUT", got[1])
	}
	if got[2] != a2a.Success("worker_3", "C") {
		t.Errorf("result 2 = %+v", got[2])
	}
}

func TestExecuteParallelRunsConcurrently(t *testing.T) {
	caller := callerFunc(func(_ context.Context, id, _ string) a2a.WorkerResult {
		time.Sleep(200 * time.Millisecond)
		return a2a.Success(id, id)
	})
	orc := newTestOrchestrator(t, &fakeOracle{}, caller, Options{})
	plan := Plan{Workers: []string{"worker_1", "worker_2", "worker_3"}, Mode: Parallel}

	start := time.Now()
	orc.Execute(context.Background(), "q", plan)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("parallel execute took %s, calls were serialized", elapsed)
	}
}

func TestExecuteSequentialOrderAndContinuation(t *testing.T) {
	var mu sync.Mutex
	var order []string
	caller := callerFunc(func(_ context.Context, id, _ string) a2a.WorkerResult {
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
		if id == "worker_3" {
			return a2a.Failure(id, a2a.WorkerError, "no such table")
		}
		return a2a.Success(id, "ok "+id)
	})
	orc := newTestOrchestrator(t, &fakeOracle{}, caller, Options{})
	plan := Plan{Workers: []string{"worker_3", "worker_1", "worker_2"}, Mode: Sequential}

	got := orc.Execute(context.Background(), "q", plan)
	if strings.Join(order, ",") != "worker_3,worker_1,worker_2" {
		t.Errorf("call order = %v", order)
	}
	if got[0].Category != a2a.WorkerError || !got[1].OK || !got[2].OK {
		t.Errorf("unexpected results %+v", got)
	}
}

func TestExecuteIdempotent(t *testing.T) {
	caller := fixedCaller(map[string]a2a.WorkerResult{
		"worker_1": a2a.Success("worker_1", "A"),
		"worker_2": a2a.Failure("worker_2", a2a.MalformedResponse, "bad envelope"),
	})
	orc := newTestOrchestrator(t, &fakeOracle{}, caller, Options{})
	plan := Plan{Workers: []string{"worker_1", "worker_2"}, Mode: Parallel}

	first := orc.Execute(context.Background(), "q", plan)
	second := orc.Execute(context.Background(), "q", plan)
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("result %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestSynthesizeDirect(t *testing.T) {
	o := &fakeOracle{synth: reply{text: "should not be used"}}
	orc := newTestOrchestrator(t, o, fixedCaller(nil), Options{})
	plan := Plan{Workers: []string{"worker_1"}, Mode: Sequential}

	ans := orc.Synthesize(context.Background(), "q", plan, []a2a.WorkerResult{a2a.Success("worker_1", "  42\n")})
	if ans.Text != "  42\n" || ans.Source != SourceDirect {
		t.Errorf("unexpected answer %+v", ans)
	}
	if n := o.calls.Load(); n != 0 {
		t.Errorf("expected no oracle calls, got %d", n)
	}
}

func TestSynthesizeOracle(t *testing.T) {
	o := &fakeOracle{synth: reply{text: "Contract 7 is valid.\n"}}
	orc := newTestOrchestrator(t, o, fixedCaller(nil), Options{})
	plan := Plan{Workers: []string{"worker_1", "worker_2"}, Mode: Parallel}
	results := []a2a.WorkerResult{a2a.Success("worker_1", "record"), a2a.Success("worker_2", "valid")}

	ans := orc.Synthesize(context.Background(), "q", plan, results)
	if ans.Text != "Contract 7 is valid." || ans.Source != SourceOracle || len(ans.Failed) != 0 {
		t.Errorf("unexpected answer %+v", ans)
	}
}

func TestSynthesizeOracleNotesUnmentionedFailures(t *testing.T) {
	o := &fakeOracle{synth: reply{text: "Contract 7 exists."}}
	orc := newTestOrchestrator(t, o, fixedCaller(nil), Options{})
	plan := Plan{Workers: []string{"worker_1", "worker_2"}, Mode: Parallel}
	results := []a2a.WorkerResult{
		a2a.Success("worker_1", "record"),
		a2a.Failure("worker_2", a2a.Timeout, "no response within 1s"),
	}

	ans := orc.Synthesize(context.Background(), "q", plan, results)
	want := "Contract 7 exists.\n\nNote: workers worker_2 could not contribute (TIMEOUT)."
	if ans.Text != want {
		t.Errorf("got %q, want %q", ans.Text, want)
	}
	if len(ans.Failed) != 1 || ans.Failed[0] != "worker_2" {
		t.Errorf("failed = %v", ans.Failed)
	}
}

func TestSynthesizeSingleFailedWorkerUsesOracle(t *testing.T) {
	o := &fakeOracle{synth: reply{text: "worker_1 could not find the record."}}
	orc := newTestOrchestrator(t, o, fixedCaller(nil), Options{})
	plan := Plan{Workers: []string{"worker_1"}, Mode: Sequential}

	ans := orc.Synthesize(context.Background(), "q", plan, []a2a.WorkerResult{
		a2a.Failure("worker_1", a2a.WorkerError, "not found"),
	})
	if ans.Source != SourceOracle || o.calls.Load() != 1 {
		t.Errorf("expected oracle synthesis, got %+v", ans)
	}
}

func TestSynthesizeFallbackConcatenation(t *testing.T) {
	for name, r := range map[string]reply{"unavailable": {err: unavailable}, "empty reply": {text: "  "}} {
		t.Run(name, func(t *testing.T) {
			orc := newTestOrchestrator(t, &fakeOracle{synth: r}, fixedCaller(nil), Options{})
			plan := Plan{Workers: []string{"worker_1", "worker_2", "worker_3"}, Mode: Parallel}
			results := []a2a.WorkerResult{
				a2a.Success("worker_1", "record 7"),
				a2a.Failure("worker_2", a2a.Unreachable, "connection refused"),
				a2a.Success("worker_3", "summary"),
			}

			ans := orc.Synthesize(context.Background(), "q", plan, results)
			want := "Note: workers worker_2 could not contribute (UNREACHABLE).\n\n" +
				"[worker_1]\nrecord 7\n\n[worker_3]\nsummary"
			if ans.Text != want {
				t.Errorf("got %q, want %q", ans.Text, want)
			}
			if ans.Source != SourceFallback {
				t.Errorf("source = %s", ans.Source)
			}
		})
	}
}

func TestSynthesizeTotalFailure(t *testing.T) {
	orc := newTestOrchestrator(t, &fakeOracle{synth: reply{err: unavailable}}, fixedCaller(nil), Options{})
	plan := Plan{Workers: []string{"worker_1", "worker_2", "worker_3"}, Mode: Parallel}
	results := []a2a.WorkerResult{
		a2a.Failure("worker_1", a2a.Unreachable, "connection refused"),
		a2a.Failure("worker_2", a2a.Timeout, "no response within 1s"),
		a2a.Failure("worker_3", a2a.MalformedResponse, "missing status"),
	}

	ans := orc.Synthesize(context.Background(), "q", plan, results)
	if ans.Source != SourceFailure {
		t.Errorf("source = %s", ans.Source)
	}
	if !strings.HasPrefix(ans.Text, "All workers failed: ") {
		t.Errorf("text = %q", ans.Text)
	}
	for _, cat := range []a2a.Category{a2a.Unreachable, a2a.Timeout, a2a.MalformedResponse} {
		if !strings.Contains(ans.Text, string(cat)) {
			t.Errorf("text %q does not mention %s", ans.Text, cat)
		}
	}
	if len(ans.Failed) != 3 {
		t.Errorf("failed = %v", ans.Failed)
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(_ context.Context, ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func TestHandleSimpleLookup(t *testing.T) {
	o := &fakeOracle{classify: reply{text: "SIMPLE"}}
	sink := &recordingSink{}
	reg := prometheus.NewRegistry()
	caller := fixedCaller(map[string]a2a.WorkerResult{"worker_1": a2a.Success("worker_1", "42")})
	orc := newTestOrchestrator(t, o, caller, Options{Events: sink, Metrics: NewMetrics(reg)})

	res := orc.Handle(context.Background(), "simple lookup")

	if res.Complexity != Simple {
		t.Errorf("complexity = %s", res.Complexity)
	}
	if strings.Join(res.Plan.Workers, ",") != "worker_1" || res.Plan.Mode != Sequential {
		t.Errorf("plan = %+v", res.Plan)
	}
	if res.Answer.Text != "42" {
		t.Errorf("answer = %q, want 42", res.Answer.Text)
	}
	if res.Stage != StageSynthesized {
		t.Errorf("stage = %s", res.Stage)
	}
	if res.RequestID == "" {
		t.Error("missing request id")
	}
	if n := o.calls.Load(); n != 1 {
		t.Errorf("expected only the classification call, got %d", n)
	}

	var types []string
	for _, ev := range sink.events {
		if ev.RequestID != res.RequestID {
			t.Errorf("event %s has request id %q", ev.Type, ev.RequestID)
		}
		types = append(types, ev.Type)
	}
	want := []string{
		EventQueryReceived, EventComplexityClassified, EventPlanCreated,
		EventExecutionStarted, EventExecutionComplete, EventSynthesisComplete,
	}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", types, want)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, mf := range families {
		seen[mf.GetName()] = true
	}
	for _, name := range []string{"relay_requests_total", "relay_worker_results_total", "relay_synthesis_total", "relay_stage_duration_seconds"} {
		if !seen[name] {
			t.Errorf("metric %s not recorded", name)
		}
	}
}

func TestHandleNeverFails(t *testing.T) {
	o := &fakeOracle{classify: reply{err: unavailable}, plan: reply{err: unavailable}, synth: reply{err: unavailable}}
	caller := fixedCaller(map[string]a2a.WorkerResult{
		"worker_1": a2a.Failure("worker_1", a2a.Unreachable, "connection refused"),
	})
	orc := newTestOrchestrator(t, o, caller, Options{})

	res := orc.Handle(context.Background(), "anything")
	if res.Complexity != Complex || res.Plan.Fallback != FallbackOracleUnavailable {
		t.Errorf("unexpected pipeline %+v", res)
	}
	if res.Answer.Source != SourceFailure || !strings.Contains(res.Answer.Text, "UNREACHABLE") {
		t.Errorf("answer = %+v", res.Answer)
	}
}

func TestTransition(t *testing.T) {
	if err := Transition(StageReceived, StageClassified); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := Transition(StageReceived, StagePlanned); err == nil {
		t.Error("expected error skipping a stage")
	}
	if err := Transition(StageSynthesized, StageReceived); err == nil {
		t.Error("expected error leaving terminal stage")
	}

	c := newStageClock()
	for _, s := range []Stage{StageClassified, StagePlanned, StageExecuting, StageSynthesized} {
		if _, _, err := c.advance(s); err != nil {
			t.Fatalf("advance to %s: %v", s, err)
		}
	}
	if _, _, err := c.advance(StageClassified); err == nil {
		t.Error("expected error revisiting a stage")
	}
}
