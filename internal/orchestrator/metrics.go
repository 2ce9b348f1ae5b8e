package orchestrator

import (
	"github.com/nidhogg/nuka-relay/internal/a2a"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the pipeline's Prometheus collectors.
type Metrics struct {
	requests  *prometheus.CounterVec
	workers   *prometheus.CounterVec
	synthesis *prometheus.CounterVec
	stages    *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Requests handled, by classified complexity.",
		}, []string{"complexity"}),
		workers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_worker_results_total",
			Help: "Worker results, by worker and outcome category (ok for success).",
		}, []string{"worker", "category"}),
		synthesis: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_synthesis_total",
			Help: "Final answers, by synthesis path.",
		}, []string{"source"}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}
	reg.MustRegister(m.requests, m.workers, m.synthesis, m.stages)
	return m
}

// The methods below accept a nil receiver so metrics stay optional.

func (m *Metrics) observeRequest(c Complexity) {
	if m != nil {
		m.requests.WithLabelValues(string(c)).Inc()
	}
}

func (m *Metrics) observeWorker(r a2a.WorkerResult) {
	if m == nil {
		return
	}
	cat := "ok"
	if !r.OK {
		cat = string(r.Category)
	}
	m.workers.WithLabelValues(r.WorkerID, cat).Inc()
}

func (m *Metrics) observeSynthesis(s Source) {
	if m != nil {
		m.synthesis.WithLabelValues(string(s)).Inc()
	}
}

func (m *Metrics) observeStage(s Stage, seconds float64) {
	if m != nil {
		m.stages.WithLabelValues(string(s)).Observe(seconds)
	}
}
