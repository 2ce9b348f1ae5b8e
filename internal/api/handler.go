// Package api exposes the relay over HTTP: direct queries, dry-run
// planning, the worker directory, recent pipeline events, chat adapter
// status, the task envelope and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/nuka-relay/internal/command"
	"github.com/nidhogg/nuka-relay/internal/gateway"
	"github.com/nidhogg/nuka-relay/internal/orchestrator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Answerer runs the full pipeline for one query.
type Answerer interface {
	Handle(ctx context.Context, query string) *orchestrator.Result
}

// Options wires the handler's collaborators. Answerer and Workers are
// required; the rest switch their routes off (503) when nil.
type Options struct {
	Answerer     Answerer
	Planner      command.Planner
	Workers      command.WorkerLister
	Gateway      command.StatusProvider
	REST         *gateway.RESTAdapter
	Events       command.EventReader
	Gatherer     prometheus.Gatherer
	QueryTimeout time.Duration
	// PublicURL is advertised on the agent card.
	PublicURL string
}

// Handler holds HTTP handler dependencies.
type Handler struct {
	answerer     Answerer
	planner      command.Planner
	workers      command.WorkerLister
	gw           command.StatusProvider
	restGW       *gateway.RESTAdapter
	events       command.EventReader
	gatherer     prometheus.Gatherer
	queryTimeout time.Duration
	publicURL    string
	logger       *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(opts Options, logger *zap.Logger) *Handler {
	return &Handler{
		answerer:     opts.Answerer,
		planner:      opts.Planner,
		workers:      opts.Workers,
		gw:           opts.Gateway,
		restGW:       opts.REST,
		events:       opts.Events,
		gatherer:     opts.Gatherer,
		queryTimeout: opts.QueryTimeout,
		publicURL:    opts.PublicURL,
		logger:       logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/workers", h.listWorkers)
		r.Get("/workers/{id}", h.getWorker)

		r.Post("/query", h.query)
		r.Post("/plan", h.plan)

		r.Get("/events", h.recentEvents)

		if h.restGW != nil {
			r.Mount("/gateway/rest", h.restGW.Routes())
		}
		r.Get("/gateway/status", h.gatewayStatus)
	})

	r.Post("/task", h.handleTask)
	r.Get("/.well-known/agent.json", h.agentCard)

	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "nuka-relay",
		"workers": len(h.workers.List()),
	})
}

func (h *Handler) listWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.workers.List())
}

func (h *Handler) getWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, wk := range h.workers.List() {
		if wk.ID == id {
			writeJSON(w, http.StatusOK, wk)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "worker not found"})
}

type queryRequest struct {
	Query string `json:"query"`
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return "", false
	}
	q := strings.TrimSpace(req.Query)
	if q == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return "", false
	}
	return q, true
}

// query runs the pipeline. The pipeline never fails, so the status is
// always 200 once the body is valid; Answer.Source tells callers how the
// answer was produced.
func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	q, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if h.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.queryTimeout)
		defer cancel()
	}
	res := h.answerer.Handle(ctx, q)
	h.logger.Debug("api query answered",
		zap.String("request_id", res.RequestID),
		zap.String("source", string(res.Answer.Source)))
	writeJSON(w, http.StatusOK, res)
}

// plan classifies and plans without calling any worker.
func (h *Handler) plan(w http.ResponseWriter, r *http.Request) {
	if h.planner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "planner not configured"})
		return
	}
	q, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	c := h.planner.Classify(r.Context(), q)
	p := h.planner.Plan(r.Context(), q, c)
	writeJSON(w, http.StatusOK, map[string]any{
		"complexity": c,
		"plan":       p,
	})
}

const (
	defaultEventLimit = 20
	maxEventLimit     = 500
)

func (h *Handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event stream not configured"})
		return
	}
	limit := int64(defaultEventLimit)
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxEventLimit)
	}
	events, err := h.events.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("read events failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	if h.gw == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "gateway not initialized"})
		return
	}
	writeJSON(w, http.StatusOK, h.gw.Status())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
