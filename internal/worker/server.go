package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nidhogg/nuka-relay/internal/a2a"
	"go.uber.org/zap"
)

// Server exposes a Runtime over the task envelope, on HTTP and (through
// a2a.NewGRPCServer) on gRPC.
type Server struct {
	runtime *Runtime
	card    *a2a.AgentCard
	logger  *zap.Logger
}

// NewServer creates a server. url is advertised on the agent card.
func NewServer(rt *Runtime, url string, logger *zap.Logger) *Server {
	role := rt.Role()
	specs := rt.Tools().Specs()
	skills := make([]a2a.Skill, 0, len(specs))
	for _, s := range specs {
		skills = append(skills, a2a.Skill{ID: s.Name, Name: s.Name, Description: s.Description})
	}
	return &Server{
		runtime: rt,
		card:    a2a.NewCard(role.ID, role.Description, url, skills),
		logger:  logger,
	}
}

// HandleTask runs one query. Transport-level errors are never returned;
// every outcome is an envelope.
func (s *Server) HandleTask(ctx context.Context, req *a2a.TaskRequest) (*a2a.TaskResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return a2a.Failed(req.CorrelationID, "query is required"), nil
	}

	s.logger.Info("task received",
		zap.String("correlation_id", req.CorrelationID),
		zap.Int("query_len", len(query)))

	ans := s.runtime.Run(ctx, query)
	if ans.Failed {
		return a2a.Failed(req.CorrelationID, ans.Text), nil
	}

	s.logger.Info("task completed",
		zap.String("correlation_id", req.CorrelationID),
		zap.Bool("complete", ans.Complete),
		zap.Int("iterations", ans.Iterations))
	return a2a.Completed(req.CorrelationID, ans.Text)
}

// Routes builds the HTTP surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/task", s.handleTask)
	r.Get("/.well-known/agent.json", s.handleCard)
	r.Get("/api/health", s.handleHealth)
	return r
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	var req a2a.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, a2a.Failed("", "invalid request: "+err.Error()))
		return
	}
	resp, err := s.HandleTask(r.Context(), &req)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, a2a.Failed(req.CorrelationID, err.Error()))
		return
	}
	status := http.StatusOK
	if resp.Status == a2a.StatusFailed && strings.TrimSpace(req.Query) == "" {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.card)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	role := s.runtime.Role()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"worker": role.ID,
		"tools":  s.runtime.Tools().Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
