package worker

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nidhogg/nuka-relay/internal/a2a"
	"go.uber.org/zap"
)

// ToolServer serves a ToolRegistry over the task envelope so tools can
// live in their own process.
type ToolServer struct {
	tools  *ToolRegistry
	logger *zap.Logger
}

func NewToolServer(tools *ToolRegistry, logger *zap.Logger) *ToolServer {
	return &ToolServer{tools: tools, logger: logger}
}

// Routes exposes POST /tools/{name} and the tool catalog at GET /tools.
func (s *ToolServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/tools", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.tools.Specs())
	})
	r.Post("/tools/{name}", s.invoke)
	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "tools": s.tools.Len()})
	})
	return r
}

func (s *ToolServer) invoke(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req a2a.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, a2a.Failed("", "invalid request: "+err.Error()))
		return
	}
	if !s.tools.Has(name) {
		writeJSON(w, http.StatusNotFound, a2a.Failed(req.CorrelationID, "unknown tool: "+name))
		return
	}

	res := s.tools.Execute(r.Context(), ToolCall{Tool: name, Arguments: req.Arguments})
	if !res.OK {
		s.logger.Info("tool failed",
			zap.String("tool", name),
			zap.String("correlation_id", req.CorrelationID),
			zap.String("error", res.Error))
		writeJSON(w, http.StatusOK, a2a.Failed(req.CorrelationID, res.Error))
		return
	}

	resp, err := a2a.Completed(req.CorrelationID, res.Payload)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, a2a.Failed(req.CorrelationID, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
