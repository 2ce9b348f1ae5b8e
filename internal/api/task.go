package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nidhogg/nuka-relay/internal/a2a"
	"github.com/nidhogg/nuka-relay/internal/orchestrator"
	"go.uber.org/zap"
)

// HandleTask answers one envelope with the full pipeline, so another relay
// can register this one as a worker. Only a total failure is FAILED; a
// partial answer is COMPLETED with its note.
func (h *Handler) HandleTask(ctx context.Context, req *a2a.TaskRequest) (*a2a.TaskResponse, error) {
	q := strings.TrimSpace(req.Query)
	if q == "" {
		return a2a.Failed(req.CorrelationID, "query is required"), nil
	}
	res := h.answerer.Handle(ctx, q)
	h.logger.Info("task answered",
		zap.String("correlation_id", req.CorrelationID),
		zap.String("request_id", res.RequestID),
		zap.String("source", string(res.Answer.Source)))
	if res.Answer.Source == orchestrator.SourceFailure {
		return a2a.Failed(req.CorrelationID, res.Answer.Text), nil
	}
	return a2a.Completed(req.CorrelationID, res.Answer.Text)
}

func (h *Handler) handleTask(w http.ResponseWriter, r *http.Request) {
	var req a2a.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, a2a.Failed("", "invalid request: "+err.Error()))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, a2a.Failed(req.CorrelationID, "query is required"))
		return
	}
	resp, err := h.HandleTask(r.Context(), &req)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, a2a.Failed(req.CorrelationID, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// agentCard advertises one skill per registered worker.
func (h *Handler) agentCard(w http.ResponseWriter, r *http.Request) {
	workers := h.workers.List()
	skills := make([]a2a.Skill, 0, len(workers))
	for _, wk := range workers {
		skills = append(skills, a2a.Skill{ID: wk.ID, Name: wk.ID, Description: wk.Description, Tags: []string{"worker"}})
	}
	writeJSON(w, http.StatusOK, a2a.NewCard("relay",
		"Routes each request to the specialist workers best placed to answer it and combines their results.",
		h.publicURL, skills))
}
