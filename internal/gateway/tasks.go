package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tachikoma-run/tachikoma/internal/apperrors"
	"github.com/tachikoma-run/tachikoma/internal/gateway/middleware"
	"github.com/tachikoma-run/tachikoma/internal/orchestrator"
	"github.com/tachikoma-run/tachikoma/internal/planner"
)

// taskSubmitRequest is the POST /api/tasks and POST /api/execute body.
type taskSubmitRequest struct {
	Kind        string   `json:"kind"`
	Objective   string   `json:"objective"`
	Constraints []string `json:"constraints"`
	Priority    string   `json:"priority"`
	Complexity  string   `json:"complexity"`
}

func decodeTaskSubmit(r *http.Request) (taskSubmitRequest, error) {
	var req taskSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	return req, nil
}

func (g *Gateway) handleTasksCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		recs := g.list(100)
		out := make([]map[string]interface{}, 0, len(recs))
		for _, rec := range recs {
			out = append(out, summarize(rec))
		}
		middleware.WriteSuccess(w, r, http.StatusOK, out, nil)
	case http.MethodPost:
		req, err := decodeTaskSubmit(r)
		if err != nil {
			middleware.WriteError(w, r, apperrors.CodeReqInvalid, "invalid request body", nil)
			return
		}
		if req.Objective == "" {
			middleware.WriteError(w, r, apperrors.CodeReqValidation, "objective is required", nil)
			return
		}
		task := orchestrator.Task{
			ID:          uuid.NewString(),
			Kind:        req.Kind,
			Objective:   req.Objective,
			Constraints: req.Constraints,
			Priority:    planner.Priority(req.Priority),
			Complexity:  planner.Complexity(req.Complexity),
		}
		rec := g.runSynchronously(r.Context(), task)
		middleware.WriteSuccess(w, r, http.StatusAccepted, summarize(rec), nil)
	default:
		middleware.WriteError(w, r, apperrors.CodeReqInvalid, "method not allowed", nil)
	}
}

func (g *Gateway) handleTaskItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	if id == "" {
		middleware.WriteError(w, r, apperrors.CodeReqValidation, "task id is required", nil)
		return
	}
	switch r.Method {
	case http.MethodGet:
		rec, ok := g.get(id)
		if !ok {
			middleware.WriteError(w, r, apperrors.CodeResNotFound, "task not found", nil)
			return
		}
		middleware.WriteSuccess(w, r, http.StatusOK, summarize(rec), nil)
	case http.MethodPatch:
		rec, ok := g.get(id)
		if !ok {
			middleware.WriteError(w, r, apperrors.CodeResNotFound, "task not found", nil)
			return
		}
		var patch struct {
			Constraints []string `json:"constraints"`
		}
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			middleware.WriteError(w, r, apperrors.CodeReqInvalid, "invalid request body", nil)
			return
		}
		rec.Task.Constraints = patch.Constraints
		g.store(rec)
		middleware.WriteSuccess(w, r, http.StatusOK, summarize(rec), nil)
	case http.MethodDelete:
		if !g.delete(id) {
			middleware.WriteError(w, r, apperrors.CodeResNotFound, "task not found", nil)
			return
		}
		middleware.WriteSuccess(w, r, http.StatusOK, map[string]string{"id": id}, nil)
	default:
		middleware.WriteError(w, r, apperrors.CodeReqInvalid, "method not allowed", nil)
	}
}

func summarize(rec *TaskRecord) map[string]interface{} {
	out := map[string]interface{}{
		"id":        rec.ID,
		"objective": rec.Task.Objective,
		"startedAt": rec.StartedAt,
	}
	if rec.Result != nil {
		out["status"] = rec.Result.Status
		out["output"] = rec.Result.Output
		out["error"] = rec.Result.Error
		out["metrics"] = rec.Result.Metrics
	}
	return out
}
