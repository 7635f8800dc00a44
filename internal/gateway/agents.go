package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/tachikoma-run/tachikoma/internal/apperrors"
	"github.com/tachikoma-run/tachikoma/internal/gateway/middleware"
	"github.com/tachikoma-run/tachikoma/internal/pool"
)

func (g *Gateway) handleAgentsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		middleware.WriteSuccess(w, r, http.StatusOK, g.pool.Workers(), nil)
	case http.MethodPost:
		var req struct {
			ID           string   `json:"id"`
			Capabilities []string `json:"capabilities"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
			middleware.WriteError(w, r, apperrors.CodeReqValidation, "worker id is required", nil)
			return
		}
		if !g.pool.Register(pool.Worker{ID: req.ID, Capabilities: req.Capabilities, State: pool.WorkerIdle}) {
			middleware.WriteError(w, r, apperrors.CodeReqInvalid, "worker could not be registered (duplicate id or pool full)", nil)
			return
		}
		middleware.WriteSuccess(w, r, http.StatusCreated, map[string]string{"id": req.ID}, nil)
	default:
		middleware.WriteError(w, r, apperrors.CodeReqInvalid, "method not allowed", nil)
	}
}

func (g *Gateway) handleAgentItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	id, statusSuffix := rest, false
	if strings.HasSuffix(rest, "/status") {
		id = strings.TrimSuffix(rest, "/status")
		statusSuffix = true
	}
	if id == "" {
		middleware.WriteError(w, r, apperrors.CodeReqValidation, "agent id is required", nil)
		return
	}

	if statusSuffix {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, r, apperrors.CodeReqInvalid, "method not allowed", nil)
			return
		}
		for _, w2 := range g.pool.Workers() {
			if w2.ID == id {
				middleware.WriteSuccess(w, r, http.StatusOK, map[string]interface{}{"state": w2.State, "load": w2.Load}, nil)
				return
			}
		}
		middleware.WriteError(w, r, apperrors.CodeResNotFound, "agent not found", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		for _, w2 := range g.pool.Workers() {
			if w2.ID == id {
				middleware.WriteSuccess(w, r, http.StatusOK, w2, nil)
				return
			}
		}
		middleware.WriteError(w, r, apperrors.CodeResNotFound, "agent not found", nil)
	case http.MethodPatch:
		var req struct {
			State string     `json:"state"`
			Load  *pool.Load `json:"load"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, r, apperrors.CodeReqInvalid, "invalid request body", nil)
			return
		}
		if !g.pool.UpdateWorkerStatus(id, pool.WorkerState(req.State), req.Load) {
			middleware.WriteError(w, r, apperrors.CodeResNotFound, "agent not found", nil)
			return
		}
		middleware.WriteSuccess(w, r, http.StatusOK, map[string]string{"id": id}, nil)
	case http.MethodDelete:
		if !g.pool.Unregister(id) {
			middleware.WriteError(w, r, apperrors.CodeResNotFound, "agent not found", nil)
			return
		}
		middleware.WriteSuccess(w, r, http.StatusOK, map[string]string{"id": id}, nil)
	default:
		middleware.WriteError(w, r, apperrors.CodeReqInvalid, "method not allowed", nil)
	}
}
