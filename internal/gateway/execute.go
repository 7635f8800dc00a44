package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tachikoma-run/tachikoma/internal/apperrors"
	"github.com/tachikoma-run/tachikoma/internal/gateway/middleware"
	"github.com/tachikoma-run/tachikoma/internal/orchestrator"
	"github.com/tachikoma-run/tachikoma/internal/planner"
)

// handleExecute runs a task to completion and answers 200 with its result.
// POST /api/tasks runs its task to completion the same way and answers 202.
func (g *Gateway) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		middleware.WriteError(w, r, apperrors.CodeReqInvalid, "method not allowed", nil)
		return
	}
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
	middleware.WriteSuccess(w, r, http.StatusOK, summarize(rec), nil)
}

// handleExecuteTool invokes a named tool endpoint through the same
// allow-listed outbound proxy the explicit /proxy route uses.
func (g *Gateway) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		middleware.WriteError(w, r, apperrors.CodeReqInvalid, "method not allowed", nil)
		return
	}
	var req struct {
		Tool string          `json:"tool"`
		Body json.RawMessage `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Tool == "" {
		middleware.WriteError(w, r, apperrors.CodeReqValidation, "tool name is required", nil)
		return
	}
	endpoint, ok := g.tools[req.Tool]
	if !ok {
		middleware.WriteError(w, r, apperrors.CodeResNotFound, fmt.Sprintf("unknown tool %q", req.Tool), nil)
		return
	}
	result, gerr := g.proxy.Do(r.Context(), middleware.ProxyRequest{
		TargetURL: endpoint.URL,
		Method:    endpoint.Method,
		Headers:   map[string]string{"Content-Type": "application/json"},
		Body:      req.Body,
		Timeout:   30 * time.Second,
	})
	if gerr != nil {
		middleware.WriteError(w, r, gerr.Code, gerr.Error(), nil)
		return
	}
	middleware.WriteSuccess(w, r, http.StatusOK, map[string]interface{}{
		"status": result.Status,
		"body":   json.RawMessage(result.Body),
	}, nil)
}

// handleExecuteProxy is the explicit outbound-proxy route, invoked
// directly rather than as part of an inline pipeline.
func (g *Gateway) handleExecuteProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		middleware.WriteError(w, r, apperrors.CodeReqInvalid, "method not allowed", nil)
		return
	}
	var req middleware.ProxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TargetURL == "" {
		middleware.WriteError(w, r, apperrors.CodeReqValidation, "targetUrl is required", nil)
		return
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	result, gerr := g.proxy.Do(r.Context(), req)
	if gerr != nil {
		middleware.WriteError(w, r, gerr.Code, gerr.Error(), nil)
		return
	}
	middleware.WriteSuccess(w, r, http.StatusOK, result, nil)
}

// handleExecuteMCP is a deliberate non-implementation: there is no MCP
// client library to build a real one on, so the route reports itself
// unavailable rather than fabricate a client.
func (g *Gateway) handleExecuteMCP(w http.ResponseWriter, r *http.Request) {
	middleware.WriteError(w, r, apperrors.CodeSrvUnavailable, "mcp execution is not available on this deployment", nil)
}

func (g *Gateway) handleExecuteHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		middleware.WriteError(w, r, apperrors.CodeReqInvalid, "method not allowed", nil)
		return
	}
	recs := g.list(100)
	out := make([]map[string]interface{}, 0, len(recs))
	for _, rec := range recs {
		out = append(out, summarize(rec))
	}
	middleware.WriteSuccess(w, r, http.StatusOK, out, nil)
}

func (g *Gateway) handleExecuteItem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		middleware.WriteError(w, r, apperrors.CodeReqInvalid, "method not allowed", nil)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/execute/")
	if id == "" {
		middleware.WriteError(w, r, apperrors.CodeReqValidation, "execution id is required", nil)
		return
	}
	rec, ok := g.get(id)
	if !ok {
		middleware.WriteError(w, r, apperrors.CodeResNotFound, "execution not found", nil)
		return
	}
	middleware.WriteSuccess(w, r, http.StatusOK, summarize(rec), nil)
}
