// Package gateway wires the HTTP surface around the orchestration
// runtime: response envelopes, the route table, and the security
// pipeline from internal/gateway/middleware.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/tachikoma-run/tachikoma/internal/gateway/middleware"
	"github.com/tachikoma-run/tachikoma/internal/obs"
	"github.com/tachikoma-run/tachikoma/internal/orchestrator"
	"github.com/tachikoma-run/tachikoma/internal/pool"
)

// ServiceInfo is returned by GET / and embedded in GET /health.
type ServiceInfo struct {
	Service string
	Version string
}

// ToolEndpoint is a named outbound target the /api/execute/tool route may
// invoke on the caller's behalf, proxied through the same allow-listed
// Proxy the explicit /proxy route uses.
type ToolEndpoint struct {
	URL    string
	Method string
}

// Gateway holds everything the HTTP surface needs: the orchestrator, the
// shared worker pool (for the agents listing), the security pipeline
// config, and the in-memory execution registry backing /api/tasks and
// /api/execute/history.
type Gateway struct {
	orch    *orchestrator.Orchestrator
	pool    *pool.Pool
	proxy   *middleware.Proxy
	mwCfg   middleware.Config
	info    ServiceInfo
	logger  obs.Logger
	tools   map[string]ToolEndpoint

	mu      sync.RWMutex
	records map[string]*TaskRecord
	order   []string
}

// New builds a Gateway around an already-constructed Orchestrator/Pool.
func New(orch *orchestrator.Orchestrator, wp *pool.Pool, mwCfg middleware.Config, info ServiceInfo, tools map[string]ToolEndpoint, logger obs.Logger) *Gateway {
	if logger == nil {
		logger = obs.NoOpLogger{}
	}
	return &Gateway{
		orch:    orch,
		pool:    wp,
		proxy:   middleware.NewProxy(middleware.ProxyConfig{AllowList: allowListFromHosts(mwCfg), RetryOn5xx: 1}),
		mwCfg:   mwCfg,
		info:    info,
		logger:  logger,
		tools:   tools,
		records: make(map[string]*TaskRecord),
	}
}

func allowListFromHosts(cfg middleware.Config) []middleware.AllowEntry {
	return nil // populated by callers via WithAllowList; kept nil-safe here.
}

// WithAllowList overrides the outbound proxy's allow-list after construction.
func (g *Gateway) WithAllowList(entries []middleware.AllowEntry) *Gateway {
	g.proxy = middleware.NewProxy(middleware.ProxyConfig{AllowList: entries, RetryOn5xx: 1})
	return g
}

// Router builds the full http.Handler: every route wrapped in the security
// pipeline Chain.
func (g *Gateway) Router() http.Handler {
	mux := http.NewServeMux()

	public := g.mwCfg
	public.DevMode = true // stage 4/5/7 never apply to / and /health

	mux.Handle("/", middleware.Chain(public, "/", http.HandlerFunc(g.handleRoot)))
	mux.Handle("/health", middleware.Chain(public, "/health", http.HandlerFunc(g.handleHealth)))

	mux.Handle("/api/tasks", middleware.Chain(g.mwCfg, "/api/tasks", http.HandlerFunc(g.handleTasksCollection)))
	mux.Handle("/api/tasks/", middleware.Chain(g.mwCfg, "/api/tasks/:id", http.HandlerFunc(g.handleTaskItem)))

	mux.Handle("/api/agents", middleware.Chain(g.mwCfg, "/api/agents", http.HandlerFunc(g.handleAgentsCollection)))
	mux.Handle("/api/agents/", middleware.Chain(g.mwCfg, "/api/agents/:id", http.HandlerFunc(g.handleAgentItem)))

	mux.Handle("/api/execute", middleware.Chain(g.mwCfg, "/api/execute", http.HandlerFunc(g.handleExecute)))
	mux.Handle("/api/execute/tool", middleware.Chain(g.mwCfg, "/api/execute/tool", http.HandlerFunc(g.handleExecuteTool)))
	mux.Handle("/api/execute/proxy", middleware.Chain(g.mwCfg, "/api/execute/proxy", http.HandlerFunc(g.handleExecuteProxy)))
	mux.Handle("/api/execute/mcp", middleware.Chain(g.mwCfg, "/api/execute/mcp", http.HandlerFunc(g.handleExecuteMCP)))
	mux.Handle("/api/execute/history", middleware.Chain(g.mwCfg, "/api/execute/history", http.HandlerFunc(g.handleExecuteHistory)))
	mux.Handle("/api/execute/", middleware.Chain(g.mwCfg, "/api/execute/:id", http.HandlerFunc(g.handleExecuteItem)))

	return mux
}

func (g *Gateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	middleware.WriteSuccess(w, r, http.StatusOK, map[string]string{
		"service": g.info.Service,
		"version": g.info.Version,
	}, nil)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	middleware.WriteSuccess(w, r, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   g.info.Version,
		"service":   g.info.Service,
	}, nil)
}

// runSynchronously lifts req into an orchestrator.Task, runs it to
// completion, and records the outcome. The orchestrator's own concurrency
// (parallel steps, retries) happens inside Run; the gateway just awaits it.
func (g *Gateway) runSynchronously(ctx context.Context, task orchestrator.Task) *TaskRecord {
	started := time.Now()
	result, err := g.orch.Run(ctx, task)
	rec := &TaskRecord{
		ID:        task.ID,
		Task:      task,
		StartedAt: started,
	}
	if err != nil {
		rec.Result = &orchestrator.TaskResult{TaskID: task.ID, Status: "failure", Error: err.Error()}
	} else {
		rec.Result = result
	}
	g.store(rec)
	return rec
}
