package middleware

import (
	"net/http"

	"github.com/tachikoma-run/tachikoma/internal/obs"
)

// Config aggregates every stage's configuration into the single object the
// gateway constructs its chain from.
type Config struct {
	MaxBodySize      int64
	RequestLog       RequestLoggerConfig
	JWT              JWTConfig
	PublicPaths      map[string]bool
	InputFilter      InputFilterConfig
	OutputFilter     OutputFilterConfig
	Logger           obs.Logger
	DevMode          bool // JWT + output filtering disabled
}

// Chain composes the ordered security pipeline around a route handler:
// trace, body limit, request log, JWT auth, RBAC, input filter, then the
// handler, then output filter.
func Chain(cfg Config, route string, handler http.Handler) http.Handler {
	// Build from the handler outward so each wrap sits in the right position:
	// stage 7 (output filter) nearest the handler, stage 1 (trace) outermost.
	wrapped := handler

	if !cfg.DevMode {
		outCfg := cfg.OutputFilter
		outCfg.Logger = cfg.Logger
		wrapped = decorate(wrapped, OutputFilter(outCfg))
	}

	wrapped = decorate(wrapped, InputFilter(cfg.InputFilter))

	if !cfg.DevMode {
		wrapped = decorate(wrapped, RBAC(cfg.PublicPaths))
		jwtCfg := cfg.JWT
		jwtCfg.PublicPaths = cfg.PublicPaths
		wrapped = decorate(wrapped, JWTAuth(jwtCfg))
	}

	wrapped = decorate(wrapped, RequestLogger(cfg.Logger, route, cfg.RequestLog))
	wrapped = decorate(wrapped, BodyLimit(cfg.MaxBodySize))
	wrapped = decorate(wrapped, Trace)

	return wrapped
}

func decorate(h http.Handler, mw func(http.Handler) http.Handler) http.Handler {
	return mw(h)
}
