package middleware

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/tachikoma-run/tachikoma/internal/obs"
)

var sensitiveFieldRE = regexp.MustCompile(`(?i)"(password|token|secret|key|apiKey|Authorization)"\s*:\s*"[^"]*"`)

// RequestLoggerConfig controls the optional body-logging behavior of the
// JSON request logger stage stage.
type RequestLoggerConfig struct {
	LogBody      bool
	MaxBodyChars int
}

// RequestLogger emits one structured entry per request, with the
// configured redaction applied to any logged body.
func RequestLogger(logger obs.Logger, route string, cfg RequestLoggerConfig) func(http.Handler) http.Handler {
	if logger == nil {
		logger = obs.NoOpLogger{}
	}
	if cfg.MaxBodyChars <= 0 {
		cfg.MaxBodyChars = 2048
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			var bodySnippet string
			if cfg.LogBody && r.Body != nil {
				data, _ := io.ReadAll(io.LimitReader(r.Body, int64(cfg.MaxBodyChars)+1))
				r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(data), r.Body))
				bodySnippet = redactSensitive(truncateString(string(data), cfg.MaxBodyChars))
			}

			sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(sw, r)

			duration := time.Since(start)
			fields := map[string]interface{}{
				"method":   r.Method,
				"route":    route,
				"status":   sw.statusCode,
				"duration": duration.Milliseconds(),
			}
			if bodySnippet != "" {
				fields["body"] = bodySnippet
			}
			if u, ok := UserFromContext(r.Context()); ok {
				fields["userId"] = u.ID
			}
			logger.InfoContext(r.Context(), "http request", fields)
		})
	}
}

func redactSensitive(s string) string {
	return sensitiveFieldRE.ReplaceAllStringFunc(s, func(m string) string {
		idx := bytes.IndexByte([]byte(m), ':')
		if idx < 0 {
			return m
		}
		return m[:idx+1] + `"***"`
	})
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
