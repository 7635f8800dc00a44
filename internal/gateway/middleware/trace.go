package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tachikoma-run/tachikoma/internal/obs"
)

// Trace adopts or generates the W3C trace context, stashes it for
// downstream loggers, and echoes it on the response.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID, ok := obs.ParseTraceparent(r.Header.Get("traceparent"))
		if !ok {
			traceID = obs.NewTraceID()
		}
		spanID := obs.NewSpanID()
		requestID := uuid.NewString()

		tc := obs.TraceContext{
			TraceID:      traceID,
			SpanID:       spanID,
			RequestID:    requestID,
			RequestStart: time.Now(),
		}
		ctx := obs.WithTrace(r.Context(), tc)

		w.Header().Set("traceparent", obs.Traceparent(traceID, spanID))
		w.Header().Set("X-Trace-Id", traceID)
		w.Header().Set("X-Span-Id", spanID)
		w.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
