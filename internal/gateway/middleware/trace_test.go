package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tachikoma-run/tachikoma/internal/obs"
)

func TestTraceGeneratesIdsWhenAbsent(t *testing.T) {
	var tc obs.TraceContext
	handler := Trace(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, _ = obs.TraceFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Len(t, tc.TraceID, 32)
	assert.Len(t, tc.SpanID, 16)
	assert.NotEmpty(t, tc.RequestID)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-Id"))
	assert.NotEmpty(t, rec.Header().Get("traceparent"))
}

func TestTraceAdoptsIncomingTraceparent(t *testing.T) {
	incoming := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	var tc obs.TraceContext
	handler := Trace(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, _ = obs.TraceFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("traceparent", incoming)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", tc.TraceID)
	assert.NotEqual(t, "00f067aa0ba902b7", tc.SpanID)
}
