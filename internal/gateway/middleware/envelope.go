package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tachikoma-run/tachikoma/internal/apperrors"
	"github.com/tachikoma-run/tachikoma/internal/obs"
)

// Meta is the envelope's common metadata block.
type Meta struct {
	TraceID    string      `json:"traceId"`
	RequestID  string      `json:"requestId"`
	Duration   int64       `json:"duration,omitempty"`
	Pagination interface{} `json:"pagination,omitempty"`
}

// SuccessEnvelope is the shape every successful handler returns.
type SuccessEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Meta    Meta        `json:"meta"`
}

// ErrorDetail carries the taxonomy code and message of a failed request.
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// ErrorEnvelope is the shape every failed handler returns.
type ErrorEnvelope struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
	Meta    Meta        `json:"meta"`
}

func metaFromContext(r *http.Request) Meta {
	tc, ok := obs.TraceFromContext(r.Context())
	if !ok {
		return Meta{}
	}
	return Meta{
		TraceID:   tc.TraceID,
		RequestID: tc.RequestID,
		Duration:  time.Since(tc.RequestStart).Milliseconds(),
	}
}

// WriteError writes code/message as the taxonomy-driven error envelope,
// deriving the HTTP status from the code's prefix.
func WriteError(w http.ResponseWriter, r *http.Request, code, message string, details interface{}) {
	status := apperrors.StatusForCode(code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorEnvelope{
		Error: ErrorDetail{Code: code, Message: message, Details: details},
		Meta:  metaFromContext(r),
	})
}

// WriteSuccess writes data as the success envelope with the given status.
func WriteSuccess(w http.ResponseWriter, r *http.Request, status int, data interface{}, pagination interface{}) {
	meta := metaFromContext(r)
	meta.Pagination = pagination
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(SuccessEnvelope{Success: true, Data: data, Meta: meta})
}
