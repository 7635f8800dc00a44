package middleware

import (
	"errors"
	"io"
	"net/http"

	"github.com/tachikoma-run/tachikoma/internal/apperrors"
)

const defaultMaxBodySize = 1 << 20 // 1 MiB

// BodyLimit rejects oversize request bodies with 413 before the handler
// ever sees them. A known Content-Length over
// the limit is rejected immediately; otherwise the body is wrapped in a
// counting reader that aborts as soon as it reads past the limit.
func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodySize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasBody(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > maxBytes {
				WriteError(w, r, apperrors.CodeReqTooLarge, "request body exceeds the configured limit", nil)
				return
			}
			if r.Body != nil {
				r.Body = &limitedBody{ReadCloser: r.Body, remaining: maxBytes}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

// limitedBody aborts the read with errBodyTooLarge as soon as more than
// remaining bytes have been consumed, covering the chunked/unknown-length
// case where Content-Length can't be checked up front.
type limitedBody struct {
	io.ReadCloser
	remaining int64
	exceeded  bool
}

var errBodyTooLarge = &bodyTooLargeError{}

type bodyTooLargeError struct{}

func (*bodyTooLargeError) Error() string { return "request body exceeds the configured limit" }

// IsBodyTooLarge reports whether err (or anything it wraps) originated from
// the streamed body-limit check, so a handler's JSON decode failure can be
// told apart from a genuinely malformed payload.
func IsBodyTooLarge(err error) bool {
	var e *bodyTooLargeError
	return errors.As(err, &e)
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.exceeded {
		return 0, errBodyTooLarge
	}
	if int64(len(p)) > b.remaining+1 {
		p = p[:b.remaining+1]
	}
	n, err := b.ReadCloser.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 {
		b.exceeded = true
		return n, errBodyTooLarge
	}
	return n, err
}
