package middleware

import (
	"bytes"
	"net/http"
)

// statusWriter wraps http.ResponseWriter to capture the status code every
// downstream stage eventually writes, for the request logger stage.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.statusCode = http.StatusOK
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// bufferedWriter captures the full response body instead of streaming it,
// so the output filter stage can scan and, if needed, rewrite it before
// anything reaches the wire.
type bufferedWriter struct {
	http.ResponseWriter
	statusCode int
	header     http.Header
	buf        bytes.Buffer
}

func newBufferedWriter(w http.ResponseWriter) *bufferedWriter {
	return &bufferedWriter{ResponseWriter: w, statusCode: http.StatusOK, header: make(http.Header)}
}

func (w *bufferedWriter) Header() http.Header { return w.header }

func (w *bufferedWriter) WriteHeader(code int) { w.statusCode = code }

func (w *bufferedWriter) Write(b []byte) (int, error) { return w.buf.Write(b) }

// flush copies the buffered header, status and body to the real writer.
func (w *bufferedWriter) flush() {
	dst := w.ResponseWriter.Header()
	for k, v := range w.header {
		dst[k] = v
	}
	w.ResponseWriter.WriteHeader(w.statusCode)
	_, _ = w.ResponseWriter.Write(w.buf.Bytes())
}
