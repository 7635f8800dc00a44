// Package obs provides the logging and tracing primitives shared by every
// component in the orchestration runtime.
package obs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Logger is the structured logging contract every component depends on.
// Context-aware variants attach trace/span/request identifiers recorded
// by the gateway's trace stage when present.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger lets a subsystem tag every line it emits with its
// own component name without plumbing the tag through every call site.
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// NoOpLogger discards everything. Used as the zero-value default so callers
// never need a nil check.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})                             {}
func (NoOpLogger) Warn(string, map[string]interface{})                             {}
func (NoOpLogger) Error(string, map[string]interface{})                            {}
func (NoOpLogger) Debug(string, map[string]interface{})                            {}
func (NoOpLogger) InfoContext(context.Context, string, map[string]interface{})     {}
func (NoOpLogger) WarnContext(context.Context, string, map[string]interface{})     {}
func (NoOpLogger) ErrorContext(context.Context, string, map[string]interface{})    {}
func (NoOpLogger) DebugContext(context.Context, string, map[string]interface{})    {}
func (n NoOpLogger) WithComponent(string) Logger                                   { return n }

var _ ComponentAwareLogger = NoOpLogger{}

// JSONLogger is the production logger. It emits one JSON object per line
// when Format is "json" (the default) and a human-readable line otherwise.
type JSONLogger struct {
	level     string
	format    string
	service   string
	component string
	output    io.Writer
}

// NewJSONLogger builds the service-wide root logger.
func NewJSONLogger(service, level, format string) *JSONLogger {
	if format == "" {
		format = "json"
	}
	if level == "" {
		level = "info"
	}
	return &JSONLogger{
		level:   strings.ToLower(level),
		format:  format,
		service: service,
		output:  os.Stdout,
	}
}

var levelOrder = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

func (l *JSONLogger) enabled(level string) bool {
	return levelOrder[level] >= levelOrder[l.level]
}

func (l *JSONLogger) WithComponent(component string) Logger {
	clone := *l
	clone.component = component
	return &clone
}

func (l *JSONLogger) log(ctx context.Context, level, msg string, fields map[string]interface{}) {
	if !l.enabled(level) {
		return
	}
	entry := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level,
		"service":   l.service,
		"message":   msg,
	}
	if l.component != "" {
		entry["component"] = l.component
	}
	if ctx != nil {
		if tc, ok := TraceFromContext(ctx); ok {
			entry["traceId"] = tc.TraceID
			entry["spanId"] = tc.SpanID
			entry["requestId"] = tc.RequestID
		}
	}
	for k, v := range fields {
		entry[k] = v
	}

	if l.format == "json" {
		data, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(l.output, "{\"level\":\"error\",\"message\":\"log marshal failed: %v\"}\n", err)
			return
		}
		fmt.Fprintln(l.output, string(data))
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", entry["timestamp"], strings.ToUpper(level), msg)
	for k, v := range fields {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	fmt.Fprintln(l.output, b.String())
}

func (l *JSONLogger) Info(msg string, fields map[string]interface{})  { l.log(nil, "info", msg, fields) }
func (l *JSONLogger) Warn(msg string, fields map[string]interface{})  { l.log(nil, "warn", msg, fields) }
func (l *JSONLogger) Error(msg string, fields map[string]interface{}) { l.log(nil, "error", msg, fields) }
func (l *JSONLogger) Debug(msg string, fields map[string]interface{}) { l.log(nil, "debug", msg, fields) }

func (l *JSONLogger) InfoContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ctx, "info", msg, fields)
}
func (l *JSONLogger) WarnContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ctx, "warn", msg, fields)
}
func (l *JSONLogger) ErrorContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ctx, "error", msg, fields)
}
func (l *JSONLogger) DebugContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ctx, "debug", msg, fields)
}

var _ ComponentAwareLogger = (*JSONLogger)(nil)
