package obs

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics wraps the handful of instruments the runtime records against,
// mirroring telemetry.OTELImpl.RecordCapabilityMetrics's counter+histogram
// pairing but scoped to task/request outcomes rather than capabilities.
type Metrics struct {
	taskCounter   metric.Int64Counter
	taskDuration  metric.Float64Histogram
}

// NewMetrics builds a Metrics bound to the given meter name, using the
// globally configured MeterProvider (nil-safe: a meter obtained before any
// provider is installed yields no-op instruments).
func NewMetrics(meterName string) *Metrics {
	meter := otel.Meter(meterName)

	counter, _ := meter.Int64Counter(
		"tachikoma_tasks_total",
		metric.WithDescription("Total orchestrator task runs by status"),
	)
	duration, _ := meter.Float64Histogram(
		"tachikoma_task_duration_seconds",
		metric.WithDescription("Task run duration in seconds"),
	)
	return &Metrics{taskCounter: counter, taskDuration: duration}
}

// RecordTask records one completed task run's status and wall-clock
// duration in seconds.
func (m *Metrics) RecordTask(ctx context.Context, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	if m.taskCounter != nil {
		m.taskCounter.Add(ctx, 1, attrs)
	}
	if m.taskDuration != nil {
		m.taskDuration.Record(ctx, durationSeconds, attrs)
	}
}
