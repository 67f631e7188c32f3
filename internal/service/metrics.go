package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/DevRickLin/feishu-nudge/internal/service"

// schedulerMetrics records tick and dispatch counters on the global
// MeterProvider. Instruments that fail to register are left nil and skipped.
type schedulerMetrics struct {
	ticks      metric.Int64Counter
	skipped    metric.Int64Counter
	sent       metric.Int64Counter
	failed     metric.Int64Counter
	suppressed metric.Int64Counter
	tracer     trace.Tracer
}

func newSchedulerMetrics() *schedulerMetrics {
	meter := otel.Meter(instrumentationName)
	m := &schedulerMetrics{tracer: otel.Tracer(instrumentationName)}
	m.ticks, _ = meter.Int64Counter("nudge.ticks", metric.WithDescription("Completed scheduler passes"))
	m.skipped, _ = meter.Int64Counter("nudge.ticks.skipped", metric.WithDescription("Passes skipped because one was already running"))
	m.sent, _ = meter.Int64Counter("nudge.dispatch.sent", metric.WithDescription("Proactive messages delivered"))
	m.failed, _ = meter.Int64Counter("nudge.dispatch.failed", metric.WithDescription("Proactive messages that failed or timed out"))
	m.suppressed, _ = meter.Int64Counter("nudge.triggers.suppressed", metric.WithDescription("Triggers muted by quiet hours"))
	return m
}

func add(ctx context.Context, c metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if c == nil || n == 0 {
		return
	}
	c.Add(ctx, n, metric.WithAttributes(attrs...))
}
