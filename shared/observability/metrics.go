package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "chatroom/backend"

// Metrics are the chat engine's instruments.
type Metrics struct {
	connections      otelmetric.Int64UpDownCounter
	messages         otelmetric.Int64Counter
	sendFailures     otelmetric.Int64Counter
	droppedEvents    otelmetric.Int64Counter
	moderations      otelmetric.Int64Counter
	workflowDuration otelmetric.Float64Histogram
}

// NewMetrics registers the instruments on mp.
func NewMetrics(mp otelmetric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.connections, err = meter.Int64UpDownCounter("chat_connections",
		otelmetric.WithDescription("Live websocket connections by namespace")); err != nil {
		return nil, err
	}
	if m.messages, err = meter.Int64Counter("chat_messages_total",
		otelmetric.WithDescription("Persisted chat messages")); err != nil {
		return nil, err
	}
	if m.sendFailures, err = meter.Int64Counter("chat_send_failures_total",
		otelmetric.WithDescription("Messages that failed to persist")); err != nil {
		return nil, err
	}
	if m.droppedEvents, err = meter.Int64Counter("chat_dropped_events_total",
		otelmetric.WithDescription("Events skipped because a connection buffer was full")); err != nil {
		return nil, err
	}
	if m.moderations, err = meter.Int64Counter("chat_moderation_actions_total",
		otelmetric.WithDescription("Admin moderation actions by kind and outcome")); err != nil {
		return nil, err
	}
	if m.workflowDuration, err = meter.Float64Histogram("chat_workflow_duration_seconds",
		otelmetric.WithDescription("Duration of chat workflows"),
		otelmetric.WithUnit("s")); err != nil {
		return nil, err
	}
	return m, nil
}

// NewNopMetrics returns instruments that record nothing.
func NewNopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

func (m *Metrics) ConnectionOpened(namespace string) {
	m.connections.Add(context.Background(), 1, otelmetric.WithAttributes(attribute.String("namespace", namespace)))
}

func (m *Metrics) ConnectionClosed(namespace string) {
	m.connections.Add(context.Background(), -1, otelmetric.WithAttributes(attribute.String("namespace", namespace)))
}

func (m *Metrics) MessageStored(ctx context.Context, offensive bool) {
	m.messages.Add(ctx, 1, otelmetric.WithAttributes(attribute.Bool("offensive", offensive)))
}

func (m *Metrics) SendFailed(ctx context.Context) {
	m.sendFailures.Add(ctx, 1)
}

func (m *Metrics) EventDropped(eventType string) {
	m.droppedEvents.Add(context.Background(), 1, otelmetric.WithAttributes(attribute.String("type", eventType)))
}

func (m *Metrics) Moderation(ctx context.Context, action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.moderations.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

// Observe records how long workflow took since start.
func (m *Metrics) Observe(ctx context.Context, workflow string, start time.Time) {
	m.workflowDuration.Record(ctx, time.Since(start).Seconds(),
		otelmetric.WithAttributes(attribute.String("workflow", workflow)))
}
