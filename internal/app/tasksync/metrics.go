package tasksync

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const namespace = "tasksync"

// Metrics records the outcome of sync decisions.
type Metrics interface {
	IncDecision(ctx context.Context, reason Reason)
	IncRemoteCall(ctx context.Context, action string)
	IncRemoteError(ctx context.Context, action string, suppressed bool)
	IncReconciliation(ctx context.Context)
	IncTaskLost(ctx context.Context)
}

type syncMetrics struct {
	decisions       metric.Int64Counter
	remoteCalls     metric.Int64Counter
	remoteErrors    metric.Int64Counter
	reconciliations metric.Int64Counter
	tasksLost       metric.Int64Counter
}

// NewMetrics registers the sync instruments on mp.
func NewMetrics(mp metric.MeterProvider) (Metrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(syncMetrics)
	var err error

	if m.decisions, err = meter.Int64Counter(
		"decisions_total",
		metric.WithDescription("Total number of sync decisions by reason"),
	); err != nil {
		return nil, err
	}

	if m.remoteCalls, err = meter.Int64Counter(
		"remote_calls_total",
		metric.WithDescription("Total number of calls made to the task tracker"),
	); err != nil {
		return nil, err
	}

	if m.remoteErrors, err = meter.Int64Counter(
		"remote_errors_total",
		metric.WithDescription("Total number of failed task tracker calls"),
	); err != nil {
		return nil, err
	}

	if m.reconciliations, err = meter.Int64Counter(
		"reconciliations_total",
		metric.WithDescription("Total number of workflow states adopted from the tracker"),
	); err != nil {
		return nil, err
	}

	if m.tasksLost, err = meter.Int64Counter(
		"tasks_lost_total",
		metric.WithDescription("Total number of tasks found missing on the tracker"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// NoopMetrics returns Metrics that record nothing.
func NoopMetrics() Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

func (m *syncMetrics) IncDecision(ctx context.Context, reason Reason) {
	m.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
}

func (m *syncMetrics) IncRemoteCall(ctx context.Context, action string) {
	m.remoteCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

func (m *syncMetrics) IncRemoteError(ctx context.Context, action string, suppressed bool) {
	m.remoteErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.Bool("suppressed", suppressed),
	))
}

func (m *syncMetrics) IncReconciliation(ctx context.Context) { m.reconciliations.Add(ctx, 1) }

func (m *syncMetrics) IncTaskLost(ctx context.Context) { m.tasksLost.Add(ctx, 1) }
