// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RunnerMetrics tracks connection, dispatch, and invocation outcomes for
// production monitoring.
type RunnerMetrics struct {
	// eventsDispatched counts inbound events by routing outcome.
	eventsDispatched metric.Int64Counter

	// invocations counts skill invocations by outcome and error code.
	invocations metric.Int64Counter

	// invocationLatency records per-invocation wall-clock latency.
	invocationLatency metric.Float64Histogram

	// reconnects counts connection epochs started after a drop.
	reconnects metric.Int64Counter

	// heartbeats counts heartbeat emissions.
	heartbeats metric.Int64Counter

	// probes counts health probes by reachability.
	probes metric.Int64Counter
}

// NewRunnerMetrics creates the runner metric set on the global meter.
func NewRunnerMetrics() (*RunnerMetrics, error) {
	meter := otel.Meter("evo-runner")

	eventsDispatched, err := meter.Int64Counter(
		"runner.events.dispatched",
		metric.WithDescription("Inbound events by routing outcome (handled, dropped)"),
	)
	if err != nil {
		return nil, err
	}

	invocations, err := meter.Int64Counter(
		"runner.invocations.total",
		metric.WithDescription("Skill invocations by outcome and error code"),
	)
	if err != nil {
		return nil, err
	}

	invocationLatency, err := meter.Float64Histogram(
		"runner.invocations.latency_ms",
		metric.WithDescription("Skill invocation latency in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	reconnects, err := meter.Int64Counter(
		"runner.connection.reconnects",
		metric.WithDescription("Connection epochs started after a session drop"),
	)
	if err != nil {
		return nil, err
	}

	heartbeats, err := meter.Int64Counter(
		"runner.heartbeats.total",
		metric.WithDescription("Heartbeat status events emitted"),
	)
	if err != nil {
		return nil, err
	}

	probes, err := meter.Int64Counter(
		"runner.probes.total",
		metric.WithDescription("Endpoint health probes by reachability"),
	)
	if err != nil {
		return nil, err
	}

	return &RunnerMetrics{
		eventsDispatched:  eventsDispatched,
		invocations:       invocations,
		invocationLatency: invocationLatency,
		reconnects:        reconnects,
		heartbeats:        heartbeats,
		probes:            probes,
	}, nil
}

// RecordDispatch records an inbound event routing outcome.
func (m *RunnerMetrics) RecordDispatch(ctx context.Context, event string, handled bool) {
	if m == nil {
		return
	}
	outcome := "handled"
	if !handled {
		outcome = "dropped"
	}
	m.eventsDispatched.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("outcome", outcome),
	))
}

// RecordInvocation records a skill invocation outcome and its latency.
func (m *RunnerMetrics) RecordInvocation(ctx context.Context, skill string, succeeded bool, errCode string, latencyMS int64) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("skill", skill),
		attribute.Bool("succeeded", succeeded),
	}
	if errCode != "" {
		attrs = append(attrs, attribute.String("error_code", errCode))
	}
	m.invocations.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.invocationLatency.Record(ctx, float64(latencyMS), metric.WithAttributes(
		attribute.String("skill", skill),
	))
}

// RecordReconnect records the start of a reconnect epoch.
func (m *RunnerMetrics) RecordReconnect(ctx context.Context) {
	if m == nil {
		return
	}
	m.reconnects.Add(ctx, 1)
}

// RecordHeartbeat records a heartbeat emission.
func (m *RunnerMetrics) RecordHeartbeat(ctx context.Context) {
	if m == nil {
		return
	}
	m.heartbeats.Add(ctx, 1)
}

// RecordProbe records one endpoint probe result.
func (m *RunnerMetrics) RecordProbe(ctx context.Context, reachable bool) {
	if m == nil {
		return
	}
	m.probes.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("reachable", reachable),
	))
}
