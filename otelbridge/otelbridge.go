// Package otelbridge turns resilience primitive events into OpenTelemetry
// spans and counters. It depends only on the vendor-neutral
// go.opentelemetry.io/otel API (no SDK or exporter packages): callers
// supply their own configured [trace.Tracer] and [metric.Meter], built
// however their service already builds them.
package otelbridge

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	resilience "github.com/resilience-go/core"
	"github.com/resilience-go/core/saga"
)

// Bridge wires circuit breaker, bulkhead, and Saga step events into a
// tracer and meter. The zero value is not usable; construct with [New].
type Bridge struct {
	tracer trace.Tracer
	meter  metric.Meter

	breakerTrips    metric.Int64Counter
	bulkheadRejects metric.Int64Counter
}

// New creates a Bridge that emits spans through tracer and counters
// through meter.
func New(tracer trace.Tracer, meter metric.Meter) (*Bridge, error) {
	breakerTrips, err := meter.Int64Counter(
		"resilience.circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state transitions, labeled by from/to state"),
	)
	if err != nil {
		return nil, err
	}

	bulkheadRejects, err := meter.Int64Counter(
		"resilience.bulkhead.rejections",
		metric.WithDescription("Calls rejected by a bulkhead, labeled by reason"),
	)
	if err != nil {
		return nil, err
	}

	return &Bridge{
		tracer:          tracer,
		meter:           meter,
		breakerTrips:    breakerTrips,
		bulkheadRejects: bulkheadRejects,
	}, nil
}

// WatchCircuitBreaker registers a listener on bus that records every state
// transition as a counter increment, labeled with the name and the
// from/to states.
func (b *Bridge) WatchCircuitBreaker(name string, bus *resilience.EventBus[resilience.CircuitBreakerStateChange]) resilience.ListenerHandle {
	return bus.Add(func(evt resilience.CircuitBreakerStateChange) {
		b.breakerTrips.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("name", name),
				attribute.String("from", evt.From.String()),
				attribute.String("to", evt.To.String()),
			),
		)
	})
}

// WatchBulkhead registers a listener on bus that records every rejection
// as a counter increment, labeled with the name and rejection reason.
func (b *Bridge) WatchBulkhead(name string, bus *resilience.EventBus[resilience.BulkheadRejected]) resilience.ListenerHandle {
	return bus.Add(func(evt resilience.BulkheadRejected) {
		b.bulkheadRejects.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("name", name),
				attribute.String("reason", evt.Reason.String()),
			),
		)
	})
}

// TraceStep wraps a Saga step action in a span named "saga.step "+stepName,
// recording the returned error as the span status.
func (b *Bridge) TraceStep(stepName string, action func(context.Context) (any, error)) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		ctx, span := b.tracer.Start(ctx, "saga.step "+stepName)
		defer span.End()

		result, err := action(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		return result, err
	}
}

// TracedStep returns step with its Action wrapped in a span, so every
// forward execution of step shows up as a child span of whatever context
// the Saga runs under. Compensation is not traced: it already carries its
// own [saga.CompensationError] reporting.
func (b *Bridge) TracedStep(step saga.Step) saga.Step {
	step.Action = b.TraceStep(step.Name, step.Action)

	return step
}
