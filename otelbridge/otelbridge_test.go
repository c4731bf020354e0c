package otelbridge_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	resilience "github.com/resilience-go/core"
	"github.com/resilience-go/core/otelbridge"
	"github.com/resilience-go/core/saga"
)

func TestNewReturnsBridgeWithNoopProviders(t *testing.T) {
	tracer := tracenoop.NewTracerProvider().Tracer("test")
	meter := metricnoop.NewMeterProvider().Meter("test")

	bridge, err := otelbridge.New(tracer, meter)
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}

	if bridge == nil {
		t.Fatal("New() returned nil bridge")
	}
}

func TestWatchCircuitBreakerDoesNotPanicOnStateChange(t *testing.T) {
	tracer := tracenoop.NewTracerProvider().Tracer("test")
	meter := metricnoop.NewMeterProvider().Meter("test")

	bridge, err := otelbridge.New(tracer, meter)
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}

	bus := resilience.NewEventBus[resilience.CircuitBreakerStateChange](slog.Default())
	bridge.WatchCircuitBreaker("payments", bus)

	cb := resilience.NewCircuitBreaker(resilience.RealClock{}, bus, resilience.FailureThreshold(1))
	cb.Trip()
}

func TestWatchBulkheadDoesNotPanicOnRejection(t *testing.T) {
	tracer := tracenoop.NewTracerProvider().Tracer("test")
	meter := metricnoop.NewMeterProvider().Meter("test")

	bridge, err := otelbridge.New(tracer, meter)
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}

	bus := resilience.NewEventBus[resilience.BulkheadRejected](slog.Default())
	bridge.WatchBulkhead("orders", bus)

	bh := resilience.NewBulkhead(resilience.RealClock{}, bus, resilience.MaxConcurrentCalls(1), resilience.MaxWaitingCalls(0))

	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = bh.Execute(ctx, func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started

	err = bh.Execute(ctx, func(ctx context.Context) error { return nil })
	if err == nil {
		t.Fatal("Execute() error = nil, want rejection while bulkhead is full")
	}

	close(release)
}

func TestTraceStepRecordsErrorWithoutPanicking(t *testing.T) {
	tracer := tracenoop.NewTracerProvider().Tracer("test")
	meter := metricnoop.NewMeterProvider().Meter("test")

	bridge, err := otelbridge.New(tracer, meter)
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}

	boom := errors.New("boom")
	traced := bridge.TraceStep("charge", func(ctx context.Context) (any, error) {
		return nil, boom
	})

	_, gotErr := traced(context.Background())
	if !errors.Is(gotErr, boom) {
		t.Fatalf("traced() error = %v, want %v", gotErr, boom)
	}
}

func TestTraceStepPassesThroughResultOnSuccess(t *testing.T) {
	tracer := tracenoop.NewTracerProvider().Tracer("test")
	meter := metricnoop.NewMeterProvider().Meter("test")

	bridge, err := otelbridge.New(tracer, meter)
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}

	traced := bridge.TraceStep("charge", func(ctx context.Context) (any, error) {
		return "ok", nil
	})

	result, err := traced(context.Background())
	if err != nil {
		t.Fatalf("traced() error = %v, want nil", err)
	}

	if result != "ok" {
		t.Fatalf("traced() result = %v, want %q", result, "ok")
	}
}

func TestTracedStepWrapsStepActionOnly(t *testing.T) {
	tracer := tracenoop.NewTracerProvider().Tracer("test")
	meter := metricnoop.NewMeterProvider().Meter("test")

	bridge, err := otelbridge.New(tracer, meter)
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}

	compensated := false
	step := saga.WithCompensation(
		saga.Plain("charge", func(ctx context.Context) (any, error) { return "ok", nil }),
		func(ctx context.Context, result any) error { compensated = true; return nil },
	)

	traced := bridge.TracedStep(step)

	result, err := traced.Action(context.Background())
	if err != nil {
		t.Fatalf("Action() error = %v, want nil", err)
	}

	if result != "ok" {
		t.Fatalf("Action() result = %v, want %q", result, "ok")
	}

	if traced.Compensate == nil {
		t.Fatal("Compensate was dropped by TracedStep")
	}

	if err := traced.Compensate(context.Background(), result); err != nil {
		t.Fatalf("Compensate() error = %v, want nil", err)
	}

	if !compensated {
		t.Fatal("Compensate was not actually invoked")
	}
}
