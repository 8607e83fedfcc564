package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func setupOTelTest(t *testing.T) (*OTelProvider, func()) {
	t.Helper()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(mp)

	provider, err := NewOTel()
	require.NoError(t, err)

	cleanup := func() {
		ctx := context.Background()
		_ = provider.Shutdown(ctx)
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
	}
	return provider, cleanup
}

func TestOTelProvider_ImplementsInterface(t *testing.T) {
	var _ Provider = (*OTelProvider)(nil)
}

func TestOTelProvider_RecordPipelineFlush(t *testing.T) {
	provider, cleanup := setupOTelTest(t)
	defer cleanup()

	ctx := context.Background()
	provider.RecordPipelineFlush(ctx, 5, 10*time.Millisecond, nil)
	provider.RecordPipelineFlush(ctx, 0, time.Millisecond, errors.New("boom"))
}

func TestOTelProvider_RecordPollResult(t *testing.T) {
	provider, cleanup := setupOTelTest(t)
	defer cleanup()

	ctx := context.Background()
	provider.RecordPollResult(ctx, true, 100*time.Millisecond, 5)
	provider.RecordPollResult(ctx, false, 200*time.Millisecond, 0)
}

func TestOTelProvider_RecordEvaluation(t *testing.T) {
	provider, cleanup := setupOTelTest(t)
	defer cleanup()

	ctx := context.Background()
	provider.RecordEvaluation(ctx, "test-flag", false, 10*time.Millisecond)
	provider.RecordEvaluation(ctx, "test-flag", true, 10*time.Millisecond)
}

func TestOTelProvider_RecordDecisionCache(t *testing.T) {
	provider, cleanup := setupOTelTest(t)
	defer cleanup()

	ctx := context.Background()
	provider.RecordDecisionCacheHit(ctx)
	provider.RecordDecisionCacheMiss(ctx)
}

func TestOTelProvider_RecordCircuitState(t *testing.T) {
	provider, cleanup := setupOTelTest(t)
	defer cleanup()

	ctx := context.Background()
	for _, state := range []string{"closed", "open", "half-open"} {
		provider.RecordCircuitState(ctx, "transport", state)
		assert.Equal(t, state, provider.circuitStates["transport"])
	}
}

func TestOTelProvider_Span(t *testing.T) {
	provider, cleanup := setupOTelTest(t)
	defer cleanup()

	ctx := context.Background()
	newCtx, span := provider.StartSpan(ctx, "test-span", WithAttributes(String("k", "v")))
	require.NotEqual(t, ctx, newCtx)

	span.SetAttributes(Int("n", 1), Bool("b", true), Float64("f", 1.5), Int64("i64", int64(1)))
	span.AddEvent("evt", String("k", "v"))
	span.RecordError(errors.New("err"))
	span.End()
}

func TestOTelProvider_ConcurrentUsage(t *testing.T) {
	provider, cleanup := setupOTelTest(t)
	defer cleanup()

	ctx := context.Background()
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			provider.RecordPipelineFlush(ctx, 1, time.Millisecond, nil)
			provider.RecordPollResult(ctx, true, time.Millisecond, 1)
			provider.RecordEvaluation(ctx, "flag", false, time.Millisecond)
			provider.RecordDecisionCacheHit(ctx)
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestPrometheusProvider_ImplementsInterface(t *testing.T) {
	var _ Provider = (*PrometheusProvider)(nil)
}

func TestPrometheusProvider_RecordsWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus(reg)
	require.NoError(t, err)

	ctx := context.Background()
	p.RecordPipelineFlush(ctx, 3, 5*time.Millisecond, nil)
	p.RecordPipelineDrop(ctx, "queue full")
	p.RecordPollResult(ctx, true, 10*time.Millisecond, 2)
	p.RecordEvaluation(ctx, "flag-a", false, time.Millisecond)
	p.RecordDecisionCacheHit(ctx)
	p.RecordDecisionCacheMiss(ctx)
	p.RecordCircuitState(ctx, "transport", "open")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestPrometheusProvider_DuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheus(reg)
	require.NoError(t, err)

	_, err = NewPrometheus(reg)
	assert.Error(t, err)
}
