// pkg/telemetry/noop.go
package telemetry

import (
	"context"
	"time"
)

// NoOpProvider is a telemetry provider that does nothing.
// Useful for testing or when telemetry is disabled.
type NoOpProvider struct{}

// NewNoOp creates a new no-op telemetry provider.
func NewNoOp() *NoOpProvider {
	return &NoOpProvider{}
}

func (n *NoOpProvider) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	return ctx, &NoOpSpan{}
}

func (n *NoOpProvider) RecordPipelineFlush(ctx context.Context, itemCount int, duration time.Duration, err error) {
}

func (n *NoOpProvider) RecordPipelineDrop(ctx context.Context, reason string) {}

func (n *NoOpProvider) RecordPollResult(ctx context.Context, success bool, duration time.Duration, flagCount int) {
}

func (n *NoOpProvider) RecordEvaluation(ctx context.Context, flagKey string, requiresRemote bool, duration time.Duration) {
}

func (n *NoOpProvider) RecordDecisionCacheHit(ctx context.Context)  {}
func (n *NoOpProvider) RecordDecisionCacheMiss(ctx context.Context) {}

func (n *NoOpProvider) RecordCircuitState(ctx context.Context, component string, state string) {}

func (n *NoOpProvider) Shutdown(ctx context.Context) error {
	return nil
}

// NoOpSpan is a span that does nothing.
type NoOpSpan struct{}

func (n *NoOpSpan) End()                                     {}
func (n *NoOpSpan) SetAttributes(attrs ...Attribute)         {}
func (n *NoOpSpan) RecordError(err error)                    {}
func (n *NoOpSpan) AddEvent(name string, attrs ...Attribute) {}
