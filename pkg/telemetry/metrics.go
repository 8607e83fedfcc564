package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	meterName  = "driftline"
	tracerName = "driftline"
)

// OTelProvider implements Provider using OpenTelemetry.
type OTelProvider struct {
	tracer trace.Tracer
	meter  metric.Meter

	pipelineFlushes  metric.Int64Counter
	pipelineItems    metric.Int64Counter
	pipelineDrops    metric.Int64Counter
	flushDuration    metric.Float64Histogram
	pollSuccess      metric.Int64Counter
	pollFailure      metric.Int64Counter
	pollDuration     metric.Float64Histogram
	evalLocal        metric.Int64Counter
	evalRemote       metric.Int64Counter
	evalDuration     metric.Float64Histogram
	decisionCacheHit metric.Int64Counter
	decisionCacheMis metric.Int64Counter
	circuitState     metric.Int64ObservableGauge

	circuitStates map[string]string
}

// NewOTel creates a new OpenTelemetry provider.
func NewOTel() (*OTelProvider, error) {
	tracer := otel.Tracer(tracerName)
	meter := otel.Meter(meterName)

	provider := &OTelProvider{
		tracer:        tracer,
		meter:         meter,
		circuitStates: make(map[string]string),
	}

	if err := provider.initMetrics(); err != nil {
		return nil, err
	}

	return provider, nil
}

func (o *OTelProvider) initMetrics() error {
	var err error

	o.pipelineFlushes, err = o.meter.Int64Counter(
		"driftline.pipeline.flushes",
		metric.WithDescription("Number of batch pipeline flush operations"),
	)
	if err != nil {
		return err
	}

	o.pipelineItems, err = o.meter.Int64Counter(
		"driftline.pipeline.items",
		metric.WithDescription("Number of items delivered across all flushes"),
	)
	if err != nil {
		return err
	}

	o.pipelineDrops, err = o.meter.Int64Counter(
		"driftline.pipeline.drops",
		metric.WithDescription("Number of items dropped from a full queue"),
	)
	if err != nil {
		return err
	}

	o.flushDuration, err = o.meter.Float64Histogram(
		"driftline.pipeline.flush.duration",
		metric.WithDescription("Duration of pipeline flush operations"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	o.pollSuccess, err = o.meter.Int64Counter(
		"driftline.loader.poll.success",
		metric.WithDescription("Number of successful flag definition polls"),
	)
	if err != nil {
		return err
	}

	o.pollFailure, err = o.meter.Int64Counter(
		"driftline.loader.poll.failure",
		metric.WithDescription("Number of failed flag definition polls"),
	)
	if err != nil {
		return err
	}

	o.pollDuration, err = o.meter.Float64Histogram(
		"driftline.loader.poll.duration",
		metric.WithDescription("Duration of flag definition poll operations"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	o.evalLocal, err = o.meter.Int64Counter(
		"driftline.evaluation.local",
		metric.WithDescription("Number of evaluations resolved locally"),
	)
	if err != nil {
		return err
	}

	o.evalRemote, err = o.meter.Int64Counter(
		"driftline.evaluation.remote",
		metric.WithDescription("Number of evaluations requiring a remote decision"),
	)
	if err != nil {
		return err
	}

	o.evalDuration, err = o.meter.Float64Histogram(
		"driftline.evaluation.duration",
		metric.WithDescription("Duration of local flag evaluations"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	o.decisionCacheHit, err = o.meter.Int64Counter(
		"driftline.decisioncache.hits",
		metric.WithDescription("Number of decision cache hits"),
	)
	if err != nil {
		return err
	}

	o.decisionCacheMis, err = o.meter.Int64Counter(
		"driftline.decisioncache.misses",
		metric.WithDescription("Number of decision cache misses"),
	)
	if err != nil {
		return err
	}

	o.circuitState, err = o.meter.Int64ObservableGauge(
		"driftline.circuit.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			for component, state := range o.circuitStates {
				observer.Observe(circuitStateValue(state), metric.WithAttributes(attribute.String("component", component)))
			}
			return nil
		}),
	)
	if err != nil {
		return err
	}

	return nil
}

func circuitStateValue(state string) int64 {
	switch state {
	case "closed":
		return 0
	case "open":
		return 1
	case "half-open":
		return 2
	default:
		return 0
	}
}

// StartSpan creates a new trace span.
func (o *OTelProvider) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	config := &SpanConfig{}
	for _, opt := range opts {
		opt(config)
	}

	otelAttrs := make([]attribute.KeyValue, len(config.Attributes))
	for i, attr := range config.Attributes {
		otelAttrs[i] = convertAttribute(attr)
	}

	ctx, otelSpan := o.tracer.Start(ctx, name, trace.WithAttributes(otelAttrs...))
	return ctx, &OTelSpan{span: otelSpan}
}

func convertAttribute(attr Attribute) attribute.KeyValue {
	switch v := attr.Value.(type) {
	case string:
		return attribute.String(attr.Key, v)
	case int:
		return attribute.Int(attr.Key, v)
	case int64:
		return attribute.Int64(attr.Key, v)
	case bool:
		return attribute.Bool(attr.Key, v)
	case float64:
		return attribute.Float64(attr.Key, v)
	default:
		return attribute.String(attr.Key, "")
	}
}

func (o *OTelProvider) RecordPipelineFlush(ctx context.Context, itemCount int, duration time.Duration, err error) {
	o.pipelineFlushes.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", err == nil)))
	o.pipelineItems.Add(ctx, int64(itemCount))
	o.flushDuration.Record(ctx, float64(duration.Milliseconds()))
}

func (o *OTelProvider) RecordPipelineDrop(ctx context.Context, reason string) {
	o.pipelineDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (o *OTelProvider) RecordPollResult(ctx context.Context, success bool, duration time.Duration, flagCount int) {
	o.pollDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attribute.Bool("success", success)))
	if success {
		o.pollSuccess.Add(ctx, 1, metric.WithAttributes(attribute.Int("flag.count", flagCount)))
	} else {
		o.pollFailure.Add(ctx, 1)
	}
}

func (o *OTelProvider) RecordEvaluation(ctx context.Context, flagKey string, requiresRemote bool, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("flag.key", flagKey))
	if requiresRemote {
		o.evalRemote.Add(ctx, 1, attrs)
	} else {
		o.evalLocal.Add(ctx, 1, attrs)
	}
	o.evalDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (o *OTelProvider) RecordDecisionCacheHit(ctx context.Context)  { o.decisionCacheHit.Add(ctx, 1) }
func (o *OTelProvider) RecordDecisionCacheMiss(ctx context.Context) { o.decisionCacheMis.Add(ctx, 1) }

func (o *OTelProvider) RecordCircuitState(ctx context.Context, component string, state string) {
	o.circuitStates[component] = state
}

// Shutdown is a no-op: the OTel SDK's MeterProvider/TracerProvider lifecycle
// is owned by whoever configured the global providers, not by this adapter.
func (o *OTelProvider) Shutdown(ctx context.Context) error {
	return nil
}

// OTelSpan wraps an OpenTelemetry span.
type OTelSpan struct {
	span trace.Span
}

func (s *OTelSpan) End() { s.span.End() }

func (s *OTelSpan) SetAttributes(attrs ...Attribute) {
	otelAttrs := make([]attribute.KeyValue, len(attrs))
	for i, attr := range attrs {
		otelAttrs[i] = convertAttribute(attr)
	}
	s.span.SetAttributes(otelAttrs...)
}

func (s *OTelSpan) RecordError(err error) { s.span.RecordError(err) }

func (s *OTelSpan) AddEvent(name string, attrs ...Attribute) {
	otelAttrs := make([]attribute.KeyValue, len(attrs))
	for i, attr := range attrs {
		otelAttrs[i] = convertAttribute(attr)
	}
	s.span.AddEvent(name, trace.WithAttributes(otelAttrs...))
}
