package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusProvider implements Provider with prometheus/client_golang
// counters and histograms, for deployments that scrape rather than push.
// Span operations degrade to no-ops; tracing is OpenTelemetry's job.
type PrometheusProvider struct {
	pipelineFlushesTotal *prometheus.CounterVec
	pipelineItemsTotal   prometheus.Counter
	pipelineDropsTotal   *prometheus.CounterVec
	flushDuration        prometheus.Histogram

	pollTotal    *prometheus.CounterVec
	pollDuration prometheus.Histogram

	evaluationsTotal *prometheus.CounterVec
	evalDuration     prometheus.Histogram

	decisionCacheHits   prometheus.Counter
	decisionCacheMisses prometheus.Counter

	circuitState *prometheus.GaugeVec

	mu sync.Mutex
}

// NewPrometheus registers its collectors against reg and returns a Provider.
// Pass prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer to expose metrics on the process-wide
// /metrics endpoint.
func NewPrometheus(reg prometheus.Registerer) (*PrometheusProvider, error) {
	p := &PrometheusProvider{
		pipelineFlushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "driftline",
			Subsystem: "pipeline",
			Name:      "flushes_total",
			Help:      "Batch pipeline flush attempts by outcome.",
		}, []string{"success"}),
		pipelineItemsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "driftline",
			Subsystem: "pipeline",
			Name:      "items_total",
			Help:      "Items delivered across all pipeline flushes.",
		}),
		pipelineDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "driftline",
			Subsystem: "pipeline",
			Name:      "drops_total",
			Help:      "Items dropped from a full pipeline queue, by reason.",
		}, []string{"reason"}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "driftline",
			Subsystem: "pipeline",
			Name:      "flush_duration_seconds",
			Help:      "Pipeline flush latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		pollTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "driftline",
			Subsystem: "loader",
			Name:      "poll_total",
			Help:      "Flag definition polls by outcome.",
		}, []string{"success"}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "driftline",
			Subsystem: "loader",
			Name:      "poll_duration_seconds",
			Help:      "Flag definition poll latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		evaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "driftline",
			Subsystem: "evaluation",
			Name:      "total",
			Help:      "Flag evaluations by whether they required a remote decision.",
		}, []string{"flag_key", "requires_remote"}),
		evalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "driftline",
			Subsystem: "evaluation",
			Name:      "duration_seconds",
			Help:      "Local flag evaluation latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		decisionCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "driftline",
			Subsystem: "decisioncache",
			Name:      "hits_total",
			Help:      "Decision cache hits.",
		}),
		decisionCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "driftline",
			Subsystem: "decisioncache",
			Name:      "misses_total",
			Help:      "Decision cache misses.",
		}),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "driftline",
			Subsystem: "circuit",
			Name:      "state",
			Help:      "Circuit breaker state by component (0=closed, 1=open, 2=half-open).",
		}, []string{"component"}),
	}

	collectors := []prometheus.Collector{
		p.pipelineFlushesTotal, p.pipelineItemsTotal, p.pipelineDropsTotal, p.flushDuration,
		p.pollTotal, p.pollDuration,
		p.evaluationsTotal, p.evalDuration,
		p.decisionCacheHits, p.decisionCacheMisses,
		p.circuitState,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func (p *PrometheusProvider) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	return ctx, &NoOpSpan{}
}

func (p *PrometheusProvider) RecordPipelineFlush(ctx context.Context, itemCount int, duration time.Duration, err error) {
	p.pipelineFlushesTotal.WithLabelValues(boolLabel(err == nil)).Inc()
	p.pipelineItemsTotal.Add(float64(itemCount))
	p.flushDuration.Observe(duration.Seconds())
}

func (p *PrometheusProvider) RecordPipelineDrop(ctx context.Context, reason string) {
	p.pipelineDropsTotal.WithLabelValues(reason).Inc()
}

func (p *PrometheusProvider) RecordPollResult(ctx context.Context, success bool, duration time.Duration, flagCount int) {
	p.pollTotal.WithLabelValues(boolLabel(success)).Inc()
	p.pollDuration.Observe(duration.Seconds())
}

func (p *PrometheusProvider) RecordEvaluation(ctx context.Context, flagKey string, requiresRemote bool, duration time.Duration) {
	p.evaluationsTotal.WithLabelValues(flagKey, boolLabel(requiresRemote)).Inc()
	p.evalDuration.Observe(duration.Seconds())
}

func (p *PrometheusProvider) RecordDecisionCacheHit(ctx context.Context)  { p.decisionCacheHits.Inc() }
func (p *PrometheusProvider) RecordDecisionCacheMiss(ctx context.Context) { p.decisionCacheMisses.Inc() }

func (p *PrometheusProvider) RecordCircuitState(ctx context.Context, component string, state string) {
	p.circuitState.WithLabelValues(component).Set(float64(circuitStateValue(state)))
}

func (p *PrometheusProvider) Shutdown(ctx context.Context) error {
	return nil
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
