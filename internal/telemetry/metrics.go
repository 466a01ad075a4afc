package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// MetricsRegistry holds all Prometheus metrics for the scoring engine
type MetricsRegistry struct {
	// Recalculation metrics
	RecalcDuration *prometheus.HistogramVec
	RecalcErrors   *prometheus.CounterVec

	// Sweep metrics
	SweepDeals    *prometheus.CounterVec
	SweepDuration prometheus.Histogram

	// Lifecycle metrics
	LifecycleTransitions *prometheus.CounterVec
	LoggingFailures      prometheus.Counter

	// Aggregate cache metrics
	CacheHitRatio prometheus.Gauge
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec

	// System metrics
	PipelineDeals  prometheus.Gauge
	StreamClients  prometheus.Gauge
	NotifyFailures prometheus.Counter
}

var (
	registry *MetricsRegistry
	once     sync.Once
)

// Initialize sets up the global metrics registry. Safe to call more than once.
func Initialize() *MetricsRegistry {
	once.Do(func() {
		registry = newMetricsRegistry()
	})
	return registry
}

// Get returns the global metrics registry, initializing it if needed
func Get() *MetricsRegistry {
	return Initialize()
}

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	Initialize()
	return promhttp.Handler()
}

func newMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		RecalcDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dealscore_recalc_duration_seconds",
				Help:    "Duration of per-deal recalculations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"trigger", "result"},
		),

		RecalcErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealscore_recalc_errors_total",
				Help: "Total recalculation failures by stage",
			},
			[]string{"stage"},
		),

		SweepDeals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealscore_sweep_deals_total",
				Help: "Deals processed by the daily sweep, by outcome",
			},
			[]string{"result"},
		),

		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dealscore_sweep_duration_seconds",
				Help:    "Duration of full daily sweeps in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
		),

		LifecycleTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealscore_lifecycle_transitions_total",
				Help: "Accepted lifecycle transitions by kind",
			},
			[]string{"kind"},
		),

		LoggingFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dealscore_ledger_write_failures_total",
				Help: "History/audit appends that failed without rolling back the score",
			},
		),

		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dealscore_cache_hit_ratio",
				Help: "Aggregate cache hit ratio (0.0 to 1.0)",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealscore_cache_hits_total",
				Help: "Total cache hits by cache type",
			},
			[]string{"cache_type"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealscore_cache_misses_total",
				Help: "Total cache misses by cache type",
			},
			[]string{"cache_type"},
		),

		PipelineDeals: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dealscore_pipeline_deals",
				Help: "Deals currently in the active pipeline",
			},
		),

		StreamClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dealscore_stream_clients",
				Help: "Connected score-stream websocket clients",
			},
		),

		NotifyFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dealscore_notify_failures_total",
				Help: "Outbound webhook notifications that failed or were rejected by the breaker",
			},
		),
	}

	prometheus.MustRegister(
		m.RecalcDuration,
		m.RecalcErrors,
		m.SweepDeals,
		m.SweepDuration,
		m.LifecycleTransitions,
		m.LoggingFailures,
		m.CacheHitRatio,
		m.CacheHits,
		m.CacheMisses,
		m.PipelineDeals,
		m.StreamClients,
		m.NotifyFailures,
	)

	return m
}

// RecalcTimer tracks execution time for one recalculation
type RecalcTimer struct {
	metrics *MetricsRegistry
	trigger string
	start   time.Time
}

// StartRecalcTimer begins timing a recalculation
func (m *MetricsRegistry) StartRecalcTimer(trigger string) *RecalcTimer {
	return &RecalcTimer{
		metrics: m,
		trigger: trigger,
		start:   time.Now(),
	}
}

// Stop completes the timing and records the metric
func (t *RecalcTimer) Stop(result string) {
	duration := time.Since(t.start)
	t.metrics.RecalcDuration.WithLabelValues(t.trigger, result).Observe(duration.Seconds())

	log.Debug().
		Str("trigger", t.trigger).
		Str("result", result).
		Dur("duration", duration).
		Msg("Recalculation completed")
}

// RecordCacheHit records a cache hit for the specified cache type
func (m *MetricsRegistry) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
	m.updateCacheHitRatio()
}

// RecordCacheMiss records a cache miss for the specified cache type
func (m *MetricsRegistry) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
	m.updateCacheHitRatio()
}

// RecordTransition records an accepted lifecycle transition
func (m *MetricsRegistry) RecordTransition(kind string) {
	m.LifecycleTransitions.WithLabelValues(kind).Inc()
}

// RecordRecalcError records a recalculation failure
func (m *MetricsRegistry) RecordRecalcError(stage string) {
	m.RecalcErrors.WithLabelValues(stage).Inc()
}

func (m *MetricsRegistry) updateCacheHitRatio() {
	hit := &io_prometheus_client.Metric{}
	miss := &io_prometheus_client.Metric{}

	totalHits := 0.0
	totalMisses := 0.0
	for _, cacheType := range []string{"pipeline"} {
		if c, err := m.CacheHits.GetMetricWithLabelValues(cacheType); err == nil {
			if err := c.Write(hit); err == nil {
				totalHits += hit.GetCounter().GetValue()
			}
		}
		if c, err := m.CacheMisses.GetMetricWithLabelValues(cacheType); err == nil {
			if err := c.Write(miss); err == nil {
				totalMisses += miss.GetCounter().GetValue()
			}
		}
	}

	if total := totalHits + totalMisses; total > 0 {
		m.CacheHitRatio.Set(totalHits / total)
	}
}
