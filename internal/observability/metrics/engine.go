package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type EngineMetrics struct {
	registry *prometheus.Registry

	turnsTotal        *prometheus.CounterVec
	bestScore         prometheus.Histogram
	stageDuration     *prometheus.HistogramVec
	shardSkips        *prometheus.CounterVec
	inferenceFailures *prometheus.CounterVec
}

func NewEngineMetrics(service string) *EngineMetrics {
	registry := prometheus.NewRegistry()

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "engine",
			Name:      "turns_total",
			Help:      "Total handled turns by routing mode.",
		},
		[]string{"service", "mode"},
	)
	bestScore := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   "ragcore",
			Subsystem:   "engine",
			Name:        "best_similarity",
			Help:        "Best retrieved dense similarity per turn.",
			Buckets:     []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragcore",
			Subsystem: "engine",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds by stage and status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "stage", "status"},
	)
	shardSkips := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "engine",
			Name:      "shard_skips_total",
			Help:      "Shards skipped during retrieval by source and reason.",
		},
		[]string{"service", "source", "reason"},
	)
	inferenceFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragcore",
			Subsystem: "engine",
			Name:      "inference_failures_total",
			Help:      "Failed external inference calls by operation.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(turnsTotal, bestScore, stageDuration, shardSkips, inferenceFailures)

	return &EngineMetrics{
		registry:          registry,
		turnsTotal:        turnsTotal,
		bestScore:         bestScore,
		stageDuration:     stageDuration,
		shardSkips:        shardSkips,
		inferenceFailures: inferenceFailures,
	}
}

func (m *EngineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *EngineMetrics) ObserveTurn(service, mode string, bestScore float64) {
	m.turnsTotal.WithLabelValues(service, mode).Inc()
	m.bestScore.Observe(bestScore)
}

func (m *EngineMetrics) ObserveStage(service, stage, status string, duration time.Duration) {
	m.stageDuration.WithLabelValues(service, stage, status).Observe(duration.Seconds())
}

func (m *EngineMetrics) ObserveShardSkip(service, source, reason string) {
	m.shardSkips.WithLabelValues(service, source, reason).Inc()
}

func (m *EngineMetrics) ObserveInferenceFailure(service, operation string) {
	m.inferenceFailures.WithLabelValues(service, operation).Inc()
}
