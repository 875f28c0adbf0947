package metrics

import "github.com/prometheus/client_golang/prometheus"

// Retrieval pipeline Prometheus metrics.
var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "embedding_tokens_total",
			Help:      "Total embedding tokens consumed",
		},
		[]string{"model", "type"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	GenerationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "generation_requests_total",
			Help:      "Total number of language-model generation requests",
		},
		[]string{"model", "status"},
	)

	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "parley",
			Name:      "generation_duration_seconds",
			Help:      "Generation request duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 45},
		},
		[]string{"model"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "parley",
			Name:      "queue_depth",
			Help:      "Tasks waiting in the request queue",
		},
	)

	QueueActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "parley",
			Name:      "queue_active",
			Help:      "Tasks currently executing from the request queue",
		},
	)

	QueueRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "queue_retries_total",
			Help:      "Total retry attempts performed by the request queue",
		},
	)

	RateLimitRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "rate_limit_rejected_total",
			Help:      "Requests rejected by the fixed-window rate limiter",
		},
	)

	NamespaceSearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "parley",
			Name:      "namespace_searches_total",
			Help:      "Namespace fan-out searches by outcome",
		},
		[]string{"status"}, // "ok" / "empty" / "error" / "cancelled"
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers Prometheus pipeline metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(EmbeddingRequestsTotal)
	prometheus.MustRegister(EmbeddingTokensTotal)
	prometheus.MustRegister(EmbeddingCacheTotal)
	prometheus.MustRegister(GenerationRequestsTotal)
	prometheus.MustRegister(GenerationDuration)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(QueueActive)
	prometheus.MustRegister(QueueRetriesTotal)
	prometheus.MustRegister(RateLimitRejectedTotal)
	prometheus.MustRegister(NamespaceSearchesTotal)
	pipelineMetricsRegistered = true
}
