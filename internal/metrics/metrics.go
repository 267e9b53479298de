package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Query metrics
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_queries_total",
			Help: "Research queries answered, by routing category and outcome",
		},
		[]string{"category", "status"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atlas_query_duration_seconds",
			Help:    "End-to-end query latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
		},
		[]string{"category"},
	)

	QueryTokensUsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "atlas_query_tokens_used",
			Help:    "Tokens used per query across all stages",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000},
		},
	)

	QueryCostUSD = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "atlas_query_cost_usd",
			Help:    "Estimated cost in USD per query",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1},
		},
	)

	// Routing metrics
	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_routing_decisions_total",
			Help: "Classifier decisions by category; fallback marks the default route",
		},
		[]string{"category", "fallback"},
	)

	RoutingCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_routing_cache_total",
			Help: "Routing cache lookups by result",
		},
		[]string{"result"},
	)

	// Agent metrics
	AgentExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_agent_executions_total",
			Help: "Agent executions by agent and outcome",
		},
		[]string{"agent", "status"},
	)

	AgentExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atlas_agent_execution_duration_ms",
			Help:    "Agent execution duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"agent"},
	)

	RejectedQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_generated_sql_rejected_total",
			Help: "Generated query text refused by the read-only validator",
		},
		[]string{"agent"},
	)

	StoreRowsReturned = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atlas_store_rows_returned",
			Help:    "Rows returned per structured store query",
			Buckets: []float64{0, 1, 10, 50, 100, 250, 500, 1000},
		},
		[]string{"store"},
	)

	// Synthesis metrics
	SynthesisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "atlas_synthesis_duration_seconds",
			Help:    "Answer synthesis latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SynthesisErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atlas_synthesis_errors_total",
			Help: "Synthesis calls that failed",
		},
	)

	CaveatedAnswers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atlas_caveated_answers_total",
			Help: "Answers produced with no successful agent",
		},
	)

	// Vector DB metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_vector_search_total",
			Help: "Total number of vector searches",
		},
		[]string{"collection", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atlas_vector_search_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atlas_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	EmbeddingCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_embedding_cache_hits_total",
			Help: "Embedding cache hits by tier",
		},
		[]string{"tier"},
	)

	EmbeddingCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atlas_embedding_cache_misses_total",
			Help: "Embedding cache misses",
		},
	)

	// Pricing fallback metrics
	PricingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_pricing_fallback_total",
			Help: "Total number of pricing fallbacks (missing/unknown model)",
		},
		[]string{"reason"},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_http_requests_total",
			Help: "HTTP API requests by route and status code",
		},
		[]string{"route", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atlas_http_request_duration_seconds",
			Help:    "HTTP API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atlas_http_rate_limited_total",
			Help: "Requests refused by the per-client rate limiter",
		},
	)
)

// RecordQueryMetrics records metrics for a completed query
func RecordQueryMetrics(category, status string, durationSeconds float64, tokensUsed int, costUSD float64) {
	QueriesTotal.WithLabelValues(category, status).Inc()
	QueryDuration.WithLabelValues(category).Observe(durationSeconds)

	if tokensUsed > 0 {
		QueryTokensUsed.Observe(float64(tokensUsed))
	}
	if costUSD > 0 {
		QueryCostUSD.Observe(costUSD)
	}
}

// RecordAgentMetrics records metrics for an agent execution
func RecordAgentMetrics(agent string, success bool, durationMs float64) {
	AgentExecutions.WithLabelValues(agent, statusLabel(success)).Inc()
	AgentExecutionDuration.WithLabelValues(agent).Observe(durationMs)
}

// RecordVectorSearchMetrics records vector search metrics
func RecordVectorSearchMetrics(collection, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(collection, status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.WithLabelValues(collection).Observe(durationSeconds)
	}
}

// RecordEmbeddingMetrics records embedding metrics
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
