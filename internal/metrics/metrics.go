package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Service metrics for production monitoring
var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsguide_ai_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsguide_ai_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Decision request metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsguide_ai_requests_total",
			Help: "Total number of operational requests processed",
		},
		[]string{"mode", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsguide_ai_request_duration_seconds",
			Help:    "Operational request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"mode"},
	)

	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsguide_ai_classifications_total",
			Help: "Total number of classifications by task",
		},
		[]string{"task"}, // task: task id or "none"
	)

	// Augmented pipeline metrics
	PipelineNodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsguide_ai_pipeline_node_duration_seconds",
			Help:    "Augmented pipeline node duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"node", "status"},
	)

	PipelineFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsguide_ai_pipeline_fallbacks_total",
			Help: "Total number of augmented pipelines that fell back to the fast path",
		},
		[]string{"node"}, // node that failed first, or "timeout"/"panic"
	)

	// Step execution metrics
	StepExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsguide_ai_step_executions_total",
			Help: "Total number of step execution calls",
		},
		[]string{"type", "status"},
	)

	DownstreamCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsguide_ai_downstream_calls_total",
			Help: "Total number of calls to the downstream operational API",
		},
		[]string{"method", "outcome"}, // outcome: ok/error
	)

	DownstreamCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsguide_ai_downstream_call_duration_seconds",
			Help:    "Downstream operational API call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"method"},
	)

	FailOpenSubstitutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsguide_ai_fail_open_total",
			Help: "Total number of downstream failures replaced by a success result",
		},
		[]string{"type"},
	)

	ApprovalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsguide_ai_approvals_total",
			Help: "Total number of approval records written",
		},
		[]string{"decision"},
	)

	// LLM metrics
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsguide_ai_llm_requests_total",
			Help: "Total number of LLM API requests",
		},
		[]string{"provider", "model", "status"},
	)

	LLMTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsguide_ai_llm_tokens_total",
			Help: "Total number of LLM tokens consumed",
		},
		[]string{"provider", "model", "type"}, // type: input/output
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsguide_ai_llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"provider", "model"},
	)

	// Cache metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsguide_ai_cache_lookups_total",
			Help: "Total number of cache lookups",
		},
		[]string{"cache", "result"}, // result: hit/miss
	)

	// Rate limiting
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opsguide_ai_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "opsguide_ai_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsguide_ai_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: inbound/outbound
	)
)
