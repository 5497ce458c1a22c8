package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alto_analytics_build_info",
			Help: "Build information of the analytics service",
		},
		[]string{"version", "commit", "date"},
	)

	StoreQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alto_analytics_store_queries_total",
			Help: "Total number of time-series store queries",
		},
		[]string{"kind", "status"},
	)

	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alto_analytics_store_query_duration_seconds",
			Help:    "Duration of time-series store queries",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 0.01s to ~41s
		},
		[]string{"kind"},
	)

	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alto_analytics_tool_calls_total",
			Help: "Total number of tool calls",
		},
		[]string{"tool_name", "status"},
	)

	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alto_analytics_tool_call_duration_seconds",
			Help:    "Duration of tool calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"tool_name"},
	)

	OrchestratorTurnsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "alto_analytics_orchestrator_turns_total",
			Help: "Total number of reasoning-service turns",
		},
	)

	OrchestratorRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alto_analytics_orchestrator_runs_total",
			Help: "Total number of orchestrator runs by stop reason",
		},
		[]string{"stop_reason"},
	)

	TemplateMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alto_analytics_template_matches_total",
			Help: "Total number of template match attempts",
		},
		[]string{"result"},
	)

	ChartRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alto_analytics_chart_requests_total",
			Help: "Total number of chart generation requests by path and outcome",
		},
		[]string{"path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alto_analytics_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alto_analytics_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alto_analytics_auth_failures_total",
			Help: "Total number of rejected MCP requests by reason",
		},
		[]string{"reason"},
	)
)
