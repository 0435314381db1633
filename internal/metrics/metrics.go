package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlbridge_tool_calls_total",
			Help: "Total number of tool calls by outcome.",
		},
		[]string{"tool", "outcome"},
	)

	toolDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlbridge_tool_duration_seconds",
			Help:    "Tool call latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	completionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlbridge_completion_requests_total",
			Help: "Total number of language model requests by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	sqlGuardFlagsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlbridge_sql_guard_flags_total",
			Help: "Statements flagged as possibly mutating, by guard mode.",
		},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(toolCallsTotal, toolDurationSeconds, completionRequestsTotal, sqlGuardFlagsTotal)
}

func ObserveToolCall(tool, outcome string, d time.Duration) {
	toolCallsTotal.WithLabelValues(tool, outcome).Inc()
	toolDurationSeconds.WithLabelValues(tool).Observe(d.Seconds())
}

func ObserveCompletion(provider string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	completionRequestsTotal.WithLabelValues(provider, outcome).Inc()
}

func ObserveGuardFlag(mode string) {
	sqlGuardFlagsTotal.WithLabelValues(mode).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
