// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ClarificationRequestsTotal tracks clarification requests by category
	// and whether the round resolved the ambiguity.
	ClarificationRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clarification_requests_total",
			Help: "Total clarification requests",
		},
		[]string{"category", "resolved"},
	)

	// AnalysisDuration tracks clarification analysis duration by phase.
	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clarification_analysis_duration_seconds",
			Help:    "Clarification analysis duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"phase"},
	)

	// RoundsPerTurn tracks clarification rounds taken per resolved turn.
	RoundsPerTurn = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clarification_rounds_per_turn",
			Help:    "Clarification rounds taken per turn",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6},
		},
	)

	// TurnsTotal tracks turn outcomes.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turns_total",
			Help: "Total turns by outcome",
		},
		[]string{"tenant_id", "outcome"},
	)

	// LLMCallDuration tracks completion collaborator call latency.
	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_call_duration_seconds",
			Help:    "LLM completion call duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"provider", "direction"},
	)

	// ToolExecutionsTotal tracks tool executions by tool and status.
	ToolExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tool_executions_total",
			Help: "Total tool executions",
		},
		[]string{"tool", "status"},
	)

	// ConversationsBusyTotal tracks rejected concurrent requests.
	ConversationsBusyTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_busy_total",
			Help: "Requests rejected because the conversation was busy",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordClarification records a clarification round.
func RecordClarification(category string, resolved bool) {
	r := "false"
	if resolved {
		r = "true"
	}
	ClarificationRequestsTotal.WithLabelValues(category, r).Inc()
}

// RecordLLMCall records a completion collaborator call.
func RecordLLMCall(provider, status string, duration float64, tokensIn, tokensOut int) {
	LLMCallDuration.WithLabelValues(provider, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(provider, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(provider, "out").Add(float64(tokensOut))
}

// RecordTurn records a completed turn.
func RecordTurn(tenantID, outcome string, rounds int) {
	TurnsTotal.WithLabelValues(tenantID, outcome).Inc()
	RoundsPerTurn.Observe(float64(rounds))
}
