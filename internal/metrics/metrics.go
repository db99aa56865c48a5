// Package metrics provides Prometheus metrics for newsimpact.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"newsimpact/internal/domain"
)

const namespace = "newsimpact"

var (
	// LLMTokens counts tokens reported by providers, by kind (input, output, cached, reasoning).
	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens reported by LLM providers",
		},
		[]string{"provider", "kind"},
	)

	// LLMCalls counts structured prompt calls by outcome.
	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Structured LLM calls by outcome",
		},
		[]string{"provider", "status"},
	)

	// LLMCallDuration measures provider round trips.
	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "Duration of structured LLM calls in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"provider"},
	)

	// Jobs counts jobs reaching a terminal state.
	Jobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Article jobs by final status",
		},
		[]string{"status"},
	)

	// Notifications counts impact notifications by outcome.
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Impact notifications by outcome",
		},
		[]string{"outcome"},
	)

	// RateLimit counts limiter acquisition results.
	RateLimit = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_acquire_total",
			Help:      "Rate limiter acquisitions by result",
		},
		[]string{"result"},
	)

	// QueueMessages counts task queue deliveries by actor and outcome.
	QueueMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_messages_total",
			Help:      "Task queue deliveries by outcome",
		},
		[]string{"actor", "outcome"},
	)
)

// UsageRecorder adapts provider usage reports to the token counters.
type UsageRecorder struct{}

// RecordUsage adds every reported token kind. Unreported kinds are left untouched.
func (UsageRecorder) RecordUsage(provider string, usage domain.Usage) {
	add := func(kind string, v *int) {
		if v != nil {
			LLMTokens.WithLabelValues(provider, kind).Add(float64(*v))
		}
	}
	add("input", usage.InputTokens)
	add("output", usage.OutputTokens)
	add("cached", usage.CachedInputTokens)
	add("reasoning", usage.ReasoningTokens)
}

// RecordLLMCall records one provider round trip.
func RecordLLMCall(provider, status string, seconds float64) {
	LLMCalls.WithLabelValues(provider, status).Inc()
	LLMCallDuration.WithLabelValues(provider).Observe(seconds)
}

// RecordJob records a job reaching status.
func RecordJob(status domain.ProcessingStatus) {
	Jobs.WithLabelValues(string(status)).Inc()
}

// RecordNotification records a notification outcome (sent, failed, enqueued, omitted, skipped).
func RecordNotification(outcome string) {
	Notifications.WithLabelValues(outcome).Inc()
}

// RecordRateLimit records whether a limiter slot was acquired.
func RecordRateLimit(acquired bool) {
	result := "acquired"
	if !acquired {
		result = "denied"
	}
	RateLimit.WithLabelValues(result).Inc()
}

// RecordQueueMessage records a queue delivery outcome (ok, retry, dead).
func RecordQueueMessage(actor, outcome string) {
	QueueMessages.WithLabelValues(actor, outcome).Inc()
}
