// Package metrics defines the Prometheus metrics of the onboarding service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SessionsStarted  *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  prometheus.Histogram
	ReplyParses      *prometheus.CounterVec
	TokensUsed       prometheus.Counter
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_sessions_started_total",
			Help: "Sessions started, labelled by whether an active session was resumed",
		}, []string{"resumed"}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_transitions_total",
			Help: "Checkpoint transition attempts by event and result",
		}, []string{"event", "result"}),
		ProviderRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_provider_requests_total",
			Help: "Text-completion calls by outcome (ok, error, skipped)",
		}, []string{"outcome"}),
		ProviderLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "onboarding_provider_latency_seconds",
			Help:    "Latency of text-completion calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 9),
		}),
		ReplyParses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "onboarding_reply_parses_total",
			Help: "Provider reply parse results (structured, passthrough)",
		}, []string{"result"}),
		TokensUsed: factory.NewCounter(prometheus.CounterOpts{
			Name: "onboarding_provider_tokens_total",
			Help: "Tokens reported by the text-completion provider",
		}),
	}
}

// SessionStarted records a started or resumed session.
func (m *Metrics) SessionStarted(resumed bool) {
	if m == nil {
		return
	}
	label := "false"
	if resumed {
		label = "true"
	}
	m.SessionsStarted.WithLabelValues(label).Inc()
}

// Transition records a transition attempt.
func (m *Metrics) Transition(event string, accepted bool) {
	if m == nil {
		return
	}
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	m.Transitions.WithLabelValues(event, result).Inc()
}

// ProviderCall records the outcome and latency of a provider call.
func (m *Metrics) ProviderCall(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.ProviderLatency.Observe(elapsed.Seconds())
	}
}

// ReplyParsed records whether a provider reply was structured.
func (m *Metrics) ReplyParsed(structured bool) {
	if m == nil {
		return
	}
	result := "passthrough"
	if structured {
		result = "structured"
	}
	m.ReplyParses.WithLabelValues(result).Inc()
}

// Tokens adds reported token usage.
func (m *Metrics) Tokens(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TokensUsed.Add(float64(n))
}
