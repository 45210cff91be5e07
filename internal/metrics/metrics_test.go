package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	m.Transition("next", true)
	m.Transition("next", false)
	m.Transition("next", false)
	m.ProviderCall("error", 150*time.Millisecond)
	m.Tokens(42)
	m.Tokens(-1)
	m.ReplyParsed(false)
	m.SessionStarted(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("next", "accepted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("next", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderRequests.WithLabelValues("error")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.TokensUsed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReplyParses.WithLabelValues("passthrough")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsStarted.WithLabelValues("true")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.Transition("next", true)
	m.ProviderCall("ok", time.Second)
	m.Tokens(1)
	m.ReplyParsed(true)
	m.SessionStarted(false)
}
