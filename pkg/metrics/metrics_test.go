package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_NewTxMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewTxMetrics(reg)

	m.ObserveOutcome(OutcomeConfirmed)
	m.ObserveOutcome(OutcomeConfirmed)
	m.ObserveOutcome(OutcomeStuck)
	m.ReplacementsTotal.Inc()
	m.InFlight.Inc()
	m.ObserveConfirmation(time.Now().Add(-3 * time.Second))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues(OutcomeConfirmed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues(OutcomeStuck)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReplacementsTotal))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "txmgr_submissions_total")
	assert.Contains(t, names, "txmgr_confirmation_latency_seconds")
	assert.Contains(t, names, "txmgr_in_flight")
}

func Test_NewTxMetrics_NilRegisterer(t *testing.T) {
	// two instances must not collide when unregistered
	a := NewTxMetrics(nil)
	b := NewTxMetrics(nil)
	a.EstimationRetries.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.EstimationRetries))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.EstimationRetries))
}
