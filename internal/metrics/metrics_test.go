package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.Load("player", ResultOK)
	m.Load("player", ResultOK)
	m.Load("player", ResultError)
	m.Save("player", true, ResultOK)
	m.Save("player", false, ResultOK)
	m.SetActive("player", 3)
	m.SyncAttempt("player_data")
	m.SyncTakeover("player_data")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.loads.WithLabelValues("player", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loads.WithLabelValues("player", ResultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.saves.WithLabelValues("player", "autosave", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.saves.WithLabelValues("player", "final", ResultOK)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.active.WithLabelValues("player")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("player_data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.takeovers.WithLabelValues("player_data")))
}

func TestMetrics_DoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Load("k", ResultOK)
		m.Save("k", true, ResultOK)
		m.SetActive("k", 1)
		m.SyncAttempt("t")
		m.SyncTakeover("t")
	})
}
