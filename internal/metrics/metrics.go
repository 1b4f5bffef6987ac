// Package metrics exposes Prometheus collectors for the data lifecycle.
//
// All methods are safe on a nil *Metrics, so components can be built
// without instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "playersync"

// Result labels.
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultAborted   = "aborted"
	ResultDiscarded = "discarded"
)

type Metrics struct {
	loads     *prometheus.CounterVec
	saves     *prometheus.CounterVec
	active    *prometheus.GaugeVec
	attempts  *prometheus.CounterVec
	takeovers *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      "Holder loads by kind and result.",
		}, []string{"kind", "result"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "Holder saves by kind, mode and result.",
		}, []string{"kind", "mode", "result"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_holders",
			Help:      "Holders currently registered in the active map.",
		}, []string{"kind"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_attempts_total",
			Help:      "Handshake attempts against a table.",
		}, []string{"table"}),
		takeovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_takeovers_total",
			Help:      "Rows claimed after the retry ceiling was exceeded.",
		}, []string{"table"}),
	}

	for _, c := range []prometheus.Collector{m.loads, m.saves, m.active, m.attempts, m.takeovers} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Load(kind, result string) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Save(kind string, autosave bool, result string) {
	if m == nil {
		return
	}
	mode := "final"
	if autosave {
		mode = "autosave"
	}
	m.saves.WithLabelValues(kind, mode, result).Inc()
}

func (m *Metrics) SetActive(kind string, n int) {
	if m == nil {
		return
	}
	m.active.WithLabelValues(kind).Set(float64(n))
}

func (m *Metrics) SyncAttempt(table string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(table).Inc()
}

func (m *Metrics) SyncTakeover(table string) {
	if m == nil {
		return
	}
	m.takeovers.WithLabelValues(table).Inc()
}
