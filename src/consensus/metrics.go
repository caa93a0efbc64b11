package consensus

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the consensus counters exported to Prometheus.
type Metrics struct {
	Rounds   prometheus.Counter
	Sessions *prometheus.CounterVec
	Active   prometheus.Gauge
}

// NewMetrics creates the consensus metrics and registers them with reg, unless
// reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "snowdag",
			Subsystem: "consensus",
			Name:      "rounds_total",
			Help:      "Snowball rounds executed.",
		}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snowdag",
			Subsystem: "consensus",
			Name:      "sessions_total",
			Help:      "Snowball sessions by outcome.",
		}, []string{"outcome"}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "snowdag",
			Subsystem: "consensus",
			Name:      "active_sessions",
			Help:      "Snowball sessions currently running.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Rounds, m.Sessions, m.Active)
	}

	return m
}
