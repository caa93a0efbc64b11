package node

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	submissions *prometheus.CounterVec
	broadcasts  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "snowdag",
			Subsystem: "node",
			Name:      "submissions_total",
			Help:      "Submitted blocks by result.",
		}, []string{"status"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "snowdag",
			Subsystem: "node",
			Name:      "broadcasts_total",
			Help:      "Blocks pushed to the ring neighbours.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.submissions, m.broadcasts)
	}

	return m
}
