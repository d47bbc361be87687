// Package metrics holds the Prometheus collectors of the relay.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SessionsCurrent = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "callrelay",
		Subsystem: "session",
		Name:      "current",
		Help:      "The current number of open sessions",
	}, []string{"kind"})
	SessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "callrelay",
		Subsystem: "session",
		Name:      "created_total",
		Help:      "The total number of created sessions",
	}, []string{"kind"})
	SessionsEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "callrelay",
		Subsystem: "session",
		Name:      "ended_total",
		Help:      "The total number of ended sessions by reason",
	}, []string{"kind", "reason"})
	SignalsRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "callrelay",
		Subsystem: "signal",
		Name:      "relayed_total",
		Help:      "The total number of relayed signaling messages",
	}, []string{"kind", "delivery"})
	SignalsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "callrelay",
		Subsystem: "signal",
		Name:      "dropped_total",
		Help:      "The total number of signaling messages dropped on a full pair queue",
	})
	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "callrelay",
		Subsystem: "session",
		Name:      "held_dropped_total",
		Help:      "The total number of session events dropped while a participant was unreachable",
	})
	Reconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "callrelay",
		Subsystem: "participant",
		Name:      "reconnects_total",
		Help:      "The total number of transport losses by outcome",
	}, []string{"outcome"})
	ConnectionsCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "callrelay",
		Subsystem: "hub",
		Name:      "connections",
		Help:      "The current number of live client connections",
	})
	PushSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "callrelay",
		Subsystem: "push",
		Name:      "sent_total",
		Help:      "The total number of incoming call push notifications by result",
	}, []string{"result"})

	collectors = []prometheus.Collector{
		SessionsCurrent,
		SessionsTotal,
		SessionsEnded,
		SignalsRelayed,
		SignalsDropped,
		EventsDropped,
		Reconnects,
		ConnectionsCurrent,
		PushSent,
	}

	registerOnce sync.Once
)

// Register adds all collectors to the default registry. Safe to call twice.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(collectors...)
	})
}
