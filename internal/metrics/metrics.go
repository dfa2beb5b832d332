package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for bus and machine activity. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	published   prometheus.Counter
	delivered   prometheus.Counter
	buffered    prometheus.Counter
	dropped     prometheus.Counter
	failures    *prometheus.CounterVec
	flushed     prometheus.Counter
	subscribers prometheus.Gauge
	transitions *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		published: f.NewCounter(prometheus.CounterOpts{
			Name: "echofsm_bus_published_total",
			Help: "Events published on the bus",
		}),
		delivered: f.NewCounter(prometheus.CounterOpts{
			Name: "echofsm_bus_delivered_total",
			Help: "Events emitted to a connected subscriber's sink at publish time",
		}),
		buffered: f.NewCounter(prometheus.CounterOpts{
			Name: "echofsm_bus_buffered_total",
			Help: "Events buffered for an offline subscriber",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "echofsm_bus_dropped_total",
			Help: "Buffered events evicted by a full subscriber buffer",
		}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echofsm_bus_delivery_failures_total",
			Help: "Sink failures during delivery",
		}, []string{"subscriber"}),
		flushed: f.NewCounter(prometheus.CounterOpts{
			Name: "echofsm_bus_flushed_total",
			Help: "Buffered events emitted when a subscriber reconnected",
		}),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "echofsm_bus_subscribers",
			Help: "Registered subscribers",
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echofsm_fsm_symbols_total",
			Help: "Symbols applied to state machines, by outcome",
		}, []string{"machine", "outcome"}),
	}
}

func (m *Metrics) Published() {
	if m == nil {
		return
	}
	m.published.Inc()
}

func (m *Metrics) Delivered() {
	if m == nil {
		return
	}
	m.delivered.Inc()
}

func (m *Metrics) Buffered() {
	if m == nil {
		return
	}
	m.buffered.Inc()
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) Failed(subscriber string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(subscriber).Inc()
}

func (m *Metrics) Flushed(n int) {
	if m == nil {
		return
	}
	m.flushed.Add(float64(n))
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

// Symbol counts one Apply on the named machine. outcome is "applied" or "rejected".
func (m *Metrics) Symbol(machine, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(machine, outcome).Inc()
}
