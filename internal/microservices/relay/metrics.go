package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Connections     *prometheus.GaugeVec
	FramesReceived  *prometheus.CounterVec
	FramesRelayed   *prometheus.CounterVec
	FramesDropped   *prometheus.CounterVec
	ProtocolErrors  *prometheus.CounterVec
	Registrations   *prometheus.CounterVec
	Evictions       prometheus.Counter
	HeartbeatSweeps prometheus.Counter
}

// NewMetrics creates the relay collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "connections",
			Help:      "Open connections by role.",
		}, []string{"role"}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "frames_received_total",
			Help:      "Inbound data frames by sender role.",
		}, []string{"role"}),
		FramesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "frames_relayed_total",
			Help:      "Frames delivered to a destination queue.",
		}, []string{"from", "to"}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because the destination was closed or full.",
		}, []string{"to"}),
		ProtocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "protocol_errors_total",
			Help:      "Frames answered with an error frame.",
		}, []string{"reason"}),
		Registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "registrations_total",
			Help:      "Accepted registrations by role.",
		}, []string{"role"}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "liveness_evictions_total",
			Help:      "Connections terminated for missing a heartbeat.",
		}),
		HeartbeatSweeps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "heartbeat_sweeps_total",
			Help:      "Completed liveness sweeps.",
		}),
	}
}

// NewMetricsRegistry returns a registry with the relay collectors and the Go
// runtime collectors.
func NewMetricsRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, NewMetrics(reg)
}

// MetricsHandler exposes reg in the Prometheus text format.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) observeConnections(counts map[Role]int) {
	if m == nil {
		return
	}
	for role, n := range counts {
		m.Connections.WithLabelValues(role.String()).Set(float64(n))
	}
}

func (m *Metrics) frameReceived(from Role) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(from.String()).Inc()
}

func (m *Metrics) delivered(from, to Role, recipients, dropped int) {
	if m == nil {
		return
	}
	m.FramesRelayed.WithLabelValues(from.String(), to.String()).Add(float64(recipients))
	if dropped > 0 {
		m.FramesDropped.WithLabelValues(to.String()).Add(float64(dropped))
	}
}

func (m *Metrics) protocolError(reason string) {
	if m == nil {
		return
	}
	m.ProtocolErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) registered(role Role) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(role.String()).Inc()
}

func (m *Metrics) sweep(evicted int) {
	if m == nil {
		return
	}
	m.HeartbeatSweeps.Inc()
	m.Evictions.Add(float64(evicted))
}
