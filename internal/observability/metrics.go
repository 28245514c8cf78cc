package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects engine metrics:
//   - Frames routed by kind, plus parse drops
//   - Reconnect attempts and heartbeats on the transport link
//   - REST call failures by error class
//   - Current link state (0 disconnected, 1 connecting, 2 connected)
//
// All methods are safe on a nil receiver so components can run
// unmetered (tests, embedded use).
type Metrics struct {
	// FramesRouted counts inbound frames by kind. Unknown kinds are
	// counted under "unknown".
	FramesRouted *prometheus.CounterVec

	// FramesDropped counts inbound frames dropped for parse or shape
	// errors.
	FramesDropped prometheus.Counter

	// ReconnectAttempts counts transport reconnect attempts.
	ReconnectAttempts prometheus.Counter

	// HeartbeatsSent counts ping frames written by the heartbeat.
	HeartbeatsSent prometheus.Counter

	// RESTErrors counts failed REST calls by error class.
	RESTErrors *prometheus.CounterVec

	// LinkState is the current transport state as a gauge.
	LinkState prometheus.Gauge
}

// NewMetrics creates the engine metrics and registers them with reg.
// Passing prometheus.DefaultRegisterer exposes them on the standard
// /metrics endpoint.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesRouted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_frames_routed_total",
				Help: "Inbound frames dispatched, by frame kind.",
			},
			[]string{"kind"},
		),
		FramesDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chatsync_frames_dropped_total",
				Help: "Inbound frames dropped due to parse or shape errors.",
			},
		),
		ReconnectAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chatsync_reconnect_attempts_total",
				Help: "Transport reconnect attempts.",
			},
		),
		HeartbeatsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chatsync_heartbeats_sent_total",
				Help: "Ping frames sent by the transport heartbeat.",
			},
		),
		RESTErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_rest_errors_total",
				Help: "Failed REST calls, by error class.",
			},
			[]string{"class"},
		),
		LinkState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatsync_link_state",
				Help: "Transport link state: 0 disconnected, 1 connecting, 2 connected.",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.FramesRouted,
			m.FramesDropped,
			m.ReconnectAttempts,
			m.HeartbeatsSent,
			m.RESTErrors,
			m.LinkState,
		)
	}
	return m
}

// FrameRouted records a dispatched frame of the given kind.
func (m *Metrics) FrameRouted(kind string) {
	if m == nil {
		return
	}
	m.FramesRouted.WithLabelValues(kind).Inc()
}

// FrameDropped records a dropped inbound frame.
func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

// ReconnectAttempt records one transport reconnect attempt.
func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

// HeartbeatSent records one heartbeat ping.
func (m *Metrics) HeartbeatSent() {
	if m == nil {
		return
	}
	m.HeartbeatsSent.Inc()
}

// RESTError records a failed REST call of the given class.
func (m *Metrics) RESTError(class string) {
	if m == nil {
		return
	}
	m.RESTErrors.WithLabelValues(class).Inc()
}

// SetLinkState records the current transport state.
func (m *Metrics) SetLinkState(state float64) {
	if m == nil {
		return
	}
	m.LinkState.Set(state)
}
