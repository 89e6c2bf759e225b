package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/mechabus-gateway/internal/provider"
)

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics holds the gateway's Prometheus collectors on a private registry.
//
// The method set satisfies the Recorder interfaces declared by the hub,
// dispatcher, safety controller and uplink, so one value is shared by all
// of them.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive   *prometheus.GaugeVec
	messages         *prometheus.CounterVec
	broadcasts       prometheus.Counter
	providerCalls    *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	safetyForcedOff  *prometheus.CounterVec
	uplinkConnected  prometheus.Gauge
	uplinkDisabled   prometheus.Gauge
	uplinkReconnects prometheus.Counter
}

// New creates and registers every collector, plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mechabus_sessions_active",
			Help: "Currently open hub sessions by role.",
		}, []string{"role"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mechabus_messages_total",
			Help: "Inbound hub messages by type and outcome.",
		}, []string{"type", "outcome"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mechabus_broadcasts_total",
			Help: "State update broadcasts sent to all sessions.",
		}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mechabus_provider_calls_total",
			Help: "Backend calls by operation, provider kind and outcome.",
		}, []string{"op", "kind", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mechabus_provider_call_seconds",
			Help:    "Backend call latency by operation and provider kind.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"op", "kind"}),
		safetyForcedOff: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mechabus_safety_forced_off_total",
			Help: "Actuators forced off by an expired safety timer.",
		}, []string{"id"}),
		uplinkConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mechabus_uplink_connected",
			Help: "1 while the uplink to the peer hub is connected.",
		}),
		uplinkDisabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mechabus_uplink_disabled",
			Help: "1 once the uplink has been permanently disabled.",
		}),
		uplinkReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mechabus_uplink_reconnects_total",
			Help: "Uplink reconnection attempts scheduled after a failure.",
		}),
	}

	m.registry.MustRegister(
		m.sessionsActive,
		m.messages,
		m.broadcasts,
		m.providerCalls,
		m.providerLatency,
		m.safetyForcedOff,
		m.uplinkConnected,
		m.uplinkDisabled,
		m.uplinkReconnects,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SessionOpened increments the active session gauge for role.
func (m *Metrics) SessionOpened(role string) {
	m.sessionsActive.WithLabelValues(role).Inc()
}

// SessionClosed decrements the active session gauge for role.
func (m *Metrics) SessionClosed(role string) {
	m.sessionsActive.WithLabelValues(role).Dec()
}

// SessionRoleChanged moves one session between role gauges.
func (m *Metrics) SessionRoleChanged(from, to string) {
	m.sessionsActive.WithLabelValues(from).Dec()
	m.sessionsActive.WithLabelValues(to).Inc()
}

// MessageHandled counts one inbound message.
func (m *Metrics) MessageHandled(msgType string, err error) {
	m.messages.WithLabelValues(msgType, outcome(err)).Inc()
}

// Broadcast counts one update broadcast.
func (m *Metrics) Broadcast() {
	m.broadcasts.Inc()
}

// ProviderCall records one backend call.
func (m *Metrics) ProviderCall(op string, kind provider.Kind, err error, elapsed time.Duration) {
	m.providerCalls.WithLabelValues(op, string(kind), outcome(err)).Inc()
	m.providerLatency.WithLabelValues(op, string(kind)).Observe(elapsed.Seconds())
}

// SafetyForcedOff counts a forced-off event for id.
func (m *Metrics) SafetyForcedOff(id string) {
	m.safetyForcedOff.WithLabelValues(id).Inc()
}

// UplinkConnected sets the uplink connection gauge.
func (m *Metrics) UplinkConnected(connected bool) {
	m.uplinkConnected.Set(boolToFloat(connected))
}

// UplinkDisabled marks the uplink as permanently disabled.
func (m *Metrics) UplinkDisabled() {
	m.uplinkDisabled.Set(1)
}

// UplinkReconnectScheduled counts a scheduled reconnection.
func (m *Metrics) UplinkReconnectScheduled(time.Duration) {
	m.uplinkReconnects.Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
