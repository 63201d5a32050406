// Package metrics defines the Prometheus collectors the engine exposes
// for operational visibility: reliable traffic counters, NACK/resend
// pressure, fragment-reassembly outcomes and connection-table gauges.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every collector the engine updates during Update and
// the send_*/receive control-surface calls. Construct one per engine
// instance and register it with whatever prometheus.Registerer the host
// process uses.
type Registry struct {
	ReliableSent       prometheus.Counter
	ReliableReceived   prometheus.Counter
	UnreliableSent     prometheus.Counter
	UnreliableReceived prometheus.Counter
	Retransmits        prometheus.Counter
	NacksEmitted       prometheus.Counter
	NacksReceived      prometheus.Counter
	SendBufferEvicted  prometheus.Counter
	SendBufferFull     prometheus.Counter
	FragmentsCompleted prometheus.Counter
	FragmentsExpired   prometheus.Counter
	ParseErrors        prometheus.Counter

	ActiveConnections prometheus.Gauge
	WindowOccupancy   *prometheus.GaugeVec
}

// New builds a Registry with every collector labeled under the given
// namespace (typically the engine's service name).
func New(namespace string) *Registry {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reliant",
			Name:      name,
			Help:      help,
		})
	}

	return &Registry{
		ReliableSent:       counter("reliable_sent_total", "reliable datagrams sent"),
		ReliableReceived:   counter("reliable_received_total", "reliable datagrams received"),
		UnreliableSent:     counter("unreliable_sent_total", "unreliable datagrams sent"),
		UnreliableReceived: counter("unreliable_received_total", "unreliable datagrams received"),
		Retransmits:        counter("retransmits_total", "send-buffer entries retransmitted on NACK"),
		NacksEmitted:       counter("nacks_emitted_total", "NACK pairs emitted in standalone NACK datagrams"),
		NacksReceived:      counter("nacks_received_total", "NACK pairs processed from peers"),
		SendBufferEvicted:  counter("send_buffer_evicted_total", "send-buffer entries expired or resend-capped"),
		SendBufferFull:     counter("send_buffer_full_total", "sends rejected for a full send buffer"),
		FragmentsCompleted: counter("fragments_completed_total", "fragment groups reassembled"),
		FragmentsExpired:   counter("fragments_expired_total", "fragment groups expired incomplete"),
		ParseErrors:        counter("parse_errors_total", "inbound datagrams dropped for malformed wire data"),

		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reliant",
			Name:      "active_connections",
			Help:      "connections currently tracked by the connection table",
		}),
		WindowOccupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reliant",
			Name:      "send_buffer_occupancy",
			Help:      "live send-buffer entries per channel id",
		}, []string{"channel"}),
	}
}

// MustRegister registers every collector with reg, panicking on a
// duplicate-registration error (mirrors the teacher's fail-fast startup
// style for misconfiguration that can only happen once, at boot).
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		r.ReliableSent, r.ReliableReceived, r.UnreliableSent, r.UnreliableReceived,
		r.Retransmits, r.NacksEmitted, r.NacksReceived,
		r.SendBufferEvicted, r.SendBufferFull,
		r.FragmentsCompleted, r.FragmentsExpired, r.ParseErrors,
		r.ActiveConnections, r.WindowOccupancy,
	)
}
