// File: metrics/collector.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus instrumentation for the reactor core, grounded on
// aungmyooo2k17-whisper-chat/internal/metrics/metrics.go's gauge/counter
// declaration style. Unlike that package, metrics here are collected on a
// private prometheus.Registry rather than the global default registry, so
// more than one Engine (as in tests) can exist in the same process without
// a duplicate-registration panic. The core never serves these itself; the
// application scrapes Registry() through its own promhttp.Handler, per the
// no-HTTP-server-in-core design.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector holds every metric the Engine updates on its hot paths.
type Collector struct {
	registry *prometheus.Registry

	ActiveSessions   prometheus.Gauge
	AcceptsTotal     prometheus.Counter
	DisconnectsTotal *prometheus.CounterVec
	BytesReceived    prometheus.Counter
	BytesSent        prometheus.Counter
	SendOverflows    prometheus.Counter
	PollErrors       prometheus.Counter
}

// NewCollector constructs a Collector with a fresh, private registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kanchonet_active_sessions",
			Help: "Current number of connected sessions.",
		}),
		AcceptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kanchonet_accepts_total",
			Help: "Total number of sessions accepted.",
		}),
		DisconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kanchonet_disconnects_total",
			Help: "Total number of sessions disconnected, labeled by reason.",
		}, []string{"reason"}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kanchonet_bytes_received_total",
			Help: "Total bytes received across all sessions.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kanchonet_bytes_sent_total",
			Help: "Total bytes sent across all sessions.",
		}),
		SendOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kanchonet_send_overflows_total",
			Help: "Total number of Send calls that overflowed a session's send ring.",
		}),
		PollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kanchonet_poll_errors_total",
			Help: "Total number of errors returned by the reactor's Poll call.",
		}),
	}
	c.registry.MustRegister(
		c.ActiveSessions,
		c.AcceptsTotal,
		c.DisconnectsTotal,
		c.BytesReceived,
		c.BytesSent,
		c.SendOverflows,
		c.PollErrors,
	)
	return c
}

// Registry exposes the private registry so the application can mount its
// own promhttp.Handler over it.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
