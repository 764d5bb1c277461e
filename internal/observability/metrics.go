// Package observability exposes the daemon's prometheus metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the control-plane and channel counters.
type Metrics struct {
	registry *prometheus.Registry

	// RPCRequests counts dispatched requests.
	// Labels: method, status (ok|error)
	RPCRequests *prometheus.CounterVec

	// Notifications counts subscription deliveries.
	// Labels: type (logs|agent.output|events.channel|events.lifecycle),
	// outcome (delivered|dropped)
	Notifications *prometheus.CounterVec

	// ChannelEvents counts canonical inbound events by channel.
	ChannelEvents *prometheus.CounterVec

	// ChannelIntents counts processed outbound intents.
	// Labels: channel, status (ok|error)
	ChannelIntents *prometheus.CounterVec

	// ActiveSessions tracks live agent sessions.
	ActiveSessions prometheus.Gauge

	// ActiveConnections tracks open control-plane connections.
	ActiveConnections prometheus.Gauge
}

// NewMetrics creates a metrics set on its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		RPCRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_rpc_requests_total",
				Help: "Total RPC requests dispatched, by method and status",
			},
			[]string{"method", "status"},
		),
		Notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_notifications_total",
				Help: "Subscription notifications, by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		ChannelEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_channel_events_total",
				Help: "Canonical inbound events, by channel",
			},
			[]string{"channel"},
		),
		ChannelIntents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "beacon_channel_intents_total",
				Help: "Outbound intents processed, by channel and status",
			},
			[]string{"channel", "status"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "beacon_active_sessions",
				Help: "Live agent sessions",
			},
		),
		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "beacon_active_connections",
				Help: "Open control-plane client connections",
			},
		),
	}
}

// Handler returns the scrape endpoint for this metrics set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
