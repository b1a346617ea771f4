// Package metrics exposes the proxy's Prometheus counters and gauges over
// their own registry, served by a dedicated HTTP listener separate from the
// downstream proxy and probe listeners.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge exposed on the metrics listener.
type Metrics struct {
	registry *prometheus.Registry

	IncomingRequests prometheus.Counter
	HandledRequests  prometheus.Counter
	ProxyErrors      *prometheus.CounterVec
	UpstreamPeer     *prometheus.CounterVec
	InvalidPeer      prometheus.Counter
	IngressCount     prometheus.Gauge
}

// New constructs a fresh registry and registers every metric against it.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		IncomingRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "incoming_requests_total",
			Help: "Total number of requests received from downstream clients.",
		}),
		HandledRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "handled_requests_total",
			Help: "Total number of requests handled without error.",
		}),
		ProxyErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_errors_total",
			Help: "Total number of requests that failed, by error label.",
		}, []string{"error"}),
		UpstreamPeer: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "upstream_peer_total",
			Help: "Total number of requests dispatched, by selected upstream peer.",
		}, []string{"peer"}),
		InvalidPeer: factory.NewCounter(prometheus.CounterOpts{
			Name: "invalid_peer_total",
			Help: "Total number of requests that could not be routed to any upstream peer.",
		}),
		IngressCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ingress_count",
			Help: "Current number of ingress hosts held in the attribution cache.",
		}),
	}
}

// Handler serves the Prometheus text exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
