package pipeline

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/nais/umami-proxy/internal/config"
	"github.com/nais/umami-proxy/internal/route"
)

// Canonical upstream hosts and paths. Amplitude has no corresponding
// environment variable — unlike Umami, its endpoint is not deployment-local
// and is always dialed directly.
const (
	amplitudeHost = "api.eu.amplitude.com"
	amplitudePort = 443
	amplitudePath = "/2/httpapi"
	umamiPath     = "/api/send"
)

// Peer describes one resolved upstream: where to dial, whether to speak
// TLS, and under what SNI name.
type Peer struct {
	Name      string
	Addr      string
	UseTLS    bool
	SNI       string
	Keepalive bool
}

// resolvePeer constructs a Peer from configuration for the given route.
// Unexpected routes have no peer.
func resolvePeer(cfg *config.Config, r route.Route) (Peer, bool) {
	switch r.Kind {
	case route.Umami:
		return Peer{
			Name:   "umami",
			Addr:   fmt.Sprintf("%s:%d", cfg.UmamiHost, cfg.UmamiPort),
			UseTLS: cfg.UsesTLS(),
			SNI:    cfg.UmamiSNI,
		}, true
	case route.Amplitude:
		return Peer{
			Name:      "amplitude",
			Addr:      fmt.Sprintf("%s:%d", amplitudeHost, amplitudePort),
			UseTLS:    true,
			SNI:       amplitudeHost,
			Keepalive: true,
		}, true
	case route.AmplitudeCollect:
		return Peer{
			Name:      "amplitude_collect",
			Addr:      fmt.Sprintf("%s:%d", amplitudeHost, amplitudePort),
			UseTLS:    true,
			SNI:       amplitudeHost,
			Keepalive: true,
		}, true
	default:
		return Peer{}, false
	}
}

// upstreamPath returns the rewritten request path for r, with cfg's
// optional path prefix prepended for Umami, preserving the query string.
func upstreamPath(cfg *config.Config, r route.Route, rawQuery string) string {
	path := amplitudePath
	if r.Kind == route.Umami {
		path = umamiPath
		if cfg.UmamiPath != "" {
			path = cfg.UmamiPath + path
		}
	}
	if rawQuery != "" {
		return path + "?" + rawQuery
	}
	return path
}

// canonicalHost returns the Host header value the upstream expects,
// independent of the address actually dialed.
func canonicalHost(r route.Route) string {
	if r.Kind == route.Umami {
		return "umami.nav.no"
	}
	return amplitudeHost
}

// Transport dispatches upstream requests, configuring HTTP/2 and per-peer
// TLS/keepalive behavior.
type Transport struct {
	base *http.Transport
}

// NewTransport builds the shared outbound transport. HTTP/2 is layered onto
// the base http.Transport so upstream connections negotiate h2 when the
// collector supports it.
func NewTransport() *Transport {
	base := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	_ = http2.ConfigureTransport(base) // best-effort; h1 still works if this fails

	return &Transport{base: base}
}

// RoundTrip dispatches req to peer, applying peer-specific TLS SNI and TCP
// keepalive tuning without mutating the shared base transport.
func (t *Transport) RoundTrip(req *http.Request, peer Peer) (*http.Response, error) {
	client := t.base

	if peer.UseTLS && peer.SNI != "" {
		clone := client.Clone()
		clone.TLSClientConfig = &tls.Config{ServerName: peer.SNI, MinVersion: tls.VersionTLS12}
		client = clone
	}

	if peer.Keepalive {
		clone := client.Clone()
		clone.DialContext = (&net.Dialer{
			Timeout: 10 * time.Second,
			KeepAliveConfig: net.KeepAliveConfig{
				Enable:   true,
				Idle:     120 * time.Second,
				Interval: 5 * time.Second,
				Count:    3,
			},
		}).DialContext
		client = clone
	}

	return client.RoundTrip(req)
}
