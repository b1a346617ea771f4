// Package pipeline implements the request-processing pipeline: the
// per-request state machine that drives a downstream analytics request
// through bot filtering, route classification, body buffering, PII
// redaction, annotation, field-length validation, header rewriting and
// upstream dispatch.
//
// Traffic flow per request:
//   - known crawlers: rejected with 403 before any processing
//   - unroutable paths: rejected in upstream-peer selection
//   - everything else: body buffered, parsed, redacted, annotated,
//     validated, re-serialized, and forwarded to the selected upstream
//
// The pipeline owns nothing shared except the ingress cache, the bot gate
// and the metrics registry, all of which are safe for concurrent use; every
// other piece of state lives in a per-request context created on arrival
// and dropped after the logging stage.
package pipeline

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nais/umami-proxy/internal/annotate"
	"github.com/nais/umami-proxy/internal/botgate"
	"github.com/nais/umami-proxy/internal/config"
	"github.com/nais/umami-proxy/internal/ingresscache"
	"github.com/nais/umami-proxy/internal/logger"
	"github.com/nais/umami-proxy/internal/metrics"
	"github.com/nais/umami-proxy/internal/perrors"
	"github.com/nais/umami-proxy/internal/redact"
	"github.com/nais/umami-proxy/internal/route"
	"github.com/nais/umami-proxy/internal/validate"
)

// Version is the semantic version stamped into every forwarded event as
// part of the proxyVersion annotation.
const Version = "1.4.0"

const proxyVersion = "umami-proxy-" + Version

// location is the client geo hint resolved from the edge headers.
type location struct {
	city    string
	country string
}

// reqContext carries the per-request state machine's mutable state. One is
// created fresh per downstream request and dropped after the logging stage.
type reqContext struct {
	body        []byte
	route       route.Route
	loc         *location
	ingressHost string
	proxyStart  time.Time
}

// Server is the pipeline's http.Handler. It holds only shared, concurrency-
// safe collaborators.
type Server struct {
	cfg       *config.Config
	gate      *botgate.Gate
	cache     *ingresscache.Cache
	metrics   *metrics.Metrics
	transport *Transport
	log       *logger.Logger

	// startWatcher is invoked through the cache's once-gate on the first
	// request, so the ingress watcher spawns lazily exactly once. Nil when
	// the watcher is disabled.
	startWatcher func()
}

// New creates the pipeline server. startWatcher may be nil to disable the
// watcher bootstrap (DISABLE_K8S, tests).
func New(cfg *config.Config, cache *ingresscache.Cache, m *metrics.Metrics, startWatcher func()) *Server {
	return &Server{
		cfg:          cfg,
		gate:         botgate.New(),
		cache:        cache,
		metrics:      m,
		transport:    NewTransport(),
		log:          logger.New("PIPELINE", cfg.LogLevel),
		startWatcher: startWatcher,
	}
}

// ServeHTTP drives one request through the full state machine:
// Arrived → Classified → BodyBuffering → BodyProcessed → UpstreamSelected →
// UpstreamSent → ResponseReceived → Logged, with terminal short-circuits for
// bots, unroutable paths, and invalid bodies.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.metrics.IncomingRequests.Inc()

	ctx := &reqContext{proxyStart: time.Now()}

	if s.startWatcher != nil {
		s.cache.StartOnce(s.startWatcher)
	}

	ctx.ingressHost = originHost(r.Header.Get("Origin"))
	if city := r.Header.Get("x-client-city"); city != "" {
		ctx.loc = &location{city: city, country: r.Header.Get("x-client-region")}
	}
	ctx.route = route.Classify(r.URL.Path)

	if s.gate.IsBot(r.Header.Get("User-Agent")) {
		s.log.Debugf("bot_reject", "ua=%q path=%s", r.Header.Get("User-Agent"), r.URL.Path)
		w.WriteHeader(http.StatusForbidden)
		s.finish(ctx, nil)
		return
	}

	err := s.process(w, r, ctx)
	s.finish(ctx, err)
}

// process runs the stages after classification. It returns the error that
// the logging stage classifies; the HTTP response has already been written
// by the time it returns.
func (s *Server) process(w http.ResponseWriter, r *http.Request, ctx *reqContext) error {
	s.metrics.UpstreamPeer.WithLabelValues(ctx.route.Kind.String()).Inc()
	peer, ok := resolvePeer(s.cfg, ctx.route)
	if !ok {
		s.metrics.InvalidPeer.Inc()
		err := perrors.NoMatchingPeer()
		s.writeErrorBody(w, http.StatusBadGateway, err)
		return err
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		perr := perrors.PrematureBodyEnd(err)
		s.writeErrorBody(w, http.StatusBadRequest, perr)
		return perr
	}
	ctx.body = body

	var violated error
	if len(body) > 0 {
		out, verr, perr := s.processBody(ctx, r.Header.Get("Content-Type"))
		if perr != nil {
			s.writeErrorBody(w, http.StatusBadRequest, perr)
			return perr
		}
		ctx.body = out
		violated = verr
	}

	resp, err := s.dispatch(r, ctx, peer)
	if err != nil {
		perr := classifyTransportError(r.Context(), err)
		s.writeErrorBody(w, http.StatusBadGateway, perr)
		return perr
	}
	defer resp.Body.Close()

	s.log.Infof("response", "status=%d reason=%s request=%s %s origin=%s",
		resp.StatusCode, http.StatusText(resp.StatusCode), r.Method, ctx.route.Path, ctx.ingressHost)

	// Field-length violations are reported to the client even though the
	// truncated document has been forwarded upstream.
	if violated != nil {
		s.writeErrorBody(w, http.StatusBadRequest, violated)
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return violated
	}

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body) //nolint:errcheck
	return nil
}

// processBody parses, redacts, annotates, validates and re-serializes the
// buffered body. violated carries a FieldTooLong error when truncation
// occurred — processing still continues with the truncated document;
// terminal is a parse or serialization failure that aborts the request.
func (s *Server) processBody(ctx *reqContext, contentType string) (out []byte, violated error, terminal *perrors.Error) {
	doc, err := parseBody(contentType, ctx.body)
	if err != nil {
		return nil, nil, perrors.InvalidJSON(err)
	}

	platform, hasPlatform := firstPlatform(doc)
	if !hasPlatform {
		annotate.WithProd(doc, s.cfg.AmplitudeAPIKeyProd)
	}

	doc = redact.Redact(doc).(map[string]any)
	annotate.WithProxyVersion(doc, proxyVersion)

	if key, ok := s.attributionKey(ctx, doc, platform, hasPlatform); ok {
		if info, hit := s.cache.LongestPrefixLookup(key); hit {
			annotate.WithAppInfo(doc, info, ctx.ingressHost)
			annotate.WithProd(doc, s.cfg.AmplitudeAPIKeyProd)
		}
	}

	if ctx.loc != nil {
		annotate.WithLocation(doc, ctx.loc.city, ctx.loc.country)
	}

	validated, violations := validate.Validate(doc)
	if len(violations) > 0 {
		s.log.Warnf("field_too_long", "%s", validate.FormatViolations(violations))
		violated = perrors.FieldTooLong(validate.FormatViolations(violations))
	}

	out, err = json.Marshal(validated)
	if err != nil {
		return nil, nil, perrors.JSONCoParseError(err)
	}
	return out, violated, nil
}

// attributionKey resolves the cache lookup key: the platform field when one
// exists, otherwise the website hostname for Umami events.
func (s *Server) attributionKey(ctx *reqContext, doc map[string]any, platform string, hasPlatform bool) (string, bool) {
	if hasPlatform {
		return platform, true
	}
	if ctx.route.Kind == route.Umami {
		return firstWebsite(doc)
	}
	return "", false
}

// dispatch rewrites the request for the selected peer and performs the
// upstream round trip. The outgoing body is the processed buffer, sent
// chunked.
func (s *Server) dispatch(r *http.Request, ctx *reqContext, peer Peer) (*http.Response, error) {
	scheme := "http"
	if peer.UseTLS {
		scheme = "https"
	}
	url := scheme + "://" + peer.Addr + upstreamPath(s.cfg, ctx.route, r.URL.RawQuery)

	req, err := http.NewRequestWithContext(r.Context(), r.Method, url, bytes.NewReader(ctx.body))
	if err != nil {
		return nil, err
	}

	copyHeader(req.Header, r.Header)
	removeHopByHop(req.Header)
	req.Header.Del("Content-Length")
	// ContentLength -1 forces Transfer-Encoding: chunked on the wire.
	req.ContentLength = -1
	req.Host = canonicalHost(ctx.route)

	if ctx.route.Kind == route.Umami && ctx.loc != nil {
		req.Header.Set("X-Vercel-IP-Country", ctx.loc.country)
		req.Header.Set("X-Vercel-City", ctx.loc.city)
	}

	return s.transport.RoundTrip(req, peer)
}

// finish is the Logged state: count the outcome and compute the duration
// kept for a future latency histogram.
func (s *Server) finish(ctx *reqContext, err error) {
	if err == nil {
		s.metrics.HandledRequests.Inc()
	} else {
		label := perrors.Label(err)
		s.metrics.ProxyErrors.WithLabelValues(label).Inc()
		s.log.Errorf("request_failed", "error=%s path=%s origin=%s", label, ctx.route.Path, ctx.ingressHost)
	}
	_ = time.Since(ctx.proxyStart)
}

// writeErrorBody writes the JSON error body for a terminal or validation
// failure. Writing after a 400-and-continue forward is best-effort.
func (s *Server) writeErrorBody(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]string{"error": perrors.Label(err), "detail": err.Error()}
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

// originHost strips the scheme from an Origin header value. A value with no
// scheme separator is treated as a bare host rather than rejected.
func originHost(origin string) string {
	if _, host, found := strings.Cut(origin, "://"); found {
		return host
	}
	return origin
}

// classifyTransportError maps a round-trip failure onto the error taxonomy.
func classifyTransportError(ctx context.Context, err error) *perrors.Error {
	var tlsErr *tls.CertificateVerificationError
	var recordErr tls.RecordHeaderError
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return perrors.ClientDisconnected(err)
	case errors.As(err, &tlsErr), errors.As(err, &recordErr):
		return perrors.SSLError(err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return perrors.UpstreamConnectionFailure(err)
		}
		return perrors.ConnectionError(err)
	}
	return perrors.Untracked(err)
}

// --- helpers ---

var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade", "Proxy-Connection",
}

func removeHopByHop(h http.Header) {
	for _, v := range hopByHopHeaders {
		h.Del(v)
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
