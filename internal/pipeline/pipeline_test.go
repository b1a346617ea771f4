package pipeline

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/nais/umami-proxy/internal/config"
	"github.com/nais/umami-proxy/internal/ingresscache"
	"github.com/nais/umami-proxy/internal/metrics"
)

// recordedRequest captures what the fake upstream actually received.
type recordedRequest struct {
	method string
	path   string
	host   string
	header http.Header
	body   []byte
}

// newTestPipeline wires a pipeline server whose Umami upstream is the given
// httptest server, with no Kubernetes watcher.
func newTestPipeline(t *testing.T, upstream *httptest.Server, cache *ingresscache.Cache) *Server {
	t.Helper()
	u, err := url.Parse(upstream.URL)
	if err != nil {
		t.Fatalf("parse upstream URL: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split upstream host: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	cfg := &config.Config{
		UmamiHost:           host,
		UmamiPort:           port,
		AmplitudeAPIKeyProd: "prod-key-123",
		LogLevel:            "error",
	}
	if cache == nil {
		cache = ingresscache.New()
	}
	return New(cfg, cache, metrics.New(), nil)
}

func recordingUpstream(t *testing.T, rec *recordedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.host = r.Host
		rec.header = r.Header.Clone()
		rec.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
}

func TestBotRejectedBeforeUpstream(t *testing.T) {
	var rec recordedRequest
	upstream := recordingUpstream(t, &rec)
	defer upstream.Close()
	s := newTestPipeline(t, upstream, nil)

	req := httptest.NewRequest(http.MethodPost, "/umami", strings.NewReader(`{}`))
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("bot request status = %d, want 403", w.Code)
	}
	if rec.method != "" {
		t.Error("bot request must not reach the upstream")
	}
}

func TestUnroutablePathRejected(t *testing.T) {
	var rec recordedRequest
	upstream := recordingUpstream(t, &rec)
	defer upstream.Close()
	s := newTestPipeline(t, upstream, nil)

	req := httptest.NewRequest(http.MethodPost, "/metrics-scrape", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("unroutable path status = %d, want 502", w.Code)
	}
	if !strings.Contains(w.Body.String(), "no_matching_peer") {
		t.Errorf("error body %q missing no_matching_peer", w.Body.String())
	}
	if rec.method != "" {
		t.Error("unroutable request must not reach the upstream")
	}
}

func TestInvalidJSONRejected(t *testing.T) {
	var rec recordedRequest
	upstream := recordingUpstream(t, &rec)
	defer upstream.Close()
	s := newTestPipeline(t, upstream, nil)

	req := httptest.NewRequest(http.MethodPost, "/umami", strings.NewReader(`{"broken":`))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "invalid_json") {
		t.Errorf("error body %q missing invalid_json", w.Body.String())
	}
	if rec.method != "" {
		t.Error("invalid body must not reach the upstream")
	}
}

func TestUmamiForwarding(t *testing.T) {
	var rec recordedRequest
	upstream := recordingUpstream(t, &rec)
	defer upstream.Close()
	s := newTestPipeline(t, upstream, nil)

	body := `{"type":"event","payload":{"url":"/home/user/file.txt","data":{"ssn":"12345678901","file":"/home/user/file.txt"}}}`
	req := httptest.NewRequest(http.MethodPost, "/umami/api/send", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://app.intern.nav.no")
	req.Header.Set("x-client-city", "Oslo")
	req.Header.Set("x-client-region", "NO")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if rec.path != "/api/send" {
		t.Errorf("upstream path = %q, want /api/send", rec.path)
	}
	if rec.host != "umami.nav.no" {
		t.Errorf("upstream Host = %q, want umami.nav.no", rec.host)
	}
	if got := rec.header.Get("X-Vercel-City"); got != "Oslo" {
		t.Errorf("X-Vercel-City = %q, want Oslo", got)
	}
	if got := rec.header.Get("X-Vercel-IP-Country"); got != "NO" {
		t.Errorf("X-Vercel-IP-Country = %q, want NO", got)
	}

	var doc map[string]any
	if err := json.Unmarshal(rec.body, &doc); err != nil {
		t.Fatalf("upstream body is not valid JSON: %v", err)
	}
	payload := doc["payload"].(map[string]any)
	if got := payload["url"]; got != "/home/user/file.txt" {
		t.Errorf("top-level payload url = %v, want filepath preserved", got)
	}
	data := payload["data"].(map[string]any)
	if got := data["ssn"]; got != "[PROXY-FNR]" {
		t.Errorf("ssn = %v, want [PROXY-FNR]", got)
	}
	if got := data["file"]; got != "[PROXY-FILEPATH]" {
		t.Errorf("nested file = %v, want [PROXY-FILEPATH]", got)
	}
	if got := doc["proxyVersion"]; got != proxyVersion {
		t.Errorf("proxyVersion = %v, want %s", got, proxyVersion)
	}
	if got := doc["api_key"]; got != "prod-key-123" {
		t.Errorf("api_key = %v, want configured production key", got)
	}
}

func TestAppInfoAnnotationFromCache(t *testing.T) {
	var rec recordedRequest
	upstream := recordingUpstream(t, &rec)
	defer upstream.Close()

	cache := ingresscache.New()
	cache.Insert("app.intern.nav.no", ingresscache.AppInfo{
		App:       "sykepenger",
		Namespace: "helse",
		Ingress:   "app.intern.nav.no",
	})
	s := newTestPipeline(t, upstream, cache)

	body := `{"type":"event","payload":{"hostname":"app.intern.nav.no/soknad","event_properties":{"step":"1"}}}`
	req := httptest.NewRequest(http.MethodPost, "/umami", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://app.intern.nav.no")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.body, &doc); err != nil {
		t.Fatalf("upstream body is not valid JSON: %v", err)
	}
	props := doc["payload"].(map[string]any)["event_properties"].(map[string]any)
	if got := props["app"]; got != "sykepenger" {
		t.Errorf("app = %v, want sykepenger", got)
	}
	if got := props["team"]; got != "helse" {
		t.Errorf("team = %v, want helse", got)
	}
	if got := props["hostname"]; got != "app.intern.nav.no" {
		t.Errorf("hostname = %v, want the Origin host", got)
	}
}

func TestFieldTooLongTruncatesAndContinues(t *testing.T) {
	var rec recordedRequest
	upstream := recordingUpstream(t, &rec)
	defer upstream.Close()
	s := newTestPipeline(t, upstream, nil)

	long := strings.Repeat("a", 600)
	body := `{"bio":"` + long + `"}`
	req := httptest.NewRequest(http.MethodPost, "/umami", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 violation report", w.Code)
	}
	if !strings.Contains(w.Body.String(), "field_too_long") {
		t.Errorf("error body %q missing field_too_long", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "bio") {
		t.Errorf("error body %q missing violating path", w.Body.String())
	}

	// The truncated document is still forwarded upstream.
	var doc map[string]any
	if err := json.Unmarshal(rec.body, &doc); err != nil {
		t.Fatalf("upstream body is not valid JSON: %v", err)
	}
	bio := doc["bio"].(string)
	if len(bio) != 500 {
		t.Errorf("forwarded bio length = %d, want 500", len(bio))
	}
	if !strings.HasSuffix(bio, "TRUNCATED") {
		t.Errorf("forwarded bio does not end with TRUNCATED")
	}
}

func TestEmptyBodyForwardedUnprocessed(t *testing.T) {
	var rec recordedRequest
	upstream := recordingUpstream(t, &rec)
	defer upstream.Close()
	s := newTestPipeline(t, upstream, nil)

	req := httptest.NewRequest(http.MethodGet, "/umami", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if len(rec.body) != 0 {
		t.Errorf("upstream body = %q, want empty", rec.body)
	}
}

func TestOriginHost(t *testing.T) {
	tests := []struct {
		origin string
		want   string
	}{
		{"https://app.nav.no", "app.nav.no"},
		{"http://localhost:3000", "localhost:3000"},
		{"app.nav.no", "app.nav.no"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := originHost(tt.origin); got != tt.want {
			t.Errorf("originHost(%q) = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestClassifyTransportError(t *testing.T) {
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()

	dialErr := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	if got := classifyTransportError(ctx, dialErr).Label(); got != "upstream_connection_failure" {
		t.Errorf("dial error label = %q", got)
	}

	readErr := &net.OpError{Op: "read", Err: errors.New("reset by peer")}
	if got := classifyTransportError(ctx, readErr).Label(); got != "connection_error" {
		t.Errorf("read error label = %q", got)
	}

	if got := classifyTransportError(ctx, errors.New("mystery")).Label(); got != "untracked_error" {
		t.Errorf("unknown error label = %q", got)
	}
}
