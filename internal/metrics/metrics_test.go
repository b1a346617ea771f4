package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIncomingRequestsCounter(t *testing.T) {
	m := New()
	m.IncomingRequests.Inc()
	m.IncomingRequests.Inc()
	if got := testutil.ToFloat64(m.IncomingRequests); got != 2 {
		t.Errorf("expected 2, got %v", got)
	}
}

func TestProxyErrorsVecByLabel(t *testing.T) {
	m := New()
	m.ProxyErrors.WithLabelValues("invalid_json").Inc()
	m.ProxyErrors.WithLabelValues("invalid_json").Inc()
	m.ProxyErrors.WithLabelValues("no_matching_peer").Inc()

	if got := testutil.ToFloat64(m.ProxyErrors.WithLabelValues("invalid_json")); got != 2 {
		t.Errorf("expected 2 invalid_json errors, got %v", got)
	}
	if got := testutil.ToFloat64(m.ProxyErrors.WithLabelValues("no_matching_peer")); got != 1 {
		t.Errorf("expected 1 no_matching_peer error, got %v", got)
	}
}

func TestUpstreamPeerVecByLabel(t *testing.T) {
	m := New()
	m.UpstreamPeer.WithLabelValues("umami").Inc()
	if got := testutil.ToFloat64(m.UpstreamPeer.WithLabelValues("umami")); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
}

func TestIngressCountGauge(t *testing.T) {
	m := New()
	m.IngressCount.Set(42)
	if got := testutil.ToFloat64(m.IngressCount); got != 42 {
		t.Errorf("expected 42, got %v", got)
	}
}

func TestHandlerExposesPrometheusText(t *testing.T) {
	m := New()
	m.HandledRequests.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "handled_requests_total") {
		t.Errorf("expected handled_requests_total in exposition, got %q", body)
	}
}
