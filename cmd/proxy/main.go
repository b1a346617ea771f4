// Command proxy is the privacy-enforcing analytics reverse proxy.
//
// It sits between browser-side analytics SDKs (Amplitude, Umami) and their
// upstream collectors, sanitizing every event payload in-flight: Norwegian
// PII is redacted by pattern, advertising identifiers are wiped, client IPs
// are obfuscated, overlong fields are truncated, and each event is
// annotated with the owning application resolved from a live Kubernetes
// ingress cache before being forwarded upstream.
//
// Usage:
//
//	# Defaults
//	./proxy
//
//	# Custom ports, local Umami, no Kubernetes
//	PROXY_LISTEN_PORT=8080 UMAMI_HOST=localhost UMAMI_PORT=3000 DISABLE_K8S=1 ./proxy
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nais/umami-proxy/internal/config"
	"github.com/nais/umami-proxy/internal/ingresscache"
	"github.com/nais/umami-proxy/internal/management"
	"github.com/nais/umami-proxy/internal/metrics"
	"github.com/nais/umami-proxy/internal/pipeline"
	"github.com/nais/umami-proxy/internal/probe"
)

func main() {
	cfg := config.Load()

	printBanner(cfg)

	// Shared collaborators are constructed once and injected into every
	// listener so counters and cache state stay unified.
	m := metrics.New()
	cache := ingresscache.New()

	if cfg.IngressCacheSnapshot != "" {
		snapshot, err := ingresscache.OpenSnapshot(cfg.IngressCacheSnapshot)
		if err != nil {
			log.Printf("[PROXY] Snapshot unavailable at %s: %v", cfg.IngressCacheSnapshot, err)
		} else {
			defer snapshot.Close() //nolint:errcheck
			if err := snapshot.LoadInto(cache); err != nil {
				log.Printf("[PROXY] Snapshot load error: %v", err)
			}
			cache.AttachSnapshot(snapshot)
			log.Printf("[PROXY] Warm-started ingress cache with %d hosts", cache.Len())
		}
	}

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	startWatcher := watcherStarter(watchCtx, cfg, cache)

	// Keep the ingress_count gauge current. Cheap enough to poll.
	go func() {
		for range time.Tick(15 * time.Second) {
			m.IngressCount.Set(float64(cache.Len()))
		}
	}()

	// Ancillary listeners: liveness probe, Prometheus exposition, management
	// API. Fatal is intentional for management — the proxy should not run
	// without its control plane.
	go func() {
		addr := fmt.Sprintf(":%d", cfg.ProbeListenPort)
		log.Printf("[PROBE] Listening on %s", addr)
		srv := &http.Server{Addr: addr, Handler: probe.Handler(), ReadHeaderTimeout: 10 * time.Second}
		if err := srv.ListenAndServe(); err != nil {
			log.Fatalf("[PROBE] Fatal: %v", err)
		}
	}()
	go func() {
		addr := fmt.Sprintf(":%d", cfg.MetricsListenPort)
		log.Printf("[METRICS] Listening on %s", addr)
		srv := &http.Server{Addr: addr, Handler: m.Handler(), ReadHeaderTimeout: 10 * time.Second}
		if err := srv.ListenAndServe(); err != nil {
			log.Fatalf("[METRICS] Fatal: %v", err)
		}
	}()
	mgmt := management.New(cfg, cache)
	go func() {
		if err := mgmt.ListenAndServe(); err != nil {
			log.Fatalf("[MANAGEMENT] Fatal: %v", err)
		}
	}()

	server := pipeline.New(cfg, cache, m, startWatcher)

	addr := fmt.Sprintf(":%d", cfg.ProxyListenPort)
	log.Printf("[PROXY] Listening on %s", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Printf("[PROXY] Shutting down…")
		cancelWatch()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("[PROXY] Shutdown error: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("[PROXY] Fatal: %v", err)
	}
}

// watcherStarter returns the function the pipeline's first request runs
// through the cache's once-gate: a goroutine that keeps the Kubernetes
// ingress watcher alive for the process lifetime, restarting with a fixed
// backoff on stream errors. Returns nil when the watcher is disabled.
func watcherStarter(ctx context.Context, cfg *config.Config, cache *ingresscache.Cache) func() {
	if cfg.DisableK8s {
		log.Printf("[INGRESS] Kubernetes watcher disabled")
		return nil
	}
	return func() {
		go func() {
			for {
				log.Printf("[INGRESS] Starting ingress watcher")
				if err := ingresscache.RunWatcher(ctx, cache); err != nil {
					log.Printf("[INGRESS] Watcher error: %v", err)
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(10 * time.Second):
				}
			}
		}()
	}
}

func printBanner(cfg *config.Config) {
	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║          Umami Privacy Proxy  (Go)                   ║
╚══════════════════════════════════════════════════════╝
  Proxy port      : %d
  Probe port      : %d
  Metrics port    : %d
  Umami upstream  : %s:%d
  Kubernetes      : %s

  Check liveness:
    curl http://localhost:%d/internal/is_alive
`, cfg.ProxyListenPort, cfg.ProbeListenPort, cfg.MetricsListenPort,
		cfg.UmamiHost, cfg.UmamiPort,
		k8sState(cfg), cfg.ProbeListenPort)
}

func k8sState(cfg *config.Config) string {
	if cfg.DisableK8s {
		return "disabled"
	}
	return "enabled"
}
