// Package management provides a lightweight, Bearer-token-guarded HTTP API
// for runtime inspection of the running proxy: uptime, configuration, and a
// read-only view over the ingress attribution cache.
//
// Endpoint:
//
//	GET /status - proxy uptime, proxy listen port, Umami host, whether the
//	              Kubernetes watcher is disabled, ingress cache size
package management

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/nais/umami-proxy/internal/config"
	"github.com/nais/umami-proxy/internal/ingresscache"
)

// Server is the management API server.
type Server struct {
	cfg       *config.Config
	startTime time.Time
	cache     *ingresscache.Cache
	token     string // bearer token for auth; empty = no auth
}

// New creates a management server backed by the given ingress cache.
func New(cfg *config.Config, cache *ingresscache.Cache) *Server {
	s := &Server{
		cfg:       cfg,
		startTime: time.Now(),
		cache:     cache,
		token:     cfg.ManagementToken,
	}
	if s.token != "" {
		log.Printf("[MANAGEMENT] Bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the management API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	return s.authMiddleware(mux)
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			log.Printf("[MANAGEMENT] Unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status            string `json:"status"`
		Uptime            string `json:"uptime"`
		ProxyListenPort   int    `json:"proxyListenPort"`
		UmamiHost         string `json:"umamiHost"`
		DisableK8s        bool   `json:"disableK8s"`
		IngressCacheSize  int    `json:"ingressCacheSize"`
	}

	resp := response{
		Status:           "running",
		Uptime:           time.Since(s.startTime).Round(time.Second).String(),
		ProxyListenPort:  s.cfg.ProxyListenPort,
		UmamiHost:        s.cfg.UmamiHost,
		DisableK8s:       s.cfg.DisableK8s,
		IngressCacheSize: s.cache.Len(),
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[MANAGEMENT] JSON encode error: %v", err)
	}
}

// ListenAndServe starts the management HTTP server on 127.0.0.1.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.ManagementListenPort)
	log.Printf("[MANAGEMENT] Listening on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
