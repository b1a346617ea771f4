// Package probe serves the liveness probe listener: a minimal HTTP handler
// that never forwards upstream and exists purely for orchestrator health
// checks.
package probe

import (
	"net/http"
	"strings"
)

// Handler returns 200 for any request path containing "is_alive" and 404
// for everything else.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "is_alive") {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
}
