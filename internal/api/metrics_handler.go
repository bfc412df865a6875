package api

import (
	"net/http"

	"vigil/internal/metrics"
)

func metricsHandler(token string, registry *metrics.Registry) http.HandlerFunc {
	if registry == nil {
		registry = metrics.Default
	}
	return securityHeadersHandler(cacheControlNoStore, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !validateToken(r, token) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_ = registry.WritePrometheus(w)
	})
}
