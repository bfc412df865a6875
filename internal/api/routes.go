// Package api serves the daemon's HTTP surface: status and watch
// inventory, the recent-event window, live event and log streams over
// websockets, and Prometheus metrics.
package api

import (
	"net/http"
	"time"

	"vigil/internal/event"
	"vigil/internal/logging"
	"vigil/internal/metrics"
)

// WatchStatus is one entry of the daemon's watch inventory.
type WatchStatus struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Paths       []string `json:"paths"`
	State       string   `json:"state"`
	Categories  string   `json:"categories,omitempty"`
	Flags       string   `json:"flags,omitempty"`
	Recursive   bool     `json:"recursive,omitempty"`
	LatencyMS   int64    `json:"latency_ms,omitempty"`
	Ignore      []string `json:"ignore,omitempty"`
	Resume      bool     `json:"resume,omitempty"`
	LastEventID uint64   `json:"last_event_id,omitempty"`
	Delivered   int64    `json:"delivered"`
	Dropped     int64    `json:"dropped"`
	Flushes     int64    `json:"flushes,omitempty"`
	Restarts    int      `json:"restarts"`
	LastError   string   `json:"last_error,omitempty"`
}

// WatchInventory is implemented by the daemon's watch supervisor.
type WatchInventory interface {
	Watches() []WatchStatus
}

// Deps carries everything the handlers need. Nil fields degrade to
// empty responses rather than panics so partial daemons stay probeable.
type Deps struct {
	Inventory      WatchInventory
	Bus            *event.Bus[event.Event]
	Registry       *metrics.Registry
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
	StartedAt      time.Time
}

// RegisterRoutes mounts the full API on mux.
func RegisterRoutes(mux *http.ServeMux, deps Deps) {
	rest := &RestHandler{
		Inventory: deps.Inventory,
		Bus:       deps.Bus,
		Registry:  deps.Registry,
		Logger:    deps.Logger,
		StartedAt: deps.StartedAt,
	}
	wrap := func(handler http.Handler) http.Handler {
		return loggingMiddleware(deps.Logger, handler)
	}

	mux.Handle("/api/status", wrap(restHandler(deps.AuthToken, rest.handleStatus)))
	mux.Handle("/api/watches", wrap(restHandler(deps.AuthToken, rest.handleWatches)))
	mux.Handle("/api/events/recent", wrap(restHandler(deps.AuthToken, rest.handleRecentEvents)))

	mux.Handle("/api/events/stream", securityHeadersMiddleware(cacheControlNoStore, &EventsStreamHandler{
		Bus:            deps.Bus,
		Logger:         deps.Logger,
		AuthToken:      deps.AuthToken,
		AllowedOrigins: deps.AllowedOrigins,
	}))
	mux.Handle("/api/logs/stream", securityHeadersMiddleware(cacheControlNoStore, &LogsStreamHandler{
		Logger:         deps.Logger,
		AuthToken:      deps.AuthToken,
		AllowedOrigins: deps.AllowedOrigins,
	}))

	mux.Handle("/metrics", wrap(metricsHandler(deps.AuthToken, deps.Registry)))
	mux.Handle("/api/", securityHeadersMiddleware(cacheControlNoStore, http.NotFoundHandler()))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			setSecurityHeaders(w, cacheControlNoStore)
			http.NotFound(w, r)
			return
		}
		setSecurityHeaders(w, cacheControlNoCache)
		if deps.AuthToken != "" {
			w.Header().Set("X-Vigil-Auth", "required")
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("vigil ok\n"))
	})
}
