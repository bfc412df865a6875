package api

import (
	"time"

	"vigil/internal/event"
	"vigil/internal/logging"
	"vigil/internal/metrics"
)

type RestHandler struct {
	Inventory WatchInventory
	Bus       *event.Bus[event.Event]
	Registry  *metrics.Registry
	Logger    *logging.Logger
	StartedAt time.Time
}

type changePayload struct {
	Type      string    `json:"type"`
	Stream    string    `json:"stream"`
	ID        uint64    `json:"id"`
	Path      string    `json:"path"`
	Flags     uint32    `json:"flags"`
	Decoded   string    `json:"decoded"`
	Timestamp time.Time `json:"timestamp"`
}

type watchPayload struct {
	Type      string    `json:"type"`
	Stream    string    `json:"stream"`
	Path      string    `json:"path,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func buildEventPayload(evt event.Event) (any, bool) {
	switch typed := evt.(type) {
	case event.ChangeEvent:
		return changePayload{
			Type:      typed.EventType,
			Stream:    typed.Stream,
			ID:        typed.EventID,
			Path:      typed.Path,
			Flags:     typed.Flags,
			Decoded:   typed.Decoded,
			Timestamp: typed.OccurredAt,
		}, true
	case event.WatchEvent:
		return watchPayload{
			Type:      typed.EventType,
			Stream:    typed.Stream,
			Path:      typed.Path,
			Detail:    typed.Detail,
			Timestamp: typed.OccurredAt,
		}, true
	default:
		return nil, false
	}
}

func eventPath(evt event.Event) string {
	switch typed := evt.(type) {
	case event.ChangeEvent:
		return typed.Path
	case event.WatchEvent:
		return typed.Path
	default:
		return ""
	}
}
