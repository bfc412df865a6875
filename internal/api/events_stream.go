package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"vigil/internal/event"
	"vigil/internal/filter"
	"vigil/internal/logging"

	"github.com/gorilla/websocket"
)

// EventsStreamHandler streams bus events over a websocket. The match
// query parameter narrows delivery to paths matching a glob, and the
// client can swap the glob mid-stream by sending {"match": "..."}.
// A replay parameter prepends the most recent N history events.
type EventsStreamHandler struct {
	Bus            *event.Bus[event.Event]
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

type streamFilterMessage struct {
	Match string `json:"match"`
}

type matchFilter struct {
	mu  sync.RWMutex
	set *filter.Set
}

func (f *matchFilter) Get() *filter.Set {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.set
}

func (f *matchFilter) Set(set *filter.Set) {
	f.mu.Lock()
	f.set = set
	f.mu.Unlock()
}

func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireWSToken(w, r, h.AuthToken, h.Logger) {
		return
	}

	match := &matchFilter{}
	if raw := r.URL.Query().Get("match"); raw != "" {
		compiled, err := filter.New([]string{raw})
		if err != nil {
			writeWSError(w, r, nil, h.Logger, wsError{
				Status:  http.StatusBadRequest,
				Message: "invalid match pattern",
				Err:     err,
			})
			return
		}
		match.Set(compiled)
	}

	replay := 0
	if raw := r.URL.Query().Get("replay"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeWSError(w, r, nil, h.Logger, wsError{
				Status:  http.StatusBadRequest,
				Message: "invalid replay parameter",
			})
			return
		}
		replay = parsed
	}

	conn, err := upgradeWebSocket(w, r, h.AllowedOrigins)
	if err != nil {
		logWSError(h.Logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     err,
		})
		return
	}
	defer conn.Close()

	if h.Bus == nil {
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:       http.StatusServiceUnavailable,
			Message:      "event stream unavailable",
			SendEnvelope: true,
		})
		return
	}

	events, cancel := h.Bus.Subscribe()
	if events == nil {
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:       http.StatusServiceUnavailable,
			Message:      "event stream unavailable",
			SendEnvelope: true,
		})
		return
	}

	history := h.Bus.DumpHistory()
	writer, err := startWSWriteLoop(conn, wsStreamConfig[event.Event]{
		Output: events,
		PreWrite: func(conn *websocket.Conn) error {
			return writeEventReplay(conn, history, replay, match)
		},
		BuildPayload: func(evt event.Event) (any, bool) {
			if set := match.Get(); set != nil && !set.Match(eventPath(evt)) {
				return nil, false
			}
			return buildEventPayload(evt)
		},
	})
	if err != nil {
		cancel()
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:       http.StatusInternalServerError,
			Message:      "event stream unavailable",
			Err:          err,
			SendEnvelope: true,
		})
		return
	}
	defer cancel()
	defer writer.Stop()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var payload streamFilterMessage
		if err := json.Unmarshal(msg, &payload); err != nil {
			continue
		}
		if payload.Match == "" {
			match.Set(nil)
			continue
		}
		compiled, err := filter.New([]string{payload.Match})
		if err != nil {
			continue
		}
		match.Set(compiled)
	}
}

func writeEventReplay(conn *websocket.Conn, history []event.Event, count int, match *matchFilter) error {
	if conn == nil || count <= 0 || len(history) == 0 {
		return nil
	}
	if count < len(history) {
		history = history[len(history)-count:]
	}
	for _, evt := range history {
		if set := match.Get(); set != nil && !set.Match(eventPath(evt)) {
			continue
		}
		payload, ok := buildEventPayload(evt)
		if !ok {
			continue
		}
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return err
		}
		if err := conn.WriteJSON(payload); err != nil {
			return err
		}
	}
	return nil
}
