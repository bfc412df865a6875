package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"vigil/internal/logging"

	"github.com/gorilla/websocket"
)

// LogsStreamHandler streams daemon log entries over a websocket. The
// level query parameter sets the initial minimum level and the client
// can change it mid-stream by sending {"level": "..."}. A replay
// parameter prepends the most recent N buffered entries.
type LogsStreamHandler struct {
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

type logFilterMessage struct {
	Level string `json:"level"`
}

type levelFilter struct {
	mu    sync.RWMutex
	level logging.Level
}

func (f *levelFilter) Get() logging.Level {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.level
}

func (f *levelFilter) Set(level logging.Level) {
	f.mu.Lock()
	f.level = level
	f.mu.Unlock()
}

func (h *LogsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireWSToken(w, r, h.AuthToken, h.Logger) {
		return
	}

	minLevel := &levelFilter{}
	if rawLevel := r.URL.Query().Get("level"); rawLevel != "" {
		if level, ok := logging.ParseLevel(rawLevel); ok {
			minLevel.Set(level)
		}
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

	output, cancel := h.Logger.Subscribe()
	if output == nil {
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:       http.StatusServiceUnavailable,
			Message:      "log stream unavailable",
			SendEnvelope: true,
		})
		return
	}

	writer, err := startWSWriteLoop(conn, wsStreamConfig[logging.LogEntry]{
		Output: output,
		PreWrite: func(conn *websocket.Conn) error {
			return writeLogReplay(conn, h.Logger.Buffer().Tail(replay), minLevel.Get())
		},
		BuildPayload: func(entry logging.LogEntry) (any, bool) {
			if level := minLevel.Get(); level != "" && !logging.LevelAtLeast(entry.Level, level) {
				return nil, false
			}
			return entry, true
		},
	})
	if err != nil {
		cancel()
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:       http.StatusInternalServerError,
			Message:      "log stream unavailable",
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
		var payload logFilterMessage
		if err := json.Unmarshal(msg, &payload); err != nil {
			continue
		}
		level, ok := logging.ParseLevel(payload.Level)
		if !ok {
			minLevel.Set("")
			continue
		}
		minLevel.Set(level)
	}
}

func writeLogReplay(conn *websocket.Conn, entries []logging.LogEntry, min logging.Level) error {
	if conn == nil || len(entries) == 0 {
		return nil
	}
	for _, entry := range entries {
		if min != "" && !logging.LevelAtLeast(entry.Level, min) {
			continue
		}
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return err
		}
		if err := conn.WriteJSON(entry); err != nil {
			return err
		}
	}
	return nil
}
