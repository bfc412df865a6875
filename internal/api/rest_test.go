package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vigil/internal/event"
)

type fakeInventory struct {
	watches []WatchStatus
}

func (f *fakeInventory) Watches() []WatchStatus {
	return f.watches
}

func newTestBus(t *testing.T, history int) *event.Bus[event.Event] {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	bus := event.NewBus[event.Event](ctx, event.BusOptions{
		Name:        "test",
		HistorySize: history,
	})
	t.Cleanup(func() {
		bus.Close()
		cancel()
	})
	return bus
}

func TestHandleStatus(t *testing.T) {
	bus := newTestBus(t, 8)
	handler := &RestHandler{
		Inventory: &fakeInventory{watches: []WatchStatus{
			{Name: "sources", Kind: "stream", Paths: []string{"/srv/src"}},
			{Name: "etc", Kind: "path", Paths: []string{"/etc/vigil.yaml"}},
		}},
		Bus:       bus,
		StartedAt: time.Now().Add(-2 * time.Second),
	}

	recorder := httptest.NewRecorder()
	if apiErr := handler.handleStatus(recorder, httptest.NewRequest(http.MethodGet, "/api/status", nil)); apiErr != nil {
		t.Fatalf("unexpected error: %v", apiErr)
	}

	var status statusResponse
	if err := json.NewDecoder(recorder.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Watches != 2 {
		t.Fatalf("expected 2 watches, got %d", status.Watches)
	}
	if status.UptimeSeconds < 1 {
		t.Fatalf("expected positive uptime, got %d", status.UptimeSeconds)
	}
	if status.Version == "" {
		t.Fatalf("expected version string")
	}
}

func TestHandleStatusRejectsPost(t *testing.T) {
	handler := &RestHandler{}
	recorder := httptest.NewRecorder()
	apiErr := handler.handleStatus(recorder, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	if apiErr == nil || apiErr.Status != http.StatusMethodNotAllowed {
		t.Fatalf("expected method-not-allowed error, got %+v", apiErr)
	}
}

func TestHandleWatches(t *testing.T) {
	handler := &RestHandler{
		Inventory: &fakeInventory{watches: []WatchStatus{
			{Name: "sources", Kind: "stream", Paths: []string{"/srv/src"}, State: "started", Recursive: true},
		}},
	}

	recorder := httptest.NewRecorder()
	if apiErr := handler.handleWatches(recorder, httptest.NewRequest(http.MethodGet, "/api/watches", nil)); apiErr != nil {
		t.Fatalf("unexpected error: %v", apiErr)
	}

	var payload watchesResponse
	if err := json.NewDecoder(recorder.Body).Decode(&payload); err != nil {
		t.Fatalf("decode watches: %v", err)
	}
	if len(payload.Watches) != 1 {
		t.Fatalf("expected 1 watch, got %d", len(payload.Watches))
	}
	watch := payload.Watches[0]
	if watch.Name != "sources" || watch.Kind != "stream" || !watch.Recursive {
		t.Fatalf("unexpected watch payload: %+v", watch)
	}
}

func TestHandleWatchesWithoutInventory(t *testing.T) {
	handler := &RestHandler{}
	recorder := httptest.NewRecorder()
	if apiErr := handler.handleWatches(recorder, httptest.NewRequest(http.MethodGet, "/api/watches", nil)); apiErr != nil {
		t.Fatalf("unexpected error: %v", apiErr)
	}
	var payload watchesResponse
	if err := json.NewDecoder(recorder.Body).Decode(&payload); err != nil {
		t.Fatalf("decode watches: %v", err)
	}
	if payload.Watches == nil {
		t.Fatalf("expected empty slice, got null")
	}
	if len(payload.Watches) != 0 {
		t.Fatalf("expected no watches, got %d", len(payload.Watches))
	}
}

func publishChange(bus *event.Bus[event.Event], id uint64, path, decoded string) {
	bus.Publish(event.NewChangeEvent("sources", id, path, 0x100, decoded))
}

func TestHandleRecentEvents(t *testing.T) {
	bus := newTestBus(t, 8)
	publishChange(bus, 1, "/srv/src/main.go", "Created,IsFile")
	publishChange(bus, 2, "/srv/src/main.go.tmp", "Created,IsFile")
	publishChange(bus, 3, "/srv/src/util.go", "Modified,IsFile")

	handler := &RestHandler{Bus: bus}

	recorder := httptest.NewRecorder()
	if apiErr := handler.handleRecentEvents(recorder, httptest.NewRequest(http.MethodGet, "/api/events/recent", nil)); apiErr != nil {
		t.Fatalf("unexpected error: %v", apiErr)
	}
	var payload recentEventsResponse
	if err := json.NewDecoder(recorder.Body).Decode(&payload); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(payload.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(payload.Events))
	}
}

func TestHandleRecentEventsLimit(t *testing.T) {
	bus := newTestBus(t, 8)
	publishChange(bus, 1, "/srv/src/a.go", "Created,IsFile")
	publishChange(bus, 2, "/srv/src/b.go", "Created,IsFile")
	publishChange(bus, 3, "/srv/src/c.go", "Created,IsFile")

	handler := &RestHandler{Bus: bus}

	recorder := httptest.NewRecorder()
	if apiErr := handler.handleRecentEvents(recorder, httptest.NewRequest(http.MethodGet, "/api/events/recent?limit=2", nil)); apiErr != nil {
		t.Fatalf("unexpected error: %v", apiErr)
	}
	var payload recentEventsResponse
	if err := json.NewDecoder(recorder.Body).Decode(&payload); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(payload.Events) != 2 {
		t.Fatalf("expected 2 events after limit, got %d", len(payload.Events))
	}
	last, ok := payload.Events[len(payload.Events)-1].(map[string]any)
	if !ok {
		t.Fatalf("unexpected event shape: %T", payload.Events[len(payload.Events)-1])
	}
	if last["path"] != "/srv/src/c.go" {
		t.Fatalf("expected newest event last, got %v", last["path"])
	}
}

func TestHandleRecentEventsMatch(t *testing.T) {
	bus := newTestBus(t, 8)
	publishChange(bus, 1, "/srv/src/main.go", "Created,IsFile")
	publishChange(bus, 2, "/srv/src/main.go.tmp", "Created,IsFile")

	handler := &RestHandler{Bus: bus}

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/events/recent?match="+"%2A%2A%2F%2A.go", nil)
	if apiErr := handler.handleRecentEvents(recorder, req); apiErr != nil {
		t.Fatalf("unexpected error: %v", apiErr)
	}
	var payload recentEventsResponse
	if err := json.NewDecoder(recorder.Body).Decode(&payload); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(payload.Events) != 1 {
		t.Fatalf("expected 1 matching event, got %d", len(payload.Events))
	}
	entry, ok := payload.Events[0].(map[string]any)
	if !ok {
		t.Fatalf("unexpected event shape: %T", payload.Events[0])
	}
	if entry["path"] != "/srv/src/main.go" {
		t.Fatalf("expected the .go path, got %v", entry["path"])
	}
}

func TestHandleRecentEventsRejectsBadParams(t *testing.T) {
	handler := &RestHandler{Bus: newTestBus(t, 4)}

	recorder := httptest.NewRecorder()
	apiErr := handler.handleRecentEvents(recorder, httptest.NewRequest(http.MethodGet, "/api/events/recent?limit=puppies", nil))
	if apiErr == nil || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("expected bad-request for limit, got %+v", apiErr)
	}

	recorder = httptest.NewRecorder()
	apiErr = handler.handleRecentEvents(recorder, httptest.NewRequest(http.MethodGet, "/api/events/recent?match=%5Bbroken", nil))
	if apiErr == nil || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("expected bad-request for match, got %+v", apiErr)
	}
	if apiErr != nil && !strings.Contains(apiErr.Message, "match") {
		t.Fatalf("expected match mentioned in error, got %q", apiErr.Message)
	}
}

func TestMetricsHandler(t *testing.T) {
	handler := metricsHandler("", nil)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body := recorder.Body.String()
	if !strings.Contains(body, "vigil_watches_active") {
		t.Fatalf("expected vigil_watches_active in exposition, got:\n%s", body)
	}
	if got := recorder.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("unexpected content type %q", got)
	}
}

func TestMetricsHandlerRequiresToken(t *testing.T) {
	handler := metricsHandler("sekrit", nil)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", recorder.Code)
	}
}
