package api

import (
	"net/http"
	"strconv"

	"vigil/internal/filter"
)

type recentEventsResponse struct {
	Events []any `json:"events"`
}

// handleRecentEvents dumps the bus history window, newest last. The
// optional limit parameter trims to the most recent N, and match keeps
// only events whose path matches the glob.
func (h *RestHandler) handleRecentEvents(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, http.MethodGet)
	}

	limit := 0
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 0 {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid limit parameter"}
		}
		limit = parsed
	}

	var matchSet *filter.Set
	if match := r.URL.Query().Get("match"); match != "" {
		compiled, err := filter.New([]string{match})
		if err != nil {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid match pattern"}
		}
		matchSet = compiled
	}

	events := []any{}
	for _, evt := range h.Bus.DumpHistory() {
		if matchSet != nil && !matchSet.Match(eventPath(evt)) {
			continue
		}
		payload, ok := buildEventPayload(evt)
		if !ok {
			continue
		}
		events = append(events, payload)
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}

	writeJSON(w, http.StatusOK, recentEventsResponse{Events: events})
	return nil
}
