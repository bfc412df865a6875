package api

import "net/http"

type watchesResponse struct {
	Watches []WatchStatus `json:"watches"`
}

func (h *RestHandler) handleWatches(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, http.MethodGet)
	}

	watches := []WatchStatus{}
	if h.Inventory != nil {
		watches = h.Inventory.Watches()
	}
	writeJSON(w, http.StatusOK, watchesResponse{Watches: watches})
	return nil
}
