package api

import (
	"net/http"
	"time"

	"vigil/internal/version"
)

type statusResponse struct {
	ServerTime    time.Time `json:"server_time"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Version       string    `json:"version"`
	Major         int       `json:"major"`
	Minor         int       `json:"minor"`
	Patch         int       `json:"patch"`
	Built         string    `json:"built,omitempty"`
	GitCommit     string    `json:"git_commit,omitempty"`
	Watches       int       `json:"watches"`
	Subscribers   int       `json:"subscribers"`
}

func (h *RestHandler) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, http.MethodGet)
	}

	watches := 0
	if h.Inventory != nil {
		watches = len(h.Inventory.Watches())
	}

	var uptime int64
	if !h.StartedAt.IsZero() {
		uptime = int64(time.Since(h.StartedAt).Seconds())
	}

	versionInfo := version.Current()
	writeJSON(w, http.StatusOK, statusResponse{
		ServerTime:    time.Now().UTC(),
		UptimeSeconds: uptime,
		Version:       versionInfo.Version,
		Major:         versionInfo.Major,
		Minor:         versionInfo.Minor,
		Patch:         versionInfo.Patch,
		Built:         versionInfo.Built,
		GitCommit:     versionInfo.GitCommit,
		Watches:       watches,
		Subscribers:   h.Bus.SubscriberCount(),
	})
	return nil
}
