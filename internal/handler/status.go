package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"fleetnotify/internal/model"
	"fleetnotify/internal/worker"
)

type StatusSource interface {
	Snapshot() worker.Snapshot
}

type statusResponse struct {
	Watermark     int64         `json:"watermark"`
	TrackedOrders int           `json:"tracked_orders"`
	Orders        []model.Order `json:"orders"`
	UpdatedAt     *time.Time    `json:"updated_at,omitempty"`
}

// StatusHandler reports the tracked orders as of the last watcher pass.
func StatusHandler(src StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := src.Snapshot()

		resp := statusResponse{
			Watermark:     snap.Watermark,
			TrackedOrders: len(snap.Orders),
			Orders:        snap.Orders,
		}
		if resp.Orders == nil {
			resp.Orders = []model.Order{}
		}
		if !snap.UpdatedAt.IsZero() {
			resp.UpdatedAt = &snap.UpdatedAt
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
