package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/taowatch/transfer-monitor/internal/tracker"
)

// MonitorStatus reports the loop state, known transfer counts and recent
// notification activity.
func MonitorStatus(m *tracker.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Status())
	}
}

// MonitorToggle starts or stops the polling loop. The loop is restarted
// with baseCtx, not the request context, so it outlives the request.
func MonitorToggle(baseCtx context.Context, m *tracker.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		enabled := m.Toggle(baseCtx)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]bool{"enabled": enabled})
	}
}

// MonitorSettings applies a partial settings update. Values outside their
// bounds are ignored, matching the settings contract.
func MonitorSettings(m *tracker.Monitor) http.HandlerFunc {
	type request struct {
		CheckIntervalSeconds *int     `json:"check_interval_seconds"`
		MinAmountTAO         *float64 `json:"min_amount_tao"`
		TestMode             *bool    `json:"test_mode"`
	}
	type response struct {
		CheckIntervalSeconds int    `json:"check_interval_seconds"`
		MinAmountTAO         string `json:"min_amount_tao"`
		TestMode             bool   `json:"test_mode"`
		Enabled              bool   `json:"enabled"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		s := m.UpdateSettings(req.CheckIntervalSeconds, req.MinAmountTAO, req.TestMode)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response{
			CheckIntervalSeconds: int(s.CheckInterval.Seconds()),
			MinAmountTAO:         s.MinAmountTAO.String(),
			TestMode:             s.TestMode,
			Enabled:              s.Enabled,
		})
	}
}

// MonitorHistory returns the in-memory dispatch history ring.
func MonitorHistory(m *tracker.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		history := m.History()
		if history == nil {
			history = []tracker.NotificationRecord{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"total_notifications": len(history),
			"history":             history,
		})
	}
}
