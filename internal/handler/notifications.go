package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/taowatch/transfer-monitor/internal/store"
)

// ListNotifications serves the durable notification log from postgres.
func ListNotifications(s *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if l, err := strconv.Atoi(v); err == nil && l > 0 && l <= 100 {
				limit = l
			}
		}

		logs, err := s.ListNotifications(r.Context(), limit)
		if err != nil {
			http.Error(w, `{"error":"failed to list notifications"}`, http.StatusInternalServerError)
			return
		}
		if logs == nil {
			logs = []store.Notification{}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(logs)
	}
}

// TransferCounter counts archived transfers per direction within a window.
// *store.Store satisfies it.
type TransferCounter interface {
	CountTransfers(ctx context.Context, direction string, window time.Duration) (int, error)
}

// TransferStats reports how many transfers the monitor detected in each
// direction over the last 24 hours, from the durable archive.
func TransferStats(s TransferCounter) http.HandlerFunc {
	const window = 24 * time.Hour
	return func(w http.ResponseWriter, r *http.Request) {
		in, err := s.CountTransfers(r.Context(), "in", window)
		if err != nil {
			http.Error(w, `{"error":"failed to count transfers"}`, http.StatusInternalServerError)
			return
		}
		out, err := s.CountTransfers(r.Context(), "out", window)
		if err != nil {
			http.Error(w, `{"error":"failed to count transfers"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{
			"window_hours": int(window.Hours()),
			"detected_in":  in,
			"detected_out": out,
		})
	}
}
