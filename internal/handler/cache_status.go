package handler

import (
	"encoding/json"
	"net/http"

	"github.com/taowatch/transfer-monitor/internal/cache"
)

// CacheStatus reports snapshot cache age and validity.
func CacheStatus(c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := c.Status(r.Context())
		if err != nil {
			http.Error(w, `{"error":"failed to read cache status"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	}
}
