package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/taowatch/transfer-monitor/internal/cache"
	"github.com/taowatch/transfer-monitor/internal/metrics"
	"github.com/taowatch/transfer-monitor/internal/taostats"
	"github.com/taowatch/transfer-monitor/internal/tracker"
)

// TxSummary is the wire form of one transfer on the read path.
type TxSummary struct {
	ExtrinsicID string  `json:"extrinsic_id,omitempty"`
	FromSS58    string  `json:"from_ss58,omitempty"`
	ToSS58      string  `json:"to_ss58,omitempty"`
	Amount      float64 `json:"amount"`
	Timestamp   string  `json:"timestamp,omitempty"`
}

type trackResponse struct {
	Summary  cache.Summary `json:"summary"`
	Inbound  []TxSummary   `json:"inbound"`
	Outbound []TxSummary   `json:"outbound"`
	Stale    bool          `json:"stale,omitempty"`
}

// RefreshFunc builds the snapshot refresh used by the track read path:
// fetch all pages and classify them.
func RefreshFunc(client *taostats.Client, address, treasury string) cache.RefreshFunc {
	return func(ctx context.Context) (*cache.Snapshot, error) {
		pages, err := client.AllTransfers(ctx, address)
		if err != nil {
			return nil, err
		}
		filtered, inbound, outbound := tracker.Classify(pages, treasury, address)
		return tracker.BuildSnapshot(filtered, inbound, outbound, time.Now()), nil
	}
}

// Track serves the cache-backed tracked-transfer summary. A rate-limited
// upstream with nothing cached is the only case surfaced as 429.
func Track(c *cache.Cache, refresh cache.RefreshFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, stale, err := c.GetOrRefresh(r.Context(), refresh)
		if err != nil {
			if errors.Is(err, taostats.ErrRateLimited) {
				metrics.CacheReads.WithLabelValues("miss").Inc()
				http.Error(w, `{"error":"API rate limit exceeded and no cached data available yet"}`, http.StatusTooManyRequests)
				return
			}
			http.Error(w, `{"error":"failed to fetch transfers"}`, http.StatusInternalServerError)
			return
		}
		if stale {
			metrics.CacheReads.WithLabelValues("stale").Inc()
		} else {
			metrics.CacheReads.WithLabelValues("fresh").Inc()
		}

		resp := trackResponse{
			Summary:  snap.Summary,
			Inbound:  formatTxs(snap.Inbound),
			Outbound: formatTxs(snap.Outbound),
			Stale:    stale,
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func formatTxs(txs []taostats.Transfer) []TxSummary {
	out := make([]TxSummary, 0, len(txs))
	for _, tx := range txs {
		var from, to string
		if tx.From != nil {
			from = tx.From.SS58
		}
		if tx.To != nil {
			to = tx.To.SS58
		}
		out = append(out, TxSummary{
			ExtrinsicID: tx.ExtrinsicID,
			FromSS58:    from,
			ToSS58:      to,
			Amount:      tracker.TAOAmount(tx).InexactFloat64(),
			Timestamp:   tx.Timestamp,
		})
	}
	return out
}
