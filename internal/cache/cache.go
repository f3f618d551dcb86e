// Package cache holds the last successfully classified transfer snapshot in
// Redis so the query path can answer without hitting Taostats on every
// request, and so a throttled refresh can fall back to stale data.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/taowatch/transfer-monitor/internal/taostats"
)

const (
	snapshotKey = "tao_tracker:snapshot"

	// TTL bounds how long a snapshot is served without a refresh.
	TTL = 5 * time.Minute
)

// Summary is the headline counts of one classified snapshot.
type Summary struct {
	TotalAfterFilter int `json:"total_after_filter"`
	TransfersIn      int `json:"transfers_in"`
	TransfersOut     int `json:"transfers_out"`
}

// Snapshot is the cached result of one fetch-and-classify cycle. The key is
// stored without Redis expiry; freshness is computed from FetchedAt so a
// stale snapshot remains available for rate-limit fallback.
type Snapshot struct {
	Summary   Summary             `json:"summary"`
	Inbound   []taostats.Transfer `json:"inbound"`
	Outbound  []taostats.Transfer `json:"outbound"`
	FetchedAt time.Time           `json:"fetched_at"`
}

// Status describes cache state for the status endpoint.
type Status struct {
	Cached               bool   `json:"cached"`
	Valid                bool   `json:"cache_valid,omitempty"`
	LastUpdated          string `json:"last_updated,omitempty"`
	AgeSeconds           int    `json:"cache_age_seconds"`
	TTLSeconds           int    `json:"cache_duration_seconds"`
	NextRefreshInSeconds int    `json:"next_refresh_in_seconds"`
}

// RefreshFunc produces a fresh snapshot from upstream.
type RefreshFunc func(ctx context.Context) (*Snapshot, error)

// Cache is the Redis-backed snapshot store.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// New connects to Redis and verifies the connection.
func New(redisURL, password string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Cache{rdb: rdb, ttl: TTL, now: time.Now}, nil
}

// Close shuts down the Redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// Get returns the stored snapshot regardless of age, or nil when nothing
// has been cached yet.
func (c *Cache) Get(ctx context.Context) (*Snapshot, error) {
	raw, err := c.rdb.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Put overwrites the stored snapshot. No expiry: stale data must survive
// for rate-limit fallback.
func (c *Cache) Put(ctx context.Context, snap *Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.rdb.Set(ctx, snapshotKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// fresh reports whether snap is within the TTL window.
func (c *Cache) fresh(snap *Snapshot) bool {
	return snap != nil && c.now().Sub(snap.FetchedAt) < c.ttl
}

// GetOrRefresh returns the cached snapshot when fresh, otherwise invokes
// refresh and stores the result. When refresh fails with
// taostats.ErrRateLimited and a prior snapshot exists, that snapshot is
// returned as-is with stale=true. Any other refresh failure propagates:
// serving stale data there would mask real upstream defects.
func (c *Cache) GetOrRefresh(ctx context.Context, refresh RefreshFunc) (snap *Snapshot, stale bool, err error) {
	prior, err := c.Get(ctx)
	if err != nil {
		return nil, false, err
	}
	if c.fresh(prior) {
		return prior, false, nil
	}

	next, err := refresh(ctx)
	if err != nil {
		if errors.Is(err, taostats.ErrRateLimited) && prior != nil {
			return prior, true, nil
		}
		return nil, false, err
	}

	if next.FetchedAt.IsZero() {
		next.FetchedAt = c.now()
	}
	if err := c.Put(ctx, next); err != nil {
		return nil, false, err
	}
	return next, false, nil
}

// Status reports cache age and validity.
func (c *Cache) Status(ctx context.Context) (Status, error) {
	snap, err := c.Get(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{TTLSeconds: int(c.ttl.Seconds())}
	if snap == nil {
		return st, nil
	}

	age := c.now().Sub(snap.FetchedAt)
	st.Cached = true
	st.Valid = age < c.ttl
	st.LastUpdated = snap.FetchedAt.Format("2006-01-02 15:04:05")
	st.AgeSeconds = int(age.Seconds())
	if st.Valid {
		st.NextRefreshInSeconds = int((c.ttl - age).Seconds())
	}
	return st, nil
}
