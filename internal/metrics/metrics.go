package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ── HTTP request metrics (RED method) ──────────────────────────────────

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tao_tracker",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tao_tracker",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tao_tracker",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being processed.",
	})
)

// ── Poll cycle metrics ─────────────────────────────────────────────────

var (
	PollTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tao_tracker",
		Subsystem: "poll",
		Name:      "total",
		Help:      "Total poll cycles by outcome.",
	}, []string{"status"})

	PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tao_tracker",
		Subsystem: "poll",
		Name:      "duration_seconds",
		Help:      "Duration of one transfer fetch in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	PollLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tao_tracker",
		Subsystem: "poll",
		Name:      "last_success_timestamp",
		Help:      "Unix timestamp of the last successful poll.",
	})

	KnownTransfers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tao_tracker",
		Subsystem: "poll",
		Name:      "known_transfers",
		Help:      "Transfers in the last classified snapshot per direction.",
	}, []string{"direction"})
)

// ── Notification delivery metrics ──────────────────────────────────────

var (
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tao_tracker",
		Subsystem: "notifications",
		Name:      "total",
		Help:      "Notification dispatch attempts by direction and status.",
	}, []string{"direction", "status"})
)

// ── Cache metrics ──────────────────────────────────────────────────────

var (
	CacheReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tao_tracker",
		Subsystem: "cache",
		Name:      "reads_total",
		Help:      "Snapshot cache reads by result (fresh, stale, miss).",
	}, []string{"result"})
)
