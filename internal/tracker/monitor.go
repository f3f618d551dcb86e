package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taowatch/transfer-monitor/internal/cache"
	"github.com/taowatch/transfer-monitor/internal/metrics"
	"github.com/taowatch/transfer-monitor/internal/store"
	"github.com/taowatch/transfer-monitor/internal/taostats"
	"github.com/taowatch/transfer-monitor/internal/twitter"
)

const (
	defaultCheckInterval = 60 * time.Second
	minCheckInterval     = 30 * time.Second

	// errorIntervalStep lengthens the regular interval after failed cycles.
	errorIntervalStep = 30 * time.Second

	// Rate-limit retries back off linearly up to the cap, then the same
	// cycle is retried without consuming the regular interval.
	rateLimitBackoffStep = time.Minute
	rateLimitBackoffMax  = 5 * time.Minute

	// maxConsecutiveErrors disables the monitor entirely; it stays down
	// until toggled back on.
	maxConsecutiveErrors = 5

	// dispatchDelay spaces consecutive tweets inside one cycle.
	dispatchDelay = 5 * time.Second

	historyLimit = 20
)

// StatusSuppressedTestMode records a dispatch that was skipped because test
// mode is on. The sink statuses (sent, rate_limited, failed) come from the
// twitter package.
const StatusSuppressedTestMode = "suppressed_test_mode"

// FetchFunc fetches the current transfer pages from upstream.
type FetchFunc func(ctx context.Context) ([]taostats.Page, error)

// PublishFunc posts one notification text to the sink.
type PublishFunc func(ctx context.Context, text string) twitter.Result

// Settings is the live monitor configuration.
type Settings struct {
	Enabled       bool
	CheckInterval time.Duration
	MinAmountTAO  decimal.Decimal
	TestMode      bool
}

// NotificationRecord is one entry of the bounded dispatch history.
type NotificationRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
	Direction Direction `json:"direction"`
	Text      string    `json:"text"`
	TweetID   string    `json:"tweet_id,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Monitor drives the poll → classify → detect → notify cycle. At most one
// loop runs at a time; the shared state (settings, history, last-known
// buckets) is guarded by a single mutex that is never held across a
// network call.
type Monitor struct {
	fetch     FetchFunc
	publish   PublishFunc
	snapshots *cache.Cache // may be nil in tests
	archive   *store.Store // may be nil in tests
	treasury  string
	tracked   string
	logger    *slog.Logger
	last      *LastKnown

	mu       sync.Mutex
	settings Settings
	history  []NotificationRecord
	cancel   context.CancelFunc
	done     chan struct{}

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewMonitor(fetch FetchFunc, publish PublishFunc, snapshots *cache.Cache, archive *store.Store, treasury, tracked string, logger *slog.Logger) *Monitor {
	return &Monitor{
		fetch:     fetch,
		publish:   publish,
		snapshots: snapshots,
		archive:   archive,
		treasury:  treasury,
		tracked:   tracked,
		logger:    logger,
		last:      NewLastKnown(),
		settings: Settings{
			Enabled:       true,
			CheckInterval: defaultCheckInterval,
			MinAmountTAO:  decimal.Zero,
		},
		now:   time.Now,
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Prime seeds the last-known baseline with the current upstream state so
// that transfers already visible at startup are not announced as new.
func (m *Monitor) Prime(ctx context.Context) error {
	pages, err := m.fetch(ctx)
	if err != nil {
		return err
	}
	_, inbound, outbound := Classify(pages, m.treasury, m.tracked)
	m.last.DetectNew(inbound, outbound)
	m.logger.Info("baseline primed", "inbound", len(inbound), "outbound", len(outbound))
	return nil
}

// Start launches the polling loop. Starting while a loop is already
// running is a no-op; the return value reports whether a loop was started.
func (m *Monitor) Start(ctx context.Context) bool {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return false
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.settings.Enabled = true
	m.mu.Unlock()

	m.logger.Info("monitor started", "interval", m.checkInterval().String())
	go func() {
		m.run(runCtx)
		cancel()
		m.mu.Lock()
		// A Stop/Start pair may have installed a newer loop while this
		// one was draining; only release ownership if it is still ours.
		if m.done == done {
			m.cancel = nil
		}
		m.mu.Unlock()
		close(done)
	}()
	return true
}

// Stop cancels the running loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.settings.Enabled = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		m.logger.Info("monitor stopped")
	}
}

// Toggle flips the monitor on or off and returns the new enabled state.
// Toggling on after the loop disabled itself spawns a fresh loop, which
// implicitly resets the consecutive error count.
func (m *Monitor) Toggle(ctx context.Context) bool {
	m.mu.Lock()
	running := m.cancel != nil
	m.mu.Unlock()

	if running {
		m.Stop()
		return false
	}
	m.Start(ctx)
	return true
}

func (m *Monitor) run(ctx context.Context) {
	consecutive := 0
	for {
		if ctx.Err() != nil {
			return
		}

		start := m.now()
		pages, err := m.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutive++
			rateLimited := errors.Is(err, taostats.ErrRateLimited)
			if rateLimited {
				metrics.PollTotal.WithLabelValues("rate_limited").Inc()
			} else {
				metrics.PollTotal.WithLabelValues("error").Inc()
				m.logger.Error("fetch transfers failed", "error", err, "consecutive_errors", consecutive)
			}

			if consecutive >= maxConsecutiveErrors {
				m.logger.Warn("too many consecutive errors, disabling monitor", "consecutive_errors", consecutive)
				m.mu.Lock()
				m.settings.Enabled = false
				m.mu.Unlock()
				return
			}

			if rateLimited {
				wait := time.Duration(consecutive) * rateLimitBackoffStep
				if wait > rateLimitBackoffMax {
					wait = rateLimitBackoffMax
				}
				m.logger.Warn("taostats rate limited, backing off", "wait", wait.String(), "attempt", consecutive)
				if m.sleep(ctx, wait) != nil {
					return
				}
				continue
			}
		} else {
			consecutive = 0
			metrics.PollTotal.WithLabelValues("success").Inc()
			metrics.PollDuration.Observe(m.now().Sub(start).Seconds())
			metrics.PollLastSuccess.SetToCurrentTime()

			m.cycle(ctx, pages)
			if ctx.Err() != nil {
				return
			}
		}

		interval := m.checkInterval() + time.Duration(consecutive)*errorIntervalStep
		if m.sleep(ctx, interval) != nil {
			return
		}
	}
}

// cycle handles one successful fetch: classify, refresh the shared
// snapshot, detect new transfers and dispatch notifications for them.
func (m *Monitor) cycle(ctx context.Context, pages []taostats.Page) {
	filtered, inbound, outbound := Classify(pages, m.treasury, m.tracked)

	metrics.KnownTransfers.WithLabelValues(string(DirectionIn)).Set(float64(len(inbound)))
	metrics.KnownTransfers.WithLabelValues(string(DirectionOut)).Set(float64(len(outbound)))

	if m.snapshots != nil {
		snap := BuildSnapshot(filtered, inbound, outbound, m.now())
		if err := m.snapshots.Put(ctx, snap); err != nil {
			m.logger.Error("update snapshot cache failed", "error", err)
		}
	}

	newIn, newOut := m.last.DetectNew(inbound, outbound)
	m.logger.Info("transfer check complete",
		"inbound", len(inbound), "outbound", len(outbound),
		"new_inbound", len(newIn), "new_outbound", len(newOut))

	if len(newIn) == 0 && len(newOut) == 0 {
		return
	}

	if m.archive != nil {
		if err := m.archive.InsertTransfers(ctx, toStoreTransfers(newIn, DirectionIn), toStoreTransfers(newOut, DirectionOut)); err != nil {
			m.logger.Error("archive transfers failed", "error", err)
		}
	}

	// Totals are computed once and shared by every tweet of this cycle so
	// the cycle never re-fetches or re-classifies.
	totals := DailyTotals(inbound, outbound)

	dispatched := 0
	for _, group := range []struct {
		txs []taostats.Transfer
		dir Direction
	}{{newIn, DirectionIn}, {newOut, DirectionOut}} {
		for _, tx := range group.txs {
			if ctx.Err() != nil {
				return
			}
			if m.belowThreshold(tx) {
				continue
			}
			if dispatched > 0 {
				if m.sleep(ctx, dispatchDelay) != nil {
					return
				}
			}
			m.dispatch(ctx, tx, group.dir, totals)
			dispatched++
		}
	}
}

func (m *Monitor) dispatch(ctx context.Context, tx taostats.Transfer, dir Direction, totals Totals) {
	text := BuildTweet(tx, dir, totals, m.now())
	rec := NotificationRecord{
		Timestamp: m.now(),
		Direction: dir,
		Text:      text,
	}

	if m.testMode() {
		rec.Status = StatusSuppressedTestMode
		m.logger.Info("test mode, tweet suppressed", "direction", dir)
	} else {
		res := m.publish(ctx, text)
		rec.Status = string(res.Status)
		rec.TweetID = res.TweetID
		rec.Error = res.Detail
		if res.Status == twitter.StatusSent {
			m.logger.Info("tweet posted", "direction", dir, "tweet_id", res.TweetID)
		} else {
			m.logger.Warn("tweet not delivered", "direction", dir, "status", rec.Status, "detail", res.Detail)
		}
	}

	metrics.NotificationsTotal.WithLabelValues(string(dir), rec.Status).Inc()
	m.appendHistory(rec)

	if m.archive != nil {
		if err := m.archive.InsertNotification(ctx, store.Notification{
			CreatedAt:   rec.Timestamp,
			Direction:   string(dir),
			Status:      rec.Status,
			Text:        text,
			TweetID:     rec.TweetID,
			ErrorDetail: rec.Error,
		}); err != nil {
			m.logger.Error("archive notification failed", "error", err)
		}
	}
}

func (m *Monitor) appendHistory(rec NotificationRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, rec)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
}

// History returns a copy of the dispatch history, oldest first.
func (m *Monitor) History() []NotificationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]NotificationRecord, len(m.history))
	copy(out, m.history)
	return out
}

func (m *Monitor) belowThreshold(tx taostats.Transfer) bool {
	m.mu.Lock()
	threshold := m.settings.MinAmountTAO
	m.mu.Unlock()
	if threshold.IsZero() {
		return false
	}
	return TAOAmount(tx).LessThan(threshold)
}

func (m *Monitor) checkInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings.CheckInterval
}

func (m *Monitor) testMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings.TestMode
}

// UpdateSettings applies a partial settings change. Out-of-range values
// (interval under 30s, negative threshold) are ignored rather than
// rejected. Returns the resulting settings.
func (m *Monitor) UpdateSettings(intervalSeconds *int, minAmountTAO *float64, testMode *bool) Settings {
	m.mu.Lock()
	defer m.mu.Unlock()

	if intervalSeconds != nil {
		if iv := time.Duration(*intervalSeconds) * time.Second; iv >= minCheckInterval {
			m.settings.CheckInterval = iv
		}
	}
	if minAmountTAO != nil && *minAmountTAO >= 0 {
		m.settings.MinAmountTAO = decimal.NewFromFloat(*minAmountTAO)
	}
	if testMode != nil {
		m.settings.TestMode = *testMode
	}
	return m.settings
}

// Settings returns a copy of the current settings.
func (m *Monitor) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// Status describes the monitor for the status endpoint.
type Status struct {
	Enabled              bool                `json:"enabled"`
	CheckIntervalSeconds int                 `json:"check_interval_seconds"`
	MinAmountTAO         string              `json:"min_amount_tao"`
	TestMode             bool                `json:"test_mode"`
	LastCheck            *time.Time          `json:"last_check,omitempty"`
	KnownTransfersIn     int                 `json:"known_transfers_in"`
	KnownTransfersOut    int                 `json:"known_transfers_out"`
	RecentNotifications  int                 `json:"recent_notifications"`
	LastNotification     *NotificationRecord `json:"last_notification,omitempty"`
}

func (m *Monitor) Status() Status {
	in, out, lastCheck := m.last.Counts()

	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Enabled:              m.settings.Enabled && m.cancel != nil,
		CheckIntervalSeconds: int(m.settings.CheckInterval.Seconds()),
		MinAmountTAO:         m.settings.MinAmountTAO.String(),
		TestMode:             m.settings.TestMode,
		KnownTransfersIn:     in,
		KnownTransfersOut:    out,
		RecentNotifications:  len(m.history),
	}
	if !lastCheck.IsZero() {
		t := lastCheck
		st.LastCheck = &t
	}
	if n := len(m.history); n > 0 {
		last := m.history[n-1]
		st.LastNotification = &last
	}
	return st
}

// BuildSnapshot packages one classified cycle for the shared cache.
func BuildSnapshot(filtered, inbound, outbound []taostats.Transfer, at time.Time) *cache.Snapshot {
	return &cache.Snapshot{
		Summary: cache.Summary{
			TotalAfterFilter: len(filtered),
			TransfersIn:      len(inbound),
			TransfersOut:     len(outbound),
		},
		Inbound:   inbound,
		Outbound:  outbound,
		FetchedAt: at,
	}
}

func toStoreTransfers(txs []taostats.Transfer, dir Direction) []store.Transfer {
	rows := make([]store.Transfer, 0, len(txs))
	for _, tx := range txs {
		var from, to string
		if tx.From != nil {
			from = tx.From.SS58
		}
		if tx.To != nil {
			to = tx.To.SS58
		}
		rows = append(rows, store.Transfer{
			ExtrinsicID: tx.ExtrinsicID,
			BlockNumber: tx.BlockNumber.String(),
			FromAddr:    from,
			ToAddr:      to,
			AmountTAO:   TAOAmount(tx).String(),
			Direction:   string(dir),
			Timestamp:   tx.Timestamp,
		})
	}
	return rows
}
