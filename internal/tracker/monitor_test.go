package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taowatch/transfer-monitor/internal/taostats"
	"github.com/taowatch/transfer-monitor/internal/twitter"
)

type sleepRecorder struct {
	mu        sync.Mutex
	durations []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.durations = append(s.durations, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.durations))
	copy(out, s.durations)
	return out
}

func newTestMonitor(fetch FetchFunc, publish PublishFunc) (*Monitor, *sleepRecorder) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewMonitor(fetch, publish, nil, nil, treasury, tracked, logger)
	rec := &sleepRecorder{}
	m.sleep = rec.sleep
	return m, rec
}

func sentPublisher(calls *[]string) PublishFunc {
	var mu sync.Mutex
	return func(_ context.Context, text string) twitter.Result {
		mu.Lock()
		*calls = append(*calls, text)
		mu.Unlock()
		return twitter.Result{Status: twitter.StatusSent, TweetID: "tw-1"}
	}
}

func waitDone(t *testing.T, m *Monitor) {
	t.Helper()
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor loop did not exit")
	}
}

func TestMonitorDisablesAfterConsecutiveErrors(t *testing.T) {
	fetch := func(context.Context) ([]taostats.Page, error) {
		return nil, errors.New("upstream down")
	}
	m, rec := newTestMonitor(fetch, sentPublisher(&[]string{}))

	if !m.Start(context.Background()) {
		t.Fatal("Start returned false on idle monitor")
	}
	waitDone(t, m)

	if m.Settings().Enabled {
		t.Error("monitor should disable itself after repeated failures")
	}
	if m.Status().Enabled {
		t.Error("Status().Enabled should be false once the loop exits")
	}

	// Each failed cycle before the cutoff lengthens the regular interval by
	// 30s per consecutive error.
	want := []time.Duration{90 * time.Second, 120 * time.Second, 150 * time.Second, 180 * time.Second}
	got := rec.recorded()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("sleeps = %v, want %v", got, want)
	}
}

func TestMonitorRateLimitBackoff(t *testing.T) {
	fetch := func(context.Context) ([]taostats.Page, error) {
		return nil, fmt.Errorf("fetch page: %w", taostats.ErrRateLimited)
	}
	m, rec := newTestMonitor(fetch, sentPublisher(&[]string{}))

	m.Start(context.Background())
	waitDone(t, m)

	// Linear backoff per attempt, retried in place; the fifth consecutive
	// rate limit disables the monitor before sleeping.
	want := []time.Duration{1 * time.Minute, 2 * time.Minute, 3 * time.Minute, 4 * time.Minute}
	got := rec.recorded()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("sleeps = %v, want %v", got, want)
	}
	if m.Settings().Enabled {
		t.Error("monitor should disable itself after five consecutive rate limits")
	}
}

func TestMonitorRateLimitBackoffIsCapped(t *testing.T) {
	for _, c := range []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Minute},
		{4, 4 * time.Minute},
		{5, 5 * time.Minute},
		{9, 5 * time.Minute},
	} {
		wait := time.Duration(c.attempt) * rateLimitBackoffStep
		if wait > rateLimitBackoffMax {
			wait = rateLimitBackoffMax
		}
		if wait != c.want {
			t.Errorf("attempt %d: backoff = %v, want %v", c.attempt, wait, c.want)
		}
	}
}

func TestMonitorSuccessResetsErrorCount(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	fetch := func(context.Context) ([]taostats.Page, error) {
		calls++
		switch calls {
		case 1, 2:
			return nil, errors.New("transient")
		case 3:
			return nil, nil
		default:
			cancel()
			return nil, ctx.Err()
		}
	}
	m, rec := newTestMonitor(fetch, sentPublisher(&[]string{}))

	m.Start(ctx)
	waitDone(t, m)

	// Two failures stretch the interval, then one success snaps it back.
	want := []time.Duration{90 * time.Second, 120 * time.Second, 60 * time.Second}
	got := rec.recorded()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("sleeps = %v, want %v", got, want)
	}
}

func TestMonitorStartIsIdempotent(t *testing.T) {
	block := make(chan struct{})
	fetch := func(ctx context.Context) ([]taostats.Page, error) {
		select {
		case <-ctx.Done():
		case <-block:
		}
		return nil, ctx.Err()
	}
	m, _ := newTestMonitor(fetch, sentPublisher(&[]string{}))

	if !m.Start(context.Background()) {
		t.Fatal("first Start should launch the loop")
	}
	if m.Start(context.Background()) {
		t.Error("second Start should be a no-op while the loop runs")
	}

	m.Stop()
	close(block)
	if m.Settings().Enabled {
		t.Error("Stop should leave the monitor disabled")
	}
}

func TestRestartDuringDrainKeepsSingleLoop(t *testing.T) {
	release := make(chan struct{})
	var calls int32
	fetch := func(ctx context.Context) ([]taostats.Page, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			// Hold the first loop in-flight so it drains after its Stop.
			<-release
			return nil, ctx.Err()
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m, _ := newTestMonitor(fetch, sentPublisher(&[]string{}))

	m.Start(context.Background())

	stopped := make(chan struct{})
	go func() {
		m.Stop() // cancels loop one, then blocks until it drains
		close(stopped)
	}()
	waitFor(t, func() bool { return !m.Settings().Enabled })

	// Loop two starts while loop one is still draining.
	if !m.Start(context.Background()) {
		t.Fatal("Start should launch a fresh loop once Stop released ownership")
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop never returned")
	}

	// Loop one's exit must not have released loop two's ownership: a third
	// Start has to stay a no-op, otherwise two loops poll at once.
	if m.Start(context.Background()) {
		t.Fatal("Start launched a second loop while one was already running")
	}

	m.Stop()
	if m.Status().Enabled {
		t.Error("monitor should be stopped")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestMonitorToggle(t *testing.T) {
	fetch := func(ctx context.Context) ([]taostats.Page, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m, _ := newTestMonitor(fetch, sentPublisher(&[]string{}))

	if !m.Toggle(context.Background()) {
		t.Fatal("first toggle should start the monitor")
	}
	if !m.Status().Enabled {
		t.Error("monitor should report enabled after toggling on")
	}
	if m.Toggle(context.Background()) {
		t.Fatal("second toggle should stop the monitor")
	}
	if m.Status().Enabled {
		t.Error("monitor should report disabled after toggling off")
	}
}

func TestMonitorPrimeSuppressesBootAnnouncements(t *testing.T) {
	existing := pages(
		tx("old-1", "5A", tracked, "1000000000"),
		tx("old-2", tracked, "5B", "2000000000"),
	)
	fetch := func(context.Context) ([]taostats.Page, error) { return existing, nil }
	var tweets []string
	m, _ := newTestMonitor(fetch, sentPublisher(&tweets))

	if err := m.Prime(context.Background()); err != nil {
		t.Fatalf("Prime: %v", err)
	}

	m.cycle(context.Background(), existing)
	if len(tweets) != 0 {
		t.Errorf("primed transfers were re-announced: %v", tweets)
	}
}

func TestCycleDispatchesInboundThenOutbound(t *testing.T) {
	var tweets []string
	m, rec := newTestMonitor(nil, sentPublisher(&tweets))

	p := pages(
		tx("out-1", tracked, "5B", "3000000000"),
		tx("in-1", "5A", tracked, "1000000000"),
		tx("in-2", "5C", tracked, "2000000000"),
	)
	m.cycle(context.Background(), p)

	if len(tweets) != 3 {
		t.Fatalf("dispatched %d tweets, want 3", len(tweets))
	}
	// Inbound transfers are announced before outbound ones.
	if !strings.Contains(tweets[0], "Detected: 1 TAO") || !strings.Contains(tweets[1], "Detected: 2 TAO") || !strings.Contains(tweets[2], "Detected: 3 TAO") {
		t.Errorf("dispatch order wrong:\n%v", tweets)
	}

	// Two pauses between three tweets.
	want := []time.Duration{dispatchDelay, dispatchDelay}
	if fmt.Sprint(rec.recorded()) != fmt.Sprint(want) {
		t.Errorf("dispatch pacing = %v, want %v", rec.recorded(), want)
	}

	if got := m.History(); len(got) != 3 || got[0].Status != string(twitter.StatusSent) {
		t.Errorf("history = %+v, want 3 sent records", got)
	}
}

func TestCycleTestModeSuppressesTweets(t *testing.T) {
	var tweets []string
	m, _ := newTestMonitor(nil, sentPublisher(&tweets))
	on := true
	m.UpdateSettings(nil, nil, &on)

	m.cycle(context.Background(), pages(tx("in-1", "5A", tracked, "1000000000")))

	if len(tweets) != 0 {
		t.Errorf("test mode must not publish, got %v", tweets)
	}
	hist := m.History()
	if len(hist) != 1 || hist[0].Status != StatusSuppressedTestMode {
		t.Errorf("history = %+v, want one suppressed record", hist)
	}
}

func TestCycleMinAmountThreshold(t *testing.T) {
	var tweets []string
	m, _ := newTestMonitor(nil, sentPublisher(&tweets))
	min := 1.5
	m.UpdateSettings(nil, &min, nil)

	m.cycle(context.Background(), pages(
		tx("small", "5A", tracked, "1000000000"), // 1 TAO, below threshold
		tx("big", "5B", tracked, "2000000000"),   // 2 TAO
	))

	if len(tweets) != 1 || !strings.Contains(tweets[0], "Detected: 2 TAO") {
		t.Errorf("tweets = %v, want only the 2 TAO transfer", tweets)
	}
}

func TestCycleNoNewTransfersNoDispatch(t *testing.T) {
	var tweets []string
	m, rec := newTestMonitor(nil, sentPublisher(&tweets))

	p := pages(tx("in-1", "5A", tracked, "1000000000"))
	m.cycle(context.Background(), p)
	tweets = tweets[:0]

	m.cycle(context.Background(), p)
	if len(tweets) != 0 {
		t.Errorf("unchanged state dispatched %v", tweets)
	}
	if sleeps := rec.recorded(); len(sleeps) != 0 {
		t.Errorf("unexpected pacing sleeps %v", sleeps)
	}
}

func TestHistoryBounded(t *testing.T) {
	m, _ := newTestMonitor(nil, nil)
	for i := 0; i < historyLimit+7; i++ {
		m.appendHistory(NotificationRecord{Text: fmt.Sprintf("n%d", i)})
	}

	hist := m.History()
	if len(hist) != historyLimit {
		t.Fatalf("len(history) = %d, want %d", len(hist), historyLimit)
	}
	if hist[len(hist)-1].Text != fmt.Sprintf("n%d", historyLimit+6) {
		t.Errorf("newest record lost: %+v", hist[len(hist)-1])
	}
	if hist[0].Text != "n7" {
		t.Errorf("oldest surviving record = %q, want n7", hist[0].Text)
	}
}

func TestUpdateSettingsClamping(t *testing.T) {
	m, _ := newTestMonitor(nil, nil)

	tooFast := 10
	got := m.UpdateSettings(&tooFast, nil, nil)
	if got.CheckInterval != defaultCheckInterval {
		t.Errorf("interval below 30s should be ignored, got %v", got.CheckInterval)
	}

	ok := 45
	got = m.UpdateSettings(&ok, nil, nil)
	if got.CheckInterval != 45*time.Second {
		t.Errorf("CheckInterval = %v, want 45s", got.CheckInterval)
	}

	negative := -1.0
	got = m.UpdateSettings(nil, &negative, nil)
	if !got.MinAmountTAO.IsZero() {
		t.Errorf("negative threshold should be ignored, got %s", got.MinAmountTAO)
	}

	amount := 2.5
	testMode := true
	got = m.UpdateSettings(nil, &amount, &testMode)
	if got.MinAmountTAO.String() != "2.5" || !got.TestMode {
		t.Errorf("settings = %+v, want min 2.5 and test mode on", got)
	}
}

func TestStatusReflectsState(t *testing.T) {
	var tweets []string
	m, _ := newTestMonitor(nil, sentPublisher(&tweets))

	st := m.Status()
	if st.Enabled {
		t.Error("status should report disabled before Start")
	}
	if st.LastCheck != nil {
		t.Error("LastCheck should be nil before the first cycle")
	}
	if st.CheckIntervalSeconds != 60 {
		t.Errorf("CheckIntervalSeconds = %d, want 60", st.CheckIntervalSeconds)
	}

	m.cycle(context.Background(), pages(
		tx("in-1", "5A", tracked, "1000000000"),
		tx("out-1", tracked, "5B", "2000000000"),
	))

	st = m.Status()
	if st.KnownTransfersIn != 1 || st.KnownTransfersOut != 1 {
		t.Errorf("known transfers = %d/%d, want 1/1", st.KnownTransfersIn, st.KnownTransfersOut)
	}
	if st.LastCheck == nil {
		t.Error("LastCheck should be set after a cycle")
	}
	if st.LastNotification == nil {
		t.Error("LastNotification should be set after a dispatch")
	}
	if st.RecentNotifications != 2 {
		t.Errorf("RecentNotifications = %d, want 2", st.RecentNotifications)
	}
}
