package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluegreenops/poolwatch/internal/alert"
	"github.com/bluegreenops/poolwatch/internal/maintenance"
	"github.com/bluegreenops/poolwatch/internal/notify"
	"github.com/bluegreenops/poolwatch/internal/parser"
	"github.com/bluegreenops/poolwatch/internal/pool"
	"github.com/bluegreenops/poolwatch/internal/record"
	"github.com/bluegreenops/poolwatch/internal/window"
)

// capturingNotifier records delivered events.
type capturingNotifier struct {
	mu     sync.Mutex
	events []alert.Event
}

func (n *capturingNotifier) Notify(_ context.Context, ev alert.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *capturingNotifier) delivered() []alert.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]alert.Event, len(n.events))
	copy(out, n.events)
	return out
}

var _ notify.Notifier = (*capturingNotifier)(nil)

// testEngine builds an engine with a controllable clock and started
// dispatcher. The returned stop func drains delivery before asserting.
func testEngine(t *testing.T, cfg Config, maint *maintenance.Store, now *time.Time) (*Engine, *capturingNotifier, func()) {
	t.Helper()

	clock := func() time.Time { return *now }
	n := &capturingNotifier{}
	w := window.New(5*time.Minute, window.WithClock(clock))
	tr := pool.New(pool.WithClock(clock))
	p := parser.NewNginxParser()

	e := New(cfg, p, w, tr, maint, n, nil, WithClock(clock))
	e.wg.Add(1)
	go e.dispatch()

	return e, n, func() { e.drain() }
}

func recAt(ts time.Time, status int, p record.Pool) record.RequestRecord {
	return record.RequestRecord{Timestamp: ts, StatusCode: status, Pool: p}
}

func TestErrorRateFiresOnceThenDebounces(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	now := base
	e, n, stop := testEngine(t, Config{Threshold: 0.02, MinSamples: 10}, maintenance.New(false), &now)

	// 100 records with 3 evenly spread 5xx: the ratio first exceeds the
	// 2% threshold at ~3%, with a sample well past the minimum.
	for i := 0; i < 100; i++ {
		status := 200
		if i == 32 || i == 65 || i == 98 {
			status = 502
		}
		e.Process(recAt(base, status, record.PoolBlue))
	}

	// A second batch with the same ratio inside the debounce interval.
	now = base.Add(time.Minute)
	for i := 0; i < 100; i++ {
		status := 200
		if i == 32 || i == 65 || i == 98 {
			status = 500
		}
		e.Process(recAt(now, status, record.PoolBlue))
	}

	stop()
	events := n.delivered()
	require.Len(t, events, 1)
	assert.Equal(t, alert.KindErrorRate, events[0].Kind)
	assert.InDelta(t, 0.03, events[0].Ratio, 0.005)
	assert.Equal(t, 5*time.Minute, events[0].WindowDuration)
}

func TestErrorRateRefiresAfterDebounce(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	now := base
	e, n, stop := testEngine(t, Config{Threshold: 0.02, MinSamples: 10, Debounce: time.Minute}, maintenance.New(false), &now)

	for i := 0; i < 100; i++ {
		status := 200
		if i < 5 {
			status = 503
		}
		e.Process(recAt(base, status, record.PoolBlue))
	}

	// Past the debounce interval the persisting condition fires again.
	now = base.Add(2 * time.Minute)
	e.Process(recAt(now, 500, record.PoolBlue))

	stop()
	events := n.delivered()
	require.Len(t, events, 2)
	assert.Equal(t, alert.KindErrorRate, events[1].Kind)
}

func TestRatioEqualToThresholdDoesNotAlert(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	now := base
	e, n, stop := testEngine(t, Config{Threshold: 0.02, MinSamples: 10}, maintenance.New(false), &now)

	// 2 errors in 100, placed so no prefix ever exceeds 2% and the final
	// ratio is exactly 0.02: strict greater-than must not alert.
	for i := 0; i < 100; i++ {
		status := 200
		if i == 49 || i == 99 {
			status = 500
		}
		e.Process(recAt(base, status, record.PoolBlue))
	}

	stop()
	assert.Empty(t, n.delivered())
}

func TestMinimumSampleSizeGate(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	now := base
	e, n, stop := testEngine(t, Config{Threshold: 0.02, MinSamples: 10}, maintenance.New(false), &now)

	// 100% errors but below the minimum sample: statistically insignificant.
	for i := 0; i < 9; i++ {
		e.Process(recAt(base, 500, record.PoolBlue))
	}

	stop()
	assert.Empty(t, n.delivered())
}

func TestFailoverAlertsPerTransitionWithoutDebounce(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	now := base
	e, n, stop := testEngine(t, Config{}, maintenance.New(false), &now)

	e.Process(recAt(base, 200, record.PoolBlue)) // baseline, no alert
	e.Process(recAt(base, 200, record.PoolGreen))
	e.Process(recAt(base, 200, record.PoolBlue))
	e.Process(recAt(base, 200, record.PoolGreen))

	stop()
	events := n.delivered()
	require.Len(t, events, 3)
	for _, ev := range events {
		assert.Equal(t, alert.KindFailover, ev.Kind)
	}
	assert.Equal(t, record.PoolGreen, events[0].ToPool)
	assert.Equal(t, record.PoolBlue, events[1].ToPool)
	assert.Equal(t, record.PoolGreen, events[2].ToPool)
}

func TestMaintenanceModeSuppressesAndDoesNotQueue(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	now := base
	maint := maintenance.New(true)
	e, n, stop := testEngine(t, Config{}, maint, &now)

	e.Process(recAt(base, 200, record.PoolBlue))
	// Transition under maintenance: dropped, never delivered later.
	e.Process(recAt(base, 200, record.PoolGreen))

	maint.Set(false)
	// The suppressed transition stays dropped; same-pool traffic is quiet.
	e.Process(recAt(base, 200, record.PoolGreen))

	// Only the next real transition alerts.
	e.Process(recAt(base, 200, record.PoolBlue))

	stop()
	events := n.delivered()
	require.Len(t, events, 1)
	assert.Equal(t, alert.KindFailover, events[0].Kind)
	assert.Equal(t, record.PoolGreen, events[0].FromPool)
	assert.Equal(t, record.PoolBlue, events[0].ToPool)
}

func TestMaintenanceModeKeepsStateCurrent(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	now := base
	maint := maintenance.New(true)
	e, n, stop := testEngine(t, Config{Threshold: 0.02, MinSamples: 10}, maint, &now)

	// Error burst under maintenance: no alerts, but the window fills.
	for i := 0; i < 50; i++ {
		e.Process(recAt(base, 500, record.PoolBlue))
	}
	assert.Equal(t, 50, e.Snapshot().WindowCount)
	assert.Equal(t, 1.0, e.Snapshot().ErrorRatio)

	stop()
	assert.Empty(t, n.delivered())
}

func TestMalformedLineIsDroppedAndIngestionContinues(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	now := base
	e, n, stop := testEngine(t, Config{}, maintenance.New(false), &now)

	e.handleLine(`10.0.0.1 - - [10/Mar/2026:14:01:02 +0000] "GET / HTTP/1.1" xyz 10`)
	assert.Equal(t, 0, e.Snapshot().WindowCount)

	e.handleLine(`10.0.0.1 - - [10/Mar/2026:14:01:02 +0000] "GET / HTTP/1.1" 200 10 "-" "-" ` +
		`pool:blue release:v1 upstatus:200 upaddr:a:1 req_time:0.1 upr_time:0.1`)
	assert.Equal(t, 1, e.Snapshot().WindowCount)

	stop()
	assert.Empty(t, n.delivered())
}

func TestRunConsumesUntilChannelCloses(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	now := base

	clock := func() time.Time { return now }
	n := &capturingNotifier{}
	w := window.New(5*time.Minute, window.WithClock(clock))
	tr := pool.New(pool.WithClock(clock))
	e := New(Config{}, parser.NewNginxParser(), w, tr, maintenance.New(false), n, nil, WithClock(clock))

	lines := make(chan string, 4)
	lines <- `10.0.0.1 - - [10/Mar/2026:14:01:02 +0000] "GET / HTTP/1.1" 200 10 "-" "-" ` +
		`pool:blue release:v1 upstatus:200 upaddr:a:1 req_time:0.1 upr_time:0.1`
	lines <- `10.0.0.1 - - [10/Mar/2026:14:01:03 +0000] "GET / HTTP/1.1" 200 10 "-" "-" ` +
		`pool:green release:v2 upstatus:200 upaddr:a:2 req_time:0.1 upr_time:0.1`
	close(lines)

	// Run returns once the source is exhausted, after draining dispatch.
	e.Run(context.Background(), lines)

	events := n.delivered()
	require.Len(t, events, 1)
	assert.Equal(t, alert.KindFailover, events[0].Kind)
	assert.Equal(t, "v2", events[0].ReleaseID)
}

func TestSnapshot(t *testing.T) {
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	now := base
	e, _, stop := testEngine(t, Config{}, maintenance.New(false), &now)

	e.Process(recAt(base, 200, record.PoolGreen))
	e.Process(recAt(base, 500, record.PoolGreen))

	st := e.Snapshot()
	assert.Equal(t, record.PoolGreen, st.ActivePool)
	assert.Equal(t, 2, st.WindowCount)
	assert.Equal(t, 0.5, st.ErrorRatio)
	assert.False(t, st.Maintenance)

	stop()
}
