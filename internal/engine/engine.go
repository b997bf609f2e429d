// Package engine is the watcher's decision loop. It consumes raw log
// lines, drives the window aggregator and pool tracker, applies
// maintenance-mode gating and debouncing, and dispatches alerts.
//
// DESIGN: Ingestion is a single sequential path — pool-transition and
// window state depend on records being processed in arrival order.
// Notification delivery is decoupled through a bounded queue and one
// dispatch worker so a slow or retrying webhook never backpressures
// log consumption. Alerts beyond the queue bound are logged as lost.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bluegreenops/poolwatch/internal/alert"
	"github.com/bluegreenops/poolwatch/internal/maintenance"
	"github.com/bluegreenops/poolwatch/internal/monitoring"
	"github.com/bluegreenops/poolwatch/internal/notify"
	"github.com/bluegreenops/poolwatch/internal/parser"
	"github.com/bluegreenops/poolwatch/internal/pool"
	"github.com/bluegreenops/poolwatch/internal/record"
	"github.com/bluegreenops/poolwatch/internal/window"
)

// Defaults applied when config leaves a knob unset.
const (
	DefaultThreshold  = 0.02
	DefaultMinSamples = 10
	DefaultQueueSize  = 64
	DefaultGrace      = 5 * time.Second
)

// Config holds the engine's detection parameters.
type Config struct {
	Threshold  float64       `yaml:"error_rate_threshold"`
	MinSamples int           `yaml:"min_samples"`
	Debounce   time.Duration `yaml:"debounce_interval"` // defaults to the window duration
	QueueSize  int           `yaml:"queue_size"`
	Grace      time.Duration `yaml:"shutdown_grace"`
}

// Engine wires the per-record pipeline together.
type Engine struct {
	parse    parser.Parser
	window   *window.Aggregator
	tracker  *pool.Tracker
	maint    *maintenance.Store
	notifier notify.Notifier
	audit    *monitoring.AuditTrail

	threshold  float64
	minSamples int
	debounce   time.Duration
	grace      time.Duration
	now        func() time.Time

	queue          chan alert.Event
	wg             sync.WaitGroup
	dispatchCtx    context.Context
	dispatchCancel context.CancelFunc

	mu             sync.Mutex
	lastErrorFired time.Time
	firedTotal     int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects a clock source for debounce timing in tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine. The window aggregator's duration also serves
// as the default debounce interval.
func New(cfg Config, p parser.Parser, w *window.Aggregator, tr *pool.Tracker,
	m *maintenance.Store, n notify.Notifier, audit *monitoring.AuditTrail, opts ...Option) *Engine {

	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	minSamples := cfg.MinSamples
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = w.Duration()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	grace := cfg.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	dispatchCtx, dispatchCancel := context.WithCancel(context.Background())
	e := &Engine{
		parse:          p,
		window:         w,
		tracker:        tr,
		maint:          m,
		notifier:       n,
		audit:          audit,
		threshold:      threshold,
		minSamples:     minSamples,
		debounce:       debounce,
		grace:          grace,
		now:            time.Now,
		queue:          make(chan alert.Event, queueSize),
		dispatchCtx:    dispatchCtx,
		dispatchCancel: dispatchCancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run consumes raw lines until the channel closes or ctx is cancelled,
// then drains in-flight notifications on a bounded grace period.
func (e *Engine) Run(ctx context.Context, lines <-chan string) {
	e.wg.Add(1)
	go e.dispatch()

	defer e.drain()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			e.handleLine(line)
		}
	}
}

// handleLine parses one raw line and feeds the record through the
// decision path. Parse failures drop the line and nothing else.
func (e *Engine) handleLine(line string) {
	monitoring.LinesIngested.Inc()

	rec, err := e.parse.Parse(line)
	if err != nil {
		monitoring.ParseErrors.Inc()
		log.Warn().Err(err).Str("line", truncate(line, 200)).Msg("dropped unparseable line")
		return
	}
	e.Process(rec)
}

// Process runs the detection checks for one record. Exported so tests
// can drive the engine without a line source.
func (e *Engine) Process(rec record.RequestRecord) {
	maint := e.maint.Enabled()

	// Pool transition check. State updates regardless of maintenance
	// mode; only the alert output is gated. A suppressed transition is
	// dropped, not queued for later.
	if ch := e.tracker.Observe(rec.Pool); ch != nil {
		if maint {
			monitoring.AlertsSuppressed.WithLabelValues(string(alert.KindFailover), "maintenance").Inc()
			log.Info().Str("from", string(ch.From)).Str("to", string(ch.To)).
				Msg("failover suppressed by maintenance mode")
		} else {
			e.fire(alert.Event{
				ID:             uuid.NewString(),
				Kind:           alert.KindFailover,
				At:             ch.At,
				FromPool:       ch.From,
				ToPool:         ch.To,
				ReleaseID:      rec.ReleaseID,
				UpstreamAddr:   rec.UpstreamAddr,
				UpstreamStatus: rec.UpstreamStatus,
			})
		}
	}

	// Error-rate check. Strictly greater than the threshold, and only
	// with a statistically meaningful sample.
	e.window.Ingest(rec)
	ratio := e.window.Ratio()
	count := e.window.Count()
	monitoring.UpdateWindowMetrics(ratio, count, maint)

	if ratio > e.threshold && count >= e.minSamples {
		switch {
		case maint:
			monitoring.AlertsSuppressed.WithLabelValues(string(alert.KindErrorRate), "maintenance").Inc()
		case !e.debounceElapsed():
			monitoring.AlertsSuppressed.WithLabelValues(string(alert.KindErrorRate), "debounce").Inc()
		default:
			now := e.now()
			e.mu.Lock()
			e.lastErrorFired = now
			e.mu.Unlock()
			e.fire(alert.Event{
				ID:             uuid.NewString(),
				Kind:           alert.KindErrorRate,
				At:             now,
				Ratio:          ratio,
				WindowCount:    count,
				WindowDuration: e.window.Duration(),
			})
		}
	}
}

// debounceElapsed reports whether enough time passed since the last
// error-rate alert.
func (e *Engine) debounceElapsed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastErrorFired.IsZero() {
		return true
	}
	return e.now().Sub(e.lastErrorFired) > e.debounce
}

// fire queues an event for delivery. A full queue drops the alert
// rather than blocking ingestion.
func (e *Engine) fire(ev alert.Event) {
	monitoring.AlertsFired.WithLabelValues(string(ev.Kind)).Inc()
	if e.audit != nil {
		e.audit.Record(ev)
	}

	e.mu.Lock()
	e.firedTotal++
	e.mu.Unlock()

	select {
	case e.queue <- ev:
		log.Info().Str("alert_id", ev.ID).Str("kind", string(ev.Kind)).Msg("alert queued")
	default:
		monitoring.AlertsDropped.Inc()
		log.Error().Str("alert_id", ev.ID).Str("kind", string(ev.Kind)).
			Msg("alert lost: dispatch queue full")
	}
}

// dispatch delivers queued events until the queue closes.
func (e *Engine) dispatch() {
	defer e.wg.Done()
	for ev := range e.queue {
		if err := e.notifier.Notify(e.dispatchCtx, ev); err != nil {
			monitoring.NotifyFailures.Inc()
			log.Error().Err(err).Str("alert_id", ev.ID).Msg("notification failed")
		}
	}
}

// drain closes the queue and waits for the dispatcher, abandoning
// in-flight deliveries after the grace period.
func (e *Engine) drain() {
	close(e.queue)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(e.grace):
		log.Warn().Dur("grace", e.grace).Msg("shutdown grace elapsed, abandoning in-flight notifications")
		e.dispatchCancel()
		<-done
	}
	e.dispatchCancel()
}

// Status is a point-in-time view of the engine for the control surface.
type Status struct {
	ActivePool     record.Pool `json:"active_pool"`
	PoolSince      time.Time   `json:"pool_since,omitempty"`
	ErrorRatio     float64     `json:"error_ratio"`
	WindowCount    int         `json:"window_count"`
	Maintenance    bool        `json:"maintenance_mode"`
	LastErrorAlert time.Time   `json:"last_error_alert,omitempty"`
	AlertsFired    int64       `json:"alerts_fired"`
}

// Snapshot returns the current engine state.
func (e *Engine) Snapshot() Status {
	cur, since := e.tracker.Current()

	e.mu.Lock()
	lastFired := e.lastErrorFired
	fired := e.firedTotal
	e.mu.Unlock()

	return Status{
		ActivePool:     cur,
		PoolSince:      since,
		ErrorRatio:     e.window.Ratio(),
		WindowCount:    e.window.Count(),
		Maintenance:    e.maint.Enabled(),
		LastErrorAlert: lastFired,
		AlertsFired:    fired,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
