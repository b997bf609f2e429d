// Package pool tracks the active deployment pool observed in the log stream
// and detects failover transitions.
package pool

import (
	"sync"
	"time"

	"github.com/bluegreenops/poolwatch/internal/record"
)

// Change describes one observed pool transition.
type Change struct {
	From record.Pool
	To   record.Pool
	At   time.Time
}

// Tracker is a three-state machine over {unknown, blue, green}.
//
// The first non-unknown observation establishes the baseline and never
// emits a change; every later differing non-unknown observation emits
// exactly one Change. Unknown observations are non-informative and are
// ignored entirely.
type Tracker struct {
	mu        sync.Mutex
	current   record.Pool
	changedAt time.Time
	baselined bool
	now       func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock injects a clock source for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a Tracker starting in the unknown state.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		current: record.PoolUnknown,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Observe feeds one record's pool identity through the state machine.
// Returns a non-nil Change only when a confirmed transition occurred.
func (t *Tracker) Observe(p record.Pool) *Change {
	if !p.Known() {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.baselined {
		t.baselined = true
		t.current = p
		t.changedAt = t.now()
		return nil
	}
	if p == t.current {
		return nil
	}

	ch := &Change{From: t.current, To: p, At: t.now()}
	t.current = p
	t.changedAt = ch.At
	return ch
}

// Current returns the last-observed pool and when it was established.
func (t *Tracker) Current() (record.Pool, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.changedAt
}
