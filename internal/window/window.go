// Package window maintains a sliding time window of request records and
// computes the 5xx error ratio over it.
package window

import (
	"sync"
	"time"

	"github.com/bluegreenops/poolwatch/internal/record"
)

// DefaultDuration is the window span when none is configured.
const DefaultDuration = 5 * time.Minute

// Aggregator holds records no older than the configured duration.
// Ingestion and eviction happen under one lock, so a concurrent ratio
// read never observes a window mid-eviction.
type Aggregator struct {
	mu       sync.Mutex
	duration time.Duration
	now      func() time.Time

	// FIFO of in-window records; timestamps are non-decreasing because
	// the pipeline processes lines in arrival order.
	records []record.RequestRecord
	errors  int // count of 5xx among records
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock injects a clock source, used by tests to control eviction.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New creates an Aggregator with the given window duration.
func New(duration time.Duration, opts ...Option) *Aggregator {
	if duration <= 0 {
		duration = DefaultDuration
	}
	a := &Aggregator{
		duration: duration,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Duration returns the configured window span.
func (a *Aggregator) Duration() time.Duration {
	return a.duration
}

// Ingest appends a record and evicts everything that has aged out.
func (a *Aggregator) Ingest(rec record.RequestRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.records = append(a.records, rec)
	if rec.IsServerError() {
		a.errors++
	}
	a.evictLocked()
}

// Ratio returns (5xx count)/(total count) over the current window.
// An empty window yields 0.0: no traffic is no alert condition.
func (a *Aggregator) Ratio() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.evictLocked()
	if len(a.records) == 0 {
		return 0.0
	}
	return float64(a.errors) / float64(len(a.records))
}

// Count returns the number of records currently in the window.
func (a *Aggregator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.evictLocked()
	return len(a.records)
}

// evictLocked drops records older than duration, oldest first.
// Eviction is irreversible; evicted records never affect the ratio again.
func (a *Aggregator) evictLocked() {
	cutoff := a.now().Add(-a.duration)
	i := 0
	for ; i < len(a.records); i++ {
		if !a.records[i].Timestamp.Before(cutoff) {
			break
		}
		if a.records[i].IsServerError() {
			a.errors--
		}
	}
	if i > 0 {
		a.records = append(a.records[:0], a.records[i:]...)
	}
}
