// Package alert defines the events the engine emits when a detection
// condition is met.
package alert

import (
	"fmt"
	"time"

	"github.com/bluegreenops/poolwatch/internal/record"
)

// Kind discriminates the event variants.
type Kind string

const (
	KindFailover  Kind = "failover"
	KindErrorRate Kind = "error_rate"
)

// Event is one fired alert. Consumed once by the notifier, never stored.
type Event struct {
	ID   string    `json:"id"`
	Kind Kind      `json:"kind"`
	At   time.Time `json:"at"`

	// Failover fields.
	FromPool record.Pool `json:"from_pool,omitempty"`
	ToPool   record.Pool `json:"to_pool,omitempty"`

	// Error-rate fields.
	Ratio          float64       `json:"ratio,omitempty"`
	WindowCount    int           `json:"window_count,omitempty"`
	WindowDuration time.Duration `json:"window_duration,omitempty"`

	// Context echoed from the triggering record, when present.
	ReleaseID      string `json:"release_id,omitempty"`
	UpstreamAddr   string `json:"upstream_addr,omitempty"`
	UpstreamStatus string `json:"upstream_status,omitempty"`
}

// Message renders the notification body for this event.
func (e Event) Message() string {
	switch e.Kind {
	case KindFailover:
		return fmt.Sprintf("[ALERT] Failover detected: Active pool switched from %s to %s at %s",
			e.FromPool, e.ToPool, e.At.UTC().Format(time.RFC3339))
	case KindErrorRate:
		// Ratio is kept exact internally; rounding happens only here.
		return fmt.Sprintf("[ALERT] High error rate detected: %.1f%% 5xx responses in last %s",
			e.Ratio*100, e.WindowDuration)
	default:
		return fmt.Sprintf("[ALERT] %s", e.Kind)
	}
}
