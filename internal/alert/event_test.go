package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bluegreenops/poolwatch/internal/record"
)

func TestFailoverMessage(t *testing.T) {
	ev := Event{
		Kind:     KindFailover,
		At:       time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC),
		FromPool: record.PoolBlue,
		ToPool:   record.PoolGreen,
	}
	assert.Equal(t,
		"[ALERT] Failover detected: Active pool switched from blue to green at 2026-08-25T09:30:00Z",
		ev.Message())
}

func TestErrorRateMessage(t *testing.T) {
	ev := Event{
		Kind:           KindErrorRate,
		Ratio:          0.0314159,
		WindowCount:    200,
		WindowDuration: 5 * time.Minute,
	}
	// One decimal at presentation time only.
	assert.Equal(t,
		"[ALERT] High error rate detected: 3.1% 5xx responses in last 5m0s",
		ev.Message())
}
