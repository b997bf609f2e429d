// Package record defines the parsed representation of one access-log line.
package record

import "time"

// Pool identifies which backend deployment served a request.
type Pool string

const (
	PoolBlue    Pool = "blue"
	PoolGreen   Pool = "green"
	PoolUnknown Pool = "unknown"
)

// ParsePool normalizes a raw pool field value. Anything other than
// blue/green maps to PoolUnknown.
func ParsePool(s string) Pool {
	switch s {
	case "blue":
		return PoolBlue
	case "green":
		return PoolGreen
	default:
		return PoolUnknown
	}
}

// Known reports whether the pool is a concrete deployment color.
func (p Pool) Known() bool {
	return p == PoolBlue || p == PoolGreen
}

// RequestRecord is one parsed access-log line. Immutable once built.
type RequestRecord struct {
	Timestamp  time.Time
	StatusCode int
	Pool       Pool

	// Optional context echoed by the proxy log format.
	ReleaseID      string
	UpstreamAddr   string
	UpstreamStatus string
	RequestTime    float64
	UpstreamTime   float64
}

// IsServerError reports whether the response was a 5xx.
func (r RequestRecord) IsServerError() bool {
	return r.StatusCode >= 500 && r.StatusCode < 600
}
