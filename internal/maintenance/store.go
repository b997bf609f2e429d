// Package maintenance holds the operator-controlled alert suppression flag.
//
// DESIGN: A single atomic boolean. The decision path reads it before every
// alert; the control path (config reload, SIGHUP, HTTP toggle) writes it.
// atomic.Bool gives read-after-write visibility without locking ingestion.
package maintenance

import (
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// EnvVar is the environment variable consulted on startup and reload.
const EnvVar = "MAINTENANCE_MODE"

// Store is the process-wide maintenance-mode flag.
type Store struct {
	enabled atomic.Bool
}

// New creates a Store with the given initial state.
func New(enabled bool) *Store {
	s := &Store{}
	s.enabled.Store(enabled)
	return s
}

// Enabled reports whether maintenance mode is active.
func (s *Store) Enabled() bool {
	return s.enabled.Load()
}

// Set updates the flag. The next Enabled() call observes the new value.
func (s *Store) Set(enabled bool) {
	prev := s.enabled.Swap(enabled)
	if prev != enabled {
		log.Info().Bool("enabled", enabled).Msg("maintenance mode changed")
	}
}

// Reload re-reads MAINTENANCE_MODE from the environment. Called on SIGHUP.
func (s *Store) Reload() {
	s.Set(TruthyEnv(os.Getenv(EnvVar)))
}

// TruthyEnv interprets an environment-style boolean: 1/true/yes enable.
func TruthyEnv(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
