// Package monitoring - audit.go records fired alerts to a JSONL file.
//
// DESIGN: One JSON object per line, appended immediately after each
// alert so the trail is live. This is an operator log, not state: the
// watcher never reads it back.
package monitoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// AuditTrail appends fired alerts to a JSONL file.
type AuditTrail struct {
	mu    sync.Mutex
	path  string
	count int
}

// NewAuditTrail creates the trail. An empty path disables it.
func NewAuditTrail(path string) (*AuditTrail, error) {
	t := &AuditTrail{path: path}
	if path == "" {
		return t, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, err
	}
	return t, nil
}

// Enabled reports whether alerts are being recorded.
func (t *AuditTrail) Enabled() bool { return t.path != "" }

// Record appends one alert event. Write failures are logged, never fatal.
func (t *AuditTrail) Record(event any) {
	if t.path == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("audit: failed to marshal alert")
		return
	}
	data = append(data, '\n')

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		log.Error().Err(err).Str("path", t.path).Msg("audit: failed to open trail")
		return
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		log.Error().Err(err).Str("path", t.path).Msg("audit: failed to write alert")
		return
	}
	t.count++
}

// Close logs a session summary.
func (t *AuditTrail) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.path != "" && t.count > 0 {
		log.Info().Str("path", t.path).Int("alerts", t.count).Msg("audit: session complete")
	}
}
