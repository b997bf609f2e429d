// Package notify delivers alert events to an outbound webhook.
//
// DESIGN: Slack-style JSON POST. Transient failures (network errors,
// endpoint 5xx) are retried with exponential backoff up to a fixed
// bound; permanent failures (endpoint 4xx, malformed URL) are returned
// immediately. Either way delivery never halts ingestion — the engine
// dispatches through a bounded queue and logs failures.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/sjson"

	"github.com/bluegreenops/poolwatch/internal/alert"
)

// Defaults per config.
const (
	DefaultTimeout    = 5 * time.Second
	DefaultMaxRetries = 3
	DefaultBackoff    = 500 * time.Millisecond
)

// Error classifies a delivery failure.
type Error struct {
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("notify (%s): %v", kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable delivery failure.
func IsTransient(err error) bool {
	var ne *Error
	return errors.As(err, &ne) && ne.Transient
}

// Notifier delivers one alert event.
type Notifier interface {
	Notify(ctx context.Context, ev alert.Event) error
}

// Config holds webhook delivery settings.
type Config struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
}

// Webhook posts alert messages to a Slack-compatible endpoint.
type Webhook struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
}

// NewWebhook creates a Webhook notifier from config.
func NewWebhook(cfg Config) *Webhook {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return &Webhook{
		url:        cfg.WebhookURL,
		client:     &http.Client{Timeout: timeout},
		maxRetries: retries,
		backoff:    backoff,
	}
}

// Notify delivers the event, retrying transient failures. A blank
// webhook URL logs and skips — the watcher keeps running without a
// configured channel.
func (w *Webhook) Notify(ctx context.Context, ev alert.Event) error {
	if w.url == "" {
		log.Warn().Str("alert_id", ev.ID).Msg("webhook URL not set, skipping notification")
		return nil
	}
	if _, err := url.ParseRequestURI(w.url); err != nil {
		return &Error{Err: fmt.Errorf("malformed webhook URL: %w", err)}
	}

	payload, err := buildPayload(ev)
	if err != nil {
		return &Error{Err: fmt.Errorf("build payload: %w", err)}
	}

	var lastErr error
	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		err := w.post(ctx, payload)
		if err == nil {
			log.Info().Str("alert_id", ev.ID).Str("kind", string(ev.Kind)).Int("attempt", attempt).
				Msg("alert delivered")
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err
		log.Warn().Err(err).Str("alert_id", ev.ID).Int("attempt", attempt).Msg("alert delivery failed")

		if attempt < w.maxRetries {
			select {
			case <-ctx.Done():
				return &Error{Transient: true, Err: ctx.Err()}
			case <-time.After(w.backoff << (attempt - 1)):
			}
		}
	}
	return lastErr
}

// post performs one delivery attempt.
func (w *Webhook) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return &Error{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return &Error{Transient: true, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return &Error{Transient: true, Err: fmt.Errorf("endpoint returned %d", resp.StatusCode)}
	default:
		return &Error{Err: fmt.Errorf("endpoint returned %d", resp.StatusCode)}
	}
}

// buildPayload renders the Slack-style JSON body.
func buildPayload(ev alert.Event) ([]byte, error) {
	body, err := sjson.Set("", "text", ev.Message())
	if err != nil {
		return nil, err
	}
	body, _ = sjson.Set(body, "poolwatch.alert_id", ev.ID)
	body, _ = sjson.Set(body, "poolwatch.kind", string(ev.Kind))

	switch ev.Kind {
	case alert.KindFailover:
		if ev.ReleaseID != "" {
			body, _ = sjson.Set(body, "poolwatch.release", ev.ReleaseID)
		}
		if ev.UpstreamAddr != "" {
			body, _ = sjson.Set(body, "poolwatch.upstream_addr", ev.UpstreamAddr)
		}
		if ev.UpstreamStatus != "" {
			body, _ = sjson.Set(body, "poolwatch.upstream_status", ev.UpstreamStatus)
		}
	case alert.KindErrorRate:
		body, _ = sjson.Set(body, "poolwatch.window_count", ev.WindowCount)
		body, _ = sjson.Set(body, "poolwatch.ratio", ev.Ratio)
	}
	return []byte(body), nil
}
