// Package config loads and validates the watcher configuration.
//
// DESIGN: YAML files with ${VAR:-default} environment expansion, plus
// direct environment overrides for the knobs operators flip at runtime
// (MAINTENANCE_MODE, ACTIVE_POOL, SLACK_WEBHOOK_URL). Overrides are
// re-applied on SIGHUP so a config reload picks up new values without
// a restart.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bluegreenops/poolwatch/internal/maintenance"
	"github.com/bluegreenops/poolwatch/internal/parser"
)

// Duration accepts YAML scalars like "5m" or "30s" as well as raw
// nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		if s == "" {
			*d = 0
			return nil
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration node: %w", err)
	}
	*d = Duration(time.Duration(n))
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration for poolwatch.
type Config struct {
	Watch      WatchConfig      `yaml:"watch"`      // Log source and line format
	Alerts     AlertsConfig     `yaml:"alerts"`     // Detection thresholds and gating
	Notify     NotifyConfig     `yaml:"notify"`     // Webhook delivery
	Server     ServerConfig     `yaml:"server"`     // Control-surface HTTP server
	Monitoring MonitoringConfig `yaml:"monitoring"` // Logging and audit trail
}

// WatchConfig selects the log file and its line format.
type WatchConfig struct {
	LogPath    string            `yaml:"log_path"`
	Format     string            `yaml:"format"`  // nginx | json | regex
	Pattern    string            `yaml:"pattern"` // named-group regex (format: regex)
	JSONFields parser.JSONFields `yaml:"json_fields"`
}

// AlertsConfig holds the detection parameters.
type AlertsConfig struct {
	ErrorRateThreshold float64  `yaml:"error_rate_threshold"`
	WindowDuration     Duration `yaml:"window_duration"`
	MinSamples         int      `yaml:"min_samples"`
	DebounceInterval   Duration `yaml:"debounce_interval"` // defaults to window_duration
	ActivePool         string   `yaml:"active_pool"`       // informational baseline
	MaintenanceMode    bool     `yaml:"maintenance_mode"`
}

// NotifyConfig holds webhook delivery settings.
type NotifyConfig struct {
	WebhookURL string   `yaml:"webhook_url"`
	Timeout    Duration `yaml:"timeout"`
	MaxRetries int      `yaml:"max_retries"`
	Backoff    Duration `yaml:"backoff"`
}

// ServerConfig holds the control-surface HTTP settings. Port 0 disables
// the server.
type ServerConfig struct {
	Port         int      `yaml:"port"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// MonitoringConfig holds logging and audit settings.
type MonitoringConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // json, console
	LogOutput string `yaml:"log_output"` // stdout, stderr, or file path
	AuditPath string `yaml:"audit_path"` // JSONL alert trail, empty disables
}

// expandEnvWithDefaults expands ${VAR} and ${VAR:-default} references.
func expandEnvWithDefaults(s string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Load reads configuration from a YAML file. A missing path yields the
// built-in defaults so the watcher can run from environment alone.
func Load(path string) (*Config, error) {
	if path == "" {
		return LoadFromBytes(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes, applies env
// overrides and defaults, and validates.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if len(data) > 0 {
		expanded := expandEnvWithDefaults(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ApplyEnvOverrides applies the runtime environment knobs on top of the
// file values. Called at load and again on SIGHUP reload.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("WATCH_LOG_PATH"); v != "" {
		c.Watch.LogPath = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		c.Notify.WebhookURL = v
	}
	if v := os.Getenv("ACTIVE_POOL"); v != "" {
		c.Alerts.ActivePool = v
	}
	if v := os.Getenv(maintenance.EnvVar); v != "" {
		c.Alerts.MaintenanceMode = maintenance.TruthyEnv(v)
	}
	if v := os.Getenv("ERROR_RATE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Alerts.ErrorRateThreshold = f
		}
	}
	if v := os.Getenv("WINDOW_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Alerts.WindowDuration = Duration(d)
		}
	}
	if v := os.Getenv("MIN_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Alerts.MinSamples = n
		}
	}
}

// setDefaults fills unset knobs with the documented defaults.
func (c *Config) setDefaults() {
	if c.Watch.LogPath == "" {
		c.Watch.LogPath = "/var/log/nginx/access.log"
	}
	if c.Watch.Format == "" {
		c.Watch.Format = "nginx"
	}
	if c.Alerts.ErrorRateThreshold == 0 {
		c.Alerts.ErrorRateThreshold = 0.02
	}
	if c.Alerts.WindowDuration == 0 {
		c.Alerts.WindowDuration = Duration(5 * time.Minute)
	}
	if c.Alerts.MinSamples == 0 {
		c.Alerts.MinSamples = 10
	}
	if c.Alerts.DebounceInterval == 0 {
		c.Alerts.DebounceInterval = c.Alerts.WindowDuration
	}
	if c.Alerts.ActivePool == "" {
		c.Alerts.ActivePool = "blue"
	}
	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = Duration(5 * time.Second)
	}
	if c.Notify.MaxRetries == 0 {
		c.Notify.MaxRetries = 3
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(10 * time.Second)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(10 * time.Second)
	}
	if c.Monitoring.LogLevel == "" {
		c.Monitoring.LogLevel = "info"
	}
	if c.Monitoring.LogFormat == "" {
		c.Monitoring.LogFormat = "json"
	}
}

// Validate checks the configuration for operator mistakes.
func (c *Config) Validate() error {
	if c.Watch.LogPath == "" {
		return fmt.Errorf("watch.log_path is required")
	}
	switch c.Watch.Format {
	case "nginx", "json":
	case "regex":
		if c.Watch.Pattern == "" {
			return fmt.Errorf("watch.pattern is required for format: regex")
		}
	default:
		return fmt.Errorf("unknown watch.format %q", c.Watch.Format)
	}

	if c.Alerts.ErrorRateThreshold <= 0 || c.Alerts.ErrorRateThreshold >= 1 {
		return fmt.Errorf("alerts.error_rate_threshold must be in (0, 1), got %g", c.Alerts.ErrorRateThreshold)
	}
	if c.Alerts.WindowDuration <= 0 {
		return fmt.Errorf("alerts.window_duration must be positive")
	}
	if c.Alerts.MinSamples < 1 {
		return fmt.Errorf("alerts.min_samples must be at least 1")
	}
	switch c.Alerts.ActivePool {
	case "blue", "green":
	default:
		return fmt.Errorf("alerts.active_pool must be blue or green, got %q", c.Alerts.ActivePool)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	return nil
}
