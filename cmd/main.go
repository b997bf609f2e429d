// Package main is the entry point for poolwatch, the blue/green
// failover and error-rate watcher.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/bluegreenops/poolwatch/internal/config"
	"github.com/bluegreenops/poolwatch/internal/engine"
	"github.com/bluegreenops/poolwatch/internal/logsource"
	"github.com/bluegreenops/poolwatch/internal/maintenance"
	"github.com/bluegreenops/poolwatch/internal/monitoring"
	"github.com/bluegreenops/poolwatch/internal/notify"
	"github.com/bluegreenops/poolwatch/internal/parser"
	"github.com/bluegreenops/poolwatch/internal/pool"
	"github.com/bluegreenops/poolwatch/internal/server"
	"github.com/bluegreenops/poolwatch/internal/window"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "watch", "run":
			runWatcher(os.Args[2:])
			return
		case "version", "-v", "--version":
			fmt.Printf("poolwatch %s\n", version)
			return
		case "help", "-h", "--help":
			printHelp()
			return
		}
	}
	runWatcher(os.Args[1:])
}

func printHelp() {
	fmt.Print(`poolwatch - log-driven failover and error-rate watcher

Usage:
  poolwatch [watch] [flags]   start the watcher (default)
  poolwatch version           print version
  poolwatch help              show this help

Flags:
  --config path   YAML config file (optional, env-only operation works)
  --debug         enable debug logging

Signals:
  SIGHUP          re-read environment overrides (MAINTENANCE_MODE, ...)
  SIGTERM/SIGINT  graceful shutdown
`)
}

func runWatcher(args []string) {
	// Local .env, if present, supplies SLACK_WEBHOOK_URL and friends.
	_ = godotenv.Load()

	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "poolwatch: %v\n", err)
		os.Exit(1)
	}

	logLevel := cfg.Monitoring.LogLevel
	if *debug {
		logLevel = "debug"
	}
	monitoring.Global(monitoring.LoggerConfig{
		Level:  logLevel,
		Format: cfg.Monitoring.LogFormat,
		Output: cfg.Monitoring.LogOutput,
	})

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("watcher exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	p, err := parser.New(parser.Config{
		Format:     cfg.Watch.Format,
		Pattern:    cfg.Watch.Pattern,
		JSONFields: cfg.Watch.JSONFields,
	})
	if err != nil {
		return err
	}

	audit, err := monitoring.NewAuditTrail(cfg.Monitoring.AuditPath)
	if err != nil {
		return fmt.Errorf("audit trail: %w", err)
	}
	defer audit.Close()

	maint := maintenance.New(cfg.Alerts.MaintenanceMode)
	if cfg.Alerts.MaintenanceMode {
		log.Warn().Msg("maintenance mode enabled: alerts suppressed until cleared")
	}

	notifier := notify.NewWebhook(notify.Config{
		WebhookURL: cfg.Notify.WebhookURL,
		Timeout:    cfg.Notify.Timeout.Std(),
		MaxRetries: cfg.Notify.MaxRetries,
		Backoff:    cfg.Notify.Backoff.Std(),
	})
	if cfg.Notify.WebhookURL == "" {
		log.Warn().Msg("webhook URL not set; alerts will be logged but not delivered")
	}

	eng := engine.New(
		engine.Config{
			Threshold:  cfg.Alerts.ErrorRateThreshold,
			MinSamples: cfg.Alerts.MinSamples,
			Debounce:   cfg.Alerts.DebounceInterval.Std(),
		},
		p,
		window.New(cfg.Alerts.WindowDuration.Std()),
		pool.New(),
		maint,
		notifier,
		audit,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SIGTERM/SIGINT stop the pipeline; SIGHUP re-reads env overrides.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for range hupCh {
			log.Info().Msg("reloading environment overrides")
			maint.Reload()
		}
	}()

	if cfg.Server.Port > 0 {
		srv := server.New(server.Config{
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout.Std(),
			WriteTimeout: cfg.Server.WriteTimeout.Std(),
		}, eng, maint)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Error().Err(err).Msg("control server stopped")
			}
		}()
	}

	log.Info().
		Str("log_path", cfg.Watch.LogPath).
		Str("baseline_pool", cfg.Alerts.ActivePool).
		Float64("threshold", cfg.Alerts.ErrorRateThreshold).
		Dur("window", cfg.Alerts.WindowDuration.Std()).
		Msg("poolwatch starting")

	tl := logsource.New(cfg.Watch.LogPath)
	tailErr := make(chan error, 1)
	go func() { tailErr <- tl.Run(ctx) }()

	// The engine consumes until the tailer closes its channel (fatal
	// I/O error) or shutdown cancels the context.
	eng.Run(ctx, tl.Lines())
	cancel()

	if err := <-tailErr; err != nil {
		return fmt.Errorf("log source: %w", err)
	}
	return nil
}
