// Package monitoring - metrics.go exports operational metrics to Prometheus.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinesIngested counts raw lines read from the access log.
	LinesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poolwatch_lines_ingested_total",
		Help: "Total number of log lines read",
	})

	// ParseErrors counts lines dropped for failed field extraction.
	ParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poolwatch_parse_errors_total",
		Help: "Total number of unparseable log lines dropped",
	})

	// AlertsFired counts alerts handed to the notifier, by kind.
	AlertsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poolwatch_alerts_fired_total",
		Help: "Total number of alerts fired",
	}, []string{"kind"})

	// AlertsSuppressed counts alert conditions that did not fire, by reason.
	AlertsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poolwatch_alerts_suppressed_total",
		Help: "Total number of alert conditions suppressed",
	}, []string{"kind", "reason"})

	// AlertsDropped counts alerts lost because the dispatch queue was full.
	AlertsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poolwatch_alerts_dropped_total",
		Help: "Total number of alerts dropped at the dispatch queue",
	})

	// NotifyFailures counts notifications that exhausted delivery attempts.
	NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "poolwatch_notify_failures_total",
		Help: "Total number of notifications that could not be delivered",
	})

	// ErrorRatio is the current 5xx ratio over the sliding window.
	ErrorRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "poolwatch_error_ratio",
		Help: "Current 5xx error ratio over the sliding window",
	})

	// WindowRecords is the current record count in the sliding window.
	WindowRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "poolwatch_window_records",
		Help: "Number of records currently in the sliding window",
	})

	// MaintenanceMode is 1 while alert suppression is active.
	MaintenanceMode = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "poolwatch_maintenance_mode",
		Help: "Whether maintenance-mode alert suppression is active",
	})
)

// UpdateWindowMetrics refreshes the window gauges after each record.
func UpdateWindowMetrics(ratio float64, count int, maintenance bool) {
	ErrorRatio.Set(ratio)
	WindowRecords.Set(float64(count))
	if maintenance {
		MaintenanceMode.Set(1)
	} else {
		MaintenanceMode.Set(0)
	}
}
