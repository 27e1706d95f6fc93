package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	checks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "twinwatch",
			Subsystem: "watchdog",
			Name:      "checks_total",
			Help:      "Health checks performed, by process type and classified state.",
		}, []string{"type", "state"},
	)
	restartAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "twinwatch",
			Subsystem: "watchdog",
			Name:      "restart_attempts_total",
			Help:      "Restart attempts per process, by result (success or failure).",
		}, []string{"id", "result"},
	)
	skippedRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "twinwatch",
			Subsystem: "watchdog",
			Name:      "restarts_skipped_total",
			Help:      "Unhealthy checks that did not restart, by reason (given_up or cooling_down).",
		}, []string{"id", "reason"},
	)
	trackedProcesses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "twinwatch",
			Subsystem: "watchdog",
			Name:      "tracked_processes",
			Help:      "Processes currently registered with the watchdog.",
		},
	)
	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "twinwatch",
			Subsystem: "watchdog",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one full check pass.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{checks, restartAttempts, skippedRestarts, trackedProcesses, tickDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has succeeded.

func IncCheck(typ, state string) {
	if regOK.Load() {
		checks.WithLabelValues(typ, state).Inc()
	}
}

func IncRestartAttempt(id string, ok bool) {
	if regOK.Load() {
		result := "failure"
		if ok {
			result = "success"
		}
		restartAttempts.WithLabelValues(id, result).Inc()
	}
}

func IncSkippedRestart(id, reason string) {
	if regOK.Load() {
		skippedRestarts.WithLabelValues(id, reason).Inc()
	}
}

func SetTrackedProcesses(n int) {
	if regOK.Load() {
		trackedProcesses.Set(float64(n))
	}
}

func ObserveTick(seconds float64) {
	if regOK.Load() {
		tickDuration.Observe(seconds)
	}
}
