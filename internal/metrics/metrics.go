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

	registryStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "verdadesk",
			Subsystem: "registry",
			Name:      "starts_total",
			Help:      "Number of successful registry starts.",
		},
	)
	registryStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "verdadesk",
			Subsystem: "registry",
			Name:      "stops_total",
			Help:      "Number of explicit registry stops.",
		},
	)
	registryExits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "verdadesk",
			Subsystem: "registry",
			Name:      "exits_total",
			Help:      "Number of registry terminations observed from the process itself.",
		},
	)
	registryRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "verdadesk",
			Subsystem: "registry",
			Name:      "running",
			Help:      "Whether the registry process is currently running (1 or 0).",
		},
	)
	logLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verdadesk",
			Subsystem: "logs",
			Name:      "lines_total",
			Help:      "Captured registry output lines by stream.",
		}, []string{"stream"},
	)
	logEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "verdadesk",
			Subsystem: "logs",
			Name:      "evictions_total",
			Help:      "Log lines dropped from the ring buffer to stay within capacity.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{registryStarts, registryStops, registryExits, registryRunning, logLines, logEvictions}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart() {
	if regOK.Load() {
		registryStarts.Inc()
	}
}

func IncStop() {
	if regOK.Load() {
		registryStops.Inc()
	}
}

func IncExit() {
	if regOK.Load() {
		registryExits.Inc()
	}
}

func SetRunning(v bool) {
	if regOK.Load() {
		if v {
			registryRunning.Set(1)
		} else {
			registryRunning.Set(0)
		}
	}
}

func IncLogLine(stream string) {
	if regOK.Load() {
		logLines.WithLabelValues(stream).Inc()
	}
}

func IncLogEviction() {
	if regOK.Load() {
		logEvictions.Inc()
	}
}
