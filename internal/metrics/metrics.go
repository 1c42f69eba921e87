// Package metrics exposes Prometheus collectors for agent run activity.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors the runner reports into. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	runsTotal          *prometheus.CounterVec
	sourceFailures     *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	runsActive         prometheus.Gauge
}

var (
	defaultOnce   sync.Once
	sharedMetrics *Metrics
)

// Default returns the package-level instance registered with the global
// Prometheus registry. Collectors are created once so repeated wiring (unit
// tests included) does not panic on duplicate registration.
func Default() *Metrics {
	defaultOnce.Do(func() {
		sharedMetrics = MustNew(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNew constructs the collectors on the provided registerer. Registration
// errors other than AlreadyRegistered panic, surfacing configuration bugs
// early.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	runsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "briefer",
		Subsystem: "runner",
		Name:      "runs_total",
		Help:      "Total agent runs by terminal status.",
	}, []string{"agent_id", "status"})

	sourceFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "briefer",
		Subsystem: "collector",
		Name:      "source_failures_total",
		Help:      "Total sources that failed to resolve.",
	}, []string{"agent_id", "type"})

	notificationsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "briefer",
		Subsystem: "notify",
		Name:      "notifications_total",
		Help:      "Total notification attempts by outcome.",
	}, []string{"outcome"})

	runDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "briefer",
		Subsystem: "runner",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of agent runs.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"agent_id"})

	runsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "briefer",
		Subsystem: "runner",
		Name:      "runs_active",
		Help:      "Number of runs currently executing.",
	})

	for _, collector := range []prometheus.Collector{runsTotal, sourceFailures, notificationsTotal, runDuration, runsActive} {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch collector {
				case runsTotal:
					runsTotal = already.ExistingCollector.(*prometheus.CounterVec)
				case sourceFailures:
					sourceFailures = already.ExistingCollector.(*prometheus.CounterVec)
				case notificationsTotal:
					notificationsTotal = already.ExistingCollector.(*prometheus.CounterVec)
				case runDuration:
					runDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case runsActive:
					runsActive = already.ExistingCollector.(prometheus.Gauge)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		runsTotal:          runsTotal,
		sourceFailures:     sourceFailures,
		notificationsTotal: notificationsTotal,
		runDuration:        runDuration,
		runsActive:         runsActive,
	}
}

// RunStarted marks a run as active.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
}

// RunFinished records the terminal status and duration of a run.
func (m *Metrics) RunFinished(agentID, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runsActive.Dec()
	m.runsTotal.WithLabelValues(agentID, status).Inc()
	m.runDuration.WithLabelValues(agentID).Observe(duration.Seconds())
}

// SourceFailed counts one failed source resolution.
func (m *Metrics) SourceFailed(agentID, sourceType string) {
	if m == nil {
		return
	}
	m.sourceFailures.WithLabelValues(agentID, sourceType).Inc()
}

// NotificationResult counts one notification attempt.
func (m *Metrics) NotificationResult(sent bool) {
	if m == nil {
		return
	}
	outcome := "sent"
	if !sent {
		outcome = "failed"
	}
	m.notificationsTotal.WithLabelValues(outcome).Inc()
}
