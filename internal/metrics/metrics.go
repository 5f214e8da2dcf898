// Package metrics exports build pass counters and timings to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/OpenNSW/reportbuilder/internal/report/model"
)

const namespace = "report"

// BuildMetrics records finished build passes.
type BuildMetrics struct {
	builds   *prometheus.CounterVec
	steps    *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewBuildMetrics registers the build collectors on reg.
func NewBuildMetrics(reg prometheus.Registerer) (*BuildMetrics, error) {
	m := &BuildMetrics{
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Build passes by final status.",
		}, []string{"status"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "build_steps_total",
			Help:      "Remote steps recorded by build passes, by step and status.",
		}, []string{"step", "status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Wall time of a build pass including finalize steps.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}

	for _, c := range []prometheus.Collector{m.builds, m.steps, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveBuild records one finished build pass.
func (m *BuildMetrics) ObserveBuild(outcome *model.BuildOutcome, elapsed time.Duration) {
	m.builds.WithLabelValues(string(outcome.Status)).Inc()
	for _, step := range outcome.Steps() {
		m.steps.WithLabelValues(string(step.Step), string(step.Status)).Inc()
	}
	if outcome.Failure != nil {
		m.steps.WithLabelValues(string(outcome.Failure.Step), string(model.StepStatusFailed)).Inc()
	}
	m.duration.Observe(elapsed.Seconds())
}

// RegisterOpenSessions exposes the number of live sessions, read from count
// at scrape time.
func RegisterOpenSessions(reg prometheus.Registerer, count func() int) error {
	return reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_sessions",
		Help:      "Sessions currently held by the registry.",
	}, func() float64 {
		return float64(count())
	}))
}
