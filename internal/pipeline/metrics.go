package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/obfusk8/obfusk8/pkg/types"
)

// Metrics collects build counters on a private registry, so several
// pipelines in one process never collide
type Metrics struct {
	Registry *prometheus.Registry

	regionsTotal    *prometheus.CounterVec
	passRuns        *prometheus.CounterVec
	passSites       *prometheus.CounterVec
	degradations    *prometheus.CounterVec
	passDuration    *prometheus.HistogramVec
	labelsAllocated prometheus.Counter
}

// NewMetrics creates the build metrics under namespace (default "obfusk8")
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "obfusk8"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		regionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "regions_total",
				Help:      "Protected regions by profile and outcome",
			},
			[]string{"profile", "outcome"}, // ok, error
		),
		passRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pass_runs_total",
				Help:      "Pass runs by pass and status",
			},
			[]string{"pass", "status"},
		),
		passSites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pass_sites_total",
				Help:      "Sites transformed by each pass",
			},
			[]string{"pass"},
		),
		degradations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "degradations_total",
				Help:      "Constructs a pass left untransformed",
			},
			[]string{"pass"},
		),
		passDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pass_duration_seconds",
				Help:      "Time spent in each pass per region",
				Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"pass"},
		),
		labelsAllocated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "labels_allocated_total",
				Help:      "Labels reserved from the obfuscation context",
			},
		),
	}
}

// RecordPass records one pass run
func (m *Metrics) RecordPass(res types.PassResult, d time.Duration) {
	if m == nil {
		return
	}
	m.passRuns.WithLabelValues(res.Name, string(res.Status)).Inc()
	m.passSites.WithLabelValues(res.Name).Add(float64(res.Sites))
	if n := len(res.Degradations); n > 0 {
		m.degradations.WithLabelValues(res.Name).Add(float64(n))
	}
	m.passDuration.WithLabelValues(res.Name).Observe(d.Seconds())
}

// RecordRegion records a finished region
func (m *Metrics) RecordRegion(profile types.Profile, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.regionsTotal.WithLabelValues(profile.String(), outcome).Inc()
}

// RecordLabels records a label allocation
func (m *Metrics) RecordLabels(n uint64) {
	if m == nil {
		return
	}
	m.labelsAllocated.Add(float64(n))
}

// WriteFile writes the metrics in the text exposition format
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
