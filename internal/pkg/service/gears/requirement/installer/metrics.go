package installer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

type Metrics struct {
	Invocations *prometheus.CounterVec
	Successes   *prometheus.CounterVec
	Failures    *prometheus.CounterVec
	// Duration of backend invocations, labeled by shard and result.
	Duration *prometheus.HistogramVec
}

// NewMetrics registers installer metrics, collectors already registered by another shard are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Invocations: newCounter("requirement_installer_invocations_total", "Number of backend invocations."),
		Successes:   newCounter("requirement_installer_successes_total", "Number of installed requirements."),
		Failures:    newCounter("requirement_installer_failures_total", "Number of failed installs."),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "requirement_installer_duration_seconds",
			Help:    "Duration of backend invocations.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"shard", "result"}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	for _, c := range []**prometheus.CounterVec{&m.Invocations, &m.Successes, &m.Failures} {
		if *c, err = register(reg, *c); err != nil {
			return nil, err
		}
	}
	if m.Duration, err = register(reg, m.Duration); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) observeDuration(shard string, start time.Time, err error) {
	result := resultSuccess
	if err != nil {
		result = resultFailure
	}
	m.Duration.WithLabelValues(shard, result).Observe(time.Since(start).Seconds())
}

func newCounter(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{"shard"})
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var registered prometheus.AlreadyRegisteredError
		if errors.As(err, &registered) {
			if existing, ok := registered.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var empty T
		return empty, err
	}
	return c, nil
}
