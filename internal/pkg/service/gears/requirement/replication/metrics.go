package replication

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

type metrics struct {
	delivered *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	queued    *prometheus.GaugeVec
}

func newMetrics(reg *prometheus.Registry) (*metrics, error) {
	m := &metrics{
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requirement_replication_delivered_total",
			Help: "Number of requirements delivered to a replica.",
		}, []string{"replica"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requirement_replication_rejected_total",
			Help: "Number of requirements rejected by a replica.",
		}, []string{"replica"}),
		queued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "requirement_replication_queued",
			Help: "Number of requirements waiting for delivery.",
		}, []string{"replica"}),
	}

	if reg != nil {
		errs := errors.NewMultiError()
		for _, c := range []prometheus.Collector{m.delivered, m.rejected, m.queued} {
			if err := reg.Register(c); err != nil {
				errs.Append(err)
			}
		}
		if err := errs.ErrorOrNil(); err != nil {
			return nil, errors.PrefixError(err, "cannot register replication metrics")
		}
	}

	return m, nil
}
