// Package metrics exposes prometheus counters for the compensation log and
// the sequence generator. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "elasticgrid"

type Metrics struct {
	applied           *prometheus.CounterVec
	failures          *prometheus.CounterVec
	rollbacks         prometheus.Counter
	sequenceValues    *prometheus.CounterVec
	sequenceConflicts *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_applied_total",
			Help:      "Mutating operations recorded as applied in a unit of work.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Failed mutating operations by verdict.",
		}, []string{"kind", "verdict"}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Units of work that completed unsuccessfully with a compensation log.",
		}),
		sequenceValues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_values_total",
			Help:      "Sequence values handed out.",
		}, []string{"sequence"}),
		sequenceConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_conflicts_total",
			Help:      "Lost conditional updates while advancing a sequence.",
		}, []string{"sequence"}),
	}
	for _, c := range []prometheus.Collector{m.applied, m.failures, m.rollbacks, m.sequenceValues, m.sequenceConflicts} {
		if err := reg.Register(c); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return m, nil
}

func (m *Metrics) OperationApplied(kind string) {
	if m == nil {
		return
	}
	m.applied.WithLabelValues(kind).Inc()
}

func (m *Metrics) OperationFailed(kind, verdict string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind, verdict).Inc()
}

func (m *Metrics) RolledBack() {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
}

func (m *Metrics) SequenceValue(name string) {
	if m == nil {
		return
	}
	m.sequenceValues.WithLabelValues(name).Inc()
}

func (m *Metrics) SequenceConflict(name string) {
	if m == nil {
		return
	}
	m.sequenceConflicts.WithLabelValues(name).Inc()
}
