// Package metrics exposes Prometheus collectors for the saga coordinator.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Operation outcomes.
const (
	OutcomeCompleted          = "completed"
	OutcomeRejected           = "rejected"
	OutcomeCompensated        = "compensated"
	OutcomeCompensationFailed = "compensation_failed"
)

// Compensation results.
const (
	ResultSucceeded = "succeeded"
	ResultFailed    = "failed"
)

// Saga contains the coordinator's collectors. A nil *Saga is valid and
// records nothing.
type Saga struct {
	Operations    *prometheus.CounterVec
	Compensations *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
}

func NewSaga() *Saga {
	return &Saga{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "insurance",
				Subsystem: "saga",
				Name:      "operations_total",
				Help:      "Dual-store operations by final outcome",
			},
			[]string{"operation", "outcome"},
		),
		Compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "insurance",
				Subsystem: "saga",
				Name:      "compensations_total",
				Help:      "Phase-1 reversals by result",
			},
			[]string{"operation", "result"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "insurance",
				Subsystem: "saga",
				Name:      "duration_seconds",
				Help:      "Time spent per dual-store operation",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// Register adds the collectors to reg. Collectors already registered with
// the same descriptor are tolerated.
func (m *Saga) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.Operations, m.Compensations, m.Duration} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

func (m *Saga) ObserveOperation(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
	m.Duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Saga) ObserveCompensation(operation, result string) {
	if m == nil {
		return
	}
	m.Compensations.WithLabelValues(operation, result).Inc()
}

// NewRegistry returns a registry with the runtime collectors and m.
func NewRegistry(m *Saga) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if m != nil {
		if err := m.Register(reg); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
