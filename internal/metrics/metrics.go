// Package metrics exports machine activity as Prometheus metrics.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "avcs"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Observer records machine operations. It implements machine.Observer.
//
// Thread-safety: safe for concurrent use; the collectors are.
type Observer struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	replayed   *prometheus.CounterVec
	conflicts  prometheus.Counter
}

// New creates an Observer and registers its collectors on reg.
func New(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Machine operations by name and result.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Machine operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"op"}),
		replayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replayed_steps_total",
			Help:      "Payloads run while moving state between actions.",
		}, []string{"direction"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_conflicts_total",
			Help:      "Conflict groups handed to the resolver.",
		}),
	}
	for _, c := range []prometheus.Collector{o.operations, o.duration, o.replayed, o.conflicts} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return o, nil
}

// OperationDone counts one finished operation.
func (o *Observer) OperationDone(op string, elapsed time.Duration, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	o.operations.WithLabelValues(op, result).Inc()
	o.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Replayed counts payloads run in one direction.
func (o *Observer) Replayed(direction string, steps int) {
	if steps > 0 {
		o.replayed.WithLabelValues(direction).Add(float64(steps))
	}
}

// Conflicts counts resolver calls of one merge.
func (o *Observer) Conflicts(n int) {
	if n > 0 {
		o.conflicts.Add(float64(n))
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
