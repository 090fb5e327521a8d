package fsm

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lambdafsm/dispatcher/transport"
)

// These are the five counter names spec §6/§7 name explicitly; every other
// increment is a programmer error.
const (
	MetricError     = "error"
	MetricFatal     = "fatal"
	MetricCache     = "cache"
	MetricRetry     = "retry"
	MetricDuplicate = "duplicate"
)

// Metrics maintains the in-process Prometheus registry the pipeline
// increments on every classified outcome (spec §7), in addition to (not
// instead of) pushing through an optional transport.MetricsSink such as
// CloudWatch.
type Metrics struct {
	counters *prometheus.CounterVec
	sink     transport.MetricsSink
}

// NewMetrics registers the dispatch_total counter with registry (pass
// prometheus.DefaultRegisterer for the global registry) and wires sink as
// the secondary push destination. sink may be nil.
func NewMetrics(registry prometheus.Registerer, sink transport.MetricsSink) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	counters := promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "lambdafsm",
		Name:      "dispatch_total",
		Help:      "Dispatch pipeline outcomes, labeled by classification and FSM position",
	}, []string{"kind", "machine_name", "current_state", "current_event"})
	return &Metrics{counters: counters, sink: sink}
}

// Increment records one occurrence of kind for the given FSM position.
func (m *Metrics) Increment(ctx context.Context, kind, machineName, currentState, currentEvent string) {
	if m == nil {
		return
	}
	m.counters.WithLabelValues(kind, machineName, currentState, currentEvent).Inc()
	if m.sink != nil {
		m.sink.Increment(ctx, kind, map[string]string{
			"machine_name":  machineName,
			"current_state": currentState,
			"current_event": currentEvent,
		}, 1)
	}
}
