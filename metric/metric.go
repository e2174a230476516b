// Package metric collects pipeline counters with prometheus.
//
// Every pipeline gets its own set of label values, so multiple pipelines
// can share a single Metrics instance. Counters are registered in a
// private registry which is exposed with Handler.
package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pipelined.dev/pipeline/bus"
	"pipelined.dev/pipeline/state"
)

const namespace = "mediagraph"

// ResetFunc returns new Measure closure. This closure is needed to postpone
// metrics capture until element is actually running.
type ResetFunc func() MeasureFunc

// MeasureFunc captures metrics when buffer is processed.
type MeasureFunc func(bufferSize int64)

// Metrics holds pipeline counters.
type Metrics struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	buffers     *prometheus.CounterVec
	bytes       *prometheus.CounterVec
	latency     *prometheus.GaugeVec
	messages    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	state       *prometheus.GaugeVec
}

// New returns metrics registered in a new registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry returns metrics registered in provided registry.
func NewWithRegistry(registry *prometheus.Registry) *Metrics {
	m := Metrics{
		registry: registry,
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "element_runs_total",
				Help:      "Number of times element has started streaming",
			},
			[]string{"pipeline", "element"},
		),
		buffers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "buffers_total",
				Help:      "Number of buffers handled by element",
			},
			[]string{"pipeline", "element"},
		),
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_total",
				Help:      "Number of payload bytes handled by element",
			},
			[]string{"pipeline", "element"},
		),
		latency: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "buffer_latency_seconds",
				Help:      "Time between two consequent buffers handled by element",
			},
			[]string{"pipeline", "element"},
		),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bus_messages_total",
				Help:      "Number of messages posted on pipeline bus",
			},
			[]string{"pipeline", "kind"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transitions_total",
				Help:      "Number of committed state transitions",
			},
			[]string{"pipeline", "element", "transition"},
		),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "element_state",
				Help:      "Current state of element: 1 null, 2 ready, 3 paused, 4 playing",
			},
			[]string{"pipeline", "element"},
		),
	}
	registry.MustRegister(m.runs, m.buffers, m.bytes, m.latency, m.messages, m.transitions, m.state)
	return &m
}

// Registry returns the registry metrics are registered in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Meter creates new meter closure to capture element counters. It's safe
// to call Meter on nil metrics, returned closures do nothing in that case.
func (m *Metrics) Meter(pipeline, element string) ResetFunc {
	if m == nil {
		return func() MeasureFunc {
			return func(int64) {}
		}
	}
	var (
		buffers = m.buffers.WithLabelValues(pipeline, element)
		bytes   = m.bytes.WithLabelValues(pipeline, element)
		latency = m.latency.WithLabelValues(pipeline, element)
		runs    = m.runs.WithLabelValues(pipeline, element)
	)
	return func() MeasureFunc {
		runs.Inc()
		calledAt := time.Now()
		return func(s int64) {
			latency.Set(time.Since(calledAt).Seconds())
			buffers.Inc()
			bytes.Add(float64(s))
			calledAt = time.Now()
		}
	}
}

// Observe updates message and state counters with a bus message.
func (m *Metrics) Observe(pipeline string, msg bus.Message) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(pipeline, msg.Kind.String()).Inc()
	if msg.Kind != bus.StateChanged {
		return
	}
	oldState, newState, _ := msg.ParseStateChanged()
	element := msg.SourceName()
	m.transitions.WithLabelValues(pipeline, element, state.Transition{From: oldState, To: newState}.String()).Inc()
	m.state.WithLabelValues(pipeline, element).Set(float64(newState))
}

// Delete removes all label values of the pipeline.
func (m *Metrics) Delete(pipeline string) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"pipeline": pipeline}
	m.runs.DeletePartialMatch(labels)
	m.buffers.DeletePartialMatch(labels)
	m.bytes.DeletePartialMatch(labels)
	m.latency.DeletePartialMatch(labels)
	m.messages.DeletePartialMatch(labels)
	m.transitions.DeletePartialMatch(labels)
	m.state.DeletePartialMatch(labels)
}
