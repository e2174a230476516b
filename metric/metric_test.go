package metric

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"pipelined.dev/pipeline/bus"
	"pipelined.dev/pipeline/state"
)

type source string

func (s source) Name() string {
	return string(s)
}

func TestMeter(t *testing.T) {
	var tests = []struct {
		element         string
		routines        int
		buffers         int
		bufferSize      int64
		expectedBytes   float64
		expectedBuffers float64
		expectedRuns    float64
	}{
		{
			element:         "fakesink0",
			routines:        2,
			buffers:         10,
			bufferSize:      100,
			expectedBytes:   2000,
			expectedBuffers: 20,
			expectedRuns:    2,
		},
		{
			element:         "identity0",
			routines:        4,
			buffers:         5,
			bufferSize:      10,
			expectedBytes:   200,
			expectedBuffers: 20,
			expectedRuns:    4,
		},
	}
	// function to test meter.
	testFn := func(fn MeasureFunc, wg *sync.WaitGroup, buffers int, bufferSize int64) {
		for i := 0; i < buffers; i++ {
			fn(bufferSize)
		}
		wg.Done()
	}

	m := New()
	for _, c := range tests {
		reset := m.Meter("test", c.element)
		wg := &sync.WaitGroup{}
		wg.Add(c.routines)
		for i := 0; i < c.routines; i++ {
			go testFn(reset(), wg, c.buffers, c.bufferSize)
		}
		// check if no data race.
		wg.Wait()
		assert.Equal(t, c.expectedBytes, testutil.ToFloat64(m.bytes.WithLabelValues("test", c.element)))
		assert.Equal(t, c.expectedBuffers, testutil.ToFloat64(m.buffers.WithLabelValues("test", c.element)))
		assert.Equal(t, c.expectedRuns, testutil.ToFloat64(m.runs.WithLabelValues("test", c.element)))
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	measure := m.Meter("test", "fakesink0")()
	measure(10)
	m.Observe("test", bus.NewEOS(source("test")))
	m.Delete("test")
}

func TestObserve(t *testing.T) {
	m := New()
	m.Observe("test", bus.NewStateChanged(source("test"), state.Null, state.Ready, state.Playing))
	m.Observe("test", bus.NewStateChanged(source("test"), state.Ready, state.Paused, state.Playing))
	m.Observe("test", bus.NewEOS(source("fakesink0")))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messages.WithLabelValues("test", "state-changed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("test", "eos")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("test", "test", "READY_TO_PAUSED")))
	assert.Equal(t, float64(state.Paused), testutil.ToFloat64(m.state.WithLabelValues("test", "test")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "mediagraph_state_transitions_total"))

	m.Delete("test")
	assert.Equal(t, 0, testutil.CollectAndCount(m.messages))
}
