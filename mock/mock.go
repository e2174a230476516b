// Package mock provides mocks for pipeline elements and allows to execute
// integration tests.
package mock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"pipelined.dev/pipeline"
	"pipelined.dev/pipeline/caps"
	"pipelined.dev/pipeline/state"
)

// Source mocks a source element. It pushes Limit buffers of Size bytes
// through its "src" pad.
type Source struct {
	counter
	Limit       int
	Size        int
	Interval    time.Duration
	Caps        caps.Caps
	ErrorOnCall error
	Hooks
}

// Element returns source component.
func (m *Source) Element(name string) *pipeline.Component {
	c := pipeline.NewComponent(name, "mocksrc", pipeline.KindSource, nil,
		m.behavior(pipeline.Behavior{Source: m.source}),
		pipeline.PadTemplate{Name: "src", Direction: pipeline.Src, Caps: orAny(m.Caps)},
	)
	return c
}

func (m *Source) source(ctx context.Context, c *pipeline.Component) error {
	if m.ErrorOnCall != nil {
		return m.ErrorOnCall
	}
	if m.Count().Buffers >= m.Limit {
		return io.EOF
	}
	if err := sleep(ctx, m.Interval); err != nil {
		return err
	}
	if err := c.Push(ctx, "src", pipeline.Buffer{
		Data:   make([]byte, m.Size),
		Offset: int64(m.Count().Buffers),
	}); err != nil {
		return err
	}
	m.advance(m.Size)
	return nil
}

// Stream is a single stream of Demuxer.
type Stream struct {
	Pad  string
	Caps caps.Caps
}

// Demuxer mocks an element with sometimes pads. On the first call after
// start it adds a pad per stream, then pushes Limit buffers to every pad.
// Pads that are not linked are skipped.
type Demuxer struct {
	counter
	Streams []Stream
	Limit   int
	Size    int
	Hooks

	addedMu sync.Mutex
	added   bool
}

// Element returns demuxer component.
func (m *Demuxer) Element(name string) *pipeline.Component {
	var templates []pipeline.PadTemplate
	for _, s := range m.Streams {
		templates = append(templates, pipeline.PadTemplate{
			Name:      s.Pad,
			Direction: pipeline.Src,
			Presence:  pipeline.Sometimes,
			Caps:      s.Caps,
		})
	}
	b := m.behavior(pipeline.Behavior{Source: m.source})
	start := b.Start
	// sometimes pads are removed on stop, every run starts over.
	b.Start = func(ctx context.Context) error {
		m.addedMu.Lock()
		m.added = false
		m.addedMu.Unlock()
		m.Reset()
		return start(ctx)
	}
	return pipeline.NewComponent(name, "mockdemux", pipeline.KindSource, nil, b, templates...)
}

func (m *Demuxer) source(ctx context.Context, c *pipeline.Component) error {
	m.addedMu.Lock()
	added := m.added
	m.added = true
	m.addedMu.Unlock()
	if !added {
		for _, s := range m.Streams {
			if _, err := c.AddPad(ctx, s.Pad, s.Pad, s.Caps); err != nil {
				return err
			}
		}
	}
	if m.Count().Buffers >= m.Limit {
		return io.EOF
	}
	linked := 0
	for _, s := range m.Streams {
		err := c.Push(ctx, s.Pad, pipeline.Buffer{Data: make([]byte, m.Size)})
		switch {
		case err == nil:
			linked++
		case errors.Is(err, pipeline.ErrNotLinked):
		default:
			return err
		}
	}
	if linked == 0 {
		return fmt.Errorf("%s: %w", c.Name(), pipeline.ErrNotLinked)
	}
	m.advance(m.Size)
	return nil
}

// Filter mocks a filter element with "sink" and "src" pads.
type Filter struct {
	counter
	Caps        caps.Caps
	ErrorOnCall error
	// ErrorAfter makes filter fail after provided number of buffers.
	ErrorAfter int
	Hooks
}

// Element returns filter component.
func (m *Filter) Element(name string) *pipeline.Component {
	return pipeline.NewComponent(name, "mockfilter", pipeline.KindFilter, nil,
		m.behavior(pipeline.Behavior{Process: m.process}),
		pipeline.PadTemplate{Name: "sink", Direction: pipeline.Sink, Caps: orAny(m.Caps)},
		pipeline.PadTemplate{Name: "src", Direction: pipeline.Src, Caps: orAny(m.Caps)},
	)
}

func (m *Filter) process(ctx context.Context, b pipeline.Buffer) (pipeline.Buffer, error) {
	if m.ErrorOnCall != nil {
		return b, m.ErrorOnCall
	}
	if m.ErrorAfter > 0 && m.Count().Buffers >= m.ErrorAfter {
		return b, fmt.Errorf("error after %d buffers", m.ErrorAfter)
	}
	m.advance(len(b.Data))
	return b, nil
}

// Sink mocks a sink element with "sink" pad.
type Sink struct {
	counter
	Caps        caps.Caps
	Interval    time.Duration
	ErrorOnCall error
	Hooks
}

// Element returns sink component.
func (m *Sink) Element(name string) *pipeline.Component {
	return pipeline.NewComponent(name, "mocksink", pipeline.KindSink, nil,
		m.behavior(pipeline.Behavior{Sink: m.sink}),
		pipeline.PadTemplate{Name: "sink", Direction: pipeline.Sink, Caps: orAny(m.Caps)},
	)
}

func (m *Sink) sink(ctx context.Context, b pipeline.Buffer) error {
	if m.ErrorOnCall != nil {
		return m.ErrorOnCall
	}
	if err := sleep(ctx, m.Interval); err != nil {
		return err
	}
	m.advance(len(b.Data))
	return nil
}

// Hooks allows to mock element hooks.
type Hooks struct {
	ErrorOnOpen  error
	ErrorOnStart error
	ErrorOnFlush error
	ErrorOnClose error
	// AsyncStart makes READY to PAUSED transition asynchronous. It's
	// completed with Release.
	AsyncStart bool

	mu        sync.Mutex
	calls     Calls
	component *pipeline.Component
}

// Calls counts hooks executions.
type Calls struct {
	Open  int
	Start int
	Flush int
	Close int
}

// Calls returns hooks counters.
func (h *Hooks) Calls() Calls {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// Release completes asynchronous transition.
func (h *Hooks) Release(err error) {
	h.mu.Lock()
	c := h.component
	h.mu.Unlock()
	if c != nil {
		c.AsyncDone(err)
	}
}

func (h *Hooks) behavior(b pipeline.Behavior) pipeline.Behavior {
	b.Open = func(context.Context) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.calls.Open++
		return h.ErrorOnOpen
	}
	b.Start = func(context.Context) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.calls.Start++
		return h.ErrorOnStart
	}
	b.Flush = func(context.Context) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.calls.Flush++
		return h.ErrorOnFlush
	}
	b.Close = func(context.Context) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.calls.Close++
		return h.ErrorOnClose
	}
	if h.AsyncStart {
		b.ChangeState = func(_ context.Context, c *pipeline.Component, t state.Transition) (state.Return, error) {
			if t != state.ReadyToPaused {
				return state.Success, nil
			}
			h.mu.Lock()
			h.component = c
			h.mu.Unlock()
			return state.Async, nil
		}
	}
	return b
}

// Counter holds processed data metrics.
type Counter struct {
	Buffers int
	Bytes   int
}

// counter counts buffers and bytes.
type counter struct {
	mu sync.Mutex
	Counter
}

// advance counter's metrics.
func (c *counter) advance(size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Buffers++
	c.Bytes += size
}

// Count returns buffers and bytes metrics.
func (c *counter) Count() Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Counter
}

// Reset resets counter's metrics.
func (c *counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Counter = Counter{}
}

func orAny(c caps.Caps) caps.Caps {
	if c.IsEmpty() && !c.IsAny() {
		return caps.Any()
	}
	return c
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
