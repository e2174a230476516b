package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"pipelined.dev/pipeline/bus"
	"pipelined.dev/pipeline/caps"
	"pipelined.dev/pipeline/metric"
	"pipelined.dev/pipeline/property"
	"pipelined.dev/pipeline/state"
)

// DefaultQueueSize is the number of packets sink pads can buffer.
const DefaultQueueSize = 16

type (
	// HookFunc is called on state transition.
	HookFunc func(ctx context.Context) error

	// SourceFunc produces data. It's called in a loop while element is
	// playing and should push buffers with Component.Push. io.EOF is
	// returned when stream is over.
	SourceFunc func(ctx context.Context, c *Component) error

	// ProcessFunc transforms a single buffer.
	ProcessFunc func(ctx context.Context, b Buffer) (Buffer, error)

	// SinkFunc consumes a single buffer.
	SinkFunc func(ctx context.Context, b Buffer) error

	// StateFunc is called after hooks of the transition succeeded. It can
	// return state.Async for upward transitions, in that case element
	// must call Component.AsyncDone when transition is completed.
	StateFunc func(ctx context.Context, c *Component, t state.Transition) (state.Return, error)

	// Behavior defines what the component does.
	Behavior struct {
		// Open is called on NULL to READY.
		Open HookFunc
		// Start is called on READY to PAUSED.
		Start HookFunc
		// Flush is called on PAUSED to READY.
		Flush HookFunc
		// Close is called on READY to NULL.
		Close HookFunc

		Source  SourceFunc
		Process ProcessFunc
		Sink    SinkFunc

		ChangeState StateFunc
	}
)

// Component is a leaf element. It runs one goroutine per sink pad, or a
// single producing goroutine for sources, while it's playing.
type Component struct {
	object
	behavior  Behavior
	templates []PadTemplate

	// streamMu serializes calls to Process and Sink.
	streamMu sync.Mutex
	measure  metric.MeasureFunc

	// guarded by object mutex.
	run     *worker
	async   *asyncTransition
	eos     map[*Pad]bool
	drained bool
}

type worker struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type asyncTransition struct {
	t    state.Transition
	done chan error
}

// NewComponent returns a component in NULL state. Pads are created for
// all Always templates.
func NewComponent(name, factory string, kind Kind, props *property.Set, b Behavior, templates ...PadTemplate) *Component {
	c := Component{
		behavior:  b,
		templates: templates,
		measure:   func(int64) {},
		eos:       make(map[*Pad]bool),
	}
	c.object = newObject(&c, name, factory, kind, props)
	for _, t := range templates {
		if t.Presence == Always {
			c.pads = append(c.pads, newPad(t.Name, t, &c, DefaultQueueSize))
		}
	}
	return &c
}

// Templates returns pad templates of the component.
func (c *Component) Templates() []PadTemplate {
	return append([]PadTemplate(nil), c.templates...)
}

func (c *Component) template(name string) (PadTemplate, bool) {
	for _, t := range c.templates {
		if t.Name == name {
			return t, true
		}
	}
	return PadTemplate{}, false
}

// Logger returns logger of the component.
func (c *Component) Logger() logrus.FieldLogger {
	return c.logger()
}

// SetState changes state of the component that doesn't belong to a bin.
func (c *Component) SetState(target state.State) (state.Return, error) {
	if !target.Valid() {
		return state.Failure, fmt.Errorf("%w: %v", state.ErrInvalidState, target)
	}
	if c.Parent() != nil {
		return state.Failure, ErrManaged
	}
	var errs execErrors
	for _, t := range state.Path(c.State(), target) {
		r := c.changeState(context.Background(), t)
		errs = errs.add(r.err)
		switch r.ret {
		case state.Failure:
			return state.Failure, errs.ret()
		case state.Async:
			for _, w := range r.waits {
				if err := <-w.done; err != nil {
					return state.Failure, errs.add(err).ret()
				}
			}
		}
	}
	return state.Success, errs.ret()
}

func (c *Component) changeState(ctx context.Context, t state.Transition) result {
	if !t.Upward() {
		c.cancelAsync()
	}
	cur := c.State()
	if skip(cur, t) {
		return result{ret: state.Success}
	}
	var res result
	steps := state.Path(cur, t.To)
	for i, step := range steps {
		pending := t.To
		if i == len(steps)-1 {
			pending = state.VoidPending
		}
		ret, done, err := c.apply(ctx, step)
		switch {
		case ret == state.Failure && step.Upward():
			terr := &TransitionError{Element: c.name, Transition: step, Err: err}
			if ctx.Err() == nil {
				c.logger().WithError(err).Errorf("%v failed", step)
				c.post(bus.NewError(c.self, terr, ""))
			}
			return result{ret: state.Failure, err: terr}
		case ret == state.Failure:
			// downward transitions always complete.
			terr := &TransitionError{Element: c.name, Transition: step, Err: err}
			c.logger().WithError(err).Warnf("%v failed", step)
			c.post(bus.NewWarning(c.self, terr, ""))
			res.err = execErrors{}.add(res.err).add(terr).ret()
			c.commit(step, pending)
		case ret == state.Async && i == len(steps)-1:
			res.ret = state.Async
			res.waits = append(res.waits, asyncWait{element: c.self, done: done})
			return res
		case ret == state.Async:
			select {
			case err := <-done:
				if err != nil {
					return result{ret: state.Failure, err: err}
				}
			case <-ctx.Done():
				c.cancelAsync()
				return result{ret: state.Failure, err: ctx.Err()}
			}
		default:
			c.commit(step, pending)
		}
	}
	res.ret = state.Success
	return res
}

// apply executes a single step. Done channel is returned for
// asynchronous transitions.
func (c *Component) apply(ctx context.Context, t state.Transition) (state.Return, <-chan error, error) {
	var err error
	switch t {
	case state.NullToReady:
		err = call(ctx, c.behavior.Open)
	case state.ReadyToPaused:
		c.resetStream()
		err = call(ctx, c.behavior.Start)
	case state.PausedToPlaying:
		c.startWorkers()
	case state.PlayingToPaused:
		c.stopWorkers()
	case state.PausedToReady:
		c.stopWorkers()
		err = call(ctx, c.behavior.Flush)
		c.resetStream()
		c.removeSometimesPads()
	case state.ReadyToNull:
		err = call(ctx, c.behavior.Close)
	}
	if err != nil {
		return state.Failure, nil, err
	}
	if c.behavior.ChangeState == nil {
		return state.Success, nil, nil
	}
	if !t.Upward() {
		// asynchronous completion is only honored on the way up.
		if ret, err := c.behavior.ChangeState(ctx, c, t); ret == state.Failure {
			return state.Failure, nil, err
		}
		return state.Success, nil, nil
	}

	a := &asyncTransition{t: t, done: make(chan error, 1)}
	c.mu.Lock()
	c.async = a
	c.pending = t.To
	c.mu.Unlock()
	ret, err := c.behavior.ChangeState(ctx, c, t)
	if ret == state.Async {
		return ret, a.done, nil
	}
	c.mu.Lock()
	if c.async == a {
		c.async = nil
		c.pending = state.VoidPending
	}
	c.mu.Unlock()
	if ret == state.Failure && err == nil {
		err = errors.New("state change failed")
	}
	return ret, nil, err
}

func call(ctx context.Context, fn HookFunc) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// AsyncDone completes asynchronous transition. Non-nil error fails the
// transition. It does nothing if there is no pending transition.
func (c *Component) AsyncDone(err error) {
	c.mu.Lock()
	a := c.async
	c.async = nil
	c.mu.Unlock()
	if a == nil {
		return
	}
	if err != nil {
		terr := &TransitionError{Element: c.name, Transition: a.t, Err: err}
		c.mu.Lock()
		c.pending = state.VoidPending
		c.mu.Unlock()
		c.logger().WithError(err).Errorf("%v failed", a.t)
		c.post(bus.NewError(c.self, terr, ""))
		a.done <- terr
		return
	}
	c.commit(a.t, state.VoidPending)
	a.done <- nil
}

func (c *Component) cancelAsync() {
	c.mu.Lock()
	a := c.async
	c.async = nil
	if a != nil {
		c.pending = state.VoidPending
	}
	c.mu.Unlock()
	if a != nil {
		a.done <- ErrAsyncCanceled
	}
}

// Push sends buffer through src pad. ErrNotLinked is returned if pad has
// no peer, in that case buffer is dropped.
func (c *Component) Push(ctx context.Context, pad string, b Buffer) error {
	p := c.Pad(pad)
	if p == nil || p.Direction() != Src {
		return fmt.Errorf("%s:%s: %w", c.name, pad, ErrPadNotFound)
	}
	c.measure(b.Size())
	return p.push(ctx, packet{buf: b})
}

// AddPad creates a new pad from Sometimes template and notifies the
// pipeline. It returns after all pending dynamic links were resolved.
func (c *Component) AddPad(ctx context.Context, template, name string, negotiated caps.Caps) (*Pad, error) {
	t, ok := c.template(template)
	if !ok || t.Presence != Sometimes {
		return nil, fmt.Errorf("%s: template %q: %w", c.name, template, ErrPadNotFound)
	}
	p := newPad(name, t, c.self, DefaultQueueSize)
	p.dynamic = true
	if err := p.SetCaps(negotiated); err != nil {
		return nil, fmt.Errorf("%v: %w", p, err)
	}
	c.mu.Lock()
	for _, existing := range c.pads {
		if existing.name == name {
			c.mu.Unlock()
			return nil, fmt.Errorf("%v: %w", p, ErrPadExists)
		}
	}
	c.pads = append(c.pads, p)
	c.mu.Unlock()

	c.logger().WithFields(logrus.Fields{"pad": name, "caps": negotiated}).Debug("pad added")
	if h := c.root(); h != nil && h.padAdded != nil {
		h.padAdded(ctx, PadAdded{Element: c.self, Pad: p})
	}
	return p, nil
}

// PostError posts fatal streaming error on behalf of the component.
func (c *Component) PostError(err error, debug string) {
	c.post(bus.NewError(c.self, &RuntimeError{Element: c.name, Err: err, Debug: debug}, debug))
}

// PostWarning posts non-fatal diagnostic on behalf of the component.
func (c *Component) PostWarning(err error, debug string) {
	c.post(bus.NewWarning(c.self, err, debug))
}

// PostMessage posts element specific message.
func (c *Component) PostMessage(s bus.Structure) {
	c.post(bus.NewCustom(c.self, s))
}

func (c *Component) fail(err error) {
	c.logger().WithError(err).Error("streaming stopped")
	var rerr *RuntimeError
	if !errors.As(err, &rerr) {
		rerr = &RuntimeError{Element: c.name, Err: err}
	}
	c.post(bus.NewError(c.self, rerr, ""))
}

func (c *Component) startWorkers() {
	c.mu.Lock()
	if c.run != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{cancel: cancel}
	c.run = w
	drained := c.drained
	pads := append([]*Pad(nil), c.pads...)
	c.mu.Unlock()

	c.measure = func(int64) {}
	if h := c.root(); h != nil && h.meter != nil {
		c.measure = h.meter(c.name)()
	}
	for _, p := range pads {
		if p.Direction() == Src && p.hasHeld() {
			w.wg.Add(1)
			go func(p *Pad) {
				defer w.wg.Done()
				if err := p.flush(ctx); err != nil && ctx.Err() == nil && !errors.Is(err, ErrNotLinked) {
					c.fail(err)
				}
			}(p)
		}
	}
	if c.kind == KindSource {
		if !drained && c.behavior.Source != nil {
			w.wg.Add(1)
			go c.produce(ctx, &w.wg)
		}
		return
	}
	for _, p := range pads {
		if p.Direction() == Sink {
			w.wg.Add(1)
			go c.consume(ctx, p, &w.wg)
		}
	}
}

// stopWorkers cancels streaming goroutines and waits for them.
func (c *Component) stopWorkers() {
	c.mu.Lock()
	w := c.run
	c.run = nil
	c.mu.Unlock()
	if w == nil {
		return
	}
	w.cancel()
	w.wg.Wait()
}

func (c *Component) produce(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for ctx.Err() == nil {
		err := c.behavior.Source(ctx, c)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			c.mu.Lock()
			c.drained = true
			c.mu.Unlock()
			c.logger().Debug("end of stream")
			if err := c.pushAll(ctx, packet{eos: true}); err != nil && ctx.Err() == nil {
				c.fail(err)
			}
			return
		case ctx.Err() != nil:
			return
		default:
			c.fail(err)
			return
		}
	}
}

func (c *Component) consume(ctx context.Context, in *Pad, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case pkt := <-in.inbound:
			if err := c.handle(ctx, in, pkt); err != nil {
				if ctx.Err() == nil {
					c.fail(err)
				}
				return
			}
		}
	}
}

func (c *Component) handle(ctx context.Context, in *Pad, pkt packet) error {
	if pkt.eos {
		return c.endOfStream(ctx, in)
	}
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	c.measure(pkt.buf.Size())
	switch c.kind {
	case KindFilter:
		out := pkt.buf
		if c.behavior.Process != nil {
			var err error
			if out, err = c.behavior.Process(ctx, pkt.buf); err != nil {
				return err
			}
		}
		return c.pushAll(ctx, packet{buf: out})
	case KindSink:
		if c.behavior.Sink != nil {
			return c.behavior.Sink(ctx, pkt.buf)
		}
	}
	return nil
}

// endOfStream marks the pad drained. When all sink pads are drained,
// filters forward EOS and sinks post it to the pipeline.
func (c *Component) endOfStream(ctx context.Context, in *Pad) error {
	c.mu.Lock()
	c.eos[in] = true
	for _, p := range c.pads {
		if p.Direction() == Sink && !c.eos[p] {
			c.mu.Unlock()
			return nil
		}
	}
	c.mu.Unlock()

	if c.kind == KindSink {
		c.logger().Debug("end of stream")
		c.post(bus.NewEOS(c.self))
		return nil
	}
	return c.pushAll(ctx, packet{eos: true})
}

// pushAll sends packet through all src pads. Unlinked pads are skipped
// for EOS.
func (c *Component) pushAll(ctx context.Context, pkt packet) error {
	for _, p := range c.padsOf(Src) {
		if err := p.push(ctx, pkt); err != nil {
			if pkt.eos && errors.Is(err, ErrNotLinked) {
				continue
			}
			return fmt.Errorf("%v: %w", p, err)
		}
	}
	return nil
}

// resetStream drops queued data and end-of-stream flags.
func (c *Component) resetStream() {
	c.mu.Lock()
	c.eos = make(map[*Pad]bool)
	c.drained = false
	pads := append([]*Pad(nil), c.pads...)
	c.mu.Unlock()
	for _, p := range pads {
		p.reset()
	}
}

func (c *Component) removeSometimesPads() {
	c.mu.Lock()
	var removed []*Pad
	pads := c.pads[:0]
	for _, p := range c.pads {
		if p.dynamic {
			removed = append(removed, p)
			continue
		}
		pads = append(pads, p)
	}
	c.pads = pads
	c.mu.Unlock()
	for _, p := range removed {
		p.Unlink()
	}
}
