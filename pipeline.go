package pipeline

import (
	"context"
	"sync"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"pipelined.dev/pipeline/bus"
	"pipelined.dev/pipeline/log"
	"pipelined.dev/pipeline/metric"
	"pipelined.dev/pipeline/state"
)

// Pipeline is the top-level bin. It owns the bus, coordinates state
// transitions of all elements and resolves dynamic links.
type Pipeline struct {
	Bin
	uid     string
	bus     *bus.Bus
	log     logrus.FieldLogger
	metrics *metric.Metrics
	linker  *DynamicLinker

	mu          sync.Mutex
	inflight    *transition
	closed      bool
	unsubscribe func()
	// onClose is called once the pipeline is closed.
	onClose func()

	// stepMu serializes execution of transition steps.
	stepMu sync.Mutex

	eosMu   sync.Mutex
	eos     map[Element]struct{}
	eosDone bool
}

// transition is the in-flight state change request.
type transition struct {
	target state.State
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (t *transition) finish() {
	t.once.Do(func() {
		t.cancel()
		close(t.done)
	})
}

// New returns a new pipeline in NULL state.
func New(name string, options ...Option) (*Pipeline, error) {
	p := Pipeline{
		uid: newUID(),
		bus: bus.New(),
		log: log.GetLogger(),
		eos: make(map[Element]struct{}),
	}
	p.object = newObject(&p, name, "pipeline", KindBin, nil)
	for _, option := range options {
		if err := option(&p); err != nil {
			return nil, err
		}
	}
	if p.name == "" {
		p.name = "pipeline-" + p.uid
	}
	p.log = p.log.WithFields(logrus.Fields{"pipeline": p.name, "id": p.uid})
	p.linker = newDynamicLinker(p.log, p.post)
	p.hooks = &hooks{
		post: p.handleMessage,
		padAdded: func(ctx context.Context, pa PadAdded) {
			p.linker.notify(ctx, pa)
		},
		meter: func(element string) metric.ResetFunc {
			return p.metrics.Meter(p.name, element)
		},
		log: p.log,
	}
	if p.metrics != nil {
		m, name := p.metrics, p.name
		p.unsubscribe = p.bus.Subscribe(func(msg bus.Message) {
			m.Observe(name, msg)
		})
	}
	return &p, nil
}

// newUID returns new unique id value.
func newUID() string {
	return xid.New().String()
}

// ID returns unique id of the pipeline.
func (p *Pipeline) ID() string {
	return p.uid
}

// Bus returns the message bus of the pipeline.
func (p *Pipeline) Bus() *bus.Bus {
	return p.bus
}

// Logger returns the pipeline logger.
func (p *Pipeline) Logger() logrus.FieldLogger {
	return p.log
}

// Linker returns dynamic linker of the pipeline.
func (p *Pipeline) Linker() *DynamicLinker {
	return p.linker
}

// Pending returns the target of in-flight transition or VoidPending.
func (p *Pipeline) Pending() state.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight == nil {
		return state.VoidPending
	}
	return p.inflight.target
}

// SetState requests pipeline to move to the target state. Intermediate
// states are always visited. Success is returned when all elements have
// committed the target, Async when some elements complete in background
// and Failure when any element refused the transition. In the last case
// Error message is posted and pipeline is brought back to NULL.
//
// Only one transition can be in flight. Requests to non-NULL states made
// while transition is in flight fail with ErrTransitionInProgress. NULL
// request cancels in-flight transition and tears the pipeline down.
func (p *Pipeline) SetState(target state.State) (state.Return, error) {
	if !target.Valid() {
		return state.Failure, state.ErrInvalidState
	}
	if target == state.Null {
		return p.teardown()
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return state.Failure, ErrClosed
	}
	if p.inflight != nil {
		p.mu.Unlock()
		return state.Failure, ErrTransitionInProgress
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &transition{target: target, cancel: cancel, done: make(chan struct{})}
	p.inflight = t
	p.mu.Unlock()

	p.log.Debugf("state change to %v requested", target)
	return p.drive(ctx, t, state.Path(p.State(), target))
}

// drive executes steps in order. If step completes asynchronously, the
// rest of steps is executed by await goroutine.
func (p *Pipeline) drive(ctx context.Context, t *transition, steps []state.Transition) (state.Return, error) {
	for i, step := range steps {
		p.stepMu.Lock()
		if err := ctx.Err(); err != nil {
			p.stepMu.Unlock()
			p.finish(t)
			return state.Failure, err
		}
		switch step {
		case state.NullToReady:
			p.linker.start()
		case state.ReadyToPaused:
			p.resetEOS()
		}
		r := p.Bin.changeState(ctx, step)
		p.stepMu.Unlock()

		switch r.ret {
		case state.Failure:
			if ctx.Err() != nil {
				// canceled by teardown.
				p.finish(t)
				return state.Failure, ctx.Err()
			}
			p.abort(t, r.err)
			return state.Failure, r.err
		case state.Async:
			p.log.Debugf("%v completes asynchronously", step)
			go p.await(ctx, t, r, steps[i+1:])
			return state.Async, nil
		}
	}
	p.finish(t)
	return state.Success, nil
}

// await waits for asynchronous completions, commits the step and
// continues with the rest of steps.
func (p *Pipeline) await(ctx context.Context, t *transition, r result, steps []state.Transition) {
	for _, w := range r.waits {
		select {
		case err := <-w.done:
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				p.finish(t)
				return
			}
			p.abort(t, err)
			return
		case <-ctx.Done():
			p.finish(t)
			return
		}
	}
	p.stepMu.Lock()
	if ctx.Err() != nil {
		p.stepMu.Unlock()
		p.finish(t)
		return
	}
	for _, commit := range r.commits {
		commit()
	}
	p.stepMu.Unlock()
	p.bus.Post(bus.NewAsyncDone(p))

	if ret, err := p.drive(ctx, t, steps); ret == state.Failure {
		p.log.WithError(err).Debug("asynchronous state change failed")
	}
}

// abort brings all elements back to NULL after failed transition.
func (p *Pipeline) abort(t *transition, err error) {
	p.log.WithError(err).Errorf("state change to %v failed", t.target)
	p.stepMu.Lock()
	if uerr := p.unwind(); uerr != nil {
		p.log.WithError(uerr).Warn("teardown after failure")
	}
	p.stepMu.Unlock()
	p.linker.stop()
	p.finish(t)
}

func (p *Pipeline) finish(t *transition) {
	p.mu.Lock()
	if p.inflight == t {
		p.inflight = nil
	}
	p.mu.Unlock()
	t.finish()
}

// teardown cancels in-flight transition and brings pipeline to NULL.
// Hook errors are returned, but never stop the teardown.
func (p *Pipeline) teardown() (state.Return, error) {
	t := &transition{target: state.Null, cancel: func() {}, done: make(chan struct{})}
	for {
		p.mu.Lock()
		current := p.inflight
		if current == nil {
			p.inflight = t
			p.mu.Unlock()
			break
		}
		p.mu.Unlock()
		current.cancel()
		<-current.done
	}
	p.log.Debug("teardown requested")
	p.stepMu.Lock()
	err := p.unwind()
	p.stepMu.Unlock()
	p.linker.stop()
	p.finish(t)
	return state.Success, err
}

// unwind steps down from the highest state of any element to NULL.
func (p *Pipeline) unwind() error {
	var errs execErrors
	for _, step := range state.Path(p.highest(), state.Null) {
		r := p.Bin.changeState(context.Background(), step)
		errs = errs.add(r.err)
	}
	p.resetEOS()
	return errs.ret()
}

// highest returns the highest current or pending state among pipeline
// and its elements.
func (p *Pipeline) highest() state.State {
	top := p.State()
	var walk func(b *Bin)
	walk = func(b *Bin) {
		for _, el := range b.Elements() {
			if s := el.State(); s > top {
				top = s
			}
			if s := el.Pending(); s > top {
				top = s
			}
			switch v := el.(type) {
			case *Bin:
				walk(v)
			case *Pipeline:
				walk(&v.Bin)
			}
		}
	}
	walk(&p.Bin)
	return top
}

// WaitState blocks until in-flight transition is finished or context is
// done. Current state is returned.
func (p *Pipeline) WaitState(ctx context.Context) (state.State, error) {
	p.mu.Lock()
	t := p.inflight
	p.mu.Unlock()
	if t != nil {
		select {
		case <-t.done:
		case <-ctx.Done():
			return p.State(), ctx.Err()
		}
	}
	return p.State(), nil
}

// Close tears pipeline down, destroys all links and closes the bus.
func (p *Pipeline) Close() error {
	_, err := p.teardown()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return err
	}
	p.closed = true
	unsubscribe, onClose := p.unsubscribe, p.onClose
	p.mu.Unlock()

	for _, c := range p.Components() {
		for _, pad := range c.Pads() {
			pad.Unlink()
		}
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	p.bus.Close()
	p.metrics.Delete(p.name)
	if onClose != nil {
		onClose()
	}
	return err
}

// handleMessage receives messages from elements. End-of-stream messages
// of sinks are aggregated, a single EOS is posted by pipeline when all
// sinks are drained.
func (p *Pipeline) handleMessage(m bus.Message) {
	if m.Kind == bus.EOS {
		el, ok := m.Src.(Element)
		if !ok || el.base() == &p.object {
			p.bus.Post(m)
			return
		}
		if p.sinkEOS(el) {
			p.log.Debug("all sinks reached end of stream")
			p.bus.Post(bus.NewEOS(p))
		}
		return
	}
	if m.Kind&(bus.Error|bus.Warning) != 0 {
		err, _ := m.ParseError()
		p.log.WithField("element", m.SourceName()).WithError(err).Debugf("%v posted", m.Kind)
	}
	p.bus.Post(m)
}

func (p *Pipeline) post(m bus.Message) {
	p.handleMessage(m)
}

// sinkEOS records drained sink. True is returned once, when all sinks
// connected to sources are drained.
func (p *Pipeline) sinkEOS(el Element) bool {
	p.eosMu.Lock()
	defer p.eosMu.Unlock()
	if p.eosDone {
		return false
	}
	p.eos[el] = struct{}{}
	for _, c := range p.Components() {
		if c.Kind() != KindSink || !connected(c) {
			continue
		}
		if _, ok := p.eos[c]; !ok {
			return false
		}
	}
	p.eosDone = true
	return true
}

// connected returns true if data can reach the component from a source.
func connected(c *Component) bool {
	visited := make(map[*Component]bool)
	var walk func(c *Component) bool
	walk = func(c *Component) bool {
		if c.Kind() == KindSource {
			return true
		}
		if visited[c] {
			return false
		}
		visited[c] = true
		for _, pad := range c.padsOf(Sink) {
			peer := pad.Peer()
			if peer == nil {
				continue
			}
			if up, ok := peer.Parent().(*Component); ok && walk(up) {
				return true
			}
		}
		return false
	}
	return walk(c)
}

func (p *Pipeline) resetEOS() {
	p.eosMu.Lock()
	p.eos = make(map[Element]struct{})
	p.eosDone = false
	p.eosMu.Unlock()
}
