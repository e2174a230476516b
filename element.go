package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"pipelined.dev/pipeline/bus"
	"pipelined.dev/pipeline/metric"
	"pipelined.dev/pipeline/property"
	"pipelined.dev/pipeline/state"
)

// Kind is the class of the element.
type Kind int

// Element kinds.
const (
	// KindSource elements only have src pads.
	KindSource Kind = iota
	// KindFilter elements have both sink and src pads.
	KindFilter
	// KindSink elements only have sink pads.
	KindSink
	// KindBin elements hold other elements.
	KindBin
)

func (k Kind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindFilter:
		return "filter"
	case KindSink:
		return "sink"
	case KindBin:
		return "bin"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Element is a node of the pipeline graph. Elements are created with
// NewComponent, NewBin or New and are driven by the pipeline they belong
// to.
type Element interface {
	Name() string
	// Factory returns the kind element was made from.
	Factory() string
	Kind() Kind
	State() state.State
	Pending() state.State
	Parent() *Bin
	Pads() []*Pad
	Pad(name string) *Pad
	SetProperty(name string, value interface{}) error
	Property(name string) (interface{}, error)
	Properties() []property.Spec

	base() *object
	changeState(ctx context.Context, t state.Transition) result
}

// result of element state change.
type result struct {
	ret state.Return
	err error
	// waits are asynchronous completions, commits are applied in order
	// after all of them succeed.
	waits   []asyncWait
	commits []func()
}

type asyncWait struct {
	element Element
	done    <-chan error
}

func (r *result) merge(other result) {
	r.err = execErrors{}.add(r.err).add(other.err).ret()
	r.waits = append(r.waits, other.waits...)
	r.commits = append(r.commits, other.commits...)
}

// hooks connect elements with the pipeline at the top of the hierarchy.
type hooks struct {
	post     func(bus.Message)
	padAdded func(ctx context.Context, n PadAdded)
	meter    func(element string) metric.ResetFunc
	log      logrus.FieldLogger
}

// object holds the state shared by all elements.
type object struct {
	self    Element
	name    string
	factory string
	kind    Kind
	props   *property.Set

	mu      sync.Mutex
	parent  *Bin
	current state.State
	pending state.State
	pads    []*Pad
	// hooks are only set for pipelines.
	hooks *hooks
}

func newObject(self Element, name, factory string, kind Kind, props *property.Set) object {
	if props == nil {
		props = property.NewSet()
	}
	return object{
		self:    self,
		name:    name,
		factory: factory,
		kind:    kind,
		props:   props,
		current: state.Null,
	}
}

func (o *object) base() *object {
	return o
}

// Name returns element name.
func (o *object) Name() string {
	return o.name
}

// Factory returns the kind element was made from.
func (o *object) Factory() string {
	return o.factory
}

// Kind returns element class.
func (o *object) Kind() Kind {
	return o.kind
}

// State returns current state.
func (o *object) State() state.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Pending returns the state of in-flight asynchronous transition or
// VoidPending.
func (o *object) Pending() state.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending
}

// Parent returns the bin element belongs to.
func (o *object) Parent() *Bin {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.parent
}

// Pads returns a copy of element pads.
func (o *object) Pads() []*Pad {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Pad(nil), o.pads...)
}

// Pad returns pad by name or nil.
func (o *object) Pad(name string) *Pad {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range o.pads {
		if p.name == name {
			return p
		}
	}
	return nil
}

// padsOf returns pads with provided direction.
func (o *object) padsOf(d Direction) []*Pad {
	var pads []*Pad
	for _, p := range o.Pads() {
		if p.Direction() == d {
			pads = append(pads, p)
		}
	}
	return pads
}

// SetProperty sets element property.
func (o *object) SetProperty(name string, value interface{}) error {
	return o.props.Set(name, value)
}

// Property returns element property value.
func (o *object) Property(name string) (interface{}, error) {
	return o.props.Get(name)
}

// Properties returns declared properties of the element.
func (o *object) Properties() []property.Spec {
	return o.props.Specs()
}

// Props returns property set of the element.
func (o *object) Props() *property.Set {
	return o.props
}

func (o *object) String() string {
	return o.name
}

func (o *object) setParent(b *Bin) {
	o.mu.Lock()
	o.parent = b
	o.mu.Unlock()
}

// root returns hooks of the top-level bin or nil if element doesn't
// belong to a pipeline.
func (o *object) root() *hooks {
	cur := o
	for {
		cur.mu.Lock()
		parent, h := cur.parent, cur.hooks
		cur.mu.Unlock()
		if parent == nil {
			return h
		}
		cur = &parent.object
	}
}

// post sends message to the pipeline bus.
func (o *object) post(m bus.Message) {
	if h := o.root(); h != nil {
		h.post(m)
	}
}

func (o *object) logger() logrus.FieldLogger {
	if h := o.root(); h != nil && h.log != nil {
		return h.log.WithField("element", o.name)
	}
	return logrus.StandardLogger().WithField("element", o.name)
}

// commit sets new current state and posts state changed message.
func (o *object) commit(t state.Transition, pending state.State) {
	o.mu.Lock()
	old := o.current
	o.current = t.To
	o.pending = pending
	o.mu.Unlock()
	if old != t.To {
		o.post(bus.NewStateChanged(o.self, old, t.To, pending))
	}
}

// skip returns true if element is already at or beyond the target of the
// step.
func skip(cur state.State, t state.Transition) bool {
	if t.Upward() {
		return cur >= t.To
	}
	return cur <= t.To
}
