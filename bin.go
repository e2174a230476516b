package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pipelined.dev/pipeline/caps"
	"pipelined.dev/pipeline/property"
	"pipelined.dev/pipeline/state"
)

// Bin is a container element. State changes of the bin are applied to
// all its elements, from sinks to sources.
type Bin struct {
	object

	childMu  sync.Mutex
	elements []Element
	dynamic  []*dynamicLink
}

// NewBin returns empty bin in NULL state.
func NewBin(name, factory string, props *property.Set) *Bin {
	var b Bin
	b.object = newObject(&b, name, factory, KindBin, props)
	return &b
}

// Add puts elements into the bin. Element names must be unique within
// the bin and element can only belong to a single bin.
func (b *Bin) Add(elements ...Element) error {
	for _, el := range elements {
		if err := b.add(el); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bin) add(el Element) error {
	if el == nil {
		return fmt.Errorf("%s: add nil element", b.name)
	}
	// bin cannot contain itself or its ancestors.
	for o := &b.object; o != nil; {
		if o == el.base() {
			return fmt.Errorf("%s: add %s: %w", b.name, el.Name(), ErrElementExists)
		}
		parent := o.Parent()
		if parent == nil {
			break
		}
		o = &parent.object
	}
	if el.Parent() != nil {
		return fmt.Errorf("%s: add %s: %w: belongs to %s", b.name, el.Name(), ErrElementExists, el.Parent().Name())
	}

	b.childMu.Lock()
	defer b.childMu.Unlock()
	for _, existing := range b.elements {
		if existing.Name() == el.Name() {
			return fmt.Errorf("%s: add %s: %w", b.name, el.Name(), ErrElementExists)
		}
	}
	b.elements = append(b.elements, el)
	el.base().setParent(b)
	return nil
}

// Remove takes element out of the bin. Element must be in NULL state.
// All its pads are unlinked.
func (b *Bin) Remove(el Element) error {
	if el == nil || el.Parent() != b {
		return fmt.Errorf("%s: remove: %w", b.name, ErrElementNotFound)
	}
	if el.State() != state.Null {
		return fmt.Errorf("%s: remove %s: %w", b.name, el.Name(), ErrNotNull)
	}
	b.childMu.Lock()
	for i, existing := range b.elements {
		if existing == el {
			b.elements = append(b.elements[:i], b.elements[i+1:]...)
			break
		}
	}
	dynamic := b.dynamic[:0]
	for _, dl := range b.dynamic {
		if dl.producer != el && dl.sink.Parent() != el {
			dynamic = append(dynamic, dl)
		}
	}
	b.dynamic = dynamic
	b.childMu.Unlock()

	for _, p := range allPads(el) {
		p.Unlink()
	}
	el.base().setParent(nil)
	return nil
}

// Elements returns direct children of the bin in insertion order.
func (b *Bin) Elements() []Element {
	b.childMu.Lock()
	defer b.childMu.Unlock()
	return append([]Element(nil), b.elements...)
}

// ByName returns element with provided name. Nested bins are searched
// recursively.
func (b *Bin) ByName(name string) Element {
	for _, el := range b.Elements() {
		if el.Name() == name {
			return el
		}
		if nested, ok := el.(interface{ ByName(string) Element }); ok {
			if found := nested.ByName(name); found != nil {
				return found
			}
		}
	}
	return nil
}

// Components returns all leaf elements of the bin hierarchy.
func (b *Bin) Components() []*Component {
	var components []*Component
	for _, el := range b.Elements() {
		switch v := el.(type) {
		case *Component:
			components = append(components, v)
		case interface{ Components() []*Component }:
			components = append(components, v.Components()...)
		}
	}
	return components
}

// allPads returns pads of the element and all nested elements.
func allPads(el Element) []*Pad {
	if nested, ok := el.(interface{ Components() []*Component }); ok {
		var pads []*Pad
		for _, c := range nested.Components() {
			pads = append(pads, c.Pads()...)
		}
		return pads
	}
	return el.Pads()
}

// Link links consequent elements, each with the next one. Compatible
// unlinked pads are picked automatically.
func (b *Bin) Link(elements ...Element) error {
	for i := 0; i < len(elements)-1; i++ {
		if err := LinkElements(elements[i], elements[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// LinkElements links the first unlinked src pad of src to the first
// unlinked sink pad of sink with intersecting caps.
func LinkElements(src, sink Element) error {
	if src == nil || sink == nil {
		return &LinkError{Src: elementName(src), Sink: elementName(sink), Err: ErrElementNotFound}
	}
	var mismatch error
	for _, sp := range src.Pads() {
		if sp.Direction() != Src || sp.IsLinked() {
			continue
		}
		for _, dp := range sink.Pads() {
			if dp.Direction() != Sink || dp.IsLinked() {
				continue
			}
			_, err := LinkPads(sp, dp)
			if err == nil {
				return nil
			}
			if errors.Is(err, ErrCapabilityMismatch) {
				mismatch = err
			}
		}
	}
	if mismatch != nil {
		return mismatch
	}
	return &LinkError{Src: src.Name(), Sink: sink.Name(), Err: ErrNoCompatiblePads}
}

func elementName(el Element) string {
	if el == nil {
		return "<nil>"
	}
	return el.Name()
}

// LinkDynamic registers a pending link. When producer or any of its
// nested elements adds a src pad which caps family matches want, the pad
// is linked to sink. Pad is ignored if sink is already linked.
func (b *Bin) LinkDynamic(producer Element, sink *Pad, want caps.Caps, options ...DynamicOption) error {
	if producer == nil || sink == nil {
		return &LinkError{Src: elementName(producer), Sink: padName(sink), Err: ErrElementNotFound}
	}
	if sink.Direction() != Sink {
		return &LinkError{Src: producer.Name(), Sink: sink.String(), Err: ErrWrongDirection}
	}
	dl := dynamicLink{
		producer: producer,
		sink:     sink,
		want:     want,
	}
	for _, option := range options {
		option(&dl)
	}
	b.childMu.Lock()
	b.dynamic = append(b.dynamic, &dl)
	b.childMu.Unlock()
	return nil
}

func (b *Bin) dynamicLinks() []*dynamicLink {
	b.childMu.Lock()
	defer b.childMu.Unlock()
	return append([]*dynamicLink(nil), b.dynamic...)
}

// sorted returns children ordered from sinks to sources. Insertion order
// is kept for elements that are not linked with each other and for
// cycles.
func (b *Bin) sorted() []Element {
	children := b.Elements()
	index := make(map[*object]int, len(children))
	for i, el := range children {
		index[el.base()] = i
	}
	// owner returns the direct child that contains the element.
	owner := func(el Element) (int, bool) {
		for o := el.base(); ; {
			if i, ok := index[o]; ok {
				return i, true
			}
			parent := o.Parent()
			if parent == nil {
				return 0, false
			}
			o = &parent.object
		}
	}

	downstream := make([][]int, len(children))
	indegree := make([]int, len(children))
	for i, el := range children {
		for _, p := range allPads(el) {
			if p.Direction() != Src {
				continue
			}
			peer := p.Peer()
			if peer == nil || peer.Parent() == nil {
				continue
			}
			if j, ok := owner(peer.Parent()); ok && j != i {
				downstream[i] = append(downstream[i], j)
				indegree[j]++
			}
		}
	}

	order := make([]Element, 0, len(children))
	visited := make([]bool, len(children))
	for len(order) < len(children) {
		next := -1
		for i := range children {
			if !visited[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next == -1 {
			// cycle, take the rest as is.
			for i := range children {
				if !visited[i] {
					order = append(order, children[i])
				}
			}
			break
		}
		visited[next] = true
		order = append(order, children[next])
		for _, j := range downstream[next] {
			indegree[j]--
		}
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

func (b *Bin) changeState(ctx context.Context, t state.Transition) result {
	if !t.Upward() {
		b.mu.Lock()
		b.pending = state.VoidPending
		b.mu.Unlock()
	}
	var res result
	for _, el := range b.sorted() {
		if t.Upward() && ctx.Err() != nil {
			return result{ret: state.Failure, err: ctx.Err()}
		}
		r := el.changeState(ctx, t)
		if r.ret == state.Failure && t.Upward() {
			return result{ret: state.Failure, err: r.err}
		}
		res.merge(r)
	}
	commit := func() {
		if !skip(b.State(), t) {
			b.commit(t, state.VoidPending)
		}
	}
	if len(res.waits) > 0 {
		b.mu.Lock()
		b.pending = t.To
		b.mu.Unlock()
		res.ret = state.Async
		res.commits = append(res.commits, commit)
		return res
	}
	commit()
	res.ret = state.Success
	return res
}
