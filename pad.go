package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"

	"pipelined.dev/pipeline/caps"
)

// Direction of the pad.
type Direction int

// Pad directions.
const (
	// Src pads produce data.
	Src Direction = iota
	// Sink pads consume data.
	Sink
)

func (d Direction) String() string {
	if d == Src {
		return "src"
	}
	return "sink"
}

// Presence defines when pads of the template exist.
type Presence int

// Pad presences.
const (
	// Always pads are created together with the element.
	Always Presence = iota
	// Sometimes pads are created while element is streaming.
	Sometimes
)

func (p Presence) String() string {
	if p == Always {
		return "always"
	}
	return "sometimes"
}

// PadTemplate describes pads that element can have.
type PadTemplate struct {
	Name      string
	Direction Direction
	Presence  Presence
	Caps      caps.Caps
}

// Pad is a typed connection point of the element.
type Pad struct {
	id       uint64
	name     string
	template PadTemplate
	parent   Element
	dynamic  bool
	// inbound queue of sink pads.
	inbound chan packet

	mu      sync.Mutex
	current caps.Caps
	fixed   bool
	link    *Link

	// pushMu serializes pushes to the pad. Held packets were not
	// delivered because streaming was paused and are sent first on the
	// next push.
	pushMu sync.Mutex
	held   []packet
}

// Link is a directed connection between src and sink pads.
type Link struct {
	ID   string
	Src  *Pad
	Sink *Pad
	// Caps is the intersection of pads formats agreed when link was made.
	Caps caps.Caps
}

func (l *Link) String() string {
	return fmt.Sprintf("%v -> %v", l.Src, l.Sink)
}

var padID uint64

func newPad(name string, t PadTemplate, parent Element, queueSize int) *Pad {
	p := Pad{
		id:       atomic.AddUint64(&padID, 1),
		name:     name,
		template: t,
		parent:   parent,
	}
	if t.Direction == Sink {
		p.inbound = make(chan packet, queueSize)
	}
	return &p
}

// Name returns pad name.
func (p *Pad) Name() string {
	return p.name
}

// Direction returns pad direction.
func (p *Pad) Direction() Direction {
	return p.template.Direction
}

// Presence returns pad presence.
func (p *Pad) Presence() Presence {
	return p.template.Presence
}

// Template returns the template pad was created from.
func (p *Pad) Template() PadTemplate {
	return p.template
}

// Parent returns element that owns the pad.
func (p *Pad) Parent() Element {
	return p.parent
}

// Caps returns negotiated caps of the pad if they are set and template
// caps otherwise.
func (p *Pad) Caps() caps.Caps {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capsLocked()
}

func (p *Pad) capsLocked() caps.Caps {
	if p.fixed {
		return p.current
	}
	return p.template.Caps
}

// SetCaps sets negotiated caps of the pad. Caps must be compatible with
// the template.
func (p *Pad) SetCaps(c caps.Caps) error {
	if !c.CanIntersect(p.template.Caps) {
		return fmt.Errorf("%w: %v is not a subset of %v", ErrCapabilityMismatch, c, p.template.Caps)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = c
	p.fixed = true
	return nil
}

// IsLinked returns true if pad has a peer.
func (p *Pad) IsLinked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.link != nil
}

// Link returns current link of the pad or nil.
func (p *Pad) Link() *Link {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.link
}

// Peer returns the pad at the other end of the link or nil.
func (p *Pad) Peer() *Pad {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peerLocked()
}

func (p *Pad) peerLocked() *Pad {
	switch {
	case p.link == nil:
		return nil
	case p.link.Src == p:
		return p.link.Sink
	}
	return p.link.Src
}

func (p *Pad) String() string {
	if p.parent == nil {
		return p.name
	}
	return p.parent.Name() + ":" + p.name
}

// LinkPads links src pad to sink pad. Pads must have proper directions,
// belong to different elements, be unlinked and have intersecting caps.
// Nothing is changed if link cannot be made.
func LinkPads(src, sink *Pad) (*Link, error) {
	if src == nil || sink == nil {
		return nil, &LinkError{Src: padName(src), Sink: padName(sink), Err: ErrPadNotFound}
	}
	linkErr := func(err error) error {
		return &LinkError{Src: src.String(), Sink: sink.String(), Err: err}
	}
	if src.Direction() != Src || sink.Direction() != Sink {
		return nil, linkErr(ErrWrongDirection)
	}
	if src.parent == sink.parent {
		return nil, linkErr(ErrSameElement)
	}

	// lock pads in consistent order.
	first, second := src, sink
	if second.id < first.id {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if src.link != nil || sink.link != nil {
		return nil, linkErr(ErrPadBusy)
	}
	srcCaps, sinkCaps := src.capsLocked(), sink.capsLocked()
	agreed := caps.Intersect(srcCaps, sinkCaps)
	if agreed.IsEmpty() {
		return nil, linkErr(fmt.Errorf("%w: %v and %v", ErrCapabilityMismatch, srcCaps, sinkCaps))
	}
	l := Link{
		ID:   xid.New().String(),
		Src:  src,
		Sink: sink,
		Caps: agreed,
	}
	src.link = &l
	sink.link = &l
	return &l, nil
}

// Unlink removes the link of the pad. It does nothing if pad is not
// linked.
func (p *Pad) Unlink() {
	p.mu.Lock()
	l := p.link
	p.mu.Unlock()
	if l == nil {
		return
	}
	first, second := l.Src, l.Sink
	if second.id < first.id {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	if l.Src.link == l {
		l.Src.link = nil
	}
	if l.Sink.link == l {
		l.Sink.link = nil
	}
	second.mu.Unlock()
	first.mu.Unlock()
}

func padName(p *Pad) string {
	if p == nil {
		return "<nil>"
	}
	return p.String()
}

// push delivers packet to the peer. Held packets are delivered first. If
// context is done, undelivered packets are kept until next push. Packets
// pushed to unlinked pad are dropped.
func (p *Pad) push(ctx context.Context, pkt packet) error {
	p.pushMu.Lock()
	defer p.pushMu.Unlock()
	p.held = append(p.held, pkt)
	return p.flushLocked(ctx)
}

// flush delivers held packets.
func (p *Pad) flush(ctx context.Context) error {
	p.pushMu.Lock()
	defer p.pushMu.Unlock()
	return p.flushLocked(ctx)
}

func (p *Pad) flushLocked(ctx context.Context) error {
	for len(p.held) > 0 {
		peer := p.Peer()
		if peer == nil {
			p.held = nil
			return ErrNotLinked
		}
		select {
		case peer.inbound <- p.held[0]:
			p.held[0] = packet{}
			p.held = p.held[1:]
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *Pad) hasHeld() bool {
	p.pushMu.Lock()
	defer p.pushMu.Unlock()
	return len(p.held) > 0
}

// reset drops all queued and held packets.
func (p *Pad) reset() {
	p.pushMu.Lock()
	p.held = nil
	p.pushMu.Unlock()
	if p.inbound == nil {
		return
	}
	for {
		select {
		case <-p.inbound:
		default:
			return
		}
	}
}
