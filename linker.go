package pipeline

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"pipelined.dev/pipeline/bus"
	"pipelined.dev/pipeline/caps"
)

// PadAdded notifies that element created a new pad while streaming.
type PadAdded struct {
	Element Element
	Pad     *Pad
}

// Resolution is the outcome of pad added notification.
type Resolution int

// Resolutions.
const (
	// Ignored means that no pending link wants the pad.
	Ignored Resolution = iota
	// Linked means that pad was linked.
	Linked
	// AlreadyLinked means that target sink pad was linked before.
	AlreadyLinked
	// Failed means that caps matched, but link was refused.
	Failed
)

func (r Resolution) String() string {
	switch r {
	case Linked:
		return "linked"
	case AlreadyLinked:
		return "already-linked"
	case Failed:
		return "failed"
	}
	return "ignored"
}

// DynamicOption configures pending dynamic link.
type DynamicOption func(*dynamicLink)

// WithPadName only matches pads which names match the pattern. Pattern
// uses path.Match syntax, template placeholders like %u and %d are
// treated as wildcards.
func WithPadName(pattern string) DynamicOption {
	return func(dl *dynamicLink) {
		dl.pattern = strings.NewReplacer("%u", "*", "%d", "*", "%s", "*").Replace(pattern)
	}
}

type dynamicLink struct {
	producer Element
	sink     *Pad
	want     caps.Caps
	pattern  string
}

// matches returns true if element is the producer or one of its nested
// elements.
func (dl *dynamicLink) matches(el Element) bool {
	target := dl.producer.base()
	for o := el.base(); ; {
		if o == target {
			return true
		}
		parent := o.Parent()
		if parent == nil {
			return false
		}
		o = &parent.object
	}
}

type notification struct {
	PadAdded
	ack chan Resolution
}

// DynamicLinker resolves pad added notifications against pending dynamic
// links of the bins. Notifications are handled one at a time by a single
// goroutine.
type DynamicLinker struct {
	log  logrus.FieldLogger
	warn func(bus.Message)

	mu            sync.Mutex
	notifications chan notification
	cancel        context.CancelFunc
	stopped       chan struct{}
	running       context.Context
}

func newDynamicLinker(log logrus.FieldLogger, warn func(bus.Message)) *DynamicLinker {
	return &DynamicLinker{
		log:           log,
		warn:          warn,
		notifications: make(chan notification),
	}
}

// start runs resolving goroutine. It does nothing if it's running
// already.
func (l *DynamicLinker) start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.running = ctx
	l.stopped = make(chan struct{})
	go l.loop(ctx, l.stopped)
}

// stop terminates resolving goroutine and waits for it.
func (l *DynamicLinker) stop() {
	l.mu.Lock()
	cancel, stopped := l.cancel, l.stopped
	l.cancel, l.stopped, l.running = nil, nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

func (l *DynamicLinker) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-l.notifications:
			n.ack <- l.Resolve(n.PadAdded)
		}
	}
}

// notify sends notification to the resolving goroutine and waits until
// it's handled. If linker is not running, notification is resolved in
// the calling goroutine.
func (l *DynamicLinker) notify(ctx context.Context, pa PadAdded) Resolution {
	l.mu.Lock()
	running := l.running
	l.mu.Unlock()
	if running == nil {
		return l.Resolve(pa)
	}
	n := notification{PadAdded: pa, ack: make(chan Resolution, 1)}
	select {
	case l.notifications <- n:
	case <-ctx.Done():
		return Ignored
	case <-running.Done():
		return Ignored
	}
	return <-n.ack
}

// Resolve handles a single pad added notification. Pending links of all
// bins that contain the element are checked in order, the first one that
// accepts the pad wins.
func (l *DynamicLinker) Resolve(pa PadAdded) Resolution {
	if pa.Element == nil || pa.Pad == nil {
		return Ignored
	}
	log := l.log.WithFields(logrus.Fields{
		"element": pa.Element.Name(),
		"pad":     pa.Pad.Name(),
	})
	log.Infof("received new pad %v", pa.Pad)
	if pa.Pad.Direction() != Src {
		return Ignored
	}

	resolution := Ignored
	padCaps := pa.Pad.Caps()
	for _, dl := range pendingLinks(pa.Element) {
		if !dl.matches(pa.Element) {
			continue
		}
		if dl.pattern != "" {
			if ok, _ := path.Match(dl.pattern, pa.Pad.Name()); !ok {
				continue
			}
		}
		if dl.sink.IsLinked() {
			log.Infof("%v is already linked, ignoring", dl.sink)
			resolution = maxResolution(resolution, AlreadyLinked)
			continue
		}
		if !padCaps.MatchesFamily(dl.want) {
			log.Infof("it has type %s which is not %v, ignoring", padCaps.Family(), dl.want)
			continue
		}
		link, err := LinkPads(pa.Pad, dl.sink)
		if err != nil {
			if errors.Is(err, ErrPadBusy) && dl.sink.IsLinked() {
				resolution = maxResolution(resolution, AlreadyLinked)
				continue
			}
			log.WithError(err).Errorf("type is %s but link failed", padCaps.Family())
			l.warn(bus.NewWarning(pa.Element, err, "dynamic link"))
			resolution = maxResolution(resolution, Failed)
			continue
		}
		log.Infof("link succeeded (type %s)", link.Caps.Family())
		return Linked
	}
	return resolution
}

func maxResolution(a, b Resolution) Resolution {
	if b > a {
		return b
	}
	return a
}

// pendingLinks collects dynamic links of all bins containing the
// element, from the innermost one.
func pendingLinks(el Element) []*dynamicLink {
	var links []*dynamicLink
	for b := el.Parent(); b != nil; b = b.Parent() {
		links = append(links, b.dynamicLinks()...)
	}
	return links
}
