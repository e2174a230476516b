// Package bus delivers messages from element execution contexts to the
// controlling code.
//
// Bus is a multi-producer, single-consumer FIFO queue. Elements post
// messages from their own goroutines, the controller pops them with
// PopFiltered. Messages posted by a single producer are always observed in
// the order they were posted.
//
// Secondary observers, like metrics and logging, can Subscribe to receive
// a copy of every posted message without taking it from the queue.
package bus

import (
	"sync"
	"time"

	"github.com/kelindar/event"
)

type waitMode int

const (
	noWait waitMode = iota
	timeout
	forever
)

// Wait is the waiting policy of PopFiltered.
type Wait struct {
	mode     waitMode
	duration time.Duration
}

var (
	// NoWait returns immediately if there is no matching message.
	NoWait = Wait{mode: noWait}
	// Forever blocks until a matching message arrives or bus is closed.
	Forever = Wait{mode: forever}
)

// Timeout blocks until a matching message arrives, the bus is closed or
// duration elapses. Non-positive duration is equal to NoWait.
func Timeout(d time.Duration) Wait {
	if d <= 0 {
		return NoWait
	}
	return Wait{mode: timeout, duration: d}
}

func (w Wait) String() string {
	switch w.mode {
	case timeout:
		return w.duration.String()
	case forever:
		return "forever"
	}
	return "no-wait"
}

// Bus is an ordered, thread-safe message queue.
type Bus struct {
	mu       sync.Mutex
	queue    []Message
	seq      uint64
	flushing bool
	closed   bool
	// signal is closed and replaced every time a message is posted.
	signal     chan struct{}
	dispatcher *event.Dispatcher
	subs       map[*subscription]struct{}
}

// subscription is a dispatcher consumer. It is cancelled from its own
// handler when the stop message reaches it, so the consumer goroutine
// returns without waiting for another dispatcher tick.
type subscription struct {
	cancel func()
	done   chan struct{}
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{
		signal: make(chan struct{}),
	}
}

// Post appends the message to the queue. False is returned if bus is
// closed or flushing and the message was dropped.
func (b *Bus) Post(m Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.flushing {
		return false
	}
	b.seq++
	m.Seq = b.seq
	if m.Time.IsZero() {
		m.Time = time.Now()
	}
	b.queue = append(b.queue, m)
	close(b.signal)
	b.signal = make(chan struct{})
	if b.dispatcher != nil {
		// published under the lock to keep observers in queue order.
		event.Publish(b.dispatcher, m)
	}
	return true
}

// Pop returns the first message without waiting.
func (b *Bus) Pop() (Message, bool) {
	return b.PopFiltered(NoWait, Any)
}

// PopFiltered returns the first message which kind matches the mask.
// Messages that don't match the mask are removed from the queue and
// dropped. False is returned if the wait policy expired or the bus was
// closed and has no more matching messages.
func (b *Bus) PopFiltered(w Wait, mask Kind) (Message, bool) {
	var expired <-chan time.Time
	if w.mode == timeout {
		t := time.NewTimer(w.duration)
		defer t.Stop()
		expired = t.C
	}
	for {
		b.mu.Lock()
		for len(b.queue) > 0 {
			m := b.queue[0]
			b.queue[0] = Message{}
			b.queue = b.queue[1:]
			if m.Kind&mask != 0 {
				b.mu.Unlock()
				return m, true
			}
		}
		if b.closed || w.mode == noWait {
			b.mu.Unlock()
			return Message{}, false
		}
		signal := b.signal
		b.mu.Unlock()

		select {
		case <-signal:
		case <-expired:
			return Message{}, false
		}
	}
}

// Len returns the number of queued messages.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// SetFlushing drops all queued messages and, while flushing is set,
// all newly posted messages.
func (b *Bus) SetFlushing(flushing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushing = flushing
	if flushing {
		b.queue = nil
	}
}

// Subscribe registers an observer that receives a copy of every message
// posted after the subscription. Observers are called asynchronously, in
// posting order. Returned function cancels the subscription and blocks
// until the observer is released. It must not be called from the observer.
func (b *Bus) Subscribe(fn func(Message)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	if b.dispatcher == nil {
		b.dispatcher = event.NewDispatcher()
		b.subs = make(map[*subscription]struct{})
	}
	s := &subscription{done: make(chan struct{})}
	stopped := false
	s.cancel = event.Subscribe(b.dispatcher, func(m Message) {
		switch {
		case stopped:
		case m.stop == nil:
			fn(m)
		case m.stop == s:
			stopped = true
			s.cancel()
			close(s.done)
		}
	})
	b.subs[s] = struct{}{}
	return func() {
		b.unsubscribe(s)
	}
}

func (b *Bus) unsubscribe(s *subscription) {
	b.mu.Lock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		event.Publish(b.dispatcher, Message{stop: s})
	}
	b.mu.Unlock()
	<-s.done
}

// Close wakes up all waiting consumers and stops accepting messages.
// Messages that are already queued can still be popped. Remaining
// observers are released before Close returns. Consequent calls do
// nothing.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.signal)
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		event.Publish(b.dispatcher, Message{stop: s})
		subs = append(subs, s)
	}
	b.subs = nil
	d := b.dispatcher
	b.mu.Unlock()

	// dispatcher must keep ticking until every stop message is handled.
	for _, s := range subs {
		<-s.done
	}
	if d != nil {
		d.Close()
	}
}
