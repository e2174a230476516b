package bus

import (
	"fmt"
	"strings"
	"time"

	"pipelined.dev/pipeline/state"
)

// Kind identifies the type of the message. Kinds are bit flags, so
// they can be combined into masks for filtering.
type Kind uint32

// Message kinds.
const (
	// EOS means that all sinks have drained the stream.
	EOS Kind = 1 << iota
	// Error is an unrecoverable fault in one element.
	Error
	// Warning is a non-fatal diagnostic.
	Warning
	// Info is an informational message.
	Info
	// StateChanged is posted when element has committed a state.
	StateChanged
	// AsyncDone is posted when asynchronous transition has completed.
	AsyncDone
	// Custom is an element specific message.
	Custom
	// Application is posted by the controlling code.
	Application

	// Any matches all kinds.
	Any Kind = ^Kind(0)
)

var kindNames = []struct {
	Kind
	name string
}{
	{EOS, "eos"},
	{Error, "error"},
	{Warning, "warning"},
	{Info, "info"},
	{StateChanged, "state-changed"},
	{AsyncDone, "async-done"},
	{Custom, "custom"},
	{Application, "application"},
}

func (k Kind) String() string {
	if k == Any {
		return "any"
	}
	var names []string
	for _, kn := range kindNames {
		if k&kn.Kind != 0 {
			names = append(names, kn.name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("unknown(%d)", uint32(k))
	}
	return strings.Join(names, "|")
}

// Source is the origin of the message.
type Source interface {
	Name() string
}

type (
	// Message is an immutable record posted to the bus.
	Message struct {
		Kind Kind
		Src  Source
		// Seq is assigned by the bus and grows monotonically.
		Seq  uint64
		Time time.Time

		err       error
		debug     string
		oldState  state.State
		newState  state.State
		pending   state.State
		structure Structure
		// stop releases the subscription, it's never queued.
		stop *subscription
	}

	// Structure is a named set of fields carried by custom, info and
	// application messages.
	Structure struct {
		Name   string
		Fields map[string]interface{}
	}
)

// messageType is the kelindar/event type identifier of Message.
const messageType uint32 = 1

// Type implements event.Event interface.
func (Message) Type() uint32 {
	return messageType
}

// NewError returns error message with optional debug details.
func NewError(src Source, err error, debug string) Message {
	return Message{Kind: Error, Src: src, err: err, debug: debug}
}

// NewWarning returns warning message.
func NewWarning(src Source, err error, debug string) Message {
	return Message{Kind: Warning, Src: src, err: err, debug: debug}
}

// NewInfo returns info message.
func NewInfo(src Source, s Structure) Message {
	return Message{Kind: Info, Src: src, structure: s}
}

// NewEOS returns end-of-stream message.
func NewEOS(src Source) Message {
	return Message{Kind: EOS, Src: src}
}

// NewStateChanged returns state changed message.
func NewStateChanged(src Source, oldState, newState, pending state.State) Message {
	return Message{
		Kind:     StateChanged,
		Src:      src,
		oldState: oldState,
		newState: newState,
		pending:  pending,
	}
}

// NewAsyncDone returns async done message.
func NewAsyncDone(src Source) Message {
	return Message{Kind: AsyncDone, Src: src}
}

// NewCustom returns element specific message.
func NewCustom(src Source, s Structure) Message {
	return Message{Kind: Custom, Src: src, structure: s}
}

// NewApplication returns message posted by the application.
func NewApplication(src Source, s Structure) Message {
	return Message{Kind: Application, Src: src, structure: s}
}

// ParseError returns error and debug details of error and warning
// messages.
func (m Message) ParseError() (error, string) {
	return m.err, m.debug
}

// ParseStateChanged returns old, new and pending states of state changed
// message.
func (m Message) ParseStateChanged() (oldState, newState, pending state.State) {
	return m.oldState, m.newState, m.pending
}

// Structure returns payload of custom, info and application messages.
func (m Message) Structure() Structure {
	return m.structure
}

// SourceName returns the name of the message source or empty string.
func (m Message) SourceName() string {
	if m.Src == nil {
		return ""
	}
	return m.Src.Name()
}

func (m Message) String() string {
	switch m.Kind {
	case Error, Warning:
		return fmt.Sprintf("%v from %s: %v", m.Kind, m.SourceName(), m.err)
	case StateChanged:
		return fmt.Sprintf("%v from %s: %v -> %v (pending %v)", m.Kind, m.SourceName(), m.oldState, m.newState, m.pending)
	case Custom, Info, Application:
		return fmt.Sprintf("%v from %s: %s", m.Kind, m.SourceName(), m.structure.Name)
	}
	return fmt.Sprintf("%v from %s", m.Kind, m.SourceName())
}
