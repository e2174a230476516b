package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"pipelined.dev/pipeline/state"
)

var (
	// ErrUnknownElementKind is returned when factory is not registered.
	ErrUnknownElementKind = errors.New("unknown element kind")
	// ErrFactoryExists is returned when factory kind is registered twice.
	ErrFactoryExists = errors.New("factory already registered")
	// ErrCapabilityMismatch is returned when pads formats don't intersect.
	ErrCapabilityMismatch = errors.New("capability mismatch")
	// ErrPadBusy is returned when pad is already linked.
	ErrPadBusy = errors.New("pad is already linked")
	// ErrWrongDirection is returned when link is requested between pads
	// with wrong directions.
	ErrWrongDirection = errors.New("wrong pad direction")
	// ErrSameElement is returned when link is requested between pads of
	// the same element.
	ErrSameElement = errors.New("pads belong to the same element")
	// ErrNoCompatiblePads is returned when elements have no pads that
	// can be linked.
	ErrNoCompatiblePads = errors.New("no compatible pads")
	// ErrNotLinked is returned when data is pushed to unlinked pad.
	ErrNotLinked = errors.New("pad is not linked")
	// ErrPadNotFound is returned when element has no pad with such name.
	ErrPadNotFound = errors.New("pad not found")
	// ErrPadExists is returned when element already has a pad with such
	// name.
	ErrPadExists = errors.New("pad already exists")
	// ErrTransitionInProgress is returned when state change is requested
	// while another one is not finished yet.
	ErrTransitionInProgress = errors.New("state transition in progress")
	// ErrManaged is returned when state change is requested directly on
	// element that belongs to a bin.
	ErrManaged = errors.New("element is managed by a bin")
	// ErrElementExists is returned when bin already has element with such
	// name or element already belongs to another bin.
	ErrElementExists = errors.New("element already exists")
	// ErrElementNotFound is returned when bin has no such element.
	ErrElementNotFound = errors.New("element not found")
	// ErrNotNull is returned when element must be in Null state for the
	// operation.
	ErrNotNull = errors.New("element is not in NULL state")
	// ErrUnexpected is returned when controller pops unexpected message.
	ErrUnexpected = errors.New("unexpected message")
	// ErrDeinitialized is returned when runtime is used after Deinit.
	ErrDeinitialized = errors.New("runtime is deinitialized")
	// ErrClosed is returned when pipeline is used after Close.
	ErrClosed = errors.New("pipeline is closed")
	// ErrAsyncCanceled is delivered to asynchronous transitions that were
	// aborted by teardown.
	ErrAsyncCanceled = errors.New("asynchronous transition canceled")
)

// ConstructionError is returned when element cannot be made.
type ConstructionError struct {
	Kind string
	Name string
	Err  error
}

func (e *ConstructionError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("make %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("make %s %q: %v", e.Kind, e.Name, e.Err)
}

// Unwrap returns underlying error.
func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// LinkError is returned when pads cannot be linked.
type LinkError struct {
	Src  string
	Sink string
	Err  error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link %s -> %s: %v", e.Src, e.Sink, e.Err)
}

// Unwrap returns underlying error.
func (e *LinkError) Unwrap() error {
	return e.Err
}

// TransitionError is returned when element fails state transition.
type TransitionError struct {
	Element    string
	Transition state.Transition
	Err        error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("element %s failed %v: %v", e.Element, e.Transition, e.Err)
}

// Unwrap returns underlying error.
func (e *TransitionError) Unwrap() error {
	return e.Err
}

// RuntimeError is an unrecoverable streaming fault of the element.
type RuntimeError struct {
	Element string
	Err     error
	Debug   string
}

func (e *RuntimeError) Error() string {
	if e.Debug == "" {
		return fmt.Sprintf("element %s: %v", e.Element, e.Err)
	}
	return fmt.Sprintf("element %s: %v (%s)", e.Element, e.Err, e.Debug)
}

// Unwrap returns underlying error.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// execErrors wraps errors that might occur when multiple elements are
// failing.
type execErrors []error

func (e execErrors) Error() string {
	s := []string{}
	for _, se := range e {
		s = append(s, se.Error())
	}
	return strings.Join(s, ", ")
}

// Unwrap allows errors.Is and errors.As to inspect all errors.
func (e execErrors) Unwrap() []error {
	return e
}

// add appends non-nil error. Nested lists are flattened.
func (e execErrors) add(err error) execErrors {
	switch v := err.(type) {
	case nil:
		return e
	case execErrors:
		return append(e, v...)
	}
	return append(e, err)
}

// ret returns untyped nil if error list is empty.
func (e execErrors) ret() error {
	switch len(e) {
	case 0:
		return nil
	case 1:
		return e[0]
	}
	return e
}
