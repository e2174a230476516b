// Package state defines the lifecycle states shared by pipelines and
// their elements.
//
// Every element moves through the same ladder:
//
//	Null -> Ready -> Paused -> Playing
//
// Transitions are always executed in adjacent steps. A request to jump
// from Null to Playing is expanded by Path into three steps, so elements
// that need to allocate resources in Ready or preroll in Paused always
// get the chance to do so.
package state

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidState is returned when a string cannot be parsed into a
// State or a transition is requested from an undefined state.
var ErrInvalidState = errors.New("invalid state")

// State identifies one of the possible states an element can be in.
type State int

// States in ascending order.
const (
	// VoidPending means that no transition is pending.
	VoidPending State = iota
	// Null is the initial and the teardown state. No resources are held.
	Null
	// Ready means that resources are allocated, but no data flows.
	Ready
	// Paused means that elements are started and prerolled.
	Paused
	// Playing means that data flows through the graph.
	Playing
)

func (s State) String() string {
	switch s {
	case VoidPending:
		return "VOID_PENDING"
	case Null:
		return "NULL"
	case Ready:
		return "READY"
	case Paused:
		return "PAUSED"
	case Playing:
		return "PLAYING"
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

// Valid returns true if s is one of Null, Ready, Paused or Playing.
func (s State) Valid() bool {
	return s >= Null && s <= Playing
}

// Parse converts case-insensitive state name into State.
func Parse(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "null":
		return Null, nil
	case "ready":
		return Ready, nil
	case "paused":
		return Paused, nil
	case "playing":
		return Playing, nil
	}
	return VoidPending, fmt.Errorf("%w: %q", ErrInvalidState, s)
}

// Transition is a single adjacent step between two states.
type Transition struct {
	From State
	To   State
}

// Adjacent transitions.
var (
	NullToReady      = Transition{From: Null, To: Ready}
	ReadyToPaused    = Transition{From: Ready, To: Paused}
	PausedToPlaying  = Transition{From: Paused, To: Playing}
	PlayingToPaused  = Transition{From: Playing, To: Paused}
	PausedToReady    = Transition{From: Paused, To: Ready}
	ReadyToNull      = Transition{From: Ready, To: Null}
	transitionsOrder = []Transition{
		NullToReady,
		ReadyToPaused,
		PausedToPlaying,
		PlayingToPaused,
		PausedToReady,
		ReadyToNull,
	}
)

// Upward returns true if transition moves towards Playing.
func (t Transition) Upward() bool {
	return t.To > t.From
}

func (t Transition) String() string {
	return fmt.Sprintf("%v_TO_%v", t.From, t.To)
}

// Path returns adjacent transitions required to move from one state to
// another. Empty path is returned if states are equal.
func Path(from, to State) []Transition {
	if !from.Valid() || !to.Valid() || from == to {
		return nil
	}
	step := 1
	if to < from {
		step = -1
	}
	path := make([]Transition, 0, 3)
	for s := from; s != to; s += State(step) {
		path = append(path, Transition{From: s, To: s + State(step)})
	}
	return path
}

// Transitions returns all adjacent transitions in the order they are
// executed during a full Null-Playing-Null cycle.
func Transitions() []Transition {
	t := make([]Transition, len(transitionsOrder))
	copy(t, transitionsOrder)
	return t
}

// Return is the result of the state change request.
type Return int

// State change results.
const (
	// Failure means that the transition failed.
	Failure Return = iota
	// Success means that the transition completed synchronously.
	Success
	// Async means that the transition is in progress and its completion
	// will be signaled with a message.
	Async
)

func (r Return) String() string {
	switch r {
	case Failure:
		return "FAILURE"
	case Success:
		return "SUCCESS"
	case Async:
		return "ASYNC"
	}
	return fmt.Sprintf("RETURN(%d)", int(r))
}
