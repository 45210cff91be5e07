package checkpoint

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/onboard-guide/internal/domain"
)

// ErrGuardRejected is wrapped by every GuardError.
var ErrGuardRejected = errors.New("transition rejected")

// EventKind names a state machine event.
type EventKind string

const (
	EventNext     EventKind = "next"
	EventBack     EventKind = "back"
	EventGoto     EventKind = "goto"
	EventComplete EventKind = "complete"
)

// ParseEventKind converts a request action into an EventKind.
func ParseEventKind(s string) (EventKind, bool) {
	switch k := EventKind(strings.ToLower(strings.TrimSpace(s))); k {
	case EventNext, EventBack, EventGoto, EventComplete:
		return k, true
	}
	return "", false
}

// Event is a transition request. Target is only used by EventGoto.
type Event struct {
	Kind   EventKind
	Target domain.Checkpoint
}

// Next, Back, Goto and Complete build events.
func Next() Event                         { return Event{Kind: EventNext} }
func Back() Event                         { return Event{Kind: EventBack} }
func Goto(target domain.Checkpoint) Event { return Event{Kind: EventGoto, Target: target} }
func Complete() Event                     { return Event{Kind: EventComplete} }

// GuardError describes why an event was not allowed from a checkpoint.
type GuardError struct {
	Event   EventKind
	From    domain.Checkpoint
	Target  domain.Checkpoint
	Reason  string
	Missing []string
}

func (e *GuardError) Error() string {
	msg := fmt.Sprintf("%s from %s rejected: %s", e.Event, e.From, e.Reason)
	if len(e.Missing) > 0 {
		msg += " (missing: " + strings.Join(e.Missing, ", ") + ")"
	}
	return msg
}

func (e *GuardError) Unwrap() error { return ErrGuardRejected }

// Machine evaluates transitions between checkpoints. It holds no state; the
// current checkpoint and data bag are passed to every call.
type Machine struct{}

// NewMachine returns the onboarding state machine.
func NewMachine() *Machine {
	return &Machine{}
}

// CanTransition returns nil when ev is allowed from state given data, and a
// *GuardError otherwise.
func (m *Machine) CanTransition(state domain.Checkpoint, ev Event, data domain.CheckpointData) error {
	_, err := m.Apply(state, ev, data)
	return err
}

// Apply returns the checkpoint reached by ev, or a *GuardError. GOTO may jump
// anywhere from review except COMPLETED, which is only reachable through
// COMPLETE so the confirmation guard cannot be bypassed.
func (m *Machine) Apply(state domain.Checkpoint, ev Event, data domain.CheckpointData) (domain.Checkpoint, error) {
	idx := Index(state)
	if idx < 0 {
		return state, m.reject(state, ev, "unknown checkpoint", nil)
	}
	if state == domain.CheckpointCompleted {
		return state, m.reject(state, ev, "onboarding is already completed", nil)
	}

	switch ev.Kind {
	case EventNext:
		if missing := MissingFields(state, data); len(missing) > 0 {
			return state, m.reject(state, ev, "required fields are missing", missing)
		}
		next, _ := At(idx + 1)
		return next, nil

	case EventBack:
		if idx == 0 {
			return state, m.reject(state, ev, "already at the first checkpoint", nil)
		}
		prev, _ := At(idx - 1)
		return prev, nil

	case EventGoto:
		target := Index(ev.Target)
		switch {
		case target < 0:
			return state, m.reject(state, ev, "unknown target checkpoint", nil)
		case ev.Target == domain.CheckpointCompleted:
			return state, m.reject(state, ev, "completion requires the complete action", nil)
		case target <= idx || state == domain.CheckpointReview:
			return ev.Target, nil
		}
		return state, m.reject(state, ev, "cannot skip ahead of the current checkpoint", MissingFields(state, data))

	case EventComplete:
		if state != domain.CheckpointReview {
			return state, m.reject(state, ev, "completion is only possible from review", nil)
		}
		if !Confirmed(data) {
			return state, m.reject(state, ev, "review has not been confirmed", []string{"confirmed"})
		}
		return domain.CheckpointCompleted, nil
	}

	return state, m.reject(state, ev, "unknown event", nil)
}

// AdvanceEvent is the event that moves forward from state: COMPLETE at review,
// NEXT everywhere else.
func AdvanceEvent(state domain.Checkpoint) Event {
	if state == domain.CheckpointReview {
		return Complete()
	}
	return Next()
}

func (m *Machine) reject(state domain.Checkpoint, ev Event, reason string, missing []string) *GuardError {
	if missing == nil {
		missing = []string{}
	}
	return &GuardError{
		Event:   ev.Kind,
		From:    state,
		Target:  ev.Target,
		Reason:  reason,
		Missing: missing,
	}
}
