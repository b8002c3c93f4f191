/*
Package payment drives a session from "token requested" to "token released".

The flow is a small state machine. Transition is pure and applies one Event
to a State; Runner owns a single attempt, performing the remote calls and
feeding their results through Transition.

	Idle -> AwaitingPaymentCreation -> AwaitingConfirmation -> Released
	                                                        -> TimedOut
	                                                        -> Failed

Polling is bounded by a count, not by wall clock time. TimedOut and Failed
end an attempt but a new Request starts another one. Cancel returns an
attempt in flight to Idle.
*/
package payment

import (
	"errors"
	"fmt"
)

var (
	// ErrTimedOut is returned when the poll limit is reached without the
	// charge being confirmed
	ErrTimedOut = errors.New("payment: timed out waiting for confirmation")
	// ErrInvalidTransition is returned when an event does not apply to the
	// current phase
	ErrInvalidTransition = errors.New("payment: invalid transition")
)

// Phase is the position of an attempt in the flow
type Phase int

// Phases
const (
	Idle Phase = iota
	AwaitingPaymentCreation
	AwaitingConfirmation
	Released
	TimedOut
	Failed
)

var phaseNames = [...]string{
	Idle:                    "idle",
	AwaitingPaymentCreation: "awaiting payment creation",
	AwaitingConfirmation:    "awaiting confirmation",
	Released:                "released",
	TimedOut:                "timed out",
	Failed:                  "failed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// InFlight reports whether an attempt is waiting on the payment service
func (p Phase) InFlight() bool {
	return p == AwaitingPaymentCreation || p == AwaitingConfirmation
}

// Restartable reports whether a new Request is accepted
func (p Phase) Restartable() bool {
	return p == Idle || p == TimedOut || p == Failed
}

// State is a snapshot of one attempt
type State struct {
	Phase     Phase
	SessionID string
	ChargeID  string
	HostedURL string
	Price     string
	// Attempts is the number of polls made for the current charge
	Attempts int
	// Limit is the number of polls allowed before timing out
	Limit int
	// Err is set in the TimedOut and Failed phases
	Err error
}

// EventType identifies an Event
type EventType int

// Events
const (
	Request EventType = iota
	ChargeCreated
	Polled
	Failure
	Cancel
)

var eventNames = [...]string{
	Request:       "request",
	ChargeCreated: "charge created",
	Polled:        "polled",
	Failure:       "failure",
	Cancel:        "cancel",
}

func (e EventType) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return fmt.Sprintf("EventType(%d)", int(e))
	}
	return eventNames[e]
}

// Event is something that happened to an attempt. Only the fields relevant
// to Type are read.
type Event struct {
	Type EventType

	// Request
	Limit int

	// ChargeCreated
	ChargeID  string
	HostedURL string
	Price     string

	// Polled
	Confirmed bool

	// Failure
	Err error
}

// DefaultLimit is the poll limit used when a Request does not set one
const DefaultLimit = 60

func invalid(s State, e Event) error {
	return fmt.Errorf("%w: %s in phase %s", ErrInvalidTransition, e.Type, s.Phase)
}

// Transition applies e to s and returns the new state. s is not modified.
// An event that does not apply to the phase returns s unchanged with an
// error wrapping ErrInvalidTransition.
func Transition(s State, e Event) (State, error) {
	switch e.Type {
	case Request:
		if !s.Phase.Restartable() {
			return s, invalid(s, e)
		}
		limit := e.Limit
		if limit <= 0 {
			limit = DefaultLimit
		}
		return State{
			Phase:     AwaitingPaymentCreation,
			SessionID: s.SessionID,
			Limit:     limit,
		}, nil
	case ChargeCreated:
		if s.Phase != AwaitingPaymentCreation {
			return s, invalid(s, e)
		}
		s.Phase = AwaitingConfirmation
		s.ChargeID = e.ChargeID
		s.HostedURL = e.HostedURL
		s.Price = e.Price
		s.Attempts = 0
		return s, nil
	case Polled:
		if s.Phase != AwaitingConfirmation {
			return s, invalid(s, e)
		}
		s.Attempts++
		switch {
		case e.Confirmed:
			s.Phase = Released
		case s.Attempts >= s.Limit:
			s.Phase = TimedOut
			s.Err = fmt.Errorf("%w after %d polls", ErrTimedOut, s.Attempts)
		}
		return s, nil
	case Failure:
		switch s.Phase {
		case Released, TimedOut, Failed:
			return s, invalid(s, e)
		}
		s.Phase = Failed
		s.Err = e.Err
		if s.Err == nil {
			s.Err = errors.New("payment: unknown failure")
		}
		return s, nil
	case Cancel:
		if !s.Phase.InFlight() {
			return s, invalid(s, e)
		}
		return State{
			Phase:     Idle,
			SessionID: s.SessionID,
		}, nil
	default:
		return s, invalid(s, e)
	}
}
