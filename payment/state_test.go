package payment

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func awaiting(t *testing.T, limit int) State {
	t.Helper()
	s, err := Transition(State{SessionID: "s1"}, Event{Type: Request, Limit: limit})
	require.NoError(t, err)
	s, err = Transition(s, Event{Type: ChargeCreated, ChargeID: "c1", HostedURL: "https://pay.example/c1"})
	require.NoError(t, err)
	require.Equal(t, AwaitingConfirmation, s.Phase)
	return s
}

func TestTimeoutAfterLimit(t *testing.T) {
	s := awaiting(t, 0)
	assert.Equal(t, DefaultLimit, s.Limit)

	var err error
	for i := 1; i < 60; i++ {
		s, err = Transition(s, Event{Type: Polled})
		require.NoError(t, err)
		require.Equal(t, AwaitingConfirmation, s.Phase, "poll %d", i)
	}

	s, err = Transition(s, Event{Type: Polled})
	require.NoError(t, err)
	assert.Equal(t, TimedOut, s.Phase)
	assert.Equal(t, 60, s.Attempts)
	assert.True(t, errors.Is(s.Err, ErrTimedOut))
}

func TestReleasedAtConfirmingPoll(t *testing.T) {
	s := awaiting(t, 60)

	var err error
	for _, confirmed := range []bool{false, false, true} {
		require.Equal(t, AwaitingConfirmation, s.Phase)
		s, err = Transition(s, Event{Type: Polled, Confirmed: confirmed})
		require.NoError(t, err)
	}
	assert.Equal(t, Released, s.Phase)
	assert.Equal(t, 3, s.Attempts)
	assert.NoError(t, s.Err)

	_, err = Transition(s, Event{Type: Polled})
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestConfirmedOnLastPoll(t *testing.T) {
	s := awaiting(t, 2)

	s, err := Transition(s, Event{Type: Polled})
	require.NoError(t, err)
	s, err = Transition(s, Event{Type: Polled, Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, Released, s.Phase)
}

func TestTransitions(t *testing.T) {
	failed := State{Phase: Failed, SessionID: "s1", Err: errors.New("boom")}
	timedOut := State{Phase: TimedOut, SessionID: "s1", Attempts: 60, Limit: 60, Err: ErrTimedOut}

	tests := []struct {
		name  string
		from  State
		event Event
		want  Phase
		err   bool
	}{
		{"request from idle", State{}, Event{Type: Request}, AwaitingPaymentCreation, false},
		{"request from failed", failed, Event{Type: Request}, AwaitingPaymentCreation, false},
		{"request from timed out", timedOut, Event{Type: Request}, AwaitingPaymentCreation, false},
		{"request while creating", State{Phase: AwaitingPaymentCreation}, Event{Type: Request}, AwaitingPaymentCreation, true},
		{"request while polling", State{Phase: AwaitingConfirmation}, Event{Type: Request}, AwaitingConfirmation, true},
		{"request after release", State{Phase: Released}, Event{Type: Request}, Released, true},
		{"charge without request", State{}, Event{Type: ChargeCreated}, Idle, true},
		{"poll before charge", State{Phase: AwaitingPaymentCreation}, Event{Type: Polled}, AwaitingPaymentCreation, true},
		{"failure from idle", State{}, Event{Type: Failure}, Failed, false},
		{"failure while creating", State{Phase: AwaitingPaymentCreation}, Event{Type: Failure, Err: errors.New("x")}, Failed, false},
		{"failure while polling", State{Phase: AwaitingConfirmation}, Event{Type: Failure, Err: errors.New("x")}, Failed, false},
		{"failure after release", State{Phase: Released}, Event{Type: Failure}, Released, true},
		{"failure after failure", failed, Event{Type: Failure}, Failed, true},
		{"cancel while creating", State{Phase: AwaitingPaymentCreation}, Event{Type: Cancel}, Idle, false},
		{"cancel while polling", State{Phase: AwaitingConfirmation, ChargeID: "c1", Attempts: 4}, Event{Type: Cancel}, Idle, false},
		{"cancel when idle", State{}, Event{Type: Cancel}, Idle, true},
		{"cancel after timeout", timedOut, Event{Type: Cancel}, TimedOut, true},
		{"unknown event", State{}, Event{Type: EventType(42)}, Idle, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transition(tt.from, tt.event)
			if tt.err {
				assert.True(t, errors.Is(err, ErrInvalidTransition))
				assert.Equal(t, tt.from, got)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got.Phase)
		})
	}
}

func TestRestartClearsAttempt(t *testing.T) {
	s := State{Phase: TimedOut, SessionID: "s1", ChargeID: "c1", Attempts: 60, Limit: 60, Err: ErrTimedOut}

	s, err := Transition(s, Event{Type: Request, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, State{Phase: AwaitingPaymentCreation, SessionID: "s1", Limit: 10}, s)
}

func TestCancelKeepsSession(t *testing.T) {
	s := awaiting(t, 60)
	s, err := Transition(s, Event{Type: Cancel})
	require.NoError(t, err)
	assert.Equal(t, State{Phase: Idle, SessionID: "s1"}, s)
}

func TestFailureDefaultsError(t *testing.T) {
	s, err := Transition(State{Phase: AwaitingPaymentCreation}, Event{Type: Failure})
	require.NoError(t, err)
	assert.Error(t, s.Err)
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "awaiting confirmation", AwaitingConfirmation.String())
	assert.Equal(t, "Phase(9)", Phase(9).String())
	assert.Equal(t, "charge created", ChargeCreated.String())
	assert.True(t, Failed.Restartable())
	assert.False(t, Released.Restartable())
	assert.True(t, AwaitingPaymentCreation.InFlight())
}
