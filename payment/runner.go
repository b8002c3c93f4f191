package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/bodgit/pixcrypt/client"
	"github.com/bodgit/pixcrypt/clock"
	"github.com/bodgit/pixcrypt/session"
	"github.com/hashicorp/go-hclog"
)

// Config bounds the polling of one attempt
type Config struct {
	// Interval is the wait before each poll
	Interval time.Duration `yaml:"interval"`
	// MaxAttempts is the number of polls before giving up
	MaxAttempts int `yaml:"max_attempts"`
}

// DefaultConfig polls every five seconds for up to five minutes
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Second,
		MaxAttempts: DefaultLimit,
	}
}

// Gateway is the payment service
type Gateway interface {
	CreatePayment(ctx context.Context, sessionID, fileName string) (*client.Charge, error)
	CheckPayment(ctx context.Context, chargeID string) (*client.Status, error)
}

// Runner performs payment attempts
type Runner struct {
	sessions *session.Manager
	gateway  Gateway
	config   Config
	clock    clock.Clock
	logger   hclog.Logger
}

// Option configures a Runner
type Option func(*Runner)

// WithConfig sets the polling bounds
func WithConfig(c Config) Option {
	return func(r *Runner) {
		r.config = c
	}
}

// WithClock sets the clock used between polls
func WithClock(c clock.Clock) Option {
	return func(r *Runner) {
		r.clock = c
	}
}

// WithLogger sets the logger
func WithLogger(logger hclog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner returns a Runner that releases tokens through sessions once
// gateway confirms payment
func NewRunner(sessions *session.Manager, gateway Gateway, opts ...Option) *Runner {
	r := &Runner{
		sessions: sessions,
		gateway:  gateway,
		config:   DefaultConfig(),
		clock:    clock.Real(),
		logger:   hclog.NewNullLogger(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = hclog.NewNullLogger()
	}
	return r
}

// Run performs one payment attempt for the session. onCharge, if not nil, is
// called once the charge exists so that its hosted URL can be shown.
//
// The returned state is always one that accepts a restart, or Released in
// which case the token is returned too. A session whose charge was already
// confirmed is released without creating a new charge. Cancelling ctx stops polling and
// returns an Idle state with the context error.
func (r *Runner) Run(ctx context.Context, sessionID string, onCharge func(State)) (State, *session.Token, error) {
	st := State{Phase: Idle, SessionID: sessionID}
	logger := r.logger.With("session", sessionID)

	s, err := r.sessions.Active(ctx, sessionID)
	if err != nil {
		return st, nil, err
	}

	done, err := r.sessions.BeginAttempt(sessionID)
	if err != nil {
		return st, nil, err
	}
	defer done()

	st, _ = Transition(st, Event{Type: Request, Limit: r.config.MaxAttempts})

	cancel := func() (State, *session.Token, error) {
		st, _ = Transition(st, Event{Type: Cancel})
		logger.Info("payment attempt cancelled")
		return st, nil, ctx.Err()
	}
	fail := func(err error) (State, *session.Token, error) {
		// A call cut short by cancellation is not a failure
		if ctx.Err() != nil {
			return cancel()
		}
		st, _ = Transition(st, Event{Type: Failure, Err: err})
		logger.Error("payment attempt failed", "phase", st.Phase, "error", err)
		return st, nil, st.Err
	}
	release := func() (State, *session.Token, error) {
		tok, err := r.sessions.ReleaseToken(ctx, s.ID)
		if err != nil {
			return fail(fmt.Errorf("payment: release token: %w", err))
		}
		st, _ = Transition(st, Event{Type: Polled, Confirmed: true})
		logger.Info("payment confirmed", "attempts", st.Attempts)
		return st, tok, nil
	}

	// An earlier attempt saw the charge paid but never got the token
	if s.Releasable() {
		st, _ = Transition(st, Event{Type: ChargeCreated, ChargeID: s.ChargeID})
		logger.Info("charge already paid", "charge", s.ChargeID)
		return release()
	}

	charge, err := r.gateway.CreatePayment(ctx, s.ID, s.FileName)
	if err != nil {
		return fail(fmt.Errorf("payment: create charge: %w", err))
	}
	if err := r.sessions.AttachCharge(ctx, s.ID, charge.ChargeID); err != nil {
		return fail(fmt.Errorf("payment: attach charge: %w", err))
	}

	st, _ = Transition(st, Event{
		Type:      ChargeCreated,
		ChargeID:  charge.ChargeID,
		HostedURL: charge.HostedURL,
		Price:     charge.Price,
	})
	logger.Info("charge created", "charge", charge.ChargeID, "url", charge.HostedURL)

	if onCharge != nil {
		onCharge(st)
	}

	for {
		if ctx.Err() != nil {
			return cancel()
		}

		select {
		case <-ctx.Done():
			return cancel()
		case <-r.clock.After(r.config.Interval):
		}

		// The timer and cancellation can be ready together
		if ctx.Err() != nil {
			return cancel()
		}

		status, err := r.gateway.CheckPayment(ctx, st.ChargeID)
		if err != nil {
			return fail(fmt.Errorf("payment: check charge: %w", err))
		}
		if err := r.sessions.RecordStatus(ctx, s.ID, status); err != nil {
			return fail(fmt.Errorf("payment: record status: %w", err))
		}

		logger.Debug("polled charge", "attempt", st.Attempts+1, "status", status.Status, "payments", len(status.Payments))

		if !status.Confirmed() {
			st, _ = Transition(st, Event{Type: Polled})
			if st.Phase == TimedOut {
				logger.Warn("payment not confirmed", "attempts", st.Attempts)
				return st, nil, st.Err
			}
			continue
		}

		return release()
	}
}
