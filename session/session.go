/*
Package session pairs an encryption request with its artifacts and the
charge that pays for its token.

A session is created when text is encrypted, gains a charge when payment
starts and ends when the token is released or the session is abandoned. The
token can only be released once the charge is confirmed.
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bodgit/pixcrypt/alphabet"
	"github.com/bodgit/pixcrypt/client"
	"github.com/bodgit/pixcrypt/clock"
	"github.com/bodgit/pixcrypt/codec"
	"github.com/bodgit/pixcrypt/image"
	"github.com/bodgit/pixcrypt/token"
	"github.com/hashicorp/go-hclog"
)

var (
	// ErrNotReleasable is returned when the token is requested before the
	// charge is confirmed
	ErrNotReleasable = errors.New("session: payment not confirmed")
	// ErrSessionExpired is returned for unknown, finished or stale
	// sessions
	ErrSessionExpired = errors.New("session: expired")
	// ErrAttemptInProgress is returned when a payment attempt is already
	// running for the session
	ErrAttemptInProgress = errors.New("session: payment attempt already in progress")
)

// State is the lifecycle state of a session
type State string

// Session states
const (
	StateOpen      State = "open"
	StateReleased  State = "released"
	StateAbandoned State = "abandoned"
)

// Session is one encrypt, pay and download flow
type Session struct {
	ID           string
	FileName     string
	ChargeID     string
	ChargeStatus string
	Payments     int
	State        State
	CreatedAt    time.Time
}

// Releasable reports whether the attached charge has been paid
func (s *Session) Releasable() bool {
	if s.ChargeID == "" {
		return false
	}
	return s.ChargeStatus == client.StatusCompleted || s.ChargeStatus == client.StatusConfirmed || s.Payments > 0
}

// Token is a released decode key
type Token struct {
	SessionID string
	FileName  string
	Table     *codec.Table
}

// Service is the remote side of a session
type Service interface {
	Encrypt(ctx context.Context, text, originalFileName string) (*client.EncryptResponse, error)
	DownloadToken(ctx context.Context, sessionID, chargeID string) (*client.TokenResponse, error)
}

// Manager tracks sessions and gates token release
type Manager struct {
	store    *Store
	service  Service
	alphabet *alphabet.Alphabet
	clock    clock.Clock
	maxAge   time.Duration
	logger   hclog.Logger

	mu       sync.Mutex
	attempts map[string]struct{}
}

// Option configures a Manager
type Option func(*Manager)

// WithAlphabet sets the alphabet tokens are decoded with
func WithAlphabet(a *alphabet.Alphabet) Option {
	return func(m *Manager) {
		m.alphabet = a
	}
}

// WithClock sets the clock used for expiry
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithMaxAge expires sessions older than d. Zero disables expiry.
func WithMaxAge(d time.Duration) Option {
	return func(m *Manager) {
		m.maxAge = d
	}
}

// WithLogger sets the logger
func WithLogger(logger hclog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager returns a Manager keeping sessions in store
func NewManager(store *Store, service Service, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		service:  service,
		alphabet: alphabet.Reference,
		clock:    clock.Real(),
		logger:   hclog.NewNullLogger(),
		attempts: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Alphabet returns the alphabet used to read tokens
func (m *Manager) Alphabet() *alphabet.Alphabet {
	return m.alphabet
}

// Create encrypts text remotely and records a new session. The returned
// grid is the main image, which may be saved straight away.
func (m *Manager) Create(ctx context.Context, text, fileName string) (*Session, image.Grid, error) {
	resp, err := m.service.Encrypt(ctx, text, fileName)
	if err != nil {
		return nil, nil, err
	}

	img := resp.EncryptedImage
	g, err := image.FromCSS(img.Width, img.Height, img.Pixels)
	if err != nil {
		return nil, nil, fmt.Errorf("session: encrypted image: %w", err)
	}

	s := &Session{
		ID:        resp.SessionID,
		FileName:  fileName,
		State:     StateOpen,
		CreatedAt: m.clock.Now(),
	}
	if s.FileName == "" {
		s.FileName = resp.FileName
	}
	if s.ID == "" {
		return nil, nil, errors.New("session: service returned no session id")
	}

	if err := m.store.insert(ctx, s); err != nil {
		return nil, nil, err
	}

	m.logger.Debug("session created", "session", s.ID, "file", s.FileName, "width", img.Width, "height", img.Height)

	return s, g, nil
}

// Get returns a session in whatever state it is in
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	s, err := m.store.get(ctx, id)
	if err == errNotFound {
		return nil, ErrSessionExpired
	}
	return s, err
}

// Active returns the session if it can still progress, otherwise
// ErrSessionExpired
func (m *Manager) Active(ctx context.Context, id string) (*Session, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.State != StateOpen {
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionExpired, id, s.State)
	}
	if m.maxAge > 0 && m.clock.Now().Sub(s.CreatedAt) > m.maxAge {
		return nil, fmt.Errorf("%w: session %s is older than %s", ErrSessionExpired, id, m.maxAge)
	}
	return s, nil
}

// AttachCharge records the charge paying for the token. Any status seen for
// a previous charge is discarded.
func (m *Manager) AttachCharge(ctx context.Context, id, chargeID string) error {
	if _, err := m.Active(ctx, id); err != nil {
		return err
	}
	return m.store.setCharge(ctx, id, chargeID)
}

// RecordStatus stores the latest charge status
func (m *Manager) RecordStatus(ctx context.Context, id string, st *client.Status) error {
	if _, err := m.Active(ctx, id); err != nil {
		return err
	}
	return m.store.setStatus(ctx, id, st.Status, len(st.Payments))
}

// IsReleasable reports whether the token may be released
func (m *Manager) IsReleasable(ctx context.Context, id string) (bool, error) {
	s, err := m.Active(ctx, id)
	if err != nil {
		return false, err
	}
	return s.Releasable(), nil
}

// ReleaseToken fetches the token for a paid session and closes the session.
// It fails with ErrNotReleasable before payment is confirmed and with
// ErrSessionExpired if the session cannot progress.
func (m *Manager) ReleaseToken(ctx context.Context, id string) (*Token, error) {
	s, err := m.Active(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.Releasable() {
		return nil, ErrNotReleasable
	}

	resp, err := m.service.DownloadToken(ctx, s.ID, s.ChargeID)
	if err != nil {
		return nil, err
	}
	if resp.Alphabet != "" && resp.Alphabet != m.alphabet.Version() {
		return nil, fmt.Errorf("%w: token issued for alphabet %q, have %q", token.ErrAmbiguous, resp.Alphabet, m.alphabet.Version())
	}

	t, err := token.FromCSS(resp.TokenData, m.alphabet)
	if err != nil {
		return nil, err
	}
	if t.Len() != m.alphabet.Size() {
		m.logger.Warn("token length does not match alphabet", "session", s.ID, "length", t.Len(), "expected", m.alphabet.Size())
	}

	if err := m.store.setState(ctx, s.ID, StateReleased); err != nil {
		return nil, err
	}

	name := resp.FileName
	if name == "" {
		name = s.FileName
	}

	m.logger.Info("token released", "session", s.ID, "charge", s.ChargeID)

	return &Token{
		SessionID: s.ID,
		FileName:  name,
		Table:     t,
	}, nil
}

// Abandon ends a session without releasing its token
func (m *Manager) Abandon(ctx context.Context, id string) error {
	if err := m.store.setState(ctx, id, StateAbandoned); err != nil {
		if err == errNotFound {
			return ErrSessionExpired
		}
		return err
	}
	return nil
}

// BeginAttempt marks a payment attempt as running for the session. The
// returned function must be called when the attempt ends. A second attempt
// while one is running is rejected since token delivery happens once.
func (m *Manager) BeginAttempt(id string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.attempts[id]; ok {
		return nil, ErrAttemptInProgress
	}
	m.attempts[id] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.attempts, id)
		})
	}, nil
}
