// Package session owns the authenticated identity and the bearer credential:
// login, registration, logout, rehydration at startup, and the reaction to
// backend-reported authorization failures.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/memoryvault/client/internal/api"
	"github.com/memoryvault/client/internal/localstate"
	"github.com/memoryvault/client/internal/notify"
	"github.com/memoryvault/client/internal/types"
)

// persistTimeout bounds durable-state writes issued from paths that have no
// caller context (logout, unauthorized).
const persistTimeout = 5 * time.Second

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for non-fatal persistence failures.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithClock overrides the time source used for credential expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the single source of truth for who is logged in. It is the only
// writer of the credential keys in the durable state store.
type Store struct {
	hc      api.HTTPClient
	baseURL string
	state   localstate.Store
	log     zerolog.Logger
	now     func() time.Time

	initOnce sync.Once
	resolved chan struct{}

	// mu guards the fields below and serialises durable credential writes.
	mu            sync.Mutex
	status        Status
	user          *types.User
	credential    string
	encryptionKey string

	changes notify.Queue[Change]
}

// New constructs a Store in the Unresolved state.
func New(hc api.HTTPClient, baseURL string, state localstate.Store, opts ...Option) *Store {
	s := &Store{
		hc:       hc,
		baseURL:  baseURL,
		state:    state,
		log:      zerolog.Nop(),
		now:      time.Now,
		resolved: make(chan struct{}),
		status:   Unresolved,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn for every status change and returns a cancel func.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	return s.changes.Subscribe(fn)
}

// Initialize rehydrates the session from durable state. It runs once;
// later and concurrent calls wait for the first and return its outcome.
func (s *Store) Initialize(ctx context.Context) Snapshot {
	s.initOnce.Do(func() {
		defer close(s.resolved)
		s.initialize(ctx)
	})
	return s.Snapshot()
}

// Resolved is closed once Initialize has completed.
func (s *Store) Resolved() <-chan struct{} { return s.resolved }

// Wait blocks until Initialize completes or ctx is done.
func (s *Store) Wait(ctx context.Context) error {
	select {
	case <-s.resolved:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) initialize(ctx context.Context) {
	tok, ok, err := s.state.Get(ctx, localstate.KeyCredential)
	if err != nil {
		s.log.Warn().Err(err).Msg("session: reading persisted credential failed")
	}
	if err != nil || !ok || tok == "" {
		s.finishUnauthenticated(ReasonNoCredential)
		return
	}

	if credentialExpired(tok, s.now()) {
		s.log.Info().Msg("session: persisted credential expired")
		s.invalidate(ctx, tok, ReasonExpired)
		s.finishUnauthenticated(ReasonExpired)
		return
	}

	ek, _, err := s.state.Get(ctx, localstate.KeyEncryptionKey)
	if err != nil {
		s.log.Warn().Err(err).Msg("session: reading persisted encryption key failed")
	}
	s.mu.Lock()
	s.credential = tok
	s.encryptionKey = ek
	s.mu.Unlock()

	user, err := api.Me(ctx, s.hc, s.baseURL)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Keep the persisted credential for the next start.
			s.mu.Lock()
			if s.credential == tok {
				s.credential, s.encryptionKey = "", ""
			}
			s.mu.Unlock()
		} else {
			s.log.Info().Err(err).Msg("session: persisted credential rejected")
			s.invalidate(ctx, tok, ReasonRejected)
		}
		s.finishUnauthenticated(ReasonRejected)
		return
	}

	s.mu.Lock()
	if s.credential == tok {
		s.setLocked(Authenticated, user, ReasonRehydrated)
	}
	s.mu.Unlock()
	s.changes.Flush()
}

// finishUnauthenticated resolves a still-Unresolved session.
func (s *Store) finishUnauthenticated(reason string) {
	s.mu.Lock()
	if s.status == Unresolved {
		s.setLocked(Unauthenticated, nil, reason)
	}
	s.mu.Unlock()
	s.changes.Flush()
}

// Login authenticates with email and password. On failure the prior state
// is restored and an *errors.AuthError is returned.
func (s *Store) Login(ctx context.Context, email, password string) (*types.User, error) {
	return s.authenticate(ReasonLogin, func() (*types.AuthResponse, error) {
		return api.Login(ctx, s.hc, s.baseURL, types.LoginRequest{Email: email, Password: password})
	})
}

// Register creates an account and logs in with the returned credential.
func (s *Store) Register(ctx context.Context, req types.RegisterRequest) (*types.User, error) {
	return s.authenticate(ReasonRegister, func() (*types.AuthResponse, error) {
		return api.Register(ctx, s.hc, s.baseURL, req)
	})
}

func (s *Store) authenticate(reason string, call func() (*types.AuthResponse, error)) (*types.User, error) {
	s.mu.Lock()
	prev := s.status
	if prev != Authenticated {
		s.setLocked(Authenticating, nil, reason)
	}
	s.mu.Unlock()
	s.changes.Flush()

	resp, err := call()

	s.mu.Lock()
	if err != nil {
		if s.status == Authenticating {
			s.setLocked(prev, s.user, ReasonAuthFailed)
		}
		s.mu.Unlock()
		s.changes.Flush()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.state.Set(ctx, localstate.KeyCredential, resp.Token); err != nil {
		s.log.Warn().Err(err).Msg("session: persisting credential failed; session will not survive restart")
	}
	if resp.EncryptionKey != "" {
		if err := s.state.Set(ctx, localstate.KeyEncryptionKey, resp.EncryptionKey); err != nil {
			s.log.Warn().Err(err).Msg("session: persisting encryption key failed")
		}
	} else if err := s.state.Delete(ctx, localstate.KeyEncryptionKey); err != nil {
		s.log.Warn().Err(err).Msg("session: clearing stale encryption key failed")
	}
	s.credential = resp.Token
	s.encryptionKey = resp.EncryptionKey
	user := resp.User
	s.setLocked(Authenticated, &user, reason)
	s.mu.Unlock()
	s.changes.Flush()

	out := user
	return &out, nil
}

// Logout clears the credential and user. It never fails; persistence errors
// are logged.
func (s *Store) Logout() {
	s.mu.Lock()
	s.clearLocked()
	s.setLocked(Unauthenticated, nil, ReasonLogout)
	s.mu.Unlock()
	s.changes.Flush()
}

// Unauthorized handles a backend 401 for a request that carried credential.
// Only the first report for the current credential takes effect; it returns
// whether this call performed the logout.
func (s *Store) Unauthorized(credential string) bool {
	s.mu.Lock()
	if credential == "" || s.credential != credential {
		s.mu.Unlock()
		return false
	}
	s.clearLocked()
	s.setLocked(Unauthenticated, nil, ReasonUnauthorized)
	s.mu.Unlock()
	s.changes.Flush()
	return true
}

// invalidate clears credential tok if it is still current in memory or
// untouched in durable state.
func (s *Store) invalidate(ctx context.Context, tok, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credential != "" && s.credential != tok {
		return
	}
	s.clearLocked()
	if s.status != Unresolved {
		s.setLocked(Unauthenticated, nil, reason)
	}
}

// clearLocked drops the credential from memory and durable state.
func (s *Store) clearLocked() {
	s.credential = ""
	s.encryptionKey = ""
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.state.Delete(ctx, localstate.KeyCredential, localstate.KeyEncryptionKey); err != nil {
		s.log.Warn().Err(err).Msg("session: clearing persisted credential failed")
	}
}

// setLocked transitions and queues a Change when the status moves.
func (s *Store) setLocked(next Status, user *types.User, reason string) {
	if next == Authenticated {
		s.user = user
	} else {
		s.user = nil
	}
	if s.status == next {
		return
	}
	ch := Change{From: s.status, To: next, Reason: reason}
	if user != nil && next == Authenticated {
		u := *user
		ch.User = &u
	}
	s.status = next
	s.changes.Push(ch)
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Status: s.status, HasCredential: s.credential != ""}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	return snap
}

// Status returns the current status.
func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// User returns a copy of the authenticated user, or nil.
func (s *Store) User() *types.User {
	return s.Snapshot().User
}

// Credential returns the bearer credential to attach to outgoing calls.
func (s *Store) Credential() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential
}

// EncryptionKey returns the key issued with the credential, if any.
func (s *Store) EncryptionKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encryptionKey
}

// credentialExpired reports whether tok is a JWT whose exp has passed.
// Opaque tokens are never considered expired locally.
func credentialExpired(tok string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.After(now)
}
