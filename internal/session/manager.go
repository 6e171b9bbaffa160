package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/booktracker/booktracker/internal/authapi"
	"github.com/booktracker/booktracker/internal/logsanitize"
	"github.com/booktracker/booktracker/internal/metrics"
	"github.com/booktracker/booktracker/internal/store"
	"github.com/booktracker/booktracker/internal/token"
)

const (
	opLogin      = "login"
	opRegister   = "register"
	opLogout     = "logout"
	opRestore    = "restore"
	opValidate   = "validate"
	opInvalidate = "invalidate"
)

// Backend is the auth service as seen by the Manager.
// *authapi.Client implements it.
type Backend interface {
	Login(ctx context.Context, username, password string) (*authapi.AuthResponse, error)
	Register(ctx context.Context, username, email, password string) (*authapi.AuthResponse, error)
	Validate(ctx context.Context, token string) error
}

// TokenVerifier checks a stored token before it is restored.
// *token.Verifier implements it.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) error
}

// Options tune a Manager. Zero values select the defaults.
type Options struct {
	LandingRoute      string
	LoginRoute        string
	MinPasswordLength int
	RestorePolicy     RestorePolicy

	// Navigate is called with LandingRoute after a successful login or
	// registration and with LoginRoute after logout or invalidation.
	Navigate func(route string)

	// OnChange is called after every transition between states.
	OnChange func(State)

	// Verifier is required by RestoreJWKS.
	Verifier TokenVerifier

	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Manager owns the current Session. It is safe for concurrent use; one
// Manager is shared by every surface of the process.
type Manager struct {
	backend Backend
	store   store.Store
	opts    Options

	mu      sync.RWMutex
	session Session

	// busy is set while a Login or Register is outstanding.
	busy atomic.Bool
}

// NewManager creates an unauthenticated Manager. Call RestoreSession before
// serving the first request.
func NewManager(backend Backend, st store.Store, opts Options) *Manager {
	if opts.LandingRoute == "" {
		opts.LandingRoute = "/"
	}
	if opts.LoginRoute == "" {
		opts.LoginRoute = "/login"
	}
	if opts.MinPasswordLength <= 0 {
		opts.MinPasswordLength = 8
	}
	if opts.RestorePolicy == "" {
		opts.RestorePolicy = RestoreExpiry
	}
	if opts.RestorePolicy == RestoreJWKS && opts.Verifier == nil {
		slog.Warn("restore policy jwks requires a verifier, falling back to expiry")
		opts.RestorePolicy = RestoreExpiry
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Manager{
		backend: backend,
		store:   st,
		opts:    opts,
	}
}

// Current returns a copy of the current session.
func (m *Manager) Current() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// IsAuthenticated reports whether a token is held. It performs no I/O.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Token != ""
}

// Token returns the current bearer token, if any.
func (m *Manager) Token() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Token, m.session.Token != ""
}

// LandingRoute returns the route shown after login or registration.
func (m *Manager) LandingRoute() string {
	return m.opts.LandingRoute
}

// LoginRoute returns the route unauthenticated users are sent to.
func (m *Manager) LoginRoute() string {
	return m.opts.LoginRoute
}

// Login exchanges credentials for a session. On success the session is
// persisted, listeners are notified and the landing route is navigated to.
// On failure the current session is left untouched.
func (m *Manager) Login(ctx context.Context, username, password string) (Session, error) {
	if !m.busy.CompareAndSwap(false, true) {
		m.opts.Metrics.ObserveSession(opLogin, "busy", 0)
		return Session{}, ErrOperationInProgress
	}
	defer m.busy.Store(false)

	start := time.Now()
	s, err := m.login(ctx, username, password)
	m.opts.Metrics.ObserveSession(opLogin, result(err), time.Since(start))
	if err != nil {
		slog.Info("login failed", // #nosec G706 -- username sanitized
			"username", logsanitize.Sanitize(username),
			"error", err,
		)
		return Session{}, err
	}

	slog.Info("logged in", "username", logsanitize.Sanitize(s.Username), "user_id", logsanitize.Sanitize(s.UserID)) // #nosec G706 -- values sanitized
	m.transitioned(Authenticated)
	m.navigate(m.opts.LandingRoute)
	return s, nil
}

func (m *Manager) login(ctx context.Context, username, password string) (Session, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return Session{}, &AuthenticationError{Message: "Username and password are required"}
	}

	resp, err := m.backend.Login(ctx, username, password)
	if err != nil {
		return Session{}, classify(err, opLogin)
	}

	s, err := sessionFrom(resp, username, opLogin)
	if err != nil {
		return Session{}, err
	}
	if err := m.commit(s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Register creates an account and signs it in. Client-side checks run
// before any network call. When the backend answers without a token the
// Manager logs in with the same credentials.
func (m *Manager) Register(ctx context.Context, in RegisterInput) (Session, error) {
	if !m.busy.CompareAndSwap(false, true) {
		m.opts.Metrics.ObserveSession(opRegister, "busy", 0)
		return Session{}, ErrOperationInProgress
	}
	defer m.busy.Store(false)

	start := time.Now()
	s, err := m.register(ctx, in)
	m.opts.Metrics.ObserveSession(opRegister, result(err), time.Since(start))
	if err != nil {
		slog.Info("registration failed", // #nosec G706 -- username sanitized
			"username", logsanitize.Sanitize(in.Username),
			"error", err,
		)
		return Session{}, err
	}

	slog.Info("registered", "username", logsanitize.Sanitize(s.Username), "user_id", logsanitize.Sanitize(s.UserID)) // #nosec G706 -- values sanitized
	m.transitioned(Authenticated)
	m.navigate(m.opts.LandingRoute)
	return s, nil
}

func (m *Manager) register(ctx context.Context, in RegisterInput) (Session, error) {
	if err := m.checkRegistration(in); err != nil {
		return Session{}, err
	}

	resp, err := m.backend.Register(ctx, in.Username, in.Email, in.Password)
	if err != nil {
		return Session{}, classify(err, opRegister)
	}

	if resp == nil || resp.Token == "" {
		slog.Debug("register returned no token, logging in")
		return m.login(ctx, in.Username, in.Password)
	}

	s, err := sessionFrom(resp, in.Username, opRegister)
	if err != nil {
		return Session{}, err
	}
	if err := m.commit(s); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (m *Manager) checkRegistration(in RegisterInput) error {
	if strings.TrimSpace(in.Username) == "" || strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return &RegistrationError{Message: "Username, email and password are required"}
	}
	if in.ConfirmPassword == "" {
		return &RegistrationError{Message: "Please confirm your password"}
	}
	if in.Password != in.ConfirmPassword {
		return &RegistrationError{Message: "Passwords do not match"}
	}
	if len(in.Password) < m.opts.MinPasswordLength {
		return &RegistrationError{Message: passwordTooShort(m.opts.MinPasswordLength)}
	}
	return nil
}

// Logout clears the session from memory and the store and navigates to
// the login route. It is idempotent and never fails; storage errors are
// logged.
func (m *Manager) Logout() {
	start := time.Now()
	was := m.clear(opLogout)
	m.opts.Metrics.ObserveSession(opLogout, "success", time.Since(start))
	if was {
		slog.Info("logged out")
		m.transitioned(Unauthenticated)
	}
	m.navigate(m.opts.LoginRoute)
}

// Invalidate ends the session after the backend rejected tok. A rejection
// of a token that is no longer current (the user logged in again while the
// request was in flight) is ignored.
func (m *Manager) Invalidate(tok, reason string) {
	m.mu.Lock()
	current := tok != "" && m.session.Token == tok
	if current {
		m.clearLocked(opInvalidate)
	}
	m.mu.Unlock()

	if !current {
		slog.Debug("ignoring rejection of a replaced token", "token", logsanitize.Token(tok))
		return
	}
	m.opts.Metrics.ObserveSession(opInvalidate, "success", 0)
	slog.Warn("session invalidated", "reason", logsanitize.Field(reason)) // #nosec G706 -- reason sanitized
	m.transitioned(Unauthenticated)
	m.navigate(m.opts.LoginRoute)
}

// Validate asks the backend whether the current token is still accepted.
// A rejection invalidates the session and returns (false, nil). A network
// failure keeps the session and returns the error.
func (m *Manager) Validate(ctx context.Context) (bool, error) {
	tok, ok := m.Token()
	if !ok {
		return false, nil
	}

	start := time.Now()
	err := m.backend.Validate(ctx, tok)
	switch {
	case err == nil:
		m.opts.Metrics.ObserveSession(opValidate, "success", time.Since(start))
		return true, nil
	case isRejection(err):
		m.opts.Metrics.ObserveSession(opValidate, "rejected", time.Since(start))
		m.Invalidate(tok, "token rejected by backend")
		return false, nil
	default:
		nerr := &NetworkError{Message: "token validation failed", Err: err}
		m.opts.Metrics.ObserveSession(opValidate, result(nerr), time.Since(start))
		return false, nerr
	}
}

// commit persists s and then installs it in memory, under the write lock so
// readers never observe memory and store disagreeing. On a storage failure
// every key is rolled back and the in-memory session is left unchanged.
func (m *Manager) commit(s Session) error {
	values := map[string]string{
		KeyToken:    s.Token,
		KeyUserID:   s.UserID,
		KeyUsername: s.Username,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if bs, ok := m.store.(store.BatchSetter); ok {
		if err := bs.SetAll(values); err != nil {
			return &StorageError{Err: err}
		}
	} else {
		for _, k := range sessionKeys {
			if err := m.store.Set(k, values[k]); err != nil {
				m.rollbackLocked()
				return &StorageError{Err: err}
			}
		}
	}

	m.session = s
	return nil
}

// rollbackLocked puts the previous session back into the store after a
// partial write. Caller holds m.mu.
func (m *Manager) rollbackLocked() {
	prev := m.session
	var err error
	if prev.Authenticated() {
		for k, v := range map[string]string{KeyToken: prev.Token, KeyUserID: prev.UserID, KeyUsername: prev.Username} {
			if serr := m.store.Set(k, v); serr != nil {
				err = serr
			}
		}
	} else {
		err = m.store.Remove(sessionKeys...)
	}
	if err != nil {
		slog.Error("failed to roll back session store", "error", err)
	}
}

// clear empties memory and store. It reports whether a session was held.
func (m *Manager) clear(op string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clearLocked(op)
}

// clearIdle clears the store only while no session is held in memory, so
// a login that committed in the meantime survives. Used by restore.
func (m *Manager) clearIdle(op, stored string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.Token != "" && m.session.Token != stored {
		slog.Debug("session replaced during restore, keeping it", "op", op)
		return
	}
	m.clearLocked(op)
}

// clearLocked is clear with m.mu held.
func (m *Manager) clearLocked(op string) bool {
	was := m.session.Authenticated()
	m.session = Session{}
	if err := m.store.Remove(sessionKeys...); err != nil {
		slog.Error("failed to clear session store", "op", op, "error", err)
	}
	return was
}

func (m *Manager) transitioned(to State) {
	m.opts.Metrics.SetAuthenticated(to == Authenticated)
	if m.opts.OnChange != nil {
		m.opts.OnChange(to)
	}
}

func (m *Manager) navigate(route string) {
	if m.opts.Navigate != nil {
		m.opts.Navigate(route)
	}
}

// sessionFrom builds a Session from a backend answer. The user id is taken
// from the answer or, failing that, from the token's "sub" claim.
func sessionFrom(resp *authapi.AuthResponse, submitted, op string) (Session, error) {
	if resp == nil || resp.Token == "" {
		return Session{}, &InvalidTokenError{Op: op, Message: "backend returned no token"}
	}

	claims, decodeErr := token.Decode(resp.Token)

	userID := resp.UserID
	if userID == "" {
		if decodeErr != nil {
			return Session{}, &InvalidTokenError{Op: op, Message: "cannot derive user id", Err: decodeErr}
		}
		if claims.Subject == "" {
			return Session{}, &InvalidTokenError{Op: op, Message: "cannot derive user id", Err: token.ErrNoSubject}
		}
		userID = claims.Subject
	}

	username := resp.Username
	if username == "" && claims != nil {
		username = claims.Username
	}
	if username == "" {
		username = submitted
	}

	s := Session{Token: resp.Token, UserID: userID, Username: username}
	if claims != nil {
		s.ExpiresAt = claims.ExpiresAt
	}
	return s, nil
}

// classify maps a backend error onto the session error taxonomy.
func classify(err error, op string) error {
	var se *authapi.StatusError
	if errors.As(err, &se) && se.Rejected() {
		msg := se.Message
		if op == opRegister {
			if msg == "" {
				msg = msgRegistrationFailed
			}
			return &RegistrationError{Message: msg, Err: err}
		}
		if msg == "" {
			msg = msgLoginFailed
		}
		return &AuthenticationError{Message: msg, Err: err}
	}
	return &NetworkError{Message: op + " request failed", Err: err}
}

func isRejection(err error) bool {
	var se *authapi.StatusError
	return errors.As(err, &se) && se.Rejected()
}

// result labels err for metrics.
func result(err error) string {
	var (
		authErr  *AuthenticationError
		regErr   *RegistrationError
		tokErr   *InvalidTokenError
		netErr   *NetworkError
		storeErr *StorageError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &authErr):
		return "auth_error"
	case errors.As(err, &regErr):
		return "registration_error"
	case errors.As(err, &tokErr):
		return "invalid_token"
	case errors.As(err, &netErr):
		return "network_error"
	case errors.As(err, &storeErr):
		return "storage_error"
	default:
		return "error"
	}
}
