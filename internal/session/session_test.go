package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/booktracker/booktracker/internal/authapi"
	"github.com/booktracker/booktracker/internal/store"
)

// fakeBackend records calls and answers from its fields.
type fakeBackend struct {
	mu sync.Mutex

	loginResp    *authapi.AuthResponse
	loginErr     error
	registerResp *authapi.AuthResponse
	registerErr  error
	validateErr  error

	// block, when set, is waited on inside Login.
	block chan struct{}

	// onValidate, when set, runs inside Validate before it answers.
	onValidate func()

	loginCalls    int
	registerCalls int
	validateCalls int
}

func (b *fakeBackend) Login(ctx context.Context, username, password string) (*authapi.AuthResponse, error) {
	b.mu.Lock()
	b.loginCalls++
	block := b.block
	b.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.loginErr != nil {
		return nil, b.loginErr
	}
	return b.loginResp, nil
}

func (b *fakeBackend) Register(ctx context.Context, username, email, password string) (*authapi.AuthResponse, error) {
	b.mu.Lock()
	b.registerCalls++
	b.mu.Unlock()
	if b.registerErr != nil {
		return nil, b.registerErr
	}
	return b.registerResp, nil
}

func (b *fakeBackend) Validate(ctx context.Context, token string) error {
	b.mu.Lock()
	b.validateCalls++
	hook := b.onValidate
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	return b.validateErr
}

func (b *fakeBackend) calls() (login, register, validate int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loginCalls, b.registerCalls, b.validateCalls
}

// failingStore fails Set for one key. It deliberately does not implement
// BatchSetter, so the Manager writes key by key.
type failingStore struct {
	mem     *store.Memory
	failKey string
}

func (s *failingStore) Get(key string) (string, bool, error) {
	return s.mem.Get(key)
}

func (s *failingStore) Remove(keys ...string) error {
	return s.mem.Remove(keys...)
}

func (s *failingStore) Set(key, value string) error {
	if key == s.failKey {
		return errors.New("disk full")
	}
	return s.mem.Set(key, value)
}

// makeTestJWT builds a fake JWT (header.payload.signature) with the given claims payload.
func makeTestJWT(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("failed to marshal claims: %v", err)
	}
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".fakesignature"
}

type recorder struct {
	mu     sync.Mutex
	routes []string
	states []State
}

func (r *recorder) navigate(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

func (r *recorder) onChange(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) lastRoute() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.routes) == 0 {
		return ""
	}
	return r.routes[len(r.routes)-1]
}

func newTestManager(t *testing.T, b Backend, st store.Store, opts Options) (*Manager, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts.Navigate = rec.navigate
	opts.OnChange = rec.onChange
	return NewManager(b, st, opts), rec
}

func assertStored(t *testing.T, st store.Store, want map[string]string) {
	t.Helper()
	for _, k := range sessionKeys {
		got, ok, err := st.Get(k)
		if err != nil {
			t.Fatalf("store.Get(%s) failed: %v", k, err)
		}
		w, present := want[k]
		if ok != present || got != w {
			t.Errorf("store[%s] = %q (present %v), want %q (present %v)", k, got, ok, w, present)
		}
	}
}

func TestLoginDerivesUserIDFromToken(t *testing.T) {
	raw := "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJ1MSJ9.c2ln"
	b := &fakeBackend{loginResp: &authapi.AuthResponse{Token: raw, Username: "alice"}}
	st := store.NewMemory()
	mgr, rec := newTestManager(t, b, st, Options{})

	s, err := mgr.Login(context.Background(), "alice", "correct")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if s.UserID != "u1" {
		t.Errorf("UserID = %s, want u1", s.UserID)
	}
	if !mgr.IsAuthenticated() {
		t.Error("expected authenticated after login")
	}
	if mgr.Current() != s {
		t.Errorf("Current() = %+v, want %+v", mgr.Current(), s)
	}
	assertStored(t, st, map[string]string{KeyToken: raw, KeyUserID: "u1", KeyUsername: "alice"})

	if rec.lastRoute() != "/" {
		t.Errorf("navigated to %q, want /", rec.lastRoute())
	}
	if len(rec.states) != 1 || rec.states[0] != Authenticated {
		t.Errorf("state changes = %v, want [authenticated]", rec.states)
	}
}

func TestLoginUsesSuppliedUserID(t *testing.T) {
	// Opaque token: not a JWT at all.
	b := &fakeBackend{loginResp: &authapi.AuthResponse{Token: "opaque", UserID: "42", Username: "alice"}}
	mgr, _ := newTestManager(t, b, store.NewMemory(), Options{})

	s, err := mgr.Login(context.Background(), "alice", "pw")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if s.UserID != "42" {
		t.Errorf("UserID = %s, want 42", s.UserID)
	}
}

func TestLoginUsernameFallbacks(t *testing.T) {
	t.Run("token claim", func(t *testing.T) {
		raw := makeTestJWT(t, map[string]interface{}{"sub": "u1", "username": "from-token"})
		b := &fakeBackend{loginResp: &authapi.AuthResponse{Token: raw}}
		mgr, _ := newTestManager(t, b, store.NewMemory(), Options{})

		s, err := mgr.Login(context.Background(), "typed", "pw")
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		if s.Username != "from-token" {
			t.Errorf("Username = %s, want from-token", s.Username)
		}
	})

	t.Run("submitted username", func(t *testing.T) {
		raw := makeTestJWT(t, map[string]interface{}{"sub": "u1"})
		b := &fakeBackend{loginResp: &authapi.AuthResponse{Token: raw}}
		mgr, _ := newTestManager(t, b, store.NewMemory(), Options{})

		s, err := mgr.Login(context.Background(), "typed", "pw")
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		if s.Username != "typed" {
			t.Errorf("Username = %s, want typed", s.Username)
		}
	})
}

func TestLoginWrongPassword(t *testing.T) {
	b := &fakeBackend{loginErr: &authapi.StatusError{Code: http.StatusUnauthorized, Message: "Invalid credentials"}}
	st := store.NewMemory()
	mgr, rec := newTestManager(t, b, st, Options{})

	_, err := mgr.Login(context.Background(), "alice", "wrong")

	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthenticationError, got %T: %v", err, err)
	}
	if UserMessage(err) != "Invalid credentials" {
		t.Errorf("UserMessage = %q, want Invalid credentials", UserMessage(err))
	}
	if mgr.IsAuthenticated() {
		t.Error("session must stay unauthenticated")
	}
	if st.Len() != 0 {
		t.Errorf("store should be empty, has %d keys", st.Len())
	}
	if len(rec.routes) != 0 || len(rec.states) != 0 {
		t.Errorf("failed login must not navigate or notify: %v %v", rec.routes, rec.states)
	}
}

func TestLoginRejectedWithoutMessage(t *testing.T) {
	b := &fakeBackend{loginErr: &authapi.StatusError{Code: http.StatusForbidden}}
	mgr, _ := newTestManager(t, b, store.NewMemory(), Options{})

	_, err := mgr.Login(context.Background(), "alice", "wrong")
	if UserMessage(err) != "Login failed" {
		t.Errorf("UserMessage = %q, want Login failed", UserMessage(err))
	}
}

func TestLoginEmptyCredentials(t *testing.T) {
	b := &fakeBackend{}
	mgr, _ := newTestManager(t, b, store.NewMemory(), Options{})

	for _, creds := range [][2]string{{"", "pw"}, {"alice", ""}, {"   ", "pw"}} {
		_, err := mgr.Login(context.Background(), creds[0], creds[1])
		var authErr *AuthenticationError
		if !errors.As(err, &authErr) {
			t.Errorf("Login(%q, %q): expected AuthenticationError, got %v", creds[0], creds[1], err)
		}
	}
	if login, _, _ := b.calls(); login != 0 {
		t.Errorf("backend called %d times, want 0", login)
	}
}

func TestLoginNetworkError(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"transport", errors.New("connection refused")},
		{"server error", &authapi.StatusError{Code: http.StatusBadGateway}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{loginErr: tt.err}
			mgr, _ := newTestManager(t, b, store.NewMemory(), Options{})

			_, err := mgr.Login(context.Background(), "alice", "pw")
			var netErr *NetworkError
			if !errors.As(err, &netErr) {
				t.Fatalf("expected *NetworkError, got %T: %v", err, err)
			}
			if !errors.Is(err, tt.err) {
				t.Error("NetworkError should wrap the cause")
			}
			if mgr.IsAuthenticated() {
				t.Error("session must stay unauthenticated")
			}
		})
	}
}

func TestLoginInvalidToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"not a jwt", "opaque-token"},
		{"no sub", "h." + base64.RawURLEncoding.EncodeToString([]byte(`{"username":"alice"}`)) + ".s"},
		{"bad payload", "h.!!!.s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{loginResp: &authapi.AuthResponse{Token: tt.token, Username: "alice"}}
			st := store.NewMemory()
			mgr, _ := newTestManager(t, b, st, Options{})

			_, err := mgr.Login(context.Background(), "alice", "pw")
			var tokErr *InvalidTokenError
			if !errors.As(err, &tokErr) {
				t.Fatalf("expected *InvalidTokenError, got %T: %v", err, err)
			}
			if UserMessage(err) != "Login failed" {
				t.Errorf("UserMessage = %q, want Login failed", UserMessage(err))
			}
			if mgr.IsAuthenticated() || st.Len() != 0 {
				t.Error("invalid token must not mutate the session")
			}
		})
	}
}

func TestLoginStorageFailureRollsBack(t *testing.T) {
	prev := makeTestJWT(t, map[string]interface{}{"sub": "old"})
	next := makeTestJWT(t, map[string]interface{}{"sub": "new"})

	mem := store.NewMemory()
	st := &failingStore{mem: mem}
	b := &fakeBackend{loginResp: &authapi.AuthResponse{Token: prev, Username: "old"}}
	mgr, _ := newTestManager(t, b, st, Options{})

	if _, err := mgr.Login(context.Background(), "old", "pw"); err != nil {
		t.Fatalf("first Login failed: %v", err)
	}

	st.failKey = KeyUsername
	b.loginResp = &authapi.AuthResponse{Token: next, Username: "new"}

	_, err := mgr.Login(context.Background(), "new", "pw")
	var storeErr *StorageError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected *StorageError, got %T: %v", err, err)
	}

	if got := mgr.Current(); got.Token != prev || got.UserID != "old" {
		t.Errorf("session changed after failed persist: %+v", got)
	}
	assertStored(t, mem, map[string]string{KeyToken: prev, KeyUserID: "old", KeyUsername: "old"})
}

func TestLoginStorageFailureFromEmpty(t *testing.T) {
	mem := store.NewMemory()
	st := &failingStore{mem: mem, failKey: KeyUsername}
	b := &fakeBackend{loginResp: &authapi.AuthResponse{Token: "opaque", UserID: "1", Username: "alice"}}
	mgr, _ := newTestManager(t, b, st, Options{})

	if _, err := mgr.Login(context.Background(), "alice", "pw"); err == nil {
		t.Fatal("expected storage error")
	}
	if mgr.IsAuthenticated() {
		t.Error("session must stay unauthenticated")
	}
	if mem.Len() != 0 {
		t.Errorf("partial write not rolled back: %d keys", mem.Len())
	}
}

func TestOverlappingLoginRejected(t *testing.T) {
	b := &fakeBackend{
		loginResp: &authapi.AuthResponse{Token: "opaque", UserID: "1", Username: "alice"},
		block:     make(chan struct{}),
	}
	mgr, _ := newTestManager(t, b, store.NewMemory(), Options{})

	done := make(chan error, 1)
	go func() {
		_, err := mgr.Login(context.Background(), "alice", "pw")
		done <- err
	}()

	// Wait for the first call to reach the backend.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if login, _, _ := b.calls(); login == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first login never reached the backend")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := mgr.Login(context.Background(), "alice", "pw"); !errors.Is(err, ErrOperationInProgress) {
		t.Errorf("second Login error = %v, want ErrOperationInProgress", err)
	}
	if _, err := mgr.Register(context.Background(), RegisterInput{Username: "a", Email: "a@b", Password: "password1"}); !errors.Is(err, ErrOperationInProgress) {
		t.Errorf("Register error = %v, want ErrOperationInProgress", err)
	}

	close(b.block)
	if err := <-done; err != nil {
		t.Fatalf("first Login failed: %v", err)
	}
	if login, register, _ := b.calls(); login != 1 || register != 0 {
		t.Errorf("backend calls login=%d register=%d, want 1 and 0", login, register)
	}

	// The flag is released afterwards.
	if _, err := mgr.Login(context.Background(), "alice", "pw"); err != nil {
		t.Errorf("Login after completion failed: %v", err)
	}
}

func TestLoginContextCancelled(t *testing.T) {
	b := &fakeBackend{block: make(chan struct{})}
	mgr, _ := newTestManager(t, b, store.NewMemory(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mgr.Login(ctx, "alice", "pw")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
	if mgr.IsAuthenticated() {
		t.Error("cancelled login must not authenticate")
	}
}

func TestRegister(t *testing.T) {
	raw := makeTestJWT(t, map[string]interface{}{"sub": "7"})

	t.Run("token returned", func(t *testing.T) {
		b := &fakeBackend{registerResp: &authapi.AuthResponse{Token: raw, Username: "alice"}}
		st := store.NewMemory()
		mgr, rec := newTestManager(t, b, st, Options{LandingRoute: "/dashboard"})

		s, err := mgr.Register(context.Background(), RegisterInput{
			Username: "alice", Email: "alice@example.com", Password: "password1", ConfirmPassword: "password1",
		})
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if s.UserID != "7" {
			t.Errorf("UserID = %s, want 7", s.UserID)
		}
		if login, register, _ := b.calls(); login != 0 || register != 1 {
			t.Errorf("calls login=%d register=%d, want 0 and 1", login, register)
		}
		assertStored(t, st, map[string]string{KeyToken: raw, KeyUserID: "7", KeyUsername: "alice"})
		if rec.lastRoute() != "/dashboard" {
			t.Errorf("navigated to %q, want /dashboard", rec.lastRoute())
		}
	})

	t.Run("no token chains into login", func(t *testing.T) {
		b := &fakeBackend{
			registerResp: &authapi.AuthResponse{},
			loginResp:    &authapi.AuthResponse{Token: raw, Username: "alice"},
		}
		mgr, _ := newTestManager(t, b, store.NewMemory(), Options{})

		s, err := mgr.Register(context.Background(), RegisterInput{
			Username: "alice", Email: "alice@example.com", Password: "password1",
		})
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if s.UserID != "7" || !mgr.IsAuthenticated() {
			t.Errorf("unexpected session %+v", s)
		}
		if login, register, _ := b.calls(); login != 1 || register != 1 {
			t.Errorf("calls login=%d register=%d, want 1 and 1", login, register)
		}
	})

	t.Run("duplicate username", func(t *testing.T) {
		b := &fakeBackend{registerErr: &authapi.StatusError{Code: http.StatusBadRequest, Message: "Username already taken"}}
		mgr, _ := newTestManager(t, b, store.NewMemory(), Options{})

		_, err := mgr.Register(context.Background(), RegisterInput{
			Username: "alice", Email: "alice@example.com", Password: "password1",
		})
		var regErr *RegistrationError
		if !errors.As(err, &regErr) {
			t.Fatalf("expected *RegistrationError, got %T: %v", err, err)
		}
		if UserMessage(err) != "Username already taken" {
			t.Errorf("UserMessage = %q", UserMessage(err))
		}
		if mgr.IsAuthenticated() {
			t.Error("session must stay unauthenticated")
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		b := &fakeBackend{registerResp: &authapi.AuthResponse{Token: "opaque"}}
		mgr, _ := newTestManager(t, b, store.NewMemory(), Options{})

		_, err := mgr.Register(context.Background(), RegisterInput{
			Username: "alice", Email: "alice@example.com", Password: "password1",
		})
		if UserMessage(err) != "Registration failed" {
			t.Errorf("UserMessage = %q, want Registration failed", UserMessage(err))
		}
	})
}

func TestRegisterPreconditions(t *testing.T) {
	tests := []struct {
		name    string
		in      RegisterInput
		wantMsg string
	}{
		{
			name:    "missing email",
			in:      RegisterInput{Username: "alice", Password: "password1"},
			wantMsg: "Username, email and password are required",
		},
		{
			name:    "missing username",
			in:      RegisterInput{Email: "a@b.c", Password: "password1"},
			wantMsg: "Username, email and password are required",
		},
		{
			name:    "missing confirmation",
			in:      RegisterInput{Username: "alice", Email: "a@b.c", Password: "password1"},
			wantMsg: "Please confirm your password",
		},
		{
			name:    "mismatched confirmation",
			in:      RegisterInput{Username: "alice", Email: "a@b.c", Password: "password1", ConfirmPassword: "password2"},
			wantMsg: "Passwords do not match",
		},
		{
			name:    "short password",
			in:      RegisterInput{Username: "alice", Email: "a@b.c", Password: "short", ConfirmPassword: "short"},
			wantMsg: "Password must be at least 8 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{}
			mgr, _ := newTestManager(t, b, store.NewMemory(), Options{})

			_, err := mgr.Register(context.Background(), tt.in)
			var regErr *RegistrationError
			if !errors.As(err, &regErr) {
				t.Fatalf("expected *RegistrationError, got %T: %v", err, err)
			}
			if regErr.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", regErr.Message, tt.wantMsg)
			}
			if _, register, _ := b.calls(); register != 0 {
				t.Error("preconditions must be checked before the backend is called")
			}
		})
	}
}

func TestLogout(t *testing.T) {
	b := &fakeBackend{loginResp: &authapi.AuthResponse{Token: "opaque", UserID: "1", Username: "alice"}}
	st := store.NewMemory()
	mgr, rec := newTestManager(t, b, st, Options{LoginRoute: "/signin"})

	if _, err := mgr.Login(context.Background(), "alice", "pw"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	mgr.Logout()
	if mgr.IsAuthenticated() {
		t.Error("expected unauthenticated after logout")
	}
	if st.Len() != 0 {
		t.Errorf("store has %d keys after logout", st.Len())
	}
	if rec.lastRoute() != "/signin" {
		t.Errorf("navigated to %q, want /signin", rec.lastRoute())
	}

	// Idempotent
	mgr.Logout()
	if mgr.IsAuthenticated() || st.Len() != 0 {
		t.Error("second logout changed the end state")
	}
	if got := rec.states; len(got) != 2 || got[1] != Unauthenticated {
		t.Errorf("state changes = %v, want one login and one logout", got)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	raw := makeTestJWT(t, map[string]interface{}{"sub": "u1", "exp": time.Now().Add(time.Hour).Unix()})
	b := &fakeBackend{loginResp: &authapi.AuthResponse{Token: raw, Username: "alice"}}
	st := store.NewMemory()

	first, _ := newTestManager(t, b, st, Options{})
	want, err := first.Login(context.Background(), "alice", "pw")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	// Simulate a restart: a new Manager over the same store.
	reloaded, rec := newTestManager(t, b, st, Options{})
	if err := reloaded.RestoreSession(context.Background()); err != nil {
		t.Fatalf("RestoreSession failed: %v", err)
	}

	if got := reloaded.Current(); got != want {
		t.Errorf("restored %+v, want %+v", got, want)
	}
	if login, _, validate := b.calls(); login != 1 || validate != 0 {
		t.Errorf("restore made network calls: login=%d validate=%d", login, validate)
	}
	if len(rec.states) != 1 || rec.states[0] != Authenticated {
		t.Errorf("state changes = %v", rec.states)
	}
}

func TestRestorePartialState(t *testing.T) {
	for _, present := range [][]string{
		{KeyToken},
		{KeyUserID, KeyUsername},
		{KeyToken, KeyUsername},
	} {
		st := store.NewMemory()
		for _, k := range present {
			_ = st.Set(k, "value")
		}
		mgr, _ := newTestManager(t, &fakeBackend{}, st, Options{})

		if err := mgr.RestoreSession(context.Background()); err != nil {
			t.Fatalf("RestoreSession failed: %v", err)
		}
		if mgr.IsAuthenticated() {
			t.Errorf("%v: partial state must not authenticate", present)
		}
		if st.Len() != 0 {
			t.Errorf("%v: expected all keys cleared, %d left", present, st.Len())
		}
	}
}

func TestRestoreEmpty(t *testing.T) {
	mgr, rec := newTestManager(t, &fakeBackend{}, store.NewMemory(), Options{})
	if err := mgr.RestoreSession(context.Background()); err != nil {
		t.Fatalf("RestoreSession failed: %v", err)
	}
	if mgr.IsAuthenticated() || len(rec.states) != 0 {
		t.Error("empty store must leave the manager unauthenticated and silent")
	}
}

func seedStore(t *testing.T, raw string) *store.Memory {
	t.Helper()
	st := store.NewMemory()
	if err := st.SetAll(map[string]string{KeyToken: raw, KeyUserID: "u1", KeyUsername: "alice"}); err != nil {
		t.Fatal(err)
	}
	return st
}

func TestRestorePolicies(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expired := makeTestJWT(t, map[string]interface{}{"sub": "u1", "exp": now.Add(-time.Minute).Unix()})
	fresh := makeTestJWT(t, map[string]interface{}{"sub": "u1", "exp": now.Add(time.Minute).Unix()})
	noExp := makeTestJWT(t, map[string]interface{}{"sub": "u1"})

	rejected := &authapi.StatusError{Code: http.StatusUnauthorized}

	tests := []struct {
		name        string
		policy      RestorePolicy
		token       string
		validateErr error
		verifier    TokenVerifier
		wantAuth    bool
	}{
		{name: "expiry keeps fresh token", policy: RestoreExpiry, token: fresh, wantAuth: true},
		{name: "expiry drops expired token", policy: RestoreExpiry, token: expired, wantAuth: false},
		{name: "expiry keeps token without exp", policy: RestoreExpiry, token: noExp, wantAuth: true},
		{name: "expiry keeps opaque token", policy: RestoreExpiry, token: "opaque", wantAuth: true},
		{name: "none keeps expired token", policy: RestoreNone, token: expired, wantAuth: true},
		{name: "backend accepts", policy: RestoreBackend, token: fresh, wantAuth: true},
		{name: "backend rejects", policy: RestoreBackend, token: fresh, validateErr: rejected, wantAuth: false},
		{name: "backend unreachable keeps", policy: RestoreBackend, token: fresh, validateErr: errors.New("dial tcp: refused"), wantAuth: true},
		{name: "jwks accepts", policy: RestoreJWKS, token: fresh, verifier: verifierFunc(func(string) error { return nil }), wantAuth: true},
		{name: "jwks rejects", policy: RestoreJWKS, token: fresh, verifier: verifierFunc(func(string) error { return errors.New("bad signature") }), wantAuth: false},
		{name: "jwks without verifier falls back to expiry", policy: RestoreJWKS, token: expired, wantAuth: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := seedStore(t, tt.token)
			b := &fakeBackend{validateErr: tt.validateErr}
			mgr, _ := newTestManager(t, b, st, Options{
				RestorePolicy: tt.policy,
				Verifier:      tt.verifier,
				Now:           func() time.Time { return now },
			})

			if err := mgr.RestoreSession(context.Background()); err != nil {
				t.Fatalf("RestoreSession failed: %v", err)
			}
			if got := mgr.IsAuthenticated(); got != tt.wantAuth {
				t.Errorf("IsAuthenticated() = %v, want %v", got, tt.wantAuth)
			}
			if !tt.wantAuth && st.Len() != 0 {
				t.Errorf("discarded session left %d keys in store", st.Len())
			}
		})
	}
}

type verifierFunc func(string) error

func (f verifierFunc) Verify(_ context.Context, raw string) error { return f(raw) }

func TestValidate(t *testing.T) {
	t.Run("unauthenticated", func(t *testing.T) {
		b := &fakeBackend{}
		mgr, _ := newTestManager(t, b, store.NewMemory(), Options{})
		ok, err := mgr.Validate(context.Background())
		if ok || err != nil {
			t.Errorf("Validate() = %v, %v; want false, nil", ok, err)
		}
		if _, _, validate := b.calls(); validate != 0 {
			t.Error("no backend call expected without a session")
		}
	})

	t.Run("rejected invalidates", func(t *testing.T) {
		st := seedStore(t, "opaque")
		b := &fakeBackend{validateErr: &authapi.StatusError{Code: http.StatusUnauthorized}}
		mgr, rec := newTestManager(t, b, st, Options{RestorePolicy: RestoreNone})
		if err := mgr.RestoreSession(context.Background()); err != nil {
			t.Fatal(err)
		}

		ok, err := mgr.Validate(context.Background())
		if ok || err != nil {
			t.Errorf("Validate() = %v, %v; want false, nil", ok, err)
		}
		if mgr.IsAuthenticated() || st.Len() != 0 {
			t.Error("rejected token must clear the session")
		}
		if rec.lastRoute() != "/login" {
			t.Errorf("navigated to %q, want /login", rec.lastRoute())
		}
	})

	t.Run("network failure keeps session", func(t *testing.T) {
		st := seedStore(t, "opaque")
		b := &fakeBackend{validateErr: errors.New("timeout")}
		mgr, _ := newTestManager(t, b, st, Options{RestorePolicy: RestoreNone})
		if err := mgr.RestoreSession(context.Background()); err != nil {
			t.Fatal(err)
		}

		_, err := mgr.Validate(context.Background())
		var netErr *NetworkError
		if !errors.As(err, &netErr) {
			t.Fatalf("expected *NetworkError, got %v", err)
		}
		if !mgr.IsAuthenticated() {
			t.Error("network failure must keep the session")
		}
	})
}

func TestInvalidate(t *testing.T) {
	st := seedStore(t, "opaque")
	mgr, rec := newTestManager(t, &fakeBackend{}, st, Options{RestorePolicy: RestoreNone})
	if err := mgr.RestoreSession(context.Background()); err != nil {
		t.Fatal(err)
	}

	mgr.Invalidate("opaque", "401 from library")
	if mgr.IsAuthenticated() || st.Len() != 0 {
		t.Error("Invalidate must clear memory and store")
	}
	routes := len(rec.routes)

	// No-op when already unauthenticated
	mgr.Invalidate("opaque", "again")
	if len(rec.routes) != routes {
		t.Error("Invalidate without a session must not navigate")
	}
}

func TestInvalidateIgnoresReplacedToken(t *testing.T) {
	b := &fakeBackend{loginResp: &authapi.AuthResponse{Token: "new-token", UserID: "u2", Username: "bob"}}
	st := seedStore(t, "old-token")
	mgr, rec := newTestManager(t, b, st, Options{RestorePolicy: RestoreNone})
	if err := mgr.RestoreSession(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Login(context.Background(), "bob", "password1"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	changes := len(rec.states)

	// A late 401 answering a request sent with the old token.
	mgr.Invalidate("old-token", "401 from analytics")

	cur := mgr.Current()
	if cur.Token != "new-token" || cur.Username != "bob" {
		t.Errorf("session after stale rejection = %+v, want bob/new-token", cur)
	}
	if v, ok, _ := st.Get(KeyToken); !ok || v != "new-token" {
		t.Errorf("stored token = %q, %v; want new-token", v, ok)
	}
	if len(rec.states) != changes {
		t.Error("a stale rejection must not emit a state change")
	}

	mgr.Invalidate("", "no token sent")
	if !mgr.IsAuthenticated() {
		t.Error("an empty token must never match the session")
	}
}

func TestToken(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeBackend{}, seedStore(t, "opaque"), Options{RestorePolicy: RestoreNone})

	if _, ok := mgr.Token(); ok {
		t.Error("expected no token before restore")
	}
	if err := mgr.RestoreSession(context.Background()); err != nil {
		t.Fatal(err)
	}
	if tok, ok := mgr.Token(); !ok || tok != "opaque" {
		t.Errorf("Token() = %q, %v", tok, ok)
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"auth", &AuthenticationError{Message: "Invalid credentials"}, "Invalid credentials"},
		{"registration", &RegistrationError{Message: "Username already taken"}, "Username already taken"},
		{"invalid token login", &InvalidTokenError{Op: opLogin}, "Login failed"},
		{"invalid token register", &InvalidTokenError{Op: opRegister}, "Registration failed"},
		{"network", &NetworkError{Err: errors.New("dial tcp 10.0.0.1: refused")}, msgNetwork},
		{"storage", &StorageError{Err: errors.New("disk full")}, msgStorage},
		{"in progress", ErrOperationInProgress, msgInProgress},
		{"wrapped", errors.Join(errors.New("ctx"), &AuthenticationError{Message: "nope"}), "nope"},
		{"unknown", errors.New("boom"), "Something went wrong. Please try again."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.want {
				t.Errorf("UserMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConcurrentReaders(t *testing.T) {
	b := &fakeBackend{loginResp: &authapi.AuthResponse{Token: "opaque", UserID: "1", Username: "alice"}}
	mgr, _ := newTestManager(t, b, store.NewMemory(), Options{})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := mgr.Current()
				// All-or-nothing: never a token without a user id.
				if (s.Token == "") != (s.UserID == "") {
					t.Errorf("half-populated session observed: %+v", s)
					return
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		if _, err := mgr.Login(context.Background(), "alice", "pw"); err != nil {
			t.Errorf("Login failed: %v", err)
		}
		mgr.Logout()
	}
	close(stop)
	wg.Wait()
}

func TestRejectionAfterReloginKeepsNewSession(t *testing.T) {
	rejected := &authapi.StatusError{Code: http.StatusUnauthorized}

	t.Run("validate", func(t *testing.T) {
		b := &fakeBackend{
			loginResp:   &authapi.AuthResponse{Token: "new-token", UserID: "u2", Username: "bob"},
			validateErr: rejected,
		}
		st := seedStore(t, "old-token")
		mgr, _ := newTestManager(t, b, st, Options{RestorePolicy: RestoreNone})
		if err := mgr.RestoreSession(context.Background()); err != nil {
			t.Fatal(err)
		}
		b.onValidate = func() {
			if _, err := mgr.Login(context.Background(), "bob", "password1"); err != nil {
				t.Errorf("Login failed: %v", err)
			}
		}

		ok, err := mgr.Validate(context.Background())
		if ok || err != nil {
			t.Errorf("Validate() = %v, %v; want false, nil", ok, err)
		}
		if cur := mgr.Current(); cur.Token != "new-token" {
			t.Errorf("rejection of old-token ended the new session: %+v", cur)
		}
	})

	t.Run("restore", func(t *testing.T) {
		b := &fakeBackend{
			loginResp:   &authapi.AuthResponse{Token: "new-token", UserID: "u2", Username: "bob"},
			validateErr: rejected,
		}
		st := seedStore(t, "old-token")
		mgr, _ := newTestManager(t, b, st, Options{RestorePolicy: RestoreBackend})
		b.onValidate = func() {
			if _, err := mgr.Login(context.Background(), "bob", "password1"); err != nil {
				t.Errorf("Login failed: %v", err)
			}
		}

		if err := mgr.RestoreSession(context.Background()); err != nil {
			t.Fatal(err)
		}
		if cur := mgr.Current(); cur.Token != "new-token" {
			t.Errorf("discarding the stored session ended the new one: %+v", cur)
		}
		if v, ok, _ := st.Get(KeyToken); !ok || v != "new-token" {
			t.Errorf("stored token = %q, %v; want new-token", v, ok)
		}
	})

	t.Run("restore accepted", func(t *testing.T) {
		b := &fakeBackend{loginResp: &authapi.AuthResponse{Token: "new-token", UserID: "u2", Username: "bob"}}
		st := seedStore(t, "old-token")
		mgr, _ := newTestManager(t, b, st, Options{RestorePolicy: RestoreBackend})
		b.onValidate = func() {
			if _, err := mgr.Login(context.Background(), "bob", "password1"); err != nil {
				t.Errorf("Login failed: %v", err)
			}
		}

		if err := mgr.RestoreSession(context.Background()); err != nil {
			t.Fatal(err)
		}
		if cur := mgr.Current(); cur.Token != "new-token" || cur.Username != "bob" {
			t.Errorf("restored session overwrote the new login: %+v", cur)
		}
	})
}
