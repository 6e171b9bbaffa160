// Package session manages the client-side BookTracker authentication state:
// the current session triple, its persistence across restarts, and the
// login, register, logout and restore transitions.
package session

import (
	"time"
)

// Persistent store keys. All three are written together and removed
// together.
const (
	KeyToken    = "token"
	KeyUserID   = "userId"
	KeyUsername = "username"
)

var sessionKeys = []string{KeyToken, KeyUserID, KeyUsername}

// Session is the authenticated identity of the current user.
// Either all of Token, UserID and Username are set, or none are.
type Session struct {
	// Token is the opaque bearer credential issued by the backend.
	Token string

	// UserID identifies the signed-in principal, either as returned by the
	// backend or derived from the token's "sub" claim.
	UserID string

	// Username is the display name.
	Username string

	// ExpiresAt comes from the token's "exp" claim when present.
	// It is derived on every hydrate and never persisted on its own.
	ExpiresAt time.Time
}

// Authenticated reports whether s holds a token.
func (s Session) Authenticated() bool {
	return s.Token != ""
}

// State is the coarse session state observed by listeners.
type State int

const (
	Unauthenticated State = iota
	Authenticated
)

func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// RestorePolicy decides how much a stored session is trusted on restore.
type RestorePolicy string

const (
	// RestoreNone trusts the store entirely.
	RestoreNone RestorePolicy = "none"
	// RestoreExpiry drops tokens whose "exp" claim has passed. Tokens
	// without "exp", or that cannot be decoded, are kept.
	RestoreExpiry RestorePolicy = "expiry"
	// RestoreBackend asks the backend to validate the token. A rejection
	// clears the session; an unreachable backend keeps it.
	RestoreBackend RestorePolicy = "backend"
	// RestoreJWKS verifies signature, issuer and expiry against a JWKS.
	RestoreJWKS RestorePolicy = "jwks"
)

// RegisterInput carries the registration form.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	// ConfirmPassword must repeat Password.
	ConfirmPassword string
}
