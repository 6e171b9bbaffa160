// Package token reads claims out of BookTracker access tokens.
//
// Decoding here is unverified: the payload is used only to derive display
// values (user id, username) and a client-side expiry hint. The backend
// re-verifies the token on every authenticated request, so nothing decoded
// here is ever used for an authorization decision.
package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformed is returned when the token is not three dot-separated
	// segments with a JSON object in the middle one.
	ErrMalformed = errors.New("token: malformed")

	// ErrNoSubject is returned by Subject when the payload carries no
	// string "sub" claim.
	ErrNoSubject = errors.New("token: no subject claim")
)

// Claims holds the payload fields the client cares about.
type Claims struct {
	// Subject is the "sub" claim; the backend puts the user identifier here.
	Subject string

	// Username is the optional "username" claim.
	Username string

	// ExpiresAt is the "exp" claim; zero when the token carries none.
	ExpiresAt time.Time

	// Raw holds every decoded claim.
	Raw jwt.MapClaims
}

// Expired reports whether the token has an expiry at or before now.
// Tokens without "exp" never expire client side.
func (c *Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// segmentParser decodes base64url segments, tolerating padding.
var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// Decode reads the payload of raw without verifying its signature.
// Only the middle segment is inspected; the header and signature may be
// anything.
func Decode(raw string) (*Claims, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformed, len(parts))
	}

	// Accept the standard alphabet too; some issuers emit it.
	seg := strings.NewReplacer("+", "-", "/", "_").Replace(parts[1])
	payload, err := segmentParser.DecodeSegment(seg)
	if err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrMalformed, err)
	}

	var mc jwt.MapClaims
	if err := json.Unmarshal(payload, &mc); err != nil {
		return nil, fmt.Errorf("%w: parse payload: %v", ErrMalformed, err)
	}
	if mc == nil {
		return nil, fmt.Errorf("%w: payload is not an object", ErrMalformed)
	}

	claims := &Claims{Raw: mc}

	// A non-string "sub" is treated as absent.
	if sub, err := mc.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if name, ok := mc["username"].(string); ok {
		claims.Username = name
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}

	return claims, nil
}

// Subject returns the "sub" claim of raw.
func Subject(raw string) (string, error) {
	claims, err := Decode(raw)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrNoSubject
	}
	return claims.Subject, nil
}
