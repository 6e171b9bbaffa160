package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/booktracker/booktracker/internal/logsanitize"
	"github.com/booktracker/booktracker/internal/token"
)

// RestoreSession rebuilds the session from the store, the way a page
// reload reads browser storage. All three keys present hydrate the session
// (subject to the restore policy); a strict subset is treated as corruption
// and every key is removed; none leaves the Manager unauthenticated.
//
// Only storage read failures are returned. A session dropped by the
// restore policy is not an error.
func (m *Manager) RestoreSession(ctx context.Context) error {
	start := time.Now()

	values := make(map[string]string, len(sessionKeys))
	for _, k := range sessionKeys {
		v, ok, err := m.store.Get(k)
		if err != nil {
			m.opts.Metrics.ObserveSession(opRestore, "storage_error", time.Since(start))
			return &StorageError{Err: fmt.Errorf("read %s: %w", k, err)}
		}
		if ok && v != "" {
			values[k] = v
		}
	}

	switch len(values) {
	case 0:
		m.opts.Metrics.ObserveSession(opRestore, "empty", time.Since(start))
		return nil
	case len(sessionKeys):
	default:
		slog.Warn("partial session in store, clearing", "present", len(values))
		m.clearIdle(opRestore, "")
		m.opts.Metrics.ObserveSession(opRestore, "partial", time.Since(start))
		return nil
	}

	s := Session{
		Token:    values[KeyToken],
		UserID:   values[KeyUserID],
		Username: values[KeyUsername],
	}
	claims, decodeErr := token.Decode(s.Token)
	if decodeErr == nil {
		s.ExpiresAt = claims.ExpiresAt
	}

	if keep, reason := m.admit(ctx, s, claims); !keep {
		slog.Info("stored session discarded",
			"policy", string(m.opts.RestorePolicy),
			"reason", reason,
			"token", logsanitize.Token(s.Token),
		)
		m.clearIdle(opRestore, s.Token)
		m.opts.Metrics.ObserveSession(opRestore, "discarded", time.Since(start))
		return nil
	}

	// A login that finished while the stored token was being checked wins.
	m.mu.Lock()
	if m.session.Authenticated() {
		m.mu.Unlock()
		m.opts.Metrics.ObserveSession(opRestore, "superseded", time.Since(start))
		return nil
	}
	m.session = s
	m.mu.Unlock()

	m.opts.Metrics.ObserveSession(opRestore, "success", time.Since(start))
	slog.Debug("session restored", // #nosec G706 -- values sanitized
		"policy", string(m.opts.RestorePolicy),
		"user_id", logsanitize.Sanitize(s.UserID),
		"token", logsanitize.Token(s.Token),
	)
	m.transitioned(Authenticated)
	return nil
}

// admit applies the restore policy to a stored session.
func (m *Manager) admit(ctx context.Context, s Session, claims *token.Claims) (bool, string) {
	switch m.opts.RestorePolicy {
	case RestoreNone:
		return true, ""

	case RestoreBackend:
		err := m.backend.Validate(ctx, s.Token)
		if err == nil {
			return true, ""
		}
		if isRejection(err) {
			return false, "rejected by backend"
		}
		slog.Warn("could not validate stored session, keeping it", "error", err)
		return true, ""

	case RestoreJWKS:
		if err := m.opts.Verifier.Verify(ctx, s.Token); err != nil {
			return false, "signature verification failed"
		}
		return true, ""

	default:
		if claims != nil && claims.Expired(m.opts.Now()) {
			return false, "token expired"
		}
		return true, ""
	}
}
