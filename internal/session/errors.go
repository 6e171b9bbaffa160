package session

import (
	"errors"
	"fmt"
)

// ErrOperationInProgress is returned when Login or Register is called while
// another one is still outstanding.
var ErrOperationInProgress = errors.New("session: another login or registration is in progress")

// Generic messages shown when the backend gives nothing better.
const (
	msgLoginFailed        = "Login failed"
	msgRegistrationFailed = "Registration failed"
	msgNetwork            = "Unable to reach the server. Check your connection and try again."
	msgStorage            = "Could not save your session. Please try again."
	msgInProgress         = "A request is already in progress."
)

// AuthenticationError reports rejected credentials.
type AuthenticationError struct {
	Message string
	Err     error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Message, e.Err)
	}
	return "authentication failed: " + e.Message
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// UserMessage implements Displayable.
func (e *AuthenticationError) UserMessage() string { return e.Message }

// RegistrationError reports a registration rejected by a client-side check
// or by the backend.
type RegistrationError struct {
	Message string
	Err     error
}

func (e *RegistrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("registration failed: %s: %v", e.Message, e.Err)
	}
	return "registration failed: " + e.Message
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// UserMessage implements Displayable.
func (e *RegistrationError) UserMessage() string { return e.Message }

// InvalidTokenError reports a backend answer whose token cannot yield a
// user identifier. It is a backend contract violation, so users only see
// the generic failure message for the operation.
type InvalidTokenError struct {
	Op      string // "login" or "register"
	Message string
	Err     error
}

func (e *InvalidTokenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid token: %s: %v", e.Message, e.Err)
	}
	return "invalid token: " + e.Message
}

func (e *InvalidTokenError) Unwrap() error { return e.Err }

// UserMessage implements Displayable.
func (e *InvalidTokenError) UserMessage() string {
	if e.Op == opRegister {
		return msgRegistrationFailed
	}
	return msgLoginFailed
}

// NetworkError reports a transport failure or a backend that could not
// answer (5xx). The user may retry.
type NetworkError struct {
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("network error: %s: %v", e.Message, e.Err)
	}
	return "network error: " + e.Message
}

func (e *NetworkError) Unwrap() error { return e.Err }

// UserMessage implements Displayable.
func (e *NetworkError) UserMessage() string { return msgNetwork }

// StorageError reports a failure to persist or clear the session.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("session storage: %v", e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// UserMessage implements Displayable.
func (e *StorageError) UserMessage() string { return msgStorage }

// Displayable is implemented by errors that carry a message fit for end
// users.
type Displayable interface {
	UserMessage() string
}

// UserMessage converts err into a message suitable for display. It never
// exposes tokens or transport internals.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrOperationInProgress) {
		return msgInProgress
	}
	var d Displayable
	if errors.As(err, &d) {
		if msg := d.UserMessage(); msg != "" {
			return msg
		}
	}
	return "Something went wrong. Please try again."
}

func passwordTooShort(n int) string {
	return fmt.Sprintf("Password must be at least %d characters", n)
}
