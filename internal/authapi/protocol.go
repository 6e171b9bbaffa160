package authapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is the normalized answer of login and register.
//
// Two wire shapes are accepted. The flat one:
//
//	{"token": "...", "userId": "42", "username": "alice"}
//
// and the envelope used by the gateway:
//
//	{"success": true, "data": {"access_token": "...", "user": {"id": 42, "username": "alice"}}}
type AuthResponse struct {
	Token    string
	UserID   string
	Username string
}

type flatResponse struct {
	Token       string          `json:"token"`
	AccessToken string          `json:"access_token"`
	UserID      json.RawMessage `json:"userId"`
	Username    string          `json:"username"`
}

type envelope struct {
	Success *bool `json:"success"`
	Data    *struct {
		AccessToken string `json:"access_token"`
		Token       string `json:"token"`
		User        *struct {
			ID       json.RawMessage `json:"id"`
			Username string          `json:"username"`
		} `json:"user"`
	} `json:"data"`
	Message string `json:"message"`
}

// UnmarshalJSON accepts both the flat and the enveloped shapes.
func (r *AuthResponse) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	if env.Data != nil {
		r.Token = env.Data.AccessToken
		if r.Token == "" {
			r.Token = env.Data.Token
		}
		if env.Data.User != nil {
			id, err := idString(env.Data.User.ID)
			if err != nil {
				return fmt.Errorf("user.id: %w", err)
			}
			r.UserID = id
			r.Username = env.Data.User.Username
		}
		return nil
	}

	var flat flatResponse
	if err := json.Unmarshal(b, &flat); err != nil {
		return err
	}
	r.Token = flat.Token
	if r.Token == "" {
		r.Token = flat.AccessToken
	}
	id, err := idString(flat.UserID)
	if err != nil {
		return fmt.Errorf("userId: %w", err)
	}
	r.UserID = id
	r.Username = flat.Username
	return nil
}

// idString accepts a JSON string or number; null and absent give "".
func idString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("expected string or number, got %s", raw)
	}
	return n.String(), nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("auth service returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("auth service returned %d: %s", e.Code, e.Message)
}

// Rejected reports whether the backend refused the request on its merits
// (4xx), as opposed to failing (5xx).
func (e *StatusError) Rejected() bool {
	return e.Code >= 400 && e.Code < 500
}

// ErrorMessage extracts a human-readable message from an error body. The
// auth service answers with plain text ("Invalid credentials"); the gateway
// uses JSON, either {"message": ...}, {"error": "..."} or
// {"error": {"code": ..., "message": ...}}.
func ErrorMessage(body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return ""
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		// Quoted JSON string bodies are unwrapped; anything else is plain text.
		var s string
		if json.Unmarshal(body, &s) == nil {
			return s
		}
		return text
	}

	if raw, ok := obj["error"]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
	}
	if raw, ok := obj["message"]; ok {
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
	}
	return ""
}
