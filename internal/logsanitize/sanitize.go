// Package logsanitize cleans untrusted and secret values before they reach a log line.
package logsanitize

import (
	"strings"
	"unicode/utf8"
)

// MaxField is the longest value Field lets through.
const MaxField = 256

// Sanitize replaces control characters with '_' (CWE-117).
//
// Replaced ranges:
//   - C0 controls 0x00-0x1F (except horizontal tab 0x09)
//   - DEL 0x7F and C1 controls 0x80-0x9F
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' {
			return '_'
		}
		if r >= 0x7f && r <= 0x9f {
			return '_'
		}
		return r
	}, s)
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return string([]rune(s)[:n])
	}
	return string([]rune(s)[:n-3]) + "..."
}

// Field sanitizes and truncates a free-form value such as a backend
// error message.
func Field(s string) string {
	return Truncate(Sanitize(s), MaxField)
}

// Token masks a bearer token, keeping only a short prefix and suffix so
// two log lines can still be correlated.
func Token(tok string) string {
	if tok == "" {
		return ""
	}
	if len(tok) <= 12 {
		return "[redacted]"
	}
	return Sanitize(tok[:4]) + "..." + Sanitize(tok[len(tok)-4:])
}
