package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
	ErrNotFound              = errors.New("not_found")
	ErrNicknameTaken         = errors.New("nickname_taken")
	ErrEmailTaken            = errors.New("email_taken")
	ErrInvalidCredentials    = errors.New("invalid_credentials")
	ErrAccountLocked         = errors.New("account_locked")
	ErrExternalAccountExists = errors.New("external_account_exists")
	ErrVerificationInvalid   = errors.New("verification_invalid")
	ErrResetTokenInvalid     = errors.New("reset_token_invalid")
	ErrResetTokenExpired     = errors.New("reset_token_expired")
	ErrRateLimited           = errors.New("rate_limited")
	ErrValidation            = errors.New("validation")
)

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(fields map[string]string) error {
	return &ValidationError{Fields: fields}
}

// RateLimitedError is returned while a caller is blocked; Until is when the
// block lifts.
type RateLimitedError struct {
	Until time.Time
}

func (e *RateLimitedError) Error() string {
	return "too many attempts, retry after " + e.Until.UTC().Format(time.RFC3339)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// RetryAfter rounds the remaining block up to whole seconds, never below one.
func (e *RateLimitedError) RetryAfter(now time.Time) time.Duration {
	d := e.Until.Sub(now)
	secs := (d + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}
