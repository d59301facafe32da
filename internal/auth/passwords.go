package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultPasswordCost = 12
	MinPasswordLength   = 8
	// bcrypt ignores input past 72 bytes; longer passwords are rejected instead
	// of being silently truncated.
	MaxPasswordLength = 72
)

var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

func HashPassword(plaintext string) (string, error) {
	return hashPasswordWithCost(plaintext, DefaultPasswordCost)
}

// VerifyPassword reports whether plaintext matches hash. A malformed hash is
// an error; a mismatch is not.
func VerifyPassword(hash, plaintext string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("verify password: %w", err)
	}
}

func hashPasswordWithCost(plaintext string, cost int) (string, error) {
	if len(plaintext) > MaxPasswordLength {
		return "", ErrPasswordTooLong
	}
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}
