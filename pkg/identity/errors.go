package identity

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrUnauthorized is returned when the shared registration password does not match.
	ErrUnauthorized = errors.New("invalid registration password")
	// ErrConflict is returned when the email already has an account.
	ErrConflict = errors.New("user already exists")
	// ErrInvalidEmail is returned for an empty email.
	ErrInvalidEmail = errors.New("email required")
	// ErrNoChallenge is returned when no ceremony is pending in the session.
	ErrNoChallenge = errors.New("no ceremony in progress")
	// ErrVerification wraps any failure to verify an attestation or assertion.
	ErrVerification = errors.New("verification failed")
	// ErrInvalidLogin is returned for unknown users, wrong passwords and inactive accounts.
	ErrInvalidLogin = errors.New("invalid credentials")
	// ErrNotFound is returned when a user lookup has no match.
	ErrNotFound = errors.New("user not found")
)

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "duplicate key") || strings.Contains(s, "unique constraint")
}
