// Package apperr defines the error categories shared by the stores, the
// identity provider and the domain managers. Callers match with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidationFailed  = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrAlreadyMember     = errors.New("already a member of this household")
	ErrInvalidInviteCode = errors.New("invalid invite code")
)

// Identity provider categories.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountExists      = errors.New("an account with this email already exists")
	ErrWeakPassword       = errors.New("password is too weak")
	ErrNetwork            = errors.New("network error")
	ErrTooManyAttempts    = errors.New("too many failed attempts")
	ErrUnknown            = errors.New("unknown identity error")
)

// Validation wraps a message as ErrValidationFailed.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidationFailed, fmt.Sprintf(format, args...))
}

// Unavailable wraps a failed store call. Nil stays nil, and errors that
// already carry a category are returned unchanged.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if Categorized(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// Retryable reports whether the UI may offer a retry: only store failures
// qualify, validation and permission errors never do.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

var categories = []error{
	ErrValidationFailed, ErrNotFound, ErrUnauthorized, ErrStoreUnavailable,
	ErrAlreadyMember, ErrInvalidInviteCode,
	ErrInvalidCredentials, ErrAccountExists, ErrWeakPassword, ErrNetwork,
	ErrTooManyAttempts, ErrUnknown,
}

// Categorized reports whether err already wraps one of the package sentinels.
func Categorized(err error) bool {
	for _, c := range categories {
		if errors.Is(err, c) {
			return true
		}
	}
	return false
}
