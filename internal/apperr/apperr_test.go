package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestUnavailableWrapsCause(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := Unavailable("insert item", cause)

	if !errors.Is(err, ErrStoreUnavailable) {
		t.Error("expected ErrStoreUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be preserved")
	}
	if !Retryable(err) {
		t.Error("store failures should be retryable")
	}
}

func TestUnavailableKeepsCategory(t *testing.T) {
	err := Unavailable("join", fmt.Errorf("lookup: %w", ErrInvalidInviteCode))
	if errors.Is(err, ErrStoreUnavailable) {
		t.Error("categorized error must not be re-wrapped as unavailable")
	}
	if !errors.Is(err, ErrInvalidInviteCode) {
		t.Error("expected ErrInvalidInviteCode")
	}
}

func TestUnavailableNil(t *testing.T) {
	if err := Unavailable("noop", nil); err != nil {
		t.Errorf("got %v, want nil", err)
	}
}

func TestValidationNotRetryable(t *testing.T) {
	err := Validation("name is required")
	if !errors.Is(err, ErrValidationFailed) {
		t.Error("expected ErrValidationFailed")
	}
	if Retryable(err) {
		t.Error("validation errors must not be retryable")
	}
	if err.Error() != "validation failed: name is required" {
		t.Errorf("message = %q", err.Error())
	}
}
