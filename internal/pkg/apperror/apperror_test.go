package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatchesKind(t *testing.T) {
	err := New(ErrInsufficientStock, "need %d, have %d", 6, 5)

	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatal("expected error to match ErrInsufficientStock")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("did not expect error to match ErrNotFound")
	}
	if err.Error() != "need 6, have 5" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestWrappedErrorKeepsKind(t *testing.T) {
	cause := errors.New("row busy")
	err := fmt.Errorf("sending transfer: %w", Wrap(ErrConflict, cause, "gave up after %d attempts", 3))

	if !errors.Is(err, ErrConflict) {
		t.Fatal("expected wrapped error to match ErrConflict")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if KindOf(err) != ErrConflict {
		t.Errorf("expected conflict kind, got %q", KindOf(err))
	}
	if !IsRetryable(err) {
		t.Error("conflicts must be retryable")
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(errors.New("plain")) != "" {
		t.Error("plain errors have no kind")
	}
	if KindOf(fmt.Errorf("ctx: %w", ErrSessionExpired)) != ErrSessionExpired {
		t.Error("bare kinds should be recognised")
	}
	if IsRetryable(New(ErrInvalidQuantity, "qty must be positive")) {
		t.Error("invalid quantity must not be retryable")
	}
}
