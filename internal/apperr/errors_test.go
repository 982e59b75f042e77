package apperr

import (
	"errors"
	"testing"
)

func TestValidationMatchesKind(t *testing.T) {
	err := Validation("amount", "must be greater than 0")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if err.Error() != "amount: must be greater than 0" {
		t.Fatalf("unexpected message %q", err.Error())
	}

	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "amount" {
		t.Fatalf("expected *ValidationError with field, got %#v", err)
	}
}

func TestStorageKeepsCause(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := Storage("insert order", cause)
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be preserved")
	}
	if Storage("noop", nil) != nil {
		t.Fatalf("nil error must stay nil")
	}
}
