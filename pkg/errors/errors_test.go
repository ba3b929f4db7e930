package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppError_ErrorIncludesCodeAndMessage(t *testing.T) {
	err := NewInvalidInputError("question is required")
	want := "[INVALID_INPUT] question is required"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}

func TestAppError_ErrorIncludesCauseWhenPresent(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewInternalErrorWithCause("failed to reach provider", cause)
	if err.Error() != "[INTERNAL_ERROR] failed to reach provider: connection refused" {
		t.Fatalf("unexpected error string: %q", err.Error())
	}
}

func TestAppError_UnwrapExposesCause(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := NewInternalErrorWithCause("wrapped", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(NewNotFoundError("project missing")) {
		t.Fatal("expected NewNotFoundError to be classified as not found")
	}
	if IsNotFound(NewInvalidInputError("bad request")) {
		t.Fatal("invalid input error must not be classified as not found")
	}
	if IsNotFound(fmt.Errorf("plain error")) {
		t.Fatal("a non-AppError must not be classified as not found")
	}
}

func TestIsInvalidInput(t *testing.T) {
	if !IsInvalidInput(NewInvalidInputError("bad request")) {
		t.Fatal("expected NewInvalidInputError to be classified as invalid input")
	}
	if IsInvalidInput(NewNotFoundError("missing")) {
		t.Fatal("not found error must not be classified as invalid input")
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(NewAlreadyExistsError("dup")) != CodeAlreadyExists {
		t.Fatal("expected CodeAlreadyExists for NewAlreadyExistsError")
	}
	if CodeOf(fmt.Errorf("plain error")) != CodeInternal {
		t.Fatal("expected a plain error to default to CodeInternal")
	}
}
