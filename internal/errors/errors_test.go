// Package errors provides unit tests for error codes and classification.
package errors

import (
	"fmt"
	"testing"
)

func TestAppErrorError(t *testing.T) {
	err := New(ErrStorageUnavailable, "cannot open store")
	want := "[STORAGE_UNAVAILABLE] cannot open store"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
}

func TestAppErrorWrapped(t *testing.T) {
	inner := fmt.Errorf("disk full")
	err := Wrap(ErrStorageUnavailable, "cannot open store", inner)

	want := "[STORAGE_UNAVAILABLE] cannot open store: disk full"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}

	if err.Unwrap() != inner {
		t.Error("Expected Unwrap to return the inner error")
	}
}

func TestIsUnwrapsWrappedErrors(t *testing.T) {
	err := fmt.Errorf("push failed: %w", New(ErrAuthFailed, "token expired"))

	if !Is(err, ErrAuthFailed) {
		t.Error("Expected Is to find code through fmt.Errorf wrapping")
	}
	if Is(err, ErrTransient) {
		t.Error("Expected Is to reject a non-matching code")
	}
}

func TestCode(t *testing.T) {
	if got := Code(New(ErrVersionConflict, "stale")); got != ErrVersionConflict {
		t.Errorf("Expected VERSION_CONFLICT, got %s", got)
	}
	if got := Code(fmt.Errorf("plain error")); got != ErrInternal {
		t.Errorf("Expected INTERNAL_ERROR for plain errors, got %s", got)
	}
}

func TestFromStatusCode(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorCode
	}{
		{400, ErrInvalidPayload},
		{401, ErrAuthFailed},
		{403, ErrAuthFailed},
		{404, ErrEntityGone},
		{409, ErrVersionConflict},
		{413, ErrPayloadTooLarge},
		{422, ErrInvalidPayload},
		{500, ErrTransient},
		{503, ErrTransient},
		{418, ErrInternal},
	}

	for _, tt := range tests {
		if got := FromStatusCode(tt.status); got != tt.want {
			t.Errorf("FromStatusCode(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestClassificationHelpers(t *testing.T) {
	transient := New(ErrTransient, "gateway timeout")
	auth := New(ErrAuthFailed, "unauthorized")
	conflict := New(ErrVersionConflict, "version moved")
	gone := New(ErrEntityGone, "deleted remotely")

	if !IsTransient(transient) || IsTransient(auth) {
		t.Error("IsTransient misclassified")
	}
	if !IsAuthFailure(auth) || IsAuthFailure(transient) {
		t.Error("IsAuthFailure misclassified")
	}
	if !IsNonRetryable(conflict) || !IsNonRetryable(gone) {
		t.Error("Expected 409 and 404 to be non-retryable")
	}
	if IsNonRetryable(transient) || IsNonRetryable(auth) {
		t.Error("Transient and auth errors must not be non-retryable")
	}
}
