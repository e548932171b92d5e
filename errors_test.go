package rangeserver

import (
	"errors"
	"testing"
)

func TestErrorCodeMatching(t *testing.T) {
	err := NewValidation("update", "r1", ValidationOutOfRange, "row past end boundary")
	if !errors.Is(err, ErrOutOfRange) {
		t.Error("expected errors.Is to match ErrOutOfRange")
	}
	if errors.Is(err, ErrRangeNotFound) {
		t.Error("different validation rule should not match")
	}
}

func TestWrapPreservesCode(t *testing.T) {
	inner := NewValidation("update", "r1", ValidationClockSkew, "timestamp ahead of server clock")
	wrapped := Wrap("replay_update", "r1", inner)

	if wrapped.Code != CodeValidation || wrapped.Validation != ValidationClockSkew {
		t.Fatalf("wrap lost classification: %+v", wrapped)
	}
	if !errors.Is(wrapped, ErrClockSkew) {
		t.Error("wrapped error should still match ErrClockSkew")
	}
}

func TestWrapClassifiesPlainError(t *testing.T) {
	wrapped := Wrap("fetch_scanblock", "r2", errors.New("connection reset by peer"))
	if wrapped.Code != CodeTransientIO {
		t.Errorf("plain error should default to CodeTransientIO, got %s", wrapped.Code)
	}
	if !Retryable(wrapped) {
		t.Error("transient I/O errors should be retryable")
	}
}

func TestRetryableOnlyTimeoutAndTransient(t *testing.T) {
	if Retryable(ErrOutOfRange) {
		t.Error("validation errors must not be retryable")
	}
	if Retryable(ErrFatal) {
		t.Error("fatal errors must not be retryable")
	}
	if !Retryable(ErrTimeout) {
		t.Error("timeout must be retryable")
	}
}

func TestIsValidation(t *testing.T) {
	err := NewValidation("drop_range", "r3", ValidationRangeAlreadyLoaded, "")
	if !IsValidation(err, ValidationRangeAlreadyLoaded) {
		t.Error("IsValidation should match on the same sub-rule")
	}
	if IsValidation(err, ValidationTableDropped) {
		t.Error("IsValidation should not match a different sub-rule")
	}
}

func TestErrorStringIncludesContext(t *testing.T) {
	err := NewValidation("update", "r1", ValidationGenerationMismatch, "stale schema generation")
	if err.Error() == "" {
		t.Fatal("Error() returned empty string")
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if Wrap("update", "r1", nil) != nil {
		t.Error("Wrap(nil) must return nil")
	}
}