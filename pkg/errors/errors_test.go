package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	tests := []struct {
		code      ErrorCode
		category  ErrorCategory
		retryable bool
	}{
		{ErrCodeKeyFormat, CategoryKey, false},
		{ErrCodeRecordCorrupt, CategoryStorage, false},
		{ErrCodeStorageWrite, CategoryStorage, true},
		{ErrCodeFetchFailed, CategoryWarming, true},
		{ErrCodeJobTimeout, CategoryWarming, true},
		{ErrCodeUnknownInvalidation, CategoryInvalidation, false},
		{ErrCodeInvalidConfig, CategoryConfiguration, false},
		{ErrCodeClosed, CategoryInternal, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "boom")
			if err.Category != tt.category {
				t.Errorf("category = %s, want %s", err.Category, tt.category)
			}
			if err.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", err.Retryable, tt.retryable)
			}
			if err.Timestamp.IsZero() {
				t.Error("timestamp not set")
			}
		})
	}
}

func TestErrorString(t *testing.T) {
	err := New(ErrCodeKeyFormat, "bad key").
		WithComponent("keycodec").
		WithOperation("parse")

	want := "[keycodec:parse] KEY_FORMAT: bad key"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(ErrCodeStorageWrite, "put failed", cause)

	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if stderrors.Unwrap(err) != cause {
		t.Error("Unwrap should return the cause")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(ErrCodeRecordCorrupt, "first")
	b := New(ErrCodeRecordCorrupt, "second")
	c := New(ErrCodeKeyFormat, "other")

	if !stderrors.Is(a, b) {
		t.Error("errors with the same code should match")
	}
	if stderrors.Is(a, c) {
		t.Error("errors with different codes should not match")
	}
}

func TestWithDetailAndContext(t *testing.T) {
	err := New(ErrCodeSweepPartial, "resident tier unreachable").
		WithDetail("removed", 12).
		WithContext("tier", "resident")

	if err.Details["removed"] != 12 {
		t.Errorf("detail removed = %v, want 12", err.Details["removed"])
	}
	if err.Context["tier"] != "resident" {
		t.Errorf("context tier = %q, want resident", err.Context["tier"])
	}
}
