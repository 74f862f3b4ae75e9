package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with defaults", func(t *testing.T) {
		err := NewError(ErrCodeStorageFull, "quota exceeded")
		if err.Code != ErrCodeStorageFull {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeStorageFull)
		}
		if err.Category != CategoryStorage {
			t.Errorf("Category = %v, want %v", err.Category, CategoryStorage)
		}
		if err.Details == nil {
			t.Error("Details map is nil")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets retryable defaults", func(t *testing.T) {
		if !NewError(ErrCodeStorageBusy, "busy").Retryable {
			t.Error("StorageBusy should be retryable")
		}
		if NewError(ErrCodeCorruption, "bad record").Retryable {
			t.Error("Corruption should not be retryable")
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeQuotaExceeded, CategoryStorage},
		{ErrCodeCorruption, CategoryStorage},
		{ErrCodeLoaderFailure, CategoryData},
		{ErrCodeSerialization, CategoryData},
		{ErrCodeAlreadyStarted, CategoryState},
		{ErrCodeValidationFailed, CategoryOperation},
		{ErrorCode("SOMETHING_ELSE"), CategoryInternal},
	}

	for _, tt := range tests {
		if got := GetCategory(tt.code); got != tt.want {
			t.Errorf("GetCategory(%s) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestCacheError_ErrorString(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeLoaderFailure, "loader returned error").
		WithComponent("engine").
		WithOperation("warm").
		WithKey("price_abc").
		WithCause(fmt.Errorf("datastore unavailable"))

	msg := err.Error()
	for _, want := range []string{"[engine:warm]", "LOADER_FAILURE", "key=price_abc", "datastore unavailable"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestCacheError_IsAndUnwrap(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("disk quota")
	err := Wrap(cause, ErrCodeQuotaExceeded, "write refused")
	wrapped := fmt.Errorf("persistent tier: %w", err)

	if !stderrors.Is(wrapped, NewError(ErrCodeQuotaExceeded, "")) {
		t.Error("errors.Is should match by code")
	}
	if stderrors.Is(wrapped, NewError(ErrCodeCorruption, "")) {
		t.Error("errors.Is should not match a different code")
	}
	if !stderrors.Is(wrapped, cause) {
		t.Error("errors.Is should reach the cause")
	}
	if CodeOf(wrapped) != ErrCodeQuotaExceeded {
		t.Errorf("CodeOf = %s", CodeOf(wrapped))
	}
	if !IsStorageFull(wrapped) {
		t.Error("quota exceeded should count as storage full")
	}
}

func TestHasCode_NestedCause(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrCodeStorageBusy, "locked")
	outer := NewError(ErrCodeStorageFull, "write skipped").WithCause(inner)

	if !HasCode(outer, ErrCodeStorageBusy) {
		t.Error("HasCode should walk nested CacheError causes")
	}
	if !IsRetryable(inner) {
		t.Error("inner error should be retryable")
	}
	if IsRetryable(outer) {
		t.Error("outer storage-full error should not be retryable")
	}
	if Wrap(nil, ErrCodeInternalError, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestCacheError_JSON(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeCorruption, "record failed to decode").WithDetail("bytes", 12)

	var decoded map[string]interface{}
	if jerr := json.Unmarshal([]byte(err.JSON()), &decoded); jerr != nil {
		t.Fatalf("JSON() produced invalid json: %v", jerr)
	}
	if decoded["code"] != string(ErrCodeCorruption) {
		t.Errorf("code = %v", decoded["code"])
	}
}
