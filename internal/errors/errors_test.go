package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeNotFound, "Session not found")
		assert.Equal(t, "NOT_FOUND: Session not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("disk full")
		err := Wrap(ErrCodeTransferFailed, "Transfer failed", cause)
		assert.Contains(t, err.Error(), "TRANSFER_FAILED")
		assert.Contains(t, err.Error(), "Transfer failed")
		assert.Contains(t, err.Error(), "disk full")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := map[string]string{"field": "pin"}
		err := New(ErrCodeValidation, "Validation failed").WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"Unauthorized", func() *AppError { return Unauthorized("test") }, ErrCodeUnauthorized},
		{"Forbidden", func() *AppError { return Forbidden("test") }, ErrCodeForbidden},
		{"NotFound", func() *AppError { return NotFound("File") }, ErrCodeNotFound},
		{"Conflict", func() *AppError { return Conflict("test") }, ErrCodeConflict},
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation},
		{"InvalidInput", func() *AppError { return InvalidInput("pin", "must be 4 digits") }, ErrCodeInvalidInput},
		{"MissingRequired", func() *AppError { return MissingRequired("pin") }, ErrCodeMissingRequired},
		{"PathTraversal", func() *AppError { return PathTraversal("../etc/passwd") }, ErrCodePathTraversal},
		{"CapacityExceeded", func() *AppError { return CapacityExceeded(4) }, ErrCodeCapacityExceeded},
		{"RateLimitExceeded", func() *AppError { return RateLimitExceeded() }, ErrCodeRateLimitExceeded},
		{"InvalidPIN", func() *AppError { return InvalidPIN() }, ErrCodeInvalidPIN},
		{"PINExpired", func() *AppError { return PINExpired() }, ErrCodePINExpired},
		{"AlreadyPaired", func() *AppError { return AlreadyPaired() }, ErrCodeAlreadyPaired},
		{"SizeMismatch", func() *AppError { return SizeMismatch(10, 5) }, ErrCodeSizeMismatch},
		{"TransferFailed", func() *AppError { return TransferFailed(nil) }, ErrCodeTransferFailed},
		{"UnknownCommand", func() *AppError { return UnknownCommand("reboot") }, ErrCodeUnknownCommand},
		{"CommandFailed", func() *AppError { return CommandFailed("lock", nil) }, ErrCodeCommandFailed},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor()
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestDatabase(t *testing.T) {
	t.Run("wraps database error", func(t *testing.T) {
		cause := errors.New("database is locked")
		err := Database(cause)
		assert.Equal(t, ErrCodeDatabase, err.Code)
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestSizeMismatchDetails(t *testing.T) {
	err := SizeMismatch(100, 42)
	assert.Equal(t, map[string]int64{"expected": 100, "actual": 42}, err.Details)
}

func TestIsAppError(t *testing.T) {
	t.Run("returns true for AppError", func(t *testing.T) {
		assert.True(t, IsAppError(New(ErrCodeNotFound, "test")))
	})

	t.Run("returns false for standard error", func(t *testing.T) {
		assert.False(t, IsAppError(errors.New("standard error")))
	})

	t.Run("returns true for AppError wrapped with %w", func(t *testing.T) {
		wrapped := fmt.Errorf("verify: %w", InvalidPIN())
		assert.True(t, IsAppError(wrapped))
		assert.Equal(t, ErrCodeInvalidPIN, GetCode(wrapped))
	})
}

func TestAsAppError(t *testing.T) {
	t.Run("extracts AppError", func(t *testing.T) {
		original := New(ErrCodeNotFound, "File not found")
		extracted, ok := AsAppError(original)
		assert.True(t, ok)
		assert.Equal(t, original, extracted)
	})

	t.Run("returns false for non-AppError", func(t *testing.T) {
		extracted, ok := AsAppError(errors.New("standard error"))
		assert.False(t, ok)
		assert.Nil(t, extracted)
	})
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, GetCode(New(ErrCodeNotFound, "test")))
	assert.Equal(t, ErrCodeInternal, GetCode(errors.New("standard error")))
}

func TestHasCode(t *testing.T) {
	assert.True(t, HasCode(PINExpired(), ErrCodePINExpired))
	assert.False(t, HasCode(InvalidPIN(), ErrCodePINExpired))
	assert.False(t, HasCode(nil, ErrCodeInternal))
}

func TestNotFoundMessage(t *testing.T) {
	assert.Equal(t, "Session not found", NotFound("Session").Message)
	assert.Equal(t, "File not found", NotFound("File").Message)
}
