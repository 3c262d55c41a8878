package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication & Authorization
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"
	ErrCodePathTraversal   ErrorCode = "PATH_TRAVERSAL"

	// Resource
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeCapacityExceeded  ErrorCode = "CAPACITY_EXCEEDED"
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Pairing
	ErrCodeInvalidPIN    ErrorCode = "INVALID_PIN"
	ErrCodePINExpired    ErrorCode = "PIN_EXPIRED"
	ErrCodeAlreadyPaired ErrorCode = "ALREADY_PAIRED"

	// Transfer
	ErrCodeSizeMismatch   ErrorCode = "SIZE_MISMATCH"
	ErrCodeTransferFailed ErrorCode = "TRANSFER_FAILED"

	// Commands
	ErrCodeUnknownCommand ErrorCode = "UNKNOWN_COMMAND"
	ErrCodeCommandFailed  ErrorCode = "COMMAND_FAILED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func Conflict(message string) *AppError {
	return New(ErrCodeConflict, message)
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func PathTraversal(name string) *AppError {
	return New(ErrCodePathTraversal, "Invalid file name").WithDetails(map[string]string{"name": name})
}

func CapacityExceeded(limit int) *AppError {
	return New(ErrCodeCapacityExceeded, fmt.Sprintf("Maximum concurrent sessions (%d) reached", limit))
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func InvalidPIN() *AppError {
	return New(ErrCodeInvalidPIN, "Invalid PIN")
}

func PINExpired() *AppError {
	return New(ErrCodePINExpired, "PIN has expired")
}

func AlreadyPaired() *AppError {
	return New(ErrCodeAlreadyPaired, "Session is already paired")
}

func SizeMismatch(expected, actual int64) *AppError {
	return New(ErrCodeSizeMismatch, "File size mismatch").WithDetails(map[string]int64{
		"expected": expected,
		"actual":   actual,
	})
}

func TransferFailed(cause error) *AppError {
	return Wrap(ErrCodeTransferFailed, "Transfer failed", cause)
}

func UnknownCommand(command string) *AppError {
	return New(ErrCodeUnknownCommand, fmt.Sprintf("Unknown command: %s", command))
}

func CommandFailed(command string, cause error) *AppError {
	return Wrap(ErrCodeCommandFailed, fmt.Sprintf("Failed to execute command: %s", command), cause)
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}
