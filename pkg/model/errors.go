package model

import "fmt"

// ErrorCode represents a structured error code.
type ErrorCode string

const (
	ErrAllocationExhaustedCode ErrorCode = "ALLOCATION_EXHAUSTED"
	ErrLockMisuseCode          ErrorCode = "LOCK_MISUSE"
	ErrAssertionCode           ErrorCode = "ASSERTION_VIOLATION"
	ErrDeadlockCode            ErrorCode = "DEADLOCK"
	ErrInvalidScenarioCode     ErrorCode = "INVALID_SCENARIO"

	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrConflict   ErrorCode = "CONFLICT"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// KernelError is returned (or recorded) when a kernel operation fails.
type KernelError struct {
	Code    ErrorCode
	Message string
	TID     TID // unit that triggered the error, TIDError if none
}

func (e *KernelError) Error() string {
	if e.TID != TIDError {
		return fmt.Sprintf("%s: %s (tid %d)", e.Code, e.Message, e.TID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any KernelError with the same code.
func (e *KernelError) Is(target error) bool {
	t, ok := target.(*KernelError)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrAllocationExhausted = &KernelError{Code: ErrAllocationExhaustedCode, Message: "no storage for a new control block", TID: TIDError}
	ErrLockMisuse          = &KernelError{Code: ErrLockMisuseCode, Message: "lock misuse", TID: TIDError}
	ErrAssertion           = &KernelError{Code: ErrAssertionCode, Message: "assertion violation", TID: TIDError}
	ErrDeadlock            = &KernelError{Code: ErrDeadlockCode, Message: "every unit is blocked and nothing can wake one", TID: TIDError}
	ErrInvalidScenario     = &KernelError{Code: ErrInvalidScenarioCode, Message: "invalid scenario", TID: TIDError}
)

// NewKernelError creates a KernelError for the given unit.
func NewKernelError(code ErrorCode, tid TID, format string, args ...any) *KernelError {
	return &KernelError{Code: code, Message: fmt.Sprintf(format, args...), TID: tid}
}

// APIError is a structured error returned by the inspection API.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// NewValidationError creates an APIError with validation details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: ErrValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// NewInternalError creates an INTERNAL_ERROR APIError.
func NewInternalError(msg string) *APIError {
	return &APIError{Code: ErrInternal, Message: msg}
}

// InvalidTransitionError is raised when a unit is moved between incompatible states.
type InvalidTransitionError struct {
	TID  TID
	From ThreadState
	To   ThreadState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid thread state transition: %s → %s (tid %d)", e.From, e.To, e.TID)
}
