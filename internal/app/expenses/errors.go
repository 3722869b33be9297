package expenses

import "net/http"

// Error is an application-layer error that can be mapped to an HTTP response.
type Error struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotFound     = "EXPENSE_SOURCE_NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"

	CodeIdempotencyKeyReuse   = "IDEMPOTENCY_KEY_REUSE"
	CodeIdempotencyInProgress = "IDEMPOTENCY_REQUEST_IN_PROGRESS"
)

func validationError(details map[string]any) *Error {
	return &Error{
		Status:  http.StatusUnprocessableEntity,
		Code:    CodeValidation,
		Message: "invalid expense source",
		Details: details,
	}
}

func notFoundError(id int64) *Error {
	return &Error{
		Status:  http.StatusNotFound,
		Code:    CodeNotFound,
		Message: "expense source not found",
		Details: map[string]any{"id": id},
	}
}

func keyReuseError() *Error {
	return &Error{
		Status:  http.StatusConflict,
		Code:    CodeIdempotencyKeyReuse,
		Message: "idempotency key reuse with different payload",
	}
}

func inProgressError() *Error {
	return &Error{
		Status:  http.StatusConflict,
		Code:    CodeIdempotencyInProgress,
		Message: "a request with this idempotency key is still in progress",
	}
}
