package action

import "encoding/json"

// ErrorCode is the stable failure taxonomy returned to callers.
type ErrorCode string

// Error codes.
const (
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeForbidden    ErrorCode = "FORBIDDEN"
	CodeValidation   ErrorCode = "VALIDATION_ERROR"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeOrgRequired  ErrorCode = "ORG_REQUIRED"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// Result is the envelope every operation returns: either
// {success: true, data} or {success: false, error, code, fieldErrors?}.
type Result[T any] struct {
	Success     bool        `json:"success"`
	Data        T           `json:"data"`
	Error       string      `json:"error,omitempty"`
	Code        ErrorCode   `json:"code,omitempty"`
	FieldErrors FieldErrors `json:"fieldErrors,omitempty"`
}

// OK wraps a successful value.
func OK[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail builds a failed result.
func Fail[T any](code ErrorCode, message string) Result[T] {
	return Result[T]{Code: code, Error: message}
}

// MarshalJSON emits exactly one of the two wire shapes.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	if r.Success {
		return json.Marshal(struct {
			Success bool `json:"success"`
			Data    T    `json:"data"`
		}{Success: true, Data: r.Data})
	}
	return json.Marshal(struct {
		Success     bool        `json:"success"`
		Error       string      `json:"error"`
		Code        ErrorCode   `json:"code"`
		FieldErrors FieldErrors `json:"fieldErrors,omitempty"`
	}{Error: r.Error, Code: r.Code, FieldErrors: r.FieldErrors})
}
