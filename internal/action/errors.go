package action

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/haven-crm/haven/internal/tenant"
)

// Default caller-facing messages.
const (
	msgUnauthorized = "Authentication required"
	msgOrgRequired  = "You must belong to an organization to perform this action"
	msgForbidden    = "You do not have permission to perform this action"
	msgValidation   = "Invalid input"
	msgNotFound     = "Resource not found"
	msgInternal     = "An unexpected error occurred"
)

// pgInsufficientPrivilege is raised when a row-level security check rejects a write.
const pgInsufficientPrivilege = "42501"

// Error is a typed handler failure mapped 1:1 onto an ErrorCode.
type Error struct {
	Code    ErrorCode
	Message string
	Fields  FieldErrors
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NotFound reports a missing resource. Rows belonging to another organization
// are indistinguishable from missing ones.
func NotFound(message string) error {
	if message == "" {
		message = msgNotFound
	}
	return &Error{Code: CodeNotFound, Message: message}
}

// Forbidden reports a permission failure detected inside a handler.
func Forbidden(message string) error {
	if message == "" {
		message = msgForbidden
	}
	return &Error{Code: CodeForbidden, Message: message}
}

// Invalid reports input problems found after schema validation, e.g. a
// uniqueness conflict on a specific field.
func Invalid(fields FieldErrors) error {
	return &Error{Code: CodeValidation, Message: msgValidation, Fields: fields}
}

// Internal wraps an unexpected failure. The cause is logged, never returned.
func Internal(cause error) error {
	return &Error{Code: CodeInternal, Message: msgInternal, cause: cause}
}

// Classify maps a handler error onto the caller-facing taxonomy. Only typed
// errors are inspected; message text is never matched.
func Classify(err error) (ErrorCode, string, FieldErrors) {
	var typed *Error
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &typed):
		if typed.Code == CodeInternal {
			return CodeInternal, msgInternal, nil
		}
		return typed.Code, typed.Message, typed.Fields
	case errors.Is(err, pgx.ErrNoRows):
		return CodeNotFound, msgNotFound, nil
	case errors.As(err, &pgErr) && pgErr.Code == pgInsufficientPrivilege:
		return CodeNotFound, msgNotFound, nil
	case errors.Is(err, tenant.ErrInvalidTenantIdentifier):
		return CodeOrgRequired, msgOrgRequired, nil
	default:
		return CodeInternal, msgInternal, nil
	}
}
