package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNoMembership indicates the user does not belong to the requested organization.
	ErrNoMembership = errors.New("no membership")
)
