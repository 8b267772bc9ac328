package action

import (
	"context"
	"errors"

	"github.com/haven-crm/haven/internal/rbac"
)

// ErrUnauthenticated is returned by authenticators when no caller can be resolved.
var ErrUnauthenticated = errors.New("action: unauthenticated")

// Principal is the authenticated caller, materialised once per request.
type Principal struct {
	ID string
	// OrganizationID is empty until the caller joins an organization.
	OrganizationID string
	Role           rbac.Role
}

// HasOrganization reports whether the principal belongs to an organization.
func (p *Principal) HasOrganization() bool {
	return p != nil && p.OrganizationID != ""
}

// Authenticator resolves the principal for the current request.
type Authenticator interface {
	Authenticate(ctx context.Context) (*Principal, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context) (*Principal, error)

// Authenticate calls f.
func (f AuthenticatorFunc) Authenticate(ctx context.Context) (*Principal, error) {
	return f(ctx)
}
