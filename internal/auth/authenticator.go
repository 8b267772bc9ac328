package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/haven-crm/haven/internal/action"
	"github.com/haven-crm/haven/internal/rbac"
	"github.com/haven-crm/haven/internal/shared"
)

// MembershipFinder resolves a user's role in an organization.
type MembershipFinder interface {
	Membership(ctx context.Context, userID, organizationID string) (*Membership, error)
}

// SessionAuthenticator builds the Principal from the session user and the
// membership row for the session's active organization. The role is read
// fresh from the database so demotions apply on the next request.
type SessionAuthenticator struct {
	members MembershipFinder
}

// NewSessionAuthenticator constructs a SessionAuthenticator.
func NewSessionAuthenticator(members MembershipFinder) *SessionAuthenticator {
	return &SessionAuthenticator{members: members}
}

type memoKey struct{}

type memo struct {
	once      sync.Once
	principal *action.Principal
	err       error
}

// WithPrincipalMemo makes Authenticate resolve at most once for ctx.
func WithPrincipalMemo(ctx context.Context) context.Context {
	return context.WithValue(ctx, memoKey{}, &memo{})
}

// Authenticate implements action.Authenticator.
func (a *SessionAuthenticator) Authenticate(ctx context.Context) (*action.Principal, error) {
	if m, ok := ctx.Value(memoKey{}).(*memo); ok {
		m.once.Do(func() {
			m.principal, m.err = a.resolve(ctx)
		})
		return m.principal, m.err
	}
	return a.resolve(ctx)
}

func (a *SessionAuthenticator) resolve(ctx context.Context) (*action.Principal, error) {
	sess := shared.SessionFromContext(ctx)
	if sess == nil || sess.User() == "" {
		return nil, action.ErrUnauthenticated
	}
	principal := &action.Principal{ID: sess.User()}
	orgID := sess.Organization()
	if orgID == "" {
		return principal, nil
	}
	m, err := a.members.Membership(ctx, principal.ID, orgID)
	if err != nil {
		if errors.Is(err, shared.ErrNoMembership) {
			return principal, nil
		}
		return nil, err
	}
	principal.OrganizationID = m.OrganizationID
	principal.Role = m.Role
	return principal, nil
}

// ResolveRole adapts the authenticator for rbac.Middleware.
func (a *SessionAuthenticator) ResolveRole(r *http.Request) (rbac.Role, bool, error) {
	principal, err := a.Authenticate(r.Context())
	if err != nil {
		if errors.Is(err, action.ErrUnauthenticated) {
			return "", false, nil
		}
		return "", false, err
	}
	if !principal.HasOrganization() {
		return "", false, nil
	}
	return principal.Role, true, nil
}

var _ action.Authenticator = (*SessionAuthenticator)(nil)
