package members

import (
	"time"

	"github.com/haven-crm/haven/internal/action"
	"github.com/haven-crm/haven/internal/rbac"
)

// Invitation statuses.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusExpired  = "expired"
	StatusRevoked  = "revoked"
)

// Event types emitted by member operations.
const (
	EventInvited     = "member.invited"
	EventRoleUpdated = "member.role_updated"
	EventRemoved     = "member.removed"
)

// Member is a user's membership in the bound organization.
type Member struct {
	UserID   string    `json:"userId"`
	Email    string    `json:"email"`
	Role     rbac.Role `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Invitation is a pending offer to join the organization.
type Invitation struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      rbac.Role `json:"role"`
	Status    string    `json:"status"`
	InvitedBy string    `json:"invitedBy"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
	Token     string    `json:"-"`
}

// InviteInput is the payload of members.invite.
type InviteInput struct {
	Email string    `json:"email" validate:"required,email,max=254"`
	Role  rbac.Role `json:"role" validate:"required,oneof=ORG_OWNER ADMIN AGENT VIEWER"`
}

// UpdateRoleInput is the payload of members.update_role.
type UpdateRoleInput struct {
	UserID string    `json:"userId" validate:"required,uuid"`
	Role   rbac.Role `json:"role" validate:"required,oneof=ORG_OWNER ADMIN AGENT VIEWER"`
}

// RemoveInput is the payload of members.remove.
type RemoveInput struct {
	UserID string `json:"userId" validate:"required,uuid"`
}

// ListInput is the payload of members.list.
type ListInput struct{}

// AcceptInput is the payload for accepting an invitation.
type AcceptInput struct {
	Token string `json:"token" validate:"required,uuid"`
}

// Accepted reports the organization joined through an invitation.
type Accepted struct {
	OrganizationID string    `json:"organizationId"`
	Role           rbac.Role `json:"role"`
}

var errLastOwner = action.Invalid(action.FieldErrors{
	"role": {"organization must keep at least one owner"},
})
