package auth

import (
	"time"

	"github.com/haven-crm/haven/internal/rbac"
)

// User represents an authenticated user account.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Membership links a user to an organization with a role.
type Membership struct {
	UserID         string
	OrganizationID string
	Role           rbac.Role
	CreatedAt      time.Time
}
