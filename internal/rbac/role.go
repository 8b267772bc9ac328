package rbac

import (
	"errors"
	"fmt"
	"strings"
)

// Role identifies a member's privilege level inside an organization.
type Role string

// Roles ordered from most to least privileged.
const (
	RoleOrgOwner Role = "ORG_OWNER"
	RoleAdmin    Role = "ADMIN"
	RoleAgent    Role = "AGENT"
	RoleViewer   Role = "VIEWER"
)

// ErrUnknownRole is returned by ParseRole for identifiers outside the hierarchy.
var ErrUnknownRole = errors.New("rbac: unknown role")

var ranks = map[Role]int{
	RoleViewer:   1,
	RoleAgent:    2,
	RoleAdmin:    3,
	RoleOrgOwner: 4,
}

// Rank returns the position of the role in the hierarchy. Unknown roles rank 0.
func Rank(role Role) int {
	return ranks[role]
}

// Rank is a convenience wrapper around the package level Rank.
func (r Role) Rank() int {
	return Rank(r)
}

// Valid reports whether the role belongs to the hierarchy.
func (r Role) Valid() bool {
	return Rank(r) > 0
}

func (r Role) String() string {
	return string(r)
}

// ParseRole normalises raw input into a Role.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
	return role, nil
}

// AtLeast reports whether role sits at or above required. An unknown required
// role is never satisfied.
func AtLeast(role, required Role) bool {
	needed := Rank(required)
	if needed == 0 {
		return false
	}
	return Rank(role) >= needed
}

// Roles lists every role, highest first.
func Roles() []Role {
	return []Role{RoleOrgOwner, RoleAdmin, RoleAgent, RoleViewer}
}

// AssignableRoles lists the roles the assigner may grant to someone else.
func AssignableRoles(assigner Role) []Role {
	out := make([]Role, 0, len(ranks))
	for _, role := range Roles() {
		if CanAssignRole(assigner, role) {
			out = append(out, role)
		}
	}
	return out
}
