package rbac

// CanViewContent allows any organization member to read tenant data.
func CanViewContent(role Role) bool {
	return AtLeast(role, RoleViewer)
}

// CanCreateContent allows agents and above to create listings, clients and notes.
func CanCreateContent(role Role) bool {
	return AtLeast(role, RoleAgent)
}

// CanEditContent follows the same threshold as creation.
func CanEditContent(role Role) bool {
	return AtLeast(role, RoleAgent)
}

// CanDeleteContent lets admins delete anything and agents delete only what they own.
func CanDeleteContent(role Role, isOwner bool) bool {
	if AtLeast(role, RoleAdmin) {
		return true
	}
	return role == RoleAgent && isOwner
}

// CanManageMembers covers invitations, role changes and removals.
func CanManageMembers(role Role) bool {
	return AtLeast(role, RoleAdmin)
}

// CanAccessBilling is restricted to the organization owner. Admins outrank
// agents but billing is not inherited through the hierarchy.
func CanAccessBilling(role Role) bool {
	return role == RoleOrgOwner
}

// CanAssignRole prevents privilege escalation: a member may only grant roles
// ranked at or below their own.
func CanAssignRole(assigner, target Role) bool {
	if !target.Valid() || !assigner.Valid() {
		return false
	}
	return Rank(target) <= Rank(assigner)
}
