package rbac

import (
	"fmt"
	"strings"
)

// GlobalRole is the account-wide role of a principal
type GlobalRole string

const (
	GlobalAdmin  GlobalRole = "admin"
	GlobalMember GlobalRole = "member"
)

// Valid reports whether r is a known global role
func (r GlobalRole) Valid() bool {
	return r == GlobalAdmin || r == GlobalMember
}

// ParseGlobalRole converts a string to a GlobalRole
func ParseGlobalRole(s string) (GlobalRole, error) {
	r := GlobalRole(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown global role %q", s)
	}
	return r, nil
}

// ProjectRole is the role a membership grants inside one project
type ProjectRole string

const (
	RoleMember       ProjectRole = "member"
	RoleProjectAdmin ProjectRole = "project_admin"
)

// ProjectRoles lists the project roles from lowest to highest
func ProjectRoles() []ProjectRole {
	return []ProjectRole{RoleMember, RoleProjectAdmin}
}

func (r ProjectRole) rank() int {
	switch r {
	case RoleMember:
		return 1
	case RoleProjectAdmin:
		return 2
	default:
		return 0
	}
}

// Valid reports whether r is a known project role
func (r ProjectRole) Valid() bool {
	return r.rank() > 0
}

// Satisfies reports whether r meets or exceeds required. Unknown roles satisfy nothing.
func (r ProjectRole) Satisfies(required ProjectRole) bool {
	return r.Valid() && r.rank() >= required.rank()
}

// ParseProjectRole converts a string to a ProjectRole
func ParseProjectRole(s string) (ProjectRole, error) {
	r := ProjectRole(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown project role %q", s)
	}
	return r, nil
}

// Principal is the acting identity as seen by authorization
type Principal struct {
	ID   string
	Role GlobalRole
}

// IsGlobalAdmin reports whether the principal bypasses project checks
func (p Principal) IsGlobalAdmin() bool {
	return p.Role == GlobalAdmin
}
