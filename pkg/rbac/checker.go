package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/taskboard/pkg/apperrors"
)

// ErrAdminFloor is returned when a change would leave a project without a project_admin
var ErrAdminFloor = errors.New("project must retain at least one project admin")

// MembershipLookup resolves the role a user holds in a project
type MembershipLookup interface {
	GetMemberRole(ctx context.Context, projectID, userID string) (role ProjectRole, found bool, err error)
}

// Decision records how an authorization check was resolved
type Decision struct {
	Allowed bool
	// Role is the membership role, empty for global admins without membership
	Role           ProjectRole
	ViaGlobalAdmin bool
	ViaOverride    bool
	Reason         string
}

// Evaluate applies the policy for action given an already resolved membership.
// role is nil when the principal has no membership in the project.
func Evaluate(p Principal, role *ProjectRole, action Action, res *Resource) Decision {
	if p.IsGlobalAdmin() {
		d := Decision{Allowed: true, ViaGlobalAdmin: true}
		if role != nil {
			d.Role = *role
		}
		return d
	}
	if role == nil {
		return Decision{Reason: "You are not a member of this project"}
	}

	rule, ok := RuleFor(action)
	if !ok {
		return Decision{Role: *role, Reason: defaultDenyMessage}
	}
	if role.Satisfies(rule.Required) {
		return Decision{Allowed: true, Role: *role}
	}
	if rule.Override.admits(p.ID, res) {
		return Decision{Allowed: true, Role: *role, ViaOverride: true}
	}

	reason := rule.Message
	if reason == "" {
		reason = defaultDenyMessage
	}
	return Decision{Role: *role, Reason: reason}
}

// Authorizer runs the decision procedure against stored memberships
type Authorizer struct {
	memberships MembershipLookup
}

// NewAuthorizer creates an Authorizer
func NewAuthorizer(memberships MembershipLookup) *Authorizer {
	return &Authorizer{memberships: memberships}
}

// Authorize returns the decision, or a Forbidden error when the action is denied
func (a *Authorizer) Authorize(ctx context.Context, p Principal, projectID string, action Action, res *Resource) (Decision, error) {
	role, err := a.lookup(ctx, p, projectID)
	if err != nil {
		return Decision{}, err
	}

	d := Evaluate(p, role, action, res)
	if !d.Allowed {
		return d, apperrors.Forbidden(d.Reason)
	}
	return d, nil
}

// Allowed evaluates without turning a denial into an error, for read-time narrowing
func (a *Authorizer) Allowed(ctx context.Context, p Principal, projectID string, action Action, res *Resource) (bool, error) {
	role, err := a.lookup(ctx, p, projectID)
	if err != nil {
		return false, err
	}
	return Evaluate(p, role, action, res).Allowed, nil
}

func (a *Authorizer) lookup(ctx context.Context, p Principal, projectID string) (*ProjectRole, error) {
	role, found, err := a.memberships.GetMemberRole(ctx, projectID, p.ID)
	if err != nil {
		return nil, apperrors.Dependency("Failed to load project membership",
			fmt.Errorf("membership lookup %s/%s: %w", projectID, p.ID, err), true)
	}
	if !found {
		return nil, nil
	}
	return &role, nil
}

// CheckAdminFloor rejects a change to a membership currently holding current when
// it would leave zero project admins. next is nil for a removal. adminCount is the
// number of project admins before the change.
func CheckAdminFloor(adminCount int, current ProjectRole, next *ProjectRole) error {
	if current != RoleProjectAdmin {
		return nil
	}
	if next != nil && *next == RoleProjectAdmin {
		return nil
	}
	if adminCount <= 1 {
		return ErrAdminFloor
	}
	return nil
}
