package projects

import (
	"context"
	"fmt"

	"github.com/platinummonkey/taskboard/pkg/apperrors"
	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
)

const memberNotFound = "Member not found"

// Members lists a project's members with their profiles
func (s *Service) Members(ctx context.Context, p rbac.Principal, projectID string) ([]storage.Member, error) {
	if _, _, err := s.load(ctx, p, projectID, rbac.ActionViewMembers); err != nil {
		return nil, err
	}
	out, err := s.store.ListMembers(ctx, projectID)
	if err != nil {
		return nil, storage.AppError(err, notFoundMessage)
	}
	return out, nil
}

// AddMember adds the user registered under email with role and notifies them
func (s *Service) AddMember(ctx context.Context, p rbac.Principal, projectID, email string, role rbac.ProjectRole) (*storage.Membership, error) {
	proj, _, err := s.load(ctx, p, projectID, rbac.ActionManageMembers)
	if err != nil {
		return nil, err
	}

	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, storage.AppError(err, "User not found")
	}
	if role == "" {
		role = rbac.RoleMember
	}
	if err := checkRole(role); err != nil {
		return nil, err
	}

	m := &storage.Membership{ProjectID: projectID, UserID: u.ID, Role: role}
	if err := s.store.AddMember(ctx, m); err != nil {
		return nil, storage.AppError(err, notFoundMessage)
	}

	s.notify.Notify(ctx, u.ID, storage.NotificationProjectInvite,
		fmt.Sprintf("You were added to project %q as %s", proj.Name, role), projectLink(projectID))
	return m, nil
}

// UpdateMemberRole changes one member's role. Demoting the last project admin
// is a conflict.
func (s *Service) UpdateMemberRole(ctx context.Context, p rbac.Principal, projectID, userID string, role rbac.ProjectRole) (*storage.Membership, error) {
	if _, _, err := s.load(ctx, p, projectID, rbac.ActionManageMembers); err != nil {
		return nil, err
	}
	if err := checkRole(role); err != nil {
		return nil, err
	}
	if err := s.store.UpdateMemberRole(ctx, projectID, userID, role); err != nil {
		return nil, storage.AppError(err, memberNotFound)
	}
	m, err := s.store.GetMembership(ctx, projectID, userID)
	if err != nil {
		return nil, storage.AppError(err, memberNotFound)
	}
	return m, nil
}

// SetMemberRoles changes several roles at once; the admin floor applies to the
// final state only
func (s *Service) SetMemberRoles(ctx context.Context, p rbac.Principal, projectID string, roles map[string]rbac.ProjectRole) ([]storage.Member, error) {
	if _, _, err := s.load(ctx, p, projectID, rbac.ActionManageMembers); err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, apperrors.Validation("No role changes given",
			apperrors.FieldError{Field: "members", Message: "must not be empty"})
	}
	for _, role := range roles {
		if err := checkRole(role); err != nil {
			return nil, err
		}
	}
	if err := s.store.SetMemberRoles(ctx, projectID, roles); err != nil {
		return nil, storage.AppError(err, memberNotFound)
	}
	out, err := s.store.ListMembers(ctx, projectID)
	if err != nil {
		return nil, storage.AppError(err, notFoundMessage)
	}
	return out, nil
}

// RemoveMember removes a member and detaches them from the project's
// assignments. Removing the last project admin is a conflict.
func (s *Service) RemoveMember(ctx context.Context, p rbac.Principal, projectID, userID string) error {
	if _, _, err := s.load(ctx, p, projectID, rbac.ActionManageMembers); err != nil {
		return err
	}
	if err := s.store.RemoveMember(ctx, projectID, userID); err != nil {
		return storage.AppError(err, memberNotFound)
	}
	return nil
}

func checkRole(role rbac.ProjectRole) error {
	if !role.Valid() {
		return apperrors.Validation("Invalid role",
			apperrors.FieldError{Field: "role", Message: "must be member or project_admin"})
	}
	return nil
}
