package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
)

func (s *Store) GetMemberRole(ctx context.Context, projectID, userID string) (rbac.ProjectRole, bool, error) {
	var role string
	err := s.cm.Primary().QueryRowContext(ctx, `
		SELECT m.role FROM project_members m
		JOIN projects p ON p.id = m.project_id AND p.deleted_at IS NULL
		WHERE m.project_id = $1 AND m.user_id = $2
	`, projectID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up membership: %w", err)
	}
	return rbac.ProjectRole(role), true, nil
}

func (s *Store) GetMembership(ctx context.Context, projectID, userID string) (*storage.Membership, error) {
	var (
		m    storage.Membership
		role string
	)
	err := s.cm.Primary().QueryRowContext(ctx, `
		SELECT id, project_id, user_id, role, created_at, updated_at
		FROM project_members WHERE project_id = $1 AND user_id = $2
	`, projectID, userID).Scan(&m.ID, &m.ProjectID, &m.UserID, &role, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, mapError(err, "get membership")
	}
	m.Role = rbac.ProjectRole(role)
	return &m, nil
}

func (s *Store) ListMembers(ctx context.Context, projectID string) ([]storage.Member, error) {
	rows, err := s.cm.Primary().QueryContext(ctx, `
		SELECT m.id, m.project_id, m.user_id, m.role, m.created_at, m.updated_at,
		       u.username, u.email, u.avatar_url, u.avatar_ref
		FROM project_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.project_id = $1
		ORDER BY m.created_at, m.user_id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	out := []storage.Member{}
	for rows.Next() {
		var (
			m    storage.Member
			role string
		)
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.UserID, &role, &m.CreatedAt, &m.UpdatedAt,
			&m.Username, &m.Email, &m.Avatar.URL, &m.Avatar.Ref); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.Role = rbac.ProjectRole(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddMember inserts only into a live project; a missing user surfaces as a
// foreign key violation
func (s *Store) AddMember(ctx context.Context, m *storage.Membership) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	err := s.cm.Primary().QueryRowContext(ctx, `
		INSERT INTO project_members (id, project_id, user_id, role)
		SELECT $1, $2, $3, $4
		WHERE EXISTS (SELECT 1 FROM projects WHERE id = $2 AND deleted_at IS NULL)
		RETURNING created_at, updated_at
	`, m.ID, m.ProjectID, m.UserID, string(m.Role)).Scan(&m.CreatedAt, &m.UpdatedAt)
	return mapError(err, "add member")
}

// lockRoles locks every membership of the project and returns the current roles
func lockRoles(ctx context.Context, tx *sql.Tx, projectID string) (map[string]rbac.ProjectRole, int, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT user_id, role FROM project_members WHERE project_id = $1 FOR UPDATE`, projectID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to lock memberships: %w", err)
	}
	defer rows.Close()

	roles := make(map[string]rbac.ProjectRole)
	admins := 0
	for rows.Next() {
		var userID, role string
		if err := rows.Scan(&userID, &role); err != nil {
			return nil, 0, fmt.Errorf("failed to scan membership: %w", err)
		}
		roles[userID] = rbac.ProjectRole(role)
		if rbac.ProjectRole(role) == rbac.RoleProjectAdmin {
			admins++
		}
	}
	return roles, admins, rows.Err()
}

func (s *Store) UpdateMemberRole(ctx context.Context, projectID, userID string, role rbac.ProjectRole) error {
	return s.withTx(ctx, "UpdateMemberRole", func(tx *sql.Tx) error {
		roles, admins, err := lockRoles(ctx, tx, projectID)
		if err != nil {
			return err
		}
		current, ok := roles[userID]
		if !ok {
			return storage.ErrNotFound
		}
		if err := rbac.CheckAdminFloor(admins, current, &role); err != nil {
			return storage.ErrLastProjectAdmin
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE project_members SET role = $3, updated_at = NOW() WHERE project_id = $1 AND user_id = $2`,
			projectID, userID, string(role))
		return mapError(err, "update member role")
	})
}

func (s *Store) SetMemberRoles(ctx context.Context, projectID string, changes map[string]rbac.ProjectRole) error {
	return s.withTx(ctx, "SetMemberRoles", func(tx *sql.Tx) error {
		roles, _, err := lockRoles(ctx, tx, projectID)
		if err != nil {
			return err
		}
		for userID, role := range changes {
			if _, ok := roles[userID]; !ok {
				return storage.ErrNotFound
			}
			roles[userID] = role
		}
		admins := 0
		for _, role := range roles {
			if role == rbac.RoleProjectAdmin {
				admins++
			}
		}
		if admins == 0 {
			return storage.ErrLastProjectAdmin
		}

		for userID, role := range changes {
			_, err := tx.ExecContext(ctx,
				`UPDATE project_members SET role = $3, updated_at = NOW() WHERE project_id = $1 AND user_id = $2`,
				projectID, userID, string(role))
			if err != nil {
				return mapError(err, "update member role")
			}
		}
		return nil
	})
}

func (s *Store) RemoveMember(ctx context.Context, projectID, userID string) error {
	return s.withTx(ctx, "RemoveMember", func(tx *sql.Tx) error {
		roles, admins, err := lockRoles(ctx, tx, projectID)
		if err != nil {
			return err
		}
		current, ok := roles[userID]
		if !ok {
			return storage.ErrNotFound
		}
		if err := rbac.CheckAdminFloor(admins, current, nil); err != nil {
			return storage.ErrLastProjectAdmin
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM project_members WHERE project_id = $1 AND user_id = $2`, projectID, userID); err != nil {
			return fmt.Errorf("failed to remove member: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET assigned_to = array_remove(assigned_to, $2::text)
			WHERE project_id = $1 AND $2::text = ANY(assigned_to)
		`, projectID, userID); err != nil {
			return fmt.Errorf("failed to detach task assignments: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE subtasks SET assigned_to = NULL WHERE project_id = $1 AND assigned_to = $2`,
			projectID, userID); err != nil {
			return fmt.Errorf("failed to detach subtask assignments: %w", err)
		}
		return nil
	})
}
