package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
)

const projectColumns = `p.id, p.name, p.description, p.status, p.priority, p.visibility, p.tags,
	p.start_date, p.due_date, p.created_by, p.created_at, p.updated_at`

func scanProject(row rowScanner, extra ...any) (*storage.Project, error) {
	var (
		p                  storage.Project
		status, prio, vis  string
		tags               []string
		startDate, dueDate sql.NullTime
	)
	dest := []any{&p.ID, &p.Name, &p.Description, &status, &prio, &vis, pq.Array(&tags),
		&startDate, &dueDate, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	p.Status = storage.ProjectStatus(status)
	p.Priority = storage.Priority(prio)
	p.Visibility = storage.ProjectVisibility(vis)
	p.Tags = tags
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if startDate.Valid {
		p.StartDate = &startDate.Time
	}
	if dueDate.Valid {
		p.DueDate = &dueDate.Time
	}
	return &p, nil
}

func (s *Store) CreateProject(ctx context.Context, p *storage.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return s.withTx(ctx, "CreateProject", func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO projects (id, name, description, status, priority, visibility, tags, start_date, due_date, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING created_at, updated_at
		`, p.ID, p.Name, p.Description, string(p.Status), string(p.Priority), string(p.Visibility),
			pq.Array(p.Tags), p.StartDate, p.DueDate, p.CreatedBy,
		).Scan(&p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return mapError(err, "create project")
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO project_members (id, project_id, user_id, role) VALUES ($1, $2, $3, $4)
		`, uuid.NewString(), p.ID, p.CreatedBy, string(rbac.RoleProjectAdmin))
		return mapError(err, "add project creator")
	})
}

func (s *Store) GetProject(ctx context.Context, id string) (*storage.Project, error) {
	row := s.cm.Primary().QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects p WHERE p.id = $1 AND p.deleted_at IS NULL`, id)
	p, err := scanProject(row)
	if err != nil {
		return nil, mapError(err, "get project")
	}
	return p, nil
}

func (s *Store) ListProjects(ctx context.Context, userID string, all bool) (_ []storage.ProjectSummary, err error) {
	ctx, span := startSpan(ctx, "ListProjects", attribute.Bool("all", all))
	defer func() { endSpan(span, err) }()

	rows, err := s.cm.Replica().QueryContext(ctx, `
		SELECT `+projectColumns+`, COALESCE(m.role, ''),
		       (SELECT COUNT(*) FROM project_members c WHERE c.project_id = p.id)
		FROM projects p
		LEFT JOIN project_members m ON m.project_id = p.id AND m.user_id = $1
		WHERE p.deleted_at IS NULL AND ($2 OR m.user_id IS NOT NULL)
		ORDER BY p.created_at DESC
	`, userID, all)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	out := []storage.ProjectSummary{}
	for rows.Next() {
		var (
			role  string
			count int
		)
		p, err := scanProject(rows, &role, &count)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, storage.ProjectSummary{Project: *p, Role: rbac.ProjectRole(role), MemberCount: count})
	}
	return out, rows.Err()
}

func (s *Store) UpdateProject(ctx context.Context, p *storage.Project) error {
	if p.Tags == nil {
		p.Tags = []string{}
	}
	err := s.cm.Primary().QueryRowContext(ctx, `
		UPDATE projects
		SET name = $2, description = $3, status = $4, priority = $5, visibility = $6, tags = $7,
		    start_date = $8, due_date = $9, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING created_by, created_at, updated_at
	`, p.ID, p.Name, p.Description, string(p.Status), string(p.Priority), string(p.Visibility),
		pq.Array(p.Tags), p.StartDate, p.DueDate,
	).Scan(&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	return mapError(err, "update project")
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	return s.withTx(ctx, "DeleteProject", func(tx *sql.Tx) error {
		var locked string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM projects WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id).Scan(&locked)
		if err != nil {
			return mapError(err, "lock project")
		}
		return deleteProjects(ctx, tx, `SELECT $1::uuid`, id)
	})
}

// deleteProjects removes memberships and soft-deletes every project selected by
// selector, a query over $1, together with its content
func deleteProjects(ctx context.Context, tx *sql.Tx, selector string, arg any) error {
	statements := []string{
		`UPDATE subtasks SET deleted_at = NOW() WHERE deleted_at IS NULL AND project_id IN (` + selector + `)`,
		`UPDATE notes SET deleted_at = NOW() WHERE deleted_at IS NULL AND project_id IN (` + selector + `)`,
		`UPDATE tasks SET deleted_at = NOW() WHERE deleted_at IS NULL AND project_id IN (` + selector + `)`,
		`UPDATE boards SET deleted_at = NOW() WHERE deleted_at IS NULL AND project_id IN (` + selector + `)`,
		`DELETE FROM project_members WHERE project_id IN (` + selector + `)`,
		`UPDATE projects SET deleted_at = NOW() WHERE deleted_at IS NULL AND id IN (` + selector + `)`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, arg); err != nil {
			return fmt.Errorf("failed to delete project: %w", err)
		}
	}
	return nil
}

func (s *Store) CountTasksByStatus(ctx context.Context, projectID string) (map[storage.TaskStatus]int, error) {
	rows, err := s.cm.Primary().QueryContext(ctx, `
		SELECT status, COUNT(*) FROM tasks
		WHERE project_id = $1 AND deleted_at IS NULL
		GROUP BY status
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[storage.TaskStatus]int, 3)
	for _, status := range storage.TaskStatuses() {
		counts[status] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan task count: %w", err)
		}
		counts[storage.TaskStatus(status)] = n
	}
	return counts, rows.Err()
}
