package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/taskboard/pkg/storage"
)

const taskColumns = `id, project_id, title, description, status, priority, assigned_to, due_date,
	needs_review, created_by, updated_by, created_at, updated_at`

// taskOrder maps sort fields to ORDER BY expressions
var taskOrder = map[string]string{
	storage.SortCreatedAt: "created_at",
	storage.SortDueDate:   "due_date",
	storage.SortTitle:     "LOWER(title)",
	storage.SortPriority:  "CASE priority WHEN 'low' THEN 1 WHEN 'medium' THEN 2 WHEN 'high' THEN 3 ELSE 0 END",
	storage.SortStatus:    "CASE status WHEN 'todo' THEN 0 WHEN 'in_progress' THEN 1 WHEN 'done' THEN 2 ELSE 3 END",
}

func taskOrderBy(order storage.SortOrder) string {
	expr, ok := taskOrder[order.Field]
	if !ok {
		expr = taskOrder[storage.SortCreatedAt]
	}
	dir := "ASC"
	if order.Desc {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s NULLS LAST, created_at %s, id %s", expr, dir, dir, dir)
}

func scanTask(row rowScanner) (*storage.Task, error) {
	var (
		t            storage.Task
		status, prio string
		assigned     []string
		dueDate      sql.NullTime
	)
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &status, &prio, pq.Array(&assigned),
		&dueDate, &t.NeedsReview, &t.CreatedBy, &t.UpdatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = storage.TaskStatus(status)
	t.Priority = storage.Priority(prio)
	t.AssignedTo = assigned
	if t.AssignedTo == nil {
		t.AssignedTo = []string{}
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.Time
	}
	return &t, nil
}

func (s *Store) CreateTask(ctx context.Context, t *storage.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.AssignedTo == nil {
		t.AssignedTo = []string{}
	}
	if t.UpdatedBy == "" {
		t.UpdatedBy = t.CreatedBy
	}
	err := s.cm.Primary().QueryRowContext(ctx, `
		INSERT INTO tasks (id, project_id, title, description, status, priority, assigned_to, due_date,
		                   needs_review, created_by, updated_by)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		WHERE EXISTS (SELECT 1 FROM projects WHERE id = $2 AND deleted_at IS NULL)
		RETURNING created_at, updated_at
	`, t.ID, t.ProjectID, t.Title, t.Description, string(t.Status), string(t.Priority), pq.Array(t.AssignedTo),
		t.DueDate, t.NeedsReview, t.CreatedBy, t.UpdatedBy,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	return mapError(err, "create task")
}

func (s *Store) GetTask(ctx context.Context, projectID, taskID string) (*storage.Task, error) {
	row := s.cm.Primary().QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND project_id = $2 AND deleted_at IS NULL`,
		taskID, projectID)
	t, err := scanTask(row)
	if err != nil {
		return nil, mapError(err, "get task")
	}
	return t, nil
}

func taskFilter(f storage.TaskFilter) *filter {
	w := &filter{}
	w.raw("deleted_at IS NULL")
	if f.ProjectID != "" {
		w.add("project_id = $%d", f.ProjectID)
	}
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	if f.Priority != "" {
		w.add("priority = $%d", string(f.Priority))
	}
	if f.AssignedTo != "" {
		w.add("$%d::text = ANY(assigned_to)", f.AssignedTo)
	}
	if f.CreatedBy != "" {
		w.add("created_by = $%d", f.CreatedBy)
	}
	if f.NeedsReview != nil {
		w.add("needs_review = $%d", *f.NeedsReview)
	}
	if f.Query != "" {
		w.add("(title ILIKE $%d OR description ILIKE $%d)", containsPattern(f.Query))
	}
	return w
}

func (s *Store) ListTasks(ctx context.Context, f storage.TaskFilter) (_ []storage.Task, _ int, err error) {
	ctx, span := startSpan(ctx, "ListTasks",
		attribute.String("project_id", f.ProjectID),
		attribute.Int("limit", f.Page.Limit),
		attribute.Int("offset", f.Page.Offset))
	defer func() { endSpan(span, err) }()

	db := s.cm.Replica()
	w := taskFilter(f)

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`+w.where(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks` + w.where() + taskOrderBy(f.Sort) + w.limit(f.Page)
	rows, err := db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	out := []storage.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, *t)
	}
	return out, total, rows.Err()
}

func (s *Store) UpdateTask(ctx context.Context, t *storage.Task) error {
	if t.AssignedTo == nil {
		t.AssignedTo = []string{}
	}
	err := s.cm.Primary().QueryRowContext(ctx, `
		UPDATE tasks
		SET title = $3, description = $4, status = $5, priority = $6, assigned_to = $7, due_date = $8,
		    needs_review = $9, updated_by = $10, updated_at = NOW()
		WHERE id = $1 AND project_id = $2 AND deleted_at IS NULL
		RETURNING created_by, created_at, updated_at
	`, t.ID, t.ProjectID, t.Title, t.Description, string(t.Status), string(t.Priority), pq.Array(t.AssignedTo),
		t.DueDate, t.NeedsReview, t.UpdatedBy,
	).Scan(&t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	return mapError(err, "update task")
}

func (s *Store) DeleteTask(ctx context.Context, projectID, taskID string) error {
	return s.withTx(ctx, "DeleteTask", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET deleted_at = NOW() WHERE id = $1 AND project_id = $2 AND deleted_at IS NULL`,
			taskID, projectID)
		if err := expectOne(res, err, "delete task"); err != nil {
			return err
		}
		for _, stmt := range []string{
			`UPDATE subtasks SET deleted_at = NOW() WHERE task_id = $1 AND deleted_at IS NULL`,
			`UPDATE notes SET deleted_at = NOW() WHERE task_id = $1 AND deleted_at IS NULL`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, taskID); err != nil {
				return fmt.Errorf("failed to delete task content: %w", err)
			}
		}
		return nil
	})
}

const subtaskColumns = `id, project_id, task_id, title, description, priority, due_date, is_completed,
	assigned_to, created_by, updated_by, created_at, updated_at`

func scanSubtask(row rowScanner) (*storage.Subtask, error) {
	var (
		st       storage.Subtask
		prio     string
		dueDate  sql.NullTime
		assignee sql.NullString
	)
	err := row.Scan(&st.ID, &st.ProjectID, &st.TaskID, &st.Title, &st.Description, &prio, &dueDate,
		&st.IsCompleted, &assignee, &st.CreatedBy, &st.UpdatedBy, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	st.Priority = storage.Priority(prio)
	st.AssignedTo = assignee.String
	if dueDate.Valid {
		st.DueDate = &dueDate.Time
	}
	return &st, nil
}

func (s *Store) CreateSubtask(ctx context.Context, st *storage.Subtask) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.UpdatedBy == "" {
		st.UpdatedBy = st.CreatedBy
	}
	err := s.cm.Primary().QueryRowContext(ctx, `
		INSERT INTO subtasks (id, project_id, task_id, title, description, priority, due_date, is_completed,
		                      assigned_to, created_by, updated_by)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		WHERE EXISTS (SELECT 1 FROM tasks WHERE id = $3 AND project_id = $2 AND deleted_at IS NULL)
		RETURNING created_at, updated_at
	`, st.ID, st.ProjectID, st.TaskID, st.Title, st.Description, string(st.Priority), st.DueDate, st.IsCompleted,
		nullString(st.AssignedTo), st.CreatedBy, st.UpdatedBy,
	).Scan(&st.CreatedAt, &st.UpdatedAt)
	return mapError(err, "create subtask")
}

func (s *Store) GetSubtask(ctx context.Context, projectID, subtaskID string) (*storage.Subtask, error) {
	row := s.cm.Primary().QueryRowContext(ctx,
		`SELECT `+subtaskColumns+` FROM subtasks WHERE id = $1 AND project_id = $2 AND deleted_at IS NULL`,
		subtaskID, projectID)
	st, err := scanSubtask(row)
	if err != nil {
		return nil, mapError(err, "get subtask")
	}
	return st, nil
}

func (s *Store) ListSubtasks(ctx context.Context, f storage.SubtaskFilter) (_ []storage.Subtask, _ int, err error) {
	ctx, span := startSpan(ctx, "ListSubtasks", attribute.String("project_id", f.ProjectID))
	defer func() { endSpan(span, err) }()

	w := &filter{}
	w.raw("deleted_at IS NULL")
	if f.ProjectID != "" {
		w.add("project_id = $%d", f.ProjectID)
	}
	if f.TaskID != "" {
		w.add("task_id = $%d", f.TaskID)
	}
	if f.IsCompleted != nil {
		w.add("is_completed = $%d", *f.IsCompleted)
	}
	if f.Priority != "" {
		w.add("priority = $%d", string(f.Priority))
	}
	if f.AssignedTo != "" {
		w.add("assigned_to = $%d", f.AssignedTo)
	}

	db := s.cm.Replica()
	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subtasks`+w.where(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count subtasks: %w", err)
	}

	query := `SELECT ` + subtaskColumns + ` FROM subtasks` + w.where() +
		` ORDER BY created_at DESC, id DESC` + w.limit(f.Page)
	rows, err := db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list subtasks: %w", err)
	}
	defer rows.Close()

	out := []storage.Subtask{}
	for rows.Next() {
		st, err := scanSubtask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan subtask: %w", err)
		}
		out = append(out, *st)
	}
	return out, total, rows.Err()
}

func (s *Store) UpdateSubtask(ctx context.Context, st *storage.Subtask) error {
	err := s.cm.Primary().QueryRowContext(ctx, `
		UPDATE subtasks
		SET title = $3, description = $4, priority = $5, due_date = $6, is_completed = $7,
		    assigned_to = $8, updated_by = $9, updated_at = NOW()
		WHERE id = $1 AND project_id = $2 AND deleted_at IS NULL
		RETURNING task_id, created_by, created_at, updated_at
	`, st.ID, st.ProjectID, st.Title, st.Description, string(st.Priority), st.DueDate, st.IsCompleted,
		nullString(st.AssignedTo), st.UpdatedBy,
	).Scan(&st.TaskID, &st.CreatedBy, &st.CreatedAt, &st.UpdatedAt)
	return mapError(err, "update subtask")
}

func (s *Store) DeleteSubtask(ctx context.Context, projectID, subtaskID string) error {
	res, err := s.cm.Primary().ExecContext(ctx,
		`UPDATE subtasks SET deleted_at = NOW() WHERE id = $1 AND project_id = $2 AND deleted_at IS NULL`,
		subtaskID, projectID)
	return expectOne(res, err, "delete subtask")
}
