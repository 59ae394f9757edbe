package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/taskboard/pkg/storage"
)

const boardColumns = `id, project_id, name, status, description, created_by, created_at, updated_at`

func scanBoard(row rowScanner) (*storage.Board, error) {
	var (
		b      storage.Board
		status string
	)
	if err := row.Scan(&b.ID, &b.ProjectID, &b.Name, &status, &b.Description, &b.CreatedBy,
		&b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Status = storage.TaskStatus(status)
	return &b, nil
}

func (s *Store) CreateBoard(ctx context.Context, b *storage.Board) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	err := s.cm.Primary().QueryRowContext(ctx, `
		INSERT INTO boards (id, project_id, name, status, description, created_by)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE EXISTS (SELECT 1 FROM projects WHERE id = $2 AND deleted_at IS NULL)
		RETURNING created_at, updated_at
	`, b.ID, b.ProjectID, b.Name, string(b.Status), b.Description, b.CreatedBy,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	return mapError(err, "create board")
}

func (s *Store) GetBoard(ctx context.Context, projectID, boardID string) (*storage.Board, error) {
	row := s.cm.Primary().QueryRowContext(ctx,
		`SELECT `+boardColumns+` FROM boards WHERE id = $1 AND project_id = $2 AND deleted_at IS NULL`,
		boardID, projectID)
	b, err := scanBoard(row)
	if err != nil {
		return nil, mapError(err, "get board")
	}
	return b, nil
}

func (s *Store) ListBoards(ctx context.Context, projectID string) ([]storage.Board, error) {
	rows, err := s.cm.Primary().QueryContext(ctx, `
		SELECT `+boardColumns+` FROM boards
		WHERE project_id = $1 AND deleted_at IS NULL
		ORDER BY CASE status WHEN 'todo' THEN 0 WHEN 'in_progress' THEN 1 ELSE 2 END
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}
	defer rows.Close()

	out := []storage.Board{}
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan board: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *Store) DeleteBoard(ctx context.Context, projectID, boardID string) error {
	res, err := s.cm.Primary().ExecContext(ctx,
		`UPDATE boards SET deleted_at = NOW() WHERE id = $1 AND project_id = $2 AND deleted_at IS NULL`,
		boardID, projectID)
	return expectOne(res, err, "delete board")
}

const noteColumns = `id, project_id, task_id, content, visibility, created_by, updated_by, created_at, updated_at`

func scanNote(row rowScanner) (*storage.Note, error) {
	var (
		n          storage.Note
		taskID     sql.NullString
		visibility string
	)
	if err := row.Scan(&n.ID, &n.ProjectID, &taskID, &n.Content, &visibility, &n.CreatedBy, &n.UpdatedBy,
		&n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	n.TaskID = taskID.String
	n.Visibility = storage.NoteVisibility(visibility)
	return &n, nil
}

func (s *Store) CreateNote(ctx context.Context, n *storage.Note) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.UpdatedBy == "" {
		n.UpdatedBy = n.CreatedBy
	}
	// a task note needs a live task in the same project
	err := s.cm.Primary().QueryRowContext(ctx, `
		INSERT INTO notes (id, project_id, task_id, content, visibility, created_by, updated_by)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE EXISTS (SELECT 1 FROM projects WHERE id = $2 AND deleted_at IS NULL)
		  AND ($3::uuid IS NULL OR EXISTS (
		        SELECT 1 FROM tasks WHERE id = $3::uuid AND project_id = $2 AND deleted_at IS NULL))
		RETURNING created_at, updated_at
	`, n.ID, n.ProjectID, nullString(n.TaskID), n.Content, string(n.Visibility), n.CreatedBy, n.UpdatedBy,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
	return mapError(err, "create note")
}

func (s *Store) GetNote(ctx context.Context, projectID, noteID string) (*storage.Note, error) {
	row := s.cm.Primary().QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM notes WHERE id = $1 AND project_id = $2 AND deleted_at IS NULL`,
		noteID, projectID)
	n, err := scanNote(row)
	if err != nil {
		return nil, mapError(err, "get note")
	}
	return n, nil
}

func noteFilter(f storage.NoteFilter) *filter {
	w := &filter{}
	w.raw("deleted_at IS NULL")
	if f.ProjectID != "" {
		w.add("project_id = $%d", f.ProjectID)
	}
	if f.TaskID != "" {
		w.add("task_id = $%d", f.TaskID)
	}
	if f.Visibility != "" {
		w.add("visibility = $%d", string(f.Visibility))
	}
	if !f.IncludeAllPrivate {
		w.add("(visibility = 'public' OR created_by::text = $%d)", f.ViewerID)
	}
	if f.Query != "" {
		w.add("content ILIKE $%d", containsPattern(f.Query))
	}
	return w
}

func (s *Store) ListNotes(ctx context.Context, f storage.NoteFilter) (_ []storage.Note, _ int, err error) {
	ctx, span := startSpan(ctx, "ListNotes", attribute.String("project_id", f.ProjectID))
	defer func() { endSpan(span, err) }()

	db := s.cm.Replica()
	w := noteFilter(f)

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`+w.where(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notes: %w", err)
	}

	query := `SELECT ` + noteColumns + ` FROM notes` + w.where() + ` ORDER BY created_at DESC, id DESC` + w.limit(f.Page)
	rows, err := db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	out := []storage.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan note: %w", err)
		}
		out = append(out, *n)
	}
	return out, total, rows.Err()
}

func (s *Store) NoteStats(ctx context.Context, f storage.NoteFilter) (storage.NoteStats, error) {
	w := noteFilter(f)
	var stats storage.NoteStats
	err := s.cm.Replica().QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE visibility = 'public'),
		       COUNT(*) FILTER (WHERE visibility = 'private'),
		       COUNT(*) FILTER (WHERE task_id IS NULL),
		       COUNT(*) FILTER (WHERE task_id IS NOT NULL)
		FROM notes`+w.where(), w.args...,
	).Scan(&stats.Total, &stats.Public, &stats.Private, &stats.ProjectLevel, &stats.TaskLevel)
	if err != nil {
		return storage.NoteStats{}, fmt.Errorf("failed to compute note stats: %w", err)
	}
	return stats, nil
}

func (s *Store) UpdateNote(ctx context.Context, n *storage.Note) error {
	var taskID sql.NullString
	err := s.cm.Primary().QueryRowContext(ctx, `
		UPDATE notes SET content = $3, visibility = $4, updated_by = $5, updated_at = NOW()
		WHERE id = $1 AND project_id = $2 AND deleted_at IS NULL
		RETURNING task_id, created_by, created_at, updated_at
	`, n.ID, n.ProjectID, n.Content, string(n.Visibility), n.UpdatedBy,
	).Scan(&taskID, &n.CreatedBy, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return mapError(err, "update note")
	}
	n.TaskID = taskID.String
	return nil
}

func (s *Store) DeleteNote(ctx context.Context, projectID, noteID string) error {
	res, err := s.cm.Primary().ExecContext(ctx,
		`UPDATE notes SET deleted_at = NOW() WHERE id = $1 AND project_id = $2 AND deleted_at IS NULL`,
		noteID, projectID)
	return expectOne(res, err, "delete note")
}

func (s *Store) CreateNotification(ctx context.Context, n *storage.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	err := s.cm.Primary().QueryRowContext(ctx, `
		INSERT INTO notifications (id, user_id, type, message, link, read)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, n.ID, n.UserID, string(n.Type), n.Message, n.Link, n.Read).Scan(&n.CreatedAt)
	return mapError(err, "create notification")
}

func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool, page storage.Page) ([]storage.Notification, int, error) {
	w := &filter{}
	w.add("user_id = $%d", userID)
	if unreadOnly {
		w.raw("read = FALSE")
	}

	db := s.cm.Replica()
	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications`+w.where(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	query := `SELECT id, user_id, type, message, link, read, created_at FROM notifications` + w.where() +
		` ORDER BY created_at DESC, id DESC` + w.limit(page)
	rows, err := db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	out := []storage.Notification{}
	for rows.Next() {
		var (
			n   storage.Notification
			typ string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Message, &n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Type = storage.NotificationType(typ)
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string) error {
	res, err := s.cm.Primary().ExecContext(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	return expectOne(res, err, "mark notification read")
}

func (s *Store) DeleteNotification(ctx context.Context, userID, id string) error {
	res, err := s.cm.Primary().ExecContext(ctx,
		`DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	return expectOne(res, err, "delete notification")
}
