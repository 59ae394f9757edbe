package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cm := &ConnectionManager{
		primary:  db,
		replicas: []*sql.DB{},
		logger:   observability.NewNopLogger(),
	}
	return NewStore(cm), mock
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, storage.ErrNotFound},
		{"duplicate email", &pq.Error{Code: codeUniqueViolation, Constraint: "users_email_key"}, storage.ErrDuplicateEmail},
		{"duplicate username", &pq.Error{Code: codeUniqueViolation, Constraint: "users_username_key"}, storage.ErrDuplicateUsername},
		{"duplicate member", &pq.Error{Code: codeUniqueViolation, Constraint: "project_members_project_user_key"}, storage.ErrDuplicateMember},
		{"duplicate board", &pq.Error{Code: codeUniqueViolation, Constraint: "boards_project_name_key"}, storage.ErrDuplicateBoard},
		{"foreign key", &pq.Error{Code: codeForeignKeyViolation}, storage.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tt.err, "test"), tt.want)
		})
	}

	t.Run("unknown error is wrapped", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := mapError(cause, "get user")
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "failed to get user")
	})

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, mapError(nil, "test"))
	})
}

func TestFilterPlaceholders(t *testing.T) {
	w := &filter{}
	w.raw("deleted_at IS NULL")
	w.add("project_id = $%d", "p1")
	w.add("(title ILIKE $%d OR description ILIKE $%d)", "%x%")

	assert.Equal(t, " WHERE deleted_at IS NULL AND project_id = $1 AND (title ILIKE $2 OR description ILIKE $2)", w.where())
	assert.Equal(t, " LIMIT $3 OFFSET $4", w.limit(storage.Page{Limit: 20, Offset: 40}))
	assert.Equal(t, []any{"p1", "%x%", 20, 40}, w.args)

	empty := &filter{}
	assert.Equal(t, "", empty.where())
	assert.Equal(t, "", empty.limit(storage.Page{}))
}

func TestContainsPatternEscapes(t *testing.T) {
	assert.Equal(t, `%50\%\_off%`, containsPattern("50%_off"))
}

func TestRunMigrations(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		if dir != "." {
			return errors.New("unexpected dir")
		}
		return nil
	}
	assert.NoError(t, RunMigrations(context.Background(), db))

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	err = RunMigrations(context.Background(), db)
	assert.ErrorContains(t, err, "boom")
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pq.Error{Code: codeUniqueViolation, Constraint: "users_email_key"})

	err := s.CreateUser(context.Background(), &storage.User{Username: "alice", Email: "a@example.com"})
	assert.ErrorIs(t, err, storage.ErrDuplicateEmail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserDefaults(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs(sqlmock.AnyArg(), "alice", "a@example.com", "hash", "member", false, storage.DefaultAvatarURL, "").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	u := &storage.User{Username: "alice", Email: "a@example.com", PasswordHash: "hash",
		Avatar: storage.Avatar{URL: storage.DefaultAvatarURL}}
	require.NoError(t, s.CreateUser(context.Background(), u))
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, rbac.GlobalMember, u.Role)
	assert.Equal(t, now, u.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByEmailNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE LOWER(email) = LOWER($1)")).
		WithArgs("missing@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetUserByEmail(context.Background(), "missing@example.com")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetUserScansPendingTokens(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cols := []string{"id", "username", "email", "password_hash", "role", "is_email_verified", "avatar_url",
		"avatar_ref", "refresh_token", "verification_digest", "verification_expires_at", "reset_digest",
		"reset_expires_at", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("u1", "alice", "a@example.com", "hash", "admin", true,
			"https://cdn/a.png", "avatars/a.png", "r1", "vd", now, nil, nil, now, now))

	u, err := s.GetUserByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, rbac.GlobalAdmin, u.Role)
	require.NotNil(t, u.Verification)
	assert.Equal(t, "vd", u.Verification.Digest)
	assert.Nil(t, u.PasswordReset)
	assert.Equal(t, "avatars/a.png", u.Avatar.Ref)
}

func TestSwapRefreshToken(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	query := regexp.QuoteMeta("UPDATE users SET refresh_token = $3 WHERE id = $1 AND refresh_token = $2")

	mock.ExpectExec(query).WithArgs("u1", "old", "new").WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := s.SwapRefreshToken(ctx, "u1", "old", "new")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec(query).WithArgs("u1", "old", "newer").WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = s.SwapRefreshToken(ctx, "u1", "old", "newer")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.SwapRefreshToken(ctx, "u1", "", "x")
	require.NoError(t, err)
	assert.False(t, ok, "an empty expected token never matches")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeResetToken(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND reset_digest = $2 AND reset_expires_at > $3")).
		WithArgs("u1", "digest", now, "newhash").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.ConsumeResetToken(context.Background(), "u1", "digest", now, "newhash")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePasswordNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_hash")).
		WithArgs("u1", "hash").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdatePassword(context.Background(), "u1", "hash")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetMemberRole(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	query := regexp.QuoteMeta("SELECT m.role FROM project_members m")

	mock.ExpectQuery(query).WithArgs("p1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("project_admin"))
	role, found, err := s.GetMemberRole(ctx, "p1", "u1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, rbac.RoleProjectAdmin, role)

	mock.ExpectQuery(query).WithArgs("p1", "u2").WillReturnError(sql.ErrNoRows)
	_, found, err = s.GetMemberRole(ctx, "p1", "u2")
	require.NoError(t, err)
	assert.False(t, found)

	mock.ExpectQuery(query).WithArgs("p1", "u3").WillReturnError(errors.New("down"))
	_, _, err = s.GetMemberRole(ctx, "p1", "u3")
	assert.Error(t, err)
}

func expectLockRoles(mock sqlmock.Sqlmock, projectID string, roles ...[2]string) {
	rows := sqlmock.NewRows([]string{"user_id", "role"})
	for _, r := range roles {
		rows.AddRow(r[0], r[1])
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id, role FROM project_members WHERE project_id = $1 FOR UPDATE")).
		WithArgs(projectID).
		WillReturnRows(rows)
}

func TestUpdateMemberRoleAdminFloor(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	expectLockRoles(mock, "p1", [2]string{"u1", "project_admin"}, [2]string{"u2", "member"})
	mock.ExpectRollback()

	err := s.UpdateMemberRole(context.Background(), "p1", "u1", rbac.RoleMember)
	assert.ErrorIs(t, err, storage.ErrLastProjectAdmin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMemberRolePromote(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	expectLockRoles(mock, "p1", [2]string{"u1", "project_admin"}, [2]string{"u2", "member"})
	mock.ExpectExec(regexp.QuoteMeta("UPDATE project_members SET role = $3")).
		WithArgs("p1", "u2", "project_admin").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.UpdateMemberRole(context.Background(), "p1", "u2", rbac.RoleProjectAdmin))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetMemberRolesFinalState(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	expectLockRoles(mock, "p1", [2]string{"u1", "project_admin"}, [2]string{"u2", "member"})
	mock.ExpectRollback()

	err := s.SetMemberRoles(context.Background(), "p1", map[string]rbac.ProjectRole{"u1": rbac.RoleMember})
	assert.ErrorIs(t, err, storage.ErrLastProjectAdmin)

	mock.ExpectBegin()
	expectLockRoles(mock, "p1", [2]string{"u1", "project_admin"})
	mock.ExpectRollback()

	err = s.SetMemberRoles(context.Background(), "p1", map[string]rbac.ProjectRole{"ghost": rbac.RoleMember})
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveMemberDetachesAssignments(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	expectLockRoles(mock, "p1", [2]string{"u1", "project_admin"}, [2]string{"u2", "member"})
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM project_members WHERE project_id = $1 AND user_id = $2")).
		WithArgs("p1", "u2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("array_remove(assigned_to, $2::text)")).
		WithArgs("p1", "u2").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE subtasks SET assigned_to = NULL")).
		WithArgs("p1", "u2").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.RemoveMember(context.Background(), "p1", "u2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteProjectNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM projects WHERE id = $1 AND deleted_at IS NULL FOR UPDATE")).
		WithArgs("p1").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := s.DeleteProject(context.Background(), "p1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteUserCascadeBlocked(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE id = $1 FOR UPDATE")).
		WithArgs("u1").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u1"))
	mock.ExpectExec(regexp.QuoteMeta("SELECT 1 FROM project_members")).
		WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT m.project_id")).
		WithArgs("u1").WillReturnRows(sqlmock.NewRows([]string{"project_id", "count"}).AddRow("p9", 1))
	mock.ExpectRollback()

	err := s.DeleteUserCascade(context.Background(), "u1")
	assert.ErrorIs(t, err, storage.ErrLastProjectAdmin)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func taskRow(id, title string) []driver.Value {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return []driver.Value{id, "p1", title, "", "todo", "high", []byte("{u1,u2}"), nil, false, "u1", "u1", now, now}
}

func TestListTasksQuery(t *testing.T) {
	s, mock := newMockStore(t)
	cols := []string{"id", "project_id", "title", "description", "status", "priority", "assigned_to",
		"due_date", "needs_review", "created_by", "updated_by", "created_at", "updated_at"}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM tasks WHERE deleted_at IS NULL AND project_id = $1 AND status = $2")).
		WithArgs("p1", "todo").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("NULLS LAST, created_at DESC, id DESC LIMIT $3 OFFSET $4")).
		WithArgs("p1", "todo", 20, 0).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(taskRow("t1", "Fix login")...))

	tasks, total, err := s.ListTasks(context.Background(), storage.TaskFilter{
		ProjectID: "p1",
		Status:    storage.TaskTodo,
		Sort:      storage.SortOrder{Field: storage.SortPriority, Desc: true},
		Page:      storage.Page{Limit: 20},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, tasks, 1)
	assert.Equal(t, []string{"u1", "u2"}, tasks[0].AssignedTo)
	assert.Nil(t, tasks[0].DueDate)
	assert.Equal(t, storage.PriorityHigh, tasks[0].Priority)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskOrderByUnknownFieldFallsBack(t *testing.T) {
	assert.Equal(t, " ORDER BY created_at ASC NULLS LAST, created_at ASC, id ASC",
		taskOrderBy(storage.SortOrder{Field: "nope"}))
}

func TestNoteFilterNarrowsPrivate(t *testing.T) {
	w := noteFilter(storage.NoteFilter{ProjectID: "p1", ViewerID: "u1"})
	assert.Equal(t, " WHERE deleted_at IS NULL AND project_id = $1 AND (visibility = 'public' OR created_by::text = $2)", w.where())

	w = noteFilter(storage.NoteFilter{ProjectID: "p1", ViewerID: "u1", IncludeAllPrivate: true})
	assert.Equal(t, " WHERE deleted_at IS NULL AND project_id = $1", w.where())
}

func TestMarkNotificationReadWrongUser(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2")).
		WithArgs("n1", "u2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkNotificationRead(context.Background(), "u2", "n1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	s := NewStore(&ConnectionManager{primary: db, logger: observability.NewNopLogger()})
	mock.ExpectPing().WillReturnError(errors.New("down"))
	assert.Error(t, s.Ping(context.Background()))
}
