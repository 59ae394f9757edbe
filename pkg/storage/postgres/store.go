// Package postgres implements storage.Store on PostgreSQL using lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/taskboard/pkg/storage"
	"github.com/platinummonkey/taskboard/pkg/storage/postgres/migrations"
)

var tracer = otel.Tracer("taskboard/storage/postgres")

// Postgres error codes
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// constraintErrors maps unique constraint names to storage sentinels
var constraintErrors = map[string]error{
	"users_email_key":                  storage.ErrDuplicateEmail,
	"users_username_key":               storage.ErrDuplicateUsername,
	"projects_creator_name_key":        storage.ErrDuplicateProject,
	"project_members_project_user_key": storage.ErrDuplicateMember,
	"boards_project_name_key":          storage.ErrDuplicateBoard,
}

// Store is the PostgreSQL storage.Store
type Store struct {
	cm *ConnectionManager
}

var _ storage.Store = (*Store)(nil)

// NewStore wraps an open connection manager
func NewStore(cm *ConnectionManager) *Store {
	return &Store{cm: cm}
}

// gooseUpContext is a seam for tests
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded schema migrations to the primary
func (s *Store) Migrate(ctx context.Context) error {
	return RunMigrations(ctx, s.cm.Primary())
}

// RunMigrations applies the embedded schema migrations to db
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.cm.Primary().PingContext(ctx)
}

func (s *Store) Close() error {
	return s.cm.Close()
}

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "postgresql"), attribute.String("db.operation", op))
	return tracer.Start(ctx, "postgres."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// withTx runs fn in a transaction on the primary, committing when it returns nil
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) (err error) {
	ctx, span := startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	tx, err := s.cm.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err = fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// mapError converts driver errors to storage sentinels where one applies
func mapError(err error, action string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUniqueViolation:
			if sentinel, ok := constraintErrors[pqErr.Constraint]; ok {
				return sentinel
			}
		case codeForeignKeyViolation:
			return storage.ErrNotFound
		}
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

// expectOne turns a zero-row update into ErrNotFound
func expectOne(res sql.Result, err error, action string) error {
	if err != nil {
		return mapError(err, action)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", action, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func affected(res sql.Result, err error, action string) (bool, error) {
	if err != nil {
		return false, mapError(err, action)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", action, err)
	}
	return n > 0, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// filter accumulates WHERE clauses with numbered placeholders
type filter struct {
	clauses []string
	args    []any
}

// add appends a clause; each %d in clause is replaced by the next placeholder
// number, bound to value
func (f *filter) add(clause string, value any) {
	f.args = append(f.args, value)
	f.clauses = append(f.clauses, strings.ReplaceAll(clause, "%d", fmt.Sprint(len(f.args))))
}

func (f *filter) raw(clause string) {
	f.clauses = append(f.clauses, clause)
}

func (f *filter) where() string {
	if len(f.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.clauses, " AND ")
}

// limit appends LIMIT and OFFSET placeholders for page
func (f *filter) limit(page storage.Page) string {
	if page.Limit <= 0 {
		if page.Offset > 0 {
			f.args = append(f.args, page.Offset)
			return fmt.Sprintf(" OFFSET $%d", len(f.args))
		}
		return ""
	}
	f.args = append(f.args, page.Limit, page.Offset)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(f.args)-1, len(f.args))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func containsPattern(q string) string {
	return "%" + likeEscaper.Replace(q) + "%"
}
