package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
)

const userColumns = `id, username, email, password_hash, role, is_email_verified, avatar_url, avatar_ref,
	refresh_token, verification_digest, verification_expires_at, reset_digest, reset_expires_at,
	created_at, updated_at`

func scanUser(row rowScanner) (*storage.User, error) {
	var (
		u                    storage.User
		role                 string
		verifyDigest, rstDig sql.NullString
		verifyExp, rstExp    sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &u.EmailVerified,
		&u.Avatar.URL, &u.Avatar.Ref, &u.RefreshToken, &verifyDigest, &verifyExp, &rstDig, &rstExp,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Role = rbac.GlobalRole(role)
	if verifyDigest.Valid && verifyExp.Valid {
		u.Verification = &storage.PendingToken{Digest: verifyDigest.String, ExpiresAt: verifyExp.Time}
	}
	if rstDig.Valid && rstExp.Valid {
		u.PasswordReset = &storage.PendingToken{Digest: rstDig.String, ExpiresAt: rstExp.Time}
	}
	return &u, nil
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (*storage.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	u, err := scanUser(s.cm.Primary().QueryRowContext(ctx, query, arg))
	if err != nil {
		return nil, mapError(err, "get user")
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *storage.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = rbac.GlobalMember
	}
	query := `
		INSERT INTO users (id, username, email, password_hash, role, is_email_verified, avatar_url, avatar_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := s.cm.Primary().QueryRowContext(ctx, query,
		u.ID, u.Username, u.Email, u.PasswordHash, string(u.Role), u.EmailVerified, u.Avatar.URL, u.Avatar.Ref,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	return mapError(err, "create user")
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*storage.User, error) {
	return s.getUser(ctx, `id = $1`, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*storage.User, error) {
	return s.getUser(ctx, `LOWER(email) = LOWER($1)`, email)
}

func (s *Store) GetUserByVerificationDigest(ctx context.Context, digest string) (*storage.User, error) {
	return s.getUser(ctx, `verification_digest = $1`, digest)
}

func (s *Store) GetUserByResetDigest(ctx context.Context, digest string) (*storage.User, error) {
	return s.getUser(ctx, `reset_digest = $1`, digest)
}

func (s *Store) UpdateProfile(ctx context.Context, id, username string, avatar storage.Avatar) error {
	res, err := s.cm.Primary().ExecContext(ctx,
		`UPDATE users SET username = $2, avatar_url = $3, avatar_ref = $4, updated_at = NOW() WHERE id = $1`,
		id, username, avatar.URL, avatar.Ref)
	return expectOne(res, err, "update profile")
}

func (s *Store) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.cm.Primary().ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`,
		id, passwordHash)
	return expectOne(res, err, "update password")
}

func (s *Store) SetRefreshToken(ctx context.Context, id, token string) error {
	res, err := s.cm.Primary().ExecContext(ctx,
		`UPDATE users SET refresh_token = $2 WHERE id = $1`, id, token)
	return expectOne(res, err, "set refresh token")
}

// SwapRefreshToken is a compare-and-swap on the stored refresh token
func (s *Store) SwapRefreshToken(ctx context.Context, id, expected, next string) (bool, error) {
	if expected == "" {
		return false, nil
	}
	res, err := s.cm.Primary().ExecContext(ctx,
		`UPDATE users SET refresh_token = $3 WHERE id = $1 AND refresh_token = $2`,
		id, expected, next)
	return affected(res, err, "rotate refresh token")
}

func (s *Store) SetVerificationToken(ctx context.Context, id string, token storage.PendingToken) error {
	res, err := s.cm.Primary().ExecContext(ctx,
		`UPDATE users SET verification_digest = $2, verification_expires_at = $3 WHERE id = $1`,
		id, token.Digest, token.ExpiresAt)
	return expectOne(res, err, "set verification token")
}

func (s *Store) ClearVerificationToken(ctx context.Context, id, digest string) error {
	_, err := s.cm.Primary().ExecContext(ctx,
		`UPDATE users SET verification_digest = NULL, verification_expires_at = NULL
		 WHERE id = $1 AND verification_digest = $2`,
		id, digest)
	return mapError(err, "clear verification token")
}

func (s *Store) ConsumeVerificationToken(ctx context.Context, id, digest string, now time.Time) (bool, error) {
	res, err := s.cm.Primary().ExecContext(ctx, `
		UPDATE users
		SET is_email_verified = TRUE, verification_digest = NULL, verification_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND verification_digest = $2 AND verification_expires_at > $3
	`, id, digest, now)
	return affected(res, err, "consume verification token")
}

func (s *Store) SetResetToken(ctx context.Context, id string, token storage.PendingToken) error {
	res, err := s.cm.Primary().ExecContext(ctx,
		`UPDATE users SET reset_digest = $2, reset_expires_at = $3 WHERE id = $1`,
		id, token.Digest, token.ExpiresAt)
	return expectOne(res, err, "set reset token")
}

func (s *Store) ClearResetToken(ctx context.Context, id, digest string) error {
	_, err := s.cm.Primary().ExecContext(ctx,
		`UPDATE users SET reset_digest = NULL, reset_expires_at = NULL WHERE id = $1 AND reset_digest = $2`,
		id, digest)
	return mapError(err, "clear reset token")
}

func (s *Store) ConsumeResetToken(ctx context.Context, id, digest string, now time.Time, passwordHash string) (bool, error) {
	res, err := s.cm.Primary().ExecContext(ctx, `
		UPDATE users
		SET password_hash = $4, reset_digest = NULL, reset_expires_at = NULL, refresh_token = '', updated_at = NOW()
		WHERE id = $1 AND reset_digest = $2 AND reset_expires_at > $3
	`, id, digest, now, passwordHash)
	return affected(res, err, "consume reset token")
}

func (s *Store) DeleteUserCascade(ctx context.Context, id string) error {
	return s.withTx(ctx, "DeleteUserCascade", func(tx *sql.Tx) error {
		var locked string
		err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if err != nil {
			return mapError(err, "lock user")
		}

		if err := checkSoleAdminships(ctx, tx, id); err != nil {
			return err
		}

		if err := deleteProjects(ctx, tx, `SELECT id FROM projects WHERE created_by = $1 AND deleted_at IS NULL`, id); err != nil {
			return err
		}

		statements := []string{
			`UPDATE tasks SET assigned_to = array_remove(assigned_to, $1::text) WHERE $1::text = ANY(assigned_to)`,
			`UPDATE subtasks SET assigned_to = NULL WHERE assigned_to = $1`,
			`DELETE FROM project_members WHERE user_id = $1`,
			`DELETE FROM notifications WHERE user_id = $1`,
			`DELETE FROM users WHERE id = $1`,
		}
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("failed to delete user: %w", err)
			}
		}
		return nil
	})
}

// checkSoleAdminships refuses when userID is the only project_admin of a live
// project it does not own. Memberships of those projects are locked.
func checkSoleAdminships(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := tx.ExecContext(ctx, `
		SELECT 1 FROM project_members
		WHERE project_id IN (SELECT project_id FROM project_members WHERE user_id = $1)
		FOR UPDATE
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to lock memberships: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT m.project_id,
		       (SELECT COUNT(*) FROM project_members a WHERE a.project_id = m.project_id AND a.role = 'project_admin')
		FROM project_members m
		JOIN projects p ON p.id = m.project_id AND p.deleted_at IS NULL
		WHERE m.user_id = $1 AND m.role = 'project_admin' AND p.created_by <> $1
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to check project admins: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			projectID string
			admins    int
		)
		if err := rows.Scan(&projectID, &admins); err != nil {
			return fmt.Errorf("failed to scan project admins: %w", err)
		}
		if err := rbac.CheckAdminFloor(admins, rbac.RoleProjectAdmin, nil); err != nil {
			return storage.ErrLastProjectAdmin
		}
	}
	return rows.Err()
}

func (s *Store) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	var purged int64
	err := s.withTx(ctx, "PurgeExpiredTokens", func(tx *sql.Tx) error {
		statements := []string{
			`UPDATE users SET verification_digest = NULL, verification_expires_at = NULL
			 WHERE verification_expires_at IS NOT NULL AND verification_expires_at <= $1`,
			`UPDATE users SET reset_digest = NULL, reset_expires_at = NULL
			 WHERE reset_expires_at IS NOT NULL AND reset_expires_at <= $1`,
		}
		for _, stmt := range statements {
			res, err := tx.ExecContext(ctx, stmt, now)
			if err != nil {
				return fmt.Errorf("failed to purge tokens: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to purge tokens: %w", err)
			}
			purged += n
		}
		return nil
	})
	return purged, err
}
