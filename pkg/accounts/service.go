// Package accounts implements the account lifecycle: registration, email
// verification, login and logout, refresh token rotation, password reset and
// change, profile and avatar updates, and account deletion.
package accounts

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/platinummonkey/taskboard/pkg/apperrors"
	"github.com/platinummonkey/taskboard/pkg/auth"
	"github.com/platinummonkey/taskboard/pkg/mail"
	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/storage"
	"github.com/platinummonkey/taskboard/pkg/storage/blob"
)

// ObjectStore keeps avatar images
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (blob.Object, error)
	Delete(ctx context.Context, key string) error
}

// Config holds link settings
type Config struct {
	// PublicURL is the externally visible base URL, e.g. https://tasks.example.com
	PublicURL string
}

// Service runs the account flows
type Service struct {
	users   storage.UserStore
	tokens  *auth.TokenService
	mailer  mail.Sender
	avatars ObjectStore
	cfg     Config
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time
}

// Option customizes a Service
type Option func(*Service)

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *observability.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source used to check temporary token expiry
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service. avatars may be nil, in which case avatar
// uploads fail with a dependency error.
func NewService(users storage.UserStore, tokens *auth.TokenService, mailer mail.Sender, avatars ObjectStore, cfg Config, opts ...Option) *Service {
	s := &Service{
		users:   users,
		tokens:  tokens,
		mailer:  mailer,
		avatars: avatars,
		cfg:     cfg,
		logger:  observability.NewNopLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg.PublicURL = strings.TrimRight(s.cfg.PublicURL, "/")
	return s
}

// Tokens returns the token service used for sessions
func (s *Service) Tokens() *auth.TokenService {
	return s.tokens
}

// Normalize lowercases and trims an email or username
func Normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// RegisterInput is a validated registration request
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Register creates an unverified member and mails a verification link. If the
// mail cannot be delivered the pending token is removed and a retryable error
// is returned; the account itself stays.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*storage.User, error) {
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	u := &storage.User{
		Username:     Normalize(in.Username),
		Email:        Normalize(in.Email),
		PasswordHash: hash,
		Avatar:       storage.Avatar{URL: storage.DefaultAvatarURL},
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		s.metrics.RecordAuthEvent("register", "rejected")
		return nil, storage.AppError(err, "User not found")
	}

	log := s.logger.WithField("user_id", u.ID)
	if err := s.sendVerification(ctx, u); err != nil {
		log.WithError(err).Error("verification email not delivered")
		s.metrics.RecordAuthEvent("register", "mail_failed")
		return nil, apperrors.Dependency("Failed to send verification email", err, mail.IsTemporary(err))
	}

	log.Info("user registered")
	s.metrics.RecordAuthEvent("register", "success")
	return u, nil
}

// sendVerification stores a fresh verification token and mails it. On delivery
// failure the token is cleared again.
func (s *Service) sendVerification(ctx context.Context, u *storage.User) error {
	tok, err := s.tokens.IssueTemporaryToken()
	if err != nil {
		return err
	}
	pending := storage.PendingToken{Digest: tok.Digest, ExpiresAt: tok.ExpiresAt}
	if err := s.users.SetVerificationToken(ctx, u.ID, pending); err != nil {
		return err
	}

	msg, err := mail.VerificationEmail(u.Email, u.Username, s.cfg.PublicURL+"/api/v1/auth/verify-email/"+tok.Plaintext)
	if err == nil {
		err = s.deliver(ctx, msg)
	}
	if err != nil {
		if clearErr := s.users.ClearVerificationToken(ctx, u.ID, tok.Digest); clearErr != nil {
			s.logger.WithError(clearErr).WithField("user_id", u.ID).Error("failed to roll back verification token")
		}
		return err
	}
	u.Verification = &pending
	return nil
}

func (s *Service) sendReset(ctx context.Context, u *storage.User) error {
	tok, err := s.tokens.IssueTemporaryToken()
	if err != nil {
		return err
	}
	if err := s.users.SetResetToken(ctx, u.ID, storage.PendingToken{Digest: tok.Digest, ExpiresAt: tok.ExpiresAt}); err != nil {
		return err
	}

	msg, err := mail.PasswordResetEmail(u.Email, u.Username, s.cfg.PublicURL+"/api/v1/auth/reset-password/"+tok.Plaintext)
	if err == nil {
		err = s.deliver(ctx, msg)
	}
	if err != nil {
		if clearErr := s.users.ClearResetToken(ctx, u.ID, tok.Digest); clearErr != nil {
			s.logger.WithError(clearErr).WithField("user_id", u.ID).Error("failed to roll back reset token")
		}
		return err
	}
	return nil
}

func (s *Service) deliver(ctx context.Context, msg mail.Message) error {
	err := s.mailer.Send(ctx, msg)
	switch {
	case err == nil:
		s.metrics.RecordMailDelivery("sent")
	case mail.IsTemporary(err):
		s.metrics.RecordMailDelivery("temporary_failure")
	default:
		s.metrics.RecordMailDelivery("permanent_failure")
	}
	return err
}

// VerifyEmail consumes a verification token
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	invalid := apperrors.Validation("Invalid or expired verification token")
	if auth.ValidateTemporaryTokenFormat(token) != nil {
		return invalid
	}

	digest := auth.HashToken(token)
	u, err := s.users.GetUserByVerificationDigest(ctx, digest)
	if errors.Is(err, storage.ErrNotFound) {
		s.metrics.RecordAuthEvent("verify_email", "invalid")
		return invalid
	}
	if err != nil {
		return storage.AppError(err, "User not found")
	}
	if u.Verification == nil || !s.tokens.VerifyTemporaryToken(token, u.Verification.Digest, u.Verification.ExpiresAt) {
		s.metrics.RecordAuthEvent("verify_email", "invalid")
		return invalid
	}

	ok, err := s.users.ConsumeVerificationToken(ctx, u.ID, digest, s.now())
	if err != nil {
		return storage.AppError(err, "User not found")
	}
	if !ok {
		s.metrics.RecordAuthEvent("verify_email", "invalid")
		return invalid
	}

	s.metrics.RecordAuthEvent("verify_email", "success")
	s.logger.WithField("user_id", u.ID).Info("email verified")
	return nil
}

// ResendVerification mails a new verification link. Unknown and already
// verified addresses, and delivery failures, all look like success.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	u, err := s.users.GetUserByEmail(ctx, Normalize(email))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storage.AppError(err, "User not found")
	}
	if u.EmailVerified {
		return nil
	}
	if err := s.sendVerification(ctx, u); err != nil {
		s.logger.WithError(err).WithField("user_id", u.ID).Error("verification email not delivered")
	}
	return nil
}

// Session is the result of a successful login or rotation
type Session struct {
	User   *storage.User
	Tokens auth.TokenPair
}

var errInvalidCredentials = apperrors.Unauthenticated("Invalid email or password")

// Login checks credentials and starts a new session, replacing any previous
// refresh token
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.users.GetUserByEmail(ctx, Normalize(email))
	if errors.Is(err, storage.ErrNotFound) {
		auth.BurnPasswordCheck(password)
		s.metrics.RecordAuthEvent("login", "invalid_credentials")
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, storage.AppError(err, "User not found")
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		s.metrics.RecordAuthEvent("login", "invalid_credentials")
		return nil, errInvalidCredentials
	}
	if !u.EmailVerified {
		s.metrics.RecordAuthEvent("login", "unverified")
		return nil, apperrors.Forbidden("Please verify your email before logging in")
	}

	pair, err := s.tokens.IssuePair(u.ID, u.Email)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if err := s.users.SetRefreshToken(ctx, u.ID, pair.RefreshToken); err != nil {
		return nil, storage.AppError(err, "User not found")
	}
	u.RefreshToken = pair.RefreshToken

	s.metrics.RecordAuthEvent("login", "success")
	s.logger.WithField("user_id", u.ID).Info("user logged in")
	return &Session{User: u, Tokens: pair}, nil
}

// Logout clears the stored refresh token
func (s *Service) Logout(ctx context.Context, userID string) error {
	if err := s.users.SetRefreshToken(ctx, userID, ""); err != nil {
		return storage.AppError(err, "User not found")
	}
	s.metrics.RecordAuthEvent("logout", "success")
	return nil
}

// Rotation triggers
const (
	TriggerExplicit = "explicit"
	TriggerSilent   = "silent"
)

// Refresh exchanges a refresh token for a new pair. The presented token must
// verify and equal the stored one; the swap is a compare-and-swap so of two
// concurrent rotations with the same token only one succeeds.
func (s *Service) Refresh(ctx context.Context, refreshToken, trigger string) (*Session, error) {
	if refreshToken == "" {
		s.metrics.RecordTokenRotation(trigger, "missing")
		return nil, apperrors.Unauthenticated("Unauthorized access. Login again.")
	}

	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if errors.Is(err, auth.ErrTokenExpired) {
		s.metrics.RecordTokenRotation(trigger, "expired")
		return nil, apperrors.Wrap(apperrors.KindUnauthenticated, "Refresh token expired. Login again.", err)
	}
	if err != nil {
		s.metrics.RecordTokenRotation(trigger, "invalid")
		return nil, apperrors.Wrap(apperrors.KindUnauthenticated, "Unauthorized access. Login again.", err)
	}

	rejected := apperrors.Unauthenticated("Unauthorized access. Login again.")
	u, err := s.users.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		s.metrics.RecordTokenRotation(trigger, "unknown_user")
		return nil, rejected
	}
	if err != nil {
		return nil, storage.AppError(err, "User not found")
	}
	if subtle.ConstantTimeCompare([]byte(u.RefreshToken), []byte(refreshToken)) != 1 {
		s.metrics.RecordTokenRotation(trigger, "mismatch")
		return nil, rejected
	}

	pair, err := s.tokens.IssuePair(u.ID, u.Email)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	swapped, err := s.users.SwapRefreshToken(ctx, u.ID, refreshToken, pair.RefreshToken)
	if err != nil {
		return nil, storage.AppError(err, "User not found")
	}
	if !swapped {
		s.metrics.RecordTokenRotation(trigger, "lost_race")
		return nil, rejected
	}

	u.RefreshToken = pair.RefreshToken
	s.metrics.RecordTokenRotation(trigger, "rotated")
	return &Session{User: u, Tokens: pair}, nil
}

// ForgotPassword mails a reset link. The outcome is the same whether or not the
// address belongs to an account, and delivery failures are only logged.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	u, err := s.users.GetUserByEmail(ctx, Normalize(email))
	if errors.Is(err, storage.ErrNotFound) {
		s.metrics.RecordAuthEvent("forgot_password", "unknown")
		return nil
	}
	if err != nil {
		return storage.AppError(err, "User not found")
	}
	if err := s.sendReset(ctx, u); err != nil {
		s.logger.WithError(err).WithField("user_id", u.ID).Error("password reset email not delivered")
		s.metrics.RecordAuthEvent("forgot_password", "mail_failed")
		return nil
	}
	s.metrics.RecordAuthEvent("forgot_password", "sent")
	return nil
}

// ResetPassword consumes a reset token, sets the new password and ends every session
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	invalid := apperrors.Validation("Invalid or expired token")
	if auth.ValidateTemporaryTokenFormat(token) != nil {
		return invalid
	}

	digest := auth.HashToken(token)
	u, err := s.users.GetUserByResetDigest(ctx, digest)
	if errors.Is(err, storage.ErrNotFound) {
		s.metrics.RecordAuthEvent("reset_password", "invalid")
		return invalid
	}
	if err != nil {
		return storage.AppError(err, "User not found")
	}
	if u.PasswordReset == nil || !s.tokens.VerifyTemporaryToken(token, u.PasswordReset.Digest, u.PasswordReset.ExpiresAt) {
		s.metrics.RecordAuthEvent("reset_password", "invalid")
		return invalid
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return apperrors.Internal(err)
	}
	ok, err := s.users.ConsumeResetToken(ctx, u.ID, digest, s.now(), hash)
	if err != nil {
		return storage.AppError(err, "User not found")
	}
	if !ok {
		s.metrics.RecordAuthEvent("reset_password", "invalid")
		return invalid
	}

	s.metrics.RecordAuthEvent("reset_password", "success")
	s.logger.WithField("user_id", u.ID).Info("password reset")
	return nil
}

// ChangePassword replaces the password after checking the current one and
// ends every session
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return storage.AppError(err, "User not found")
	}
	if !auth.CheckPassword(u.PasswordHash, current) {
		return apperrors.Unauthenticated("Incorrect password")
	}

	hash, err := auth.HashPassword(next)
	if err != nil {
		return apperrors.Internal(err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return storage.AppError(err, "User not found")
	}
	if err := s.users.SetRefreshToken(ctx, userID, ""); err != nil {
		return storage.AppError(err, "User not found")
	}
	s.metrics.RecordAuthEvent("change_password", "success")
	return nil
}

// DeleteAccount removes the account and everything it owns after re-checking
// the password. The avatar object is deleted last and failures are only logged.
func (s *Service) DeleteAccount(ctx context.Context, userID, password string) error {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return storage.AppError(err, "User not found")
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return apperrors.Unauthenticated("Incorrect password")
	}

	if err := s.users.DeleteUserCascade(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrLastProjectAdmin) {
			return apperrors.Wrap(apperrors.KindConflict,
				"You are the only project admin of a project you do not own. Assign another admin first.", err)
		}
		return storage.AppError(err, "User not found")
	}
	s.removeAvatar(ctx, u.ID, u.Avatar.Ref)

	s.metrics.RecordAuthEvent("delete_account", "success")
	s.logger.WithField("user_id", userID).Info("account deleted")
	return nil
}

// GetProfile returns the user record
func (s *Service) GetProfile(ctx context.Context, userID string) (*storage.User, error) {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, storage.AppError(err, "User not found")
	}
	return u, nil
}
