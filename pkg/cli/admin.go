package cli

import (
	"context"

	"github.com/platinummonkey/taskboard/pkg/accounts"
	"github.com/platinummonkey/taskboard/pkg/apperrors"
	"github.com/platinummonkey/taskboard/pkg/auth"
	"github.com/platinummonkey/taskboard/pkg/httputil"
	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
)

// AdminInput describes a global administrator account
type AdminInput struct {
	Username string
	Email    string
	Password string
}

// CreateAdmin stores a verified global administrator. The API never grants the
// global admin role, so operators seed it here.
func CreateAdmin(ctx context.Context, users storage.UserStore, in AdminInput) (*storage.User, error) {
	username := accounts.Normalize(in.Username)
	email := accounts.Normalize(in.Email)

	v := httputil.NewValidator()
	if v.Required("username", username) {
		v.Username("username", username)
	}
	if v.Required("email", email) {
		v.Email("email", email)
	}
	if v.Required("password", in.Password) {
		v.Password("password", in.Password)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	u := &storage.User{
		Username:      username,
		Email:         email,
		PasswordHash:  hash,
		Role:          rbac.GlobalAdmin,
		EmailVerified: true,
		Avatar:        storage.Avatar{URL: storage.DefaultAvatarURL},
	}
	if err := users.CreateUser(ctx, u); err != nil {
		return nil, storage.AppError(err, "User not found")
	}
	return u, nil
}

// FieldErrors flattens a validation error for terminal output
func FieldErrors(err error) []string {
	appErr, ok := apperrors.As(err)
	if !ok || len(appErr.Fields) == 0 {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(appErr.Fields))
	for _, f := range appErr.Fields {
		out = append(out, f.Field+": "+f.Message)
	}
	return out
}
