package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/taskboard/pkg/accounts"
	"github.com/platinummonkey/taskboard/pkg/apperrors"
	"github.com/platinummonkey/taskboard/pkg/audit"
	"github.com/platinummonkey/taskboard/pkg/auth"
	"github.com/platinummonkey/taskboard/pkg/httputil"
	"github.com/platinummonkey/taskboard/pkg/middleware"
	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/storage"
)

// AuthHandlers serves registration, sessions and account management
type AuthHandlers struct {
	accounts *accounts.Service
	cookies  middleware.Cookies
	session  *middleware.SessionMiddleware
	limiters Limiters
	metrics  *observability.Metrics
	audit    audit.Logger
	logger   *observability.Logger
}

// NewAuthHandlers creates a new auth handlers instance
func NewAuthHandlers(acc *accounts.Service, cookies middleware.Cookies, session *middleware.SessionMiddleware, limiters Limiters, metrics *observability.Metrics, auditor audit.Logger, logger *observability.Logger) *AuthHandlers {
	if auditor == nil {
		auditor = audit.NopLogger{}
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &AuthHandlers{accounts: acc, cookies: cookies, session: session, limiters: limiters, metrics: metrics, audit: auditor, logger: logger}
}

// record writes an audit event for r. Audit failures are logged and never
// fail the request.
func (h *AuthHandlers) record(r *http.Request, typ audit.EventType, err error, userID, email string) {
	status := audit.StatusSuccess
	if err != nil {
		status = audit.StatusFailure
	}
	e := audit.FromRequest(r, typ, status).WithUser(userID).WithEmail(email)
	if err != nil {
		e.WithMessage(err.Error())
	}
	if logErr := h.audit.Log(r.Context(), e); logErr != nil {
		h.logger.WithError(logErr).WithField("event_type", string(typ)).Warn("failed to write audit event")
	}
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	authLimit := middleware.RateLimit(h.limiters.Auth, h.metrics)
	emailLimit := middleware.RateLimit(h.limiters.Email, h.metrics)
	session := h.session.Handler

	router.Handle("/register", authLimit(http.HandlerFunc(h.register))).Methods(http.MethodPost)
	router.Handle("/login", authLimit(http.HandlerFunc(h.login))).Methods(http.MethodPost)
	router.HandleFunc("/verify-email/{token}", h.verifyEmail).Methods(http.MethodGet)
	router.HandleFunc("/refresh-token", h.refreshToken).Methods(http.MethodPost)
	router.Handle("/forgot-password", emailLimit(http.HandlerFunc(h.forgotPassword))).Methods(http.MethodPost)
	router.HandleFunc("/reset-password/{token}", h.resetPassword).Methods(http.MethodPost)
	router.Handle("/resend-verification-email", emailLimit(http.HandlerFunc(h.resendVerification))).Methods(http.MethodPost)

	router.Handle("/logout", session(http.HandlerFunc(h.logout))).Methods(http.MethodPost)
	router.Handle("/change-password", session(http.HandlerFunc(h.changePassword))).Methods(http.MethodPost)
	router.Handle("/profile", session(http.HandlerFunc(h.profile))).Methods(http.MethodGet)
	router.Handle("/update-profile", session(http.HandlerFunc(h.updateProfile))).Methods(http.MethodPatch)
	router.Handle("/delete-account", session(http.HandlerFunc(h.deleteAccount))).Methods(http.MethodDelete)
}

// register handles POST /auth/register
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.Username = accounts.Normalize(req.Username)
	req.Email = accounts.Normalize(req.Email)

	v := httputil.NewValidator()
	if v.Required("username", req.Username) {
		v.Username("username", req.Username)
	}
	if v.Required("email", req.Email) {
		v.Email("email", req.Email)
	}
	if v.Required("password", req.Password) {
		v.Password("password", req.Password)
	}
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	u, err := h.accounts.Register(r.Context(), accounts.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		if apperrors.Is(err, apperrors.KindConflict) {
			h.record(r, audit.EventRegister, err, "", req.Email)
		}
		httputil.WriteError(w, r, err)
		return
	}
	h.record(r, audit.EventRegister, nil, u.ID, u.Email)
	httputil.WriteCreated(w, "User registered successfully. Please verify your email.", u)
}

// verifyEmail handles GET /auth/verify-email/{token}
func (h *AuthHandlers) verifyEmail(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	if err := h.accounts.VerifyEmail(r.Context(), token); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.record(r, audit.EventEmailVerified, nil, "", "")
	httputil.WriteOK(w, "Email verified successfully", nil)
}

type sessionResponse struct {
	User         *storage.User `json:"user"`
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
}

// login handles POST /auth/login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	v := httputil.NewValidator()
	v.Required("email", req.Email)
	v.Required("password", req.Password)
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	email := accounts.Normalize(req.Email)
	sess, err := h.accounts.Login(r.Context(), email, req.Password)
	if err != nil {
		if apperrors.Is(err, apperrors.KindUnauthenticated) || apperrors.Is(err, apperrors.KindForbidden) {
			h.record(r, audit.EventLoginFailed, err, "", email)
		}
		httputil.WriteError(w, r, err)
		return
	}
	h.record(r, audit.EventLogin, nil, sess.User.ID, sess.User.Email)
	h.cookies.Set(w, sess.Tokens)
	httputil.WriteOK(w, "User logged in successfully", sessionResponse{
		User:         sess.User,
		AccessToken:  sess.Tokens.AccessToken,
		RefreshToken: sess.Tokens.RefreshToken,
	})
}

// logout handles POST /auth/logout
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Logout(r.Context(), principal(r).ID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.record(r, audit.EventLogout, nil, principal(r).ID, "")
	h.cookies.Clear(w)
	httputil.WriteOK(w, "User logged out successfully", nil)
}

// refreshToken handles POST /auth/refresh-token. The token comes from the
// refresh cookie or, failing that, the request body.
func (h *AuthHandlers) refreshToken(w http.ResponseWriter, r *http.Request) {
	token := middleware.RefreshToken(r)
	if token == "" && r.ContentLength != 0 {
		var req struct {
			RefreshToken string `json:"refreshToken"`
		}
		if !httputil.ParseJSONOrError(w, r, &req) {
			return
		}
		token = strings.TrimSpace(req.RefreshToken)
	}

	sess, err := h.accounts.Refresh(r.Context(), token, accounts.TriggerExplicit)
	if err != nil {
		if apperrors.Is(err, apperrors.KindUnauthenticated) {
			h.cookies.Clear(w)
			if token != "" {
				h.record(r, audit.EventTokenRejected, err, "", "")
			}
		}
		httputil.WriteError(w, r, err)
		return
	}
	h.record(r, audit.EventTokenRefresh, nil, sess.User.ID, "")
	h.cookies.Set(w, sess.Tokens)
	httputil.WriteOK(w, "Access token refreshed", auth.TokenPair{
		AccessToken:  sess.Tokens.AccessToken,
		RefreshToken: sess.Tokens.RefreshToken,
	})
}

func (h *AuthHandlers) parseEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req struct {
		Email string `json:"email"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return "", false
	}
	email := accounts.Normalize(req.Email)
	v := httputil.NewValidator()
	if v.Required("email", email) {
		v.Email("email", email)
	}
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return "", false
	}
	return email, true
}

// forgotPassword handles POST /auth/forgot-password
func (h *AuthHandlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	email, ok := h.parseEmail(w, r)
	if !ok {
		return
	}
	if err := h.accounts.ForgotPassword(r.Context(), email); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.record(r, audit.EventPasswordResetSent, nil, "", email)
	httputil.WriteOK(w, "If an account exists for this email, a password reset link has been sent", nil)
}

// resendVerification handles POST /auth/resend-verification-email
func (h *AuthHandlers) resendVerification(w http.ResponseWriter, r *http.Request) {
	email, ok := h.parseEmail(w, r)
	if !ok {
		return
	}
	if err := h.accounts.ResendVerification(r.Context(), email); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "If the account needs verification, a new verification email has been sent", nil)
}

// resetPassword handles POST /auth/reset-password/{token}
func (h *AuthHandlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewPassword string `json:"newPassword"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	v := httputil.NewValidator()
	if v.Required("newPassword", req.NewPassword) {
		v.Password("newPassword", req.NewPassword)
	}
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	if err := h.accounts.ResetPassword(r.Context(), mux.Vars(r)["token"], req.NewPassword); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.record(r, audit.EventPasswordReset, nil, "", "")
	h.cookies.Clear(w)
	httputil.WriteOK(w, "Password reset successfully", nil)
}

// changePassword handles POST /auth/change-password
func (h *AuthHandlers) changePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	v := httputil.NewValidator()
	v.Required("currentPassword", req.CurrentPassword)
	if v.Required("newPassword", req.NewPassword) {
		v.Password("newPassword", req.NewPassword)
	}
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	err := h.accounts.ChangePassword(r.Context(), principal(r).ID, req.CurrentPassword, req.NewPassword)
	h.record(r, audit.EventPasswordChange, err, principal(r).ID, "")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.cookies.Clear(w)
	httputil.WriteOK(w, "Password changed successfully. Please log in again.", nil)
}

// profile handles GET /auth/profile
func (h *AuthHandlers) profile(w http.ResponseWriter, r *http.Request) {
	u, err := h.accounts.GetProfile(r.Context(), principal(r).ID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "User profile fetched successfully", u)
}

// updateProfile handles PATCH /auth/update-profile with either a JSON body or a
// multipart form carrying "username" and an "avatar" file
func (h *AuthHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	var update accounts.ProfileUpdate
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		update, err = parseProfileForm(r)
	} else {
		var req struct {
			Username *string `json:"username"`
		}
		err = httputil.ParseJSON(r, &req)
		update.Username = req.Username
	}
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	v := httputil.NewValidator()
	if update.Username != nil {
		name := accounts.Normalize(*update.Username)
		update.Username = &name
		v.Username("username", name)
	}
	if update.Username == nil && update.Avatar == nil {
		v.Add("username", "username or avatar is required")
	}
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	u, err := h.accounts.UpdateProfile(r.Context(), principal(r).ID, update)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteOK(w, "Profile updated successfully", u)
}

func parseProfileForm(r *http.Request) (accounts.ProfileUpdate, error) {
	var update accounts.ProfileUpdate
	if err := r.ParseMultipartForm(accounts.MaxAvatarBytes); err != nil {
		return update, apperrors.Validation("Invalid form data")
	}
	if values, ok := r.MultipartForm.Value["username"]; ok && len(values) > 0 {
		name := values[0]
		update.Username = &name
	}

	file, header, err := r.FormFile("avatar")
	if errors.Is(err, http.ErrMissingFile) {
		return update, nil
	}
	if err != nil {
		return update, apperrors.Validation("Invalid avatar",
			apperrors.FieldError{Field: "avatar", Message: "could not be read"})
	}
	defer file.Close()

	avatar, err := readAvatar(file, header)
	if err != nil {
		return update, err
	}
	update.Avatar = avatar
	return update, nil
}

// readAvatar reads at most one byte past the limit so oversized files are
// rejected by the account service. The content type is sniffed from the data.
func readAvatar(file multipart.File, header *multipart.FileHeader) (*accounts.AvatarUpload, error) {
	data, err := io.ReadAll(io.LimitReader(file, accounts.MaxAvatarBytes+1))
	if err != nil {
		return nil, apperrors.Validation("Invalid avatar",
			apperrors.FieldError{Field: "avatar", Message: "could not be read"})
	}
	contentType := http.DetectContentType(data)
	if contentType == "application/octet-stream" {
		contentType = header.Header.Get("Content-Type")
	}
	return &accounts.AvatarUpload{ContentType: contentType, Data: data}, nil
}

// deleteAccount handles DELETE /auth/delete-account
func (h *AuthHandlers) deleteAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	v := httputil.NewValidator()
	v.Required("password", req.Password)
	if err := v.Err(); err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	err := h.accounts.DeleteAccount(r.Context(), principal(r).ID, req.Password)
	h.record(r, audit.EventAccountDelete, err, principal(r).ID, "")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.cookies.Clear(w)
	httputil.WriteOK(w, "Account deleted successfully", nil)
}
