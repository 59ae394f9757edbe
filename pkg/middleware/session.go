package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/taskboard/pkg/accounts"
	"github.com/platinummonkey/taskboard/pkg/apperrors"
	"github.com/platinummonkey/taskboard/pkg/auth"
	"github.com/platinummonkey/taskboard/pkg/contextkeys"
	"github.com/platinummonkey/taskboard/pkg/httputil"
	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/storage"
)

// SessionState is a step of per-request authentication
type SessionState int

const (
	StateNoToken SessionState = iota
	StateAccessValid
	StateAccessExpired
	StateRefreshAttempted
	StateAuthenticated
	StateRejected
)

func (s SessionState) String() string {
	switch s {
	case StateNoToken:
		return "no_token"
	case StateAccessValid:
		return "access_valid"
	case StateAccessExpired:
		return "access_expired"
	case StateRefreshAttempted:
		return "refresh_attempted"
	case StateAuthenticated:
		return "authenticated"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// UserLookup resolves the principal named by a token
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*storage.User, error)
}

// Rotator exchanges a refresh token for a new pair
type Rotator interface {
	Refresh(ctx context.Context, refreshToken, trigger string) (*accounts.Session, error)
}

// SessionMiddleware authenticates requests from the access token and rotates
// an expired one silently when the refresh token is still good
type SessionMiddleware struct {
	tokens  *auth.TokenService
	users   UserLookup
	rotator Rotator
	cookies Cookies
	metrics *observability.Metrics
}

// NewSessionMiddleware creates the session layer. metrics may be nil.
func NewSessionMiddleware(tokens *auth.TokenService, users UserLookup, rotator Rotator, cookies Cookies, metrics *observability.Metrics) *SessionMiddleware {
	return &SessionMiddleware{tokens: tokens, users: users, rotator: rotator, cookies: cookies, metrics: metrics}
}

// Authentication outcome
type Authentication struct {
	User  *storage.User
	State SessionState
	// Rotated is set when a fresh pair was issued during this request
	Rotated *auth.TokenPair
	Err     error
}

// Authenticate runs the session state machine for r. It has no side effects on
// the response; Handler applies them.
func (m *SessionMiddleware) Authenticate(r *http.Request) Authentication {
	ctx := r.Context()

	access := AccessToken(r)
	if access == "" {
		return rejected(apperrors.Unauthenticated("Unauthorized request"))
	}

	claims, err := m.tokens.VerifyAccessToken(access)
	switch {
	case err == nil:
		// StateAccessValid
		u, err := m.users.GetUserByID(ctx, claims.UserID)
		if errors.Is(err, storage.ErrNotFound) {
			return rejected(apperrors.Unauthenticated("Invalid access token"))
		}
		if err != nil {
			return Authentication{State: StateRejected, Err: storage.AppError(err, "User not found")}
		}
		return Authentication{User: u, State: StateAuthenticated}

	case errors.Is(err, auth.ErrTokenExpired):
		return m.rotate(ctx, RefreshToken(r))

	default:
		return rejected(apperrors.Wrap(apperrors.KindUnauthenticated, "Invalid access token", err))
	}
}

// rotate handles StateAccessExpired
func (m *SessionMiddleware) rotate(ctx context.Context, refresh string) Authentication {
	if refresh == "" {
		return rejected(apperrors.Unauthenticated("Access token expired. Login again."))
	}

	// StateRefreshAttempted
	sess, err := m.rotator.Refresh(ctx, refresh, accounts.TriggerSilent)
	if err != nil {
		if !apperrors.Is(err, apperrors.KindUnauthenticated) && apperrors.KindOf(err) != apperrors.KindDependency {
			err = apperrors.Wrap(apperrors.KindUnauthenticated, "Unauthorized access. Login again.", err)
		}
		return rejected(err)
	}
	return Authentication{User: sess.User, State: StateAuthenticated, Rotated: &sess.Tokens}
}

func rejected(err error) Authentication {
	return Authentication{State: StateRejected, Err: err}
}

// Handler requires an authenticated session. Rejections clear both cookies and
// answer 401; rotations set the new cookies before the wrapped handler runs.
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := m.Authenticate(r)
		if a.State != StateAuthenticated {
			m.metrics.RecordSession(StateRejected.String())
			m.cookies.Clear(w)
			httputil.WriteError(w, r, a.Err)
			return
		}

		if a.Rotated != nil {
			m.cookies.Set(w, *a.Rotated)
			m.metrics.RecordSession("rotated")
		} else {
			m.metrics.RecordSession(StateAuthenticated.String())
		}

		ctx := contextkeys.WithPrincipal(r.Context(), a.User)
		ctx = contextkeys.WithUserID(ctx, a.User.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CurrentUser returns the authenticated user stored by SessionMiddleware
func CurrentUser(ctx context.Context) (*storage.User, bool) {
	u, ok := ctx.Value(contextkeys.PrincipalKey).(*storage.User)
	return u, ok && u != nil
}
