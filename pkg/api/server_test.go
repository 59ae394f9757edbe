package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/taskboard/pkg/accounts"
	"github.com/platinummonkey/taskboard/pkg/audit"
	"github.com/platinummonkey/taskboard/pkg/auth"
	"github.com/platinummonkey/taskboard/pkg/httputil"
	"github.com/platinummonkey/taskboard/pkg/mail"
	"github.com/platinummonkey/taskboard/pkg/middleware"
	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
	"github.com/platinummonkey/taskboard/pkg/storage/memory"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (m *fakeMailer) Send(ctx context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

var linkToken = regexp.MustCompile(`/api/v1/auth/(?:verify-email|reset-password)/([0-9a-f]{64})`)

func (m *fakeMailer) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	match := linkToken.FindStringSubmatch(m.sent[len(m.sent)-1].Text)
	require.Len(t, match, 2)
	return match[1]
}

type testServer struct {
	server *Server
	store  *memory.Store
	mailer *fakeMailer
	now    time.Time
	audit  *audit.Recorder
}

type serverOption func(*Config)

func withHealth(h *observability.HealthChecker) serverOption {
	return func(c *Config) { c.Health = h }
}

func withAuthBudget(requests int) serverOption {
	return func(c *Config) {
		c.Limiters.Auth = middleware.NewMemoryLimiter(middleware.RateLimitConfig{
			Name:     "auth",
			Requests: requests,
			Window:   time.Hour,
			Message:  "Too many authentication attempts, please try again later",
		}, 100)
	}
}

func withTrustedProxies(t *testing.T, cidrs ...string) serverOption {
	trusted, err := httputil.ParseTrustedProxies(cidrs)
	require.NoError(t, err)
	return func(c *Config) { c.TrustedProxies = trusted }
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	ts := &testServer{
		store:  memory.New(),
		mailer: &fakeMailer{},
		audit:  &audit.Recorder{},
		now:    time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return ts.now }
	ts.store.SetClock(clock)

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  "access-secret-access-secret-access",
		AccessTTL:     15 * time.Minute,
		RefreshSecret: "refresh-secret-refresh-secret-refresh",
		RefreshTTL:    24 * time.Hour,
	}, auth.WithClock(clock))
	require.NoError(t, err)

	acc := accounts.NewService(ts.store, tokens, ts.mailer, nil, accounts.Config{PublicURL: "http://localhost:8000"}, accounts.WithClock(clock))
	cookies := middleware.Cookies{MaxAge: tokens.RefreshTTL()}
	cfg := Config{
		Services: NewServices(ts.store, nil, acc, nil),
		Session:  middleware.NewSessionMiddleware(tokens, ts.store, acc, cookies, nil),
		Cookies:  cookies,
		Audit:    ts.audit,
		Limiters: Limiters{
			API: middleware.NewMemoryLimiter(middleware.RateLimitConfig{
				Name: "api", Requests: 1000, Window: time.Hour, Message: "Too many requests, please try again later",
			}, 100),
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	ts.server = NewServer(cfg)
	return ts
}

type envelope struct {
	Status  int                 `json:"status"`
	Message string              `json:"message"`
	Data    json.RawMessage     `json:"data"`
	Errors  []map[string]string `json:"errors"`
	Success bool                `json:"success"`
}

// session carries the cookies of one signed-in user
type session struct {
	access  string
	refresh string
	user    storage.User
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, s *session) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, PathPrefix+path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s != nil {
		req.AddCookie(&http.Cookie{Name: middleware.AccessCookie, Value: s.access})
		req.AddCookie(&http.Cookie{Name: middleware.RefreshCookie, Value: s.refresh})
	}
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		env = decodeEnvelope(t, rec)
	}
	return rec, env
}

// decodeEnvelope requires exactly one envelope in the body, with no unknown
// fields, whose status and success flag agree with the response code
func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader(rec.Body.Bytes()))
	dec.DisallowUnknownFields()

	var env envelope
	require.NoError(t, dec.Decode(&env), rec.Body.String())
	require.ErrorIs(t, dec.Decode(&struct{}{}), io.EOF, "trailing data: %s", rec.Body.String())

	require.Equal(t, rec.Code, env.Status, rec.Body.String())
	require.Equal(t, rec.Code < http.StatusBadRequest, env.Success, rec.Body.String())
	require.NotNil(t, env.Errors, rec.Body.String())
	return env
}

func decode(t *testing.T, env envelope, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, dest))
}

func (ts *testServer) signUp(t *testing.T, name string) *session {
	t.Helper()
	rec, _ := ts.do(t, http.MethodPost, "/auth/register", map[string]string{
		"username": name,
		"email":    name + "@example.com",
		"password": "password123",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, _ = ts.do(t, http.MethodGet, "/auth/verify-email/"+ts.mailer.lastToken(t), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	return ts.login(t, name)
}

func (ts *testServer) login(t *testing.T, name string) *session {
	t.Helper()
	rec, env := ts.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    name + "@example.com",
		"password": "password123",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var data sessionResponse
	decode(t, env, &data)
	require.NotNil(t, data.User)
	return &session{access: data.AccessToken, refresh: data.RefreshToken, user: *data.User}
}

// signUpAdmin seeds a verified global administrator and signs it in
func (ts *testServer) signUpAdmin(t *testing.T, name string) *session {
	t.Helper()
	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)
	require.NoError(t, ts.store.CreateUser(context.Background(), &storage.User{
		Username:      name,
		Email:         name + "@example.com",
		PasswordHash:  hash,
		Role:          rbac.GlobalAdmin,
		EmailVerified: true,
	}))
	return ts.login(t, name)
}

func TestServerUnknownRoute(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "Route not found", env.Message)
}

func TestServerMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(t, http.MethodPut, "/auth/login", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.False(t, env.Success)
}

func TestServerProtectedRouteRequiresSession(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/projects", "/notifications", "/auth/profile"} {
		rec, env := ts.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.False(t, env.Success, path)
	}
}

func TestServerWithoutMetrics(t *testing.T) {
	ts := newTestServer(t)
	require.Nil(t, ts.server.cfg.Metrics)

	rec, env := ts.do(t, http.MethodGet, "/healthcheck", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "Server is running", env.Message)

	alice := ts.signUp(t, "alice")
	rec, env = ts.do(t, http.MethodGet, "/auth/profile", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
}

func TestServerRequestID(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, http.MethodGet, "/healthcheck", nil, nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHealthcheck(t *testing.T) {
	t.Run("without checker", func(t *testing.T) {
		ts := newTestServer(t)
		rec, env := ts.do(t, http.MethodGet, "/healthcheck", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var report HealthReport
		decode(t, env, &report)
		assert.Equal(t, HealthReport{Server: "ok", Database: "disabled", Redis: "disabled"}, report)
	})

	t.Run("database up, redis down", func(t *testing.T) {
		checker := observability.NewHealthChecker("test", time.Second,
			observability.Dependency{Name: DependencyDatabase, Required: true, Ping: func(context.Context) error { return nil }},
			observability.Dependency{Name: DependencyRedis, Ping: func(context.Context) error { return assert.AnError }},
		)
		ts := newTestServer(t, withHealth(checker))
		rec, env := ts.do(t, http.MethodGet, "/healthcheck", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var report HealthReport
		decode(t, env, &report)
		assert.Equal(t, "up", report.Database)
		assert.Equal(t, "down", report.Redis)
	})

	t.Run("database down", func(t *testing.T) {
		checker := observability.NewHealthChecker("test", time.Second,
			observability.Dependency{Name: DependencyDatabase, Required: true, Ping: func(context.Context) error { return assert.AnError }},
		)
		ts := newTestServer(t, withHealth(checker))
		rec, env := ts.do(t, http.MethodGet, "/healthcheck", nil, nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.False(t, env.Success)
		assert.Equal(t, "Service unavailable", env.Message)

		var report HealthReport
		decode(t, env, &report)
		assert.Equal(t, "down", report.Database)
		assert.Equal(t, "disabled", report.Redis)
	})
}
