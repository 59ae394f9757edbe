package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAccessSecret  = "access-secret-access-secret-0123456789"
	testRefreshSecret = "refresh-secret-refresh-secret-0123456789"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T) (*TokenService, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	svc, err := NewTokenService(TokenConfig{
		AccessSecret:  testAccessSecret,
		AccessTTL:     time.Hour,
		RefreshSecret: testRefreshSecret,
		RefreshTTL:    30 * 24 * time.Hour,
	}, WithClock(clock.Now))
	require.NoError(t, err)
	return svc, clock
}

func TestNewTokenService_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  TokenConfig
	}{
		{"missing secrets", TokenConfig{AccessTTL: time.Hour, RefreshTTL: time.Hour}},
		{"same secret", TokenConfig{AccessSecret: "s", RefreshSecret: "s", AccessTTL: time.Hour, RefreshTTL: time.Hour}},
		{"zero ttl", TokenConfig{AccessSecret: "a", RefreshSecret: "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTokenService(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestAccessToken_RoundTrip(t *testing.T) {
	svc, _ := newTestService(t)

	token, err := svc.IssueAccessToken("user-1", "alice@x.com")
	require.NoError(t, err)

	claims, err := svc.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "alice@x.com", claims.Email)
	assert.Equal(t, "user-1", claims.Subject)
	assert.NotEmpty(t, claims.ID)
}

func TestVerify_ExpiredIsDistinguished(t *testing.T) {
	svc, clock := newTestService(t)

	token, err := svc.IssueAccessToken("user-1", "alice@x.com")
	require.NoError(t, err)

	clock.Advance(time.Hour + time.Second)
	_, err = svc.VerifyAccessToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.NotErrorIs(t, err, ErrTokenInvalid)
}

func TestVerify_InvalidTokens(t *testing.T) {
	svc, _ := newTestService(t)

	access, err := svc.IssueAccessToken("user-1", "alice@x.com")
	require.NoError(t, err)
	refresh, err := svc.IssueRefreshToken("user-1", "alice@x.com")
	require.NoError(t, err)

	claims := Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)),
		},
	}
	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	hs512Token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testAccessSecret))
	require.NoError(t, err)
	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("some-other-secret-some-other-secret"))
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:           "user-1",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}).SignedString([]byte(testAccessSecret))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"signed with another secret", foreign},
		{"truncated", access[:len(access)/2]},
		{"refresh token used as access", refresh},
		{"alg none", noneToken},
		{"unexpected algorithm", hs512Token},
		{"missing expiry", noExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.VerifyAccessToken(tt.token)
			assert.ErrorIs(t, err, ErrTokenInvalid)
		})
	}
}

func TestVerify_ExpiredWithBadSignatureIsInvalid(t *testing.T) {
	svc, clock := newTestService(t)

	token, err := svc.IssueAccessToken("user-1", "alice@x.com")
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)

	_, err = svc.VerifyRefreshToken(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestIssuePair_UniqueWithinSameSecond(t *testing.T) {
	svc, _ := newTestService(t)

	first, err := svc.IssuePair("user-1", "alice@x.com")
	require.NoError(t, err)
	second, err := svc.IssuePair("user-1", "alice@x.com")
	require.NoError(t, err)

	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)

	claims, err := svc.VerifyRefreshToken(second.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
}
