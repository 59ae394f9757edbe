package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/taskboard/pkg/auth"
)

// Session cookie names
const (
	AccessCookie  = "accessToken"
	RefreshCookie = "refreshToken"
)

// CookiePath limits both session cookies to API requests
const CookiePath = "/api/v1"

// Cookies writes and clears the session cookies
type Cookies struct {
	Secure bool
	// MaxAge bounds both cookies. It is the refresh lifetime so an expired access
	// token still reaches the server and can be rotated silently.
	MaxAge time.Duration
}

// Set writes both tokens
func (c Cookies) Set(w http.ResponseWriter, pair auth.TokenPair) {
	http.SetCookie(w, c.cookie(AccessCookie, pair.AccessToken, int(c.MaxAge.Seconds())))
	http.SetCookie(w, c.cookie(RefreshCookie, pair.RefreshToken, int(c.MaxAge.Seconds())))
}

// Clear expires both cookies
func (c Cookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(AccessCookie, "", -1))
	http.SetCookie(w, c.cookie(RefreshCookie, "", -1))
}

func (c Cookies) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     CookiePath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// AccessToken reads the access token from the cookie, falling back to a
// bearer Authorization header
func AccessToken(r *http.Request) string {
	if c, err := r.Cookie(AccessCookie); err == nil && c.Value != "" {
		return c.Value
	}
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// RefreshToken reads the refresh token cookie
func RefreshToken(r *http.Request) string {
	if c, err := r.Cookie(RefreshCookie); err == nil {
		return c.Value
	}
	return ""
}
