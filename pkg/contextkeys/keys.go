// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here so that key
// usage is discoverable and typos cannot create silent misses.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithPrincipal(ctx, user)
//	user, _ := ctx.Value(contextkeys.PrincipalKey).(*storage.User)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains the authenticated *storage.User
	// Set by: middleware.SessionMiddleware (pkg/middleware/session.go)
	// Required by: every handler behind the session layer
	PrincipalKey Key = "principal"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, error responses
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user ID string
	// Set by: session middleware after authentication
	// Used by: Logger
	UserIDKey Key = "user_id"

	// ClientIPKey contains the resolved caller address string
	// Set by: httputil.RealIPMiddleware
	// Used by: httputil.ClientIP (rate limiters, audit, request logs)
	ClientIPKey Key = "client_ip"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.LoggingMiddleware
	LoggerKey Key = "logger"
)

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithClientIP adds the resolved caller address to the context
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

func lookup[T any](ctx context.Context, key Key) T {
	v, _ := ctx.Value(key).(T)
	return v
}

// GetRequestID returns the request id, "" outside a request
func GetRequestID(ctx context.Context) string {
	return lookup[string](ctx, RequestIDKey)
}

// GetUserID returns the authenticated user id, "" before authentication
func GetUserID(ctx context.Context) string {
	return lookup[string](ctx, UserIDKey)
}

// GetClientIP returns the caller address resolved by RealIPMiddleware, "" if unset
func GetClientIP(ctx context.Context) string {
	return lookup[string](ctx, ClientIPKey)
}
