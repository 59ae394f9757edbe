// Package middleware provides the session layer and rate limiting for the API.
//
// SessionMiddleware authenticates each request from the access token carried in
// the accessToken cookie or a bearer header:
//
//	valid access token             -> authenticated
//	expired access token + refresh -> rotate pair, set cookies, authenticated
//	missing or invalid token       -> rejected: both cookies cleared, 401
//
// Rotation goes through accounts.Service.Refresh, which swaps the stored
// refresh token atomically, so a refresh token is good for exactly one
// rotation.
//
// RateLimit applies a fixed-window budget per client IP. MemoryLimiter keeps
// windows in a bounded LRU; RedisLimiter shares them between instances.
// Limiter failures let the request through.
package middleware
