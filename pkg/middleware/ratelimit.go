package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/taskboard/pkg/httputil"
	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/storage/redisclient"
)

// RateLimitConfig is a fixed-window budget per client IP
type RateLimitConfig struct {
	// Name labels metrics and prefixes Redis keys
	Name     string
	Requests int
	Window   time.Duration
	// Message is returned with 429
	Message string
}

// APIRateLimit applies to every API route
func APIRateLimit() RateLimitConfig {
	return RateLimitConfig{
		Name:     "api",
		Requests: 100,
		Window:   15 * time.Minute,
		Message:  "Too many requests, please try again later",
	}
}

// AuthRateLimit applies to registration and login
func AuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		Name:     "auth",
		Requests: 10,
		Window:   15 * time.Minute,
		Message:  "Too many authentication attempts, please try again later",
	}
}

// EmailRateLimit applies to routes that send email
func EmailRateLimit() RateLimitConfig {
	return RateLimitConfig{
		Name:     "email",
		Requests: 5,
		Window:   time.Hour,
		Message:  "Too many email requests, please try again later",
	}
}

// Decision is the outcome of one rate limit check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAfter is the time until the current window ends
	ResetAfter time.Duration
}

// Limiter counts requests per key
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
	Config() RateLimitConfig
}

func decide(cfg RateLimitConfig, count int64, resetAfter time.Duration) Decision {
	remaining := cfg.Requests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:    count <= int64(cfg.Requests),
		Limit:      cfg.Requests,
		Remaining:  remaining,
		ResetAfter: resetAfter,
	}
}

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryLimiter keeps windows in a bounded LRU, for single-instance runs
type MemoryLimiter struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	windows *lru.LRU[string, *window]
	now     func() time.Time
}

// DefaultLimiterKeys bounds the number of tracked clients per limiter
const DefaultLimiterKeys = 10000

// NewMemoryLimiter creates an in-process limiter tracking at most maxKeys clients
func NewMemoryLimiter(cfg RateLimitConfig, maxKeys int) *MemoryLimiter {
	if maxKeys <= 0 {
		maxKeys = DefaultLimiterKeys
	}
	return &MemoryLimiter{
		cfg:     cfg,
		windows: lru.NewLRU[string, *window](maxKeys, nil, cfg.Window),
		now:     time.Now,
	}
}

// SetClock overrides the time source
func (l *MemoryLimiter) SetClock(now func() time.Time) {
	l.now = now
}

func (l *MemoryLimiter) Config() RateLimitConfig {
	return l.cfg
}

// Allow counts a request for key in the current window
func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows.Get(key)
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.cfg.Window)}
		l.windows.Add(key, w)
	}
	w.count++
	return decide(l.cfg, w.count, w.resetAt.Sub(now)), nil
}

// RedisLimiter shares windows between instances through Redis
type RedisLimiter struct {
	client *redisclient.Client
	cfg    RateLimitConfig
	prefix string
}

func NewRedisLimiter(client *redisclient.Client, cfg RateLimitConfig) *RedisLimiter {
	return &RedisLimiter{client: client, cfg: cfg, prefix: "taskboard:ratelimit:" + cfg.Name + ":"}
}

func (l *RedisLimiter) Config() RateLimitConfig {
	return l.cfg
}

// Allow counts a request for key. The window starts with the first request
// and is not extended by later ones.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	count, left, err := l.client.IncrWindow(ctx, l.prefix+key, l.cfg.Window)
	if err != nil {
		return Decision{Allowed: true, Limit: l.cfg.Requests, Remaining: l.cfg.Requests}, fmt.Errorf("rate limit %s: %w", l.cfg.Name, err)
	}
	return decide(l.cfg, count, left), nil
}

// RateLimit rejects clients over the limiter's budget with 429. Limiter errors
// are logged and the request is let through.
func RateLimit(limiter Limiter, metrics *observability.Metrics) func(http.Handler) http.Handler {
	cfg := limiter.Config()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := limiter.Allow(r.Context(), httputil.ClientIP(r))
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Warn("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("RateLimit-Reset", strconv.Itoa(seconds(d.ResetAfter)))

			if !d.Allowed {
				metrics.RecordRateLimitRejection(cfg.Name)
				w.Header().Set("Retry-After", strconv.Itoa(seconds(d.ResetAfter)))
				httputil.WriteErrorMessage(w, http.StatusTooManyRequests, cfg.Message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
