// Package cache puts a Redis cache-aside layer in front of the project and
// membership lookups that every authorization check performs.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
	"github.com/platinummonkey/taskboard/pkg/storage/redisclient"
)

// TTLs for cached entries
type TTLs struct {
	Project    time.Duration
	Membership time.Duration
}

// DefaultTTLs keeps membership entries short since roles gate every request
func DefaultTTLs() TTLs {
	return TTLs{
		Project:    5 * time.Minute,
		Membership: time.Minute,
	}
}

// memberEntry is the cached form of a membership lookup; Found=false caches a miss
type memberEntry struct {
	Role  rbac.ProjectRole `json:"role"`
	Found bool             `json:"found"`
}

// Store decorates a storage.Store. Cache failures are logged and the call falls
// through to the underlying store.
type Store struct {
	storage.Store
	redis   *redisclient.Client
	ttl     TTLs
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New wraps store with a Redis cache
func New(store storage.Store, redis *redisclient.Client, ttl TTLs, logger *observability.Logger) *Store {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Store{Store: store, redis: redis, ttl: ttl, logger: logger}
}

// WithMetrics records cache hits and misses on m
func (s *Store) WithMetrics(m *observability.Metrics) *Store {
	s.metrics = m
	return s
}

var _ storage.Store = (*Store)(nil)

func projectKey(id string) string {
	return fmt.Sprintf("taskboard:project:%s", id)
}

func memberKey(projectID, userID string) string {
	return fmt.Sprintf("taskboard:member:%s:%s", projectID, userID)
}

// GetProject reads through the cache
func (s *Store) GetProject(ctx context.Context, id string) (*storage.Project, error) {
	key := projectKey(id)

	var cached storage.Project
	found, err := s.redis.GetJSON(ctx, key, &cached)
	if err != nil {
		s.logger.WithError(err).Warn("project cache read failed")
	} else if found {
		s.metrics.RecordCacheHit("project")
		return &cached, nil
	}
	s.metrics.RecordCacheMiss("project")

	p, err := s.Store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.redis.SetJSON(ctx, key, p, s.ttl.Project); err != nil {
		s.logger.WithError(err).Warn("project cache write failed")
	}
	return p, nil
}

// GetMemberRole reads through the cache, caching misses as well
func (s *Store) GetMemberRole(ctx context.Context, projectID, userID string) (rbac.ProjectRole, bool, error) {
	key := memberKey(projectID, userID)

	var cached memberEntry
	found, err := s.redis.GetJSON(ctx, key, &cached)
	if err != nil {
		s.logger.WithError(err).Warn("membership cache read failed")
	} else if found {
		s.metrics.RecordCacheHit("membership")
		return cached.Role, cached.Found, nil
	}
	s.metrics.RecordCacheMiss("membership")

	role, ok, err := s.Store.GetMemberRole(ctx, projectID, userID)
	if err != nil {
		return "", false, err
	}
	if err := s.redis.SetJSON(ctx, key, memberEntry{Role: role, Found: ok}, s.ttl.Membership); err != nil {
		s.logger.WithError(err).Warn("membership cache write failed")
	}
	return role, ok, nil
}

func (s *Store) invalidate(ctx context.Context, keys ...string) {
	if err := s.redis.Delete(ctx, keys...); err != nil {
		s.logger.WithError(err).Warn("cache invalidation failed")
	}
}

func (s *Store) invalidatePatterns(ctx context.Context, patterns ...string) {
	if err := s.redis.InvalidatePatterns(ctx, patterns...); err != nil {
		s.logger.WithError(err).Warn("cache invalidation failed")
	}
}

// CreateProject drops a cached miss for the creator's admin membership
func (s *Store) CreateProject(ctx context.Context, p *storage.Project) error {
	if err := s.Store.CreateProject(ctx, p); err != nil {
		return err
	}
	s.invalidate(ctx, projectKey(p.ID), memberKey(p.ID, p.CreatedBy))
	return nil
}

func (s *Store) UpdateProject(ctx context.Context, p *storage.Project) error {
	if err := s.Store.UpdateProject(ctx, p); err != nil {
		return err
	}
	s.invalidate(ctx, projectKey(p.ID))
	return nil
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	if err := s.Store.DeleteProject(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, projectKey(id))
	s.invalidatePatterns(ctx, memberKey(id, "*"))
	return nil
}

func (s *Store) AddMember(ctx context.Context, m *storage.Membership) error {
	if err := s.Store.AddMember(ctx, m); err != nil {
		return err
	}
	s.invalidate(ctx, memberKey(m.ProjectID, m.UserID))
	return nil
}

func (s *Store) UpdateMemberRole(ctx context.Context, projectID, userID string, role rbac.ProjectRole) error {
	if err := s.Store.UpdateMemberRole(ctx, projectID, userID, role); err != nil {
		return err
	}
	s.invalidate(ctx, memberKey(projectID, userID))
	return nil
}

func (s *Store) SetMemberRoles(ctx context.Context, projectID string, roles map[string]rbac.ProjectRole) error {
	if err := s.Store.SetMemberRoles(ctx, projectID, roles); err != nil {
		return err
	}
	keys := make([]string, 0, len(roles))
	for userID := range roles {
		keys = append(keys, memberKey(projectID, userID))
	}
	s.invalidate(ctx, keys...)
	return nil
}

func (s *Store) RemoveMember(ctx context.Context, projectID, userID string) error {
	if err := s.Store.RemoveMember(ctx, projectID, userID); err != nil {
		return err
	}
	s.invalidate(ctx, memberKey(projectID, userID))
	return nil
}

// DeleteUserCascade also drops every cached project the user created, since
// those are soft-deleted with the account
func (s *Store) DeleteUserCascade(ctx context.Context, id string) error {
	if err := s.Store.DeleteUserCascade(ctx, id); err != nil {
		return err
	}
	s.invalidatePatterns(ctx, memberKey("*", id), projectKey("*"))
	return nil
}
