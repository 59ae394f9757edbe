// Package memory is an in-process implementation of storage.Store.
//
// Every method holds a single mutex, so each call is atomic with respect to the
// others, which gives the same conditional-update guarantees as the SQL store.
// Returned records are copies.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
)

type projectRecord struct {
	storage.Project
	deleted bool
}

type taskRecord struct {
	storage.Task
	deleted bool
}

type subtaskRecord struct {
	storage.Subtask
	deleted bool
}

type boardRecord struct {
	storage.Board
	deleted bool
}

type noteRecord struct {
	storage.Note
	deleted bool
}

// Store keeps all records in maps
type Store struct {
	mu            sync.Mutex
	users         map[string]*storage.User
	projects      map[string]*projectRecord
	memberships   map[string]*storage.Membership
	tasks         map[string]*taskRecord
	subtasks      map[string]*subtaskRecord
	boards        map[string]*boardRecord
	notes         map[string]*noteRecord
	notifications map[string]*storage.Notification
	now           func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		users:         make(map[string]*storage.User),
		projects:      make(map[string]*projectRecord),
		memberships:   make(map[string]*storage.Membership),
		tasks:         make(map[string]*taskRecord),
		subtasks:      make(map[string]*subtaskRecord),
		boards:        make(map[string]*boardRecord),
		notes:         make(map[string]*noteRecord),
		notifications: make(map[string]*storage.Notification),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func memberKey(projectID, userID string) string {
	return projectID + "/" + userID
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneUser(u *storage.User) *storage.User {
	c := *u
	if u.Verification != nil {
		v := *u.Verification
		c.Verification = &v
	}
	if u.PasswordReset != nil {
		r := *u.PasswordReset
		c.PasswordReset = &r
	}
	return &c
}

func removeString(in []string, value string) []string {
	out := in[:0:0]
	for _, v := range in {
		if v != value {
			out = append(out, v)
		}
	}
	return out
}

func (s *Store) CreateUser(ctx context.Context, u *storage.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return storage.ErrDuplicateEmail
		}
		if strings.EqualFold(existing.Username, u.Username) {
			return storage.ErrDuplicateUsername
		}
	}

	ensureID(&u.ID)
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now
	if u.Role == "" {
		u.Role = rbac.GlobalMember
	}
	s.users[u.ID] = cloneUser(u)
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) GetUserByVerificationDigest(ctx context.Context, digest string) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Verification != nil && u.Verification.Digest == digest {
			return cloneUser(u), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) GetUserByResetDigest(ctx context.Context, digest string) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.PasswordReset != nil && u.PasswordReset.Digest == digest {
			return cloneUser(u), nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) UpdateProfile(ctx context.Context, id, username string, avatar storage.Avatar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	for otherID, other := range s.users {
		if otherID != id && strings.EqualFold(other.Username, username) {
			return storage.ErrDuplicateUsername
		}
	}
	u.Username = username
	u.Avatar = avatar
	u.UpdatedAt = s.now()
	return nil
}

func (s *Store) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = s.now()
	return nil
}

func (s *Store) SetRefreshToken(ctx context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.RefreshToken = token
	return nil
}

func (s *Store) SwapRefreshToken(ctx context.Context, id, expected, next string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	if expected == "" || u.RefreshToken != expected {
		return false, nil
	}
	u.RefreshToken = next
	return true, nil
}

func (s *Store) SetVerificationToken(ctx context.Context, id string, token storage.PendingToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.Verification = &token
	return nil
}

func (s *Store) ClearVerificationToken(ctx context.Context, id, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	if u.Verification != nil && u.Verification.Digest == digest {
		u.Verification = nil
	}
	return nil
}

func (s *Store) ConsumeVerificationToken(ctx context.Context, id, digest string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return false, nil
	}
	if u.Verification == nil || u.Verification.Digest != digest || !now.Before(u.Verification.ExpiresAt) {
		return false, nil
	}
	u.Verification = nil
	u.EmailVerified = true
	u.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) SetResetToken(ctx context.Context, id string, token storage.PendingToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.PasswordReset = &token
	return nil
}

func (s *Store) ClearResetToken(ctx context.Context, id, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	if u.PasswordReset != nil && u.PasswordReset.Digest == digest {
		u.PasswordReset = nil
	}
	return nil
}

func (s *Store) ConsumeResetToken(ctx context.Context, id, digest string, now time.Time, passwordHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return false, nil
	}
	if u.PasswordReset == nil || u.PasswordReset.Digest != digest || !now.Before(u.PasswordReset.ExpiresAt) {
		return false, nil
	}
	u.PasswordReset = nil
	u.PasswordHash = passwordHash
	u.RefreshToken = ""
	u.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) DeleteUserCascade(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return storage.ErrNotFound
	}

	owned := make(map[string]bool)
	for pid, p := range s.projects {
		if !p.deleted && p.CreatedBy == id {
			owned[pid] = true
		}
	}

	for _, m := range s.memberships {
		if m.UserID != id || owned[m.ProjectID] || m.Role != rbac.RoleProjectAdmin {
			continue
		}
		if p, ok := s.projects[m.ProjectID]; !ok || p.deleted {
			continue
		}
		if err := rbac.CheckAdminFloor(s.adminCountLocked(m.ProjectID), m.Role, nil); err != nil {
			return storage.ErrLastProjectAdmin
		}
	}

	for pid := range owned {
		s.deleteProjectLocked(pid)
	}
	for key, m := range s.memberships {
		if m.UserID == id {
			delete(s.memberships, key)
		}
	}
	for _, t := range s.tasks {
		t.AssignedTo = removeString(t.AssignedTo, id)
	}
	for _, st := range s.subtasks {
		if st.AssignedTo == id {
			st.AssignedTo = ""
		}
	}
	for nid, n := range s.notifications {
		if n.UserID == id {
			delete(s.notifications, nid)
		}
	}
	delete(s.users, id)
	return nil
}

func (s *Store) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for _, u := range s.users {
		if u.Verification != nil && !now.Before(u.Verification.ExpiresAt) {
			u.Verification = nil
			purged++
		}
		if u.PasswordReset != nil && !now.Before(u.PasswordReset.ExpiresAt) {
			u.PasswordReset = nil
			purged++
		}
	}
	return purged, nil
}
