package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
)

func cloneProject(p *storage.Project) *storage.Project {
	c := *p
	c.Tags = cloneStrings(p.Tags)
	return &c
}

func (s *Store) liveProjectLocked(id string) (*projectRecord, bool) {
	p, ok := s.projects[id]
	if !ok || p.deleted {
		return nil, false
	}
	return p, true
}

func (s *Store) projectNameTakenLocked(createdBy, name, exceptID string) bool {
	for id, p := range s.projects {
		if p.deleted || id == exceptID || p.CreatedBy != createdBy {
			continue
		}
		if strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

func (s *Store) adminCountLocked(projectID string) int {
	n := 0
	for _, m := range s.memberships {
		if m.ProjectID == projectID && m.Role == rbac.RoleProjectAdmin {
			n++
		}
	}
	return n
}

func (s *Store) memberCountLocked(projectID string) int {
	n := 0
	for _, m := range s.memberships {
		if m.ProjectID == projectID {
			n++
		}
	}
	return n
}

func (s *Store) CreateProject(ctx context.Context, p *storage.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.projectNameTakenLocked(p.CreatedBy, p.Name, "") {
		return storage.ErrDuplicateProject
	}

	ensureID(&p.ID)
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	p.Tags = cloneStrings(p.Tags)
	s.projects[p.ID] = &projectRecord{Project: *cloneProject(p)}

	s.memberships[memberKey(p.ID, p.CreatedBy)] = &storage.Membership{
		ID:        uuid.NewString(),
		ProjectID: p.ID,
		UserID:    p.CreatedBy,
		Role:      rbac.RoleProjectAdmin,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*storage.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.liveProjectLocked(id)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneProject(&p.Project), nil
}

func (s *Store) ListProjects(ctx context.Context, userID string, all bool) ([]storage.ProjectSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []storage.ProjectSummary{}
	for id, p := range s.projects {
		if p.deleted {
			continue
		}
		m, member := s.memberships[memberKey(id, userID)]
		if !member && !all {
			continue
		}
		summary := storage.ProjectSummary{
			Project:     *cloneProject(&p.Project),
			MemberCount: s.memberCountLocked(id),
		}
		if member {
			summary.Role = m.Role
		}
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) UpdateProject(ctx context.Context, p *storage.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.liveProjectLocked(p.ID)
	if !ok {
		return storage.ErrNotFound
	}
	if s.projectNameTakenLocked(existing.CreatedBy, p.Name, p.ID) {
		return storage.ErrDuplicateProject
	}

	p.CreatedBy = existing.CreatedBy
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = s.now()
	existing.Project = *cloneProject(p)
	return nil
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.liveProjectLocked(id); !ok {
		return storage.ErrNotFound
	}
	s.deleteProjectLocked(id)
	return nil
}

func (s *Store) deleteProjectLocked(id string) {
	for key, m := range s.memberships {
		if m.ProjectID == id {
			delete(s.memberships, key)
		}
	}
	for _, t := range s.tasks {
		if t.ProjectID == id {
			t.deleted = true
		}
	}
	for _, st := range s.subtasks {
		if st.ProjectID == id {
			st.deleted = true
		}
	}
	for _, n := range s.notes {
		if n.ProjectID == id {
			n.deleted = true
		}
	}
	for _, b := range s.boards {
		if b.ProjectID == id {
			b.deleted = true
		}
	}
	if p, ok := s.projects[id]; ok {
		p.deleted = true
	}
}

func (s *Store) CountTasksByStatus(ctx context.Context, projectID string) (map[storage.TaskStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[storage.TaskStatus]int, 3)
	for _, status := range storage.TaskStatuses() {
		counts[status] = 0
	}
	for _, t := range s.tasks {
		if !t.deleted && t.ProjectID == projectID {
			counts[t.Status]++
		}
	}
	return counts, nil
}

func (s *Store) GetMemberRole(ctx context.Context, projectID, userID string) (rbac.ProjectRole, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.liveProjectLocked(projectID); !ok {
		return "", false, nil
	}
	m, ok := s.memberships[memberKey(projectID, userID)]
	if !ok {
		return "", false, nil
	}
	return m.Role, true, nil
}

func (s *Store) GetMembership(ctx context.Context, projectID, userID string) (*storage.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memberships[memberKey(projectID, userID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *m
	return &c, nil
}

func (s *Store) ListMembers(ctx context.Context, projectID string) ([]storage.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []storage.Member{}
	for _, m := range s.memberships {
		if m.ProjectID != projectID {
			continue
		}
		member := storage.Member{Membership: *m}
		if u, ok := s.users[m.UserID]; ok {
			member.Username = u.Username
			member.Email = u.Email
			member.Avatar = u.Avatar
		}
		out = append(out, member)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) AddMember(ctx context.Context, m *storage.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.liveProjectLocked(m.ProjectID); !ok {
		return storage.ErrNotFound
	}
	if _, ok := s.users[m.UserID]; !ok {
		return storage.ErrNotFound
	}
	key := memberKey(m.ProjectID, m.UserID)
	if _, exists := s.memberships[key]; exists {
		return storage.ErrDuplicateMember
	}

	ensureID(&m.ID)
	now := s.now()
	m.CreatedAt, m.UpdatedAt = now, now
	c := *m
	s.memberships[key] = &c
	return nil
}

func (s *Store) UpdateMemberRole(ctx context.Context, projectID, userID string, role rbac.ProjectRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memberships[memberKey(projectID, userID)]
	if !ok {
		return storage.ErrNotFound
	}
	if err := rbac.CheckAdminFloor(s.adminCountLocked(projectID), m.Role, &role); err != nil {
		return storage.ErrLastProjectAdmin
	}
	m.Role = role
	m.UpdatedAt = s.now()
	return nil
}

func (s *Store) SetMemberRoles(ctx context.Context, projectID string, roles map[string]rbac.ProjectRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for userID := range roles {
		if _, ok := s.memberships[memberKey(projectID, userID)]; !ok {
			return storage.ErrNotFound
		}
	}

	admins := 0
	for _, m := range s.memberships {
		if m.ProjectID != projectID {
			continue
		}
		role := m.Role
		if next, ok := roles[m.UserID]; ok {
			role = next
		}
		if role == rbac.RoleProjectAdmin {
			admins++
		}
	}
	if admins == 0 {
		return storage.ErrLastProjectAdmin
	}

	now := s.now()
	for userID, role := range roles {
		m := s.memberships[memberKey(projectID, userID)]
		m.Role = role
		m.UpdatedAt = now
	}
	return nil
}

func (s *Store) RemoveMember(ctx context.Context, projectID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memberKey(projectID, userID)
	m, ok := s.memberships[key]
	if !ok {
		return storage.ErrNotFound
	}
	if err := rbac.CheckAdminFloor(s.adminCountLocked(projectID), m.Role, nil); err != nil {
		return storage.ErrLastProjectAdmin
	}
	delete(s.memberships, key)

	for _, t := range s.tasks {
		if t.ProjectID == projectID {
			t.AssignedTo = removeString(t.AssignedTo, userID)
		}
	}
	for _, st := range s.subtasks {
		if st.ProjectID == projectID && st.AssignedTo == userID {
			st.AssignedTo = ""
		}
	}
	return nil
}
