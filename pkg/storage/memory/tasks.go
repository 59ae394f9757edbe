package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/platinummonkey/taskboard/pkg/storage"
)

// bounds returns the slice window for page over n items. A zero limit means all.
func bounds(n int, page storage.Page) (int, int) {
	start := page.Offset
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	end := n
	if page.Limit > 0 && start+page.Limit < n {
		end = start + page.Limit
	}
	return start, end
}

func cloneTask(t *storage.Task) storage.Task {
	c := *t
	c.AssignedTo = cloneStrings(t.AssignedTo)
	return c
}

func (s *Store) liveTaskLocked(projectID, taskID string) (*taskRecord, bool) {
	t, ok := s.tasks[taskID]
	if !ok || t.deleted || t.ProjectID != projectID {
		return nil, false
	}
	return t, true
}

func (s *Store) CreateTask(ctx context.Context, t *storage.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.liveProjectLocked(t.ProjectID); !ok {
		return storage.ErrNotFound
	}
	ensureID(&t.ID)
	now := s.now()
	t.CreatedAt, t.UpdatedAt = now, now
	t.AssignedTo = cloneStrings(t.AssignedTo)
	s.tasks[t.ID] = &taskRecord{Task: cloneTask(t)}
	return nil
}

func (s *Store) GetTask(ctx context.Context, projectID, taskID string) (*storage.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.liveTaskLocked(projectID, taskID)
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := cloneTask(&t.Task)
	return &c, nil
}

func taskMatches(t *storage.Task, f storage.TaskFilter) bool {
	if f.ProjectID != "" && t.ProjectID != f.ProjectID {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.AssignedTo != "" && !t.IsAssigned(f.AssignedTo) {
		return false
	}
	if f.CreatedBy != "" && t.CreatedBy != f.CreatedBy {
		return false
	}
	if f.NeedsReview != nil && t.NeedsReview != *f.NeedsReview {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(t.Title), q) && !strings.Contains(strings.ToLower(t.Description), q) {
			return false
		}
	}
	return true
}

func statusRank(s storage.TaskStatus) int {
	for i, status := range storage.TaskStatuses() {
		if status == s {
			return i
		}
	}
	return len(storage.TaskStatuses())
}

// taskLess orders by the requested field, falling back to creation time and id
func taskLess(a, b *storage.Task, order storage.SortOrder) bool {
	cmp := 0
	switch order.Field {
	case storage.SortTitle:
		cmp = strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
	case storage.SortPriority:
		cmp = a.Priority.Rank() - b.Priority.Rank()
	case storage.SortStatus:
		cmp = statusRank(a.Status) - statusRank(b.Status)
	case storage.SortDueDate:
		switch {
		case a.DueDate == nil && b.DueDate == nil:
		case a.DueDate == nil:
			// tasks without a due date always sort last
			return false
		case b.DueDate == nil:
			return true
		default:
			cmp = a.DueDate.Compare(*b.DueDate)
		}
	default:
		cmp = a.CreatedAt.Compare(b.CreatedAt)
	}
	if cmp == 0 {
		cmp = a.CreatedAt.Compare(b.CreatedAt)
		if cmp == 0 {
			cmp = strings.Compare(a.ID, b.ID)
		}
	}
	if order.Desc {
		return cmp > 0
	}
	return cmp < 0
}

func (s *Store) ListTasks(ctx context.Context, f storage.TaskFilter) ([]storage.Task, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := []storage.Task{}
	for _, t := range s.tasks {
		if !t.deleted && taskMatches(&t.Task, f) {
			matched = append(matched, cloneTask(&t.Task))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return taskLess(&matched[i], &matched[j], f.Sort)
	})

	start, end := bounds(len(matched), f.Page)
	return matched[start:end], len(matched), nil
}

func (s *Store) UpdateTask(ctx context.Context, t *storage.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.liveTaskLocked(t.ProjectID, t.ID)
	if !ok {
		return storage.ErrNotFound
	}
	t.CreatedBy = existing.CreatedBy
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = s.now()
	existing.Task = cloneTask(t)
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, projectID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.liveTaskLocked(projectID, taskID)
	if !ok {
		return storage.ErrNotFound
	}
	t.deleted = true
	for _, st := range s.subtasks {
		if st.TaskID == taskID {
			st.deleted = true
		}
	}
	for _, n := range s.notes {
		if n.TaskID == taskID {
			n.deleted = true
		}
	}
	return nil
}

func (s *Store) liveSubtaskLocked(projectID, subtaskID string) (*subtaskRecord, bool) {
	st, ok := s.subtasks[subtaskID]
	if !ok || st.deleted || st.ProjectID != projectID {
		return nil, false
	}
	return st, true
}

func (s *Store) CreateSubtask(ctx context.Context, st *storage.Subtask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.liveTaskLocked(st.ProjectID, st.TaskID); !ok {
		return storage.ErrNotFound
	}
	ensureID(&st.ID)
	now := s.now()
	st.CreatedAt, st.UpdatedAt = now, now
	s.subtasks[st.ID] = &subtaskRecord{Subtask: *st}
	return nil
}

func (s *Store) GetSubtask(ctx context.Context, projectID, subtaskID string) (*storage.Subtask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.liveSubtaskLocked(projectID, subtaskID)
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := st.Subtask
	return &c, nil
}

func (s *Store) ListSubtasks(ctx context.Context, f storage.SubtaskFilter) ([]storage.Subtask, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := []storage.Subtask{}
	for _, st := range s.subtasks {
		if st.deleted {
			continue
		}
		if f.ProjectID != "" && st.ProjectID != f.ProjectID {
			continue
		}
		if f.TaskID != "" && st.TaskID != f.TaskID {
			continue
		}
		if f.IsCompleted != nil && st.IsCompleted != *f.IsCompleted {
			continue
		}
		if f.Priority != "" && st.Priority != f.Priority {
			continue
		}
		if f.AssignedTo != "" && st.AssignedTo != f.AssignedTo {
			continue
		}
		matched = append(matched, st.Subtask)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	start, end := bounds(len(matched), f.Page)
	return matched[start:end], len(matched), nil
}

func (s *Store) UpdateSubtask(ctx context.Context, st *storage.Subtask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.liveSubtaskLocked(st.ProjectID, st.ID)
	if !ok {
		return storage.ErrNotFound
	}
	st.TaskID = existing.TaskID
	st.CreatedBy = existing.CreatedBy
	st.CreatedAt = existing.CreatedAt
	st.UpdatedAt = s.now()
	existing.Subtask = *st
	return nil
}

func (s *Store) DeleteSubtask(ctx context.Context, projectID, subtaskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.liveSubtaskLocked(projectID, subtaskID)
	if !ok {
		return storage.ErrNotFound
	}
	st.deleted = true
	return nil
}
