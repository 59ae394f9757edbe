package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/platinummonkey/taskboard/pkg/storage"
)

func (s *Store) CreateBoard(ctx context.Context, b *storage.Board) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.liveProjectLocked(b.ProjectID); !ok {
		return storage.ErrNotFound
	}
	for _, existing := range s.boards {
		if !existing.deleted && existing.ProjectID == b.ProjectID && existing.Name == b.Name {
			return storage.ErrDuplicateBoard
		}
	}
	ensureID(&b.ID)
	now := s.now()
	b.CreatedAt, b.UpdatedAt = now, now
	s.boards[b.ID] = &boardRecord{Board: *b}
	return nil
}

func (s *Store) GetBoard(ctx context.Context, projectID, boardID string) (*storage.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.boards[boardID]
	if !ok || b.deleted || b.ProjectID != projectID {
		return nil, storage.ErrNotFound
	}
	c := b.Board
	return &c, nil
}

func (s *Store) ListBoards(ctx context.Context, projectID string) ([]storage.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []storage.Board{}
	for _, b := range s.boards {
		if !b.deleted && b.ProjectID == projectID {
			out = append(out, b.Board)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return statusRank(out[i].Status) < statusRank(out[j].Status)
	})
	return out, nil
}

func (s *Store) DeleteBoard(ctx context.Context, projectID, boardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.boards[boardID]
	if !ok || b.deleted || b.ProjectID != projectID {
		return storage.ErrNotFound
	}
	b.deleted = true
	return nil
}

func (s *Store) CreateNote(ctx context.Context, n *storage.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.liveProjectLocked(n.ProjectID); !ok {
		return storage.ErrNotFound
	}
	if n.TaskID != "" {
		if _, ok := s.liveTaskLocked(n.ProjectID, n.TaskID); !ok {
			return storage.ErrNotFound
		}
	}
	ensureID(&n.ID)
	now := s.now()
	n.CreatedAt, n.UpdatedAt = now, now
	s.notes[n.ID] = &noteRecord{Note: *n}
	return nil
}

func (s *Store) GetNote(ctx context.Context, projectID, noteID string) (*storage.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notes[noteID]
	if !ok || n.deleted || n.ProjectID != projectID {
		return nil, storage.ErrNotFound
	}
	c := n.Note
	return &c, nil
}

func noteVisible(n *storage.Note, f storage.NoteFilter) bool {
	if f.ProjectID != "" && n.ProjectID != f.ProjectID {
		return false
	}
	if f.TaskID != "" && n.TaskID != f.TaskID {
		return false
	}
	if f.Visibility != "" && n.Visibility != f.Visibility {
		return false
	}
	if n.Visibility == storage.NotePrivate && !f.IncludeAllPrivate && n.CreatedBy != f.ViewerID {
		return false
	}
	if f.Query != "" && !strings.Contains(strings.ToLower(n.Content), strings.ToLower(f.Query)) {
		return false
	}
	return true
}

func (s *Store) ListNotes(ctx context.Context, f storage.NoteFilter) ([]storage.Note, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := []storage.Note{}
	for _, n := range s.notes {
		if !n.deleted && noteVisible(&n.Note, f) {
			matched = append(matched, n.Note)
		}
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

func (s *Store) NoteStats(ctx context.Context, f storage.NoteFilter) (storage.NoteStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats storage.NoteStats
	for _, n := range s.notes {
		if n.deleted || !noteVisible(&n.Note, f) {
			continue
		}
		stats.Total++
		if n.Visibility == storage.NotePrivate {
			stats.Private++
		} else {
			stats.Public++
		}
		if n.TaskID == "" {
			stats.ProjectLevel++
		} else {
			stats.TaskLevel++
		}
	}
	return stats, nil
}

func (s *Store) UpdateNote(ctx context.Context, n *storage.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.notes[n.ID]
	if !ok || existing.deleted || existing.ProjectID != n.ProjectID {
		return storage.ErrNotFound
	}
	n.TaskID = existing.TaskID
	n.CreatedBy = existing.CreatedBy
	n.CreatedAt = existing.CreatedAt
	n.UpdatedAt = s.now()
	existing.Note = *n
	return nil
}

func (s *Store) DeleteNote(ctx context.Context, projectID, noteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notes[noteID]
	if !ok || n.deleted || n.ProjectID != projectID {
		return storage.ErrNotFound
	}
	n.deleted = true
	return nil
}

func (s *Store) CreateNotification(ctx context.Context, n *storage.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[n.UserID]; !ok {
		return storage.ErrNotFound
	}
	ensureID(&n.ID)
	n.CreatedAt = s.now()
	c := *n
	s.notifications[n.ID] = &c
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool, page storage.Page) ([]storage.Notification, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := []storage.Notification{}
	for _, n := range s.notifications {
		if n.UserID != userID || (unreadOnly && n.Read) {
			continue
		}
		matched = append(matched, *n)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	start, end := bounds(len(matched), page)
	return matched[start:end], len(matched), nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return storage.ErrNotFound
	}
	n.Read = true
	return nil
}

func (s *Store) DeleteNotification(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return storage.ErrNotFound
	}
	delete(s.notifications, id)
	return nil
}
