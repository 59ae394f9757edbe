// Package notes manages free-text notes on projects and tasks. Private notes
// are visible only to their creator, project admins and global admins; list
// and analytics queries narrow silently instead of failing.
package notes

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/platinummonkey/taskboard/pkg/apperrors"
	"github.com/platinummonkey/taskboard/pkg/notifications"
	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
)

const (
	notFoundMessage = "Note not found"
	// MaxContentLength is the longest note in characters
	MaxContentLength = 5000
)

// Store is the persistence used by Service
type Store interface {
	storage.NoteStore
	GetProject(ctx context.Context, id string) (*storage.Project, error)
	GetTask(ctx context.Context, projectID, taskID string) (*storage.Task, error)
}

// Service implements note operations
type Service struct {
	store  Store
	authz  *rbac.Authorizer
	notify *notifications.Service
}

// NewService creates a Service. notify may be nil.
func NewService(store Store, authz *rbac.Authorizer, notify *notifications.Service) *Service {
	return &Service{store: store, authz: authz, notify: notify}
}

// Input carries the fields of a new note
type Input struct {
	Content    string
	TaskID     string
	Visibility storage.NoteVisibility
}

// Patch changes the non-nil fields of a note
type Patch struct {
	Content    *string
	Visibility *storage.NoteVisibility
}

// ParseVisibility validates a note visibility
func ParseVisibility(s string) (storage.NoteVisibility, bool) {
	switch v := storage.NoteVisibility(s); v {
	case storage.NotePublic, storage.NotePrivate:
		return v, true
	}
	return "", false
}

func checkContent(content string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(content))
	if n == 0 || n > MaxContentLength {
		return apperrors.Validation("Invalid note",
			apperrors.FieldError{Field: "content", Message: fmt.Sprintf("must be between 1 and %d characters", MaxContentLength)})
	}
	return nil
}

func (s *Service) authorize(ctx context.Context, p rbac.Principal, projectID string, action rbac.Action, res *rbac.Resource) error {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return storage.AppError(err, "Project not found")
	}
	_, err := s.authz.Authorize(ctx, p, projectID, action, res)
	return err
}

// Create adds a note. Project-level notes need project admin; task-level notes
// also admit the task's assignees.
func (s *Service) Create(ctx context.Context, p rbac.Principal, projectID string, in Input) (*storage.Note, error) {
	if err := checkContent(in.Content); err != nil {
		return nil, err
	}
	if in.Visibility == "" {
		in.Visibility = storage.NotePrivate
	}

	var task *storage.Task
	if in.TaskID == "" {
		if err := s.authorize(ctx, p, projectID, rbac.ActionCreateNote, nil); err != nil {
			return nil, err
		}
	} else {
		if err := s.authorize(ctx, p, projectID, rbac.ActionViewTask, nil); err != nil {
			return nil, err
		}
		t, err := s.store.GetTask(ctx, projectID, in.TaskID)
		if err != nil {
			return nil, storage.AppError(err, "Task not found")
		}
		if _, err := s.authz.Authorize(ctx, p, projectID, rbac.ActionCreateTaskNote, &rbac.Resource{Assignees: t.AssignedTo}); err != nil {
			return nil, err
		}
		task = t
	}

	n := &storage.Note{
		ProjectID:  projectID,
		TaskID:     in.TaskID,
		Content:    strings.TrimSpace(in.Content),
		Visibility: in.Visibility,
		CreatedBy:  p.ID,
		UpdatedBy:  p.ID,
	}
	if err := s.store.CreateNote(ctx, n); err != nil {
		return nil, storage.AppError(err, "Task not found")
	}

	if task != nil && n.Visibility == storage.NotePublic {
		s.notifyComment(ctx, p, task)
	}
	return n, nil
}

func (s *Service) notifyComment(ctx context.Context, p rbac.Principal, t *storage.Task) {
	link := fmt.Sprintf("/projects/%s/tasks/%s", t.ProjectID, t.ID)
	seen := map[string]bool{p.ID: true}
	for _, id := range append([]string{t.CreatedBy}, t.AssignedTo...) {
		if seen[id] {
			continue
		}
		seen[id] = true
		s.notify.Notify(ctx, id, storage.NotificationCommentAdded, fmt.Sprintf("New note on task %q", t.Title), link)
	}
}

// visibleFilter narrows f to what p may see
func (s *Service) visibleFilter(ctx context.Context, p rbac.Principal, f storage.NoteFilter) (storage.NoteFilter, error) {
	if err := s.authorize(ctx, p, f.ProjectID, rbac.ActionViewNote, nil); err != nil {
		return f, err
	}
	all, err := s.authz.Allowed(ctx, p, f.ProjectID, rbac.ActionViewPrivate, nil)
	if err != nil {
		return f, err
	}
	f.ViewerID = p.ID
	f.IncludeAllPrivate = all
	return f, nil
}

// List returns the notes p may see matching f
func (s *Service) List(ctx context.Context, p rbac.Principal, f storage.NoteFilter) ([]storage.Note, int, error) {
	f, err := s.visibleFilter(ctx, p, f)
	if err != nil {
		return nil, 0, err
	}
	out, total, err := s.store.ListNotes(ctx, f)
	if err != nil {
		return nil, 0, storage.AppError(err, notFoundMessage)
	}
	return out, total, nil
}

// Analytics counts the notes p may see in a project
func (s *Service) Analytics(ctx context.Context, p rbac.Principal, projectID string) (storage.NoteStats, error) {
	f, err := s.visibleFilter(ctx, p, storage.NoteFilter{ProjectID: projectID})
	if err != nil {
		return storage.NoteStats{}, err
	}
	stats, err := s.store.NoteStats(ctx, f)
	if err != nil {
		return storage.NoteStats{}, storage.AppError(err, notFoundMessage)
	}
	return stats, nil
}

func (s *Service) load(ctx context.Context, p rbac.Principal, projectID, noteID string) (*storage.Note, error) {
	if err := s.authorize(ctx, p, projectID, rbac.ActionViewNote, nil); err != nil {
		return nil, err
	}
	n, err := s.store.GetNote(ctx, projectID, noteID)
	if err != nil {
		return nil, storage.AppError(err, notFoundMessage)
	}
	if n.Visibility == storage.NotePrivate {
		if _, err := s.authz.Authorize(ctx, p, projectID, rbac.ActionViewPrivate, &rbac.Resource{CreatedBy: n.CreatedBy}); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Get returns one note
func (s *Service) Get(ctx context.Context, p rbac.Principal, projectID, noteID string) (*storage.Note, error) {
	return s.load(ctx, p, projectID, noteID)
}

// Update edits a note; creator or project admin only
func (s *Service) Update(ctx context.Context, p rbac.Principal, projectID, noteID string, patch Patch) (*storage.Note, error) {
	n, err := s.load(ctx, p, projectID, noteID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authz.Authorize(ctx, p, projectID, rbac.ActionUpdateNote, &rbac.Resource{CreatedBy: n.CreatedBy}); err != nil {
		return nil, err
	}

	if patch.Content != nil {
		if err := checkContent(*patch.Content); err != nil {
			return nil, err
		}
		n.Content = strings.TrimSpace(*patch.Content)
	}
	if patch.Visibility != nil {
		n.Visibility = *patch.Visibility
	}
	n.UpdatedBy = p.ID

	if err := s.store.UpdateNote(ctx, n); err != nil {
		return nil, storage.AppError(err, notFoundMessage)
	}
	return n, nil
}

// Delete soft-deletes a note; creator or project admin only
func (s *Service) Delete(ctx context.Context, p rbac.Principal, projectID, noteID string) error {
	n, err := s.load(ctx, p, projectID, noteID)
	if err != nil {
		return err
	}
	if _, err := s.authz.Authorize(ctx, p, projectID, rbac.ActionDeleteNote, &rbac.Resource{CreatedBy: n.CreatedBy}); err != nil {
		return err
	}
	if err := s.store.DeleteNote(ctx, projectID, noteID); err != nil {
		return storage.AppError(err, notFoundMessage)
	}
	return nil
}
