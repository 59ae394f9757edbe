// Package tasks manages tasks and their subtasks inside a project.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/taskboard/pkg/apperrors"
	"github.com/platinummonkey/taskboard/pkg/notifications"
	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
)

const (
	taskNotFound    = "Task not found"
	subtaskNotFound = "Subtask not found"
	projectNotFound = "Project not found"
)

// Store is the persistence used by Service
type Store interface {
	storage.TaskStore
	GetProject(ctx context.Context, id string) (*storage.Project, error)
	GetMembership(ctx context.Context, projectID, userID string) (*storage.Membership, error)
}

// Service implements task and subtask operations
type Service struct {
	store  Store
	authz  *rbac.Authorizer
	notify *notifications.Service
	logger *observability.Logger
}

// NewService creates a Service. notify may be nil.
func NewService(store Store, authz *rbac.Authorizer, notify *notifications.Service, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Service{store: store, authz: authz, notify: notify, logger: logger}
}

// Input carries the fields of a new task
type Input struct {
	Title       string
	Description string
	Status      storage.TaskStatus
	Priority    storage.Priority
	AssignedTo  []string
	DueDate     *time.Time
}

// Patch changes the non-nil fields of a task. Status and assignee changes are
// authorized by their own rules on top of the update rule.
type Patch struct {
	Title       *string
	Description *string
	Priority    *storage.Priority
	DueDate     *time.Time
	Status      *storage.TaskStatus
	AssignedTo  *[]string
}

func (s *Service) projectExists(ctx context.Context, projectID string) error {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return storage.AppError(err, projectNotFound)
	}
	return nil
}

// authorize checks action on a project that must exist
func (s *Service) authorize(ctx context.Context, p rbac.Principal, projectID string, action rbac.Action, res *rbac.Resource) (rbac.Decision, error) {
	if err := s.projectExists(ctx, projectID); err != nil {
		return rbac.Decision{}, err
	}
	return s.authz.Authorize(ctx, p, projectID, action, res)
}

// loadTask fetches a task after checking the principal may view it
func (s *Service) loadTask(ctx context.Context, p rbac.Principal, projectID, taskID string) (*storage.Task, error) {
	if _, err := s.authorize(ctx, p, projectID, rbac.ActionViewTask, nil); err != nil {
		return nil, err
	}
	t, err := s.store.GetTask(ctx, projectID, taskID)
	if err != nil {
		return nil, storage.AppError(err, taskNotFound)
	}
	return t, nil
}

// checkAssignees requires every id to be a project member
func (s *Service) checkAssignees(ctx context.Context, projectID string, ids []string) error {
	for _, id := range ids {
		if _, err := s.store.GetMembership(ctx, projectID, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperrors.Validation("Assignees must be project members",
					apperrors.FieldError{Field: "assignedTo", Message: fmt.Sprintf("%s is not a member of this project", id)})
			}
			return storage.AppError(err, projectNotFound)
		}
	}
	return nil
}

// Create adds a task. Members may create tasks but not assign them; a task
// created by a member without assignees is flagged for review.
func (s *Service) Create(ctx context.Context, p rbac.Principal, projectID string, in Input) (*storage.Task, error) {
	d, err := s.authorize(ctx, p, projectID, rbac.ActionCreateTask, nil)
	if err != nil {
		return nil, err
	}

	assignees := dedupe(in.AssignedTo)
	if len(assignees) > 0 {
		if _, err := s.authz.Authorize(ctx, p, projectID, rbac.ActionAssignTask, nil); err != nil {
			return nil, err
		}
		if err := s.checkAssignees(ctx, projectID, assignees); err != nil {
			return nil, err
		}
	}
	if in.Status != "" && in.Status != storage.TaskTodo {
		if _, err := s.authz.Authorize(ctx, p, projectID, rbac.ActionChangeStatus, nil); err != nil {
			return nil, err
		}
	}

	t := &storage.Task{
		ProjectID:   projectID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		AssignedTo:  assignees,
		DueDate:     in.DueDate,
		CreatedBy:   p.ID,
		UpdatedBy:   p.ID,
	}
	if t.Status == "" {
		t.Status = storage.TaskTodo
	}
	if t.Priority == "" {
		t.Priority = storage.PriorityMedium
	}
	t.NeedsReview = !d.ViaGlobalAdmin && !d.Role.Satisfies(rbac.RoleProjectAdmin) && len(assignees) == 0

	if err := s.store.CreateTask(ctx, t); err != nil {
		return nil, storage.AppError(err, projectNotFound)
	}
	s.notifyAssigned(ctx, p, t, assignees)
	return t, nil
}

// List returns a filtered page of tasks and the total match count
func (s *Service) List(ctx context.Context, p rbac.Principal, f storage.TaskFilter) ([]storage.Task, int, error) {
	if _, err := s.authorize(ctx, p, f.ProjectID, rbac.ActionViewTask, nil); err != nil {
		return nil, 0, err
	}
	out, total, err := s.store.ListTasks(ctx, f)
	if err != nil {
		return nil, 0, storage.AppError(err, taskNotFound)
	}
	return out, total, nil
}

// Get returns one task
func (s *Service) Get(ctx context.Context, p rbac.Principal, projectID, taskID string) (*storage.Task, error) {
	return s.loadTask(ctx, p, projectID, taskID)
}

// Update applies patch. Project admins and the task creator may edit; status
// and assignee changes additionally need their own permission.
func (s *Service) Update(ctx context.Context, p rbac.Principal, projectID, taskID string, patch Patch) (*storage.Task, error) {
	t, err := s.loadTask(ctx, p, projectID, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authz.Authorize(ctx, p, projectID, rbac.ActionUpdateTask, &rbac.Resource{CreatedBy: t.CreatedBy}); err != nil {
		return nil, err
	}

	var added []string
	if patch.AssignedTo != nil {
		if _, err := s.authz.Authorize(ctx, p, projectID, rbac.ActionAssignTask, nil); err != nil {
			return nil, err
		}
		next := dedupe(*patch.AssignedTo)
		if err := s.checkAssignees(ctx, projectID, next); err != nil {
			return nil, err
		}
		added = newIDs(t.AssignedTo, next)
		t.AssignedTo = next
		if len(next) > 0 {
			t.NeedsReview = false
		}
	}
	completed := false
	if patch.Status != nil && *patch.Status != t.Status {
		if _, err := s.authz.Authorize(ctx, p, projectID, rbac.ActionChangeStatus, nil); err != nil {
			return nil, err
		}
		completed = *patch.Status == storage.TaskDone
		t.Status = *patch.Status
	}

	if patch.Title != nil {
		t.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.DueDate != nil {
		t.DueDate = patch.DueDate
	}
	t.UpdatedBy = p.ID

	if err := s.store.UpdateTask(ctx, t); err != nil {
		return nil, storage.AppError(err, taskNotFound)
	}
	s.notifyAssigned(ctx, p, t, added)
	if completed {
		s.notifyCompleted(ctx, p, t)
	}
	return t, nil
}

// Assign replaces the assignees of a task and notifies the new ones
func (s *Service) Assign(ctx context.Context, p rbac.Principal, projectID, taskID string, assignees []string) (*storage.Task, error) {
	t, err := s.loadTask(ctx, p, projectID, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authz.Authorize(ctx, p, projectID, rbac.ActionAssignTask, nil); err != nil {
		return nil, err
	}

	next := dedupe(assignees)
	if err := s.checkAssignees(ctx, projectID, next); err != nil {
		return nil, err
	}
	added := newIDs(t.AssignedTo, next)
	t.AssignedTo = next
	t.NeedsReview = false
	t.UpdatedBy = p.ID

	if err := s.store.UpdateTask(ctx, t); err != nil {
		return nil, storage.AppError(err, taskNotFound)
	}
	s.notifyAssigned(ctx, p, t, added)
	return t, nil
}

// ChangeStatus moves a task to status. Completing a task notifies its creator.
func (s *Service) ChangeStatus(ctx context.Context, p rbac.Principal, projectID, taskID string, status storage.TaskStatus) (*storage.Task, error) {
	t, err := s.loadTask(ctx, p, projectID, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authz.Authorize(ctx, p, projectID, rbac.ActionChangeStatus, nil); err != nil {
		return nil, err
	}
	if t.Status == status {
		return t, nil
	}

	t.Status = status
	t.UpdatedBy = p.ID
	if err := s.store.UpdateTask(ctx, t); err != nil {
		return nil, storage.AppError(err, taskNotFound)
	}
	if status == storage.TaskDone {
		s.notifyCompleted(ctx, p, t)
	}
	return t, nil
}

// Delete soft-deletes a task with its subtasks and notes
func (s *Service) Delete(ctx context.Context, p rbac.Principal, projectID, taskID string) error {
	if _, err := s.loadTask(ctx, p, projectID, taskID); err != nil {
		return err
	}
	if _, err := s.authz.Authorize(ctx, p, projectID, rbac.ActionDeleteTask, nil); err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, projectID, taskID); err != nil {
		return storage.AppError(err, taskNotFound)
	}
	return nil
}

func (s *Service) notifyAssigned(ctx context.Context, p rbac.Principal, t *storage.Task, userIDs []string) {
	for _, id := range userIDs {
		if id == p.ID {
			continue
		}
		s.notify.Notify(ctx, id, storage.NotificationTaskAssigned,
			fmt.Sprintf("You were assigned to task %q", t.Title), taskLink(t))
	}
}

func (s *Service) notifyCompleted(ctx context.Context, p rbac.Principal, t *storage.Task) {
	if t.CreatedBy == p.ID {
		return
	}
	s.notify.Notify(ctx, t.CreatedBy, storage.NotificationTaskCompleted,
		fmt.Sprintf("Task %q was completed", t.Title), taskLink(t))
}

func taskLink(t *storage.Task) string {
	return fmt.Sprintf("/projects/%s/tasks/%s", t.ProjectID, t.ID)
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// newIDs returns the ids in next that are not in prev
func newIDs(prev, next []string) []string {
	had := make(map[string]bool, len(prev))
	for _, id := range prev {
		had[id] = true
	}
	var out []string
	for _, id := range next {
		if !had[id] {
			out = append(out, id)
		}
	}
	return out
}
