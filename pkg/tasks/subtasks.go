package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
)

// SubtaskInput carries the fields of a new subtask
type SubtaskInput struct {
	Title       string
	Description string
	Priority    storage.Priority
	DueDate     *time.Time
	AssignedTo  string
}

// SubtaskPatch changes the non-nil fields of a subtask. An empty AssignedTo
// unassigns.
type SubtaskPatch struct {
	Title       *string
	Description *string
	Priority    *storage.Priority
	DueDate     *time.Time
	IsCompleted *bool
	AssignedTo  *string
}

// CreateSubtask adds a subtask under taskID. Members may do so only for tasks
// assigned to them, and may not set an assignee.
func (s *Service) CreateSubtask(ctx context.Context, p rbac.Principal, projectID, taskID string, in SubtaskInput) (*storage.Subtask, error) {
	parent, err := s.loadTask(ctx, p, projectID, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authz.Authorize(ctx, p, projectID, rbac.ActionCreateSubtask, &rbac.Resource{Assignees: parent.AssignedTo}); err != nil {
		return nil, err
	}
	if err := s.checkSubtaskAssignee(ctx, p, projectID, in.AssignedTo); err != nil {
		return nil, err
	}

	st := &storage.Subtask{
		ProjectID:   projectID,
		TaskID:      taskID,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Priority:    in.Priority,
		DueDate:     in.DueDate,
		AssignedTo:  strings.TrimSpace(in.AssignedTo),
		CreatedBy:   p.ID,
		UpdatedBy:   p.ID,
	}
	if st.Priority == "" {
		st.Priority = storage.PriorityMedium
	}
	if err := s.store.CreateSubtask(ctx, st); err != nil {
		return nil, storage.AppError(err, taskNotFound)
	}
	if st.AssignedTo != "" {
		s.notifySubtaskAssigned(ctx, p, parent, st, st.AssignedTo)
	}
	return st, nil
}

func (s *Service) checkSubtaskAssignee(ctx context.Context, p rbac.Principal, projectID, assignee string) error {
	assignee = strings.TrimSpace(assignee)
	if assignee == "" {
		return nil
	}
	if _, err := s.authz.Authorize(ctx, p, projectID, rbac.ActionAssignSubtask, nil); err != nil {
		return err
	}
	return s.checkAssignees(ctx, projectID, []string{assignee})
}

// ListSubtasks returns a filtered page of subtasks. A TaskID in the filter must
// name an existing task.
func (s *Service) ListSubtasks(ctx context.Context, p rbac.Principal, f storage.SubtaskFilter) ([]storage.Subtask, int, error) {
	if _, err := s.authorize(ctx, p, f.ProjectID, rbac.ActionViewSubtask, nil); err != nil {
		return nil, 0, err
	}
	if f.TaskID != "" {
		if _, err := s.store.GetTask(ctx, f.ProjectID, f.TaskID); err != nil {
			return nil, 0, storage.AppError(err, taskNotFound)
		}
	}
	out, total, err := s.store.ListSubtasks(ctx, f)
	if err != nil {
		return nil, 0, storage.AppError(err, subtaskNotFound)
	}
	return out, total, nil
}

func (s *Service) loadSubtask(ctx context.Context, p rbac.Principal, projectID, subtaskID string) (*storage.Subtask, error) {
	if _, err := s.authorize(ctx, p, projectID, rbac.ActionViewSubtask, nil); err != nil {
		return nil, err
	}
	st, err := s.store.GetSubtask(ctx, projectID, subtaskID)
	if err != nil {
		return nil, storage.AppError(err, subtaskNotFound)
	}
	return st, nil
}

// GetSubtask returns one subtask
func (s *Service) GetSubtask(ctx context.Context, p rbac.Principal, projectID, subtaskID string) (*storage.Subtask, error) {
	return s.loadSubtask(ctx, p, projectID, subtaskID)
}

// UpdateSubtask applies patch. Project admins, the subtask creator and the
// parent task's assignees may edit; changing the assignee needs project admin.
func (s *Service) UpdateSubtask(ctx context.Context, p rbac.Principal, projectID, subtaskID string, patch SubtaskPatch) (*storage.Subtask, error) {
	st, err := s.loadSubtask(ctx, p, projectID, subtaskID)
	if err != nil {
		return nil, err
	}
	parent, err := s.store.GetTask(ctx, projectID, st.TaskID)
	if err != nil {
		return nil, storage.AppError(err, taskNotFound)
	}
	res := &rbac.Resource{CreatedBy: st.CreatedBy, Assignees: parent.AssignedTo}
	if _, err := s.authz.Authorize(ctx, p, projectID, rbac.ActionUpdateSubtask, res); err != nil {
		return nil, err
	}

	var assigned string
	if patch.AssignedTo != nil {
		next := strings.TrimSpace(*patch.AssignedTo)
		if next != st.AssignedTo {
			if next == "" {
				if _, err := s.authz.Authorize(ctx, p, projectID, rbac.ActionAssignSubtask, nil); err != nil {
					return nil, err
				}
			} else if err := s.checkSubtaskAssignee(ctx, p, projectID, next); err != nil {
				return nil, err
			}
			st.AssignedTo = next
			assigned = next
		}
	}
	if patch.Title != nil {
		st.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		st.Description = *patch.Description
	}
	if patch.Priority != nil {
		st.Priority = *patch.Priority
	}
	if patch.DueDate != nil {
		st.DueDate = patch.DueDate
	}
	if patch.IsCompleted != nil {
		st.IsCompleted = *patch.IsCompleted
	}
	st.UpdatedBy = p.ID

	if err := s.store.UpdateSubtask(ctx, st); err != nil {
		return nil, storage.AppError(err, subtaskNotFound)
	}
	if assigned != "" {
		s.notifySubtaskAssigned(ctx, p, parent, st, assigned)
	}
	return st, nil
}

// DeleteSubtask soft-deletes a subtask. Only project admins may do this, the
// creator included.
func (s *Service) DeleteSubtask(ctx context.Context, p rbac.Principal, projectID, subtaskID string) error {
	if _, err := s.loadSubtask(ctx, p, projectID, subtaskID); err != nil {
		return err
	}
	if _, err := s.authz.Authorize(ctx, p, projectID, rbac.ActionDeleteSubtask, nil); err != nil {
		return err
	}
	if err := s.store.DeleteSubtask(ctx, projectID, subtaskID); err != nil {
		return storage.AppError(err, subtaskNotFound)
	}
	return nil
}

func (s *Service) notifySubtaskAssigned(ctx context.Context, p rbac.Principal, parent *storage.Task, st *storage.Subtask, userID string) {
	if userID == p.ID {
		return
	}
	s.notify.Notify(ctx, userID, storage.NotificationTaskAssigned,
		fmt.Sprintf("You were assigned to subtask %q of task %q", st.Title, parent.Title), taskLink(parent))
}
