// Package boards serves the Kanban view of a project. Board names are the
// closed set "To Do", "In Progress" and "Done", each showing the tasks in the
// matching status.
package boards

import (
	"context"
	"strings"

	"github.com/platinummonkey/taskboard/pkg/apperrors"
	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
)

const notFoundMessage = "Board not found"

// Store is the persistence used by Service
type Store interface {
	storage.BoardStore
	GetProject(ctx context.Context, id string) (*storage.Project, error)
	ListTasks(ctx context.Context, f storage.TaskFilter) ([]storage.Task, int, error)
}

// Service implements board operations
type Service struct {
	store Store
	authz *rbac.Authorizer
}

func NewService(store Store, authz *rbac.Authorizer) *Service {
	return &Service{store: store, authz: authz}
}

// View is a board with the tasks it shows
type View struct {
	storage.Board
	Tasks []storage.Task `json:"tasks"`
}

// Input carries the fields of a new board
type Input struct {
	Name        string
	Description string
}

func (s *Service) authorize(ctx context.Context, p rbac.Principal, projectID string, action rbac.Action) error {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return storage.AppError(err, "Project not found")
	}
	_, err := s.authz.Authorize(ctx, p, projectID, action, nil)
	return err
}

// Create adds a board. The name must be one of storage.BoardNames and unique
// among the project's boards.
func (s *Service) Create(ctx context.Context, p rbac.Principal, projectID string, in Input) (*storage.Board, error) {
	if err := s.authorize(ctx, p, projectID, rbac.ActionCreateBoard); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	status, ok := storage.BoardStatus(name)
	if !ok {
		return nil, apperrors.Validation("Invalid board name",
			apperrors.FieldError{Field: "name", Message: "must be one of: " + strings.Join(storage.BoardNames(), ", ")})
	}

	b := &storage.Board{
		ProjectID:   projectID,
		Name:        name,
		Status:      status,
		Description: in.Description,
		CreatedBy:   p.ID,
	}
	if err := s.store.CreateBoard(ctx, b); err != nil {
		return nil, storage.AppError(err, "Project not found")
	}
	return b, nil
}

// List returns every board of the project with its tasks
func (s *Service) List(ctx context.Context, p rbac.Principal, projectID string) ([]View, error) {
	if err := s.authorize(ctx, p, projectID, rbac.ActionViewBoard); err != nil {
		return nil, err
	}
	boards, err := s.store.ListBoards(ctx, projectID)
	if err != nil {
		return nil, storage.AppError(err, notFoundMessage)
	}
	byStatus, err := s.tasksByStatus(ctx, projectID, "")
	if err != nil {
		return nil, err
	}

	out := make([]View, 0, len(boards))
	for _, b := range boards {
		out = append(out, View{Board: b, Tasks: nonNil(byStatus[b.Status])})
	}
	return out, nil
}

// Get returns one board with its tasks
func (s *Service) Get(ctx context.Context, p rbac.Principal, projectID, boardID string) (*View, error) {
	if err := s.authorize(ctx, p, projectID, rbac.ActionViewBoard); err != nil {
		return nil, err
	}
	b, err := s.store.GetBoard(ctx, projectID, boardID)
	if err != nil {
		return nil, storage.AppError(err, notFoundMessage)
	}
	byStatus, err := s.tasksByStatus(ctx, projectID, b.Status)
	if err != nil {
		return nil, err
	}
	return &View{Board: *b, Tasks: nonNil(byStatus[b.Status])}, nil
}

// Delete soft-deletes a board; its tasks are untouched
func (s *Service) Delete(ctx context.Context, p rbac.Principal, projectID, boardID string) error {
	if err := s.authorize(ctx, p, projectID, rbac.ActionDeleteBoard); err != nil {
		return err
	}
	if err := s.store.DeleteBoard(ctx, projectID, boardID); err != nil {
		return storage.AppError(err, notFoundMessage)
	}
	return nil
}

func (s *Service) tasksByStatus(ctx context.Context, projectID string, status storage.TaskStatus) (map[storage.TaskStatus][]storage.Task, error) {
	tasks, _, err := s.store.ListTasks(ctx, storage.TaskFilter{
		ProjectID: projectID,
		Status:    status,
		Sort:      storage.SortOrder{Field: storage.SortCreatedAt, Desc: true},
	})
	if err != nil {
		return nil, storage.AppError(err, notFoundMessage)
	}
	out := make(map[storage.TaskStatus][]storage.Task, 3)
	for _, t := range tasks {
		out[t.Status] = append(out[t.Status], t)
	}
	return out, nil
}

func nonNil(tasks []storage.Task) []storage.Task {
	if tasks == nil {
		return []storage.Task{}
	}
	return tasks
}
