// Package projects manages projects and their memberships. Every operation is
// authorized through rbac.Authorizer against the caller's membership.
package projects

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/taskboard/pkg/apperrors"
	"github.com/platinummonkey/taskboard/pkg/notifications"
	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
)

const notFoundMessage = "Project not found"

// Store is the persistence used by Service
type Store interface {
	storage.ProjectStore
	storage.MembershipStore
	GetUserByEmail(ctx context.Context, email string) (*storage.User, error)
}

// Service implements project and membership operations
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

// Input carries the writable fields of a project
type Input struct {
	Name        string
	Description string
	Status      storage.ProjectStatus
	Priority    storage.Priority
	Visibility  storage.ProjectVisibility
	Tags        []string
	StartDate   *time.Time
	DueDate     *time.Time
}

// Patch changes the non-nil fields of a project
type Patch struct {
	Name        *string
	Description *string
	Status      *storage.ProjectStatus
	Priority    *storage.Priority
	Visibility  *storage.ProjectVisibility
	Tags        *[]string
	StartDate   *time.Time
	DueDate     *time.Time
}

// Create stores a project and makes the creator its project admin
func (s *Service) Create(ctx context.Context, p rbac.Principal, in Input) (*storage.Project, error) {
	proj := &storage.Project{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		Visibility:  in.Visibility,
		Tags:        normalizeTags(in.Tags),
		StartDate:   in.StartDate,
		DueDate:     in.DueDate,
		CreatedBy:   p.ID,
	}
	if proj.Status == "" {
		proj.Status = storage.ProjectActive
	}
	if proj.Priority == "" {
		proj.Priority = storage.PriorityMedium
	}
	if proj.Visibility == "" {
		proj.Visibility = storage.ProjectPrivate
	}
	if err := checkDates(proj.StartDate, proj.DueDate); err != nil {
		return nil, err
	}

	if err := s.store.CreateProject(ctx, proj); err != nil {
		return nil, storage.AppError(err, notFoundMessage)
	}
	s.logger.WithFields(map[string]interface{}{"project_id": proj.ID, "user_id": p.ID}).Info("project created")
	return proj, nil
}

// List returns the projects the principal belongs to with their role; global
// admins see every project
func (s *Service) List(ctx context.Context, p rbac.Principal) ([]storage.ProjectSummary, error) {
	out, err := s.store.ListProjects(ctx, p.ID, p.IsGlobalAdmin())
	if err != nil {
		return nil, storage.AppError(err, notFoundMessage)
	}
	return out, nil
}

// load fetches the project and authorizes action on it. Missing projects are
// reported before membership so unknown ids are 404 for everyone.
func (s *Service) load(ctx context.Context, p rbac.Principal, projectID string, action rbac.Action) (*storage.Project, rbac.Decision, error) {
	proj, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, rbac.Decision{}, storage.AppError(err, notFoundMessage)
	}
	d, err := s.authz.Authorize(ctx, p, projectID, action, &rbac.Resource{CreatedBy: proj.CreatedBy})
	if err != nil {
		return nil, d, err
	}
	return proj, d, nil
}

// Detail is a project with the caller's role in it
type Detail struct {
	storage.Project
	Role rbac.ProjectRole `json:"role,omitempty"`
}

// Get returns a project the principal can see
func (s *Service) Get(ctx context.Context, p rbac.Principal, projectID string) (*Detail, error) {
	proj, d, err := s.load(ctx, p, projectID, rbac.ActionViewProject)
	if err != nil {
		return nil, err
	}
	return &Detail{Project: *proj, Role: d.Role}, nil
}

// Update applies patch to a project
func (s *Service) Update(ctx context.Context, p rbac.Principal, projectID string, patch Patch) (*storage.Project, error) {
	proj, _, err := s.load(ctx, p, projectID, rbac.ActionUpdateProject)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		proj.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		proj.Description = *patch.Description
	}
	if patch.Status != nil {
		proj.Status = *patch.Status
	}
	if patch.Priority != nil {
		proj.Priority = *patch.Priority
	}
	if patch.Visibility != nil {
		proj.Visibility = *patch.Visibility
	}
	if patch.Tags != nil {
		proj.Tags = normalizeTags(*patch.Tags)
	}
	if patch.StartDate != nil {
		proj.StartDate = patch.StartDate
	}
	if patch.DueDate != nil {
		proj.DueDate = patch.DueDate
	}
	if err := checkDates(proj.StartDate, proj.DueDate); err != nil {
		return nil, err
	}

	if err := s.store.UpdateProject(ctx, proj); err != nil {
		return nil, storage.AppError(err, notFoundMessage)
	}
	return proj, nil
}

// Delete removes a project with its memberships and content
func (s *Service) Delete(ctx context.Context, p rbac.Principal, projectID string) error {
	if _, _, err := s.load(ctx, p, projectID, rbac.ActionDeleteProject); err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return storage.AppError(err, notFoundMessage)
	}
	s.logger.WithFields(map[string]interface{}{"project_id": projectID, "user_id": p.ID}).Info("project deleted")
	return nil
}

// StatusReport summarizes a project's progress
type StatusReport struct {
	Project     *storage.Project           `json:"project"`
	TaskCounts  map[storage.TaskStatus]int `json:"taskCounts"`
	TotalTasks  int                        `json:"totalTasks"`
	MemberCount int                        `json:"memberCount"`
}

// Status counts tasks by status and members
func (s *Service) Status(ctx context.Context, p rbac.Principal, projectID string) (*StatusReport, error) {
	proj, _, err := s.load(ctx, p, projectID, rbac.ActionViewProject)
	if err != nil {
		return nil, err
	}

	counts, err := s.store.CountTasksByStatus(ctx, projectID)
	if err != nil {
		return nil, storage.AppError(err, notFoundMessage)
	}
	members, err := s.store.ListMembers(ctx, projectID)
	if err != nil {
		return nil, storage.AppError(err, notFoundMessage)
	}

	report := &StatusReport{
		Project:     proj,
		TaskCounts:  make(map[storage.TaskStatus]int, 3),
		MemberCount: len(members),
	}
	for _, st := range storage.TaskStatuses() {
		report.TaskCounts[st] = counts[st]
		report.TotalTasks += counts[st]
	}
	return report, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func checkDates(start, due *time.Time) error {
	if start != nil && due != nil && due.Before(*start) {
		return apperrors.Validation("Invalid project dates",
			apperrors.FieldError{Field: "dueDate", Message: "must not be before startDate"})
	}
	return nil
}

func projectLink(projectID string) string {
	return fmt.Sprintf("/projects/%s", projectID)
}
