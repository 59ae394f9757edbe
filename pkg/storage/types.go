package storage

import (
	"time"

	"github.com/platinummonkey/taskboard/pkg/rbac"
)

// DefaultAvatarURL is used until a user uploads an avatar
const DefaultAvatarURL = "https://placehold.co/600x600"

// Avatar references an uploaded image
type Avatar struct {
	URL string `json:"url"`
	// Ref is the object storage key used to delete the image
	Ref string `json:"-"`
}

// PendingToken is the stored half of a temporary token
type PendingToken struct {
	Digest    string
	ExpiresAt time.Time
}

// User is the credential record of a principal
type User struct {
	ID            string          `json:"id"`
	Username      string          `json:"username"`
	Email         string          `json:"email"`
	PasswordHash  string          `json:"-"`
	Role          rbac.GlobalRole `json:"role"`
	EmailVerified bool            `json:"isEmailVerified"`
	Avatar        Avatar          `json:"avatar"`
	RefreshToken  string          `json:"-"`
	Verification  *PendingToken   `json:"-"`
	PasswordReset *PendingToken   `json:"-"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Principal returns the authorization view of the user
func (u *User) Principal() rbac.Principal {
	return rbac.Principal{ID: u.ID, Role: u.Role}
}

type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectInactive ProjectStatus = "inactive"
	ProjectArchived ProjectStatus = "archived"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank orders priorities for sorting
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	default:
		return 0
	}
}

type ProjectVisibility string

const (
	ProjectPublic  ProjectVisibility = "public"
	ProjectPrivate ProjectVisibility = "private"
	ProjectTeam    ProjectVisibility = "team"
)

// Project groups memberships, tasks, boards and notes
type Project struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Status      ProjectStatus     `json:"status"`
	Priority    Priority          `json:"priority"`
	Visibility  ProjectVisibility `json:"visibility"`
	Tags        []string          `json:"tags"`
	StartDate   *time.Time        `json:"startDate,omitempty"`
	DueDate     *time.Time        `json:"dueDate,omitempty"`
	CreatedBy   string            `json:"createdBy"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// ProjectSummary is a project as listed for one principal
type ProjectSummary struct {
	Project
	Role        rbac.ProjectRole `json:"role,omitempty"`
	MemberCount int              `json:"memberCount"`
}

// Membership links a user to a project with a role
type Membership struct {
	ID        string           `json:"id"`
	ProjectID string           `json:"projectId"`
	UserID    string           `json:"userId"`
	Role      rbac.ProjectRole `json:"role"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// Member is a membership joined with the user's public profile
type Member struct {
	Membership
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   Avatar `json:"avatar"`
}

type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
)

// TaskStatuses lists task statuses in board order
func TaskStatuses() []TaskStatus {
	return []TaskStatus{TaskTodo, TaskInProgress, TaskDone}
}

// Task is a unit of work inside a project
type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	AssignedTo  []string   `json:"assignedTo"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	NeedsReview bool       `json:"needsReview"`
	CreatedBy   string     `json:"createdBy"`
	UpdatedBy   string     `json:"updatedBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// IsAssigned reports whether userID is among the assignees
func (t *Task) IsAssigned(userID string) bool {
	for _, id := range t.AssignedTo {
		if id == userID {
			return true
		}
	}
	return false
}

// Subtask is a checklist item under a task
type Subtask struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	TaskID      string     `json:"taskId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	IsCompleted bool       `json:"isCompleted"`
	AssignedTo  string     `json:"assignedTo,omitempty"`
	CreatedBy   string     `json:"createdBy"`
	UpdatedBy   string     `json:"updatedBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Board names are a closed set, each showing the tasks of one status
const (
	BoardToDo       = "To Do"
	BoardInProgress = "In Progress"
	BoardDone       = "Done"
)

// BoardNames lists the allowed board names
func BoardNames() []string {
	return []string{BoardToDo, BoardInProgress, BoardDone}
}

// BoardStatus maps a board name to the task status it shows
func BoardStatus(name string) (TaskStatus, bool) {
	switch name {
	case BoardToDo:
		return TaskTodo, true
	case BoardInProgress:
		return TaskInProgress, true
	case BoardDone:
		return TaskDone, true
	default:
		return "", false
	}
}

// Board is a Kanban column
type Board struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	Name        string     `json:"name"`
	Status      TaskStatus `json:"status"`
	Description string     `json:"description"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type NoteVisibility string

const (
	NotePublic  NoteVisibility = "public"
	NotePrivate NoteVisibility = "private"
)

// Note is free text attached to a project or one of its tasks
type Note struct {
	ID         string         `json:"id"`
	ProjectID  string         `json:"projectId"`
	TaskID     string         `json:"taskId,omitempty"`
	Content    string         `json:"content"`
	Visibility NoteVisibility `json:"visibility"`
	CreatedBy  string         `json:"createdBy"`
	UpdatedBy  string         `json:"updatedBy"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// NoteStats summarizes the notes visible to one principal
type NoteStats struct {
	Total        int `json:"total"`
	Public       int `json:"public"`
	Private      int `json:"private"`
	ProjectLevel int `json:"projectLevel"`
	TaskLevel    int `json:"taskLevel"`
}

type NotificationType string

const (
	NotificationTaskAssigned  NotificationType = "task_assigned"
	NotificationTaskCompleted NotificationType = "task_completed"
	NotificationCommentAdded  NotificationType = "comment_added"
	NotificationProjectInvite NotificationType = "project_invite"
	NotificationGeneral       NotificationType = "general"
)

// Notification is a message for one user
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	Link      string           `json:"link,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Page bounds a listing
type Page struct {
	Limit  int
	Offset int
}

// SortOrder selects a sort field and direction
type SortOrder struct {
	Field string
	Desc  bool
}

// Task sort fields
const (
	SortCreatedAt = "createdAt"
	SortDueDate   = "dueDate"
	SortPriority  = "priority"
	SortTitle     = "title"
	SortStatus    = "status"
)

// TaskSortFields lists the accepted task sort fields
func TaskSortFields() []string {
	return []string{SortCreatedAt, SortDueDate, SortPriority, SortTitle, SortStatus}
}

// TaskFilter narrows a task listing. Zero values mean "any".
type TaskFilter struct {
	ProjectID   string
	Status      TaskStatus
	Priority    Priority
	AssignedTo  string
	CreatedBy   string
	NeedsReview *bool
	Query       string
	Sort        SortOrder
	Page        Page
}

// SubtaskFilter narrows a subtask listing
type SubtaskFilter struct {
	ProjectID   string
	TaskID      string
	IsCompleted *bool
	Priority    Priority
	AssignedTo  string
	Page        Page
}

// NoteFilter narrows a note listing. Unless IncludeAllPrivate is set, private notes
// are limited to those created by ViewerID.
type NoteFilter struct {
	ProjectID         string
	TaskID            string
	Visibility        NoteVisibility
	Query             string
	ViewerID          string
	IncludeAllPrivate bool
	Page              Page
}
