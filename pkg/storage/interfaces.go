package storage

import (
	"context"
	"time"

	"github.com/platinummonkey/taskboard/pkg/rbac"
)

// UserStore is the credential store
type UserStore interface {
	// CreateUser inserts u, failing with ErrDuplicateEmail or ErrDuplicateUsername
	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByVerificationDigest(ctx context.Context, digest string) (*User, error)
	GetUserByResetDigest(ctx context.Context, digest string) (*User, error)

	// UpdateProfile changes username and avatar, failing with ErrDuplicateUsername
	UpdateProfile(ctx context.Context, id, username string, avatar Avatar) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// SetRefreshToken unconditionally replaces the stored refresh token; "" clears it
	SetRefreshToken(ctx context.Context, id, token string) error
	// SwapRefreshToken replaces the refresh token only if it currently equals
	// expected. It reports whether the swap happened.
	SwapRefreshToken(ctx context.Context, id, expected, next string) (bool, error)

	SetVerificationToken(ctx context.Context, id string, token PendingToken) error
	// ClearVerificationToken clears the pending token only if it still has digest
	ClearVerificationToken(ctx context.Context, id, digest string) error
	// ConsumeVerificationToken marks the email verified and clears the token if the
	// stored digest matches and has not expired at now
	ConsumeVerificationToken(ctx context.Context, id, digest string, now time.Time) (bool, error)

	SetResetToken(ctx context.Context, id string, token PendingToken) error
	ClearResetToken(ctx context.Context, id, digest string) error
	// ConsumeResetToken sets the password, clears the reset token and clears the
	// refresh token if the stored digest matches and has not expired at now
	ConsumeResetToken(ctx context.Context, id, digest string, now time.Time, passwordHash string) (bool, error)

	// DeleteUserCascade removes the user with everything that depends on it. It
	// fails with ErrLastProjectAdmin if the user is the only project_admin of a
	// project they do not own.
	DeleteUserCascade(ctx context.Context, id string) error

	// PurgeExpiredTokens clears verification and reset tokens expired before now
	PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// ProjectStore persists projects
type ProjectStore interface {
	// CreateProject inserts p and a project_admin membership for p.CreatedBy
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	// ListProjects lists projects userID belongs to, or every project when all is set
	ListProjects(ctx context.Context, userID string, all bool) ([]ProjectSummary, error)
	UpdateProject(ctx context.Context, p *Project) error
	// DeleteProject removes memberships and soft-deletes the project with its tasks,
	// subtasks, notes and boards
	DeleteProject(ctx context.Context, id string) error
	CountTasksByStatus(ctx context.Context, projectID string) (map[TaskStatus]int, error)
}

// MembershipStore persists project memberships
type MembershipStore interface {
	rbac.MembershipLookup

	GetMembership(ctx context.Context, projectID, userID string) (*Membership, error)
	ListMembers(ctx context.Context, projectID string) ([]Member, error)
	AddMember(ctx context.Context, m *Membership) error
	UpdateMemberRole(ctx context.Context, projectID, userID string, role rbac.ProjectRole) error
	// SetMemberRoles applies several role changes atomically; the admin floor is
	// checked on the final state
	SetMemberRoles(ctx context.Context, projectID string, roles map[string]rbac.ProjectRole) error
	// RemoveMember deletes the membership and detaches the user from the project's
	// task and subtask assignments
	RemoveMember(ctx context.Context, projectID, userID string) error
}

// TaskStore persists tasks and subtasks
type TaskStore interface {
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, projectID, taskID string) (*Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]Task, int, error)
	UpdateTask(ctx context.Context, t *Task) error
	// DeleteTask soft-deletes the task with its subtasks and notes
	DeleteTask(ctx context.Context, projectID, taskID string) error

	CreateSubtask(ctx context.Context, s *Subtask) error
	GetSubtask(ctx context.Context, projectID, subtaskID string) (*Subtask, error)
	ListSubtasks(ctx context.Context, f SubtaskFilter) ([]Subtask, int, error)
	UpdateSubtask(ctx context.Context, s *Subtask) error
	DeleteSubtask(ctx context.Context, projectID, subtaskID string) error
}

// BoardStore persists boards
type BoardStore interface {
	CreateBoard(ctx context.Context, b *Board) error
	GetBoard(ctx context.Context, projectID, boardID string) (*Board, error)
	ListBoards(ctx context.Context, projectID string) ([]Board, error)
	DeleteBoard(ctx context.Context, projectID, boardID string) error
}

// NoteStore persists notes
type NoteStore interface {
	CreateNote(ctx context.Context, n *Note) error
	GetNote(ctx context.Context, projectID, noteID string) (*Note, error)
	ListNotes(ctx context.Context, f NoteFilter) ([]Note, int, error)
	NoteStats(ctx context.Context, f NoteFilter) (NoteStats, error)
	UpdateNote(ctx context.Context, n *Note) error
	DeleteNote(ctx context.Context, projectID, noteID string) error
}

// NotificationStore persists notifications
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, page Page) ([]Notification, int, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
	DeleteNotification(ctx context.Context, userID, id string) error
}

// Store combines every repository
type Store interface {
	UserStore
	ProjectStore
	MembershipStore
	TaskStore
	BoardStore
	NoteStore
	NotificationStore

	Ping(ctx context.Context) error
	Close() error
}
