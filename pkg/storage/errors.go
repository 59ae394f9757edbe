package storage

import (
	"errors"

	"github.com/platinummonkey/taskboard/pkg/apperrors"
	"github.com/platinummonkey/taskboard/pkg/rbac"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateEmail    = errors.New("email already exists")
	ErrDuplicateUsername = errors.New("username already exists")
	ErrDuplicateProject  = errors.New("project name already exists")
	ErrDuplicateMember   = errors.New("user is already a member of this project")
	ErrDuplicateBoard    = errors.New("board already exists in this project")
	// ErrLastProjectAdmin is rbac.ErrAdminFloor so either name matches with errors.Is
	ErrLastProjectAdmin = rbac.ErrAdminFloor
)

var conflictMessages = []struct {
	err     error
	message string
}{
	{ErrDuplicateEmail, "Email already exists"},
	{ErrDuplicateUsername, "Username already exists"},
	{ErrDuplicateProject, "A project with this name already exists"},
	{ErrDuplicateMember, "User is already a member of this project"},
	{ErrDuplicateBoard, "A board with this name already exists in this project"},
	{ErrLastProjectAdmin, "Project must have at least one project admin"},
}

// AppError translates a store error into an application error kind. notFound is
// the message used for ErrNotFound. Errors already carrying a kind pass through
// and anything unrecognized is a retryable datastore failure.
func AppError(err error, notFound string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if errors.Is(err, ErrNotFound) {
		return apperrors.Wrap(apperrors.KindNotFound, notFound, err)
	}
	for _, c := range conflictMessages {
		if errors.Is(err, c.err) {
			return apperrors.Wrap(apperrors.KindConflict, c.message, err)
		}
	}
	return apperrors.Dependency("Datastore operation failed", err, true)
}
