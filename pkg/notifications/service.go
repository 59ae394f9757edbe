// Package notifications stores per-user messages raised by domain events and
// lets users read and dismiss them.
package notifications

import (
	"context"
	"strings"

	"github.com/platinummonkey/taskboard/pkg/apperrors"
	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/rbac"
	"github.com/platinummonkey/taskboard/pkg/storage"
)

const notFoundMessage = "Notification not found"

// Store is the persistence used by Service
type Store interface {
	storage.NotificationStore
	GetUserByID(ctx context.Context, id string) (*storage.User, error)
}

// Service manages notifications
type Service struct {
	store  Store
	logger *observability.Logger
}

func NewService(store Store, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Service{store: store, logger: logger}
}

// ParseType validates a notification type
func ParseType(s string) (storage.NotificationType, bool) {
	switch t := storage.NotificationType(s); t {
	case storage.NotificationTaskAssigned, storage.NotificationTaskCompleted, storage.NotificationCommentAdded,
		storage.NotificationProjectInvite, storage.NotificationGeneral:
		return t, true
	}
	return "", false
}

// Notify records a notification raised by another operation. Failures are
// logged and never fail the caller.
func (s *Service) Notify(ctx context.Context, userID string, typ storage.NotificationType, message, link string) {
	if s == nil || userID == "" {
		return
	}
	n := &storage.Notification{UserID: userID, Type: typ, Message: message, Link: link}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"user_id": userID,
			"type":    string(typ),
		}).Warn("failed to record notification")
	}
}

// CreateInput is an administrator-authored notification
type CreateInput struct {
	UserID  string
	Type    storage.NotificationType
	Message string
	Link    string
}

// Create sends a notification to a user. Only global admins may do this.
func (s *Service) Create(ctx context.Context, p rbac.Principal, in CreateInput) (*storage.Notification, error) {
	if !p.IsGlobalAdmin() {
		return nil, apperrors.Forbidden("Only administrators can send notifications")
	}
	if _, err := s.store.GetUserByID(ctx, in.UserID); err != nil {
		return nil, storage.AppError(err, "User not found")
	}
	if in.Type == "" {
		in.Type = storage.NotificationGeneral
	}

	n := &storage.Notification{
		UserID:  in.UserID,
		Type:    in.Type,
		Message: strings.TrimSpace(in.Message),
		Link:    in.Link,
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return nil, storage.AppError(err, notFoundMessage)
	}
	return n, nil
}

// List returns the principal's notifications, newest first
func (s *Service) List(ctx context.Context, p rbac.Principal, unreadOnly bool, page storage.Page) ([]storage.Notification, int, error) {
	items, total, err := s.store.ListNotifications(ctx, p.ID, unreadOnly, page)
	if err != nil {
		return nil, 0, storage.AppError(err, notFoundMessage)
	}
	return items, total, nil
}

// MarkRead marks one of the principal's notifications read. Notifications of
// other users are reported as not found.
func (s *Service) MarkRead(ctx context.Context, p rbac.Principal, id string) error {
	return storage.AppError(s.store.MarkNotificationRead(ctx, p.ID, id), notFoundMessage)
}

// Delete removes one of the principal's notifications
func (s *Service) Delete(ctx context.Context, p rbac.Principal, id string) error {
	return storage.AppError(s.store.DeleteNotification(ctx, p.ID, id), notFoundMessage)
}
