package service

import (
	"context"

	"github.com/pesio-ai/be-procurement-cases/internal/common/errors"
	"github.com/pesio-ai/be-procurement-cases/internal/common/logger"
	"github.com/pesio-ai/be-procurement-cases/internal/notify"
	"github.com/pesio-ai/be-procurement-cases/internal/repository"
)

// NotificationService reads and acknowledges user notifications and opens
// live subscriptions for the stream endpoint.
type NotificationService struct {
	store repository.Store
	hub   *notify.Hub
	log   *logger.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(store repository.Store, hub *notify.Hub, log *logger.Logger) *NotificationService {
	if log == nil {
		log = logger.Nop()
	}
	return &NotificationService{store: store, hub: hub, log: log.With("notification")}
}

// List returns the notifications of userID, newest first.
func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*repository.Notification, error) {
	if userID == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "user identity is required")
	}
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	list, err := s.store.ListNotificationsByUser(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*repository.Notification{}
	}
	return list, nil
}

// IDs returns the ids of every notification of userID, read or not, newest
// first. Stream clients seed their de-duplication set with it.
func (s *NotificationService) IDs(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "user identity is required")
	}
	list, err := s.store.ListNotificationsByUser(ctx, userID, false, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(list))
	for i, n := range list {
		ids[i] = n.ID
	}
	return ids, nil
}

// MarkRead flags one notification of userID as read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	found, err := s.store.MarkNotificationRead(ctx, id, userID)
	if err != nil {
		return err
	}
	if !found {
		return errors.NotFound("notification", id)
	}
	return nil
}

// Subscribe opens a live feed for userID. The caller must Close it.
func (s *NotificationService) Subscribe(userID string) (*notify.Subscription, error) {
	if s.hub == nil {
		return nil, errors.Precondition("notification stream is not enabled")
	}
	s.log.Debug().Str("user_id", userID).Msg("Notification stream opened")
	return s.hub.Subscribe(userID), nil
}
