package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotificationRepository handles user notification persistence.
type NotificationRepository struct {
	q Querier
}

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(q Querier) *NotificationRepository {
	return &NotificationRepository{q: q}
}

const notificationColumns = `id, user_id, type, title, body, case_id, severity, is_read, created_at`

// CreateNotification inserts a notification.
func (r *NotificationRepository) CreateNotification(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, n.ID, n.UserID, n.Type, n.Title, n.Body, n.CaseID, n.Severity, n.IsRead, n.CreatedAt)
	return storageError(err, "failed to create notification")
}

// ListNotificationsByUser returns a user's notifications, newest first. A
// non-positive limit returns all of them.
func (r *NotificationRepository) ListNotificationsByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*Notification, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return []*Notification{}, nil
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1`
	args := []interface{}{userID}
	if unreadOnly {
		query += ` AND NOT is_read`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}
	return r.list(ctx, query, args...)
}

// ListNotificationsByCase returns the notifications raised for a case, oldest
// first.
func (r *NotificationRepository) ListNotificationsByCase(ctx context.Context, caseID string) ([]*Notification, error) {
	return r.list(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE case_id = $1
		ORDER BY created_at ASC, id ASC
	`, caseID)
}

// MarkNotificationRead flags a notification owned by userID as read.
func (r *NotificationRepository) MarkNotificationRead(ctx context.Context, id, userID string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	tag, err := r.q.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id::text = $2`, id, userID)
	if err != nil {
		return false, storageError(err, "failed to mark notification read")
	}
	return tag.RowsAffected() > 0, nil
}

func (r *NotificationRepository) list(ctx context.Context, query string, args ...interface{}) ([]*Notification, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError(err, "failed to list notifications")
	}
	defer rows.Close()

	notifications := make([]*Notification, 0)
	for rows.Next() {
		n := &Notification{}
		err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &n.CaseID, &n.Severity, &n.IsRead, &n.CreatedAt)
		if err != nil {
			return nil, storageError(err, "failed to scan notification")
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}
