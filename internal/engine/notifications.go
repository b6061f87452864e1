package engine

import (
	"context"
	"fmt"
	"time"

	"compliancehub/internal/domain"
)

// Notify stores a notification for userID, or for everyone when userID is nil.
// Notifications sharing a dedupe key are stored once; the result reports whether
// this call wrote one.
func (e Engine) Notify(ctx context.Context, n domain.Notification, dedupeKey string) (domain.Notification, bool, error) {
	if n.CreatedAt == "" {
		n.CreatedAt = e.timestamp()
	}
	created, err := e.Repo.InsertNotification(ctx, e.DB, &n, dedupeKey)
	if err != nil {
		return domain.Notification{}, false, fmt.Errorf("store %s notification: %w", n.Kind, err)
	}
	return n, created, nil
}

func (e Engine) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]domain.Notification, error) {
	return e.Repo.ListNotifications(ctx, e.DB, userID, unreadOnly, limit)
}

func (e Engine) MarkNotificationRead(ctx context.Context, id, userID int64) error {
	return wrapNotFound(e.Repo.MarkNotificationRead(ctx, e.DB, id, userID), "notification", id)
}

// PurgeNotifications deletes read notifications older than the retention window
// along with expired one-time tokens.
func (e Engine) PurgeNotifications(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := e.now().Add(-retention).UTC().Format(time.RFC3339)
	n, err := e.Repo.DeleteReadNotificationsBefore(ctx, e.DB, cutoff)
	if err != nil {
		return 0, err
	}
	if _, err := e.Repo.DeleteExpiredTokens(ctx, e.DB, e.timestamp()); err != nil {
		return n, fmt.Errorf("purge expired tokens: %w", err)
	}
	return n, nil
}
