package repo

import (
	"context"
	"database/sql"

	"compliancehub/internal/domain"
)

// InsertNotification stores n unless a notification with the same dedupe key
// already exists. It reports whether a row was written.
func (r Repo) InsertNotification(ctx context.Context, q Querier, n *domain.Notification, dedupeKey string) (bool, error) {
	res, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO notifications(user_id,kind,message,entity_kind,entity_id,dedupe_key,read,created_at) VALUES (?,?,?,?,?,?,0,?)`,
		nullableInt(n.UserID), n.Kind, n.Message, n.EntityKind, n.EntityID, nullable(dedupeKey), n.CreatedAt)
	if err != nil {
		return false, err
	}
	affectedRows, _ := res.RowsAffected()
	if affectedRows == 0 {
		return false, nil
	}
	n.ID, err = res.LastInsertId()
	return true, err
}

// ListNotifications returns notifications addressed to userID or broadcast to everyone.
func (r Repo) ListNotifications(ctx context.Context, q Querier, userID int64, unreadOnly bool, limit int) ([]domain.Notification, error) {
	query := `SELECT id,user_id,kind,message,entity_kind,entity_id,read,created_at FROM notifications WHERE (user_id=? OR user_id IS NULL)`
	if unreadOnly {
		query += ` AND read=0`
	}
	query += ` ORDER BY id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var (
			n    domain.Notification
			user sql.NullInt64
			read int
		)
		if err := rows.Scan(&n.ID, &user, &n.Kind, &n.Message, &n.EntityKind, &n.EntityID, &read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.UserID = intPtr(user)
		n.Read = read == 1
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) MarkNotificationRead(ctx context.Context, q Querier, id, userID int64) error {
	return affected(q.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE id=? AND (user_id=? OR user_id IS NULL)`, id, userID))
}

// DeleteReadNotificationsBefore removes read notifications created before ts.
func (r Repo) DeleteReadNotificationsBefore(ctx context.Context, q Querier, ts string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM notifications WHERE read=1 AND created_at < ?`, ts)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
