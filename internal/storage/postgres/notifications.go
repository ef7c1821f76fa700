package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"campus-chat/internal/models"
	"campus-chat/internal/storage"
)

const notificationColumns = `id, recipient_id, title, message, type, priority, is_read, read_at, action_url, created_at`

func scanNotification(row scanner) (*models.Notification, error) {
	var (
		n      models.Notification
		readAt sql.NullTime
	)
	err := row.Scan(&n.ID, &n.RecipientID, &n.Title, &n.Message, &n.Type, &n.Priority,
		&n.IsRead, &readAt, &n.ActionURL, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}
	return &n, nil
}

// SaveNotifications writes the whole batch in one transaction.
func (s *Store) SaveNotifications(ctx context.Context, ns ...*models.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save notifications: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)
	if err != nil {
		return fmt.Errorf("prepare notification insert: %w", err)
	}
	defer stmt.Close()

	for _, n := range ns {
		var readAt any
		if n.ReadAt != nil {
			readAt = *n.ReadAt
		}
		_, err := stmt.ExecContext(ctx, n.ID, n.RecipientID, n.Title, n.Message, n.Type, n.Priority,
			n.IsRead, readAt, n.ActionURL, n.CreatedAt)
		if err != nil {
			return mapErr("insert notification", err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	n, err := scanNotification(s.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr("get notification", err)
	}
	return n, nil
}

func (s *Store) ListNotifications(ctx context.Context, recipientID string, offset, limit int) ([]*models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		recipientID, limit, offset)
	if err != nil {
		return nil, mapErr("list notifications", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, mapErr("scan notification", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) MarkNotificationRead(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = $2
		WHERE id = $1 AND is_read = FALSE`, id, at)
	if err != nil {
		return false, mapErr("mark notification read", err)
	}
	return rowsChanged(res, "mark notification read")
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = $2
		WHERE recipient_id = $1 AND is_read = FALSE`, recipientID, at)
	if err != nil {
		return 0, mapErr("mark all notifications read", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return n, nil
}

func (s *Store) CountUnreadNotifications(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND is_read = FALSE`, recipientID).Scan(&n)
	if err != nil {
		return 0, mapErr("count unread notifications", err)
	}
	return n, nil
}

func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return mapErr("delete notification", err)
	}
	ok, err := rowsChanged(res, "delete notification")
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}
	return nil
}
