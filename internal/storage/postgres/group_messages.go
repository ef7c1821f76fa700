package postgres

import (
	"context"
	"database/sql"

	"campus-chat/internal/models"
	"campus-chat/internal/storage"
)

const groupMessageColumns = `m.id, m.group_id, m.sender_id, m.sender_name, m.content, m.type, m.status,
	m.file_key, m.file_name, m.file_url, m.file_size, m.content_type, m.created_at`

func (s *Store) SaveGroupMessage(ctx context.Context, m *models.GroupMessage) error {
	args := append([]any{m.ID, m.GroupID, m.SenderID, m.SenderName, m.Content, m.Type, m.Status},
		attachmentArgs(m.Attachment)...)
	args = append(args, m.Timestamp)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_messages (id, group_id, sender_id, sender_name, content, type, status,
			file_key, file_name, file_url, file_size, content_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`, args...)
	if err != nil {
		return mapErr("save group message", err)
	}
	return nil
}

// collectGroupMessages folds the one-row-per-reader join back into messages,
// preserving row order.
func collectGroupMessages(rows *sql.Rows) ([]*models.GroupMessage, error) {
	var (
		out  []*models.GroupMessage
		last *models.GroupMessage
	)
	for rows.Next() {
		var (
			m      models.GroupMessage
			att    attachmentCols
			reader sql.NullString
		)
		dest := append([]any{&m.ID, &m.GroupID, &m.SenderID, &m.SenderName, &m.Content, &m.Type, &m.Status},
			att.dest()...)
		dest = append(dest, &m.Timestamp, &reader)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if last == nil || last.ID != m.ID {
			m.Attachment = att.attachment()
			m.ReadBy = []string{}
			last = &m
			out = append(out, last)
		}
		if reader.Valid {
			last.ReadBy = append(last.ReadBy, reader.String)
		}
	}
	return out, rows.Err()
}

func (s *Store) GetGroupMessage(ctx context.Context, id string) (*models.GroupMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+groupMessageColumns+`, r.user_id
		FROM group_messages m
		LEFT JOIN group_message_reads r ON r.message_id = m.id
		WHERE m.id = $1
		ORDER BY r.user_id`, id)
	if err != nil {
		return nil, mapErr("get group message", err)
	}
	defer rows.Close()

	msgs, err := collectGroupMessages(rows)
	if err != nil {
		return nil, mapErr("scan group message", err)
	}
	if len(msgs) == 0 {
		return nil, storage.ErrNotFound
	}
	return msgs[0], nil
}

func (s *Store) RecentGroupMessages(ctx context.Context, groupID string, offset, limit int) ([]*models.GroupMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+groupMessageColumns+`, r.user_id
		FROM (
			SELECT * FROM group_messages
			WHERE group_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2 OFFSET $3
		) m
		LEFT JOIN group_message_reads r ON r.message_id = m.id
		ORDER BY m.created_at DESC, m.id DESC, r.user_id`,
		groupID, limit, offset)
	if err != nil {
		return nil, mapErr("load group messages", err)
	}
	defer rows.Close()

	msgs, err := collectGroupMessages(rows)
	if err != nil {
		return nil, mapErr("scan group message", err)
	}
	return msgs, nil
}

func (s *Store) AddGroupReader(ctx context.Context, messageID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO group_message_reads (message_id, user_id) VALUES ($1, $2)
		ON CONFLICT (message_id, user_id) DO NOTHING`,
		messageID, userID)
	if err != nil {
		return false, mapErr("add group reader", err)
	}
	return rowsChanged(res, "add group reader")
}

func (s *Store) CountUnreadGroup(ctx context.Context, groupID, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM group_messages m
		WHERE m.group_id = $1 AND m.sender_id <> $2
		  AND NOT EXISTS (
			SELECT 1 FROM group_message_reads r WHERE r.message_id = m.id AND r.user_id = $2
		  )`,
		groupID, userID).Scan(&n)
	if err != nil {
		return 0, mapErr("count unread group", err)
	}
	return n, nil
}
