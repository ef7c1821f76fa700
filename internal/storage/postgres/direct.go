package postgres

import (
	"context"

	"campus-chat/internal/models"
	"campus-chat/internal/storage"
)

const directColumns = `id, sender_id, recipient_id, content, type, status, is_read,
	file_key, file_name, file_url, file_size, content_type, created_at`

func scanDirect(row scanner) (*models.DirectMessage, error) {
	var (
		m   models.DirectMessage
		att attachmentCols
	)
	dest := append([]any{&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.Type, &m.Status, &m.Read}, att.dest()...)
	dest = append(dest, &m.Timestamp)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	m.Attachment = att.attachment()
	return &m, nil
}

func (s *Store) SaveDirect(ctx context.Context, m *models.DirectMessage) error {
	args := append([]any{m.ID, m.SenderID, m.RecipientID, m.Content, m.Type, m.Status, m.Read},
		attachmentArgs(m.Attachment)...)
	args = append(args, m.Timestamp)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO direct_messages (`+directColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`, args...)
	if err != nil {
		return mapErr("save direct message", err)
	}
	return nil
}

func (s *Store) GetDirect(ctx context.Context, id string) (*models.DirectMessage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+directColumns+` FROM direct_messages WHERE id = $1`, id)
	m, err := scanDirect(row)
	if err != nil {
		return nil, mapErr("get direct message", err)
	}
	return m, nil
}

// Conversation filters on the same LEAST/GREATEST pair as idx_direct_pair_time
// so the page is read straight from the index in order.
func (s *Store) Conversation(ctx context.Context, a, b string, offset, limit int) ([]*models.DirectMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+directColumns+`
		FROM direct_messages
		WHERE LEAST(sender_id, recipient_id) = LEAST($1::varchar, $2::varchar)
		  AND GREATEST(sender_id, recipient_id) = GREATEST($1::varchar, $2::varchar)
		ORDER BY created_at ASC, id ASC
		LIMIT $3 OFFSET $4`,
		a, b, limit, offset)
	if err != nil {
		return nil, mapErr("load conversation", err)
	}
	defer rows.Close()

	var out []*models.DirectMessage
	for rows.Next() {
		m, err := scanDirect(rows)
		if err != nil {
			return nil, mapErr("scan direct message", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) MarkDirectRead(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE direct_messages SET is_read = TRUE, status = 'READ'
		WHERE id = $1 AND is_read = FALSE`, id)
	if err != nil {
		return false, mapErr("mark direct read", err)
	}
	return rowsChanged(res, "mark direct read")
}

func (s *Store) DeleteDirect(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM direct_messages WHERE id = $1`, id)
	if err != nil {
		return mapErr("delete direct message", err)
	}
	ok, err := rowsChanged(res, "delete direct message")
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) CountUnreadDirect(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM direct_messages WHERE recipient_id = $1 AND is_read = FALSE`,
		recipientID).Scan(&n)
	if err != nil {
		return 0, mapErr("count unread direct", err)
	}
	return n, nil
}
