package postgres

import (
	"context"
	"fmt"

	"campus-chat/internal/models"
	"campus-chat/internal/storage"
)

const groupColumns = `id, name, description, icon_url, type, created_by, is_active, version, created_at, updated_at`

func scanGroup(row scanner) (*models.Group, error) {
	var g models.Group
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.IconURL, &g.Type, &g.CreatedBy,
		&g.IsActive, &g.Version, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) CreateGroup(ctx context.Context, g *models.Group) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create group: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO groups (`+groupColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		g.ID, g.Name, g.Description, g.IconURL, g.Type, g.CreatedBy, g.IsActive, g.Version, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return mapErr("insert group", err)
	}

	for _, id := range g.Members {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO group_members (group_id, user_id, joined_at) VALUES ($1, $2, $3)
			ON CONFLICT (group_id, user_id) DO NOTHING`,
			g.ID, id, g.CreatedAt)
		if err != nil {
			return mapErr("insert group member", err)
		}
	}
	for _, id := range g.Admins {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO group_admins (group_id, user_id) VALUES ($1, $2)
			ON CONFLICT (group_id, user_id) DO NOTHING`,
			g.ID, id)
		if err != nil {
			return mapErr("insert group admin", err)
		}
	}

	return tx.Commit()
}

func (s *Store) userIDs(ctx context.Context, query, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) loadSets(ctx context.Context, g *models.Group) error {
	var err error
	g.Members, err = s.userIDs(ctx, `SELECT user_id FROM group_members WHERE group_id = $1 ORDER BY user_id`, g.ID)
	if err != nil {
		return mapErr("load group members", err)
	}
	g.Admins, err = s.userIDs(ctx, `SELECT user_id FROM group_admins WHERE group_id = $1 ORDER BY user_id`, g.ID)
	if err != nil {
		return mapErr("load group admins", err)
	}
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	g, err := scanGroup(s.db.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr("get group", err)
	}
	if err := s.loadSets(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Store) ListGroupsForUser(ctx context.Context, userID string) ([]*models.Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.description, g.icon_url, g.type, g.created_by,
		       g.is_active, g.version, g.created_at, g.updated_at
		FROM groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = $1 AND g.is_active
		ORDER BY g.name, g.id`, userID)
	if err != nil {
		return nil, mapErr("list groups", err)
	}

	var groups []*models.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			rows.Close()
			return nil, mapErr("scan group", err)
		}
		groups = append(groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapErr("list groups", err)
	}

	for _, g := range groups {
		if err := s.loadSets(ctx, g); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

func (s *Store) UpdateGroupMetadata(ctx context.Context, g *models.Group, expectedVersion int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE groups
		SET name = $1, description = $2, icon_url = $3, updated_at = $4, version = version + 1
		WHERE id = $5 AND version = $6`,
		g.Name, g.Description, g.IconURL, g.UpdatedAt, g.ID, expectedVersion)
	if err != nil {
		return mapErr("update group", err)
	}
	ok, err := rowsChanged(res, "update group")
	if err != nil {
		return err
	}
	if ok {
		g.Version = expectedVersion + 1
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM groups WHERE id = $1)`, g.ID).Scan(&exists); err != nil {
		return mapErr("update group", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrConflict
}

func (s *Store) SetGroupActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE groups SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return mapErr("set group active", err)
	}
	ok, err := rowsChanged(res, "set group active")
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) AddMember(ctx context.Context, groupID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)
		ON CONFLICT (group_id, user_id) DO NOTHING`,
		groupID, userID)
	if err != nil {
		return false, mapErr("add group member", err)
	}
	return rowsChanged(res, "add group member")
}

// RemoveMember relies on the group_admins foreign key cascade to drop admin rights.
func (s *Store) RemoveMember(ctx context.Context, groupID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return false, mapErr("remove group member", err)
	}
	return rowsChanged(res, "remove group member")
}

func (s *Store) AddAdmin(ctx context.Context, groupID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_admins (group_id, user_id) VALUES ($1, $2)
		ON CONFLICT (group_id, user_id) DO NOTHING`,
		groupID, userID)
	if err != nil {
		return mapErr("add group admin", err)
	}
	return nil
}

func (s *Store) RemoveAdmin(ctx context.Context, groupID, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM group_admins WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return mapErr("remove group admin", err)
	}
	return nil
}

func (s *Store) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`,
		groupID, userID).Scan(&ok)
	if err != nil {
		return false, mapErr("check membership", err)
	}
	return ok, nil
}
