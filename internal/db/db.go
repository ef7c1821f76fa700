package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Database struct {
	Conn *sql.DB
}

func NewDatabase(dsn string) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(25)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return &Database{Conn: conn}, nil
}

func (d *Database) Close() error {
	return d.Conn.Close()
}

// schema is applied in order. The users table belongs to the records
// system; it is created here only so a bare development database works.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		email VARCHAR(255) PRIMARY KEY,
		full_name VARCHAR(255) NOT NULL DEFAULT '',
		role VARCHAR(32) NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS direct_messages (
		id VARCHAR(64) PRIMARY KEY,
		sender_id VARCHAR(255) NOT NULL,
		recipient_id VARCHAR(255) NOT NULL,
		content TEXT NOT NULL,
		type VARCHAR(16) NOT NULL,
		status VARCHAR(8) NOT NULL,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		file_key VARCHAR(128),
		file_name VARCHAR(255),
		file_url VARCHAR(512),
		file_size BIGINT,
		content_type VARCHAR(128),
		created_at TIMESTAMPTZ NOT NULL,
		CHECK (NOT is_read OR status = 'READ')
	)`,
	`CREATE INDEX IF NOT EXISTS idx_direct_pair_time
		ON direct_messages (LEAST(sender_id, recipient_id), GREATEST(sender_id, recipient_id), created_at, id)`,
	`CREATE INDEX IF NOT EXISTS idx_direct_unread
		ON direct_messages (recipient_id) WHERE NOT is_read`,

	`CREATE TABLE IF NOT EXISTS groups (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		icon_url VARCHAR(512) NOT NULL DEFAULT '',
		type VARCHAR(32) NOT NULL,
		created_by VARCHAR(255) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS group_members (
		group_id VARCHAR(64) REFERENCES groups(id),
		user_id VARCHAR(255) NOT NULL,
		joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (group_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS group_admins (
		group_id VARCHAR(64) NOT NULL,
		user_id VARCHAR(255) NOT NULL,
		PRIMARY KEY (group_id, user_id),
		FOREIGN KEY (group_id, user_id) REFERENCES group_members(group_id, user_id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members (user_id)`,

	`CREATE TABLE IF NOT EXISTS group_messages (
		id VARCHAR(64) PRIMARY KEY,
		group_id VARCHAR(64) NOT NULL REFERENCES groups(id),
		sender_id VARCHAR(255) NOT NULL,
		sender_name VARCHAR(255) NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		type VARCHAR(16) NOT NULL,
		status VARCHAR(8) NOT NULL,
		file_key VARCHAR(128),
		file_name VARCHAR(255),
		file_url VARCHAR(512),
		file_size BIGINT,
		content_type VARCHAR(128),
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_group_messages_time ON group_messages (group_id, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS group_message_reads (
		message_id VARCHAR(64) REFERENCES group_messages(id) ON DELETE CASCADE,
		user_id VARCHAR(255) NOT NULL,
		read_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (message_id, user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS notifications (
		id VARCHAR(64) PRIMARY KEY,
		recipient_id VARCHAR(255) NOT NULL,
		title VARCHAR(255) NOT NULL,
		message TEXT NOT NULL,
		type VARCHAR(32) NOT NULL,
		priority VARCHAR(16) NOT NULL,
		is_read BOOLEAN NOT NULL DEFAULT FALSE,
		read_at TIMESTAMPTZ,
		action_url VARCHAR(512) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications (recipient_id, created_at DESC)`,
}

func (d *Database) AutoMigrate(ctx context.Context) error {
	for _, query := range schema {
		if _, err := d.Conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
