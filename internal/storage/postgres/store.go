// Package postgres implements storage.Store over database/sql with the pgx driver.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"campus-chat/internal/models"
	"campus-chat/internal/storage"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

// mapErr turns driver errors into storage sentinels where one applies.
func mapErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return storage.ErrConflict
		case codeForeignKeyViolation:
			return storage.ErrNotFound
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// attachmentCols holds the nullable file_* columns shared by both message tables.
type attachmentCols struct {
	key, name, url, contentType sql.NullString
	size                        sql.NullInt64
}

func (a *attachmentCols) dest() []any {
	return []any{&a.key, &a.name, &a.url, &a.size, &a.contentType}
}

func (a *attachmentCols) attachment() *models.Attachment {
	if !a.key.Valid && !a.url.Valid {
		return nil
	}
	return &models.Attachment{
		StorageKey:  a.key.String,
		FileName:    a.name.String,
		FileURL:     a.url.String,
		FileSize:    a.size.Int64,
		ContentType: a.contentType.String,
	}
}

func attachmentArgs(a *models.Attachment) []any {
	if a == nil {
		return []any{nil, nil, nil, nil, nil}
	}
	return []any{a.StorageKey, a.FileName, a.FileURL, a.FileSize, a.ContentType}
}

func rowsChanged(res sql.Result, op string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}
