package identity

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
)

// Directory lists users from the records system. It is read-only here.
type Directory interface {
	UsersWithRole(ctx context.Context, role string) ([]string, error)
}

type SQLDirectory struct {
	db *sql.DB
}

func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

func (d *SQLDirectory) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT email FROM users WHERE UPPER(role) = $1 ORDER BY email`, strings.ToUpper(role))
	if err != nil {
		return nil, fmt.Errorf("users with role: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("users with role: %w", err)
		}
		users = append(users, email)
	}
	return users, rows.Err()
}

// StaticDirectory serves a fixed role table, used with the memory driver.
type StaticDirectory map[string][]string

func (d StaticDirectory) UsersWithRole(_ context.Context, role string) ([]string, error) {
	users := slices.Clone(d[strings.ToUpper(role)])
	slices.Sort(users)
	return users, nil
}
