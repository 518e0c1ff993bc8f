package users

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/channeladmin/channeladmin/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for the users table.
// It runs against a pool or an open transaction.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs a repository.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

// Ensure inserts the user when missing and reports whether a row was created.
// A non-nil username fills in a previously unknown handle.
func (r *Repository) Ensure(ctx context.Context, id int64, username *string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO users (user_id, username)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`, id, username)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if username != nil {
		if _, err := r.db.Exec(ctx, `
			UPDATE users SET username = $2, updated_at = NOW()
			WHERE user_id = $1 AND username IS NULL`, id, *username); err != nil {
			return false, err
		}
	}
	return false, nil
}

// Exists reports whether the user row is present.
func (r *Repository) Exists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE user_id = $1)`, id).Scan(&ok)
	return ok, err
}

// ListByRoles returns users holding any of the given role types, ordered by id.
func (r *Repository) ListByRoles(ctx context.Context, roleTypes []string) ([]User, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT u.user_id, u.username, u.full_name, u.created_at, u.updated_at
		FROM users u
		JOIN user_roles ur ON ur.user_id = u.user_id
		WHERE ur.role_type = ANY($1)
		ORDER BY u.user_id`, roleTypes)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (User, error) {
		var u User
		err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.CreatedAt, &u.UpdatedAt)
		return u, err
	})
}
