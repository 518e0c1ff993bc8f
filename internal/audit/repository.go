package audit

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/channeladmin/channeladmin/internal/platform/db"
)

// Repository persists role_audit rows. It runs against a pool or an open
// transaction so entries can commit together with the change they describe.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs a repository.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

// Record appends one entry.
func (r *Repository) Record(ctx context.Context, userID int64, roleType string, action Action, performedBy int64) error {
	if roleType == "" || (action != ActionAdd && action != ActionRemove) {
		return errors.New("audit: entry requires role type and add/remove action")
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO role_audit (user_id, role_type, action, performed_by)
		VALUES ($1, $2, $3, $4)`, userID, roleType, string(action), performedBy)
	return err
}

// History returns entries newest first, optionally filtered by user.
func (r *Repository) History(ctx context.Context, userID *int64, limit int) ([]Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, role_type, action, performed_by, performed_at
		FROM role_audit
		WHERE ($1::BIGINT IS NULL OR user_id = $1)
		ORDER BY performed_at DESC, id DESC
		LIMIT $2`, userID, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		var action string
		if err := row.Scan(&e.ID, &e.UserID, &e.RoleType, &action, &e.PerformedBy, &e.PerformedAt); err != nil {
			return Entry{}, err
		}
		e.Action = Action(action)
		return e, nil
	})
}

// Clear deletes every entry and returns how many were removed.
func (r *Repository) Clear(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM role_audit`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RenameRole rewrites role_type on historical entries.
func (r *Repository) RenameRole(ctx context.Context, from, to string) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE role_audit SET role_type = $2 WHERE role_type = $1`, from, to)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
