package access

import (
	"context"
	_ "embed"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/channeladmin/channeladmin/internal/audit"
	"github.com/channeladmin/channeladmin/internal/platform/db"
	"github.com/channeladmin/channeladmin/internal/users"
)

//go:embed schema.sql
var schemaSQL string

var (
	errAlreadyHeld = errors.New("access: role already held")
	errNotHeld     = errors.New("access: role not held")
)

// Conn is satisfied by *pgxpool.Pool.
type Conn interface {
	db.DBTX
	db.Beginner
}

// Repository is the PostgreSQL Store.
type Repository struct {
	conn    Conn
	timeout time.Duration
	logger  *slog.Logger
}

var _ Store = (*Repository)(nil)

// NewRepository builds a Repository. Every call is bounded by timeout.
func NewRepository(conn Conn, timeout time.Duration, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{conn: conn, timeout: timeout, logger: logger.With(slog.String("component", "role_store"))}
}

// Migrate creates the tables when they are missing.
func (r *Repository) Migrate(ctx context.Context) error {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()
	if _, err := r.conn.Exec(ctx, schemaSQL); err != nil {
		return r.fail("migrate", err)
	}
	return nil
}

// AddRole implements Store.
func (r *Repository) AddRole(ctx context.Context, userID int64, roleType string, actorID int64) (bool, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := db.WithTx(ctx, r.conn, func(tx pgx.Tx) error {
		if _, err := users.NewRepository(tx).Ensure(ctx, userID, nil); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO user_roles (user_id, role_type, created_by)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, role_type) DO NOTHING`, userID, roleType, actorID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errAlreadyHeld
		}
		return audit.NewRepository(tx).Record(ctx, userID, roleType, audit.ActionAdd, actorID)
	})
	switch {
	case errors.Is(err, errAlreadyHeld):
		return false, nil
	case err != nil:
		return false, r.fail("add role", err, slog.Int64("user_id", userID), slog.String("role_type", roleType))
	}
	return true, nil
}

// RemoveRole implements Store.
func (r *Repository) RemoveRole(ctx context.Context, userID int64, roleType string, actorID int64) (bool, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := db.WithTx(ctx, r.conn, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_type = $2`, userID, roleType)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errNotHeld
		}
		return audit.NewRepository(tx).Record(ctx, userID, roleType, audit.ActionRemove, actorID)
	})
	switch {
	case errors.Is(err, errNotHeld):
		return false, nil
	case err != nil:
		return false, r.fail("remove role", err, slog.Int64("user_id", userID), slog.String("role_type", roleType))
	}
	return true, nil
}

// CheckRole implements Store.
func (r *Repository) CheckRole(ctx context.Context, userID int64, roleType string) (bool, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	var held bool
	err := r.conn.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id = $1 AND role_type = $2)`,
		userID, roleType).Scan(&held)
	if err != nil {
		return false, r.fail("check role", err, slog.Int64("user_id", userID))
	}
	return held, nil
}

// GetUserRoles implements Store. Roles come back sorted by name.
func (r *Repository) GetUserRoles(ctx context.Context, userID int64) ([]string, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.conn.Query(ctx, `
		SELECT role_type FROM user_roles WHERE user_id = $1 ORDER BY role_type`, userID)
	if err != nil {
		return nil, r.fail("get user roles", err, slog.Int64("user_id", userID))
	}
	held, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, r.fail("get user roles", err, slog.Int64("user_id", userID))
	}
	return held, nil
}

// GetRoleDetails implements Store.
func (r *Repository) GetRoleDetails(ctx context.Context, userID int64, roleType string) (RoleAssignment, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	a := RoleAssignment{UserID: userID, RoleType: roleType}
	err := r.conn.QueryRow(ctx, `
		SELECT created_at, created_by FROM user_roles
		WHERE user_id = $1 AND role_type = $2`, userID, roleType).
		Scan(&a.CreatedAt, &a.CreatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleAssignment{}, &NotFoundError{Err: ErrRoleNotFound, UserID: userID, RoleType: roleType}
		}
		return RoleAssignment{}, r.fail("get role details", err, slog.Int64("user_id", userID))
	}
	return a, nil
}

// GetRoleHistory implements Store.
func (r *Repository) GetRoleHistory(ctx context.Context, userID *int64, limit int) ([]audit.Entry, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	entries, err := audit.NewRepository(r.conn).History(ctx, userID, limit)
	if err != nil {
		return nil, r.fail("get role history", err)
	}
	return entries, nil
}

// ClearHistory implements Store.
func (r *Repository) ClearHistory(ctx context.Context) (int64, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	n, err := audit.NewRepository(r.conn).Clear(ctx)
	if err != nil {
		return 0, r.fail("clear history", err)
	}
	return n, nil
}

// GetUsersByRole implements Store.
func (r *Repository) GetUsersByRole(ctx context.Context, roleTypes []string) ([]users.User, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	list, err := users.NewRepository(r.conn).ListByRoles(ctx, roleTypes)
	if err != nil {
		return nil, r.fail("get users by role", err)
	}
	return list, nil
}

// UserExists implements Store.
func (r *Repository) UserExists(ctx context.Context, userID int64) (bool, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	ok, err := users.NewRepository(r.conn).Exists(ctx, userID)
	if err != nil {
		return false, r.fail("user exists", err, slog.Int64("user_id", userID))
	}
	return ok, nil
}

// EnsureUser implements Store.
func (r *Repository) EnsureUser(ctx context.Context, userID int64, username *string) (bool, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	created, err := users.NewRepository(r.conn).Ensure(ctx, userID, username)
	if err != nil {
		return false, r.fail("ensure user", err, slog.Int64("user_id", userID))
	}
	return created, nil
}

// RenameRole implements Store. Users already holding to keep a single row;
// their from row is dropped and counted as merged. History is rewritten so
// the audit log stays queryable under the new name.
func (r *Repository) RenameRole(ctx context.Context, from, to string, dryRun bool) (RenameResult, error) {
	ctx, cancel := db.WithTimeout(ctx, r.timeout)
	defer cancel()

	res := RenameResult{From: from, To: to, DryRun: dryRun}
	err := db.WithTx(ctx, r.conn, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT user_id FROM user_roles WHERE role_type = $1 ORDER BY user_id`, from)
		if err != nil {
			return err
		}
		if res.Users, err = pgx.CollectRows(rows, pgx.RowTo[int64]); err != nil {
			return err
		}
		if dryRun || len(res.Users) == 0 {
			return nil
		}
		tag, err := tx.Exec(ctx, `
			DELETE FROM user_roles f
			WHERE f.role_type = $1
			  AND EXISTS (SELECT 1 FROM user_roles t WHERE t.user_id = f.user_id AND t.role_type = $2)`,
			from, to)
		if err != nil {
			return err
		}
		res.Merged = tag.RowsAffected()
		tag, err = tx.Exec(ctx, `UPDATE user_roles SET role_type = $2 WHERE role_type = $1`, from, to)
		if err != nil {
			return err
		}
		res.Renamed = tag.RowsAffected()
		res.AuditEntries, err = audit.NewRepository(tx).RenameRole(ctx, from, to)
		return err
	})
	if err != nil {
		return RenameResult{}, r.fail("rename role", err, slog.String("from", from), slog.String("to", to))
	}
	if res.Users == nil {
		res.Users = []int64{}
	}
	return res, nil
}

func (r *Repository) fail(op string, err error, attrs ...any) error {
	r.logger.Error(op+" failed", append(attrs, slog.Any("error", err))...)
	return storageErr(op, err)
}
