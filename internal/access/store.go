package access

import (
	"context"
	"time"

	"github.com/channeladmin/channeladmin/internal/audit"
	"github.com/channeladmin/channeladmin/internal/users"
)

// RoleAssignment is a stored grant of one role type to one user.
type RoleAssignment struct {
	UserID    int64     `json:"user_id"`
	RoleType  string    `json:"role_type"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy *int64    `json:"created_by,omitempty"`
}

// RoleDetails is an assignment with the permissions its role grants.
type RoleDetails struct {
	RoleAssignment
	Grants []string `json:"grants"`
}

// RenameResult reports a bulk role-type migration.
type RenameResult struct {
	From         string  `json:"from"`
	To           string  `json:"to"`
	DryRun       bool    `json:"dry_run"`
	Users        []int64 `json:"users"`
	Renamed      int64   `json:"renamed"`
	Merged       int64   `json:"merged"`
	AuditEntries int64   `json:"audit_entries"`
}

// Store persists users, role assignments and the audit log. Mutating
// operations commit the assignment change and its audit entry together.
// Failures are reported wrapped in ErrStorage.
type Store interface {
	// AddRole grants roleType and reports false when it was already held.
	AddRole(ctx context.Context, userID int64, roleType string, actorID int64) (bool, error)
	// RemoveRole revokes roleType and reports false when it was not held.
	RemoveRole(ctx context.Context, userID int64, roleType string, actorID int64) (bool, error)
	CheckRole(ctx context.Context, userID int64, roleType string) (bool, error)
	GetUserRoles(ctx context.Context, userID int64) ([]string, error)
	// GetRoleDetails fails with ErrRoleNotFound when the assignment is absent.
	GetRoleDetails(ctx context.Context, userID int64, roleType string) (RoleAssignment, error)
	GetRoleHistory(ctx context.Context, userID *int64, limit int) ([]audit.Entry, error)
	ClearHistory(ctx context.Context) (int64, error)
	GetUsersByRole(ctx context.Context, roleTypes []string) ([]users.User, error)
	UserExists(ctx context.Context, userID int64) (bool, error)
	EnsureUser(ctx context.Context, userID int64, username *string) (bool, error)
	RenameRole(ctx context.Context, from, to string, dryRun bool) (RenameResult, error)
}
