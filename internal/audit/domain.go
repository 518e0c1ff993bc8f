package audit

import "time"

// Action is the kind of role change an entry records.
type Action string

// Recorded actions.
const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Entry is an immutable record of a single grant or revoke.
type Entry struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	RoleType    string    `json:"role_type"`
	Action      Action    `json:"action"`
	PerformedBy int64     `json:"performed_by"`
	PerformedAt time.Time `json:"performed_at"`
}

// History limits.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// ClampLimit bounds a requested history size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
