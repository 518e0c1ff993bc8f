package access

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation groups rejected inputs; nothing is written.
	ErrValidation = errors.New("access: validation failed")
	// ErrInvalidRole indicates a role type outside the catalog.
	ErrInvalidRole = errors.New("access: invalid role")
	// ErrPermissionDenied indicates the actor lacks a required role or permission.
	ErrPermissionDenied = errors.New("access: permission denied")
	// ErrUserNotFound indicates the target user is not registered.
	ErrUserNotFound = errors.New("access: user not found")
	// ErrRoleNotFound indicates the target user does not hold the role.
	ErrRoleNotFound = errors.New("access: role not found")
	// ErrStorage wraps unexpected failures of the role store.
	ErrStorage = errors.New("access: storage failure")
)

// ValidationError describes a rejected argument.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("access: invalid %s %q", e.Field, e.Value)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

func invalidRole(role string) error {
	return &ValidationError{Field: "role_type", Value: role, Err: ErrInvalidRole}
}

func invalidArgument(field, value string) error {
	return &ValidationError{Field: field, Value: value}
}

// PermissionDeniedError carries the actor and the requirement that failed.
type PermissionDeniedError struct {
	ActorID  int64
	Required Predicate
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("access: actor %d lacks %s", e.ActorID, e.Required)
}

func (e *PermissionDeniedError) Unwrap() error { return ErrPermissionDenied }

// UserMessage is the denial text safe to show the actor.
func (e *PermissionDeniedError) UserMessage() string {
	return e.Required.UserMessage()
}

// NotFoundError identifies a missing user or role assignment.
type NotFoundError struct {
	Err      error
	UserID   int64
	RoleType string
}

func (e *NotFoundError) Error() string {
	if e.RoleType == "" {
		return fmt.Sprintf("%v: user %d", e.Err, e.UserID)
	}
	return fmt.Sprintf("%v: user %d role %s", e.Err, e.UserID, e.RoleType)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
