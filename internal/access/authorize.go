package access

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/channeladmin/channeladmin/internal/roles"
)

type predicateKind int

const (
	anyRole predicateKind = iota
	allPermissions
	anyPermission
)

// Predicate is an authorization requirement evaluated against a caller.
// A predicate naming nothing always passes.
type Predicate struct {
	kind   predicateKind
	values []string
}

// HasRole requires role or one of its equivalents.
func HasRole(role string) Predicate { return AnyRole(role) }

// AnyRole requires at least one of the listed roles.
func AnyRole(names ...string) Predicate { return Predicate{kind: anyRole, values: normalizeNames(names)} }

// HasPermission requires a single permission.
func HasPermission(perm string) Predicate { return AllPermissions(perm) }

// AllPermissions requires every listed permission.
func AllPermissions(perms ...string) Predicate {
	return Predicate{kind: allPermissions, values: normalizeNames(perms)}
}

// AnyPermission requires at least one listed permission.
func AnyPermission(perms ...string) Predicate {
	return Predicate{kind: anyPermission, values: normalizeNames(perms)}
}

func normalizeNames(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = roles.Normalize(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (p Predicate) String() string {
	list := strings.Join(p.values, ", ")
	switch {
	case p.kind == anyRole && len(p.values) == 1:
		return "role " + list
	case p.kind == anyRole:
		return "any role of " + list
	case len(p.values) == 1:
		return "permission " + list
	case p.kind == allPermissions:
		return "all permissions of " + list
	default:
		return "any permission of " + list
	}
}

// UserMessage renders the denial notice shown to a refused caller.
func (p Predicate) UserMessage() string {
	list := strings.Join(p.values, ", ")
	var required string
	switch {
	case p.kind == anyRole && len(p.values) == 1:
		required = "Required role: " + list
	case p.kind == anyRole:
		required = "Required one of roles: " + list
	case len(p.values) == 1:
		required = "Required permission: " + list
	case p.kind == allPermissions:
		required = "Required permissions: " + list
	default:
		required = "Required one of permissions: " + list
	}
	return fmt.Sprintf("Insufficient rights for this action.\n%s", required)
}

// AuthzResult is the outcome of Authorize.
type AuthzResult struct {
	Allowed      bool   `json:"allowed"`
	DeniedReason string `json:"denied_reason,omitempty"`
}

// Authorize evaluates pred for callerID. Storage failures deny.
func (s *Service) Authorize(ctx context.Context, callerID int64, pred Predicate) AuthzResult {
	ok, err := s.evaluate(ctx, callerID, pred)
	if err != nil {
		s.logger.Error("authorize failed", slog.Int64("caller_id", callerID), slog.Any("error", err))
	}
	s.metrics.Decision(ok)
	if ok {
		return AuthzResult{Allowed: true}
	}
	return AuthzResult{DeniedReason: "requires " + pred.String()}
}

// Require is Authorize reporting a denial as *PermissionDeniedError and a
// storage failure as itself.
func (s *Service) Require(ctx context.Context, callerID int64, pred Predicate) error {
	ok, err := s.evaluate(ctx, callerID, pred)
	if err != nil {
		return err
	}
	s.metrics.Decision(ok)
	if !ok {
		s.logger.Warn("permission denied", slog.Int64("actor_id", callerID), slog.String("requirement", pred.String()))
		return &PermissionDeniedError{ActorID: callerID, Required: pred}
	}
	return nil
}

func (s *Service) evaluate(ctx context.Context, callerID int64, pred Predicate) (bool, error) {
	if len(pred.values) == 0 {
		return true, nil
	}
	held, err := s.loadRoles(ctx, callerID)
	if err != nil {
		return false, err
	}
	switch pred.kind {
	case anyRole:
		for _, r := range pred.values {
			if s.holds(held, r) {
				return true, nil
			}
		}
		return false, nil
	case allPermissions:
		perms := s.catalog.Permissions(held)
		for _, p := range pred.values {
			if _, ok := perms[p]; !ok {
				return false, nil
			}
		}
		return true, nil
	default:
		perms := s.catalog.Permissions(held)
		for _, p := range pred.values {
			if _, ok := perms[p]; ok {
				return true, nil
			}
		}
		return false, nil
	}
}

func (s *Service) holds(held []string, role string) bool {
	for _, name := range s.catalog.Equivalents(role) {
		for _, h := range held {
			if h == name {
				return true
			}
		}
	}
	return false
}
