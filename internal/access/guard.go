package access

import (
	"context"
	"log/slog"

	"github.com/channeladmin/channeladmin/internal/roles"
)

// Authorizer evaluates predicates. *Service implements it.
type Authorizer interface {
	Authorize(ctx context.Context, callerID int64, pred Predicate) AuthzResult
}

// Notifier delivers a denial notice back through the transport of req.
type Notifier[Req any] func(ctx context.Context, req Req, notice string) error

// Handler processes one inbound request.
type Handler[Req any] func(ctx context.Context, req Req) error

// Guard gates handlers behind predicates.
type Guard struct {
	authz  Authorizer
	logger *slog.Logger
}

// NewGuard constructs a Guard.
func NewGuard(authz Authorizer, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{authz: authz, logger: logger}
}

// Wrap runs next only when the caller satisfies pred. A refused caller gets
// the denial notice through notify and next is skipped without error.
func Wrap[Req any](g *Guard, pred Predicate, caller func(Req) int64, notify Notifier[Req], next Handler[Req]) Handler[Req] {
	return func(ctx context.Context, req Req) error {
		id := caller(req)
		res := g.authz.Authorize(ctx, id, pred)
		if res.Allowed {
			return next(ctx, req)
		}
		g.logger.Warn("access denied", slog.Int64("caller_id", id), slog.String("reason", res.DeniedReason))
		if notify != nil {
			if err := notify(ctx, req, pred.UserMessage()); err != nil {
				g.logger.Error("deliver denial notice", slog.Int64("caller_id", id), slog.Any("error", err))
			}
		}
		return nil
	}
}

// AdminRequired gates next behind the admin role.
func AdminRequired[Req any](g *Guard, caller func(Req) int64, notify Notifier[Req], next Handler[Req]) Handler[Req] {
	return Wrap(g, HasRole(roles.Admin), caller, notify, next)
}

// ContentManagerRequired admits admins and content managers.
func ContentManagerRequired[Req any](g *Guard, caller func(Req) int64, notify Notifier[Req], next Handler[Req]) Handler[Req] {
	return Wrap(g, AnyRole(roles.Admin, roles.ContentManager), caller, notify, next)
}
