package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/channeladmin/channeladmin/internal/access"
	"github.com/channeladmin/channeladmin/internal/platform/httpx"
	"github.com/channeladmin/channeladmin/internal/shared"
)

// Middleware wires access-control guards for HTTP handlers.
type Middleware struct {
	Authorizer access.Authorizer
	Logger     *slog.Logger
}

// call is one guarded HTTP request as seen by access.Wrap.
type call struct {
	w       http.ResponseWriter
	r       *http.Request
	actorID int64
}

type guardFunc func(g *access.Guard, caller func(call) int64, notify access.Notifier[call], next access.Handler[call]) access.Handler[call]

// RequireAdmin ensures the caller holds the admin role.
func (m Middleware) RequireAdmin() func(http.Handler) http.Handler {
	return m.guard(access.AdminRequired[call])
}

// RequireContentManager admits admins and content managers.
func (m Middleware) RequireContentManager() func(http.Handler) http.Handler {
	return m.guard(access.ContentManagerRequired[call])
}

// RequireRole ensures the caller holds role or an equivalent.
func (m Middleware) RequireRole(role string) func(http.Handler) http.Handler {
	return m.require(access.HasRole(role))
}

// RequireAny ensures the caller has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require(access.AnyPermission(perms...))
}

// RequireAll ensures the caller has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require(access.AllPermissions(perms...))
}

func (m Middleware) require(pred access.Predicate) func(http.Handler) http.Handler {
	return m.guard(func(g *access.Guard, caller func(call) int64, notify access.Notifier[call], next access.Handler[call]) access.Handler[call] {
		return access.Wrap(g, pred, caller, notify, next)
	})
}

func (m Middleware) guard(build guardFunc) func(http.Handler) http.Handler {
	g := access.NewGuard(m.Authorizer, m.Logger)
	return func(next http.Handler) http.Handler {
		handle := build(g, callerOf, denyWithProblem, func(_ context.Context, c call) error {
			next.ServeHTTP(c.w, c.r)
			return nil
		})
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actorID, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "caller identity required")
				return
			}
			_ = handle(r.Context(), call{w: w, r: r, actorID: actorID})
		})
	}
}

func callerOf(c call) int64 { return c.actorID }

func denyWithProblem(_ context.Context, c call, notice string) error {
	httpx.Problem(c.w, http.StatusForbidden, "Forbidden", notice)
	return nil
}
