package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	accesshttp "github.com/channeladmin/channeladmin/internal/access/http"
	"github.com/channeladmin/channeladmin/internal/observability"
	"github.com/channeladmin/channeladmin/internal/platform/httpx"
	"github.com/channeladmin/channeladmin/internal/roles"
	"github.com/channeladmin/channeladmin/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger        *slog.Logger
	Config        *Config
	RolesHandler  *roles.Handler
	AccessHandler *accesshttp.Handler
	JobHandler    *jobs.Handler
	Metrics       *observability.Metrics
	// Ping reports backing-store health for /healthz.
	Ping func(ctx context.Context) error
}

// NewRouter constructs the chi.Router for the admin API.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Ping(ctx); err != nil {
				params.Logger.Warn("health check failed", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	tokenHash := ""
	if params.Config != nil {
		tokenHash = params.Config.AdminAPITokenHash
	}
	r.Group(func(r chi.Router) {
		r.Use(TokenAuth(tokenHash, params.Logger))
		r.Route("/roles", func(r chi.Router) {
			if params.RolesHandler != nil {
				params.RolesHandler.MountRoutes(r)
			}
			if params.AccessHandler != nil {
				params.AccessHandler.MountRoleRoutes(r)
			}
		})
		if params.AccessHandler != nil {
			r.Route("/users", params.AccessHandler.MountUserRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
