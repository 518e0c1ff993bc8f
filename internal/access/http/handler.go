package accesshttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/channeladmin/channeladmin/internal/access"
	"github.com/channeladmin/channeladmin/internal/audit"
	"github.com/channeladmin/channeladmin/internal/platform/httpx"
	"github.com/channeladmin/channeladmin/internal/rbac"
	"github.com/channeladmin/channeladmin/internal/roles"
	"github.com/channeladmin/channeladmin/internal/shared"
	"github.com/channeladmin/channeladmin/internal/users"
	"github.com/channeladmin/channeladmin/jobs"
)

type accessService interface {
	AddRole(ctx context.Context, userID int64, roleType string, actorID int64) (bool, error)
	RemoveRole(ctx context.Context, userID int64, roleType string, actorID int64) (bool, error)
	GetUserRoles(ctx context.Context, userID int64) []string
	GetUserPermissions(ctx context.Context, userID int64) []string
	GetRoleDetails(ctx context.Context, userID int64, roleType string) (access.RoleDetails, error)
	GetUsersWithRole(ctx context.Context, roleType string) ([]users.User, error)
	GetRoleHistory(ctx context.Context, userID *int64, limit int) ([]audit.Entry, error)
	ClearHistory(ctx context.Context, actorID int64) (int64, error)
}

// RenameEnqueuer submits rename tasks to the worker queue.
type RenameEnqueuer interface {
	EnqueueRoleRename(ctx context.Context, payload jobs.RenamePayload) (string, error)
}

var errorMappings = []httpx.Mapping{
	{Target: access.ErrValidation, Status: http.StatusBadRequest, Title: "Invalid Request", Expose: true},
	{Target: access.ErrUserNotFound, Status: http.StatusNotFound, Title: "User Not Found", Expose: true},
	{Target: access.ErrRoleNotFound, Status: http.StatusNotFound, Title: "Role Not Found", Expose: true},
	{Target: access.ErrStorage, Status: http.StatusServiceUnavailable, Title: "Storage Unavailable"},
}

// Handler exposes role administration over JSON.
type Handler struct {
	logger    *slog.Logger
	service   accessService
	rbac      rbac.Middleware
	renames   RenameEnqueuer
	validator *validator.Validate
}

// NewHandler constructs the handler. renames may be nil, which disables
// POST /roles/rename.
func NewHandler(logger *slog.Logger, service accessService, guards rbac.Middleware, renames RenameEnqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		rbac:      guards,
		renames:   renames,
		validator: validator.New(),
	}
}

// MountRoleRoutes registers the /roles endpoints.
func (h *Handler) MountRoleRoutes(r chi.Router) {
	admin := h.rbac.RequireAdmin()
	r.With(admin).Post("/assignments", h.addRole)
	r.With(admin).Delete("/assignments/{userID}/{role}", h.removeRole)
	r.With(h.rbac.RequireAll(roles.PermViewLogs)).Get("/history", h.history)
	r.With(admin).Delete("/history", h.clearHistory)
	r.With(admin).Post("/rename", h.rename)
	r.With(h.rbac.RequireAll(roles.PermManageRoles)).Get("/{role}/users", h.usersWithRole)
}

// MountUserRoutes registers the /users endpoints.
func (h *Handler) MountUserRoutes(r chi.Router) {
	r.Route("/{userID}", func(r chi.Router) {
		r.Use(h.rbac.RequireContentManager())
		r.Get("/roles", h.userRoles)
		r.Get("/roles/{role}", h.roleDetails)
		r.Get("/permissions", h.userPermissions)
	})
}

type assignRoleRequest struct {
	UserID   int64  `json:"user_id" validate:"required,gt=0"`
	RoleType string `json:"role_type" validate:"required,max=50"`
}

type renameRequest struct {
	From   string `json:"from" validate:"required,max=50"`
	To     string `json:"to" validate:"required,max=50,nefield=From"`
	DryRun bool   `json:"dry_run"`
}

func (h *Handler) addRole(w http.ResponseWriter, r *http.Request) {
	actorID, _ := shared.ActorFromContext(r.Context())
	var req assignRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	added, err := h.service.AddRole(r.Context(), req.UserID, req.RoleType, actorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, map[string]any{
		"user_id":   req.UserID,
		"role_type": roles.Normalize(req.RoleType),
		"added":     added,
	})
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	actorID, _ := shared.ActorFromContext(r.Context())
	userID, ok := h.userIDParam(w, r)
	if !ok {
		return
	}
	roleType := chi.URLParam(r, "role")
	removed, err := h.service.RemoveRole(r.Context(), userID, roleType, actorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":   userID,
		"role_type": roles.Normalize(roleType),
		"removed":   removed,
	})
}

func (h *Handler) userRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDParam(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"roles":   h.service.GetUserRoles(r.Context(), userID),
	})
}

func (h *Handler) userPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDParam(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"permissions": h.service.GetUserPermissions(r.Context(), userID),
	})
}

func (h *Handler) roleDetails(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDParam(w, r)
	if !ok {
		return
	}
	details, err := h.service.GetRoleDetails(r.Context(), userID, chi.URLParam(r, "role"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, details)
}

func (h *Handler) usersWithRole(w http.ResponseWriter, r *http.Request) {
	roleType := roles.Normalize(chi.URLParam(r, "role"))
	list, err := h.service.GetUsersWithRole(r.Context(), roleType)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role_type": roleType, "users": list})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var userID *int64
	if raw := strings.TrimSpace(q.Get("user_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "user_id must be a positive integer")
			return
		}
		userID = &id
	}
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "limit must be an integer")
			return
		}
		limit = n
	}
	entries, err := h.service.GetRoleHistory(r.Context(), userID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if q.Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="role_history.csv"`)
		if err := audit.WriteCSV(w, entries); err != nil {
			h.logger.Error("write history csv", slog.Any("error", err))
		}
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) clearHistory(w http.ResponseWriter, r *http.Request) {
	actorID, _ := shared.ActorFromContext(r.Context())
	n, err := h.service.ClearHistory(r.Context(), actorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (h *Handler) rename(w http.ResponseWriter, r *http.Request) {
	if h.renames == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Worker Unavailable", "role renames are disabled on this instance")
		return
	}
	actorID, _ := shared.ActorFromContext(r.Context())
	var req renameRequest
	if !h.decode(w, r, &req) {
		return
	}
	taskID, err := h.renames.EnqueueRoleRename(r.Context(), jobs.RenamePayload{
		From:    roles.Normalize(req.From),
		To:      roles.Normalize(req.To),
		DryRun:  req.DryRun,
		ActorID: actorID,
	})
	if err != nil {
		h.logger.Error("enqueue role rename", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Worker Unavailable", "")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"task_id": taskID})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(w, r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", validationDetail(err))
		return false
	}
	return true
}

func (h *Handler) userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "userID must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var denied *access.PermissionDeniedError
	if errors.As(err, &denied) {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", denied.UserMessage())
		return
	}
	if errors.Is(err, access.ErrStorage) {
		h.logger.Error("access request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err, errorMappings...)
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}
