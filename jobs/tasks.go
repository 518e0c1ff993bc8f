package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/channeladmin/channeladmin/internal/access"
	jobmetrics "github.com/channeladmin/channeladmin/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRoleRename migrates every assignment of one role type to another.
	TaskRoleRename = "roles:rename"
)

// RenamePayload describes a role-type migration.
type RenamePayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	DryRun  bool   `json:"dry_run"`
	ActorID int64  `json:"actor_id"`
}

// NewRoleRenameTask constructs an Asynq task.
func NewRoleRenameTask(payload RenamePayload, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRoleRename, data, opts...), nil
}

// RoleRenamer performs the migration. *access.Service implements it.
type RoleRenamer interface {
	RenameRole(ctx context.Context, actorID int64, from, to string, dryRun bool) (access.RenameResult, error)
}

// RenameHandler processes TaskRoleRename tasks.
type RenameHandler struct {
	renamer RoleRenamer
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewRenameHandler constructs a RenameHandler. metrics may be nil.
func NewRenameHandler(renamer RoleRenamer, metrics *jobmetrics.Metrics, logger *slog.Logger) *RenameHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RenameHandler{renamer: renamer, metrics: metrics, logger: logger}
}

// TaskHandler registers the handler with a Worker.
func (h *RenameHandler) TaskHandler() TaskHandler {
	return TaskHandler{Type: TaskRoleRename, Handler: h.Handle}
}

// Handle runs one rename. Malformed payloads and rejected requests are not
// retried; storage failures are.
func (h *RenameHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var payload RenamePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", TaskRoleRename, err, asynq.SkipRetry)
	}
	tracker := h.metrics.Track(TaskRoleRename)
	res, err := h.renamer.RenameRole(ctx, payload.ActorID, payload.From, payload.To, payload.DryRun)
	if err != nil {
		h.logger.Error("role rename failed",
			slog.String("from", payload.From), slog.String("to", payload.To),
			slog.Int64("actor_id", payload.ActorID), slog.Any("error", err))
		if errors.Is(err, access.ErrPermissionDenied) || errors.Is(err, access.ErrValidation) {
			err = fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return tracker.End(err)
	}
	h.metrics.AddRows(TaskRoleRename, res.Renamed+res.Merged)
	h.logger.Info("role rename finished",
		slog.String("from", res.From), slog.String("to", res.To), slog.Bool("dry_run", res.DryRun),
		slog.Int("users", len(res.Users)), slog.Int64("renamed", res.Renamed),
		slog.Int64("merged", res.Merged), slog.Int64("audit_entries", res.AuditEntries))
	return tracker.End(nil)
}
