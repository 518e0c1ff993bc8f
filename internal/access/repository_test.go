package access

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channeladmin/channeladmin/internal/audit"
	"github.com/channeladmin/channeladmin/internal/platform/db"
)

// newTestRepository connects to TEST_PG_DSN and resets the schema. The test
// is skipped when no database is configured.
func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres integration test")
	}
	ctx := context.Background()
	pool, err := db.New(ctx, dsn, db.Options{MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `DROP TABLE IF EXISTS role_audit, user_roles, users`)
	require.NoError(t, err)

	repo := NewRepository(pool, 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, repo.Migrate(ctx))
	require.NoError(t, repo.Migrate(ctx), "migrate is idempotent")
	return repo
}

func TestRepositoryGrantRevokeAudit(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	added, err := repo.AddRole(ctx, 42, "admin", 7)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = repo.AddRole(ctx, 42, "admin", 7)
	require.NoError(t, err)
	assert.False(t, added)

	exists, err := repo.UserExists(ctx, 42)
	require.NoError(t, err)
	assert.True(t, exists, "grant creates the user on the fly")

	held, err := repo.CheckRole(ctx, 42, "admin")
	require.NoError(t, err)
	assert.True(t, held)

	details, err := repo.GetRoleDetails(ctx, 42, "admin")
	require.NoError(t, err)
	require.NotNil(t, details.CreatedBy)
	assert.Equal(t, int64(7), *details.CreatedBy)

	removed, err := repo.RemoveRole(ctx, 42, "admin", 7)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = repo.RemoveRole(ctx, 42, "admin", 7)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = repo.GetRoleDetails(ctx, 42, "admin")
	require.ErrorIs(t, err, ErrRoleNotFound)

	uid := int64(42)
	history, err := repo.GetRoleHistory(ctx, &uid, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, audit.ActionRemove, history[0].Action)
	assert.Equal(t, audit.ActionAdd, history[1].Action)

	n, err := repo.ClearHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRepositoryUsersAndRename(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	name := "alice"

	created, err := repo.EnsureUser(ctx, 1, nil)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = repo.EnsureUser(ctx, 1, &name)
	require.NoError(t, err)
	assert.False(t, created)

	for _, g := range []struct {
		user int64
		role string
	}{{1, "content"}, {2, "content"}, {2, "content_manager"}, {3, "user"}} {
		_, err := repo.AddRole(ctx, g.user, g.role, 1)
		require.NoError(t, err)
	}

	list, err := repo.GetUsersByRole(ctx, []string{"content_manager", "content"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.NotNil(t, list[0].Username)
	assert.Equal(t, "alice", *list[0].Username)

	dry, err := repo.RenameRole(ctx, "content", "content_manager", true)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, dry.Users)
	held, err := repo.GetUserRoles(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"content"}, held)

	res, err := repo.RenameRole(ctx, "content", "content_manager", false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Renamed)
	assert.Equal(t, int64(1), res.Merged)
	assert.Equal(t, int64(2), res.AuditEntries)

	held, err = repo.GetUserRoles(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"content_manager"}, held)
}

func TestRepositoryStorageErrors(t *testing.T) {
	repo := newTestRepository(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.AddRole(ctx, 1, "admin", 1)
	require.ErrorIs(t, err, ErrStorage)
	_, err = repo.GetUserRoles(ctx, 1)
	require.ErrorIs(t, err, ErrStorage)
}
