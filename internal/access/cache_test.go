package access

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCacheWithClock(func() time.Time { return now })
	ctx := context.Background()

	c.Put(ctx, 1, []string{"admin"}, time.Minute)
	c.Put(ctx, 2, []string{}, 2*time.Minute)
	c.Put(ctx, 3, []string{"user"}, 0)

	got, ok := c.Get(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, []string{"admin"}, got)

	got, ok = c.Get(ctx, 2)
	require.True(t, ok, "empty sets are cacheable")
	assert.Empty(t, got)

	_, ok = c.Get(ctx, 3)
	assert.False(t, ok)

	now = now.Add(time.Minute)
	_, ok = c.Get(ctx, 1)
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len(), "expired entries stay until swept")

	assert.Equal(t, 1, c.Sweep(ctx))
	assert.Equal(t, 1, c.Len())

	c.Invalidate(ctx, 2)
	_, ok = c.Get(ctx, 2)
	assert.False(t, ok)
}

func TestMemoryCacheReturnsCopies(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	src := []string{"admin"}
	c.Put(ctx, 1, src, time.Minute)
	src[0] = "user"

	got, _ := c.Get(ctx, 1)
	got[0] = "mutated"
	again, _ := c.Get(ctx, 1)
	assert.Equal(t, []string{"admin"}, again)
}

func TestMemoryCacheConcurrentAccess(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := int64(0); i < 32; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			c.Put(ctx, id%4, []string{"user"}, time.Minute)
			c.Get(ctx, id%4)
			c.Invalidate(ctx, id%4)
			c.Sweep(ctx)
		}(i)
	}
	wg.Wait()
}

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, slog.New(slog.NewTextHandler(io.Discard, nil))), mr
}

func TestRedisCacheTTL(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	c.Put(ctx, 42, []string{"admin", "user"}, time.Minute)
	got, ok := c.Get(ctx, 42)
	require.True(t, ok)
	assert.Equal(t, []string{"admin", "user"}, got)
	assert.True(t, mr.Exists("channeladmin:roles:42"))

	mr.FastForward(time.Minute)
	_, ok = c.Get(ctx, 42)
	assert.False(t, ok)
}

func TestRedisCacheHonoursExpiryStamp(t *testing.T) {
	c, _ := newRedisCache(t)
	ctx := context.Background()
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Put(ctx, 42, nil, time.Minute)
	got, ok := c.Get(ctx, 42)
	require.True(t, ok)
	assert.Empty(t, got)

	now = now.Add(time.Minute)
	_, ok = c.Get(ctx, 42)
	assert.False(t, ok)
}

func TestRedisCacheInvalidateAndFailures(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	c.Put(ctx, 1, []string{"user"}, time.Minute)
	c.Invalidate(ctx, 1)
	_, ok := c.Get(ctx, 1)
	assert.False(t, ok)

	require.NoError(t, mr.Set("channeladmin:roles:2", "not json"))
	_, ok = c.Get(ctx, 2)
	assert.False(t, ok)
	assert.Zero(t, c.Sweep(ctx))

	mr.Close()
	_, ok = c.Get(ctx, 1)
	assert.False(t, ok, "redis outage reads as a miss")
}

func TestServiceOverRedisCache(t *testing.T) {
	c, _ := newRedisCache(t)
	store := newFakeStore()
	store.seed(adminID, "admin")
	svc := NewService(store, c, nil, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	ctx := context.Background()

	assert.False(t, svc.CheckUserRole(ctx, 42, "user"))
	_, err := svc.AddRole(ctx, 42, "user", adminID)
	require.NoError(t, err)
	assert.True(t, svc.CheckUserRole(ctx, 42, "user"))
	assert.True(t, svc.CheckUserRole(ctx, 42, "user"))
	assert.Equal(t, 3, store.roleReads, "admin load plus one load per invalidation")
}

func TestSweeper(t *testing.T) {
	_, err := NewSweeper(NewMemoryCache(), 0, nil)
	require.Error(t, err)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCacheWithClock(func() time.Time { return now })
	c.Put(context.Background(), 1, []string{"user"}, time.Second)

	s, err := NewSweeper(c, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	now = now.Add(time.Second)
	s.sweep()
	assert.Zero(t, c.Len())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	var k keyedMutex
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(7)
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Empty(t, k.locks)
}

func TestProcessesSharingRedisCacheSeeRevocations(t *testing.T) {
	c, _ := newRedisCache(t)
	store := newFakeStore()
	store.seed(adminID, "admin")
	store.seed(42, "admin")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	api := NewService(store, c, nil, Options{Logger: logger})
	operator := NewService(store, c, nil, Options{Logger: logger})
	ctx := context.Background()

	require.True(t, api.CheckUserRole(ctx, 42, "admin"))

	removed, err := operator.RemoveRole(ctx, 42, "admin", adminID)
	require.NoError(t, err)
	require.True(t, removed)

	assert.False(t, api.CheckUserRole(ctx, 42, "admin"))
	_, err = api.AddRole(ctx, 99, "content_manager", 42)
	require.ErrorIs(t, err, ErrPermissionDenied, "a revoked admin must not keep granting roles")
}

// gatedStore parks GetUserRoles for one user until released.
type gatedStore struct {
	*fakeStore
	user    int64
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) GetUserRoles(ctx context.Context, userID int64) ([]string, error) {
	held, err := g.fakeStore.GetUserRoles(ctx, userID)
	if userID == g.user {
		g.entered <- struct{}{}
		<-g.release
	}
	return held, err
}

func TestLoadRacingInvalidationIsNotCached(t *testing.T) {
	store := &gatedStore{fakeStore: newFakeStore(), user: 42, entered: make(chan struct{}, 2), release: make(chan struct{})}
	store.seed(adminID, "admin")
	store.seed(42, "admin")
	c := NewMemoryCache()
	svc := NewService(store, c, nil, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	ctx := context.Background()

	stale := make(chan []string, 1)
	go func() { stale <- svc.GetUserRoles(ctx, 42) }()
	<-store.entered

	// The admin's own lookup and the revoke do not touch the parked load.
	removed, err := svc.RemoveRole(ctx, 42, "admin", adminID)
	require.NoError(t, err)
	require.True(t, removed)

	close(store.release)
	assert.Equal(t, []string{"admin"}, <-stale)

	_, ok := c.Get(ctx, 42)
	assert.False(t, ok, "a load that began before the revoke must not fill the cache")
	assert.Empty(t, svc.GetUserRoles(ctx, 42))
}

func TestLoadMarksAreReleased(t *testing.T) {
	store := newFakeStore()
	store.seed(adminID, "admin")
	svc := NewService(store, NewMemoryCache(), nil, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	ctx := context.Background()

	for id := int64(100); id < 1100; id++ {
		_, err := svc.AddRole(ctx, id, "user", adminID)
		require.NoError(t, err)
		require.True(t, svc.CheckUserRole(ctx, id, "user"))
		_, err = svc.RemoveRole(ctx, id, "user", adminID)
		require.NoError(t, err)
		require.False(t, svc.CheckUserRole(ctx, id, "user"))
	}

	svc.cacheMu.Lock()
	defer svc.cacheMu.Unlock()
	assert.Empty(t, svc.marks)
	assert.Equal(t, uint64(2000), svc.gen)
}
