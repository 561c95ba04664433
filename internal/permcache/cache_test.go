package permcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/rbac"
)

type scriptedFetcher struct {
	mu    sync.Mutex
	res   map[int64]rbac.Resolution
	err   error
	calls map[int64]int
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{res: make(map[int64]rbac.Resolution), calls: make(map[int64]int)}
}

func (f *scriptedFetcher) set(userID, roleID int64, roleSlug rbac.Slug, active bool, perms ...rbac.Slug) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.res[userID] = rbac.Resolution{
		UserID:   userID,
		RoleID:   roleID,
		RoleSlug: roleSlug,
		Active:   active,
		Set: rbac.Resolve(rbac.ResolveInput{
			RolePermissions: perms,
			SuperAdmin:      roleSlug == rbac.SuperAdminRoleSlug,
		}),
	}
}

func (f *scriptedFetcher) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *scriptedFetcher) count(userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[userID]
}

func (f *scriptedFetcher) Resolve(_ context.Context, userID int64) (rbac.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[userID]++
	if f.err != nil {
		return rbac.Resolution{}, f.err
	}
	res, ok := f.res[userID]
	if !ok {
		return rbac.Resolution{}, rbac.ErrNotFound
	}
	return res, nil
}

type routeTable map[string]rbac.Slug

func (r routeTable) RequiredPermission(path string) (rbac.Slug, bool) {
	slug, ok := r[path]
	return slug, ok
}

func TestCacheDeniesWithoutSnapshot(t *testing.T) {
	c := New(1, newScriptedFetcher(), Options{Routes: routeTable{}})
	defer c.Close()
	require.Nil(t, c.Snapshot())
	require.False(t, c.Has("catalog.view"))
	require.False(t, c.HasAll())
	require.False(t, c.CanAccessRoute("/anything"))
	require.False(t, c.IsSuperAdmin())
}

func TestCacheRefreshAndChecks(t *testing.T) {
	f := newScriptedFetcher()
	f.set(1, 2, "editor", true, "catalog.view", "catalog.edit")
	c := New(1, f, Options{Routes: routeTable{"/users": "users.view", "/catalog": "catalog.view"}})
	defer c.Close()

	require.NoError(t, c.Refresh(context.Background()))
	snap := c.Snapshot()
	require.NotNil(t, snap)
	require.Equal(t, uint64(1), snap.Version)
	require.True(t, c.Has("catalog.edit"))
	require.False(t, c.Has("users.view"))
	require.True(t, c.HasAny("users.view", "catalog.view"))
	require.False(t, c.HasAny())
	require.True(t, c.HasAll())
	require.False(t, c.HasAll("catalog.view", "users.view"))
	require.True(t, c.CanAccessRoute("/catalog"))
	require.False(t, c.CanAccessRoute("/users"))
	require.True(t, c.CanAccessRoute("/unmapped"))
}

func TestCacheRefreshFailureKeepsSnapshot(t *testing.T) {
	f := newScriptedFetcher()
	f.set(1, 2, "editor", true, "catalog.view")
	recorder := &refreshLog{}
	c := New(1, f, Options{Recorder: recorder})
	defer c.Close()
	require.True(t, c.RefreshPermissions(context.Background()))

	f.fail(errors.New("db down"))
	err := c.Refresh(context.Background())
	require.ErrorIs(t, err, rbac.ErrRefreshFailed)
	require.Equal(t, uint64(1), c.Snapshot().Version)
	require.True(t, c.Has("catalog.view"))
	require.Equal(t, 1, recorder.ok)
	require.Equal(t, 1, recorder.failed)
}

func TestCacheInactiveUserDenies(t *testing.T) {
	f := newScriptedFetcher()
	f.set(1, 2, "editor", false, "catalog.view")
	c := New(1, f, Options{Routes: routeTable{}})
	defer c.Close()
	require.NoError(t, c.Refresh(context.Background()))
	require.False(t, c.Has("catalog.view"))
	require.False(t, c.CanAccessRoute("/unmapped"))
}

func TestCacheSuperAdminGrantsEverything(t *testing.T) {
	f := newScriptedFetcher()
	f.set(1, 1, rbac.SuperAdminRoleSlug, true)
	c := New(1, f, Options{})
	defer c.Close()
	require.NoError(t, c.Refresh(context.Background()))
	require.True(t, c.IsSuperAdmin())
	require.True(t, c.Has("defined.tomorrow"))
	require.True(t, c.HasAll("a.view", "b.view"))
	require.True(t, c.CanAccessRoute("/users"))
}

func TestCacheCloseDiscardsSnapshot(t *testing.T) {
	f := newScriptedFetcher()
	f.set(1, 2, "editor", true, "catalog.view")
	c := New(1, f, Options{})
	require.NoError(t, c.Refresh(context.Background()))
	c.Close()
	c.Close()
	require.Nil(t, c.Snapshot())
	require.False(t, c.Has("catalog.view"))
	require.ErrorIs(t, c.Refresh(context.Background()), ErrClosed)
}

// blockingFetcher holds its first call until released.
type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	calls   int
}

func (b *blockingFetcher) Resolve(ctx context.Context, userID int64) (rbac.Resolution, error) {
	b.mu.Lock()
	b.calls++
	call := b.calls
	b.mu.Unlock()
	roleID := int64(call)
	if call == 1 {
		b.once.Do(func() { close(b.started) })
		select {
		case <-b.release:
		case <-ctx.Done():
			return rbac.Resolution{}, ctx.Err()
		}
	}
	return rbac.Resolution{UserID: userID, RoleID: roleID, Active: true, Set: rbac.Resolve(rbac.ResolveInput{})}, nil
}

func TestCacheStaleFetchIsDiscarded(t *testing.T) {
	f := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	c := New(1, f, Options{})
	defer c.Close()

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background()) }()
	<-f.started

	require.NoError(t, c.Invalidate(context.Background()))
	require.Equal(t, int64(2), c.Snapshot().RoleID)

	close(f.release)
	require.NoError(t, <-done)
	snap := c.Snapshot()
	require.Equal(t, int64(2), snap.RoleID)
	require.Equal(t, uint64(1), snap.Version)
}

func TestCacheRefreshHonoursCallerContext(t *testing.T) {
	f := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	c := New(1, f, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-f.started
		cancel()
	}()
	err := c.Refresh(ctx)
	require.ErrorIs(t, err, rbac.ErrRefreshFailed)
	require.ErrorIs(t, err, context.Canceled)
	c.Close()
	require.Nil(t, c.Snapshot())
}

func TestCachePeriodicRefresh(t *testing.T) {
	f := newScriptedFetcher()
	f.set(1, 2, "editor", true)
	c := New(1, f, Options{})
	defer c.Close()
	require.NoError(t, c.Refresh(context.Background()))

	f.set(1, 2, "editor", true, "catalog.view")
	c.Start(10 * time.Millisecond)
	c.Start(10 * time.Millisecond)
	require.Eventually(t, func() bool { return c.Has("catalog.view") }, time.Second, 5*time.Millisecond)
}

type refreshLog struct {
	mu         sync.Mutex
	ok, failed int
}

func (r *refreshLog) ObserveRefresh(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.ok++
		return
	}
	r.failed++
}
