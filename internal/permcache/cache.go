// Package permcache holds per-session snapshots of resolved permissions so
// repeated checks do not hit the store. Snapshots are replaced wholesale and
// never edited in place.
package permcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-access/internal/rbac"
)

// ErrClosed is returned when refreshing a cache whose session has ended.
var ErrClosed = errors.New("permcache: session closed")

// Fetcher resolves the authoritative permission state of a user.
type Fetcher interface {
	Resolve(ctx context.Context, userID int64) (rbac.Resolution, error)
}

// Recorder observes refresh outcomes.
type Recorder interface {
	ObserveRefresh(ok bool)
}

// Snapshot is a point-in-time copy of a user's effective permission set.
type Snapshot struct {
	UserID    int64             `json:"user_id"`
	RoleID    int64             `json:"role_id"`
	RoleSlug  rbac.Slug         `json:"role_slug"`
	Active    bool              `json:"active"`
	Version   uint64            `json:"version"`
	FetchedAt time.Time         `json:"fetched_at"`
	Set       rbac.EffectiveSet `json:"effective"`
}

func (s *Snapshot) usable() bool {
	return s != nil && s.Active
}

func (s *Snapshot) superAdmin() bool {
	return s.usable() && s.RoleSlug == rbac.SuperAdminRoleSlug
}

// Options tunes a Cache.
type Options struct {
	Routes   rbac.RouteMapper
	Logger   *slog.Logger
	Recorder Recorder
	Now      func() time.Time
	// SessionTTL bounds caches the registry reopens for sessions restored
	// from the session store. Zero means they never expire.
	SessionTTL time.Duration
}

// Cache is the single-owner permission snapshot of one session.
type Cache struct {
	userID   int64
	fetcher  Fetcher
	routes   rbac.RouteMapper
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
	// expiresAt is set before the cache is shared; zero means no expiry.
	expiresAt time.Time

	current atomic.Pointer[Snapshot]
	version atomic.Uint64
	seq     atomic.Uint64
	group   singleflight.Group

	mu      sync.Mutex
	closed  bool
	applied uint64

	life   context.Context
	cancel context.CancelFunc
	loop   sync.Once
	wg     sync.WaitGroup
}

// New builds an empty cache for userID. Until the first successful refresh
// every check denies.
func New(userID int64, fetcher Fetcher, opts Options) *Cache {
	life, cancel := context.WithCancel(context.Background())
	c := &Cache{
		userID:   userID,
		fetcher:  fetcher,
		routes:   opts.Routes,
		logger:   opts.Logger,
		recorder: opts.Recorder,
		now:      opts.Now,
		life:     life,
		cancel:   cancel,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// UserID returns the owner of the cache.
func (c *Cache) UserID() int64 { return c.userID }

// ExpiresAt returns when the owning session expires. The zero time means never.
func (c *Cache) ExpiresAt() time.Time { return c.expiresAt }

// Expired reports whether the owning session has expired.
func (c *Cache) Expired() bool {
	return !c.expiresAt.IsZero() && !c.now().Before(c.expiresAt)
}

// Snapshot returns the last committed snapshot, or nil before the first
// successful refresh.
func (c *Cache) Snapshot() *Snapshot {
	return c.current.Load()
}

// Refresh fetches the user's current state and replaces the snapshot. On
// failure the previous snapshot is kept and an error wrapping
// rbac.ErrRefreshFailed is returned. Concurrent calls share one fetch.
func (c *Cache) Refresh(ctx context.Context) error {
	if c.life.Err() != nil {
		return ErrClosed
	}
	ch := c.group.DoChan("refresh", func() (any, error) {
		return nil, c.fetch()
	})
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", rbac.ErrRefreshFailed, ctx.Err())
	case res := <-ch:
		return res.Err
	}
}

// RefreshPermissions is Refresh reduced to a success flag.
func (c *Cache) RefreshPermissions(ctx context.Context) bool {
	return c.Refresh(ctx) == nil
}

// Invalidate refreshes without joining a fetch that is already in flight, so
// the result reflects every write committed before the call.
func (c *Cache) Invalidate(ctx context.Context) error {
	c.group.Forget("refresh")
	return c.Refresh(ctx)
}

// AfterMutation refreshes after the session changed roles or permissions itself.
func (c *Cache) AfterMutation(ctx context.Context) error {
	return c.Invalidate(ctx)
}

func (c *Cache) fetch() error {
	seq := c.seq.Add(1)
	res, err := c.fetcher.Resolve(c.life, c.userID)
	if err != nil {
		if c.life.Err() != nil {
			return ErrClosed
		}
		c.observe(false)
		c.logger.Warn("permission refresh failed", slog.Int64("user_id", c.userID), slog.Any("error", err))
		return fmt.Errorf("%w: %w", rbac.ErrRefreshFailed, err)
	}
	snap := &Snapshot{
		UserID:    c.userID,
		RoleID:    res.RoleID,
		RoleSlug:  res.RoleSlug,
		Active:    res.Active,
		FetchedAt: c.now(),
		Set:       res.Set,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if seq < c.applied {
		// a fetch started later has already been applied
		return nil
	}
	c.applied = seq
	snap.Version = c.version.Add(1)
	c.current.Store(snap)
	c.observe(true)
	return nil
}

func (c *Cache) observe(ok bool) {
	if c.recorder != nil {
		c.recorder.ObserveRefresh(ok)
	}
}

// Start launches the periodic refresh loop. Calling it again is a no-op.
func (c *Cache) Start(interval time.Duration) {
	if interval <= 0 {
		return
	}
	c.loop.Do(func() {
		c.wg.Add(1)
		go c.run(interval)
	})
}

func (c *Cache) run(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.life.Done():
			return
		case <-ticker.C:
			if c.Expired() {
				// the registry sweep closes the cache
				return
			}
			// failures are logged in fetch; the last good snapshot stays in place
			_ = c.Refresh(c.life)
		}
	}
}

// Close ends the session: the snapshot is dropped, in-flight fetches are
// cancelled and their results discarded.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.current.Store(nil)
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}

// IsSuperAdmin reports whether the snapshot's role is the super-admin role.
func (c *Cache) IsSuperAdmin() bool {
	return c.current.Load().superAdmin()
}

// Has reports whether slug is granted.
func (c *Cache) Has(slug rbac.Slug) bool {
	snap := c.current.Load()
	if !snap.usable() {
		return false
	}
	return snap.superAdmin() || snap.Set.Has(slug)
}

// HasAny reports whether any slug is granted. An empty list never grants.
func (c *Cache) HasAny(slugs ...rbac.Slug) bool {
	if len(slugs) == 0 {
		return false
	}
	snap := c.current.Load()
	if !snap.usable() {
		return false
	}
	return snap.superAdmin() || snap.Set.HasAny(slugs...)
}

// HasAll reports whether every slug is granted. An empty list is satisfied
// once a snapshot exists.
func (c *Cache) HasAll(slugs ...rbac.Slug) bool {
	snap := c.current.Load()
	if !snap.usable() {
		return false
	}
	return snap.superAdmin() || snap.Set.HasAll(slugs...)
}

// CanAccessRoute checks the permission the route maps to. Routes mapping to no
// permission are open once a snapshot exists.
func (c *Cache) CanAccessRoute(path string) bool {
	snap := c.current.Load()
	if !snap.usable() {
		return false
	}
	if snap.superAdmin() {
		return true
	}
	if c.routes == nil {
		return false
	}
	slug, ok := c.routes.RequiredPermission(path)
	if !ok {
		return true
	}
	return snap.Set.Has(slug)
}
