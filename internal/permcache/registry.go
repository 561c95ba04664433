package permcache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const invalidateConcurrency = 8

// InvalidationRecorder is implemented by recorders that also count handled
// invalidation events.
type InvalidationRecorder interface {
	ObserveInvalidation(kind string, sessions int)
}

// Registry owns the caches of every live session, keyed by session id.
type Registry struct {
	fetcher  Fetcher
	opts     Options
	interval time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	caches map[string]*Cache
}

// NewRegistry builds a registry whose caches refresh every interval.
func NewRegistry(fetcher Fetcher, interval time.Duration, opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		fetcher:  fetcher,
		opts:     opts,
		interval: interval,
		logger:   logger,
		caches:   make(map[string]*Cache),
	}
}

// Open creates the cache of a freshly authenticated session and loads its
// first snapshot, replacing any cache the session had. The cache is
// registered even when that load fails; it then denies every check until a
// later refresh succeeds. A zero expiresAt never expires.
func (r *Registry) Open(ctx context.Context, sessionID string, userID int64, expiresAt time.Time) (*Cache, error) {
	cache := r.newCache(userID, expiresAt)
	r.mu.Lock()
	prev := r.caches[sessionID]
	r.caches[sessionID] = cache
	r.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return cache, r.load(ctx, cache)
}

// Ensure returns the live cache of a session, opening one when the session
// has none, belongs to another user or has expired. Concurrent callers for
// the same session share one cache and one initial load.
func (r *Registry) Ensure(ctx context.Context, sessionID string, userID int64, expiresAt time.Time) (*Cache, error) {
	r.mu.RLock()
	cache, ok := r.caches[sessionID]
	r.mu.RUnlock()
	if ok && cache.UserID() == userID && !cache.Expired() && cache.Snapshot() != nil {
		return cache, nil
	}

	r.mu.Lock()
	prev, ok := r.caches[sessionID]
	if ok && prev.UserID() == userID && !prev.Expired() {
		r.mu.Unlock()
		if prev.Snapshot() == nil {
			// joins the load started by whoever opened it
			return prev, prev.Refresh(ctx)
		}
		return prev, nil
	}
	cache = r.newCache(userID, expiresAt)
	r.caches[sessionID] = cache
	r.mu.Unlock()
	if ok {
		prev.Close()
	}
	return cache, r.load(ctx, cache)
}

func (r *Registry) now() time.Time {
	if r.opts.Now != nil {
		return r.opts.Now()
	}
	return time.Now()
}

func (r *Registry) newCache(userID int64, expiresAt time.Time) *Cache {
	cache := New(userID, r.fetcher, r.opts)
	cache.expiresAt = expiresAt
	return cache
}

func (r *Registry) load(ctx context.Context, cache *Cache) error {
	err := cache.Refresh(ctx)
	cache.Start(r.interval)
	return err
}

// Get returns the cache of a session. Expired caches are not returned.
func (r *Registry) Get(sessionID string) (*Cache, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cache, ok := r.caches[sessionID]
	if !ok || cache.Expired() {
		return nil, false
	}
	return cache, true
}

// Close discards the cache of a session.
func (r *Registry) Close(sessionID string) {
	r.mu.Lock()
	cache := r.caches[sessionID]
	delete(r.caches, sessionID)
	r.mu.Unlock()
	if cache != nil {
		cache.Close()
	}
}

// CloseAll discards every cache.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	caches := r.caches
	r.caches = make(map[string]*Cache)
	r.mu.Unlock()
	for _, cache := range caches {
		cache.Close()
	}
}

// Sweep closes the caches of expired sessions and returns how many it closed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	var expired []*Cache
	for id, cache := range r.caches {
		if cache.Expired() {
			expired = append(expired, cache)
			delete(r.caches, id)
		}
	}
	r.mu.Unlock()
	for _, cache := range expired {
		cache.Close()
	}
	if len(expired) > 0 {
		r.logger.Info("permcache swept expired sessions", slog.Int("sessions", len(expired)))
	}
	return len(expired)
}

// RunSweeper calls Sweep every interval until ctx ends.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.caches)
}

// InvalidateRole refreshes every session whose snapshot holds roleID, plus
// sessions that have no snapshot yet.
func (r *Registry) InvalidateRole(ctx context.Context, roleID int64) error {
	return r.refreshAll(ctx, r.roleTargets(roleID))
}

// InvalidateUser refreshes every session of userID.
func (r *Registry) InvalidateUser(ctx context.Context, userID int64) error {
	return r.refreshAll(ctx, r.userTargets(userID))
}

// InvalidateSuperAdmins refreshes super-admin sessions, whose universal set
// follows the catalog.
func (r *Registry) InvalidateSuperAdmins(ctx context.Context) error {
	return r.refreshAll(ctx, r.superAdminTargets())
}

// HandleEvent dispatches a broadcast invalidation.
func (r *Registry) HandleEvent(ctx context.Context, ev Event) error {
	var targets []*Cache
	switch ev.Kind {
	case EventRole:
		targets = r.roleTargets(ev.ID)
	case EventUser:
		targets = r.userTargets(ev.ID)
	case EventCatalog:
		targets = r.superAdminTargets()
	default:
		r.logger.Warn("permcache unknown event", slog.String("kind", ev.Kind))
		return nil
	}
	if rec, ok := r.opts.Recorder.(InvalidationRecorder); ok {
		rec.ObserveInvalidation(ev.Kind, len(targets))
	}
	return r.refreshAll(ctx, targets)
}

func (r *Registry) roleTargets(roleID int64) []*Cache {
	return r.selectCaches(func(c *Cache) bool {
		s := c.Snapshot()
		return s == nil || s.RoleID == roleID
	})
}

func (r *Registry) userTargets(userID int64) []*Cache {
	return r.selectCaches(func(c *Cache) bool { return c.UserID() == userID })
}

func (r *Registry) superAdminTargets() []*Cache {
	return r.selectCaches(func(c *Cache) bool { return c.Snapshot().superAdmin() })
}

func (r *Registry) selectCaches(match func(*Cache) bool) []*Cache {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var targets []*Cache
	for _, cache := range r.caches {
		if match(cache) {
			targets = append(targets, cache)
		}
	}
	return targets
}

func (r *Registry) refreshAll(ctx context.Context, targets []*Cache) error {
	var g errgroup.Group
	g.SetLimit(invalidateConcurrency)
	for _, cache := range targets {
		g.Go(func() error {
			err := cache.Invalidate(ctx)
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
