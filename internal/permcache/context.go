package permcache

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

type cacheContextKey struct{}

// ContextWithCache stores the session cache in context.
func ContextWithCache(ctx context.Context, cache *Cache) context.Context {
	return context.WithValue(ctx, cacheContextKey{}, cache)
}

// FromContext extracts the session cache from context.
func FromContext(ctx context.Context) *Cache {
	cache, _ := ctx.Value(cacheContextKey{}).(*Cache)
	return cache
}

// restoredExpiry bounds a cache reopened for a session restored from the
// session store by the session's login time plus SessionTTL. A session the
// store still holds past that bound was extended, so it gets SessionTTL from
// now.
func (r *Registry) restoredExpiry(sess *shared.Session) time.Time {
	if r.opts.SessionTTL <= 0 {
		return time.Time{}
	}
	now := r.now()
	if expiry := sess.AuthenticatedAt().Add(r.opts.SessionTTL); !sess.AuthenticatedAt().IsZero() && expiry.After(now) {
		return expiry
	}
	return now.Add(r.opts.SessionTTL)
}

// Middleware attaches the session's cache to each request. Sessions that
// outlived a process restart get their cache reopened on first use.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		sess := shared.SessionFromContext(req.Context())
		if sess == nil || sess.User() == "" {
			next.ServeHTTP(w, req)
			return
		}
		userID, err := strconv.ParseInt(sess.User(), 10, 64)
		if err != nil {
			r.logger.Error("permcache parse user id", slog.String("value", sess.User()))
			next.ServeHTTP(w, req)
			return
		}
		cache, err := r.Ensure(req.Context(), sess.ID, userID, r.restoredExpiry(sess))
		if err != nil {
			r.logger.Warn("permcache reopen", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		next.ServeHTTP(w, req.WithContext(ContextWithCache(req.Context(), cache)))
	})
}
