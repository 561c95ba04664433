package permcache

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Handler exposes the current session's permissions.
type Handler struct {
	logger  *slog.Logger
	fetcher Fetcher
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, fetcher Fetcher) *Handler {
	return &Handler{logger: logger, fetcher: fetcher}
}

// MountRoutes registers /me routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/permissions", h.resolve)
	r.Get("/permissions/snapshot", h.snapshot)
	r.Post("/permissions/refresh", h.refresh)
	r.Get("/permissions/check", h.check)
}

// resolve returns the authoritative resolution. Remote session caches refresh
// from here.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	userID, err := strconv.ParseInt(sess.User(), 10, 64)
	if err != nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	res, err := h.fetcher.Resolve(r.Context(), userID)
	if err != nil {
		h.logger.Error("resolve permissions", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	cache := FromContext(r.Context())
	if cache == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	snap := cache.Snapshot()
	if snap == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "No Snapshot", "permissions have not been loaded yet")
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	cache := FromContext(r.Context())
	if cache == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	err := cache.Refresh(r.Context())
	body := map[string]any{"refreshed": err == nil}
	if snap := cache.Snapshot(); snap != nil {
		body["version"] = snap.Version
	}
	if err != nil && !errors.Is(err, rbac.ErrRefreshFailed) {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, body)
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	cache := FromContext(r.Context())
	if cache == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	q := r.URL.Query()
	if route := q.Get("route"); route != "" {
		httpx.JSON(w, http.StatusOK, map[string]bool{"allowed": cache.CanAccessRoute(route)})
		return
	}
	slugs := make([]rbac.Slug, 0, len(q["slug"]))
	for _, raw := range q["slug"] {
		slug, err := rbac.ParseSlug(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		slugs = append(slugs, slug)
	}
	var allowed bool
	switch q.Get("mode") {
	case "all":
		allowed = cache.HasAll(slugs...)
	case "any", "":
		allowed = cache.HasAny(slugs...)
	default:
		httpx.RespondError(w, httpx.ErrValidation)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}
