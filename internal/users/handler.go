package users

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-access/internal/permcache"
	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/profile"
	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Handler manages user management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), rbac: rbac}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermUsersView))
		r.Get("/", h.listUsers)
		r.Get("/{id}", h.getUser)
		r.Get("/{id}/overrides", h.getOverrides)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermUsersEdit))
		r.Put("/{id}/overrides", h.replaceOverrides)
		r.Put("/{id}/role", h.assignRole)
	})
	// Profile access is decided per target by profile.Guard.
	r.Get("/{id}/profile", h.getProfile)
	r.Put("/{id}/profile", h.updateProfile)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	page := shared.PaginationFromQuery(r.URL.Query(), len(users))
	start, end := page.Bounds()
	listed := users[start:end]
	if listed == nil {
		listed = []User{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": listed, "pagination": page})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.fail(w, "get user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) getOverrides(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		h.fail(w, "get overrides", err)
		return
	}
	httpx.JSON(w, http.StatusOK, OverridesInput{Grants: nonNil(user.Grants), Blocks: nonNil(user.Blocks)})
}

func (h *Handler) replaceOverrides(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var input OverridesInput
	if !h.decode(w, r, &input) {
		return
	}
	user, err := h.service.ReplaceOverrides(r.Context(), id, input)
	if err != nil {
		h.fail(w, "replace overrides", err)
		return
	}
	h.afterMutation(r, id)
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var input AssignRoleInput
	if !h.decode(w, r, &input) {
		return
	}
	actor := permcache.FromContext(r.Context())
	user, err := h.service.AssignRole(r.Context(), id, input, actor != nil && actor.IsSuperAdmin())
	if err != nil {
		h.fail(w, "assign role", err)
		return
	}
	h.afterMutation(r, id)
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	if !h.guard(r).CanViewProfile(id) {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		return
	}
	p, err := h.service.Profile(r.Context(), id)
	if err != nil {
		h.fail(w, "get profile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	if !h.guard(r).CanEditProfile(id) {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		return
	}
	var input ProfileInput
	if !h.decode(w, r, &input) {
		return
	}
	p, err := h.service.UpdateProfile(r.Context(), id, input)
	if err != nil {
		h.fail(w, "update profile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) guard(r *http.Request) *profile.Guard {
	current, _ := shared.SessionUserID(r.Context())
	var checker profile.Checker
	if cache := permcache.FromContext(r.Context()); cache != nil {
		checker = cache
	}
	return profile.NewGuard(current, checker)
}

// afterMutation refreshes the acting session when it edited itself.
func (h *Handler) afterMutation(r *http.Request, target int64) {
	cache := permcache.FromContext(r.Context())
	if cache == nil || cache.UserID() != target {
		return
	}
	if err := cache.AfterMutation(r.Context()); err != nil {
		h.logger.Warn("refresh after user mutation", slog.Any("error", err))
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	return httpx.Bind(w, r, h.validator, target)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !httpx.Expected(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "user id must be a positive integer")
		return 0, false
	}
	return id, true
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
