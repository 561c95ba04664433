package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// PermissionsHandler serves the read-only permission catalog for role and
// override editors.
type PermissionsHandler struct {
	logger  *slog.Logger
	service *Service
	guard   Middleware
}

// NewPermissionsHandler returns a handler guarded by permissions.view.
func NewPermissionsHandler(logger *slog.Logger, service *Service, guard Middleware) *PermissionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionsHandler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers GET / on r.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.With(h.guard.RequireAny(shared.PermPermissionsView)).Get("/", h.listPermissions)
}

// listPermissions returns the catalog bucketed by group. ?group= keeps one
// group and ?q= keeps permissions whose slug or name contains the term.
func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.service.Catalog(r.Context())
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	query := r.URL.Query()
	groups := FilterGroups(catalog.Groups(), query.Get("group"), query.Get("q"))
	httpx.JSON(w, http.StatusOK, map[string]any{"groups": groups, "total": catalog.Len()})
}

// FilterGroups narrows groups to the named group (case-insensitive) and to
// permissions matching term. Groups left empty are dropped.
func FilterGroups(groups []PermissionGroup, group, term string) []PermissionGroup {
	group = strings.TrimSpace(group)
	term = strings.ToLower(strings.TrimSpace(term))
	if group == "" && term == "" {
		return groups
	}
	out := make([]PermissionGroup, 0, len(groups))
	for _, g := range groups {
		if group != "" && !strings.EqualFold(g.Name, group) {
			continue
		}
		kept := g.Permissions
		if term != "" {
			kept = nil
			for _, p := range g.Permissions {
				if strings.Contains(string(p.Slug), term) || strings.Contains(strings.ToLower(p.Name), term) {
					kept = append(kept, p)
				}
			}
		}
		if len(kept) > 0 {
			out = append(out, PermissionGroup{Name: g.Name, Permissions: kept})
		}
	}
	return out
}
