package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Resolver resolves a user's effective permissions from the authoritative store.
type Resolver interface {
	Resolve(ctx context.Context, userID int64) (Resolution, error)
}

// RouteMapper derives the permission a route requires.
type RouteMapper interface {
	RequiredPermission(path string) (Slug, bool)
}

// DecisionRecorder observes authorization outcomes.
type DecisionRecorder interface {
	ObserveDecision(check string, allowed bool)
}

// Middleware wires RBAC authorization helpers for HTTP handlers. Every check
// resolves against the store; there is no server-side permission cache.
type Middleware struct {
	Service   Resolver
	Routes    RouteMapper
	Logger    *slog.Logger
	Decisions DecisionRecorder
}

// RequireAny ensures the current user has at least one of the required
// permissions. With no permissions every request is denied. It panics if a
// permission is not a valid slug.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := mustNormalizePermissions(perms)
	return m.require("any", func(set EffectiveSet, _ *http.Request) bool {
		return set.HasAny(normalized...)
	})
}

// RequireAll ensures the current user has all required permissions. With no
// permissions it still requires an authenticated, active user. It panics if a
// permission is not a valid slug.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := mustNormalizePermissions(perms)
	return m.require("all", func(set EffectiveSet, _ *http.Request) bool {
		return set.HasAll(normalized...)
	})
}

// RequireRoute checks the permission derived from the request path. Routes
// that map to no permission are open to any authenticated, active user.
func (m Middleware) RequireRoute() func(http.Handler) http.Handler {
	return m.require("route", func(set EffectiveSet, r *http.Request) bool {
		if set.SuperAdmin() {
			return true
		}
		if m.Routes == nil {
			return false
		}
		slug, ok := m.Routes.RequiredPermission(r.URL.Path)
		if !ok {
			return true
		}
		return set.Has(slug)
	})
}

// CurrentResolution resolves the session user of the request.
func (m Middleware) CurrentResolution(r *http.Request) (Resolution, error) {
	userID, ok := m.currentUserID(r)
	if !ok {
		return Resolution{}, httpx.ErrUnauthorized
	}
	return m.Service.Resolve(r.Context(), userID)
}

func (m Middleware) require(check string, allow func(EffectiveSet, *http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := m.CurrentResolution(r)
			if err != nil {
				m.deny(w, check, err)
				return
			}
			if res.Active && allow(res.Set, r) {
				m.observe(check, true)
				next.ServeHTTP(w, r)
				return
			}
			m.observe(check, false)
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		})
	}
}

func (m Middleware) deny(w http.ResponseWriter, check string, err error) {
	m.observe(check, false)
	switch {
	case errors.Is(err, httpx.ErrUnauthorized), errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
	default:
		if m.Logger != nil {
			m.Logger.Error("rbac require "+check, slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}

func (m Middleware) observe(check string, allowed bool) {
	if m.Decisions != nil {
		m.Decisions.ObserveDecision(check, allowed)
	}
}

func (m Middleware) currentUserID(r *http.Request) (int64, bool) {
	return shared.SessionUserID(r.Context())
}

// mustNormalizePermissions parses and deduplicates perms, panicking on the
// first invalid slug so a misspelled guard fails at startup.
func mustNormalizePermissions(perms []string) []Slug {
	unique := make(map[Slug]struct{}, len(perms))
	normalized := make([]Slug, 0, len(perms))
	for _, p := range perms {
		slug, err := ParseSlug(p)
		if err != nil {
			panic(fmt.Sprintf("rbac: middleware permission: %v", err))
		}
		if _, seen := unique[slug]; seen {
			continue
		}
		unique[slug] = struct{}{}
		normalized = append(normalized, slug)
	}
	return normalized
}
