package routecap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-access/internal/rbac"
)

type override struct {
	pattern []string
	slug    rbac.Slug
}

// Mapper resolves the permission a route requires. An override for the route
// wins; otherwise the convention's candidate applies when the catalog defines
// it. Anything else requires no permission.
type Mapper struct {
	convention Convention
	exact      map[string]rbac.Slug
	patterns   []override
	catalog    *rbac.Catalog
}

// NewMapper builds a Mapper. Override values may be empty to mark a route as
// explicitly open. Keys may contain chi-style {param} segments.
func NewMapper(convention Convention, overrides map[string]string, catalog *rbac.Catalog) (*Mapper, error) {
	m := &Mapper{convention: convention, exact: make(map[string]rbac.Slug), catalog: catalog}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, route := range keys {
		raw := strings.TrimSpace(overrides[route])
		var slug rbac.Slug
		if raw != "" {
			parsed, err := rbac.ParseSlug(raw)
			if err != nil {
				return nil, fmt.Errorf("routecap: override %s: %w", route, err)
			}
			slug = parsed
		}
		key := normalizePath(route)
		if strings.Contains(key, "{") {
			m.patterns = append(m.patterns, override{pattern: splitPath(key), slug: slug})
			continue
		}
		m.exact[key] = slug
	}
	return m, nil
}

// RequiredPermission returns the slug the route requires, or false when the
// route requires none.
func (m *Mapper) RequiredPermission(path string) (rbac.Slug, bool) {
	if slug, ok := m.override(path); ok {
		return slug, slug != ""
	}
	candidate, ok := m.convention.Derive(path)
	if !ok || !m.catalog.Contains(candidate) {
		return "", false
	}
	return candidate, true
}

func (m *Mapper) override(path string) (rbac.Slug, bool) {
	key := normalizePath(path)
	if slug, ok := m.exact[key]; ok {
		return slug, true
	}
	segs := splitPath(key)
	for _, o := range m.patterns {
		if matchSegments(o.pattern, segs) {
			return o.slug, true
		}
	}
	return "", false
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

func splitPath(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

func matchSegments(pattern, segs []string) bool {
	if len(pattern) != len(segs) {
		return false
	}
	for i, p := range pattern {
		if isParam(p) {
			continue
		}
		if p != segs[i] {
			return false
		}
	}
	return true
}

// ParseOverrides reads "path=slug,path2=slug2" pairs. An empty slug marks the
// route as open.
func ParseOverrides(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		route, slug, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(route) == "" {
			return nil, fmt.Errorf("routecap: malformed override %q", pair)
		}
		out[strings.TrimSpace(route)] = strings.TrimSpace(slug)
	}
	return out, nil
}
