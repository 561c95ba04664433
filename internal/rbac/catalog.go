package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// Catalog is the closed set of permission definitions loaded at boot.
type Catalog struct {
	bySlug  map[Slug]Permission
	ordered []Permission
}

// PermissionGroup bundles permissions sharing a GroupName for UI listing.
type PermissionGroup struct {
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
}

// NewCatalog indexes the definitions. Later duplicates of a slug are ignored.
func NewCatalog(perms []Permission) *Catalog {
	c := &Catalog{bySlug: make(map[Slug]Permission, len(perms))}
	for _, p := range perms {
		if _, dup := c.bySlug[p.Slug]; dup {
			continue
		}
		c.bySlug[p.Slug] = p
		c.ordered = append(c.ordered, p)
	}
	sort.Slice(c.ordered, func(i, j int) bool { return c.ordered[i].Slug < c.ordered[j].Slug })
	return c
}

// Contains reports whether slug is defined.
func (c *Catalog) Contains(slug Slug) bool {
	if c == nil {
		return false
	}
	_, ok := c.bySlug[slug]
	return ok
}

// Lookup returns the definition for slug.
func (c *Catalog) Lookup(slug Slug) (Permission, bool) {
	if c == nil {
		return Permission{}, false
	}
	p, ok := c.bySlug[slug]
	return p, ok
}

// Len returns the number of definitions.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.ordered)
}

// Slugs lists every defined slug in lexical order.
func (c *Catalog) Slugs() []Slug {
	if c == nil {
		return nil
	}
	out := make([]Slug, len(c.ordered))
	for i, p := range c.ordered {
		out[i] = p.Slug
	}
	return out
}

// Permissions lists every definition ordered by slug.
func (c *Catalog) Permissions() []Permission {
	if c == nil {
		return nil
	}
	out := make([]Permission, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Groups buckets permissions by GroupName. Blank group names land in "general".
func (c *Catalog) Groups() []PermissionGroup {
	if c == nil {
		return nil
	}
	index := make(map[string]int)
	var groups []PermissionGroup
	for _, p := range c.ordered {
		name := strings.TrimSpace(p.GroupName)
		if name == "" {
			name = "general"
		}
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, PermissionGroup{Name: name})
		}
		groups[i].Permissions = append(groups[i].Permissions, p)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups
}

// Validate parses raw slugs, collapses duplicates and checks each against the
// catalog. The result is sorted.
func (c *Catalog) Validate(raw []string) ([]Slug, error) {
	parsed, err := ParseSlugs(raw)
	if err != nil {
		return nil, err
	}
	set := NewSlugSet(parsed...)
	var unknown []string
	for s := range set {
		if !c.Contains(s) {
			unknown = append(unknown, string(s))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %s", ErrUnknownPermission, strings.Join(unknown, ", "))
	}
	return set.Slice(), nil
}
