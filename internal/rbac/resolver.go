package rbac

import "encoding/json"

// ResolveInput gathers everything the resolver needs for one actor.
type ResolveInput struct {
	RolePermissions []Slug
	DirectGrants    []Slug
	DirectBlocks    []Slug
	SuperAdmin      bool
	// Catalog is every slug currently defined. Only consulted for super admins.
	Catalog []Slug
}

// EffectiveSet is the computed permission set of one actor.
type EffectiveSet struct {
	slugs      SlugSet
	superAdmin bool
}

// Resolve computes (role ∪ grants) \ blocks, or the universal set for super
// admins. It performs no I/O and holds no state.
func Resolve(in ResolveInput) EffectiveSet {
	if in.SuperAdmin {
		return EffectiveSet{slugs: NewSlugSet(in.Catalog...), superAdmin: true}
	}
	granted := NewSlugSet(in.RolePermissions...).Union(NewSlugSet(in.DirectGrants...))
	return EffectiveSet{slugs: granted.Minus(NewSlugSet(in.DirectBlocks...))}
}

// SuperAdmin reports whether the set was resolved for a super admin.
func (e EffectiveSet) SuperAdmin() bool { return e.superAdmin }

// Has reports whether slug is granted. Super admins are granted every slug,
// including ones defined after the catalog was read.
func (e EffectiveSet) Has(slug Slug) bool {
	if e.superAdmin {
		return true
	}
	return e.slugs.Has(slug)
}

// HasAny reports whether at least one slug is granted. An empty list never
// grants.
func (e EffectiveSet) HasAny(slugs ...Slug) bool {
	for _, s := range slugs {
		if e.Has(s) {
			return true
		}
	}
	return false
}

// HasAll reports whether every slug is granted. An empty list is satisfied.
func (e EffectiveSet) HasAll(slugs ...Slug) bool {
	for _, s := range slugs {
		if !e.Has(s) {
			return false
		}
	}
	return true
}

// Slugs lists the members in lexical order.
func (e EffectiveSet) Slugs() []Slug { return e.slugs.Slice() }

// Set returns a copy of the underlying members.
func (e EffectiveSet) Set() SlugSet { return e.slugs.Union(nil) }

// Equal compares two effective sets regardless of member order.
func (e EffectiveSet) Equal(other EffectiveSet) bool {
	return e.superAdmin == other.superAdmin && e.slugs.Equal(other.slugs)
}

type effectiveSetJSON struct {
	SuperAdmin  bool   `json:"super_admin"`
	Permissions []Slug `json:"permissions"`
}

// MarshalJSON encodes the set for transport to session caches.
func (e EffectiveSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(effectiveSetJSON{SuperAdmin: e.superAdmin, Permissions: e.Slugs()})
}

// UnmarshalJSON decodes a set produced by MarshalJSON.
func (e *EffectiveSet) UnmarshalJSON(data []byte) error {
	var payload effectiveSetJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	e.superAdmin = payload.SuperAdmin
	e.slugs = NewSlugSet(payload.Permissions...)
	return nil
}
