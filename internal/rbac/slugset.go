package rbac

import "sort"

// SlugSet is an unordered set of slugs. Treat values as immutable once shared.
type SlugSet map[Slug]struct{}

// NewSlugSet builds a set from the given slugs, collapsing duplicates.
func NewSlugSet(slugs ...Slug) SlugSet {
	set := make(SlugSet, len(slugs))
	for _, s := range slugs {
		set[s] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s SlugSet) Has(slug Slug) bool {
	_, ok := s[slug]
	return ok
}

// Len returns the number of members.
func (s SlugSet) Len() int { return len(s) }

// Union returns a new set holding members of both sets.
func (s SlugSet) Union(other SlugSet) SlugSet {
	out := make(SlugSet, len(s)+len(other))
	for k := range s {
		out[k] = struct{}{}
	}
	for k := range other {
		out[k] = struct{}{}
	}
	return out
}

// Minus returns a new set holding members of s absent from other.
func (s SlugSet) Minus(other SlugSet) SlugSet {
	out := make(SlugSet, len(s))
	for k := range s {
		if _, drop := other[k]; !drop {
			out[k] = struct{}{}
		}
	}
	return out
}

// Equal compares membership regardless of order.
func (s SlugSet) Equal(other SlugSet) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if _, ok := other[k]; !ok {
			return false
		}
	}
	return true
}

// Slice returns the members sorted lexically.
func (s SlugSet) Slice() []Slug {
	out := make([]Slug, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
