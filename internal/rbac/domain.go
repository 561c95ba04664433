package rbac

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SuperAdminRoleSlug identifies the role that bypasses set computation.
const SuperAdminRoleSlug Slug = "super-admin"

var slugPattern = regexp.MustCompile(`^[a-z0-9]+([._-][a-z0-9]+)*$`)

// Slug is a validated permission or role token such as "catalog.edit".
type Slug string

// ParseSlug normalises raw input and validates it as a slug.
func ParseSlug(raw string) (Slug, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if !slugPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlug, raw)
	}
	return Slug(s), nil
}

// ParseSlugs parses every entry, failing on the first invalid one.
func ParseSlugs(raw []string) ([]Slug, error) {
	out := make([]Slug, 0, len(raw))
	for _, r := range raw {
		s, err := ParseSlug(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (s Slug) String() string { return string(s) }

// Permission represents an atomic capability.
type Permission struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Slug      Slug   `json:"slug"`
	GroupName string `json:"group_name"`
}

// Role represents a user-assignable bundle of permissions.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Slug        Slug      `json:"slug"`
	Description string    `json:"description,omitempty"`
	Permissions []Slug    `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsSuperAdmin reports whether the role is the distinguished super-admin role.
func (r Role) IsSuperAdmin() bool {
	return r.Slug == SuperAdminRoleSlug
}

// User carries the authorization-relevant attributes of an account.
type User struct {
	ID           int64  `json:"id"`
	Email        string `json:"email,omitempty"`
	Name         string `json:"name,omitempty"`
	RoleID       int64  `json:"role_id"`
	IsActive     bool   `json:"is_active"`
	DirectGrants []Slug `json:"direct_grants"`
	DirectBlocks []Slug `json:"direct_blocks"`
}
