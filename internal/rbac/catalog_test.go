package rbac

import (
	"errors"
	"testing"

	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
)

func testCatalog() *Catalog {
	return NewCatalog([]Permission{
		{ID: 1, Name: "View catalog", Slug: "catalog.view", GroupName: "Catalog"},
		{ID: 2, Name: "Edit catalog", Slug: "catalog.edit", GroupName: "Catalog"},
		{ID: 3, Name: "View users", Slug: "users.view", GroupName: "Access control"},
		{ID: 4, Name: "Misc", Slug: "misc.view"},
		{ID: 5, Name: "Duplicate", Slug: "catalog.view", GroupName: "Other"},
	})
}

func TestParseSlug(t *testing.T) {
	cases := map[string]bool{
		"catalog.view":         true,
		" Catalog.Edit ":       true,
		"finance.reports-2024": true,
		"super-admin":          true,
		"":                     false,
		"catalog..view":        false,
		".catalog":             false,
		"catalog view":         false,
		"catalog/view":         false,
	}
	for raw, ok := range cases {
		slug, err := ParseSlug(raw)
		if ok && err != nil {
			t.Fatalf("%q: unexpected error %v", raw, err)
		}
		if !ok {
			if !errors.Is(err, ErrInvalidSlug) || !errors.Is(err, httpx.ErrValidation) {
				t.Fatalf("%q: expected invalid slug, got %v", raw, err)
			}
			continue
		}
		if !slugPattern.MatchString(slug.String()) {
			t.Fatalf("unexpected slug %q", slug)
		}
	}
	if slug, _ := ParseSlug(" Catalog.Edit "); slug != "catalog.edit" {
		t.Fatalf("expected normalised slug, got %q", slug)
	}
}

func TestCatalogIgnoresDuplicates(t *testing.T) {
	c := testCatalog()
	if got := len(c.Slugs()); got != 4 {
		t.Fatalf("expected 4 slugs, got %d", got)
	}
	p, ok := c.Lookup("catalog.view")
	if !ok || p.GroupName != "Catalog" {
		t.Fatalf("first definition should win, got %+v", p)
	}
}

func TestCatalogGroups(t *testing.T) {
	groups := testCatalog().Groups()
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	names := []string{groups[0].Name, groups[1].Name, groups[2].Name}
	if names[0] != "Access control" || names[1] != "Catalog" || names[2] != "general" {
		t.Fatalf("unexpected group order %v", names)
	}
	if len(groups[1].Permissions) != 2 {
		t.Fatalf("expected 2 catalog permissions, got %d", len(groups[1].Permissions))
	}
}

func TestCatalogValidate(t *testing.T) {
	c := testCatalog()
	got, err := c.Validate([]string{"users.view", "catalog.view", "Catalog.View"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "catalog.view" || got[1] != "users.view" {
		t.Fatalf("expected sorted unique slugs, got %v", got)
	}

	_, err = c.Validate([]string{"catalog.view", "catalog.teleport"})
	if !errors.Is(err, ErrUnknownPermission) {
		t.Fatalf("expected unknown permission, got %v", err)
	}

	_, err = c.Validate([]string{"not a slug"})
	if !errors.Is(err, ErrInvalidSlug) {
		t.Fatalf("expected invalid slug, got %v", err)
	}
}

func TestNilCatalogIsEmpty(t *testing.T) {
	var c *Catalog
	if c.Contains("catalog.view") || c.Slugs() != nil || c.Groups() != nil {
		t.Fatalf("nil catalog must behave as empty")
	}
}

func TestFilterGroups(t *testing.T) {
	groups := testCatalog().Groups()

	if got := FilterGroups(groups, "", ""); len(got) != 3 {
		t.Fatalf("no filter should keep every group, got %d", len(got))
	}

	got := FilterGroups(groups, "catalog", "")
	if len(got) != 1 || got[0].Name != "Catalog" || len(got[0].Permissions) != 2 {
		t.Fatalf("group filter should be case-insensitive, got %+v", got)
	}

	got = FilterGroups(groups, "", "VIEW")
	if len(got) != 3 {
		t.Fatalf("expected view permissions in 3 groups, got %+v", got)
	}
	if len(got[1].Permissions) != 1 || got[1].Permissions[0].Slug != "catalog.view" {
		t.Fatalf("term should drop catalog.edit, got %+v", got[1].Permissions)
	}

	got = FilterGroups(groups, "Catalog", "users")
	if len(got) != 0 {
		t.Fatalf("empty groups must be dropped, got %+v", got)
	}

	got = FilterGroups(groups, "", "misc")
	if len(got) != 1 || got[0].Name != "general" {
		t.Fatalf("name match expected in general, got %+v", got)
	}
}

func TestCatalogLen(t *testing.T) {
	var nilCatalog *Catalog
	if nilCatalog.Len() != 0 || testCatalog().Len() != 4 {
		t.Fatalf("unexpected catalog sizes")
	}
}
