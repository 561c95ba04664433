package routecap

import (
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-access/internal/rbac"
)

// Table is a Mapper that can be rebuilt when the catalog changes. Lookups
// always see a complete mapper.
type Table struct {
	convention Convention
	overrides  map[string]string
	current    atomic.Pointer[Mapper]
}

// NewTable builds a table over the given catalog.
func NewTable(convention Convention, overrides map[string]string, catalog *rbac.Catalog) (*Table, error) {
	t := &Table{convention: convention, overrides: overrides}
	if err := t.Reload(catalog); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload swaps in a mapper over a new catalog.
func (t *Table) Reload(catalog *rbac.Catalog) error {
	m, err := NewMapper(t.convention, t.overrides, catalog)
	if err != nil {
		return err
	}
	t.current.Store(m)
	return nil
}

// RequiredPermission implements rbac.RouteMapper.
func (t *Table) RequiredPermission(path string) (rbac.Slug, bool) {
	return t.current.Load().RequiredPermission(path)
}

// Check runs the consistency check against the current catalog.
func (t *Table) Check(routes []string) Report {
	return t.current.Load().Check(routes)
}

// CheckRouter runs the consistency check over a chi router.
func (t *Table) CheckRouter(router chi.Routes) (Report, error) {
	return t.current.Load().CheckRouter(router)
}

var _ rbac.RouteMapper = (*Table)(nil)
