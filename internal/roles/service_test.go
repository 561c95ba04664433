package roles

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

type fakeRepo struct {
	roles    map[int64]rbac.Role
	nextID   int64
	replaced int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		nextID: 3,
		roles: map[int64]rbac.Role{
			1: {ID: 1, Name: "Super Admin", Slug: rbac.SuperAdminRoleSlug},
			2: {ID: 2, Name: "Editor", Slug: "editor", Permissions: []rbac.Slug{"catalog.view"}},
		},
	}
}

func (f *fakeRepo) ListRoles(context.Context) ([]rbac.Role, error) {
	return []rbac.Role{f.roles[1], f.roles[2]}, nil
}

func (f *fakeRepo) GetRole(_ context.Context, id int64) (rbac.Role, error) {
	role, ok := f.roles[id]
	if !ok {
		return rbac.Role{}, rbac.ErrNotFound
	}
	return role, nil
}

func (f *fakeRepo) CreateRole(_ context.Context, name string, slug rbac.Slug, description string, perms []rbac.Slug) (int64, error) {
	for _, r := range f.roles {
		if r.Slug == slug {
			return 0, ErrDuplicate
		}
	}
	id := f.nextID
	f.nextID++
	f.roles[id] = rbac.Role{ID: id, Name: name, Slug: slug, Description: description, Permissions: perms}
	return id, nil
}

func (f *fakeRepo) UpdateRole(_ context.Context, id int64, name, description string) error {
	role := f.roles[id]
	role.Name, role.Description = name, description
	f.roles[id] = role
	return nil
}

func (f *fakeRepo) ReplaceRolePermissions(_ context.Context, roleID int64, perms []rbac.Slug) error {
	role := f.roles[roleID]
	role.Permissions = perms
	f.roles[roleID] = role
	f.replaced++
	return nil
}

type staticCatalog struct{ catalog *rbac.Catalog }

func (s staticCatalog) Catalog(context.Context) (*rbac.Catalog, error) { return s.catalog, nil }

type roleNotifier struct {
	ids []int64
	err error
}

func (n *roleNotifier) RoleChanged(_ context.Context, roleID int64) error {
	n.ids = append(n.ids, roleID)
	return n.err
}

func newTestService() (*Service, *fakeRepo, *roleNotifier) {
	repo := newFakeRepo()
	catalog := rbac.NewCatalog([]rbac.Permission{
		{ID: 1, Slug: "catalog.view"}, {ID: 2, Slug: "catalog.edit"}, {ID: 3, Slug: "users.view"},
	})
	notifier := &roleNotifier{}
	return NewService(repo, staticCatalog{catalog}, notifier, nil), repo, notifier
}

func TestUpdateRolePermissionsReplacesWholesale(t *testing.T) {
	svc, _, notifier := newTestService()
	role, err := svc.UpdateRolePermissions(context.Background(), 2, []string{"users.view", "catalog.edit", "users.view"})
	require.NoError(t, err)
	require.Equal(t, []rbac.Slug{"catalog.edit", "users.view"}, role.Permissions)
	require.Equal(t, []int64{2}, notifier.ids)

	role, err = svc.UpdateRolePermissions(context.Background(), 2, nil)
	require.NoError(t, err)
	require.Empty(t, role.Permissions)
}

func TestUpdateRolePermissionsRejectsUnknownSlug(t *testing.T) {
	svc, repo, notifier := newTestService()
	_, err := svc.UpdateRolePermissions(context.Background(), 2, []string{"catalog.view", "catalog.teleport"})
	require.ErrorIs(t, err, rbac.ErrUnknownPermission)
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.Zero(t, repo.replaced)
	require.Empty(t, notifier.ids)
	require.Equal(t, []rbac.Slug{"catalog.view"}, repo.roles[2].Permissions)
}

func TestSuperAdminRoleIsImmutable(t *testing.T) {
	svc, repo, _ := newTestService()
	_, err := svc.UpdateRolePermissions(context.Background(), 1, []string{"catalog.view"})
	require.ErrorIs(t, err, rbac.ErrForbidden)
	require.ErrorIs(t, err, httpx.ErrForbidden)

	_, err = svc.UpdateRole(context.Background(), 1, UpdateRoleInput{Name: "Root"})
	require.ErrorIs(t, err, rbac.ErrForbidden)
	require.Equal(t, "Super Admin", repo.roles[1].Name)

	_, err = svc.CreateRole(context.Background(), CreateRoleInput{Name: "Another", Slug: "Super-Admin"})
	require.ErrorIs(t, err, rbac.ErrForbidden)
}

func TestCreateRole(t *testing.T) {
	svc, _, notifier := newTestService()
	role, err := svc.CreateRole(context.Background(), CreateRoleInput{
		Name: " Auditor ", Slug: "auditor", Permissions: []string{"users.view"},
	})
	require.NoError(t, err)
	require.Equal(t, "Auditor", role.Name)
	require.Equal(t, []rbac.Slug{"users.view"}, role.Permissions)
	require.Equal(t, []int64{role.ID}, notifier.ids)

	_, err = svc.CreateRole(context.Background(), CreateRoleInput{Name: "Dup", Slug: "editor"})
	require.ErrorIs(t, err, httpx.ErrDuplicate)

	_, err = svc.CreateRole(context.Background(), CreateRoleInput{Name: "Bad", Slug: "bad slug"})
	require.ErrorIs(t, err, rbac.ErrInvalidSlug)
}

func TestNotificationFailureDoesNotFailMutation(t *testing.T) {
	svc, _, notifier := newTestService()
	notifier.err = errors.New("redis down")
	role, err := svc.UpdateRole(context.Background(), 2, UpdateRoleInput{Name: "Writers", Description: "edits"})
	require.NoError(t, err)
	require.Equal(t, "Writers", role.Name)
}

func TestUnknownRole(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.UpdateRolePermissions(context.Background(), 42, nil)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

type auditLog struct{ entries []shared.AuditEntry }

func (a *auditLog) Record(_ context.Context, e shared.AuditEntry) error {
	a.entries = append(a.entries, e)
	return nil
}

func TestRoleChangesAreAudited(t *testing.T) {
	svc, _, _ := newTestService()
	audit := &auditLog{}
	svc.WithAudit(audit)

	sess := &shared.Session{ID: "sid"}
	sess.SetUser("7")
	ctx := shared.ContextWithSession(context.Background(), sess)

	_, err := svc.UpdateRolePermissions(ctx, 2, []string{"catalog.edit"})
	require.NoError(t, err)
	_, err = svc.UpdateRolePermissions(ctx, 1, []string{"catalog.edit"})
	require.Error(t, err)

	require.Len(t, audit.entries, 1)
	entry := audit.entries[0]
	require.Equal(t, shared.AuditRolePermissions, entry.Action)
	require.Equal(t, int64(7), entry.ActorID)
	require.Equal(t, int64(2), entry.EntityID)
}
