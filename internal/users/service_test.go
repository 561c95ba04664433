package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

type fakeRepo struct {
	users map[int64]User
}

func (f *fakeRepo) ListUsers(context.Context) ([]User, error) {
	out := make([]User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeRepo) GetUser(_ context.Context, id int64) (User, error) {
	u, ok := f.users[id]
	if !ok {
		return User{}, rbac.ErrNotFound
	}
	return u, nil
}

func (f *fakeRepo) ReplaceOverrides(_ context.Context, userID int64, grants, blocks []rbac.Slug) error {
	u := f.users[userID]
	u.Grants, u.Blocks = toStrings(grants), toStrings(blocks)
	f.users[userID] = u
	return nil
}

func (f *fakeRepo) AssignRole(_ context.Context, userID, roleID int64) error {
	u := f.users[userID]
	u.RoleID = roleID
	f.users[userID] = u
	return nil
}

func (f *fakeRepo) UpdateProfile(_ context.Context, userID int64, name string) error {
	u, ok := f.users[userID]
	if !ok {
		return rbac.ErrNotFound
	}
	u.Name = name
	f.users[userID] = u
	return nil
}

func toStrings(slugs []rbac.Slug) []string {
	out := make([]string, len(slugs))
	for i, s := range slugs {
		out[i] = string(s)
	}
	return out
}

type fakeDirectory struct {
	catalog *rbac.Catalog
	roles   map[int64]rbac.Role
}

func (d fakeDirectory) Catalog(context.Context) (*rbac.Catalog, error) { return d.catalog, nil }

func (d fakeDirectory) GetRole(_ context.Context, id int64) (rbac.Role, error) {
	role, ok := d.roles[id]
	if !ok {
		return rbac.Role{}, rbac.ErrNotFound
	}
	return role, nil
}

type userNotifier struct{ ids []int64 }

func (n *userNotifier) UserChanged(_ context.Context, userID int64) error {
	n.ids = append(n.ids, userID)
	return nil
}

func newTestService() (*Service, *fakeRepo, *userNotifier) {
	repo := &fakeRepo{users: map[int64]User{
		5: {ID: 5, Email: "dana@example.com", Name: "Dana", RoleID: 2, RoleSlug: "editor", IsActive: true},
	}}
	dir := fakeDirectory{
		catalog: rbac.NewCatalog([]rbac.Permission{{ID: 1, Slug: "catalog.view"}, {ID: 2, Slug: "catalog.delete"}}),
		roles: map[int64]rbac.Role{
			1: {ID: 1, Slug: rbac.SuperAdminRoleSlug},
			2: {ID: 2, Slug: "editor"},
			3: {ID: 3, Slug: "viewer"},
		},
	}
	notifier := &userNotifier{}
	return NewService(repo, dir, notifier, nil), repo, notifier
}

func TestReplaceOverrides(t *testing.T) {
	svc, _, notifier := newTestService()
	u, err := svc.ReplaceOverrides(context.Background(), 5, OverridesInput{
		Grants: []string{"catalog.view"},
		Blocks: []string{"catalog.delete", "Catalog.Delete"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"catalog.view"}, u.Grants)
	require.Equal(t, []string{"catalog.delete"}, u.Blocks)
	require.Equal(t, []int64{5}, notifier.ids)
}

func TestReplaceOverridesValidatesSlugs(t *testing.T) {
	svc, repo, notifier := newTestService()
	_, err := svc.ReplaceOverrides(context.Background(), 5, OverridesInput{Blocks: []string{"payroll.run"}})
	require.ErrorIs(t, err, rbac.ErrUnknownPermission)
	require.Empty(t, repo.users[5].Blocks)
	require.Empty(t, notifier.ids)

	_, err = svc.ReplaceOverrides(context.Background(), 404, OverridesInput{})
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestAssignRole(t *testing.T) {
	svc, _, notifier := newTestService()
	u, err := svc.AssignRole(context.Background(), 5, AssignRoleInput{RoleID: 3}, false)
	require.NoError(t, err)
	require.Equal(t, int64(3), u.RoleID)
	require.Equal(t, []int64{5}, notifier.ids)

	_, err = svc.AssignRole(context.Background(), 5, AssignRoleInput{RoleID: 1}, false)
	require.ErrorIs(t, err, httpx.ErrForbidden)

	u, err = svc.AssignRole(context.Background(), 5, AssignRoleInput{RoleID: 1}, true)
	require.NoError(t, err)
	require.Equal(t, int64(1), u.RoleID)

	_, err = svc.AssignRole(context.Background(), 5, AssignRoleInput{RoleID: 9}, true)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestProfile(t *testing.T) {
	svc, _, _ := newTestService()
	p, err := svc.UpdateProfile(context.Background(), 5, ProfileInput{Name: "  Dana K  "})
	require.NoError(t, err)
	require.Equal(t, Profile{ID: 5, Email: "dana@example.com", Name: "Dana K", RoleSlug: "editor"}, p)

	_, err = svc.Profile(context.Background(), 6)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

type auditLog struct{ entries []shared.AuditEntry }

func (a *auditLog) Record(_ context.Context, e shared.AuditEntry) error {
	a.entries = append(a.entries, e)
	return nil
}

func TestUserChangesAreAudited(t *testing.T) {
	svc, _, _ := newTestService()
	audit := &auditLog{}
	svc.WithAudit(audit)

	_, err := svc.AssignRole(context.Background(), 5, AssignRoleInput{RoleID: 3}, false)
	require.NoError(t, err)
	_, err = svc.ReplaceOverrides(context.Background(), 5, OverridesInput{Blocks: []string{"catalog.delete"}})
	require.NoError(t, err)

	require.Len(t, audit.entries, 2)
	require.Equal(t, shared.AuditUserRoleAssigned, audit.entries[0].Action)
	require.Equal(t, shared.AuditUserOverrides, audit.entries[1].Action)
	require.Equal(t, "user", audit.entries[1].Entity)
	require.Zero(t, audit.entries[1].ActorID)
}
