package e2e

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-access/internal/auth"
	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/roles"
	"github.com/odyssey-erp/odyssey-access/internal/users"
)

type memUser struct {
	rbac.User
	PasswordHash string
}

// memStore is an in-memory stand-in for the PostgreSQL tables.
type memStore struct {
	mu          sync.RWMutex
	permissions map[rbac.Slug]rbac.Permission
	roles       map[int64]rbac.Role
	users       map[int64]memUser
	sessions    map[string]int64
	nextRoleID  int64
}

func newMemStore() *memStore {
	return &memStore{
		permissions: make(map[rbac.Slug]rbac.Permission),
		roles:       make(map[int64]rbac.Role),
		users:       make(map[int64]memUser),
		sessions:    make(map[string]int64),
		nextRoleID:  100,
	}
}

func (s *memStore) addPermission(slug rbac.Slug, group string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permissions[slug] = rbac.Permission{ID: int64(len(s.permissions) + 1), Name: string(slug), Slug: slug, GroupName: group}
}

func (s *memStore) addRole(id int64, slug rbac.Slug, perms ...rbac.Slug) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[id] = rbac.Role{ID: id, Name: string(slug), Slug: slug, Permissions: perms}
}

func (s *memStore) addUser(u rbac.User, passwordHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = memUser{User: u, PasswordHash: passwordHash}
}

func (s *memStore) setUserActive(id int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[id]
	u.IsActive = active
	s.users[id] = u
}

// rbac.Store

func (s *memStore) GetRole(ctx context.Context, id int64) (rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[id]
	if !ok {
		return rbac.Role{}, rbac.ErrNotFound
	}
	role.Permissions = append([]rbac.Slug(nil), role.Permissions...)
	return role, nil
}

func (s *memStore) GetUser(ctx context.Context, id int64) (rbac.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return rbac.User{}, rbac.ErrNotFound
	}
	out := u.User
	out.DirectGrants = append([]rbac.Slug(nil), u.DirectGrants...)
	out.DirectBlocks = append([]rbac.Slug(nil), u.DirectBlocks...)
	return out, nil
}

func (s *memStore) ListPermissions(ctx context.Context) ([]rbac.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rbac.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// roles.RepositoryPort

func (s *memStore) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rbac.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) CreateRole(ctx context.Context, name string, slug rbac.Slug, description string, perms []rbac.Slug) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Slug == slug {
			return 0, roles.ErrDuplicate
		}
	}
	if err := s.checkKnown(perms); err != nil {
		return 0, err
	}
	s.nextRoleID++
	s.roles[s.nextRoleID] = rbac.Role{ID: s.nextRoleID, Name: name, Slug: slug, Description: description, Permissions: perms, CreatedAt: time.Now()}
	return s.nextRoleID, nil
}

func (s *memStore) UpdateRole(ctx context.Context, id int64, name, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return rbac.ErrNotFound
	}
	r.Name, r.Description = name, description
	s.roles[id] = r
	return nil
}

func (s *memStore) ReplaceRolePermissions(ctx context.Context, roleID int64, perms []rbac.Slug) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[roleID]
	if !ok {
		return rbac.ErrNotFound
	}
	if err := s.checkKnown(perms); err != nil {
		return err
	}
	r.Permissions = append([]rbac.Slug(nil), perms...)
	r.UpdatedAt = time.Now()
	s.roles[roleID] = r
	return nil
}

func (s *memStore) checkKnown(perms []rbac.Slug) error {
	for _, p := range perms {
		if _, ok := s.permissions[p]; !ok {
			return rbac.ErrUnknownPermission
		}
	}
	return nil
}

// userRepo adapts memStore to users.RepositoryPort.
type userRepo struct{ *memStore }

func (u userRepo) toUser(m memUser) users.User {
	out := users.User{ID: m.ID, Email: m.Email, Name: m.Name, RoleID: m.RoleID, IsActive: m.IsActive, Grants: []string{}, Blocks: []string{}}
	out.RoleSlug = string(u.roles[m.RoleID].Slug)
	for _, g := range m.DirectGrants {
		out.Grants = append(out.Grants, string(g))
	}
	for _, b := range m.DirectBlocks {
		out.Blocks = append(out.Blocks, string(b))
	}
	return out
}

func (u userRepo) ListUsers(ctx context.Context) ([]users.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]users.User, 0, len(u.users))
	for _, m := range u.users {
		out = append(out, u.toUser(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (u userRepo) GetUser(ctx context.Context, id int64) (users.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	m, ok := u.users[id]
	if !ok {
		return users.User{}, rbac.ErrNotFound
	}
	return u.toUser(m), nil
}

func (u userRepo) ReplaceOverrides(ctx context.Context, userID int64, grants, blocks []rbac.Slug) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	m, ok := u.users[userID]
	if !ok {
		return rbac.ErrNotFound
	}
	if err := u.checkKnown(append(append([]rbac.Slug(nil), grants...), blocks...)); err != nil {
		return err
	}
	m.DirectGrants = append([]rbac.Slug(nil), grants...)
	m.DirectBlocks = append([]rbac.Slug(nil), blocks...)
	u.users[userID] = m
	return nil
}

func (u userRepo) AssignRole(ctx context.Context, userID, roleID int64) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	m, ok := u.users[userID]
	if !ok {
		return rbac.ErrNotFound
	}
	if _, ok := u.roles[roleID]; !ok {
		return rbac.ErrNotFound
	}
	m.RoleID = roleID
	u.users[userID] = m
	return nil
}

func (u userRepo) UpdateProfile(ctx context.Context, userID int64, name string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	m, ok := u.users[userID]
	if !ok {
		return rbac.ErrNotFound
	}
	m.Name = name
	u.users[userID] = m
	return nil
}

// authRepo adapts memStore to auth.Repository.
type authRepo struct{ *memStore }

func (a authRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, m := range a.users {
		if strings.EqualFold(m.Email, email) {
			return &auth.User{ID: m.ID, Email: m.Email, PasswordHash: m.PasswordHash, RoleID: m.RoleID, IsActive: m.IsActive}, nil
		}
	}
	return nil, rbac.ErrNotFound
}

func (a authRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[id] = userID
	return nil
}

func (a authRepo) DeleteSession(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, id)
	return nil
}

var (
	_ rbac.Store           = (*memStore)(nil)
	_ roles.RepositoryPort = (*memStore)(nil)
	_ users.RepositoryPort = userRepo{}
	_ auth.Repository      = authRepo{}
)
