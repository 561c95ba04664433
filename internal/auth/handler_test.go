package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-access/internal/auth"
	"github.com/odyssey-erp/odyssey-access/internal/permcache"
	"github.com/odyssey-erp/odyssey-access/internal/rbac"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
	_ "github.com/odyssey-erp/odyssey-access/testing"
)

type stubRepo struct {
	user     *auth.User
	sessions map[string]int64
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.user == nil || !strings.EqualFold(s.user.Email, email) {
		return nil, rbac.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	if s.sessions == nil {
		s.sessions = make(map[string]int64)
	}
	s.sessions[id] = userID
	return nil
}

func (s *stubRepo) DeleteSession(ctx context.Context, id string) error {
	delete(s.sessions, id)
	return nil
}

type stubFetcher struct{}

func (stubFetcher) Resolve(ctx context.Context, userID int64) (rbac.Resolution, error) {
	set := rbac.Resolve(rbac.ResolveInput{RolePermissions: []rbac.Slug{"catalog.view"}})
	return rbac.Resolution{UserID: userID, RoleID: 2, RoleSlug: "viewer", Active: true, Set: set}, nil
}

type fixture struct {
	handler  *auth.Handler
	sessions *shared.SessionManager
	csrf     *shared.CSRFManager
	registry *permcache.Registry
	repo     *stubRepo
}

func newFixture(t *testing.T, user *auth.User) fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })
	sessions := shared.NewSessionManager(redisClient, "test_session", time.Hour, false)
	csrf := shared.NewCSRFManager("csrfsecret")
	registry := permcache.NewRegistry(stubFetcher{}, 0, permcache.Options{})
	t.Cleanup(registry.CloseAll)
	repo := &stubRepo{user: user}
	handler := auth.NewHandler(nil, auth.NewService(repo), sessions, csrf, registry)
	return fixture{handler: handler, sessions: sessions, csrf: csrf, registry: registry, repo: repo}
}

func (f fixture) serve(t *testing.T, handler http.HandlerFunc, req *http.Request) (*httptest.ResponseRecorder, *shared.Session) {
	t.Helper()
	sess, err := f.sessions.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	ctx := shared.ContextWithSession(req.Context(), sess)
	res := httptest.NewRecorder()
	handler(res, req.WithContext(ctx))
	if err := f.sessions.Commit(ctx, res, sess); err != nil {
		t.Fatalf("commit session: %v", err)
	}
	return res, sess
}

func activeUser(t *testing.T) *auth.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return &auth.User{ID: 7, Email: "user@test.local", PasswordHash: string(hashed), RoleID: 2, IsActive: true}
}

func loginRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t, activeUser(t))
	res, _ := f.serve(t, f.handler.HandleLoginForTest, loginRequest(`{"email":"user@test.local","password":"wrongpass"}`))
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	if f.registry.Len() != 0 {
		t.Fatalf("no snapshot should be opened on failed login")
	}
}

func TestLoginValidation(t *testing.T) {
	f := newFixture(t, activeUser(t))
	res, _ := f.serve(t, f.handler.HandleLoginForTest, loginRequest(`{"email":"not-an-email","password":"x"}`))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestLoginInactiveUser(t *testing.T) {
	user := activeUser(t)
	user.IsActive = false
	f := newFixture(t, user)
	res, _ := f.serve(t, f.handler.HandleLoginForTest, loginRequest(`{"email":"user@test.local","password":"correctpass"}`))
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestLoginOpensSnapshotAndLogoutDiscardsIt(t *testing.T) {
	f := newFixture(t, activeUser(t))
	res, sess := f.serve(t, f.handler.HandleLoginForTest, loginRequest(`{"email":"user@test.local","password":"correctpass"}`))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if !strings.Contains(res.Body.String(), `"csrf_token"`) || !strings.Contains(res.Body.String(), `"catalog.view"`) {
		t.Fatalf("expected token and permissions in body, got %s", res.Body.String())
	}
	if sess.User() != "7" {
		t.Fatalf("expected session user 7, got %q", sess.User())
	}
	cache, ok := f.registry.Get(sess.ID)
	if !ok {
		t.Fatalf("expected snapshot registered for session")
	}
	if !cache.Has("catalog.view") {
		t.Fatalf("expected catalog.view from initial snapshot")
	}
	if until := time.Until(cache.ExpiresAt()); until <= 59*time.Minute || until > time.Hour {
		t.Fatalf("expected snapshot to expire with the session, got %s", until)
	}
	if f.repo.sessions[sess.ID] != 7 {
		t.Fatalf("expected session persisted for audit")
	}

	logout := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	logout.AddCookie(&http.Cookie{Name: f.sessions.CookieName(), Value: sess.ID})
	res, _ = f.serve(t, f.handler.HandleLogoutForTest, logout)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if _, ok := f.registry.Get(sess.ID); ok {
		t.Fatalf("snapshot should be discarded on logout")
	}
	if cache.Has("catalog.view") {
		t.Fatalf("closed cache must deny")
	}
}

func TestLoginRotatesSessionID(t *testing.T) {
	f := newFixture(t, activeUser(t))

	prime := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	res, anon := f.serve(t, f.handler.ShowSessionForTest, prime)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	before := anon.ID

	req := loginRequest(`{"email":"user@test.local","password":"correctpass"}`)
	req.AddCookie(&http.Cookie{Name: f.sessions.CookieName(), Value: before})
	res, sess := f.serve(t, f.handler.HandleLoginForTest, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if sess.ID == before {
		t.Fatalf("expected a new session id after login")
	}
}
