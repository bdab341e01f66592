package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"minerva.org/internal/auth"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type stubUsers struct {
	mu   sync.Mutex
	byID map[string]*auth.User
}

func newStubUsers() *stubUsers { return &stubUsers{byID: make(map[string]*auth.User)} }

func (s *stubUsers) FindByID(_ context.Context, id string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return u, nil
}

func (s *stubUsers) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *stubUsers) Save(_ context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if existing.Username == u.Username && existing.ID != u.ID {
			return auth.ErrConflict
		}
	}
	s.byID[u.ID] = u
	return nil
}

func (s *stubUsers) delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

type stubRoles struct {
	mu   sync.Mutex
	byID map[string]*auth.Role
}

func newStubRoles() *stubRoles { return &stubRoles{byID: make(map[string]*auth.Role)} }

func (s *stubRoles) FindByID(_ context.Context, id string) (*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return r, nil
}

func (s *stubRoles) FindByName(_ context.Context, name string) (*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.byID {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *stubRoles) List(_ context.Context) ([]*auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*auth.Role, 0, len(s.byID))
	for _, r := range s.byID {
		out = append(out, r)
	}
	return out, nil
}

func (s *stubRoles) Save(_ context.Context, r *auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[r.ID] = r
	return nil
}

func (s *stubRoles) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

type stubPerms struct {
	mu   sync.Mutex
	byID map[string]auth.Permission
}

func newStubPerms() *stubPerms { return &stubPerms{byID: make(map[string]auth.Permission)} }

func (s *stubPerms) FindByID(_ context.Context, id string) (auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return auth.Permission{}, auth.ErrNotFound
	}
	return p, nil
}

func (s *stubPerms) FindByName(_ context.Context, name auth.PermissionName) (auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.byID {
		if p.Name.Equal(name) {
			return p, nil
		}
	}
	return auth.Permission{}, auth.ErrNotFound
}

func (s *stubPerms) List(_ context.Context) ([]auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.Permission, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, p)
	}
	return out, nil
}

func (s *stubPerms) Save(_ context.Context, p auth.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[p.ID] = p
	return nil
}

func (s *stubPerms) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

type testEnv struct {
	t       *testing.T
	handler http.Handler
	svc     *auth.Service
	users   *stubUsers
	roles   *stubRoles
	perms   *stubPerms
	clock   *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &fakeClock{t: time.Now().UTC()}
	users := newStubUsers()
	roles := newStubRoles()
	perms := newStubPerms()
	evaluator := auth.NewEvaluator()
	guard, err := auth.NewSessionGuard(users, evaluator, []byte("test-secret"),
		auth.WithIssuer("minerva-api"), auth.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewSessionGuard: %v", err)
	}
	svc, err := auth.NewService(users, roles, perms, guard, evaluator)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	api := New(svc, ReadyProbe{}, "test")
	return &testEnv{
		t:       t,
		handler: RequestID(api.Handler()),
		svc:     svc,
		users:   users,
		roles:   roles,
		perms:   perms,
		clock:   clock,
	}
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

func wantError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) errorBody {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, status, rr.Body.String())
	}
	body := decodeBody[errorBody](t, rr)
	if body.Code != code {
		t.Fatalf("code = %q, want %q", body.Code, code)
	}
	return body
}

// seedMember registers a user with no roles and returns its id and an
// access token.
func (e *testEnv) seedMember(username string) (string, auth.TokenPair) {
	e.t.Helper()
	ctx := context.Background()
	user, err := e.svc.Register(ctx, username, username+"@example.com", "pa55word!", auth.Profile{})
	if err != nil {
		e.t.Fatalf("Register(%s): %v", username, err)
	}
	pair, _, err := e.svc.Login(ctx, username, "pa55word!")
	if err != nil {
		e.t.Fatalf("Login(%s): %v", username, err)
	}
	return user.ID, pair
}

// seedAdmin provisions the super-admin catalog entry, an admin role and a
// logged-in administrator.
func (e *testEnv) seedAdmin() (string, auth.TokenPair) {
	e.t.Helper()
	ctx := context.Background()
	if _, err := e.svc.CreatePermission(ctx, "*.*.*", "All Permissions", ""); err != nil {
		e.t.Fatalf("CreatePermission(*.*.*): %v", err)
	}
	if _, err := e.svc.CreateRole(ctx, "admin", "Administrator", "", auth.RoleTypeAdmin, []string{"*.*.*"}); err != nil {
		e.t.Fatalf("CreateRole(admin): %v", err)
	}
	user, err := e.svc.Register(ctx, "root", "root@example.com", "pa55word!", auth.Profile{})
	if err != nil {
		e.t.Fatalf("Register(root): %v", err)
	}
	if _, err := e.svc.AssignRole(ctx, user.ID, "admin"); err != nil {
		e.t.Fatalf("AssignRole(root, admin): %v", err)
	}
	pair, _, err := e.svc.Login(ctx, "root", "pa55word!")
	if err != nil {
		e.t.Fatalf("Login(root): %v", err)
	}
	return user.ID, pair
}

func TestHealthEndpointsArePublic(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		rr := env.do(http.MethodGet, path, "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("GET %s = %d, want 200 (body %s)", path, rr.Code, rr.Body.String())
		}
	}
}

func TestRegisterLoginMeFlow(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": "alice", "email": "Alice@Example.com", "password": "pa55word!", "full_name": "Alice",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("register = %d (body %s)", rr.Code, rr.Body.String())
	}
	created := decodeBody[userView](t, rr)
	if created.Email != "alice@example.com" {
		t.Fatalf("email not normalized: %q", created.Email)
	}
	if created.KeyVersion != 0 {
		t.Fatalf("fresh user key_version = %d, want 0", created.KeyVersion)
	}

	rr = env.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": "alice", "password": "pa55word!",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login = %d (body %s)", rr.Code, rr.Body.String())
	}
	login := decodeBody[loginResponse](t, rr)
	if login.Tokens.AccessToken == "" || login.Tokens.RefreshToken == "" {
		t.Fatalf("incomplete token pair: %+v", login.Tokens)
	}
	if login.Tokens.TokenType != "Bearer" {
		t.Fatalf("token_type = %q", login.Tokens.TokenType)
	}

	rr = env.do(http.MethodGet, "/v1/auth/me", login.Tokens.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("me = %d (body %s)", rr.Code, rr.Body.String())
	}
	me := decodeBody[struct {
		User userView `json:"user"`
	}](t, rr)
	if me.User.Username != "alice" {
		t.Fatalf("me.user.username = %q", me.User.Username)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.seedMember("alice")

	rr := env.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": "alice", "password": "wrong",
	})
	wantError(t, rr, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	rr = env.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": "ghost", "password": "whatever",
	})
	wantError(t, rr, http.StatusUnauthorized, "INVALID_CREDENTIALS")
}

func TestLogoutRevokesAccessButRefreshSurvives(t *testing.T) {
	env := newTestEnv(t)
	_, pair := env.seedMember("alice")

	rr := env.do(http.MethodPost, "/v1/auth/logout", pair.AccessToken, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("logout = %d (body %s)", rr.Code, rr.Body.String())
	}

	rr = env.do(http.MethodGet, "/v1/auth/me", pair.AccessToken, nil)
	wantError(t, rr, http.StatusUnauthorized, "TOKEN_VERSION_MISMATCH")

	rr = env.do(http.MethodPost, "/v1/auth/refresh", "", map[string]string{
		"refresh_token": pair.RefreshToken,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh after logout = %d (body %s)", rr.Code, rr.Body.String())
	}
	fresh := decodeBody[tokenPairView](t, rr)

	rr = env.do(http.MethodGet, "/v1/auth/me", fresh.AccessToken, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("me with refreshed token = %d (body %s)", rr.Code, rr.Body.String())
	}
}

func TestChangePasswordOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	_, pair := env.seedMember("alice")

	rr := env.do(http.MethodPost, "/v1/auth/password", pair.AccessToken, map[string]string{
		"current_password": "wrong", "new_password": "n3wpass!",
	})
	wantError(t, rr, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	rr = env.do(http.MethodPost, "/v1/auth/password", pair.AccessToken, map[string]string{
		"current_password": "pa55word!", "new_password": "n3wpass!",
	})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("change password = %d (body %s)", rr.Code, rr.Body.String())
	}

	rr = env.do(http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": "alice", "password": "n3wpass!",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login with new password = %d (body %s)", rr.Code, rr.Body.String())
	}
}

func TestRejectsMalformedJSONBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewReader([]byte(`{"username":`)))
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("malformed body = %d, want 400", rr.Code)
	}
	if body := decodeBody[errorBody](t, rr); body.Code != "INVALID_BODY" {
		t.Fatalf("code = %q, want INVALID_BODY", body.Code)
	}
}
