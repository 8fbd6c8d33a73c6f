package web

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gautam20feb/jupyterhub/internal/auth"
	"github.com/gautam20feb/jupyterhub/internal/lifecycle"
	"github.com/gautam20feb/jupyterhub/internal/session"
	"github.com/gautam20feb/jupyterhub/internal/spawner"
	"github.com/gautam20feb/jupyterhub/internal/storage"
	"github.com/gautam20feb/jupyterhub/internal/telemetry"
	"github.com/gautam20feb/jupyterhub/internal/user"
)

type fakeStore struct {
	mu           sync.Mutex
	users        map[string]user.User
	apiTokens    map[string]storage.APIToken
	cookieTokens map[string]storage.CookieToken
	secrets      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        make(map[string]user.User),
		apiTokens:    make(map[string]storage.APIToken),
		cookieTokens: make(map[string]storage.CookieToken),
	}
}

func (s *fakeStore) addUser(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[name] = user.User{Name: name}
}

func (s *fakeStore) addAPIToken(secret, userName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiTokens[secret] = storage.APIToken{Secret: secret, UserName: userName}
}

func (s *fakeStore) addCookieToken(secret, userName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookieTokens[secret] = storage.CookieToken{Secret: secret, UserName: userName}
}

func (s *fakeStore) GetUser(_ context.Context, name string) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[name]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) EnsureUser(_ context.Context, name string, admin bool) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[name]; ok {
		return u, nil
	}
	u := user.User{Name: name, Admin: admin}
	s.users[name] = u
	return u, nil
}

func (s *fakeStore) UpdateLastActivity(_ context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[name]
	if !ok {
		return storage.ErrNotFound
	}
	u.LastActivity = at
	s.users[name] = u
	return nil
}

func (s *fakeStore) SetUserServer(_ context.Context, name string, srv *user.Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[name]
	if !ok {
		return storage.ErrNotFound
	}
	u.Server = srv
	s.users[name] = u
	return nil
}

func (s *fakeStore) CreateAPIToken(_ context.Context, userName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets++
	secret := fmt.Sprintf("api-secret-%d", s.secrets)
	s.apiTokens[secret] = storage.APIToken{Secret: secret, UserName: userName}
	return secret, nil
}

func (s *fakeStore) GetAPIToken(_ context.Context, secret string) (storage.APIToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.apiTokens[secret]
	if !ok {
		return storage.APIToken{}, storage.ErrNotFound
	}
	return tok, nil
}

func (s *fakeStore) CreateCookieToken(_ context.Context, userName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets++
	secret := fmt.Sprintf("cookie-secret-%d", s.secrets)
	s.cookieTokens[secret] = storage.CookieToken{Secret: secret, UserName: userName}
	return secret, nil
}

func (s *fakeStore) GetCookieToken(_ context.Context, secret string) (storage.CookieToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.cookieTokens[secret]
	if !ok {
		return storage.CookieToken{}, storage.ErrNotFound
	}
	return tok, nil
}

type stubSpawner struct {
	mu       sync.Mutex
	startErr error
	starts   int
}

func (s *stubSpawner) Start(_ context.Context, _ spawner.StartOptions) (spawner.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.startErr != nil {
		return spawner.Info{}, s.startErr
	}
	return spawner.Info{Addr: "127.0.0.1:9000"}, nil
}

func (s *stubSpawner) Poll(_ context.Context) (*int, error) { return nil, nil }
func (s *stubSpawner) Stop(_ context.Context) error         { return nil }
func (s *stubSpawner) OnExit(func(int))                     {}

type stubProxy struct {
	mu      sync.Mutex
	adds    int
	deletes int
}

func (p *stubProxy) AddRoute(_ context.Context, _ user.User) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adds++
	return nil
}

func (p *stubProxy) DeleteRoute(_ context.Context, _ user.User) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletes++
	return nil
}

type testHub struct {
	store   *fakeStore
	spawner *stubSpawner
	proxy   *stubProxy
	mux     *http.ServeMux
}

func newTestHub(t *testing.T, registry *user.Registry) *testHub {
	return newTestHubAt(t, "/", registry)
}

func newTestHubAt(t *testing.T, baseURL string, registry *user.Registry) *testHub {
	t.Helper()
	hub := &user.Server{BaseURL: baseURL, CookieName: "jupyterhub-session"}
	th := &testHub{
		store:   newFakeStore(),
		spawner: &stubSpawner{},
		proxy:   &stubProxy{},
		mux:     http.NewServeMux(),
	}
	orch := lifecycle.New(th.store, th.proxy, func(u user.User) spawner.Spawner {
		return th.spawner
	}, telemetry.NewEmitter(nil), hub.BaseURL)
	handler := NewHandler(
		hub,
		auth.New(th.store, th.store, th.store, hub),
		session.NewManager(th.store, hub),
		registry,
		orch,
		th.store,
		"/hub/login",
	)
	handler.Register(th.mux)
	return th
}

func loginRedirect(t *testing.T, rr *httptest.ResponseRecorder) (path, next string) {
	t.Helper()
	if rr.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", rr.Code)
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	return loc.Path, loc.Query().Get("next")
}

func TestUserRouteWithoutCredentialsRedirectsToLogin(t *testing.T) {
	th := newTestHub(t, user.NewRegistry(nil, nil))
	th.store.addUser("alice")

	rr := httptest.NewRecorder()
	th.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/user/alice/notebooks/x.ipynb", nil))

	path, next := loginRedirect(t, rr)
	if path != "/hub/login" {
		t.Fatalf("expected login redirect, got %s", path)
	}
	if next != "/user/alice/notebooks/x.ipynb" {
		t.Fatalf("expected original path in next, got %q", next)
	}
	if th.spawner.starts != 0 {
		t.Fatal("no backend must be spawned for an unauthenticated request")
	}
}

func TestUserRouteNameMismatchClearsSessionAndRedirects(t *testing.T) {
	th := newTestHub(t, user.NewRegistry(nil, nil))
	th.store.addUser("alice")
	th.store.addUser("bob")
	th.store.addAPIToken("bob-token", "bob")

	req := httptest.NewRequest(http.MethodGet, "/user/alice/tree", nil)
	req.Header.Set("Authorization", "token bob-token")
	rr := httptest.NewRecorder()
	th.mux.ServeHTTP(rr, req)

	path, next := loginRedirect(t, rr)
	if path != "/hub/login" {
		t.Fatalf("expected login redirect, got %s", path)
	}
	if next != "/user/alice/tree" {
		t.Fatalf("expected original path in next, got %q", next)
	}

	cleared := false
	for _, c := range rr.Result().Cookies() {
		if c.Name == "jupyterhub-session" && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("expected hub session cookie cleared on mismatch")
	}
	if th.spawner.starts != 0 {
		t.Fatal("no backend must be spawned on a name mismatch")
	}
}

func TestUserRouteSpawnsAndRedirectsToBackendPath(t *testing.T) {
	th := newTestHub(t, user.NewRegistry(nil, nil))
	th.store.addUser("alice")
	th.store.addCookieToken("alice-session", "alice")

	req := httptest.NewRequest(http.MethodGet, "/user/alice/foo", nil)
	req.AddCookie(&http.Cookie{Name: "jupyterhub-session", Value: "alice-session"})
	rr := httptest.NewRecorder()
	th.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Location"); got != "/foo" {
		t.Fatalf("expected redirect to /foo, got %q", got)
	}
	if th.spawner.starts != 1 {
		t.Fatalf("expected one spawn, got %d", th.spawner.starts)
	}
	if th.proxy.adds != 1 {
		t.Fatalf("expected one route registration, got %d", th.proxy.adds)
	}

	backendCookie := false
	for _, c := range rr.Result().Cookies() {
		if c.Name == "jupyterhub-user-alice" && c.Value != "" {
			backendCookie = true
			if c.Path != "/user/alice/" {
				t.Fatalf("backend cookie must be path-scoped, got %q", c.Path)
			}
		}
	}
	if !backendCookie {
		t.Fatal("expected a backend session cookie")
	}
}

func TestUserRouteRecordsLastActivity(t *testing.T) {
	th := newTestHub(t, user.NewRegistry(nil, nil))
	th.store.addUser("alice")
	th.store.addCookieToken("alice-session", "alice")

	req := httptest.NewRequest(http.MethodGet, "/user/alice/foo", nil)
	req.AddCookie(&http.Cookie{Name: "jupyterhub-session", Value: "alice-session"})
	th.mux.ServeHTTP(httptest.NewRecorder(), req)

	u, err := th.store.GetUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.LastActivity.IsZero() {
		t.Fatal("expected last activity recorded on dispatch")
	}
}

func TestFallbackRedirectsIntoBasePrefix(t *testing.T) {
	th := newTestHubAt(t, "/prefix/", user.NewRegistry(nil, nil))

	rr := httptest.NewRecorder()
	th.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/foo?a=1", nil))

	if rr.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", rr.Code)
	}
	if got := rr.Header().Get("Location"); got != "/prefix/foo?a=1" {
		t.Fatalf("expected redirect into base prefix, got %q", got)
	}
}

func TestPrefixedHubStripsFullPrefixOnDispatch(t *testing.T) {
	th := newTestHubAt(t, "/prefix/", user.NewRegistry(nil, nil))
	th.store.addUser("alice")
	th.store.addCookieToken("alice-session", "alice")

	req := httptest.NewRequest(http.MethodGet, "/prefix/user/alice/tree", nil)
	req.AddCookie(&http.Cookie{Name: "jupyterhub-session", Value: "alice-session"})
	rr := httptest.NewRecorder()
	th.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Location"); got != "/tree" {
		t.Fatalf("expected full prefix stripped, got %q", got)
	}
}

func TestUserRoutePreservesQueryOnRedirect(t *testing.T) {
	th := newTestHub(t, user.NewRegistry(nil, nil))
	th.store.addUser("alice")
	th.store.addCookieToken("alice-session", "alice")

	req := httptest.NewRequest(http.MethodGet, "/user/alice/tree?path=work", nil)
	req.AddCookie(&http.Cookie{Name: "jupyterhub-session", Value: "alice-session"})
	rr := httptest.NewRecorder()
	th.mux.ServeHTTP(rr, req)

	if got := rr.Header().Get("Location"); got != "/tree?path=work" {
		t.Fatalf("expected query preserved, got %q", got)
	}
}

func TestUserRouteBarePrefixRedirectsToSlash(t *testing.T) {
	th := newTestHub(t, user.NewRegistry(nil, nil))

	rr := httptest.NewRecorder()
	th.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/user/alice", nil))

	if rr.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", rr.Code)
	}
	if got := rr.Header().Get("Location"); got != "/user/alice/" {
		t.Fatalf("expected trailing-slash redirect, got %q", got)
	}
}

func TestUserRouteDisallowedUserGetsErrorPage(t *testing.T) {
	th := newTestHub(t, user.NewRegistry(nil, []string{"alice"}))
	th.store.addUser("bob")
	th.store.addAPIToken("bob-token", "bob")

	req := httptest.NewRequest(http.MethodGet, "/user/bob/tree", nil)
	req.Header.Set("Authorization", "token bob-token")
	rr := httptest.NewRecorder()
	th.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected HTML error page, got %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "not allowed") {
		t.Fatalf("expected reason in page, got %s", rr.Body.String())
	}
}

func TestUserRouteSpawnFailureRendersErrorPage(t *testing.T) {
	th := newTestHub(t, user.NewRegistry(nil, nil))
	th.store.addUser("alice")
	th.store.addCookieToken("alice-session", "alice")
	th.spawner.startErr = fmt.Errorf("binary not found")

	req := httptest.NewRequest(http.MethodGet, "/user/alice/foo", nil)
	req.AddCookie(&http.Cookie{Name: "jupyterhub-session", Value: "alice-session"})
	rr := httptest.NewRecorder()
	th.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Failed to start your server") {
		t.Fatalf("expected spawn failure reason, got %s", rr.Body.String())
	}
}

func TestNotFoundRendersHTMLPage(t *testing.T) {
	th := newTestHub(t, user.NewRegistry(nil, nil))

	rr := httptest.NewRecorder()
	th.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected HTML page, got %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "404") {
		t.Fatalf("expected 404 page body, got %s", rr.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	th := newTestHub(t, user.NewRegistry(nil, nil))

	rr := httptest.NewRecorder()
	th.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/hub/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "OK" {
		t.Fatalf("expected OK body, got %q", rr.Body.String())
	}
}
