package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/market/internal/middleware"
	"github.com/hitoshi/market/internal/model"
)

// mockSessionStore はSessionFinderとSessionStarterのモック実装。
type mockSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	started  int
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{sessions: map[string]*model.Session{
		"user-session": {ID: "user-session", UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)},
		"anon-session": {ID: "anon-session", ExpiresAt: time.Now().Add(time.Hour)},
	}}
}

func (m *mockSessionStore) FindByID(ctx context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id], nil
}

func (m *mockSessionStore) StartSession(ctx context.Context) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
	s := &model.Session{ID: "new-session", ExpiresAt: time.Now().Add(time.Hour)}
	m.sessions[s.ID] = s
	return s, nil
}

type routerFixture struct {
	router   http.Handler
	sessions *mockSessionStore
	items    *mockItemService
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(120, 10, 5))
	t.Cleanup(rl.Stop)

	f := &routerFixture{
		sessions: newMockSessionStore(),
		items: &mockItemService{
			getFn: func(ctx context.Context, itemID string) (*model.Item, error) {
				return sampleItem(), nil
			},
		},
	}
	f.router = NewRouter(&RouterDeps{
		HealthChecker: &mockHealthChecker{},
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics"))
		}),
		SessionFinder:     f.sessions,
		SessionStarter:    f.sessions,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		AuthService:       &mockAuthService{},
		AuthConfig:        testAuthConfig,
		ItemService:       f.items,
		UserService:       &mockUserService{},
		CatalogService:    &mockCatalogService{},
		Upload:            testUploadConfig,
	})
	return f
}

// do はリクエストを送信する。sessionが空でなければセッションCookieを、
// csrfがtrueであればCSRFトークンを付与する。
func (f *routerFixture) do(method, target, session string, csrf bool) *httptest.ResponseRecorder {
	var req *http.Request
	if method == http.MethodPost || method == http.MethodPut {
		req = httptest.NewRequest(method, target, strings.NewReader(`{}`))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if session != "" {
		req.AddCookie(&http.Cookie{Name: "session_id", Value: session})
	}
	if csrf {
		req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "tok"})
		req.Header.Set("X-CSRF-Token", "tok")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestNewRouter_OperationalEndpoints(t *testing.T) {
	f := newRouterFixture(t)

	for _, path := range []string{"/health", "/metrics", "/api/csrf-token"} {
		t.Run(path, func(t *testing.T) {
			w := f.do(http.MethodGet, path, "", false)
			if w.Code != http.StatusOK {
				t.Errorf("GET %s status = %d, want %d", path, w.Code, http.StatusOK)
			}
		})
	}
}

func TestNewRouter_PublicRoutes_NoSessionRequired(t *testing.T) {
	f := newRouterFixture(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/market", http.StatusOK},
		{http.MethodGet, "/api/items/item-1", http.StatusOK},
		{http.MethodGet, "/api/owners/nobody", http.StatusNotFound},
		{http.MethodPost, "/api/reset-password", http.StatusAccepted},
		{http.MethodPost, "/api/logout", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := f.do(tt.method, tt.path, "", true)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestNewRouter_Register_StartsAnonymousSession(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(http.MethodPost, "/api/register", "", true)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if f.sessions.started != 1 {
		t.Errorf("anonymous sessions started = %d, want 1", f.sessions.started)
	}
	if c := sessionCookieFrom(t, w.Result()); c == nil || c.Value != "new-session" {
		t.Errorf("session cookie = %+v", c)
	}

	// 既存セッションがあれば新たに発行しない
	f.do(http.MethodGet, "/api/verification-sent", "new-session", false)
	if f.sessions.started != 1 {
		t.Errorf("anonymous sessions started = %d, want 1", f.sessions.started)
	}
}

func TestNewRouter_BrowsingDoesNotStartSessions(t *testing.T) {
	f := newRouterFixture(t)

	f.do(http.MethodGet, "/api/market?category=clothes", "", false)
	f.do(http.MethodGet, "/api/items/item-1", "", false)

	if f.sessions.started != 0 {
		t.Errorf("anonymous sessions started = %d, want 0", f.sessions.started)
	}
}

func TestNewRouter_ProtectedRoutes_RequireLogin(t *testing.T) {
	f := newRouterFixture(t)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/account"},
		{http.MethodPut, "/api/account"},
		{http.MethodPut, "/api/account/password"},
		{http.MethodDelete, "/api/users/user-1"},
		{http.MethodPost, "/api/items"},
		{http.MethodPut, "/api/items/item-1"},
		{http.MethodDelete, "/api/items/item-1"},
		{http.MethodPost, "/api/items/item-1/buy"},
		{http.MethodDelete, "/api/pictures/pic-1"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			w := f.do(rt.method, rt.path, "", true)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}

			// 匿名セッションではログイン扱いにならない
			w = f.do(rt.method, rt.path, "anon-session", true)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("anonymous session status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestNewRouter_MutatingRoutes_RequireCSRF(t *testing.T) {
	f := newRouterFixture(t)

	w := f.do(http.MethodPost, "/api/items/item-1/buy", "user-session", false)
	if w.Code != http.StatusForbidden {
		t.Errorf("without csrf status = %d, want %d", w.Code, http.StatusForbidden)
	}

	w = f.do(http.MethodPost, "/api/items/item-1/buy", "user-session", true)
	if w.Code != http.StatusOK {
		t.Errorf("with csrf status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_AuthenticatedRoutes(t *testing.T) {
	f := newRouterFixture(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/account", http.StatusOK},
		{http.MethodPut, "/api/account/password", http.StatusNoContent},
		{http.MethodDelete, "/api/items/item-1", http.StatusNoContent},
		{http.MethodDelete, "/api/pictures/pic-1", http.StatusNoContent},
		{http.MethodDelete, "/api/users/user-1", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := f.do(tt.method, tt.path, "user-session", true)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	// 公開のGETは認証済みでも同じハンドラーに届く
	w := f.do(http.MethodGet, "/api/items/item-1", "user-session", false)
	if w.Code != http.StatusOK {
		t.Errorf("GET /api/items/item-1 status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestNewRouter_SensitiveRoutes_RateLimited(t *testing.T) {
	f := newRouterFixture(t)

	var last int
	for i := 0; i < 6; i++ {
		last = f.do(http.MethodPost, "/api/resend-verification", "anon-session", true).Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("6th request status = %d, want %d", last, http.StatusTooManyRequests)
	}

	// 登録・ログインは別のリミッターで制限される
	if w := f.do(http.MethodPost, "/api/login", "", true); w.Code == http.StatusTooManyRequests {
		t.Error("login should not share the sensitive limit")
	}
}

func TestNewRouter_LoginRateLimited(t *testing.T) {
	f := newRouterFixture(t)

	var last int
	for i := 0; i < 11; i++ {
		last = f.do(http.MethodPost, "/api/login", "", true).Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("11th login status = %d, want %d", last, http.StatusTooManyRequests)
	}
}

func TestNewRouter_SecurityHeadersAndCORS(t *testing.T) {
	f := newRouterFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/market", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	h := w.Result().Header
	if h.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("X-Content-Type-Options should be set")
	}
	if h.Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", h.Get("Access-Control-Allow-Origin"))
	}
}

func TestNewRouter_StaticFiles(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "image_pics", "item-1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a1b2.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)
	sessions := newMockSessionStore()
	router := NewRouter(&RouterDeps{
		SessionFinder:  sessions,
		SessionStarter: sessions,
		RateLimiter:    rl,
		AuthService:    &mockAuthService{},
		ItemService:    &mockItemService{},
		UserService:    &mockUserService{},
		CatalogService: &mockCatalogService{},
		Upload:         testUploadConfig,
		StaticRoot:     root,
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/static/image_pics/item-1/a1b2.jpg", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Body.String() != "jpeg" {
		t.Errorf("body = %q, want %q", w.Body.String(), "jpeg")
	}
}
