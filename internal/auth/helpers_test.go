package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/memstore"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/local-auth/internal/audit"
	"github.com/yourusername/local-auth/internal/config"
	"github.com/yourusername/local-auth/internal/users"
)

type stubStore struct {
	*users.MemoryStore
	lookupByIDErr error
}

func (s *stubStore) LookupByID(ctx context.Context, id string) (*users.User, error) {
	if s.lookupByIDErr != nil {
		return nil, s.lookupByIDErr
	}
	return s.MemoryStore.LookupByID(ctx, id)
}

type testEnv struct {
	manager *Manager
	store   *stubStore
	events  *audit.MemoryStore
	router  *gin.Engine
}

func newTestEnv(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if cfg == nil {
		cfg = &config.Config{SessionMaxAgeHours: 24, AdminUsernames: "root"}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &stubStore{MemoryStore: users.NewMemoryStore()}
	events := audit.NewMemoryStore(100)

	manager, err := NewManager(cfg, store, NewMemoryLimiter(DefaultLimiterPolicy), audit.NewSyncRecorder(events, logger), logger)
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	router := gin.New()
	router.Use(sessions.Sessions(SessionCookieName, memstore.NewStore([]byte("test-secret"))))

	router.POST("/register", manager.RegisterForm)
	router.POST("/login", manager.LoginForm)
	router.GET("/logout", manager.LogoutRedirect)
	router.GET("/protected-route", manager.RequireLogin(), func(c *gin.Context) {
		user, ok := UserFromContext(c.Request.Context())
		if !ok {
			c.String(http.StatusInternalServerError, "no user in context")
			return
		}
		c.String(http.StatusOK, "ok "+user.Username)
	})
	router.GET("/admin-route", manager.RequireLogin(), manager.RequireAdmin(), func(c *gin.Context) {
		c.String(http.StatusOK, "admin")
	})

	api := router.Group("/api/auth")
	api.POST("/register", manager.Register)
	api.POST("/login", manager.Login)
	api.POST("/logout", manager.RequireLogin(), manager.VerifyCSRF(), manager.Logout)
	api.GET("/me", manager.RequireLogin(), manager.Me)
	api.PUT("/password", manager.RequireLogin(), manager.VerifyCSRF(), manager.ChangePassword)

	return &testEnv{manager: manager, store: store, events: events, router: router}
}

// client はリクエスト間で Cookie と CSRF トークンを引き継ぎます。
type client struct {
	t       *testing.T
	router  *gin.Engine
	cookies map[string]*http.Cookie
	csrf    string
}

func (e *testEnv) newClient(t *testing.T) *client {
	return &client{t: t, router: e.router, cookies: make(map[string]*http.Cookie)}
}

func (cl *client) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	cl.t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, ck := range cl.cookies {
		req.AddCookie(ck)
	}
	if cl.csrf != "" {
		req.Header.Set(csrfHeader, cl.csrf)
	}

	rec := httptest.NewRecorder()
	cl.router.ServeHTTP(rec, req)

	for _, ck := range rec.Result().Cookies() {
		if ck.MaxAge < 0 || ck.Value == "" {
			delete(cl.cookies, ck.Name)
			continue
		}
		cl.cookies[ck.Name] = ck
	}
	return rec
}

func (cl *client) get(path string) *httptest.ResponseRecorder {
	return cl.do(http.MethodGet, path, nil, "")
}

func (cl *client) form(path, uname, pw string) *httptest.ResponseRecorder {
	values := url.Values{}
	values.Set("uname", uname)
	values.Set("pw", pw)
	return cl.do(http.MethodPost, path, strings.NewReader(values.Encode()), "application/x-www-form-urlencoded")
}

func (cl *client) json(method, path string, payload any) *httptest.ResponseRecorder {
	cl.t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		cl.t.Fatalf("failed to marshal payload: %v", err)
	}
	return cl.do(method, path, bytes.NewReader(body), "application/json")
}

// loginAPI は JSON API でログインし、CSRF トークンを保持します。
func (cl *client) loginAPI(uname, pw string) {
	cl.t.Helper()
	rec := cl.json(http.MethodPost, "/api/auth/login", map[string]string{"uname": uname, "pw": pw})
	if rec.Code != http.StatusNoContent {
		cl.t.Fatalf("login failed: %d body=%s", rec.Code, rec.Body.String())
	}
	cl.csrf = rec.Header().Get(csrfHeader)
	if cl.csrf == "" {
		cl.t.Fatal("expected X-CSRF-Token header")
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v body=%s", err, rec.Body.String())
	}
	return payload
}

func (e *testEnv) eventKinds(t *testing.T) []audit.Kind {
	t.Helper()
	events, err := e.events.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("failed to read events: %v", err)
	}
	kinds := make([]audit.Kind, 0, len(events))
	// Recent は新しい順なので古い順に並べ直す
	for i := len(events) - 1; i >= 0; i-- {
		kinds = append(kinds, events[i].Kind)
	}
	return kinds
}
