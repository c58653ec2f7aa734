package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-contrib/sessions/memstore"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/local-auth/internal/audit"
	"github.com/yourusername/local-auth/internal/auth"
	"github.com/yourusername/local-auth/internal/config"
	"github.com/yourusername/local-auth/internal/users"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		SessionMaxAgeHours: 24,
		AdminUsernames:     "root",
		CORSAllowedOrigins: "http://localhost:3000",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := audit.NewMemoryStore(100)

	manager, err := auth.NewManager(cfg, users.NewMemoryStore(), auth.NewMemoryLimiter(auth.DefaultLimiterPolicy), audit.NewSyncRecorder(events, logger), logger)
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	router := newRouter(cfg, logger, memstore.NewStore([]byte("test-secret")), manager, events)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

// newClient はリダイレクトを追わず Cookie を保持するクライアントを返します。
func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New returned error: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func postForm(t *testing.T, client *http.Client, target string, values url.Values) *http.Response {
	t.Helper()
	resp, err := client.PostForm(target, values)
	if err != nil {
		t.Fatalf("POST %s failed: %v", target, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, client *http.Client, target string) (*http.Response, string) {
	t.Helper()
	resp, err := client.Get(target)
	if err != nil {
		t.Fatalf("GET %s failed: %v", target, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return resp, string(body)
}

func registerAndLogin(t *testing.T, srv *httptest.Server, client *http.Client, username, pw string) {
	t.Helper()
	creds := url.Values{"uname": {username}, "pw": {pw}}

	resp := postForm(t, client, srv.URL+"/register", creds)
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/login" {
		t.Fatalf("register: expected redirect to /login, got %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	resp = postForm(t, client, srv.URL+"/login", creds)
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/login-success" {
		t.Fatalf("login: expected redirect to /login-success, got %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, body := get(t, newClient(t), srv.URL+"/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload map[string]string
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("expected status ok, got %q", payload["status"])
	}
}

func TestPagesServeHTML(t *testing.T) {
	srv := newTestServer(t)
	client := newClient(t)

	for path, marker := range map[string]string{
		"/":              "<h1>Home</h1>",
		"/login":         `action="/login"`,
		"/register":      `action="/register"`,
		"/login-success": "/protected-route",
		"/login-failure": "wrong password",
	} {
		resp, body := get(t, client, srv.URL+path)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
		if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
			t.Fatalf("%s: unexpected content type %q", path, resp.Header.Get("Content-Type"))
		}
		if !strings.Contains(body, marker) {
			t.Fatalf("%s: body does not contain %q", path, marker)
		}
	}
}

func TestProtectedRouteFlow(t *testing.T) {
	srv := newTestServer(t)
	client := newClient(t)

	resp, _ := get(t, client, srv.URL+"/protected-route")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 before login, got %d", resp.StatusCode)
	}

	registerAndLogin(t, srv, client, "alice", "s3cret")

	resp, body := get(t, client, srv.URL+"/protected-route")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after login, got %d", resp.StatusCode)
	}
	if body != "You made it to the protected route!" {
		t.Fatalf("unexpected body %q", body)
	}

	resp, _ = get(t, client, srv.URL+"/admin-route")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", resp.StatusCode)
	}

	resp, _ = get(t, client, srv.URL+"/logout")
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/protected-route" {
		t.Fatalf("logout: unexpected response %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	resp, _ = get(t, client, srv.URL+"/protected-route")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestAdminEvents(t *testing.T) {
	srv := newTestServer(t)

	admin := newClient(t)
	registerAndLogin(t, srv, admin, "root", "toor")

	resp, body := get(t, admin, srv.URL+"/admin-route")
	if resp.StatusCode != http.StatusOK || body != "You made it to the admin route!" {
		t.Fatalf("admin-route: unexpected response %d %q", resp.StatusCode, body)
	}

	resp, body = get(t, admin, srv.URL+"/api/admin/events?limit=10")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var payload struct {
		Events []audit.Event `json:"events"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(payload.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(payload.Events))
	}
	// 新しい順
	if payload.Events[0].Kind != audit.KindLoginSucceeded || payload.Events[1].Kind != audit.KindRegister {
		t.Fatalf("unexpected event order: %s, %s", payload.Events[0].Kind, payload.Events[1].Kind)
	}

	resp, _ = get(t, admin, srv.URL+"/api/admin/events?limit=abc")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid limit, got %d", resp.StatusCode)
	}

	user := newClient(t)
	registerAndLogin(t, srv, user, "bob", "hunter2")
	resp, _ = get(t, user, srv.URL+"/api/admin/events")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", resp.StatusCode)
	}
}
