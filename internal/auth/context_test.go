package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/local-auth/internal/users"
)

func TestUserFromContext(t *testing.T) {
	if _, ok := UserFromContext(context.Background()); ok {
		t.Fatal("empty context should not carry a user")
	}

	user := &users.User{ID: "u-1", Username: "alice"}
	got, ok := UserFromContext(WithUser(context.Background(), user))
	if !ok || got.ID != "u-1" {
		t.Fatalf("unexpected user: %#v ok=%v", got, ok)
	}

	if _, ok := UserFromContext(WithUser(context.Background(), nil)); ok {
		t.Fatal("nil user should not count as authenticated")
	}
}

func TestSetCurrentUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)

	if _, ok := CurrentUser(c); ok {
		t.Fatal("unexpected user before setCurrentUser")
	}

	setCurrentUser(c, &users.User{ID: "u-2", Username: "bob"})

	if user, ok := CurrentUser(c); !ok || user.Username != "bob" {
		t.Fatalf("unexpected gin user: %#v", user)
	}
	if user, ok := UserFromContext(c.Request.Context()); !ok || user.ID != "u-2" {
		t.Fatalf("unexpected request context user: %#v", user)
	}
}
