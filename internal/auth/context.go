package auth

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/local-auth/internal/users"
)

// ContextUserKey は、ハンドラー間でログイン済みユーザーを共有するためのキーです。
const ContextUserKey = "auth.user"

type userContextKey struct{}

// WithUser はログイン済みユーザーを持つ context を返します。
func WithUser(ctx context.Context, user *users.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext は RequireLogin が設定したユーザーを取り出します。
func UserFromContext(ctx context.Context) (*users.User, bool) {
	user, ok := ctx.Value(userContextKey{}).(*users.User)
	return user, ok && user != nil
}

// CurrentUser は gin.Context からログイン済みユーザーを取り出します。
func CurrentUser(c *gin.Context) (*users.User, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*users.User)
	return user, ok && user != nil
}

func setCurrentUser(c *gin.Context, user *users.User) {
	c.Set(ContextUserKey, user)
	c.Request = c.Request.WithContext(WithUser(c.Request.Context(), user))
}
