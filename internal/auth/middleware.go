package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/local-auth/internal/users"
)

// RequireLogin はセッションを検証し、ログイン済みユーザーをコンテキストに設定するミドルウェアを返します。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		userID, err := m.resolveSession(session)
		if err != nil {
			if !errors.Is(err, errNoSession) {
				_ = m.destroySession(session)
			}
			switch {
			case errors.Is(err, errSessionExpired):
				abortUnauthorized(c, "SESSION_EXPIRED", "セッションの有効期限が切れました")
			case errors.Is(err, errSessionIdle):
				abortUnauthorized(c, "SESSION_IDLE_TIMEOUT", "しばらく操作がなかったため再ログインしてください")
			default:
				abortUnauthorized(c, "UNAUTHORIZED", "ログインが必要です")
			}
			return
		}

		user, err := m.store.LookupByID(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, users.ErrNotFound) {
				// 削除済みユーザーのセッションは無効にする
				_ = m.destroySession(session)
				abortUnauthorized(c, "UNAUTHORIZED", "ログインが必要です")
				return
			}
			respondWithError(c, err)
			return
		}

		// 別のセッションでパスワードが変更されていたら無効にする
		if err := m.checkCredential(session, user); err != nil {
			_ = m.destroySession(session)
			abortUnauthorized(c, "SESSION_REVOKED", "パスワードが変更されたため再ログインしてください")
			return
		}

		if m.idleTimeout > 0 {
			session.Set(sessionKeyLastActive, m.now().Unix())
			if err := session.Save(); err != nil {
				m.logger.WarnContext(c.Request.Context(), "failed to refresh session activity", "error", err)
			}
		}
		setCurrentUser(c, user)
		c.Next()
	}
}

// RequireAdmin は管理者フラグを確認するミドルウェアです。RequireLogin の後に置きます。
func (m *Manager) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			abortUnauthorized(c, "UNAUTHORIZED", "ログインが必要です")
			return
		}
		if !user.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "FORBIDDEN",
				"message": "管理者のみアクセスできます",
			})
			return
		}
		c.Next()
	}
}

// VerifyCSRF は X-CSRF-Token ヘッダーを検証するミドルウェアです。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		session := sessions.Default(c)
		expected, ok := session.Get(sessionKeyCSRF).(string)
		if !ok || expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_MISSING",
				"message": "CSRF トークンが設定されていません",
			})
			return
		}

		received := c.GetHeader(csrfHeader)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_INVALID",
				"message": "CSRF トークンが一致しません",
			})
			return
		}

		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    code,
		"message": message,
	})
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
