package auth

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/local-auth/internal/audit"
	"github.com/yourusername/local-auth/internal/users"
)

// HTML フォームの遷移先
const (
	LoginPagePath    = "/login"
	LoginSuccessPath = "/login-success"
	LoginFailurePath = "/login-failure"
	AfterLogoutPath  = "/protected-route"
)

// Register は /api/auth/register のハンドラーです。
func (m *Manager) Register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "uname と pw を送ってください",
		})
		return
	}

	user, err := m.register(c.Request.Context(), c.ClientIP(), req)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":       user.ID,
		"username": user.Username,
		"isAdmin":  user.IsAdmin,
	})
}

// RegisterForm は POST /register（HTML フォーム）のハンドラーです。登録後はログイン画面へ戻します。
func (m *Manager) RegisterForm(c *gin.Context) {
	var req credentials
	if err := c.ShouldBind(&req); err != nil {
		c.String(http.StatusBadRequest, "ユーザー名とパスワードを入力してください")
		return
	}

	if _, err := m.register(c.Request.Context(), c.ClientIP(), req); err != nil {
		respondWithText(c, err)
		return
	}
	c.Redirect(http.StatusFound, LoginPagePath)
}

// Login は /api/auth/login のハンドラーです。
func (m *Manager) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "uname と pw を送ってください",
		})
		return
	}

	user, err := m.authenticate(c.Request.Context(), c.ClientIP(), req)
	if err != nil {
		respondWithError(c, err)
		return
	}

	token, err := m.startSession(sessions.Default(c), user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの保存に失敗しました",
		})
		return
	}

	c.Header(csrfHeader, token)
	c.Status(http.StatusNoContent)
}

// LoginForm は POST /login（HTML フォーム）のハンドラーです。
// 成否に応じて /login-success か /login-failure へリダイレクトします。
func (m *Manager) LoginForm(c *gin.Context) {
	var req credentials
	if err := c.ShouldBind(&req); err != nil {
		c.Redirect(http.StatusFound, LoginFailurePath)
		return
	}

	user, err := m.authenticate(c.Request.Context(), c.ClientIP(), req)
	if err != nil {
		var credErr *CredentialsError
		if errors.As(err, &credErr) {
			c.Redirect(http.StatusFound, LoginFailurePath)
			return
		}
		respondWithText(c, err)
		return
	}

	if _, err := m.startSession(sessions.Default(c), user); err != nil {
		_ = c.Error(err)
		c.String(http.StatusInternalServerError, "セッションの保存に失敗しました")
		return
	}
	c.Redirect(http.StatusFound, LoginSuccessPath)
}

// Logout は /api/auth/logout のハンドラーです。
func (m *Manager) Logout(c *gin.Context) {
	if !m.logout(c) {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの削除に失敗しました",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// LogoutRedirect は GET /logout のハンドラーです。未ログインでもエラーにしません。
func (m *Manager) LogoutRedirect(c *gin.Context) {
	if !m.logout(c) {
		c.String(http.StatusInternalServerError, "セッションの削除に失敗しました")
		return
	}
	c.Redirect(http.StatusFound, AfterLogoutPath)
}

func (m *Manager) logout(c *gin.Context) bool {
	session := sessions.Default(c)
	userID, _ := session.Get(sessionKeyUserID).(string)
	username := m.sessionUsername(c, userID)

	if err := m.destroySession(session); err != nil {
		_ = c.Error(err)
		return false
	}

	if userID != "" {
		m.record(c.Request.Context(), audit.Event{Kind: audit.KindLogout, Username: username, UserID: userID, ClientIP: c.ClientIP()})
	}
	return true
}

// Me は /api/auth/me のハンドラーです。RequireLogin の後に置きます。
func (m *Manager) Me(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		abortUnauthorized(c, "UNAUTHORIZED", "ログインが必要です")
		return
	}

	if token, ok := sessions.Default(c).Get(sessionKeyCSRF).(string); ok {
		c.Header(csrfHeader, token)
	}
	c.JSON(http.StatusOK, gin.H{
		"id":        user.ID,
		"username":  user.Username,
		"isAdmin":   user.IsAdmin,
		"createdAt": user.CreatedAt,
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

// ChangePassword は /api/auth/password のハンドラーです。RequireLogin と VerifyCSRF の後に置きます。
func (m *Manager) ChangePassword(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		abortUnauthorized(c, "UNAUTHORIZED", "ログインが必要です")
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "currentPassword と newPassword を JSON で送ってください",
		})
		return
	}

	cred, err := m.changePassword(c.Request.Context(), c.ClientIP(), user, req.CurrentPassword, req.NewPassword)
	if err != nil {
		respondWithError(c, err)
		return
	}

	// 変更したセッション自体は引き続き使えるようにする
	session := sessions.Default(c)
	session.Set(sessionKeyCredential, credentialStamp(cred.Salt))
	if err := session.Save(); err != nil {
		m.logger.WarnContext(c.Request.Context(), "failed to refresh session credential", "error", err)
	}
	c.Status(http.StatusNoContent)
}

// sessionUsername は監査記録用にユーザー名を解決します。GET /logout は RequireLogin を通らないため、必要ならストアを引きます。
func (m *Manager) sessionUsername(c *gin.Context, userID string) string {
	if user, ok := CurrentUser(c); ok {
		return user.Username
	}
	if userID == "" {
		return ""
	}
	user, err := m.store.LookupByID(c.Request.Context(), userID)
	if err != nil {
		if !errors.Is(err, users.ErrNotFound) {
			m.logger.WarnContext(c.Request.Context(), "failed to look up user for logout", "error", err)
		}
		return ""
	}
	return user.Username
}
