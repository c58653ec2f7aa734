package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/local-auth/internal/password"
	"github.com/yourusername/local-auth/internal/users"
)

var (
	// ErrUnknownUser はログイン時にユーザー名が存在しなかったことを表します。
	ErrUnknownUser = errors.New("unknown username")
	// ErrPasswordMismatch はパスワードが一致しなかったことを表します。
	ErrPasswordMismatch = errors.New("password mismatch")
	// ErrCurrentPasswordMismatch はパスワード変更時に現在のパスワードが一致しなかったことを表します。
	ErrCurrentPasswordMismatch = errors.New("current password mismatch")
)

// CredentialsError はログイン失敗を表します。
// 応答ではユーザー名の有無を区別せず、Reason はログと監査にのみ使います。
type CredentialsError struct {
	Reason    error
	Remaining int
}

func (e *CredentialsError) Error() string {
	return fmt.Sprintf("invalid credentials: %v", e.Reason)
}

func (e *CredentialsError) Unwrap() error {
	return e.Reason
}

// LockedError は試行回数の上限に達してロック中であることを表します。
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("login locked for %s", e.RetryAfter)
}

// InputError はリクエスト内容の不備を表します。
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return e.Message
}

// classify はエラーを HTTP ステータスとエラーコードに対応付けます。
func classify(err error) (int, string, string) {
	var (
		inputErr *InputError
		credErr  *CredentialsError
		lockErr  *LockedError
	)
	switch {
	case errors.As(err, &inputErr):
		return http.StatusBadRequest, "INVALID_INPUT", inputErr.Message
	case errors.Is(err, password.ErrEmptyPassword):
		return http.StatusBadRequest, "INVALID_INPUT", "パスワードを入力してください"
	case errors.Is(err, users.ErrUsernameTaken):
		return http.StatusConflict, "USERNAME_TAKEN", "このユーザー名は既に使われています"
	case errors.Is(err, ErrCurrentPasswordMismatch):
		return http.StatusForbidden, "INVALID_CURRENT_PASSWORD", "現在のパスワードが正しくありません"
	case errors.As(err, &credErr):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "ユーザー名またはパスワードが正しくありません"
	case errors.As(err, &lockErr):
		return http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "一定時間後に再度お試しください"
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "REQUEST_CANCELED", "リクエストがキャンセルされました"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "サーバー内部でエラーが発生しました"
	}
}

func respondWithError(c *gin.Context, err error) {
	status, code, message := classify(err)
	setRetryAfter(c, err)

	body := gin.H{
		"code":    code,
		"message": message,
	}
	var credErr *CredentialsError
	if errors.As(err, &credErr) {
		body["remainingAttempts"] = credErr.Remaining
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}

func respondWithText(c *gin.Context, err error) {
	status, _, message := classify(err)
	setRetryAfter(c, err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.Abort()
	c.String(status, message)
}

func setRetryAfter(c *gin.Context, err error) {
	var lockErr *LockedError
	if errors.As(err, &lockErr) {
		// Retry-After は秒数またはHTTP-Date形式が推奨されているため秒数で返す
		seconds := int64(lockErr.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.FormatInt(seconds, 10))
	}
}
