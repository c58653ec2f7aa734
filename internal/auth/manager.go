// Package auth は認証・認可機能を提供します。
//
// ユーザー登録、ログイン（パスワード検証とセッション発行）、ログアウト、
// ログイン必須・管理者必須のミドルウェアを gin 向けに実装しています。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"

	"github.com/yourusername/local-auth/internal/audit"
	"github.com/yourusername/local-auth/internal/config"
	"github.com/yourusername/local-auth/internal/password"
	"github.com/yourusername/local-auth/internal/users"
)

const (
	SessionCookieName    = "la_session"
	sessionKeyUserID     = "auth_user_id"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
	sessionKeyCSRF       = "csrf_token"
	sessionKeyCredential = "credential_stamp"

	// パスワード変更の試行回数はログインとは別のキーで数える
	passwordLimiterPrefix = "password:"

	csrfHeader = "X-CSRF-Token"
)

var (
	errNoSession      = errors.New("no session")
	errSessionExpired = errors.New("session expired")
	errSessionIdle    = errors.New("session idle timeout")
	errSessionRevoked = errors.New("session revoked")
)

// Manager は認証処理と状態をまとめた構造体です。
type Manager struct {
	cfg         *config.Config
	store       users.Store
	limiter     Limiter
	recorder    audit.Recorder
	logger      *slog.Logger
	now         func() time.Time
	maxLifetime time.Duration
	idleTimeout time.Duration
}

// NewManager は認証マネージャーを作成します。
// limiter と recorder は nil でもよく、その場合はメモリ上の制限のみ・記録なしで動作します。
func NewManager(cfg *config.Config, store users.Store, limiter Limiter, recorder audit.Recorder, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if limiter == nil {
		limiter = NewMemoryLimiter(DefaultLimiterPolicy)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:         cfg,
		store:       store,
		limiter:     limiter,
		recorder:    recorder,
		logger:      logger.With("component", "auth"),
		now:         time.Now,
		maxLifetime: cfg.SessionMaxAge(),
		idleTimeout: cfg.SessionIdleTimeout(),
	}, nil
}

type credentials struct {
	Username string `form:"uname" json:"uname" binding:"required"`
	Password string `form:"pw" json:"pw" binding:"required"`
}

// register はパスワードからソルトとハッシュを生成し、ユーザーを保存します。
func (m *Manager) register(ctx context.Context, ip string, creds credentials) (*users.User, error) {
	username := normalizeUsername(creds.Username)
	if username == "" {
		return nil, &InputError{Message: "ユーザー名を入力してください"}
	}

	cred, err := password.Generate(creds.Password)
	if err != nil {
		return nil, err
	}

	user, err := m.store.Insert(ctx, &users.User{
		Username:     username,
		PasswordHash: cred.Hash,
		Salt:         cred.Salt,
		IsAdmin:      m.cfg.IsAdminUsername(username),
	})
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "user registered", "user_id", user.ID, "admin", user.IsAdmin)
	m.record(ctx, audit.Event{Kind: audit.KindRegister, Username: user.Username, UserID: user.ID, ClientIP: ip})
	return user, nil
}

// authenticate はユーザー名とパスワードを検証します。
// 未登録ユーザーとパスワード不一致はどちらも *CredentialsError になります。
func (m *Manager) authenticate(ctx context.Context, ip string, creds credentials) (*users.User, error) {
	retryAfter, err := m.limiter.Check(ctx, ip)
	if err != nil {
		// 制限ストアの障害でログインを止めない
		m.logger.WarnContext(ctx, "login limiter check failed", "error", err)
	}
	if retryAfter > 0 {
		return nil, &LockedError{RetryAfter: retryAfter}
	}

	username := normalizeUsername(creds.Username)
	user, err := m.store.LookupByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, m.loginFailed(ctx, ip, username, "", ErrUnknownUser)
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if !password.Verify(creds.Password, user.PasswordHash, user.Salt) {
		return nil, m.loginFailed(ctx, ip, user.Username, user.ID, ErrPasswordMismatch)
	}

	if err := m.limiter.Reset(ctx, ip); err != nil {
		m.logger.WarnContext(ctx, "login limiter reset failed", "error", err)
	}
	m.record(ctx, audit.Event{Kind: audit.KindLoginSucceeded, Username: user.Username, UserID: user.ID, ClientIP: ip})
	return user, nil
}

func (m *Manager) loginFailed(ctx context.Context, ip, username, userID string, reason error) error {
	remaining, err := m.limiter.Fail(ctx, ip)
	if err != nil {
		m.logger.WarnContext(ctx, "login limiter update failed", "error", err)
	}

	m.logger.InfoContext(ctx, "login failed", "reason", reason.Error(), "client_ip", ip, "remaining", remaining)
	m.record(ctx, audit.Event{Kind: audit.KindLoginFailed, Username: username, UserID: userID, ClientIP: ip, Detail: reason.Error()})
	if err == nil && remaining == 0 {
		m.record(ctx, audit.Event{Kind: audit.KindLoginLocked, Username: username, UserID: userID, ClientIP: ip})
	}
	return &CredentialsError{Reason: reason, Remaining: remaining}
}

// changePassword は現在のパスワードを確認してからハッシュとソルトを置き換え、新しい資格情報を返します。
// 現在のパスワードの照合はユーザーごとに試行回数を制限します。
func (m *Manager) changePassword(ctx context.Context, ip string, user *users.User, current, next string) (password.Credential, error) {
	key := passwordLimiterPrefix + user.ID

	retryAfter, err := m.limiter.Check(ctx, key)
	if err != nil {
		m.logger.WarnContext(ctx, "password limiter check failed", "error", err)
	}
	if retryAfter > 0 {
		return password.Credential{}, &LockedError{RetryAfter: retryAfter}
	}

	if !password.Verify(current, user.PasswordHash, user.Salt) {
		remaining, err := m.limiter.Fail(ctx, key)
		if err != nil {
			m.logger.WarnContext(ctx, "password limiter update failed", "error", err)
		}
		m.logger.InfoContext(ctx, "password change rejected", "user_id", user.ID, "client_ip", ip, "remaining", remaining)
		return password.Credential{}, ErrCurrentPasswordMismatch
	}

	cred, err := password.Generate(next)
	if err != nil {
		return password.Credential{}, err
	}
	if err := m.store.UpdateCredential(ctx, user.ID, cred.Hash, cred.Salt); err != nil {
		return password.Credential{}, fmt.Errorf("failed to update credential: %w", err)
	}
	if err := m.limiter.Reset(ctx, key); err != nil {
		m.logger.WarnContext(ctx, "password limiter reset failed", "error", err)
	}

	m.record(ctx, audit.Event{Kind: audit.KindPasswordChanged, Username: user.Username, UserID: user.ID, ClientIP: ip})
	return cred, nil
}

// startSession はログイン済みセッションを作成し、CSRF トークンを返します。
func (m *Manager) startSession(session sessions.Session, user *users.User) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate csrf token: %w", err)
	}

	now := m.now()
	session.Clear()
	session.Set(sessionKeyUserID, user.ID)
	session.Set(sessionKeyIssuedAt, now.Unix())
	session.Set(sessionKeyLastActive, now.Unix())
	session.Set(sessionKeyCSRF, token)
	session.Set(sessionKeyCredential, credentialStamp(user.Salt))

	if err := session.Save(); err != nil {
		return "", fmt.Errorf("failed to save session: %w", err)
	}
	return token, nil
}

// checkCredential はセッション発行後にパスワードが変更されていないかを確認します。
func (m *Manager) checkCredential(session sessions.Session, user *users.User) error {
	stamp, _ := session.Get(sessionKeyCredential).(string)
	if stamp == "" || stamp != credentialStamp(user.Salt) {
		return errSessionRevoked
	}
	return nil
}

// resolveSession はセッションからユーザーIDを取り出し、有効期限を確認します。
func (m *Manager) resolveSession(session sessions.Session) (string, error) {
	userID, ok := session.Get(sessionKeyUserID).(string)
	if !ok || userID == "" {
		return "", errNoSession
	}

	now := m.now()
	issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
	if issuedAt.IsZero() || now.Sub(issuedAt) > m.maxLifetime {
		return "", errSessionExpired
	}

	if m.idleTimeout > 0 {
		lastActive := readUnix(session.Get(sessionKeyLastActive))
		if lastActive.IsZero() || now.Sub(lastActive) > m.idleTimeout {
			return "", errSessionIdle
		}
	}
	return userID, nil
}

// destroySession はセッションを破棄します。サーバー側ストアのレコードも削除されます。
func (m *Manager) destroySession(session sessions.Session) error {
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	return session.Save()
}

func (m *Manager) record(ctx context.Context, event audit.Event) {
	if m.recorder == nil {
		return
	}
	m.recorder.Record(ctx, event)
}

// normalizeUsername は登録時とログイン時で同じ形にユーザー名を揃えます。
func normalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

// credentialStamp はソルトから短い識別子を作ります。ソルトはパスワード変更のたびに作り直される。
func credentialStamp(salt string) string {
	sum := sha256.Sum256([]byte(salt))
	return hex.EncodeToString(sum[:8])
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}
