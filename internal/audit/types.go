// Package audit は認証イベント（登録・ログイン・ログアウトなど）の記録を提供します。
package audit

import (
	"context"
	"time"
)

// Kind はイベントの種別を表します。
type Kind string

const (
	KindRegister        Kind = "register"
	KindLoginSucceeded  Kind = "login_succeeded"
	KindLoginFailed     Kind = "login_failed"
	KindLoginLocked     Kind = "login_locked"
	KindLogout          Kind = "logout"
	KindPasswordChanged Kind = "password_changed"
)

// Event は1件の認証イベントです。
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Username  string    `json:"username"`
	UserID    string    `json:"userId,omitempty"`
	ClientIP  string    `json:"clientIp,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Recorder はイベントを記録します。記録の失敗はリクエストを失敗させません。
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// Store はイベントを永続化します。
type Store interface {
	Insert(ctx context.Context, event *Event) error
	// Recent は新しい順に最大 limit 件を返します。
	Recent(ctx context.Context, limit int) ([]Event, error)
}
