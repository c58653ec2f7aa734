// Package users はログイン資格情報（ユーザーレコード）の永続化を提供します。
package users

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound は該当するユーザーが存在しないことを表します。
	ErrNotFound = errors.New("user not found")
	// ErrUsernameTaken はユーザー名が既に登録済みであることを表します。
	ErrUsernameTaken = errors.New("username already taken")
)

// User は資格情報レコードです。
// PasswordHash と Salt は必ず同じ導出で作られた組として保存します。
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Salt         string    `json:"-"`
	IsAdmin      bool      `json:"isAdmin"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Store はユーザーレコードの読み書きを行います。
type Store interface {
	LookupByUsername(ctx context.Context, username string) (*User, error)
	LookupByID(ctx context.Context, id string) (*User, error)
	Insert(ctx context.Context, user *User) (*User, error)
	// UpdateCredential はハッシュとソルトを1回の更新でまとめて置き換えます。
	UpdateCredential(ctx context.Context, id, hash, salt string) error
}
