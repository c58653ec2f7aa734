// Package password はパスワードのソルト付きハッシュ生成と検証を提供します。
//
// ハッシュは PBKDF2-HMAC-SHA512（10,000 回、64 バイト）で導出し、
// ソルト・ハッシュともに16進文字列として保存します。
package password

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize はランダムソルトのバイト数です。
	SaltSize = 32
	// Iterations は PBKDF2 の反復回数です。
	Iterations = 10000
	// KeyLength は導出するハッシュのバイト数です。
	KeyLength = 64
)

// ErrEmptyPassword は空のパスワードが渡されたときに返されます。
var ErrEmptyPassword = errors.New("password must not be empty")

// Credential は保存用のソルトとハッシュの組です。
// 両者は常にセットで扱い、別レコードと混在させてはいけません。
type Credential struct {
	Salt string
	Hash string
}

// Generate は新しいソルトを生成し、パスワードのハッシュを導出します。
func Generate(plaintext string) (Credential, error) {
	if plaintext == "" {
		return Credential{}, ErrEmptyPassword
	}

	buf := make([]byte, SaltSize)
	if _, err := rand.Read(buf); err != nil {
		return Credential{}, fmt.Errorf("failed to generate salt: %w", err)
	}
	salt := hex.EncodeToString(buf)

	return Credential{
		Salt: salt,
		Hash: derive(plaintext, salt),
	}, nil
}

// Verify は保存済みのソルトでハッシュを再計算し、保存済みハッシュと定数時間で比較します。
// 不一致はエラーではなく false を返します。
func Verify(plaintext, storedHash, storedSalt string) bool {
	if storedHash == "" || storedSalt == "" {
		return false
	}
	computed := derive(plaintext, storedSalt)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

// derive は16進文字列のソルトをそのままバイト列として PBKDF2 に渡します。
// 既存レコードとの互換性のため、ソルトはデコードしません。
func derive(plaintext, salt string) string {
	key := pbkdf2.Key([]byte(plaintext), []byte(salt), Iterations, KeyLength, sha512.New)
	return hex.EncodeToString(key)
}
