// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// セッションストアの種類
const (
	SessionStoreCookie   = "cookie"
	SessionStorePostgres = "postgres"
	SessionStoreMemory   = "memory"
)

// MaxSessionAgeHours はセッション有効期限の上限です。
// Cookie の署名検証 (securecookie) は既定で 30 日を超えた値を拒否するため、これを超えて設定できない。
const MaxSessionAgeHours = 30 * 24

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// セッション設定
	SessionSecret      string // セッション署名用の秘密鍵
	SessionStore       string // cookie / postgres / memory
	SessionMaxAgeHours int    // セッションの絶対有効期限（時間）
	SessionIdleMinutes int    // 無操作タイムアウト（分、0で無効）

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// データストア設定
	DatabaseURL    string // Postgres 接続URL（空ならメモリ上のストアを使用）
	MigrateOnStart bool   // 起動時にマイグレーションを実行するか
	RedisURL       string // ログイン試行制限と監査キュー用のRedis接続URL

	// ユーザー設定
	AdminUsernames string // 管理者として登録するユーザー名（カンマ区切り）

	// ログ設定
	LogLevel  string // debug, info, warn, error
	LogFormat string // text, json
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// セッション設定
		SessionSecret:      getEnv("SESSION_SECRET", ""),
		SessionStore:       strings.ToLower(getEnv("SESSION_STORE", SessionStoreCookie)),
		SessionMaxAgeHours: getEnvAsInt("SESSION_MAX_AGE_HOURS", 30*24), // 30日
		SessionIdleMinutes: getEnvAsInt("SESSION_IDLE_MINUTES", 0),

		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// データストア設定
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		MigrateOnStart: getEnvAsBool("MIGRATE_ON_START", true),
		RedisURL:       getEnv("REDIS_URL", ""),

		// ユーザー設定
		AdminUsernames: getEnv("ADMIN_USERNAMES", ""),

		// ログ設定
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.SessionStore {
	case SessionStoreCookie, SessionStorePostgres, SessionStoreMemory:
	default:
		return fmt.Errorf("SESSION_STORE must be one of cookie, postgres, memory: %q", c.SessionStore)
	}

	if c.SessionStore == SessionStorePostgres && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when SESSION_STORE=postgres")
	}
	if c.SessionMaxAgeHours <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE_HOURS must be positive")
	}
	if c.SessionMaxAgeHours > MaxSessionAgeHours {
		return fmt.Errorf("SESSION_MAX_AGE_HOURS must not exceed %d", MaxSessionAgeHours)
	}
	if c.SessionIdleMinutes < 0 {
		return fmt.Errorf("SESSION_IDLE_MINUTES must not be negative")
	}

	// ローカル開発ではメモリ上のストアで動かせる
	// 本番環境では厳格にチェックする
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in release mode")
		}
		if c.SessionStore == SessionStoreMemory {
			return fmt.Errorf("SESSION_STORE=memory is not allowed in release mode")
		}
	}

	return nil
}

// SessionMaxAge はセッションの絶対有効期限を返します。
func (c *Config) SessionMaxAge() time.Duration {
	return time.Duration(c.SessionMaxAgeHours) * time.Hour
}

// SessionIdleTimeout は無操作タイムアウトを返します。0 は無効を表します。
func (c *Config) SessionIdleTimeout() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}

// IsAdminUsername は登録時に管理者フラグを立てるユーザー名かどうかを判定します。
func (c *Config) IsAdminUsername(username string) bool {
	for _, name := range splitList(c.AdminUsernames) {
		if name == username {
			return true
		}
	}
	return false
}

// AllowedOrigins は CORS 許可オリジンを配列で返します。
func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
