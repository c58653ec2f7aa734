package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-contrib/sessions/memstore"
	"github.com/gin-contrib/sessions/postgres"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/local-auth/internal/audit"
	"github.com/yourusername/local-auth/internal/auth"
	"github.com/yourusername/local-auth/internal/config"
	"github.com/yourusername/local-auth/internal/database"
	"github.com/yourusername/local-auth/internal/users"
)

// backends はプロセスが所有する接続とストアをまとめたものです。
type backends struct {
	pool  *pgxpool.Pool
	sqlDB *sql.DB
	redis *redis.Client

	users    users.Store
	events   audit.Store
	limiter  auth.Limiter
	recorder audit.Recorder
	auditMgr *audit.Manager
}

func setupBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backends, error) {
	b := &backends{}

	if cfg.DatabaseURL != "" {
		pool, err := database.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.pool = pool
		b.sqlDB = database.SQLDB(pool)

		if cfg.MigrateOnStart {
			if err := database.Migrate(ctx, b.sqlDB); err != nil {
				b.Close()
				return nil, err
			}
		}
		b.users = users.NewPostgresStore(pool)
		b.events = audit.NewPostgresStore(pool)
	} else {
		logger.Warn("DATABASE_URL is not set, using in-memory stores")
		b.users = users.NewMemoryStore()
		b.events = audit.NewMemoryStore(1000)
	}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		b.redis = redis.NewClient(opt)
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		b.limiter = auth.NewRedisLimiter(b.redis, auth.DefaultLimiterPolicy)

		manager, err := audit.NewManager(cfg.RedisURL, b.events, logger)
		if err != nil {
			b.Close()
			return nil, err
		}
		manager.StartWorkers()
		b.auditMgr = manager
		b.recorder = manager
	} else {
		b.limiter = auth.NewMemoryLimiter(auth.DefaultLimiterPolicy)
		b.recorder = audit.NewSyncRecorder(b.events, logger)
	}

	return b, nil
}

// Close は起動時と逆順に接続を閉じます。
func (b *backends) Close() {
	if b.auditMgr != nil {
		b.auditMgr.Shutdown()
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.sqlDB != nil {
		_ = b.sqlDB.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}

// newSessionStore は設定に応じたセッションストアを作成します。
func newSessionStore(cfg *config.Config, b *backends, logger *slog.Logger) (sessions.Store, error) {
	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		// 開発時のみ。再起動でセッションは無効になる
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		logger.Warn("SESSION_SECRET is not set, using an ephemeral key")
	}

	var store sessions.Store
	switch cfg.SessionStore {
	case config.SessionStorePostgres:
		if b.sqlDB == nil {
			return nil, fmt.Errorf("postgres session store requires a database")
		}
		pgStore, err := postgres.NewStore(b.sqlDB, secret)
		if err != nil {
			return nil, err
		}
		store = pgStore
	case config.SessionStoreMemory:
		store = memstore.NewStore(secret)
	default:
		store = cookie.NewStore(secret)
	}

	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge().Seconds()),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteLaxMode,
	})
	return store, nil
}
