// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/local-auth/internal/audit"
	"github.com/yourusername/local-auth/internal/auth"
	"github.com/yourusername/local-auth/internal/config"
	"github.com/yourusername/local-auth/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// DB・Redis などのバックエンドを初期化（終了時にまとめて閉じる）
	b, err := setupBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	sessionStore, err := newSessionStore(cfg, b, logger)
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}

	authManager, err := auth.NewManager(cfg, b.users, b.limiter, b.recorder, logger)
	if err != nil {
		return err
	}

	router := newRouter(cfg, logger, sessionStore, authManager, b.events)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting API server", "addr", srv.Addr, "mode", cfg.GinMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newRouter はミドルウェアとルーティングを設定した Gin エンジンを返します。
func newRouter(cfg *config.Config, logger *slog.Logger, store sessions.Store, authManager *auth.Manager, events audit.Store) *gin.Engine {
	router := gin.New()
	router.Use(logging.GinMiddleware(logger), gin.Recovery())

	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins()
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token"}
	router.Use(cors.New(corsConfig))

	setupRoutes(router, authManager, events)
	return router
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "local-auth-api",
		"version": "0.1.0",
	})
}

// setupRoutes は HTML 画面・API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, authManager *auth.Manager, events audit.Store) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	// フォームで操作する画面
	router.GET("/", htmlPage(homePage))
	router.GET("/login", htmlPage(loginPage))
	router.GET("/register", htmlPage(registerPage))
	router.GET("/login-success", htmlPage(loginSuccessPage))
	router.GET("/login-failure", htmlPage(loginFailurePage))
	router.POST("/register", authManager.RegisterForm)
	router.POST("/login", authManager.LoginForm)
	// 本来は POST にすべきだが、リンクから辿れるよう GET も受け付ける
	router.GET("/logout", authManager.LogoutRedirect)

	router.GET("/protected-route", authManager.RequireLogin(), func(c *gin.Context) {
		c.String(http.StatusOK, "You made it to the protected route!")
	})
	router.GET("/admin-route", authManager.RequireLogin(), authManager.RequireAdmin(), func(c *gin.Context) {
		c.String(http.StatusOK, "You made it to the admin route!")
	})

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			// 登録・ログイン時はセッション未生成なので CSRF 検証は不要
			authRoutes.POST("/register", authManager.Register)
			authRoutes.POST("/login", authManager.Login)
			authRoutes.POST("/logout",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.Logout,
			)
			authRoutes.GET("/me", authManager.RequireLogin(), authManager.Me)
			authRoutes.PUT("/password",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.ChangePassword,
			)
		}

		admin := api.Group("/admin")
		admin.Use(authManager.RequireLogin(), authManager.RequireAdmin())
		{
			admin.GET("/events", eventsHandler(events))
		}
	}
}
