// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/melodyverse-auth/internal/auth"
	"github.com/yourusername/melodyverse-auth/internal/config"
	"github.com/yourusername/melodyverse-auth/internal/logger"
	"github.com/yourusername/melodyverse-auth/internal/ratelimit"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		logger.NewStdout("info", "text").Fatal("Failed to load config", "error", err.Error())
	}

	log := logger.NewStdout(cfg.LogLevel, cfg.LogFormat)
	log.Info("Config loaded", "config", cfg)

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := setupDependencies(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize dependencies", "error", err.Error())
	}

	router, err := newRouter(cfg, log, deps)
	if err != nil {
		log.Fatal("Failed to configure router", "error", err.Error())
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("Starting API server", "addr", srv.Addr, "mode", cfg.GinMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", "error", err.Error())
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err.Error())
	}
	deps.close(shutdownCtx)
	log.Info("API server stopped")
}

// newRouter はミドルウェアとルーティングを設定した gin.Engine を返します。
func newRouter(cfg *config.Config, log *logger.Logger, deps *dependencies) (*gin.Engine, error) {
	router := gin.New()
	// 信用するプロキシが無い場合、ClientIP は接続元アドレスを返す
	if err := router.SetTrustedProxies(cfg.TrustedProxyList()); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	router.Use(gin.Recovery(), logger.Middleware(log))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		logger.RequestIDHeader,
	}
	// フロントエンドが試行回数制限の状態を読めるように公開
	corsConfig.ExposeHeaders = []string{
		"RateLimit-Limit",
		"RateLimit-Remaining",
		"RateLimit-Reset",
		"Retry-After",
		logger.RequestIDHeader,
	}
	router.Use(cors.New(corsConfig))

	setupRoutes(router, cfg, log, deps)
	return router, nil
}

// setupRoutes はヘルスチェックと認証 API の配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, log *logger.Logger, deps *dependencies) {
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "PONG")
	})
	router.GET("/health", handleHealth(deps))

	service := auth.NewService(deps.users, deps.hasher, deps.tokens, deps.notifier, log)
	handler := auth.NewHandler(service, auth.NewValidator(), log).
		WithMaxBodyBytes(int64(cfg.MaxBodyBytes))

	// 試行回数制限はログインのみ
	loginLimit := ratelimit.Middleware(deps.limiter, ratelimit.ClientIPKey, log)
	handler.RegisterRoutes(router.Group("/auth"), loginLimit)
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(deps *dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		storeStatus := "ok"
		if err := deps.ping(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			storeStatus = "unavailable"
		}
		c.JSON(status, gin.H{
			"status":  storeStatus,
			"service": "melodyverse-auth",
			"version": "0.1.0",
		})
	}
}
