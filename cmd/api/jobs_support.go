package main

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/melodyverse-auth/internal/auth"
	"github.com/yourusername/melodyverse-auth/internal/config"
	"github.com/yourusername/melodyverse-auth/internal/jobs"
	"github.com/yourusername/melodyverse-auth/internal/logger"
	"github.com/yourusername/melodyverse-auth/internal/mail"
	"github.com/yourusername/melodyverse-auth/internal/ratelimit"
	"github.com/yourusername/melodyverse-auth/internal/storage"
	"github.com/yourusername/melodyverse-auth/internal/storage/memory"
	mongostore "github.com/yourusername/melodyverse-auth/internal/storage/mongo"
)

// dependencies はリクエスト処理で共有する部品です。
type dependencies struct {
	users    storage.UserStore
	hasher   auth.PasswordHasher
	tokens   auth.TokenIssuer
	limiter  ratelimit.Limiter
	notifier auth.WelcomeNotifier

	pinger  func(ctx context.Context) error
	closers []func(ctx context.Context) error
	log     *logger.Logger
}

func setupDependencies(ctx context.Context, cfg *config.Config, log *logger.Logger) (*dependencies, error) {
	deps := &dependencies{log: log}

	if err := deps.setupUserStore(ctx, cfg); err != nil {
		return nil, err
	}

	hasher, err := auth.NewBcryptHasher(cfg.BcryptCost, cfg.HashConcurrency)
	if err != nil {
		deps.close(ctx)
		return nil, err
	}
	deps.hasher = hasher

	issuer, err := auth.NewJWTIssuer(cfg.JWTSecret, cfg.TokenTTL())
	if err != nil {
		deps.close(ctx)
		return nil, err
	}
	deps.tokens = issuer

	if err := deps.setupLimiter(ctx, cfg); err != nil {
		deps.close(ctx)
		return nil, err
	}
	if err := deps.setupNotifier(cfg); err != nil {
		deps.close(ctx)
		return nil, err
	}
	return deps, nil
}

func (d *dependencies) setupUserStore(ctx context.Context, cfg *config.Config) error {
	if cfg.MongoURI == "" {
		d.log.Warn("MONGO_URI is not set, using in-memory user store")
		d.users = memory.New()
		return nil
	}

	store, err := mongostore.Connect(ctx, mongostore.Options{
		URI:        cfg.MongoURI,
		Database:   cfg.MongoDatabase,
		Collection: cfg.MongoUsersCollection,
	})
	if err != nil {
		return err
	}
	d.log.Info("Connected to MongoDB", "database", cfg.MongoDatabase, "collection", cfg.MongoUsersCollection)
	d.users = store
	d.pinger = store.Ping
	d.closers = append(d.closers, store.Close)
	return nil
}

func (d *dependencies) setupLimiter(ctx context.Context, cfg *config.Config) error {
	limitCfg := ratelimit.Config{
		Window:      cfg.LoginRateWindow(),
		MaxAttempts: cfg.LoginRateMaxAttempts,
	}
	if cfg.RateLimitRedisURL == "" {
		d.limiter = ratelimit.NewMemory(limitCfg)
		return nil
	}

	rdb, err := newRedisClient(ctx, cfg.RateLimitRedisURL)
	if err != nil {
		return fmt.Errorf("rate limit redis: %w", err)
	}
	d.closers = append(d.closers, func(context.Context) error { return rdb.Close() })
	d.limiter = ratelimit.NewRedis(rdb, limitCfg)
	d.log.Info("Login rate limit uses shared redis counters")
	return nil
}

// setupNotifier は QUEUE_REDIS_URL があればキュー経由、なければ同期送信の通知を設定します。
func (d *dependencies) setupNotifier(cfg *config.Config) error {
	mailer := mail.NewLogMailer(d.log.With("component", "mailer"))
	if cfg.QueueRedisURL == "" {
		d.notifier = mail.NewDirect(mailer)
		return nil
	}

	redisClient, manager, err := setupJobs(cfg, mailer, d.log)
	if err != nil {
		return fmt.Errorf("mail queue: %w", err)
	}
	d.closers = append(d.closers, func(context.Context) error { return redisClient.Close() })
	manager.StartWorkers()
	d.notifier = manager
	d.closers = append(d.closers, manager.Shutdown)
	d.log.Info("Welcome mails are delivered through the job queue")
	return nil
}

func setupJobs(cfg *config.Config, mailer mail.Mailer, log *logger.Logger) (*redis.Client, *jobs.Manager, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, nil, err
	}

	redisClient := redis.NewClient(opt)
	store := jobs.NewStore(redisClient, cfg.MailJobTTL())
	manager, err := jobs.NewManager(cfg.QueueRedisURL, mailer, store, log.With("component", "jobs"))
	if err != nil {
		_ = redisClient.Close()
		return nil, nil, err
	}
	return redisClient, manager, nil
}

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func (d *dependencies) ping(ctx context.Context) error {
	if d.pinger == nil {
		return nil
	}
	return d.pinger(ctx)
}

// close は登録とは逆順に後始末を行います。
func (d *dependencies) close(ctx context.Context) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			d.log.Warn("Failed to close dependency", "error", err.Error())
		}
	}
	d.closers = nil
}
