// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// リクエスト設定
	TrustedProxies string // X-Forwarded-For を信用するプロキシ（カンマ区切りのIP/CIDR、空なら信用しない）
	MaxBodyBytes   int    // リクエストボディの上限（バイト）

	// トークン/パスワード設定
	JWTSecret       string // トークン署名用の秘密鍵（ログ出力禁止）
	TokenTTLHours   int    // トークンの有効期間（時間）
	BcryptCost      int    // bcrypt のコストパラメータ
	HashConcurrency int    // 同時に実行するハッシュ計算の上限（0 の場合は GOMAXPROCS）

	// データストア設定
	MongoURI             string // MongoDB 接続文字列（空の場合はインメモリストア）
	MongoDatabase        string // データベース名
	MongoUsersCollection string // ユーザーコレクション名

	// ログイン試行制限
	LoginRateWindowMinutes int    // 固定ウィンドウの長さ（分）
	LoginRateMaxAttempts   int    // ウィンドウ内で許可する試行回数
	RateLimitRedisURL      string // 共有カウンタ用Redis URL（空の場合はプロセス内）

	// ジョブ/キュー設定
	QueueRedisURL     string // Asynq用Redis接続URL（空の場合はメールを同期送信）
	MailJobTTLMinutes int    // メール配送記録の保持期間（分）

	// ログ設定
	LogLevel  string // debug, info, warn, error
	LogFormat string // text, json
}

// Load は環境変数から設定を読み込みます。
// .env.local / .env ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		TrustedProxies: getEnv("TRUSTED_PROXIES", ""),
		MaxBodyBytes:   getEnvAsInt("MAX_BODY_BYTES", 100<<10),

		JWTSecret:       getEnv("JWT_SECRET", ""),
		TokenTTLHours:   getEnvAsInt("TOKEN_TTL_HOURS", 12),
		BcryptCost:      getEnvAsInt("BCRYPT_COST", bcrypt.DefaultCost),
		HashConcurrency: getEnvAsInt("HASH_CONCURRENCY", 0),

		MongoURI:             getEnv("MONGO_URI", ""),
		MongoDatabase:        getEnv("MONGO_DATABASE", "auth-db"),
		MongoUsersCollection: getEnv("MONGO_USERS_COLLECTION", "users"),

		LoginRateWindowMinutes: getEnvAsInt("LOGIN_RATE_WINDOW_MINUTES", 10),
		LoginRateMaxAttempts:   getEnvAsInt("LOGIN_RATE_MAX_ATTEMPTS", 5),
		RateLimitRedisURL:      getEnv("RATE_LIMIT_REDIS_URL", ""),

		QueueRedisURL:     getEnv("QUEUE_REDIS_URL", ""),
		MailJobTTLMinutes: getEnvAsInt("MAIL_JOB_TTL_MINUTES", 60),

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
	// godotenv.Load は既存の環境変数を上書きしない
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
	_ = godotenv.Load(filepath.Join(parent, ".env"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.TokenTTLHours <= 0 {
		return fmt.Errorf("TOKEN_TTL_HOURS must be positive")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.HashConcurrency < 0 {
		return fmt.Errorf("HASH_CONCURRENCY must not be negative")
	}
	if c.LoginRateWindowMinutes <= 0 {
		return fmt.Errorf("LOGIN_RATE_WINDOW_MINUTES must be positive")
	}
	if c.LoginRateMaxAttempts <= 0 {
		return fmt.Errorf("LOGIN_RATE_MAX_ATTEMPTS must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_BODY_BYTES must be positive")
	}
	for _, proxy := range c.TrustedProxyList() {
		if net.ParseIP(proxy) == nil {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("TRUSTED_PROXIES contains invalid entry %q", proxy)
			}
		}
	}

	// 本番環境ではインメモリストアを許可しない
	if c.GinMode == "release" && c.MongoURI == "" {
		return fmt.Errorf("MONGO_URI is required in release mode")
	}

	return nil
}

// TokenTTL はトークンの有効期間を返します。
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

// LoginRateWindow はログイン試行制限のウィンドウ長を返します。
func (c *Config) LoginRateWindow() time.Duration {
	return time.Duration(c.LoginRateWindowMinutes) * time.Minute
}

// TrustedProxyList は TRUSTED_PROXIES を分割して返します。未設定なら nil です。
func (c *Config) TrustedProxyList() []string {
	var proxies []string
	for _, p := range strings.Split(c.TrustedProxies, ",") {
		if p = strings.TrimSpace(p); p != "" {
			proxies = append(proxies, p)
		}
	}
	return proxies
}

// MailJobTTL はメール配送記録の保持期間を返します。
func (c *Config) MailJobTTL() time.Duration {
	if c.MailJobTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.MailJobTTLMinutes) * time.Minute
}

// LogValue は秘密情報を伏せた状態で設定をログに出力します。
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("port", c.Port),
		slog.String("ginMode", c.GinMode),
		slog.String("jwtSecret", redact(c.JWTSecret)),
		slog.Int("bcryptCost", c.BcryptCost),
		slog.Int("trustedProxies", len(c.TrustedProxyList())),
		slog.Bool("mongo", c.MongoURI != ""),
		slog.Int("loginRateWindowMinutes", c.LoginRateWindowMinutes),
		slog.Int("loginRateMaxAttempts", c.LoginRateMaxAttempts),
		slog.Bool("sharedRateLimit", c.RateLimitRedisURL != ""),
		slog.Bool("mailQueue", c.QueueRedisURL != ""),
	)
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "[REDACTED]"
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
