// Package ratelimit は固定ウィンドウ方式の試行回数制限を提供します。
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable は共有カウンタ（Redis）にアクセスできない場合に返されます。
var ErrUnavailable = errors.New("rate limit backend unavailable")

// Config は固定ウィンドウの設定です。
type Config struct {
	Window      time.Duration // ウィンドウの長さ
	MaxAttempts int           // ウィンドウ内で許可する試行回数
}

// Decision は1回の試行に対する判定結果です。
type Decision struct {
	Allowed    bool
	Count      int           // 現在のウィンドウでの試行回数（今回を含む）
	Limit      int           // ウィンドウ内の上限
	Remaining  int           // 残り回数
	RetryAfter time.Duration // 拒否時、次のウィンドウが始まるまでの時間
	ResetAt    time.Time     // 現在のウィンドウの終了時刻
	ResetIn    time.Duration // 現在のウィンドウが終わるまでの時間
}

// Limiter はキーごとの試行を記録し、許可するか判定します。
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

func decide(count int, cfg Config, resetAt, now time.Time) Decision {
	d := Decision{
		Allowed: count <= cfg.MaxAttempts,
		Count:   count,
		Limit:   cfg.MaxAttempts,
		ResetAt: resetAt,
		ResetIn: resetAt.Sub(now),
	}
	if remaining := cfg.MaxAttempts - count; remaining > 0 {
		d.Remaining = remaining
	}
	if d.ResetIn < 0 {
		d.ResetIn = 0
	}
	if !d.Allowed {
		d.RetryAfter = d.ResetIn
	}
	return d
}
