package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:login:"

var _ Limiter = (*Redis)(nil)

// Redis は Redis のカウンタを共有する固定ウィンドウ制限です。
// 最初の試行で INCR と同時に TTL を設定し、TTL 切れでウィンドウがリセットされます。
type Redis struct {
	rdb redis.UniversalClient
	cfg Config
	now func() time.Time
}

// NewRedis は Redis を作成します。
func NewRedis(rdb redis.UniversalClient, cfg Config) *Redis {
	return &Redis{
		rdb: rdb,
		cfg: cfg,
		now: time.Now,
	}
}

// Allow は試行を1回記録して判定します。
func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := keyPrefix + key

	count, err := r.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := r.rdb.PExpire(ctx, redisKey, r.cfg.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	ttl, err := r.rdb.PTTL(ctx, redisKey).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl < 0 {
		// INCR 後に TTL 設定が失われた場合はここで張り直す
		if err := r.rdb.PExpire(ctx, redisKey, r.cfg.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		ttl = r.cfg.Window
	}

	now := r.now()
	return decide(int(count), r.cfg, now.Add(ttl), now), nil
}
