package cooldown

import (
	"context"
	"fmt"

	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "secretchek:cooldown:"

// Cooldown 基于 Redis SetNX 的冷却器，用于限制同一手机号重发验证码的频率。
type Cooldown struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *Cooldown {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cooldown{
		rdb: rdb,
		ttl: ttl,
	}
}

// Hit 尝试占用冷却窗口。返回 true 表示该 key 仍在冷却期内（请求应被拒绝）。
func (c *Cooldown) Hit(ctx context.Context, key string) (bool, error) {
	if c == nil || c.rdb == nil || key == "" {
		return false, nil
	}
	ok, err := c.rdb.SetNX(ctx, keyPrefix+key, "1", c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown setnx: %w", err)
	}
	return !ok, nil
}

// Reset 清除某个 key 的冷却状态。
func (c *Cooldown) Reset(ctx context.Context, key string) error {
	if c == nil || c.rdb == nil || key == "" {
		return nil
	}
	if err := c.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("cooldown del: %w", err)
	}
	return nil
}
