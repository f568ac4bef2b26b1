// Package redis 提供采集阶段"已见 UID"的去重快路径。
// 数据库对 EmailUID 的唯一约束仍是最终事实来源，Redis 只是
// 避免对同一封邮件重复走 FETCH/解码的加速层，不可用时直接旁路。
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL 记住一个已采集 UID 的时长。邮箱里未清理的旧邮件
	// 在多次运行之间可能被重复搜到，保留 7 天足够覆盖。
	DefaultTTL = 7 * 24 * time.Hour

	keyPrefix = "prs:harvest:seen:"
)

// SeenCache 记录哪些邮箱 UID 已经采集过。
type SeenCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSeenCache 创建 Redis 去重缓存。
func NewSeenCache(rdb *redis.Client) *SeenCache {
	return &SeenCache{rdb: rdb, ttl: DefaultTTL}
}

// IsNew 当该 UID 未出现过时返回 true，并原子地标记为已见（SETNX）。
func (c *SeenCache) IsNew(ctx context.Context, uid string) (bool, error) {
	key := fmt.Sprintf("%s%s", keyPrefix, uid)
	set, err := c.rdb.SetNX(ctx, key, 1, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("seen cache SETNX: %w", err)
	}
	return set, nil
}

// Forget 移除一个 UID 的已见标记（入库失败时回滚快路径用）。
func (c *SeenCache) Forget(ctx context.Context, uid string) error {
	return c.rdb.Del(ctx, keyPrefix+uid).Err()
}
