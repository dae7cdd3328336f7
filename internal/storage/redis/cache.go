package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"tempmail/relay/internal/config"
)

// seenTTL 去重缓存的过期时间，过期后回落到数据库查询
const seenTTL = 7 * 24 * time.Hour

// SeenCache 使用 Redis Set 缓存已投递消息 ID，减少轮询时的数据库查询。
type SeenCache struct {
	rdb *goredis.Client
}

// NewSeenCache 创建 Redis 去重缓存并测试连接
func NewSeenCache(cfg *config.RedisConfig) (*SeenCache, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &SeenCache{rdb: rdb}, nil
}

func seenKey(chatID int64) string {
	return fmt.Sprintf("relay:seen:%d", chatID)
}

// IsSeen 查询缓存中是否存在该消息
func (c *SeenCache) IsSeen(ctx context.Context, chatID int64, messageID string) (bool, error) {
	return c.rdb.SIsMember(ctx, seenKey(chatID), messageID).Result()
}

// MarkSeen 写入缓存并刷新过期时间
func (c *SeenCache) MarkSeen(ctx context.Context, chatID int64, messageID string) error {
	key := seenKey(chatID)
	pipe := c.rdb.TxPipeline()
	pipe.SAdd(ctx, key, messageID)
	pipe.Expire(ctx, key, seenTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Ping 测试 Redis 连接
func (c *SeenCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (c *SeenCache) Close() error {
	return c.rdb.Close()
}
