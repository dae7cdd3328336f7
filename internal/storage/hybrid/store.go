package hybrid

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"tempmail/relay/internal/storage"
)

// SeenCache 去重缓存接口，由 storage/redis.SeenCache 实现
type SeenCache interface {
	IsSeen(ctx context.Context, chatID int64, messageID string) (bool, error)
	MarkSeen(ctx context.Context, chatID int64, messageID string) error
	Ping(ctx context.Context) error
	Close() error
}

// Store 混合存储：数据库保存全部数据，Redis 缓存去重表。
//
// 数据库始终是去重的最终依据，缓存不可用时只会多一次数据库查询。
type Store struct {
	storage.Store
	cache SeenCache
	log   *zap.Logger
}

// NewStore 创建混合存储实例
func NewStore(durable storage.Store, cache SeenCache, log *zap.Logger) *Store {
	return &Store{
		Store: durable,
		cache: cache,
		log:   log,
	}
}

// IsSeen 先查缓存，未命中再查数据库并回填缓存
func (s *Store) IsSeen(ctx context.Context, chatID int64, messageID string) (bool, error) {
	hit, err := s.cache.IsSeen(ctx, chatID, messageID)
	if err != nil {
		s.log.Debug("seen cache lookup failed", zap.Int64("chat_id", chatID), zap.Error(err))
	} else if hit {
		return true, nil
	}

	seen, err := s.Store.IsSeen(ctx, chatID, messageID)
	if err != nil {
		return false, err
	}
	if seen {
		if err := s.cache.MarkSeen(ctx, chatID, messageID); err != nil {
			s.log.Debug("seen cache backfill failed", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
	return seen, nil
}

// MarkSeen 先写数据库，再写缓存
func (s *Store) MarkSeen(ctx context.Context, chatID int64, messageID string) error {
	if err := s.Store.MarkSeen(ctx, chatID, messageID); err != nil {
		return err
	}
	if err := s.cache.MarkSeen(ctx, chatID, messageID); err != nil {
		s.log.Warn("seen cache write failed",
			zap.Int64("chat_id", chatID),
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	}
	return nil
}

// Ping 检查 Redis 连通性，由健康检查单独注册
func (s *Store) Ping(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

// Close 关闭数据库与 Redis 连接
func (s *Store) Close() error {
	return errors.Join(s.Store.Close(), s.cache.Close())
}
