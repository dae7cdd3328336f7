package hybrid

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tempmail/relay/internal/storage"
	"tempmail/relay/internal/storage/memory"
	"tempmail/relay/internal/storage/storetest"
)

// fakeCache 内存实现的去重缓存，可模拟故障
type fakeCache struct {
	items   map[string]bool
	fail    bool
	lookups int
}

func newFakeCache() *fakeCache {
	return &fakeCache{items: make(map[string]bool)}
}

func (c *fakeCache) key(chatID int64, messageID string) string {
	return fmt.Sprintf("%d/%s", chatID, messageID)
}

func (c *fakeCache) IsSeen(_ context.Context, chatID int64, messageID string) (bool, error) {
	c.lookups++
	if c.fail {
		return false, errors.New("redis down")
	}
	return c.items[c.key(chatID, messageID)], nil
}

func (c *fakeCache) MarkSeen(_ context.Context, chatID int64, messageID string) error {
	if c.fail {
		return errors.New("redis down")
	}
	c.items[c.key(chatID, messageID)] = true
	return nil
}

func (c *fakeCache) Ping(context.Context) error {
	if c.fail {
		return errors.New("redis down")
	}
	return nil
}

func (c *fakeCache) Close() error { return nil }

func TestHybridStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		return NewStore(memory.NewStore(), newFakeCache(), zap.NewNop())
	})
}

func TestHybridStore_SeenCache(t *testing.T) {
	ctx := context.Background()

	t.Run("写入同时更新数据库和缓存", func(t *testing.T) {
		durable := memory.NewStore()
		cache := newFakeCache()
		store := NewStore(durable, cache, zap.NewNop())

		require.NoError(t, store.MarkSeen(ctx, 1, "m1"))

		seen, err := durable.IsSeen(ctx, 1, "m1")
		require.NoError(t, err)
		assert.True(t, seen)
		assert.True(t, cache.items["1/m1"])
	})

	t.Run("缓存未命中时回填", func(t *testing.T) {
		durable := memory.NewStore()
		cache := newFakeCache()
		store := NewStore(durable, cache, zap.NewNop())

		require.NoError(t, durable.MarkSeen(ctx, 1, "m2"))

		seen, err := store.IsSeen(ctx, 1, "m2")
		require.NoError(t, err)
		assert.True(t, seen)
		assert.True(t, cache.items["1/m2"])
	})

	t.Run("缓存故障时回落到数据库", func(t *testing.T) {
		durable := memory.NewStore()
		cache := newFakeCache()
		cache.fail = true
		store := NewStore(durable, cache, zap.NewNop())

		require.NoError(t, store.MarkSeen(ctx, 1, "m3"))

		seen, err := store.IsSeen(ctx, 1, "m3")
		require.NoError(t, err)
		assert.True(t, seen)

		assert.NoError(t, store.Health())
		assert.Error(t, store.Ping(ctx))
	})
}
