package cache

import (
	"context"
	"sync"
	"time"
)

// TTLCache 本地内存缓存
//
// 特点：
// - 使用 sync.Map 实现无锁读取
// - 每个条目独立过期
// - 后台协程定期清理过期条目
type TTLCache[K comparable, V any] struct {
	data sync.Map
	ttl  time.Duration
	now  func() time.Time
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewTTLCache 创建本地缓存
//
// 参数:
//   - ttl: 默认过期时间，0 表示永不过期
func NewTTLCache[K comparable, V any](ttl time.Duration) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		ttl: ttl,
		now: time.Now,
	}
}

// Get 获取缓存值
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	var zero V
	val, ok := c.data.Load(key)
	if !ok {
		return zero, false
	}

	entry := val.(*cacheEntry[V])
	if c.expired(entry, c.now()) {
		c.data.Delete(key)
		return zero, false
	}
	return entry.value, true
}

// Set 设置缓存值并刷新过期时间
func (c *TTLCache[K, V]) Set(key K, value V) {
	entry := &cacheEntry[V]{value: value}
	if c.ttl > 0 {
		entry.expiresAt = c.now().Add(c.ttl)
	}
	c.data.Store(key, entry)
}

// Delete 删除缓存值
func (c *TTLCache[K, V]) Delete(key K) {
	c.data.Delete(key)
}

// Len 返回当前条目数（包括尚未清理的过期条目）
func (c *TTLCache[K, V]) Len() int {
	n := 0
	c.data.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Cleanup 删除所有过期条目
func (c *TTLCache[K, V]) Cleanup() {
	now := c.now()
	c.data.Range(func(key, value interface{}) bool {
		if c.expired(value.(*cacheEntry[V]), now) {
			c.data.Delete(key)
		}
		return true
	})
}

// Run 定期清理过期条目，直到 ctx 结束
func (c *TTLCache[K, V]) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}

func (c *TTLCache[K, V]) expired(entry *cacheEntry[V], now time.Time) bool {
	return !entry.expiresAt.IsZero() && now.After(entry.expiresAt)
}
