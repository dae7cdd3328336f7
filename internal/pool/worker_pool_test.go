package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerPool(t *testing.T) {
	t.Run("执行全部任务", func(t *testing.T) {
		p := NewWorkerPool(3, 10, zap.NewNop())
		p.Start()

		var count int64
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			require.NoError(t, p.Submit(context.Background(), func() {
				defer wg.Done()
				atomic.AddInt64(&count, 1)
			}))
		}
		wg.Wait()
		p.Stop()

		assert.Equal(t, int64(20), atomic.LoadInt64(&count))
	})

	t.Run("并发数不超过上限", func(t *testing.T) {
		p := NewWorkerPool(2, 10, zap.NewNop())
		p.Start()
		defer p.Stop()

		var running, peak int64
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			require.NoError(t, p.Submit(context.Background(), func() {
				defer wg.Done()
				n := atomic.AddInt64(&running, 1)
				for {
					old := atomic.LoadInt64(&peak)
					if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt64(&running, -1)
			}))
		}
		wg.Wait()

		assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
	})

	t.Run("任务 panic 不影响协程池", func(t *testing.T) {
		p := NewWorkerPool(1, 2, zap.NewNop())
		p.Start()
		defer p.Stop()

		done := make(chan struct{})
		require.NoError(t, p.Submit(context.Background(), func() { panic("boom") }))
		require.NoError(t, p.Submit(context.Background(), func() { close(done) }))

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("task after panic was not executed")
		}
	})

	t.Run("队列已满时 Submit 随 ctx 返回", func(t *testing.T) {
		p := NewWorkerPool(1, 0, zap.NewNop())

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		err := p.Submit(ctx, func() {})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, p.TrySubmit(func() {}))
	})

	t.Run("停止后拒绝任务", func(t *testing.T) {
		p := NewWorkerPool(1, 1, zap.NewNop())
		p.Start()
		p.Stop()
		p.Stop()

		assert.ErrorIs(t, p.Submit(context.Background(), func() {}), ErrPoolStopped)
		assert.False(t, p.TrySubmit(func() {}))
	})
}
