// Package storetest 提供所有 storage.Store 实现共用的行为测试。
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/relay/internal/storage"
)

// Factory 为每个子测试创建一个全新的存储实例
type Factory func(t *testing.T) storage.Store

// Run 执行完整的存储行为测试
func Run(t *testing.T, newStore Factory) {
	t.Run("UserSeq 从 1 开始递增", func(t *testing.T) {
		testSequence(t, newStore(t))
	})
	t.Run("删除后编号不复用", func(t *testing.T) {
		testSequenceNotReused(t, newStore(t))
	})
	t.Run("重复地址返回已有 ID", func(t *testing.T) {
		testDuplicateAddress(t, newStore(t))
	})
	t.Run("列表按 UserSeq 降序", func(t *testing.T) {
		testListOrder(t, newStore(t))
	})
	t.Run("当前邮箱指针", func(t *testing.T) {
		testActivePointer(t, newStore(t))
	})
	t.Run("删除当前邮箱清除指针", func(t *testing.T) {
		testDeleteActive(t, newStore(t))
	})
	t.Run("设置备注名", func(t *testing.T) {
		testSetLabel(t, newStore(t))
	})
	t.Run("令牌读写", func(t *testing.T) {
		testTokens(t, newStore(t))
	})
	t.Run("去重表幂等", func(t *testing.T) {
		testSeen(t, newStore(t))
	})
	t.Run("并发创建不冲突", func(t *testing.T) {
		testConcurrentCreate(t, newStore(t))
	})
}

func create(t *testing.T, s storage.Store, chatID int64, address string) string {
	t.Helper()
	id, err := s.CreateMailbox(context.Background(), chatID, address, "pw", "tok-"+address)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func testSequence(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		create(t, s, 100, fmt.Sprintf("a%d@x.test", i))
	}
	create(t, s, 200, "b1@x.test")

	for i := 1; i <= 3; i++ {
		mb, err := s.GetMailboxBySeq(ctx, 100, i)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("a%d@x.test", i), mb.Address)
		assert.Equal(t, int64(100), mb.ChatID)
	}

	mb, err := s.GetMailboxBySeq(ctx, 200, 1)
	require.NoError(t, err)
	assert.Equal(t, "b1@x.test", mb.Address)

	_, err = s.GetMailboxBySeq(ctx, 200, 2)
	assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
}

func testSequenceNotReused(t *testing.T, s storage.Store) {
	ctx := context.Background()
	create(t, s, 1, "one@x.test")
	create(t, s, 1, "two@x.test")

	ok, err := s.DeleteMailboxBySeq(ctx, 1, 2)
	require.NoError(t, err)
	require.True(t, ok)

	create(t, s, 1, "three@x.test")
	mb, err := s.GetMailboxBySeq(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, "three@x.test", mb.Address)

	_, err = s.GetMailboxBySeq(ctx, 1, 2)
	assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
}

func testDuplicateAddress(t *testing.T, s storage.Store) {
	ctx := context.Background()
	first := create(t, s, 7, "same@x.test")
	second := create(t, s, 7, "same@x.test")
	assert.Equal(t, first, second)

	list, err := s.ListMailboxes(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// 其他聊天可以使用相同地址
	other := create(t, s, 8, "same@x.test")
	assert.NotEqual(t, first, other)
}

func testListOrder(t *testing.T, s storage.Store) {
	ctx := context.Background()
	create(t, s, 5, "a@x.test")
	create(t, s, 5, "b@x.test")
	create(t, s, 5, "c@x.test")

	list, err := s.ListMailboxes(ctx, 5)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []int{3, 2, 1}, []int{list[0].UserSeq, list[1].UserSeq, list[2].UserSeq})

	empty, err := s.ListMailboxes(ctx, 6)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testActivePointer(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.GetActive(ctx, 9)
	assert.ErrorIs(t, err, storage.ErrNoActiveMailbox)

	first := create(t, s, 9, "a@x.test")
	second := create(t, s, 9, "b@x.test")

	require.NoError(t, s.SetActive(ctx, 9, first))
	active, err := s.GetActive(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, first, active.ID)
	assert.Equal(t, "a@x.test", active.Address)
	assert.Equal(t, "tok-a@x.test", active.AuthToken)

	require.NoError(t, s.SetActive(ctx, 9, second))
	active, err = s.GetActive(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, second, active.ID)

	pointers, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, pointers, 1)
	assert.Equal(t, int64(9), pointers[0].ChatID)
	assert.Equal(t, second, pointers[0].MailboxID)

	require.NoError(t, s.ClearActive(ctx, 9))
	_, err = s.GetActive(ctx, 9)
	assert.ErrorIs(t, err, storage.ErrNoActiveMailbox)

	// 清除指针不影响邮箱
	list, err := s.ListMailboxes(ctx, 9)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func testDeleteActive(t *testing.T, s storage.Store) {
	ctx := context.Background()
	first := create(t, s, 3, "a@x.test")
	create(t, s, 3, "b@x.test")

	require.NoError(t, s.SetActive(ctx, 3, first))

	// 删除非当前邮箱，指针不变
	ok, err := s.DeleteMailboxBySeq(ctx, 3, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	active, err := s.GetActive(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, first, active.ID)

	// 删除当前邮箱，指针被清除
	ok, err = s.DeleteMailboxBySeq(ctx, 3, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = s.GetActive(ctx, 3)
	assert.ErrorIs(t, err, storage.ErrNoActiveMailbox)

	pointers, err := s.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, pointers)

	ok, err = s.DeleteMailboxBySeq(ctx, 3, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testSetLabel(t *testing.T, s storage.Store) {
	ctx := context.Background()
	create(t, s, 4, "a@x.test")
	create(t, s, 4, "b@x.test")

	ok, err := s.SetLabel(ctx, 4, 2, "Work Mail")
	require.NoError(t, err)
	assert.True(t, ok)

	mb, err := s.GetMailboxBySeq(ctx, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, "Work Mail", mb.Label)

	ok, err = s.SetLabel(ctx, 4, 99, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	mb, err = s.GetMailboxBySeq(ctx, 4, 1)
	require.NoError(t, err)
	assert.Empty(t, mb.Label)
}

func testTokens(t *testing.T, s storage.Store) {
	ctx := context.Background()
	id := create(t, s, 11, "a@x.test")

	token, err := s.GetToken(ctx, 11, id)
	require.NoError(t, err)
	assert.Equal(t, "tok-a@x.test", token)

	// 其他聊天无法读取
	_, err = s.GetToken(ctx, 12, id)
	assert.ErrorIs(t, err, storage.ErrMailboxNotFound)

	require.NoError(t, s.UpdateToken(ctx, 11, id, "fresh"))
	token, err = s.GetToken(ctx, 11, id)
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)

	mb, err := s.GetMailbox(ctx, 11, id)
	require.NoError(t, err)
	assert.Equal(t, "pw", mb.Password)

	_, err = s.GetToken(ctx, 11, "missing")
	assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
}

func testSeen(t *testing.T, s storage.Store) {
	ctx := context.Background()
	seen, err := s.IsSeen(ctx, 1, "m1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.MarkSeen(ctx, 1, "m1"))
	require.NoError(t, s.MarkSeen(ctx, 1, "m1"))

	seen, err = s.IsSeen(ctx, 1, "m1")
	require.NoError(t, err)
	assert.True(t, seen)

	// 去重按聊天隔离
	seen, err = s.IsSeen(ctx, 2, "m1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func testConcurrentCreate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const workers = 16

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.CreateMailbox(ctx, 42, fmt.Sprintf("c%d@x.test", i), "pw", "tok")
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	list, err := s.ListMailboxes(ctx, 42)
	require.NoError(t, err)
	require.Len(t, list, workers)

	seqs := make(map[int]bool, workers)
	for _, mb := range list {
		assert.False(t, seqs[mb.UserSeq], "duplicate userSeq %d", mb.UserSeq)
		seqs[mb.UserSeq] = true
	}
	for i := 1; i <= workers; i++ {
		assert.True(t, seqs[i], "missing userSeq %d", i)
	}
}
