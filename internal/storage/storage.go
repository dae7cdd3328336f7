package storage

import (
	"context"
	"errors"

	"tempmail/relay/internal/domain"
)

var (
	// ErrMailboxNotFound 邮箱不存在
	ErrMailboxNotFound = errors.New("mailbox not found")
	// ErrNoActiveMailbox 聊天没有当前邮箱（或指针已失效）
	ErrNoActiveMailbox = errors.New("no active mailbox")
	// ErrSequenceConflict 并发分配 UserSeq 时发生唯一约束冲突，重试次数耗尽后返回
	ErrSequenceConflict = errors.New("mailbox sequence conflict")
)

// MaxCreateAttempts CreateMailbox 遇到唯一约束冲突时的最大尝试次数
const MaxCreateAttempts = 5

// MailboxRepository 定义邮箱数据存取操作。
type MailboxRepository interface {
	// CreateMailbox 为聊天新增邮箱并分配下一个 UserSeq；地址已存在时返回已有 ID。
	CreateMailbox(ctx context.Context, chatID int64, address, password, token string) (string, error)
	// ListMailboxes 按 UserSeq 降序返回聊天的全部邮箱。
	ListMailboxes(ctx context.Context, chatID int64) ([]domain.Mailbox, error)
	GetMailbox(ctx context.Context, chatID int64, mailboxID string) (*domain.Mailbox, error)
	GetMailboxBySeq(ctx context.Context, chatID int64, seq int) (*domain.Mailbox, error)
	// DeleteMailboxBySeq 删除邮箱，若其为当前邮箱则同时清除指针。
	DeleteMailboxBySeq(ctx context.Context, chatID int64, seq int) (bool, error)
	SetLabel(ctx context.Context, chatID int64, seq int, label string) (bool, error)
	GetToken(ctx context.Context, chatID int64, mailboxID string) (string, error)
	UpdateToken(ctx context.Context, chatID int64, mailboxID, token string) error
}

// ActiveRepository 定义当前邮箱指针的存取操作。
type ActiveRepository interface {
	SetActive(ctx context.Context, chatID int64, mailboxID string) error
	// GetActive 返回当前邮箱；指针不存在或指向的邮箱已不存在时返回 ErrNoActiveMailbox。
	GetActive(ctx context.Context, chatID int64) (*domain.Mailbox, error)
	ClearActive(ctx context.Context, chatID int64) error
	ListActive(ctx context.Context) ([]domain.ActiveMailbox, error)
}

// SeenRepository 定义已投递消息去重表的操作。
type SeenRepository interface {
	IsSeen(ctx context.Context, chatID int64, messageID string) (bool, error)
	// MarkSeen 幂等写入，重复调用不报错。
	MarkSeen(ctx context.Context, chatID int64, messageID string) error
}

// Store 定义完整的存储接口。
type Store interface {
	MailboxRepository
	ActiveRepository
	SeenRepository

	// 工具方法
	Close() error
	Health() error
}
