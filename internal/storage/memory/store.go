package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tempmail/relay/internal/domain"
	"tempmail/relay/internal/storage"
)

// seenKey 去重表主键
type seenKey struct {
	chatID    int64
	messageID string
}

// Store 使用内存保存邮箱、当前邮箱指针与去重表，主要用于开发验证和测试。
type Store struct {
	mu        sync.RWMutex
	mailboxes map[string]*domain.Mailbox // mailboxID -> mailbox
	bySeq     map[int64]map[int]string   // chatID -> userSeq -> mailboxID
	byAddress map[int64]map[string]string
	lastSeq   map[int64]int // chatID -> 已分配过的最大 UserSeq
	active    map[int64]domain.ActiveMailbox
	seen      map[seenKey]time.Time
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		mailboxes: make(map[string]*domain.Mailbox),
		bySeq:     make(map[int64]map[int]string),
		byAddress: make(map[int64]map[string]string),
		lastSeq:   make(map[int64]int),
		active:    make(map[int64]domain.ActiveMailbox),
		seen:      make(map[seenKey]time.Time),
	}
}

// CreateMailbox 新增邮箱。
//
// 整个读取-计算-写入过程在写锁内完成，同一聊天的并发请求不会得到相同的 UserSeq。
func (s *Store) CreateMailbox(_ context.Context, chatID int64, address, password, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byAddress[chatID][address]; ok {
		return id, nil
	}

	next := s.lastSeq[chatID] + 1
	for seq := range s.bySeq[chatID] {
		if seq >= next {
			next = seq + 1
		}
	}

	mailbox := &domain.Mailbox{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		UserSeq:   next,
		Address:   address,
		Password:  password,
		AuthToken: token,
		CreatedAt: time.Now().UTC(),
	}

	if s.bySeq[chatID] == nil {
		s.bySeq[chatID] = make(map[int]string)
		s.byAddress[chatID] = make(map[string]string)
	}
	s.mailboxes[mailbox.ID] = mailbox
	s.bySeq[chatID][next] = mailbox.ID
	s.byAddress[chatID][address] = mailbox.ID
	s.lastSeq[chatID] = next

	return mailbox.ID, nil
}

// ListMailboxes 按 UserSeq 降序返回邮箱快照。
func (s *Store) ListMailboxes(_ context.Context, chatID int64) ([]domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Mailbox, 0, len(s.bySeq[chatID]))
	for _, id := range s.bySeq[chatID] {
		result = append(result, *s.mailboxes[id])
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UserSeq > result[j].UserSeq
	})
	return result, nil
}

// GetMailbox 根据 ID 获取邮箱，邮箱必须属于该聊天。
func (s *Store) GetMailbox(_ context.Context, chatID int64, mailboxID string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mailbox, ok := s.mailboxes[mailboxID]
	if !ok || mailbox.ChatID != chatID {
		return nil, storage.ErrMailboxNotFound
	}
	copied := *mailbox
	return &copied, nil
}

// GetMailboxBySeq 根据用户编号获取邮箱。
func (s *Store) GetMailboxBySeq(_ context.Context, chatID int64, seq int) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySeq[chatID][seq]
	if !ok {
		return nil, storage.ErrMailboxNotFound
	}
	copied := *s.mailboxes[id]
	return &copied, nil
}

// DeleteMailboxBySeq 删除邮箱；如果它是当前邮箱，一并清除指针。
func (s *Store) DeleteMailboxBySeq(_ context.Context, chatID int64, seq int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.bySeq[chatID][seq]
	if !ok {
		return false, nil
	}
	mailbox := s.mailboxes[id]

	if pointer, ok := s.active[chatID]; ok && pointer.MailboxID == id {
		delete(s.active, chatID)
	}
	delete(s.bySeq[chatID], seq)
	delete(s.byAddress[chatID], mailbox.Address)
	delete(s.mailboxes, id)
	return true, nil
}

// SetLabel 设置邮箱备注名。
func (s *Store) SetLabel(_ context.Context, chatID int64, seq int, label string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.bySeq[chatID][seq]
	if !ok {
		return false, nil
	}
	s.mailboxes[id].Label = label
	return true, nil
}

// GetToken 获取邮箱的认证令牌。
func (s *Store) GetToken(ctx context.Context, chatID int64, mailboxID string) (string, error) {
	mailbox, err := s.GetMailbox(ctx, chatID, mailboxID)
	if err != nil {
		return "", err
	}
	return mailbox.AuthToken, nil
}

// UpdateToken 更新邮箱的认证令牌。
func (s *Store) UpdateToken(_ context.Context, chatID int64, mailboxID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mailbox, ok := s.mailboxes[mailboxID]
	if !ok || mailbox.ChatID != chatID {
		return storage.ErrMailboxNotFound
	}
	mailbox.AuthToken = token
	return nil
}

// SetActive 设置当前邮箱，覆盖已有指针。
func (s *Store) SetActive(_ context.Context, chatID int64, mailboxID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mailbox, ok := s.mailboxes[mailboxID]
	if !ok || mailbox.ChatID != chatID {
		return storage.ErrMailboxNotFound
	}
	s.active[chatID] = domain.ActiveMailbox{
		ChatID:    chatID,
		MailboxID: mailboxID,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

// GetActive 返回当前邮箱。
func (s *Store) GetActive(_ context.Context, chatID int64) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pointer, ok := s.active[chatID]
	if !ok {
		return nil, storage.ErrNoActiveMailbox
	}
	mailbox, ok := s.mailboxes[pointer.MailboxID]
	if !ok || mailbox.ChatID != chatID {
		return nil, storage.ErrNoActiveMailbox
	}
	copied := *mailbox
	return &copied, nil
}

// ClearActive 清除当前邮箱指针，邮箱记录保留。
func (s *Store) ClearActive(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.active, chatID)
	return nil
}

// ListActive 返回全部当前邮箱指针，按 ChatID 升序。
func (s *Store) ListActive(_ context.Context) ([]domain.ActiveMailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ActiveMailbox, 0, len(s.active))
	for _, pointer := range s.active {
		result = append(result, pointer)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ChatID < result[j].ChatID
	})
	return result, nil
}

// IsSeen 判断消息是否已投递。
func (s *Store) IsSeen(_ context.Context, chatID int64, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.seen[seenKey{chatID: chatID, messageID: messageID}]
	return ok, nil
}

// MarkSeen 记录消息已投递，已存在时保持原记录不变。
func (s *Store) MarkSeen(_ context.Context, chatID int64, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := seenKey{chatID: chatID, messageID: messageID}
	if _, ok := s.seen[key]; !ok {
		s.seen[key] = time.Now().UTC()
	}
	return nil
}

// SeenCount 返回去重表记录数
func (s *Store) SeenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

// Close 内存存储无需释放资源
func (s *Store) Close() error {
	return nil
}

// Health 内存存储始终可用
func (s *Store) Health() error {
	return nil
}
