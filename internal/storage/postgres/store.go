package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tempmail/relay/internal/domain"
	"tempmail/relay/internal/storage"
)

// PoolConfig 数据库连接池参数
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store 基于 GORM 的 PostgreSQL / MySQL 存储实现
type Store struct {
	db *gorm.DB
}

// NewStore 创建 PostgreSQL 存储实例
func NewStore(dsn string, pool PoolConfig) (*Store, error) {
	return NewStoreWithDialector(postgres.Open(dsn), pool)
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(dsn string, pool PoolConfig) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn), pool)
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, pool PoolConfig) (*Store, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.Mailbox{},
		&domain.ActiveMailbox{},
		&domain.SeenMessage{},
		&domain.ChatSequence{},
	)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// ========== Mailbox Repository ==========

// CreateMailbox 新增邮箱并分配 UserSeq
//
// chat_sequences 行在事务内以 FOR UPDATE 锁定，同一聊天的创建请求串行执行；
// 首次创建时没有可锁的行，由唯一索引兜底并重试。
func (s *Store) CreateMailbox(ctx context.Context, chatID int64, address, password, token string) (string, error) {
	for attempt := 1; attempt <= storage.MaxCreateAttempts; attempt++ {
		var id string
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			id, err = createMailboxTx(tx, chatID, address, password, token)
			return err
		})
		if err == nil {
			return id, nil
		}
		if !isUniqueViolation(err) {
			return "", err
		}
	}
	return "", storage.ErrSequenceConflict
}

func createMailboxTx(tx *gorm.DB, chatID int64, address, password, token string) (string, error) {
	var existing domain.Mailbox
	err := tx.Where("chat_id = ? AND address = ?", chatID, address).Take(&existing).Error
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	var sequence domain.ChatSequence
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("chat_id = ?", chatID).
		Take(&sequence).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	var maxSeq int
	if err := tx.Model(&domain.Mailbox{}).
		Where("chat_id = ?", chatID).
		Select("COALESCE(MAX(user_seq), 0)").
		Scan(&maxSeq).Error; err != nil {
		return "", err
	}

	next := sequence.LastSeq
	if maxSeq > next {
		next = maxSeq
	}
	next++

	mailbox := &domain.Mailbox{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		UserSeq:   next,
		Address:   address,
		Password:  password,
		AuthToken: token,
		CreatedAt: time.Now().UTC(),
	}
	if err := tx.Create(mailbox).Error; err != nil {
		return "", err
	}

	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seq"}),
	}).Create(&domain.ChatSequence{ChatID: chatID, LastSeq: next}).Error
	if err != nil {
		return "", err
	}

	return mailbox.ID, nil
}

// ListMailboxes 按 UserSeq 降序返回邮箱
func (s *Store) ListMailboxes(ctx context.Context, chatID int64) ([]domain.Mailbox, error) {
	var mailboxes []domain.Mailbox
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("user_seq DESC").
		Find(&mailboxes).Error
	if err != nil {
		return nil, err
	}
	return mailboxes, nil
}

// GetMailbox 根据 ID 获取邮箱
func (s *Store) GetMailbox(ctx context.Context, chatID int64, mailboxID string) (*domain.Mailbox, error) {
	return s.takeMailbox(ctx, "chat_id = ? AND id = ?", chatID, mailboxID)
}

// GetMailboxBySeq 根据用户编号获取邮箱
func (s *Store) GetMailboxBySeq(ctx context.Context, chatID int64, seq int) (*domain.Mailbox, error) {
	return s.takeMailbox(ctx, "chat_id = ? AND user_seq = ?", chatID, seq)
}

func (s *Store) takeMailbox(ctx context.Context, query string, args ...interface{}) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.db.WithContext(ctx).Where(query, args...).Take(&mailbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMailboxNotFound
		}
		return nil, err
	}
	return &mailbox, nil
}

// DeleteMailboxBySeq 删除邮箱并清除指向它的当前邮箱指针
func (s *Store) DeleteMailboxBySeq(ctx context.Context, chatID int64, seq int) (bool, error) {
	deleted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var mailbox domain.Mailbox
		err := tx.Where("chat_id = ? AND user_seq = ?", chatID, seq).Take(&mailbox).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.Where("chat_id = ? AND mailbox_id = ?", chatID, mailbox.ID).
			Delete(&domain.ActiveMailbox{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&mailbox).Error; err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// SetLabel 设置邮箱备注名
func (s *Store) SetLabel(ctx context.Context, chatID int64, seq int, label string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&domain.Mailbox{}).
		Where("chat_id = ? AND user_seq = ?", chatID, seq).
		Update("label", label)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	// MySQL 在值未变化时返回 0 行，需再确认记录是否存在
	_, err := s.GetMailboxBySeq(ctx, chatID, seq)
	if errors.Is(err, storage.ErrMailboxNotFound) {
		return false, nil
	}
	return err == nil, err
}

// GetToken 获取邮箱的认证令牌
func (s *Store) GetToken(ctx context.Context, chatID int64, mailboxID string) (string, error) {
	mailbox, err := s.GetMailbox(ctx, chatID, mailboxID)
	if err != nil {
		return "", err
	}
	return mailbox.AuthToken, nil
}

// UpdateToken 更新邮箱的认证令牌
func (s *Store) UpdateToken(ctx context.Context, chatID int64, mailboxID, token string) error {
	res := s.db.WithContext(ctx).Model(&domain.Mailbox{}).
		Where("chat_id = ? AND id = ?", chatID, mailboxID).
		Update("auth_token", token)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		_, err := s.GetMailbox(ctx, chatID, mailboxID)
		return err
	}
	return nil
}

// ========== Active Repository ==========

// SetActive 设置当前邮箱
func (s *Store) SetActive(ctx context.Context, chatID int64, mailboxID string) error {
	if _, err := s.GetMailbox(ctx, chatID, mailboxID); err != nil {
		return err
	}

	pointer := &domain.ActiveMailbox{
		ChatID:    chatID,
		MailboxID: mailboxID,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"mailbox_id", "updated_at"}),
	}).Create(pointer).Error
}

// GetActive 返回当前邮箱，指针失效时视为不存在
func (s *Store) GetActive(ctx context.Context, chatID int64) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.db.WithContext(ctx).
		Model(&domain.Mailbox{}).
		Joins("JOIN active_mailboxes ON active_mailboxes.mailbox_id = mailboxes.id AND active_mailboxes.chat_id = mailboxes.chat_id").
		Where("active_mailboxes.chat_id = ?", chatID).
		Take(&mailbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNoActiveMailbox
		}
		return nil, err
	}
	return &mailbox, nil
}

// ClearActive 删除当前邮箱指针
func (s *Store) ClearActive(ctx context.Context, chatID int64) error {
	return s.db.WithContext(ctx).Where("chat_id = ?", chatID).Delete(&domain.ActiveMailbox{}).Error
}

// ListActive 返回全部当前邮箱指针
func (s *Store) ListActive(ctx context.Context) ([]domain.ActiveMailbox, error) {
	var pointers []domain.ActiveMailbox
	if err := s.db.WithContext(ctx).Order("chat_id").Find(&pointers).Error; err != nil {
		return nil, err
	}
	return pointers, nil
}

// ========== Seen Repository ==========

// IsSeen 判断消息是否已投递
func (s *Store) IsSeen(ctx context.Context, chatID int64, messageID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.SeenMessage{}).
		Where("chat_id = ? AND message_id = ?", chatID, messageID).
		Count(&count).Error
	return count > 0, err
}

// MarkSeen 幂等写入去重记录
func (s *Store) MarkSeen(ctx context.Context, chatID int64, messageID string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.SeenMessage{
		ChatID:    chatID,
		MessageID: messageID,
		SeenAt:    time.Now().UTC(),
	}).Error
}

// isUniqueViolation 识别 PostgreSQL / MySQL 的唯一约束冲突
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
