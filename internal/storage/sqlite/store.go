package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"tempmail/relay/internal/domain"
	"tempmail/relay/internal/storage"
)

// Store 基于本地 SQLite 文件的存储实现，是默认的持久化方式。
type Store struct {
	db *sqlx.DB
}

// NewStore 打开（或创建）SQLite 数据库并执行迁移。
//
// 连接数限制为 1：所有写操作串行执行，":memory:" 数据库也能在多次调用间共享。
func NewStore(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.db.Close()
}

// Health 检查数据库连接
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// runMigrations 读取当前 schema 版本并按顺序执行未应用的迁移。
func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// CreateMailbox 新增邮箱并分配 UserSeq。
//
// 读取最大编号与插入在同一事务内完成；遇到唯一约束冲突时重新计算并重试。
func (s *Store) CreateMailbox(ctx context.Context, chatID int64, address, password, token string) (string, error) {
	for attempt := 1; attempt <= storage.MaxCreateAttempts; attempt++ {
		id, err := s.createMailboxOnce(ctx, chatID, address, password, token)
		if err == nil {
			return id, nil
		}
		if !isUniqueViolation(err) {
			return "", err
		}
	}
	return "", storage.ErrSequenceConflict
}

func (s *Store) createMailboxOnce(ctx context.Context, chatID int64, address, password, token string) (string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.GetContext(ctx, &existing,
		"SELECT id FROM mailboxes WHERE chat_id = ? AND address = ?", chatID, address)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("looking up mailbox by address: %w", err)
	}

	var next int
	err = tx.GetContext(ctx, &next, `
		SELECT MAX(
			COALESCE((SELECT last_seq FROM chat_sequences WHERE chat_id = ?), 0),
			COALESCE((SELECT MAX(user_seq) FROM mailboxes WHERE chat_id = ?), 0)
		) + 1`, chatID, chatID)
	if err != nil {
		return "", fmt.Errorf("computing next sequence: %w", err)
	}

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO mailboxes (id, chat_id, user_seq, address, password, auth_token, label, created_at)
		VALUES (?, ?, ?, ?, ?, ?, '', ?)`,
		id, chatID, next, address, password, token, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("inserting mailbox: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_sequences (chat_id, last_seq) VALUES (?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET last_seq = excluded.last_seq`,
		chatID, next)
	if err != nil {
		return "", fmt.Errorf("updating chat sequence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing mailbox: %w", err)
	}
	return id, nil
}

const mailboxColumns = "id, chat_id, user_seq, address, password, auth_token, label, created_at"

// ListMailboxes 按 UserSeq 降序返回聊天的邮箱
func (s *Store) ListMailboxes(ctx context.Context, chatID int64) ([]domain.Mailbox, error) {
	mailboxes := []domain.Mailbox{}
	err := s.db.SelectContext(ctx, &mailboxes,
		"SELECT "+mailboxColumns+" FROM mailboxes WHERE chat_id = ? ORDER BY user_seq DESC", chatID)
	if err != nil {
		return nil, fmt.Errorf("listing mailboxes: %w", err)
	}
	return mailboxes, nil
}

// GetMailbox 根据 ID 获取邮箱
func (s *Store) GetMailbox(ctx context.Context, chatID int64, mailboxID string) (*domain.Mailbox, error) {
	return s.getMailbox(ctx,
		"SELECT "+mailboxColumns+" FROM mailboxes WHERE chat_id = ? AND id = ?", chatID, mailboxID)
}

// GetMailboxBySeq 根据用户编号获取邮箱
func (s *Store) GetMailboxBySeq(ctx context.Context, chatID int64, seq int) (*domain.Mailbox, error) {
	return s.getMailbox(ctx,
		"SELECT "+mailboxColumns+" FROM mailboxes WHERE chat_id = ? AND user_seq = ?", chatID, seq)
}

func (s *Store) getMailbox(ctx context.Context, query string, args ...interface{}) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	if err := s.db.GetContext(ctx, &mailbox, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrMailboxNotFound
		}
		return nil, fmt.Errorf("getting mailbox: %w", err)
	}
	return &mailbox, nil
}

// DeleteMailboxBySeq 删除邮箱，若其为当前邮箱则同时删除指针
func (s *Store) DeleteMailboxBySeq(ctx context.Context, chatID int64, seq int) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.GetContext(ctx, &id, "SELECT id FROM mailboxes WHERE chat_id = ? AND user_seq = ?", chatID, seq)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up mailbox: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM active_mailboxes WHERE chat_id = ? AND mailbox_id = ?", chatID, id); err != nil {
		return false, fmt.Errorf("clearing active pointer: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM mailboxes WHERE chat_id = ? AND id = ?", chatID, id); err != nil {
		return false, fmt.Errorf("deleting mailbox: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing delete: %w", err)
	}
	return true, nil
}

// SetLabel 设置邮箱备注名
func (s *Store) SetLabel(ctx context.Context, chatID int64, seq int, label string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE mailboxes SET label = ? WHERE chat_id = ? AND user_seq = ?", label, chatID, seq)
	if err != nil {
		return false, fmt.Errorf("updating label: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}
	return n > 0, nil
}

// GetToken 获取邮箱的认证令牌
func (s *Store) GetToken(ctx context.Context, chatID int64, mailboxID string) (string, error) {
	var token string
	err := s.db.GetContext(ctx, &token,
		"SELECT auth_token FROM mailboxes WHERE chat_id = ? AND id = ?", chatID, mailboxID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrMailboxNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting token: %w", err)
	}
	return token, nil
}

// UpdateToken 更新邮箱的认证令牌
func (s *Store) UpdateToken(ctx context.Context, chatID int64, mailboxID, token string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE mailboxes SET auth_token = ? WHERE chat_id = ? AND id = ?", token, chatID, mailboxID)
	if err != nil {
		return fmt.Errorf("updating token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrMailboxNotFound
	}
	return nil
}

// SetActive 设置当前邮箱
func (s *Store) SetActive(ctx context.Context, chatID int64, mailboxID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM mailboxes WHERE chat_id = ? AND id = ?", chatID, mailboxID); err != nil {
		return fmt.Errorf("checking mailbox: %w", err)
	}
	if count == 0 {
		return storage.ErrMailboxNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO active_mailboxes (chat_id, mailbox_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			mailbox_id = excluded.mailbox_id,
			updated_at = excluded.updated_at`,
		chatID, mailboxID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upserting active mailbox: %w", err)
	}
	return tx.Commit()
}

// GetActive 返回当前邮箱，指针失效时视为不存在
func (s *Store) GetActive(ctx context.Context, chatID int64) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.db.GetContext(ctx, &mailbox, `
		SELECT m.id, m.chat_id, m.user_seq, m.address, m.password, m.auth_token, m.label, m.created_at
		FROM active_mailboxes a
		JOIN mailboxes m ON m.id = a.mailbox_id AND m.chat_id = a.chat_id
		WHERE a.chat_id = ?`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNoActiveMailbox
	}
	if err != nil {
		return nil, fmt.Errorf("getting active mailbox: %w", err)
	}
	return &mailbox, nil
}

// ClearActive 删除当前邮箱指针
func (s *Store) ClearActive(ctx context.Context, chatID int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM active_mailboxes WHERE chat_id = ?", chatID); err != nil {
		return fmt.Errorf("clearing active mailbox: %w", err)
	}
	return nil
}

// ListActive 返回全部当前邮箱指针
func (s *Store) ListActive(ctx context.Context) ([]domain.ActiveMailbox, error) {
	pointers := []domain.ActiveMailbox{}
	err := s.db.SelectContext(ctx, &pointers,
		"SELECT chat_id, mailbox_id, updated_at FROM active_mailboxes ORDER BY chat_id")
	if err != nil {
		return nil, fmt.Errorf("listing active mailboxes: %w", err)
	}
	return pointers, nil
}

// IsSeen 判断消息是否已投递
func (s *Store) IsSeen(ctx context.Context, chatID int64, messageID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM seen_messages WHERE chat_id = ? AND message_id = ?", chatID, messageID)
	if err != nil {
		return false, fmt.Errorf("checking seen message: %w", err)
	}
	return count > 0, nil
}

// MarkSeen 幂等写入去重记录
func (s *Store) MarkSeen(ctx context.Context, chatID int64, messageID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seen_messages (chat_id, message_id, seen_at) VALUES (?, ?, ?)
		ON CONFLICT(chat_id, message_id) DO NOTHING`,
		chatID, messageID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("marking message seen: %w", err)
	}
	return nil
}

// isUniqueViolation 判断错误是否为唯一约束或主键冲突
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
