package domain

import (
	"time"
)

// MaxLabelLength 邮箱备注名的最大字符数
const MaxLabelLength = 25

// Mailbox 表示某个聊天用户保存的一次性邮箱。
//
// UserSeq 是面向用户展示的编号，在同一 ChatID 内从 1 开始递增，
// 删除后也不会被重新分配。
type Mailbox struct {
	ID        string    `json:"id" db:"id" gorm:"primaryKey;type:varchar(36)"`
	ChatID    int64     `json:"chatId" db:"chat_id" gorm:"not null;uniqueIndex:idx_mailbox_chat_seq;uniqueIndex:idx_mailbox_chat_address"`
	UserSeq   int       `json:"userSeq" db:"user_seq" gorm:"not null;uniqueIndex:idx_mailbox_chat_seq"`
	Address   string    `json:"address" db:"address" gorm:"type:varchar(255);not null;uniqueIndex:idx_mailbox_chat_address"`
	Password  string    `json:"-" db:"password" gorm:"type:varchar(255);not null"`
	AuthToken string    `json:"-" db:"auth_token" gorm:"type:text;not null"`
	Label     string    `json:"label,omitempty" db:"label" gorm:"type:varchar(100);not null;default:''"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// HasLabel 判断邮箱是否设置了备注名
func (m *Mailbox) HasLabel() bool {
	return m.Label != ""
}

// ActiveMailbox 记录某个聊天当前接收转发邮件的邮箱。
type ActiveMailbox struct {
	ChatID    int64     `json:"chatId" db:"chat_id" gorm:"primaryKey;autoIncrement:false"`
	MailboxID string    `json:"mailboxId" db:"mailbox_id" gorm:"type:varchar(36);not null;index"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// TableName 指定 GORM 表名
func (ActiveMailbox) TableName() string {
	return "active_mailboxes"
}

// SeenMessage 已投递消息的去重记录，只追加不删除。
type SeenMessage struct {
	ChatID    int64     `json:"chatId" db:"chat_id" gorm:"primaryKey;autoIncrement:false"`
	MessageID string    `json:"messageId" db:"message_id" gorm:"primaryKey;type:varchar(64)"`
	SeenAt    time.Time `json:"seenAt" db:"seen_at"`
}

// ChatSequence 保存每个聊天已分配过的最大 UserSeq，保证编号不被复用。
type ChatSequence struct {
	ChatID  int64 `db:"chat_id" gorm:"primaryKey;autoIncrement:false"`
	LastSeq int   `db:"last_seq" gorm:"not null"`
}

// TruncateLabel 将备注名截断到 MaxLabelLength 个字符
func TruncateLabel(label string) string {
	runes := []rune(label)
	if len(runes) > MaxLabelLength {
		return string(runes[:MaxLabelLength])
	}
	return label
}
