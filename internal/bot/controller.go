// Package bot 实现聊天会话控制器：将用户发送的文本和当前会话状态映射为存储操作和回复。
package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"tempmail/relay/internal/cache"
	"tempmail/relay/internal/domain"
	"tempmail/relay/internal/monitoring"
	"tempmail/relay/internal/provider"
	"tempmail/relay/internal/storage"
)

// MaxListed 列表中最多展示的邮箱数量
const MaxListed = 30

// 固定回复文本
const (
	msgMenu           = "Menu ✅"
	msgUseMenu        = "Use menu buttons 👇"
	msgNoActive       = "No active mail. Tap “Generate new mail”."
	msgNoActiveShort  = "No active mail."
	msgRemoved        = "✅ Current mail removed (saved list is still there)."
	msgNoSaved        = "No saved mails yet."
	msgNoReuse        = "No saved mails to reuse."
	msgNoRename       = "No saved mails to rename."
	msgNoDelete       = "No saved mails to delete."
	msgReusePrompt    = "♻️ Send the <b>ID</b> you want to reuse.\nExample: <code>1</code>"
	msgRenamePrompt   = "✏️ Send like this:\n<code>ID Name</code>\nExample: <code>2 Facebook</code>"
	msgDeletePrompt   = "🧨 Send the <b>ID</b> you want to delete from saved list.\nExample: <code>3</code>"
	msgNeedNumeric    = "Send numeric ID or tap Back."
	msgRenameFormat   = "Format: ID Name (example: 2 Facebook) or tap Back."
	msgInvalidID      = "Invalid ID. Try again."
	msgDeleted        = "✅ Deleted from saved list."
	msgRenamed        = "✅ Renamed successfully."
	msgCreateFailed   = "⚠️ Could not create a mail right now. Please try again later."
	msgInternalError  = "⚠️ Something went wrong. Please try again."
	msgListUsageHints = "Reuse: tap ♻️ Reuse → send ID\nRename: tap ✏️ Rename → send: ID Name\nDelete saved: tap 🧨 Delete saved → send ID"
)

// Reply 控制器对一条消息的回复
type Reply struct {
	Text     string
	HTML     bool
	Keyboard Keyboard
}

func plain(text string, kb Keyboard) Reply {
	return Reply{Text: text, Keyboard: kb}
}

func rich(text string, kb Keyboard) Reply {
	return Reply{Text: text, HTML: true, Keyboard: kb}
}

// AccountCreator 创建服务商邮箱账户
type AccountCreator interface {
	CreateAccount(ctx context.Context) (*provider.Account, error)
}

// Controller 会话控制器
//
// 同一聊天的消息由传输层串行投递，不同聊天可以并发调用 Handle。
type Controller struct {
	store    storage.Store
	accounts AccountCreator
	modes    *cache.TTLCache[int64, domain.Mode]
	metrics  *monitoring.Metrics
	contact  string
	log      *zap.Logger
}

// NewController 创建会话控制器
func NewController(
	store storage.Store,
	accounts AccountCreator,
	modes *cache.TTLCache[int64, domain.Mode],
	metrics *monitoring.Metrics,
	contact string,
	log *zap.Logger,
) *Controller {
	return &Controller{
		store:    store,
		accounts: accounts,
		modes:    modes,
		metrics:  metrics,
		contact:  contact,
		log:      log,
	}
}

// Mode 返回聊天当前的会话状态
func (c *Controller) Mode(chatID int64) domain.Mode {
	mode, ok := c.modes.Get(chatID)
	if !ok {
		return domain.ModeIdle
	}
	return mode
}

func (c *Controller) setMode(chatID int64, mode domain.Mode) {
	if mode == domain.ModeIdle {
		c.modes.Delete(chatID)
		return
	}
	c.modes.Set(chatID, mode)
}

// Handle 处理一条用户消息并返回回复
//
// 返回按钮在任何状态下都回到主菜单；有待输入的操作时，其他文本都作为该操作的输入。
func (c *Controller) Handle(ctx context.Context, chatID int64, text string) Reply {
	text = strings.TrimSpace(text)

	if text == BtnBack {
		c.metrics.RecordCommand("back")
		c.setMode(chatID, domain.ModeIdle)
		return plain(msgMenu, KeyboardMain)
	}

	if mode := c.Mode(chatID); mode.Pending() {
		c.metrics.RecordCommand("input")
		return c.handleInput(ctx, chatID, mode, text)
	}

	switch {
	case strings.EqualFold(text, CmdStart):
		c.metrics.RecordCommand("start")
		return c.newMail(ctx, chatID, "📧 <b>Your mail:</b>")
	case text == BtnNew:
		c.metrics.RecordCommand("new")
		return c.newMail(ctx, chatID, "📧 <b>Your new mail:</b>")
	case text == BtnCurrent:
		c.metrics.RecordCommand("current")
		return c.current(ctx, chatID)
	case text == BtnDelete:
		c.metrics.RecordCommand("remove_current")
		return c.removeCurrent(ctx, chatID)
	case text == BtnList:
		c.metrics.RecordCommand("list")
		return c.list(ctx, chatID)
	case text == BtnReuse:
		c.metrics.RecordCommand("reuse")
		return c.enterMode(ctx, chatID, domain.ModeAwaitingReuseID, msgNoReuse, msgReusePrompt)
	case text == BtnRename:
		c.metrics.RecordCommand("rename")
		return c.enterMode(ctx, chatID, domain.ModeAwaitingRenameInput, msgNoRename, msgRenamePrompt)
	case text == BtnDeleteSaved:
		c.metrics.RecordCommand("delete_saved")
		return c.enterMode(ctx, chatID, domain.ModeAwaitingDeleteID, msgNoDelete, msgDeletePrompt)
	case text == BtnHelp:
		c.metrics.RecordCommand("help")
		return plain("Contact: "+c.contact, KeyboardMain)
	default:
		c.metrics.RecordCommand("unknown")
		return plain(msgUseMenu, KeyboardMain)
	}
}

func (c *Controller) newMail(ctx context.Context, chatID int64, title string) Reply {
	account, err := c.accounts.CreateAccount(ctx)
	if err != nil {
		kind := "rejected"
		if provider.IsUnavailable(err) {
			kind = "unavailable"
		}
		c.metrics.RecordProviderError("create_account", kind)
		c.log.Warn("create account failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return plain(msgCreateFailed, KeyboardMain)
	}

	id, err := c.store.CreateMailbox(ctx, chatID, account.Address, account.Password, account.Token)
	if err != nil {
		return c.internalError(chatID, "save mailbox", err, KeyboardMain)
	}
	if err := c.store.SetActive(ctx, chatID, id); err != nil {
		return c.internalError(chatID, "set active mailbox", err, KeyboardMain)
	}

	c.metrics.RecordMailboxCreated()
	c.log.Info("mailbox created", zap.Int64("chat_id", chatID), zap.String("mailbox_id", id))
	return rich(fmt.Sprintf("%s\n<code>%s</code>", title, html.EscapeString(account.Address)), KeyboardMain)
}

func (c *Controller) current(ctx context.Context, chatID int64) Reply {
	active, err := c.store.GetActive(ctx, chatID)
	if errors.Is(err, storage.ErrNoActiveMailbox) {
		return plain(msgNoActive, KeyboardMain)
	}
	if err != nil {
		return c.internalError(chatID, "get active mailbox", err, KeyboardMain)
	}
	return rich("📌 <b>Current mail:</b>\n<code>"+html.EscapeString(active.Address)+"</code>", KeyboardMain)
}

func (c *Controller) removeCurrent(ctx context.Context, chatID int64) Reply {
	_, err := c.store.GetActive(ctx, chatID)
	if errors.Is(err, storage.ErrNoActiveMailbox) {
		return plain(msgNoActiveShort, KeyboardMain)
	}
	if err != nil {
		return c.internalError(chatID, "get active mailbox", err, KeyboardMain)
	}
	if err := c.store.ClearActive(ctx, chatID); err != nil {
		return c.internalError(chatID, "clear active mailbox", err, KeyboardMain)
	}
	return plain(msgRemoved, KeyboardMain)
}

func (c *Controller) list(ctx context.Context, chatID int64) Reply {
	mailboxes, err := c.store.ListMailboxes(ctx, chatID)
	if err != nil {
		return c.internalError(chatID, "list mailboxes", err, KeyboardMain)
	}
	if len(mailboxes) == 0 {
		return plain(msgNoSaved, KeyboardMain)
	}

	activeID := ""
	if active, err := c.store.GetActive(ctx, chatID); err == nil {
		activeID = active.ID
	} else if !errors.Is(err, storage.ErrNoActiveMailbox) {
		return c.internalError(chatID, "get active mailbox", err, KeyboardMain)
	}

	if len(mailboxes) > MaxListed {
		mailboxes = mailboxes[:MaxListed]
	}

	lines := []string{"📜 <b>Your saved mails</b>\n"}
	for _, mb := range mailboxes {
		mark := "▫️"
		if mb.ID == activeID {
			mark = "✅"
		}
		label := ""
		if mb.HasLabel() {
			label = " — <b>" + html.EscapeString(mb.Label) + "</b>"
		}
		lines = append(lines, fmt.Sprintf("%s <code>%s</code>%s\n<b>ID:</b> <code>%d</code>\n",
			mark, html.EscapeString(mb.Address), label, mb.UserSeq))
	}
	lines = append(lines, msgListUsageHints)

	return rich(strings.Join(lines, "\n"), KeyboardMain)
}

// enterMode 进入等待输入状态，没有已保存邮箱时拒绝
func (c *Controller) enterMode(ctx context.Context, chatID int64, mode domain.Mode, emptyMsg, prompt string) Reply {
	mailboxes, err := c.store.ListMailboxes(ctx, chatID)
	if err != nil {
		return c.internalError(chatID, "list mailboxes", err, KeyboardMain)
	}
	if len(mailboxes) == 0 {
		return plain(emptyMsg, KeyboardMain)
	}
	c.setMode(chatID, mode)
	return rich(prompt, KeyboardBack)
}

func (c *Controller) handleInput(ctx context.Context, chatID int64, mode domain.Mode, text string) Reply {
	switch mode {
	case domain.ModeAwaitingReuseID:
		return c.reuse(ctx, chatID, text)
	case domain.ModeAwaitingDeleteID:
		return c.deleteSaved(ctx, chatID, text)
	case domain.ModeAwaitingRenameInput:
		return c.rename(ctx, chatID, text)
	default:
		c.setMode(chatID, domain.ModeIdle)
		return plain(msgUseMenu, KeyboardMain)
	}
}

func (c *Controller) reuse(ctx context.Context, chatID int64, text string) Reply {
	seq, ok := parseID(text)
	if !ok {
		return plain(msgNeedNumeric, KeyboardBack)
	}

	mb, err := c.store.GetMailboxBySeq(ctx, chatID, seq)
	if errors.Is(err, storage.ErrMailboxNotFound) {
		return plain(msgInvalidID, KeyboardBack)
	}
	if err != nil {
		return c.internalError(chatID, "get mailbox", err, KeyboardBack)
	}
	if err := c.store.SetActive(ctx, chatID, mb.ID); err != nil {
		return c.internalError(chatID, "set active mailbox", err, KeyboardBack)
	}

	c.setMode(chatID, domain.ModeIdle)
	return rich("✅ Reusing:\n<code>"+html.EscapeString(mb.Address)+"</code>", KeyboardMain)
}

func (c *Controller) deleteSaved(ctx context.Context, chatID int64, text string) Reply {
	seq, ok := parseID(text)
	if !ok {
		return plain(msgNeedNumeric, KeyboardBack)
	}

	deleted, err := c.store.DeleteMailboxBySeq(ctx, chatID, seq)
	if err != nil {
		return c.internalError(chatID, "delete mailbox", err, KeyboardBack)
	}
	if !deleted {
		return plain(msgInvalidID, KeyboardBack)
	}

	c.metrics.RecordMailboxDeleted()
	c.setMode(chatID, domain.ModeIdle)
	return plain(msgDeleted, KeyboardMain)
}

func (c *Controller) rename(ctx context.Context, chatID int64, text string) Reply {
	seq, label, ok := parseRename(text)
	if !ok {
		return plain(msgRenameFormat, KeyboardBack)
	}

	updated, err := c.store.SetLabel(ctx, chatID, seq, domain.TruncateLabel(label))
	if err != nil {
		return c.internalError(chatID, "set label", err, KeyboardBack)
	}
	if !updated {
		return plain(msgInvalidID, KeyboardBack)
	}

	c.setMode(chatID, domain.ModeIdle)
	return plain(msgRenamed, KeyboardMain)
}

func (c *Controller) internalError(chatID int64, op string, err error, kb Keyboard) Reply {
	c.log.Error("bot "+op+" failed", zap.Int64("chat_id", chatID), zap.Error(err))
	return plain(msgInternalError, kb)
}

// parseID 解析非负整数编号，只接受纯数字
func parseID(text string) (int, bool) {
	if text == "" {
		return 0, false
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseRename 在第一个空白处拆分编号和备注名
func parseRename(text string) (int, string, bool) {
	idx := strings.IndexFunc(text, unicode.IsSpace)
	if idx < 0 {
		return 0, "", false
	}
	seq, ok := parseID(text[:idx])
	if !ok {
		return 0, "", false
	}
	label := strings.TrimSpace(text[idx:])
	if label == "" {
		return 0, "", false
	}
	return seq, label, true
}
