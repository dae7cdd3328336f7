// Package poller 定期拉取所有当前邮箱的新邮件并转发到对应聊天。
package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tempmail/relay/internal/config"
	"tempmail/relay/internal/domain"
	"tempmail/relay/internal/format"
	"tempmail/relay/internal/monitoring"
	"tempmail/relay/internal/pool"
	"tempmail/relay/internal/provider"
	"tempmail/relay/internal/storage"
)

// MessageSource 邮件来源，由 provider.Client 实现
type MessageSource interface {
	ListMessages(ctx context.Context, token string) ([]domain.MessageSummary, error)
	ReadMessage(ctx context.Context, token, id string) (*domain.MessageRecord, error)
	IssueToken(ctx context.Context, address, password string) (string, error)
}

// Sender 向聊天发送消息
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, html bool) error
}

// 跳过聊天的原因，用作指标标签
const (
	skipNoToken      = "no_token"
	skipTokenExpired = "token_expired"
	skipListFailed   = "list_failed"
)

// Poller 邮件轮询任务
//
// 同一时刻最多只有一轮在执行；每轮内不同聊天通过协程池并发处理，互不影响。
type Poller struct {
	store      storage.Store
	source     MessageSource
	sender     Sender
	workers    *pool.WorkerPool
	metrics    *monitoring.Metrics
	log        *zap.Logger
	interval   time.Duration
	firstDelay time.Duration

	running atomic.Bool
	now     func() time.Time
	onCycle func(time.Time)
}

// New 创建轮询任务，workers 需已启动
func New(
	store storage.Store,
	source MessageSource,
	sender Sender,
	workers *pool.WorkerPool,
	metrics *monitoring.Metrics,
	cfg *config.PollConfig,
	log *zap.Logger,
) *Poller {
	return &Poller{
		store:      store,
		source:     source,
		sender:     sender,
		workers:    workers,
		metrics:    metrics,
		log:        log,
		interval:   cfg.Interval,
		firstDelay: cfg.FirstDelay,
		now:        time.Now,
		onCycle:    func(time.Time) {},
	}
}

// OnCycle 设置每轮结束后的回调，用于健康检查
func (p *Poller) OnCycle(fn func(time.Time)) {
	p.onCycle = fn
}

// Run 等待首次延迟后按固定间隔轮询，直到 ctx 结束
//
// 返回前等待正在执行的一轮结束。
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("poller started",
		zap.Duration("interval", p.interval),
		zap.Duration("first_delay", p.firstDelay),
	)

	timer := time.NewTimer(p.firstDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	start := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.RunCycle(ctx)
		}()
	}

	start()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("poller stopping")
			return nil
		case <-ticker.C:
			start()
		}
	}
}

// RunCycle 执行一轮轮询；上一轮仍在执行时直接返回 false
func (p *Poller) RunCycle(ctx context.Context) bool {
	if !p.running.CompareAndSwap(false, true) {
		p.metrics.RecordPollCycleSkipped()
		p.log.Warn("previous poll cycle still running, skipping tick")
		return false
	}
	defer p.running.Store(false)

	started := p.now()
	actives, err := p.store.ListActive(ctx)
	if err != nil {
		p.log.Error("list active mailboxes failed", zap.Error(err))
		return true
	}

	var wg sync.WaitGroup
	for _, active := range actives {
		wg.Add(1)
		err := p.workers.Submit(ctx, func() {
			defer wg.Done()
			p.pollChat(ctx, active)
		})
		if err != nil {
			wg.Done()
			p.log.Warn("poll task not submitted", zap.Int64("chat_id", active.ChatID), zap.Error(err))
		}
	}
	wg.Wait()

	finished := p.now()
	p.metrics.RecordPollCycle(len(actives), finished.Sub(started))
	p.onCycle(finished)
	p.log.Debug("poll cycle finished",
		zap.Int("chats", len(actives)),
		zap.Duration("duration", finished.Sub(started)),
	)
	return true
}

// pollChat 处理单个聊天：列出邮件、过滤已投递、按时间顺序转发
func (p *Poller) pollChat(ctx context.Context, active domain.ActiveMailbox) {
	log := p.log.With(zap.Int64("chat_id", active.ChatID), zap.String("mailbox_id", active.MailboxID))

	mb, err := p.store.GetMailbox(ctx, active.ChatID, active.MailboxID)
	if err != nil || mb.AuthToken == "" {
		if err != nil && !errors.Is(err, storage.ErrMailboxNotFound) {
			log.Warn("load mailbox failed", zap.Error(err))
		}
		p.metrics.RecordChatSkipped(skipNoToken)
		return
	}

	if provider.TokenExpired(mb.AuthToken, p.now()) {
		p.refreshToken(ctx, mb, log)
		p.metrics.RecordChatSkipped(skipTokenExpired)
		return
	}

	summaries, err := p.source.ListMessages(ctx, mb.AuthToken)
	if err != nil {
		p.recordProviderError("list_messages", err)
		if provider.IsUnauthorized(err) {
			p.refreshToken(ctx, mb, log)
		} else {
			log.Debug("list messages failed", zap.Error(err))
		}
		p.metrics.RecordChatSkipped(skipListFailed)
		return
	}

	unseen := make([]string, 0, len(summaries))
	for _, s := range summaries {
		if s.ID == "" {
			continue
		}
		seen, err := p.store.IsSeen(ctx, active.ChatID, s.ID)
		if err != nil {
			log.Warn("seen lookup failed", zap.String("message_id", s.ID), zap.Error(err))
			continue
		}
		if !seen {
			unseen = append(unseen, s.ID)
		}
	}

	// 服务商按新到旧返回，反转后按到达顺序投递
	for i, j := 0, len(unseen)-1; i < j; i, j = i+1, j-1 {
		unseen[i], unseen[j] = unseen[j], unseen[i]
	}

	for _, id := range unseen {
		if ctx.Err() != nil {
			return
		}
		p.deliver(ctx, active.ChatID, mb.AuthToken, id, log)
	}
}

// deliver 读取、格式化并发送一封邮件，成功后记入去重表
//
// 任一步失败都只跳过这封邮件，它不会被标记为已投递，下一轮会重试。
func (p *Poller) deliver(ctx context.Context, chatID int64, token, id string, log *zap.Logger) {
	log = log.With(zap.String("message_id", id))

	rec, err := p.source.ReadMessage(ctx, token, id)
	if err != nil {
		p.recordProviderError("read_message", err)
		p.metrics.RecordDeliveryFailure("read")
		log.Warn("read message failed", zap.Error(err))
		return
	}

	text := format.FormatMessage(rec)
	if err := p.sender.Send(ctx, chatID, text, true); err != nil {
		p.metrics.RecordDeliveryFailure("send")
		log.Warn("send message failed", zap.Error(err))
		return
	}

	if err := p.store.MarkSeen(ctx, chatID, id); err != nil {
		p.metrics.RecordDeliveryFailure("mark_seen")
		log.Error("mark seen failed, message may be delivered again", zap.Error(err))
		return
	}
	p.metrics.RecordDelivered()
}

// refreshToken 用保存的密码重新获取令牌，本轮不再使用新令牌
func (p *Poller) refreshToken(ctx context.Context, mb *domain.Mailbox, log *zap.Logger) {
	token, err := p.source.IssueToken(ctx, mb.Address, mb.Password)
	if err != nil {
		p.recordProviderError("issue_token", err)
		log.Warn("token refresh failed", zap.Error(err))
		return
	}
	if err := p.store.UpdateToken(ctx, mb.ChatID, mb.ID, token); err != nil {
		log.Error("save refreshed token failed", zap.Error(err))
		return
	}
	p.metrics.RecordTokenRefreshed()
	log.Info("provider token refreshed")
}

func (p *Poller) recordProviderError(op string, err error) {
	kind := "other"
	switch {
	case provider.IsUnavailable(err):
		kind = "unavailable"
	case provider.IsRejected(err):
		kind = "rejected"
	}
	p.metrics.RecordProviderError(op, kind)
}
