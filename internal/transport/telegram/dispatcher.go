package telegram

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"tempmail/relay/internal/bot"
)

// Handler 处理一条聊天消息，由 bot.Controller 实现
type Handler interface {
	Handle(ctx context.Context, chatID int64, text string) bot.Reply
}

// Dispatcher 拉取更新并分发给 Handler
//
// 同一聊天的消息严格按到达顺序逐条处理，不同聊天并发处理。
type Dispatcher struct {
	client  *Client
	handler Handler
	log     *zap.Logger

	mu     sync.Mutex
	queues map[int64][]string
	wg     sync.WaitGroup
}

// NewDispatcher 创建消息分发器
func NewDispatcher(client *Client, handler Handler, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		client:  client,
		handler: handler,
		log:     log,
		queues:  make(map[int64][]string),
	}
}

// Run 持续拉取更新直到 ctx 结束，返回前等待正在处理的消息完成
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.wg.Wait()

	d.log.Info("telegram dispatcher started")
	var offset int64
	for {
		updates, err := d.client.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				d.log.Info("telegram dispatcher stopping")
				return nil
			}
			d.log.Warn("get updates failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			d.dispatch(ctx, u.Message.Chat.ID, u.Message.Text)
		}
	}
}

// dispatch 将消息加入聊天队列，队列没有处理协程时启动一个
func (d *Dispatcher) dispatch(ctx context.Context, chatID int64, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pending, running := d.queues[chatID]
	d.queues[chatID] = append(pending, text)
	if running {
		return
	}

	d.wg.Add(1)
	go d.drain(ctx, chatID)
}

// drain 逐条处理聊天队列，队列为空时退出
func (d *Dispatcher) drain(ctx context.Context, chatID int64) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		pending := d.queues[chatID]
		if len(pending) == 0 {
			delete(d.queues, chatID)
			d.mu.Unlock()
			return
		}
		text := pending[0]
		d.queues[chatID] = pending[1:]
		d.mu.Unlock()

		d.process(ctx, chatID, text)
	}
}

func (d *Dispatcher) process(ctx context.Context, chatID int64, text string) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panicked", zap.Int64("chat_id", chatID), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	reply := d.handler.Handle(ctx, chatID, text)
	if err := d.client.SendMessage(ctx, chatID, reply.Text, reply.HTML, reply.Keyboard.Rows()); err != nil {
		d.log.Warn("send reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
