package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// 会话指标
	CommandsTotal    *prometheus.CounterVec
	MailboxesCreated prometheus.Counter
	MailboxesDeleted prometheus.Counter

	// 轮询指标
	PollCycles        prometheus.Counter
	PollCyclesSkipped prometheus.Counter
	PollDuration      prometheus.Histogram
	ChatsSkipped      *prometheus.CounterVec
	ActiveChats       prometheus.Gauge

	// 投递指标
	MessagesDelivered prometheus.Counter
	DeliveryFailures  *prometheus.CounterVec
	TokensRefreshed   prometheus.Counter

	// 错误指标
	ProviderErrors *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics 在指定注册表上创建监控指标
//
// 生产环境传入 prometheus.DefaultRegisterer，测试中每次传入新的 prometheus.NewRegistry()。
func NewMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CommandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_bot_commands_total",
				Help: "Total number of chat commands handled",
			},
			[]string{"command"},
		),

		MailboxesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_mailboxes_created_total",
				Help: "Total number of mailboxes created",
			},
		),

		MailboxesDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_mailboxes_deleted_total",
				Help: "Total number of saved mailboxes deleted",
			},
		),

		PollCycles: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_poll_cycles_total",
				Help: "Total number of completed poll cycles",
			},
		),

		PollCyclesSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_poll_cycles_skipped_total",
				Help: "Ticks skipped because the previous cycle was still running",
			},
		),

		PollDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_poll_cycle_duration_seconds",
				Help:    "Poll cycle duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		ChatsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_poll_chats_skipped_total",
				Help: "Chats skipped within a poll cycle",
			},
			[]string{"reason"},
		),

		ActiveChats: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_active_chats",
				Help: "Number of chats with an active mailbox in the last cycle",
			},
		),

		MessagesDelivered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_messages_delivered_total",
				Help: "Total number of messages forwarded to chats",
			},
		),

		DeliveryFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_delivery_failures_total",
				Help: "Messages that failed to forward, by stage",
			},
			[]string{"stage"},
		),

		TokensRefreshed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_tokens_refreshed_total",
				Help: "Total number of provider tokens re-issued",
			},
		),

		ProviderErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_provider_errors_total",
				Help: "Provider errors by operation and kind",
			},
			[]string{"op", "kind"},
		),

		gatherer: gatherer,
	}
}

// RecordCommand 记录会话命令
func (m *Metrics) RecordCommand(command string) {
	m.CommandsTotal.WithLabelValues(command).Inc()
}

// RecordMailboxCreated 记录邮箱创建
func (m *Metrics) RecordMailboxCreated() {
	m.MailboxesCreated.Inc()
}

// RecordMailboxDeleted 记录邮箱删除
func (m *Metrics) RecordMailboxDeleted() {
	m.MailboxesDeleted.Inc()
}

// RecordPollCycle 记录一次完成的轮询
func (m *Metrics) RecordPollCycle(activeChats int, duration time.Duration) {
	m.PollCycles.Inc()
	m.ActiveChats.Set(float64(activeChats))
	m.PollDuration.Observe(duration.Seconds())
}

// RecordPollCycleSkipped 记录因上一轮未结束而跳过的轮询
func (m *Metrics) RecordPollCycleSkipped() {
	m.PollCyclesSkipped.Inc()
}

// RecordChatSkipped 记录本轮跳过的聊天
func (m *Metrics) RecordChatSkipped(reason string) {
	m.ChatsSkipped.WithLabelValues(reason).Inc()
}

// RecordDelivered 记录邮件投递成功
func (m *Metrics) RecordDelivered() {
	m.MessagesDelivered.Inc()
}

// RecordDeliveryFailure 记录邮件投递失败
func (m *Metrics) RecordDeliveryFailure(stage string) {
	m.DeliveryFailures.WithLabelValues(stage).Inc()
}

// RecordTokenRefreshed 记录令牌重新签发
func (m *Metrics) RecordTokenRefreshed() {
	m.TokensRefreshed.Inc()
}

// RecordProviderError 记录服务商错误
func (m *Metrics) RecordProviderError(op, kind string) {
	m.ProviderErrors.WithLabelValues(op, kind).Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
