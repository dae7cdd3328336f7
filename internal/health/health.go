package health

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"tempmail/relay/internal/storage"
)

// Pinger 可探测连通性的依赖，例如 Redis 去重缓存
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker 健康检查器
//
// 存活检查只关注轮询任务是否仍在运行；就绪检查包括存储和可选的缓存。
type HealthChecker struct {
	health   healthcheck.Handler
	store    storage.Store
	logger   *zap.Logger
	lastPoll atomic.Int64
	maxStale time.Duration
}

// NewHealthChecker 创建健康检查器
//
// maxStale 为轮询任务允许的最长静默时间，0 表示不检查。
func NewHealthChecker(store storage.Store, maxStale time.Duration, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health:   healthcheck.NewHandler(),
		store:    store,
		logger:   logger,
		maxStale: maxStale,
	}
	hc.lastPoll.Store(time.Now().UnixNano())

	hc.addChecks()
	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	hc.health.AddReadinessCheck("storage", func() error {
		return hc.store.Health()
	})

	if hc.maxStale > 0 {
		hc.health.AddLivenessCheck("poller", hc.checkPoller)
	}
}

// AddPinger 添加带超时的就绪检查
func (hc *HealthChecker) AddPinger(name string, p Pinger) {
	hc.health.AddReadinessCheck(name, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return p.Ping(ctx)
	})
}

// MarkPolled 记录一次轮询完成
func (hc *HealthChecker) MarkPolled(at time.Time) {
	hc.lastPoll.Store(at.UnixNano())
}

func (hc *HealthChecker) checkPoller() error {
	last := time.Unix(0, hc.lastPoll.Load())
	if since := time.Since(last); since > hc.maxStale {
		hc.logger.Warn("poller stalled", zap.Duration("since_last_cycle", since))
		return fmt.Errorf("no poll cycle for %s", since.Truncate(time.Second))
	}
	return nil
}

// LiveHandler 存活检查处理器
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyHandler 就绪检查处理器
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}
