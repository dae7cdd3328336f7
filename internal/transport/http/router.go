// Package httptransport 提供进程的运维 HTTP 端点：探活、健康检查与 Prometheus 指标。
package httptransport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/relay/internal/config"
	"tempmail/relay/internal/health"
	"tempmail/relay/internal/middleware"
	"tempmail/relay/internal/monitoring"
)

// RouterDependencies 路由依赖
type RouterDependencies struct {
	Health  *health.HealthChecker
	Metrics *monitoring.Metrics
	Logger  *zap.Logger
}

// NewRouter 创建路由
//
// 托管平台的探针只要求任意路径的 GET/HEAD 返回 200，
// 因此未注册路径统一由 alive 处理。
func NewRouter(deps RouterDependencies) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = false
	r.Use(middleware.Recovery(deps.Logger), middleware.RequestLogger(deps.Logger))

	if deps.Health != nil {
		r.GET("/health/live", gin.WrapF(deps.Health.LiveHandler()))
		r.GET("/health/ready", gin.WrapF(deps.Health.ReadyHandler()))
	}
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	r.NoRoute(alive)
	return r
}

// alive GET 返回固定文本，HEAD 只返回状态行与头部，其他方法 405
func alive(c *gin.Context) {
	switch c.Request.Method {
	case http.MethodGet:
		c.String(http.StatusOK, "OK")
	case http.MethodHead:
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.Status(http.StatusOK)
	default:
		c.Header("Allow", "GET, HEAD")
		c.Status(http.StatusMethodNotAllowed)
	}
}

// NewServer 创建 HTTP 服务器
func NewServer(cfg *config.HealthConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
