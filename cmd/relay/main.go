package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tempmail/relay/internal/bot"
	"tempmail/relay/internal/cache"
	"tempmail/relay/internal/config"
	"tempmail/relay/internal/domain"
	"tempmail/relay/internal/health"
	"tempmail/relay/internal/logger"
	"tempmail/relay/internal/monitoring"
	"tempmail/relay/internal/poller"
	"tempmail/relay/internal/pool"
	"tempmail/relay/internal/provider"
	"tempmail/relay/internal/storage"
	"tempmail/relay/internal/storage/hybrid"
	"tempmail/relay/internal/storage/memory"
	"tempmail/relay/internal/storage/postgres"
	"tempmail/relay/internal/storage/redis"
	"tempmail/relay/internal/storage/sqlite"
	httptransport "tempmail/relay/internal/transport/http"
	"tempmail/relay/internal/transport/telegram"
)

const version = "1.0.0"

// main 启动 Telegram 会话、邮件轮询与运维 HTTP 端点。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.NewLogger(&cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting tempmail relay",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.String("storage", cfg.Storage.Type),
	)

	store, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("storage close error", zap.Error(err))
		}
	}()

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)

	// 轮询停滞超过若干个周期视为不存活
	healthChecker := health.NewHealthChecker(store, cfg.Poll.FirstDelay+10*cfg.Poll.Interval, log)
	if pinger, ok := store.(health.Pinger); ok {
		healthChecker.AddPinger("redis", pinger)
	}

	mailTM := provider.NewClient(&cfg.Provider, log)
	tg := telegram.NewClient(&cfg.Telegram)

	modes := cache.NewTTLCache[int64, domain.Mode](cfg.Bot.ModeTTL)
	controller := bot.NewController(store, mailTM, modes, metrics, cfg.Telegram.Contact, log)
	dispatcher := telegram.NewDispatcher(tg, controller, log)

	workers := pool.NewWorkerPool(cfg.Poll.Workers, cfg.Poll.Workers*4, log)
	workers.Start()
	defer workers.Stop()

	mailPoller := poller.New(store, mailTM, tg, workers, metrics, &cfg.Poll, log)
	mailPoller.OnCycle(healthChecker.MarkPolled)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Health:  healthChecker,
		Metrics: metrics,
		Logger:  log,
	})
	httpServer := httptransport.NewServer(&cfg.Health, router)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		return dispatcher.Run(groupCtx)
	})

	group.Go(func() error {
		return mailPoller.Run(groupCtx)
	})

	// 定时清理过期的会话状态
	group.Go(func() error {
		modes.Run(groupCtx, time.Minute)
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("relay stopped with error", zap.Error(err))
		return
	}

	log.Info("relay exited cleanly")
}

// openStore 根据配置创建存储，配置了 Redis 时在外层加去重缓存
func openStore(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	var (
		durable storage.Store
		err     error
	)

	poolCfg := postgres.PoolConfig{
		MaxOpenConns:    cfg.Storage.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.MaxIdleConns,
		ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
	}

	switch cfg.Storage.Type {
	case "memory":
		log.Warn("using memory storage, mailboxes are lost on restart")
		durable = memory.NewStore()
	case "sqlite":
		durable, err = sqlite.NewStore(cfg.Storage.Path)
	case "postgres":
		durable, err = postgres.NewStore(cfg.Storage.DSN, poolCfg)
	case "mysql":
		durable, err = postgres.NewMySQLStore(cfg.Storage.DSN, poolCfg)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Storage.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Type, err)
	}

	if !cfg.Redis.Enabled() {
		return durable, nil
	}

	seen, err := redis.NewSeenCache(&cfg.Redis)
	if err != nil {
		_ = durable.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info("redis seen cache enabled", zap.String("address", cfg.Redis.Address))
	return hybrid.NewStore(durable, seen, log), nil
}
