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
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailboxsaas/backend/internal/config"
	"mailboxsaas/backend/internal/fanout"
	"mailboxsaas/backend/internal/health"
	"mailboxsaas/backend/internal/logger"
	"mailboxsaas/backend/internal/monitoring"
	"mailboxsaas/backend/internal/smtp"
	"mailboxsaas/backend/internal/storage/provider"
	"mailboxsaas/backend/internal/storage/redis"
	"mailboxsaas/backend/internal/sweeper"
	httptransport "mailboxsaas/backend/internal/transport/http"
	"mailboxsaas/backend/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

// main 启动 SMTP 接收、实时推送与过期邮箱清理。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting mailbox server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
		zap.String("database_type", cfg.Database.Type),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := provider.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("failed to close storage", zap.Error(err))
		}
	}()
	if err := provider.Migrate(ctx, store); err != nil {
		log.Warn("failed to prepare storage schema", zap.Error(err))
	}

	metrics := monitoring.NewMetrics()
	readiness := map[string]health.Pinger{"store": store}

	wsHub := websocket.NewHub(cfg.Realtime.AllowedOrigins, cfg.Realtime.JWTSecret, store, log, metrics)
	if cfg.Realtime.JWTSecret == "" {
		log.Warn("realtime JWT secret not set, websocket rooms are open to any client")
	}

	// 配置 Redis 时事件经由 Redis 转发，所有实例共享房间
	var publisher fanout.Publisher = wsHub
	var broker *redis.Broker
	if cfg.Redis.Address != "" {
		client, err := redis.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer client.Close()

		broker = redis.NewBroker(client, cfg.Redis.Channel, log)
		publisher = broker
		readiness["redis"] = broker
	}

	notifier := fanout.NewNotifier(publisher, log, metrics)

	// 会话中的存储操作在 SMTP 服务器关闭后才取消
	sessionCtx, cancelSessions := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSessions()

	resolver := smtp.NewResolver(store, cfg.SMTP.MaxRecipients, log, metrics)
	ingester := smtp.NewIngester(store, notifier, log, metrics)
	smtpServer := smtp.NewServer(cfg.SMTP, smtp.NewBackend(sessionCtx, resolver, ingester, log, metrics), log, metrics)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:       cfg.Realtime,
		WebSocketHub: wsHub,
		Metrics:      metrics,
		Health:       health.NewHealthChecker(readiness, log),
		Logger:       log,
	})

	httpServer := &http.Server{
		Addr:              cfg.Realtime.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting realtime server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("realtime server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		if err := smtpServer.ListenAndServe(); err != nil {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting websocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	if broker != nil {
		group.Go(func() error {
			relayEvents(groupCtx, broker, wsHub, log)
			return nil
		})
	}

	if cfg.Sweeper.Enabled {
		sw := sweeper.New(store, store, cfg.Sweeper.Interval, cfg.Sweeper.Concurrency, log, metrics)
		group.Go(func() error {
			sw.Run(groupCtx)
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("realtime server shutdown error", zap.Error(err))
		}
		if err := smtpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("SMTP server shutdown warning", zap.Error(err))
		}
		cancelSessions()

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// relayEvents 把 Redis 上的事件转发到本地 Hub，订阅中断后退避重连
func relayEvents(ctx context.Context, broker *redis.Broker, local fanout.Publisher, log *zap.Logger) {
	backoff := time.Second
	for {
		err := broker.Relay(ctx, local, nil)
		if ctx.Err() != nil {
			return
		}
		log.Warn("redis relay interrupted, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}
