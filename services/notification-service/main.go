package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signalement-platform/pkg/config"
	"signalement-platform/pkg/database"
	"signalement-platform/pkg/logger"
	"signalement-platform/pkg/metrics"
	"signalement-platform/pkg/middleware"
	"signalement-platform/pkg/notify"
	"signalement-platform/pkg/queue"
	"signalement-platform/pkg/watcher"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load("8084")
	zlog, err := logger.Init(cfg.Server.Env, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}

	if err := run(cfg, zlog); err != nil {
		zlog.Error("notification service stopped with error", zap.Error(err))
		_ = zlog.Sync()
		os.Exit(1)
	}
	zlog.Info("notification service stopped")
	_ = zlog.Sync()
}

// run owns every resource so its deferred cleanup runs before main exits.
func run(cfg *config.Config, zlog *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, _, err := database.OpenStore(ctx, cfg, zlog)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	defer store.Close(context.Background())

	conn, ch, err := queue.ConnectRabbitMQ(cfg.RabbitMQ.URL)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer conn.Close()
	defer ch.Close()
	if err := queue.DeclareTopology(ch); err != nil {
		return fmt.Errorf("declare rabbitmq topology: %w", err)
	}
	zlog.Info("connected to RabbitMQ")

	middleware.RegisterMetrics()
	metrics.Register()

	h := &notificationHandler{
		hub:    notify.NewHub(zlog),
		secret: []byte(cfg.Auth.JWTSecret),
		log:    zlog,
	}
	dispatcher := notify.NewDispatcher(notify.NewQueueScheduler(queue.NewPublisher(ch, queue.ReportsExchange)), zlog)

	g, gctx := errgroup.WithContext(ctx)

	// Open SSE streams end with gctx, otherwise Shutdown would wait on them.
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           newRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		sub, err := watcher.New(store, nil, zlog).Watch(gctx, dispatcher.Handler(gctx))
		if err != nil {
			return err
		}
		<-gctx.Done()
		sub.Unsubscribe()
		return nil
	})
	g.Go(func() error {
		zlog.Info("listening to notifications queue", zap.String("queue", queue.NotificationsQueue))
		return queue.Consume(gctx, ch, queue.NotificationsQueue, h.deliver, func(err error) {
			zlog.Warn("notification dropped", zap.Error(err))
		})
	})
	g.Go(func() error {
		zlog.Info("notification service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
