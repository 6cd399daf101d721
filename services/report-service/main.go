package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signalement-platform/pkg/config"
	"signalement-platform/pkg/database"
	"signalement-platform/pkg/detached"
	"signalement-platform/pkg/logger"
	"signalement-platform/pkg/metrics"
	"signalement-platform/pkg/middleware"
	"signalement-platform/pkg/queue"
	"signalement-platform/pkg/sequence"
	"signalement-platform/pkg/signalement"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load("8082")
	zlog, err := logger.Init(cfg.Server.Env, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}

	if err := run(cfg, zlog); err != nil {
		zlog.Error("report service stopped with error", zap.Error(err))
		_ = zlog.Sync()
		os.Exit(1)
	}
	zlog.Info("report service stopped")
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

	h := &reportHandler{
		repo:  signalement.NewRepository(store, sequence.NewAllocator(store, zlog), nil, zlog),
		tasks: detached.NewLauncher(zlog, 10*time.Second),
		log:   zlog,
	}

	conn, ch, err := queue.ConnectRabbitMQ(cfg.RabbitMQ.URL)
	if err != nil {
		zlog.Warn("rabbitmq unavailable, report.created events disabled", zap.Error(err))
	} else {
		defer conn.Close()
		defer ch.Close()
		if err := queue.DeclareTopology(ch); err != nil {
			return fmt.Errorf("declare rabbitmq topology: %w", err)
		}
		h.events = queue.NewPublisher(ch, queue.ReportsExchange)
		zlog.Info("connected to RabbitMQ")
	}

	middleware.RegisterMetrics()
	metrics.Register()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           newRouter(h, []byte(cfg.Auth.JWTSecret)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zlog.Info("report service listening", zap.String("addr", srv.Addr))
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
