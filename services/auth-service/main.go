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
	"signalement-platform/pkg/identity"
	"signalement-platform/pkg/lockout"
	"signalement-platform/pkg/lockout/pgstore"
	"signalement-platform/pkg/logger"
	"signalement-platform/pkg/metrics"
	"signalement-platform/pkg/middleware"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load("8081")
	zlog, err := logger.Init(cfg.Server.Env, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}

	if err := run(cfg, zlog); err != nil {
		zlog.Error("auth service stopped with error", zap.Error(err))
		_ = zlog.Sync()
		os.Exit(1)
	}
	zlog.Info("auth service stopped")
	_ = zlog.Sync()
}

// run owns every resource so its deferred cleanup runs before main exits.
func run(cfg *config.Config, zlog *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		accounts lockout.AccountStore
		settings lockout.Settings
		app      *firebase.App
	)
	switch cfg.Lockout.AccountBackend {
	case "postgres":
		db, err := database.ConnectPostgres(cfg.Lockout.PostgresDSN, zlog)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		zlog.Info("running auto migration")
		if err := pgstore.Migrate(db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		pg := pgstore.New(db)
		accounts, settings = pg, pg

	default:
		store, fbApp, err := database.OpenStore(ctx, cfg, zlog)
		if err != nil {
			return fmt.Errorf("open document store: %w", err)
		}
		defer store.Close(context.Background())
		if err := lockout.Seed(ctx, store); err != nil {
			return err
		}
		app = fbApp
		accounts, settings = lockout.NewDocAccounts(store), lockout.NewDocSettings(store)
	}

	disabler, err := newDisabler(ctx, cfg, app, zlog)
	if err != nil {
		return fmt.Errorf("set up identity provider: %w", err)
	}

	tracker := lockout.NewTracker(accounts, settings, disabler,
		detached.NewLauncher(zlog, cfg.Lockout.DisableTimeout), zlog,
		lockout.Options{
			DefaultMaxAttempts: cfg.Lockout.DefaultMaxAttempts,
			Transactional:      cfg.Lockout.Transactional,
		})

	middleware.RegisterMetrics()
	metrics.Register()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           newRouter(&authHandler{tracker: tracker, log: zlog}, []byte(cfg.Auth.JWTSecret)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zlog.Info("auth service listening",
			zap.String("addr", srv.Addr),
			zap.String("account_backend", cfg.Lockout.AccountBackend),
			zap.Bool("transactional", cfg.Lockout.Transactional))
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

// newDisabler returns the Firebase Authentication disabler, reusing app when
// the document store already opened one.
func newDisabler(ctx context.Context, cfg *config.Config, app *firebase.App, log *zap.Logger) (lockout.Disabler, error) {
	if !cfg.Lockout.DisableRemote {
		return identity.Noop{Log: log}, nil
	}
	if app == nil {
		var err error
		if app, err = database.NewFirebaseApp(ctx, cfg.Firebase); err != nil {
			return nil, err
		}
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth client: %w", err)
	}
	return identity.NewFirebaseDisabler(client, log), nil
}
