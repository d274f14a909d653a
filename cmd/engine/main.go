package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"achievement_engine/internal/achievement"
	"achievement_engine/internal/adapters/storage"
	"achievement_engine/internal/catalog"
	catalogrepo "achievement_engine/internal/catalog/repository"
	"achievement_engine/internal/changefeed"
	"achievement_engine/internal/engagement"
	"achievement_engine/internal/events"
	apphttp "achievement_engine/internal/http"
	"achievement_engine/internal/http/router"
	"achievement_engine/internal/notification"
	"achievement_engine/internal/progress"
	"achievement_engine/internal/ranking"
	"achievement_engine/platform/config"
	"achievement_engine/platform/db"
	"achievement_engine/platform/logger"
	"achievement_engine/platform/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting engine", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	var objects storage.ObjectStore
	if cfg.IsMinIOEnabled() {
		minio, err := storage.NewMinIOService(cfg)
		if err != nil {
			log.Error("failed to initialize storage service", "error", err)
			panic("failed to initialize storage service: " + err.Error())
		}
		objects = minio
		log.Info("storage service initialized", "exportsBucket", cfg.GetMinioBucketExports())
	} else {
		log.Warn("MINIO_ENDPOINT not configured; stored exports disabled")
	}

	quarantine, closeQuarantine := initQuarantine(cfg, log)
	defer closeQuarantine()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	catalogModule := catalog.NewModule(catalogrepo.New(pool), log)

	progressModule, err := progress.NewModule(pool, cfg, log)
	if err != nil {
		log.Error("failed to initialize progress module", "error", err)
		panic("failed to initialize progress module: " + err.Error())
	}

	notificationModule := notification.New(pool, eventBus, log)

	evaluator := achievement.NewEvaluator(
		progressModule.Store(),
		catalogModule.Service(),
		notificationModule.Dispatcher(),
		eventBus,
		cfg.GetNotificationDeepLinkBase(),
		log,
	)

	rankingModule := ranking.NewModule(pool, progressModule.Store(), catalogModule.Service(), objects, cfg.GetMinioBucketExports(), val, log)

	engagementModule := engagement.NewModule(
		pool,
		evaluator,
		rankingModule.Service(),
		progressModule.Store(),
		catalogModule.Service(),
		notificationModule.Dispatcher(),
		cfg,
		log,
	)

	watcher := changefeed.NewWatcher(
		changefeed.Options{Buffer: cfg.GetChangeFeedBuffer(), Workers: cfg.GetChangeFeedWorkers()},
		progressModule.Classifier(),
		evaluator,
		progressModule.Updater(),
		quarantine,
		log,
	)
	listener := changefeed.NewListener(cfg.DatabaseURL, cfg.GetChangeFeedChannel(), watcher, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config: cfg,
		Logger: log,
		Health: db.NewPoolAdapter(pool),
		Modules: []apphttp.Module{
			catalogModule,
			rankingModule,
			engagementModule,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return watcher.Run(gctx)
	})
	g.Go(func() error {
		return listener.Run(gctx)
	})
	if mem, ok := quarantine.(*changefeed.MemoryQuarantine); ok {
		g.Go(func() error {
			mem.Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("engine stopped", "error", err)
		panic("engine stopped: " + err.Error())
	}

	stats := watcher.Stats()
	log.Info("engine stopped",
		"received", stats.Received,
		"processed", stats.Processed,
		"ignored", stats.Ignored,
		"quarantined", stats.Quarantined,
		"failed", stats.Failed,
	)
}

func initQuarantine(cfg *config.Config, log *logger.Logger) (changefeed.Quarantine, func()) {
	window := cfg.GetQuarantineWindow()
	maxHold := cfg.GetQuarantineMaxHold()

	if cfg.GetQuarantineBackend() != "redis" {
		return changefeed.NewMemoryQuarantine(window, maxHold), func() {}
	}

	client, err := changefeed.NewRedisClient(cfg.GetRedisURL(), cfg.GetRedisTLSInsecure())
	if err != nil {
		log.Error("failed to initialize redis quarantine", "error", err)
		panic("failed to initialize redis quarantine: " + err.Error())
	}
	log.Info("redis quarantine enabled", "window", window, "maxHold", maxHold)
	return changefeed.NewRedisQuarantine(client, window, maxHold, log), func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
