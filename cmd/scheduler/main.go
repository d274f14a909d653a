package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"achievement_engine/internal/achievement"
	"achievement_engine/internal/catalog"
	catalogrepo "achievement_engine/internal/catalog/repository"
	"achievement_engine/internal/engagement"
	"achievement_engine/internal/events"
	"achievement_engine/internal/notification"
	"achievement_engine/internal/progress"
	"achievement_engine/internal/ranking"
	"achievement_engine/internal/scheduler"
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
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	eventBus := events.NewInMemoryBus(log)

	notificationModule := notification.New(pool, eventBus, log)
	notificationModule.RegisterHandlers(eventBus)

	// Worker-side engine wiring (no HTTP handlers required).
	catalogModule := catalog.NewModule(catalogrepo.New(pool), log)
	progressModule, err := progress.NewModule(pool, cfg, log)
	if err != nil {
		log.Error("failed to initialize progress module", "error", err)
		panic("failed to initialize progress module: " + err.Error())
	}

	evaluator := achievement.NewEvaluator(
		progressModule.Store(),
		catalogModule.Service(),
		notificationModule.Dispatcher(),
		eventBus,
		cfg.GetNotificationDeepLinkBase(),
		log,
	)

	// Exports are served by the engine; the scheduler only needs peer ranks.
	rankingModule := ranking.NewModule(pool, progressModule.Store(), catalogModule.Service(), nil, "", validator.New(), log)

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

	relay, err := scheduler.NewOutboxRelay(cfg, notificationModule.Outbox(), log)
	if err != nil {
		log.Error("failed to initialize outbox relay", "error", err)
		panic("failed to initialize outbox relay: " + err.Error())
	}
	defer func() { _ = relay.Close() }()
	go relay.Run(ctx)

	periodic, err := scheduler.NewPeriodic(cfg, cfg, log)
	if err != nil {
		log.Error("failed to initialize periodic jobs", "error", err)
		panic("failed to initialize periodic jobs: " + err.Error())
	}
	go func() {
		if err := periodic.Run(ctx); err != nil {
			log.Error("periodic scheduler stopped", "error", err)
		}
	}()

	worker, err := scheduler.NewWorker(cfg, engagementModule.Service(), eventBus, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
	eventBus.Wait()
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
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
