package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"achievement_engine/internal/notification/outbox"
	"achievement_engine/platform/config"
	"achievement_engine/platform/logger"
)

const (
	relayInterval    = 2 * time.Second
	relayBatchSize   = 50
	staleAfter       = 10 * time.Minute
	maxAttempts      = 5
	succeededTTL     = 7 * 24 * time.Hour
	maintenanceEvery = 5 * time.Minute
)

// OutboxStore is the part of the outbox the relay drives.
type OutboxStore interface {
	ClaimPending(ctx context.Context, limit int) ([]outbox.Record, error)
	MarkPending(ctx context.Context, id uuid.UUID, lastError *string) error
	RequeueStale(ctx context.Context, olderThan time.Duration, maxAttempts int) (int64, error)
	PurgeSucceeded(ctx context.Context, before time.Time) (int64, error)
}

// TaskEnqueuer is satisfied by *asynq.Client.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// OutboxRelay moves pending outbox rows onto the asynq queue.
type OutboxRelay struct {
	client *asynq.Client
	tasks  TaskEnqueuer
	queue  string
	repo   OutboxStore
	log    *logger.Logger
}

func NewOutboxRelay(cfg config.SchedulerConfig, repo OutboxStore, log *logger.Logger) (*OutboxRelay, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	client := asynq.NewClient(opt)
	return &OutboxRelay{
		client: client,
		tasks:  client,
		queue:  queueName(cfg),
		repo:   repo,
		log:    log,
	}, nil
}

func (d *OutboxRelay) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

func (d *OutboxRelay) Run(ctx context.Context) {
	if d == nil || d.tasks == nil || d.repo == nil {
		return
	}

	ticker := time.NewTicker(relayInterval)
	defer ticker.Stop()
	lastMaintenance := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		d.relayOnce(ctx)
		if time.Since(lastMaintenance) >= maintenanceEvery {
			d.maintain(ctx)
			lastMaintenance = time.Now()
		}
	}
}

// relayOnce enqueues one batch and returns how many rows were handed over.
func (d *OutboxRelay) relayOnce(ctx context.Context) int {
	records, err := d.repo.ClaimPending(ctx, relayBatchSize)
	if err != nil {
		d.log.Warn("outbox claim failed", "error", err)
		return 0
	}

	enqueued := 0
	for _, rec := range records {
		task, err := NewNotificationOutboxDueTask(NotificationOutboxDuePayload{
			OutboxID: rec.ID.String(),
			Kind:     rec.Kind,
			Payload:  rec.Payload,
		})
		if err != nil {
			msg := err.Error()
			_ = d.repo.MarkPending(ctx, rec.ID, &msg)
			continue
		}

		_, err = d.tasks.EnqueueContext(ctx, task, asynq.ProcessAt(rec.RunAt), asynq.Queue(d.queue))
		if err != nil {
			msg := err.Error()
			_ = d.repo.MarkPending(ctx, rec.ID, &msg)
			continue
		}
		enqueued++
	}
	return enqueued
}

func (d *OutboxRelay) maintain(ctx context.Context) {
	if n, err := d.repo.RequeueStale(ctx, staleAfter, maxAttempts); err != nil {
		d.log.Warn("outbox requeue failed", "error", err)
	} else if n > 0 {
		d.log.Info("outbox rows requeued", "count", n)
	}
	if n, err := d.repo.PurgeSucceeded(ctx, time.Now().Add(-succeededTTL)); err != nil {
		d.log.Warn("outbox purge failed", "error", err)
	} else if n > 0 {
		d.log.Info("outbox rows purged", "count", n)
	}
}
