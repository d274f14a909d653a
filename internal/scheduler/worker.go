package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"achievement_engine/internal/engagement"
	"achievement_engine/internal/events"
	"achievement_engine/platform/config"
	"achievement_engine/platform/logger"
)

// JobRunner runs a named scheduled entry point.
type JobRunner interface {
	Run(ctx context.Context, name string) (engagement.RunSummary, error)
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	jobs   JobRunner
	bus    events.Bus
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, jobs JobRunner, bus events.Bus, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	w := newWorker(jobs, bus, log)
	w.server = server
	return w, nil
}

func newWorker(jobs JobRunner, bus events.Bus, log *logger.Logger) *Worker {
	mux := asynq.NewServeMux()
	w := &Worker{
		mux:  mux,
		jobs: jobs,
		bus:  bus,
		log:  log,
	}

	mux.HandleFunc(TaskNotificationOutboxDue, w.handleNotificationOutboxDue)
	for _, job := range engagement.Jobs {
		mux.HandleFunc(JobTaskType(job), w.handleJob)
	}
	return w
}

func (w *Worker) handleNotificationOutboxDue(ctx context.Context, task *asynq.Task) error {
	if w.bus == nil {
		return nil
	}

	payload, err := ParseNotificationOutboxDuePayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	outboxID, err := uuid.Parse(payload.OutboxID)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	return w.bus.PublishSync(ctx, events.NotificationOutboxDue{
		BaseEvent: events.NewBaseEvent(),
		OutboxID:  outboxID,
		Kind:      payload.Kind,
		Payload:   payload.Payload,
	})
}

func (w *Worker) handleJob(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseJobPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	summary, err := w.jobs.Run(ctx, payload.Job)
	if err != nil {
		w.log.Error("scheduled job failed", "job", payload.Job, "error", err)
		return err
	}
	w.log.Info("scheduled job complete", "job", payload.Job, "scanned", summary.Scanned, "notified", summary.Notified, "failed", summary.Failed)
	return nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
