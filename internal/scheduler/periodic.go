package scheduler

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"achievement_engine/internal/engagement"
	"achievement_engine/platform/config"
	"achievement_engine/platform/logger"
)

// PeriodicJob pairs a cron spec with the job it triggers.
type PeriodicJob struct {
	Spec string
	Job  string
}

// PeriodicJobs returns the configured cron entries. Empty specs disable a job.
func PeriodicJobs(cfg config.CronConfig) []PeriodicJob {
	all := []PeriodicJob{
		{Spec: cfg.GetCronInactivity(), Job: engagement.JobInactivity},
		{Spec: cfg.GetCronLeaderBoardUpdate(), Job: engagement.JobLeaderBoardUpdate},
		{Spec: cfg.GetCronLeaderBoardDownFall(), Job: engagement.JobLeaderBoardDownFall},
		{Spec: cfg.GetCronPendingBadge(), Job: engagement.JobPendingBadge},
		{Spec: cfg.GetCronSweep(), Job: engagement.JobSweep},
	}
	jobs := make([]PeriodicJob, 0, len(all))
	for _, j := range all {
		if j.Spec != "" {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// Periodic enqueues the engagement jobs on their cron schedules.
type Periodic struct {
	scheduler *asynq.Scheduler
	log       *logger.Logger
}

func NewPeriodic(cfg config.SchedulerConfig, cron config.CronConfig, log *logger.Logger) (*Periodic, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				log.Warn("periodic job not enqueued", "error", err)
			}
		},
	})

	queue := queueName(cfg)
	for _, job := range PeriodicJobs(cron) {
		task, err := NewJobTask(job.Job)
		if err != nil {
			return nil, err
		}
		entryID, err := scheduler.Register(job.Spec, task,
			asynq.Queue(queue),
			asynq.Timeout(jobTimeout),
			asynq.Unique(jobTimeout),
			asynq.MaxRetry(1),
		)
		if err != nil {
			return nil, fmt.Errorf("register %s (%s): %w", job.Job, job.Spec, err)
		}
		log.Info("periodic job registered", "job", job.Job, "spec", job.Spec, "entryId", entryID)
	}

	return &Periodic{scheduler: scheduler, log: log}, nil
}

// Run blocks until ctx is done.
func (p *Periodic) Run(ctx context.Context) error {
	if err := p.scheduler.Start(); err != nil {
		return fmt.Errorf("start periodic scheduler: %w", err)
	}
	<-ctx.Done()
	p.scheduler.Shutdown()
	return nil
}
