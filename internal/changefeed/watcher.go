package changefeed

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"achievement_engine/internal/achievement"
	"achievement_engine/internal/progress/domain"
	"achievement_engine/platform/logger"
)

// ActivityClassifier routes an inserted activity row to a progress update.
type ActivityClassifier interface {
	Classify(ctx context.Context, a domain.Activity) error
}

// ProgressEvaluator runs one badge transition for a user. A user who
// qualifies for several badges advances one per change event.
type ProgressEvaluator interface {
	Evaluate(ctx context.Context, userID uuid.UUID) (achievement.Outcome, error)
}

// AssessmentRecomputer rebuilds a user's assessment metrics.
type AssessmentRecomputer interface {
	RecomputeAssessmentStats(ctx context.Context, userID uuid.UUID) (domain.Record, error)
}

// Options sizes the per-stream queues and the shared worker pool.
type Options struct {
	Buffer  int
	Workers int
}

// Stats counts watcher decisions since start.
type Stats struct {
	Received    int64
	Processed   int64
	Ignored     int64
	Quarantined int64
	Failed      int64
}

// Watcher consumes change events. Each stream has its own bounded queue and
// consumer; consumers hand events to a worker pool shared by all streams.
type Watcher struct {
	classifier  ActivityClassifier
	evaluator   ProgressEvaluator
	assessments AssessmentRecomputer
	quarantine  Quarantine
	queues      map[Stream]chan ChangeEvent
	workers     int
	log         *logger.Logger

	received    atomic.Int64
	processed   atomic.Int64
	ignored     atomic.Int64
	quarantined atomic.Int64
	failed      atomic.Int64
}

// NewWatcher creates a watcher.
func NewWatcher(opts Options, classifier ActivityClassifier, evaluator ProgressEvaluator, assessments AssessmentRecomputer, quarantine Quarantine, log *logger.Logger) *Watcher {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	queues := make(map[Stream]chan ChangeEvent, len(Streams))
	for _, s := range Streams {
		queues[s] = make(chan ChangeEvent, opts.Buffer)
	}
	return &Watcher{
		classifier:  classifier,
		evaluator:   evaluator,
		assessments: assessments,
		quarantine:  quarantine,
		queues:      queues,
		workers:     opts.Workers,
		log:         log.WithComponent("changefeed"),
	}
}

// Submit queues an event on its stream. It blocks while the queue is full.
func (w *Watcher) Submit(ctx context.Context, ev ChangeEvent) error {
	queue, ok := w.queues[ev.Stream]
	if !ok {
		return fmt.Errorf("unknown stream %q", ev.Stream)
	}
	select {
	case queue <- ev:
		w.received.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes every stream until ctx is done, then waits for in-flight work.
func (w *Watcher) Run(ctx context.Context) error {
	var pool errgroup.Group
	pool.SetLimit(w.workers)

	consumers, cctx := errgroup.WithContext(ctx)
	for stream, queue := range w.queues {
		consumers.Go(func() error {
			w.log.Info("stream consumer started", "stream", stream)
			for {
				select {
				case <-cctx.Done():
					return nil
				case ev := <-queue:
					pool.Go(func() error {
						w.handle(ctx, ev)
						return nil
					})
				}
			}
		})
	}

	err := consumers.Wait()
	_ = pool.Wait()
	return err
}

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Received:    w.received.Load(),
		Processed:   w.processed.Load(),
		Ignored:     w.ignored.Load(),
		Quarantined: w.quarantined.Load(),
		Failed:      w.failed.Load(),
	}
}

// handle processes one event. Failures are logged, never returned, so one bad
// event cannot stop a stream.
func (w *Watcher) handle(ctx context.Context, ev ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			w.failed.Add(1)
			w.log.Error("change event handler panicked", "stream", ev.Stream, "documentId", ev.DocumentID, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	ctx = context.WithValue(ctx, logger.StreamKey, string(ev.Stream))
	var err error
	switch ev.Stream {
	case StreamActivity:
		err = w.handleActivity(ctx, ev)
	case StreamProgress:
		err = w.guarded(ctx, ev, w.handleProgress)
	case StreamAssessment:
		err = w.guarded(ctx, ev, w.handleAssessment)
	}
	if err != nil {
		w.failed.Add(1)
		w.log.WithContext(ctx).Error("change event failed", "documentId", ev.DocumentID, "error", err)
	}
}

func (w *Watcher) handleActivity(ctx context.Context, ev ChangeEvent) error {
	if ev.Operation != OperationInsert {
		w.ignore(ev, "activity rows are append only")
		return nil
	}
	activity, err := ev.Activity()
	if err != nil {
		return err
	}
	if err := w.classifier.Classify(ctx, activity); err != nil {
		return err
	}
	w.processed.Add(1)
	return nil
}

// guarded applies the self-update filter and the quarantine set before fn.
func (w *Watcher) guarded(ctx context.Context, ev ChangeEvent, fn func(context.Context, ChangeEvent) error) error {
	if self, reason := ev.SelfUpdate(); self {
		w.ignore(ev, reason)
		return nil
	}

	acquired, err := w.quarantine.Acquire(ctx, ev.DocumentID)
	if err != nil {
		// the quarantine only saves work, so process anyway
		w.log.Warn("quarantine unavailable", "documentId", ev.DocumentID, "error", err)
		acquired = true
	}
	if !acquired {
		w.quarantined.Add(1)
		w.ignore(ev, "quarantined")
		return nil
	}
	defer w.quarantine.Release(context.WithoutCancel(ctx), ev.DocumentID)

	if err := fn(ctx, ev); err != nil {
		return err
	}
	w.processed.Add(1)
	return nil
}

func (w *Watcher) handleProgress(ctx context.Context, ev ChangeEvent) error {
	userID, err := ev.UserID()
	if err != nil {
		return err
	}
	out, err := w.evaluator.Evaluate(ctx, userID)
	if err != nil {
		return fmt.Errorf("evaluate %s: %w", userID, err)
	}
	if out.Status == achievement.StatusPromoted {
		w.log.Info("progress evaluated", "userId", userID, "newBadge", out.Candidate.Badge.Label)
	}
	return nil
}

func (w *Watcher) handleAssessment(ctx context.Context, ev ChangeEvent) error {
	userID, err := ev.UserID()
	if err != nil {
		return err
	}
	if _, err := w.assessments.RecomputeAssessmentStats(ctx, userID); err != nil {
		return fmt.Errorf("recompute assessments %s: %w", userID, err)
	}
	return nil
}

func (w *Watcher) ignore(ev ChangeEvent, reason string) {
	w.ignored.Add(1)
	w.log.ChangeEventIgnored(string(ev.Stream), ev.DocumentID, reason)
}
