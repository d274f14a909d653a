package achievement

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultSweepConcurrency = 8

// SweepSummary counts the results of a batch sweep.
type SweepSummary struct {
	Scanned  int
	Promoted int
	Failed   int
}

// Sweep evaluates every user whose progress changed since the given time. A
// failure for one user is logged and counted; the rest of the batch continues.
func (e *Evaluator) Sweep(ctx context.Context, since time.Time) (SweepSummary, error) {
	userIDs, err := e.store.ListUpdatedSince(ctx, since)
	if err != nil {
		return SweepSummary{}, fmt.Errorf("list users to sweep: %w", err)
	}
	return e.SweepUsers(ctx, userIDs), nil
}

// SweepUsers runs one transition per user with bounded concurrency. Users
// who qualify for further badges advance on the next event or sweep.
func (e *Evaluator) SweepUsers(ctx context.Context, userIDs []uuid.UUID) SweepSummary {
	var promoted, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultSweepConcurrency)
	for _, userID := range userIDs {
		g.Go(func() error {
			out, err := e.evaluateIsolated(gctx, userID)
			if err != nil {
				failed.Add(1)
				e.log.EvaluationFailed("sweep", userID.String(), err)
				return nil
			}
			if out.Status == StatusPromoted {
				promoted.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := SweepSummary{
		Scanned:  len(userIDs),
		Promoted: int(promoted.Load()),
		Failed:   int(failed.Load()),
	}
	e.log.Info("achievement sweep finished", "scanned", summary.Scanned, "promoted", summary.Promoted, "failed", summary.Failed)
	return summary
}

func (e *Evaluator) evaluateIsolated(ctx context.Context, userID uuid.UUID) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.Evaluate(ctx, userID)
}
