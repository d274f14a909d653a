// Package engagement implements the scheduled entry points: inactivity
// reminders, leaderboard snapshots and downfall alerts, pending-badge nudges
// and the evaluator sweep. The engine owns no timer; the scheduler calls in.
package engagement

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"achievement_engine/internal/achievement"
	"achievement_engine/internal/engagement/repository"
	"achievement_engine/internal/notification"
	"achievement_engine/internal/progress/domain"
	rankingrepo "achievement_engine/internal/ranking/repository"
	"achievement_engine/platform/apperr"
	"achievement_engine/platform/logger"
)

const jobConcurrency = 8

// RunSummary counts the results of one scheduled run.
type RunSummary struct {
	Scanned  int `json:"scanned"`
	Notified int `json:"notified"`
	Failed   int `json:"failed"`
}

// Sweeper runs the evaluator batch sweep.
type Sweeper interface {
	Sweep(ctx context.Context, since time.Time) (achievement.SweepSummary, error)
}

// RankSource ranks every user inside their peer group.
type RankSource interface {
	PeerRanks(ctx context.Context) ([]rankingrepo.PeerRank, error)
}

// ProgressReader loads one progress record.
type ProgressReader interface {
	Get(ctx context.Context, userID uuid.UUID) (domain.Record, error)
}

// Settings tunes the scheduled jobs.
type Settings struct {
	SweepLookback  time.Duration
	InactivityDays int
	DeepLink       string
}

// Service runs the scheduled entry points.
type Service struct {
	repo       repository.Repository
	sweeper    Sweeper
	ranks      RankSource
	progress   ProgressReader
	catalog    achievement.LadderSource
	dispatcher notification.Dispatcher
	settings   Settings
	now        func() time.Time
	log        *logger.Logger
}

// New creates the engagement service.
func New(repo repository.Repository, sweeper Sweeper, ranks RankSource, progress ProgressReader, catalog achievement.LadderSource, dispatcher notification.Dispatcher, settings Settings, log *logger.Logger) *Service {
	if settings.SweepLookback <= 0 {
		settings.SweepLookback = 24 * time.Hour
	}
	if settings.InactivityDays <= 0 {
		settings.InactivityDays = 5
	}
	return &Service{
		repo:       repo,
		sweeper:    sweeper,
		ranks:      ranks,
		progress:   progress,
		catalog:    catalog,
		dispatcher: dispatcher,
		settings:   settings,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log.WithComponent("engagement"),
	}
}

// Handle5DayInactivity reminds users whose last activity is older than the
// configured number of days. Each activity gap is reminded about once.
func (s *Service) Handle5DayInactivity(ctx context.Context) (RunSummary, error) {
	cutoff := s.now().AddDate(0, 0, -s.settings.InactivityDays)
	users, err := s.repo.InactiveUsers(ctx, cutoff)
	if err != nil {
		return RunSummary{}, apperr.Infrastructure("list inactive users", err)
	}

	lastSeen := make(map[uuid.UUID]time.Time, len(users))
	ids := make([]uuid.UUID, 0, len(users))
	for _, u := range users {
		lastSeen[u.UserID] = u.LastActivityAt
		ids = append(ids, u.UserID)
	}

	return s.forEachUser(ctx, "inactivity", ids, func(ctx context.Context, userID uuid.UUID) (bool, error) {
		err := s.dispatcher.Dispatch(ctx, notification.Request{
			Kind:             notification.KindInactivityReminder,
			Title:            "We miss you",
			Description:      fmt.Sprintf("You have not been active for %d days. Your next badge is waiting.", s.settings.InactivityDays),
			RecipientUserIDs: []uuid.UUID{userID},
			DeepLink:         s.settings.DeepLink,
		})
		if err != nil {
			return false, err
		}
		if err := s.repo.MarkReminded(ctx, userID, lastSeen[userID]); err != nil {
			// the reminder went out; the same gap may be reminded again next run
			s.log.Warn("mark reminded failed", "userId", userID, "error", err)
		}
		return true, nil
	}), nil
}

// SweepRecent evaluates every user whose progress changed within the lookback.
func (s *Service) SweepRecent(ctx context.Context) (RunSummary, error) {
	summary, err := s.sweeper.Sweep(ctx, s.now().Add(-s.settings.SweepLookback))
	if err != nil {
		return RunSummary{}, apperr.Infrastructure("sweep", err)
	}
	return RunSummary{Scanned: summary.Scanned, Notified: summary.Promoted, Failed: summary.Failed}, nil
}

// HandleLeaderBoardUpdate sweeps recent progress, then snapshots every
// user's peer-group rank as the baseline for downfall detection.
func (s *Service) HandleLeaderBoardUpdate(ctx context.Context) (RunSummary, error) {
	summary, err := s.SweepRecent(ctx)
	if err != nil {
		return summary, err
	}

	ranks, err := s.ranks.PeerRanks(ctx)
	if err != nil {
		return summary, apperr.Infrastructure("rank peers", err)
	}
	takenAt := s.now()
	snapshots := make([]repository.Snapshot, 0, len(ranks))
	for _, r := range ranks {
		snapshots = append(snapshots, repository.Snapshot{
			UserID:        r.UserID,
			CadreID:       r.CadreID,
			Rank:          r.Rank,
			TaskCompleted: r.TaskCompleted,
			TakenAt:       takenAt,
		})
	}
	if err := s.repo.ReplaceSnapshots(ctx, snapshots); err != nil {
		return summary, apperr.Infrastructure("store leaderboard snapshot", err)
	}

	s.log.Info("leaderboard snapshot stored", "users", len(snapshots))
	return summary, nil
}

// HandleLeaderBoardDownFall notifies users whose rank number grew since the
// last snapshot. Users who changed peer group are skipped.
func (s *Service) HandleLeaderBoardDownFall(ctx context.Context) (RunSummary, error) {
	previous, err := s.repo.Snapshots(ctx)
	if err != nil {
		return RunSummary{}, apperr.Infrastructure("load leaderboard snapshot", err)
	}
	ranks, err := s.ranks.PeerRanks(ctx)
	if err != nil {
		return RunSummary{}, apperr.Infrastructure("rank peers", err)
	}

	fallen := make(map[uuid.UUID][2]int)
	ids := make([]uuid.UUID, 0)
	for _, r := range ranks {
		prev, ok := previous[r.UserID]
		if !ok || !sameGroup(prev.CadreID, r.CadreID) || r.Rank <= prev.Rank {
			continue
		}
		fallen[r.UserID] = [2]int{prev.Rank, r.Rank}
		ids = append(ids, r.UserID)
	}

	summary := s.forEachUser(ctx, "leaderboard_downfall", ids, func(ctx context.Context, userID uuid.UUID) (bool, error) {
		change := fallen[userID]
		err := s.dispatcher.Dispatch(ctx, notification.Request{
			Kind:             notification.KindLeaderBoardDownFall,
			Title:            "Your rank dropped",
			Description:      fmt.Sprintf("You moved from #%d to #%d among your peers.", change[0], change[1]),
			RecipientUserIDs: []uuid.UUID{userID},
			DeepLink:         s.settings.DeepLink,
			Data:             map[string]string{"oldRank": strconv.Itoa(change[0]), "newRank": strconv.Itoa(change[1])},
		})
		return err == nil, err
	})
	summary.Scanned = len(ranks)
	return summary, nil
}

// HandleLeaderBoardPendingBadge nudges users who meet some but not all of
// their next badge's thresholds.
func (s *Service) HandleLeaderBoardPendingBadge(ctx context.Context) (RunSummary, error) {
	ladder, err := s.catalog.Ladder(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	ids, err := s.repo.ProgressUserIDs(ctx)
	if err != nil {
		return RunSummary{}, apperr.Infrastructure("list progress users", err)
	}

	return s.forEachUser(ctx, "pending_badge", ids, func(ctx context.Context, userID uuid.UUID) (bool, error) {
		rec, err := s.progress.Get(ctx, userID)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				return false, nil
			}
			return false, err
		}

		out := achievement.Inspect(ladder, rec)
		if out.Status != achievement.StatusBlocked || len(out.Unmet) == len(domain.AllMetrics) {
			return false, nil
		}

		missing := len(out.Unmet)
		err = s.dispatcher.Dispatch(ctx, notification.Request{
			Kind:             notification.KindPendingBadge,
			Title:            "You are close to a new badge",
			Description:      fmt.Sprintf("Complete %d more goal(s) to earn %s.", missing, out.Candidate.Badge.Label),
			RecipientUserIDs: []uuid.UUID{userID},
			DeepLink:         s.settings.DeepLink,
			NewLevel:         out.Candidate.Level.Label,
			NewBadge:         out.Candidate.Badge.Label,
			Data:             map[string]string{"missingMetrics": strconv.Itoa(missing)},
		})
		return err == nil, err
	}), nil
}

// forEachUser runs fn per user with bounded concurrency. A failing or
// panicking user is logged and counted without stopping the others.
func (s *Service) forEachUser(ctx context.Context, job string, ids []uuid.UUID, fn func(context.Context, uuid.UUID) (bool, error)) RunSummary {
	var notified, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobConcurrency)
	for _, userID := range ids {
		g.Go(func() error {
			sent, err := isolate(gctx, userID, fn)
			if err != nil {
				failed.Add(1)
				s.log.EvaluationFailed(job, userID.String(), err)
				return nil
			}
			if sent {
				notified.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := RunSummary{Scanned: len(ids), Notified: int(notified.Load()), Failed: int(failed.Load())}
	s.log.Info("scheduled job finished", "job", job, "scanned", summary.Scanned, "notified", summary.Notified, "failed", summary.Failed)
	return summary
}

func isolate(ctx context.Context, userID uuid.UUID, fn func(context.Context, uuid.UUID) (bool, error)) (sent bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, userID)
}

func sameGroup(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Job names accepted by Run. The scheduler task types map onto these.
const (
	JobInactivity          = "inactivity"
	JobLeaderBoardUpdate   = "leaderboard_update"
	JobLeaderBoardDownFall = "leaderboard_downfall"
	JobPendingBadge        = "pending_badge"
	JobSweep               = "sweep"
)

// Jobs lists every runnable job name.
var Jobs = []string{JobInactivity, JobLeaderBoardUpdate, JobLeaderBoardDownFall, JobPendingBadge, JobSweep}

// Run invokes the entry point registered under name.
func (s *Service) Run(ctx context.Context, name string) (RunSummary, error) {
	jobs := map[string]func(context.Context) (RunSummary, error){
		JobInactivity:          s.Handle5DayInactivity,
		JobLeaderBoardUpdate:   s.HandleLeaderBoardUpdate,
		JobLeaderBoardDownFall: s.HandleLeaderBoardDownFall,
		JobPendingBadge:        s.HandleLeaderBoardPendingBadge,
		JobSweep:               s.SweepRecent,
	}
	job, ok := jobs[name]
	if !ok {
		return RunSummary{}, apperr.NotFound(fmt.Sprintf("unknown job %q", name))
	}
	return job(ctx)
}
