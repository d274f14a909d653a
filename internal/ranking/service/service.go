// Package service implements peer rankings, rank listings and exports.
package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"achievement_engine/internal/adapters/storage"
	catalogservice "achievement_engine/internal/catalog/service"
	"achievement_engine/internal/progress/domain"
	"achievement_engine/internal/ranking/repository"
	"achievement_engine/internal/ranking/transport"
	"achievement_engine/platform/apperr"
	"achievement_engine/platform/logger"
)

const (
	defaultPage  = 1
	defaultLimit = 10
	top3Size     = 3
	dateLayout   = "2006-01-02"
)

var competitorNamespace = uuid.MustParse("3d5b8f0e-2c4a-4e7b-9b61-7a0f1c2d3e4f")

// LadderSource provides the current catalog snapshot.
type LadderSource interface {
	Ladder(ctx context.Context) (*catalogservice.Ladder, error)
}

// ProgressReader loads a raw progress record.
type ProgressReader interface {
	Get(ctx context.Context, userID uuid.UUID) (domain.Record, error)
}

// Service answers ranking queries. It never writes progress.
type Service struct {
	repo     repository.Repository
	progress ProgressReader
	catalog  LadderSource
	objects  storage.ObjectStore
	bucket   string
	now      func() time.Time
	log      *logger.Logger
}

// New creates a ranking service. objects may be nil when no object storage is configured.
func New(repo repository.Repository, progress ProgressReader, catalog LadderSource, objects storage.ObjectStore, bucket string, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		progress: progress,
		catalog:  catalog,
		objects:  objects,
		bucket:   bucket,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// Top3 returns the three best users of the caller's cadre. Fewer than three
// real peers are padded with placeholder competitors; no peers at all is
// reported as no data.
func (s *Service) Top3(ctx context.Context, userID uuid.UUID) (transport.Top3Response, error) {
	cadreID, err := s.repo.PeerGroup(ctx, userID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return transport.Top3Response{NoData: true, Entries: []transport.RankEntry{}}, nil
		}
		return transport.Top3Response{}, apperr.Infrastructure("resolve peer group", err)
	}

	peers, err := s.repo.TopPeers(ctx, cadreID, top3Size)
	if err != nil {
		return transport.Top3Response{}, apperr.Infrastructure("load top peers", err)
	}
	if len(peers) == 0 {
		return transport.Top3Response{NoData: true, Entries: []transport.RankEntry{}}, nil
	}

	entries := make([]transport.RankEntry, 0, top3Size)
	for i, p := range peers {
		e := toRankEntry(p)
		e.Rank = i + 1
		e.Email = ""
		entries = append(entries, e)
	}

	if len(entries) < top3Size {
		ladder, err := s.catalog.Ladder(ctx)
		if err != nil {
			return transport.Top3Response{}, err
		}
		lowest, _ := ladder.LowestLevel()
		for n := 1; len(entries) < top3Size; n++ {
			entries = append(entries, competitor(n, len(entries)+1, lowest.ID, lowest.Label))
		}
	}
	return transport.Top3Response{Entries: entries}, nil
}

func competitor(n, rank int, levelID uuid.UUID, levelLabel string) transport.RankEntry {
	return transport.RankEntry{
		Rank:      rank,
		UserID:    uuid.NewSHA1(competitorNamespace, []byte(fmt.Sprintf("competitor-%d", n))),
		FullName:  fmt.Sprintf("Competitor %d", n),
		LevelID:   levelID,
		Level:     levelLabel,
		Synthetic: true,
	}
}

// RankedList returns one page of enriched progress records.
func (s *Service) RankedList(ctx context.Context, req transport.ListRequest) (transport.ListResponse, error) {
	params, err := parseListRequest(req)
	if err != nil {
		return transport.ListResponse{}, err
	}

	page := req.Page
	if page < 1 {
		page = defaultPage
	}
	limit := req.Limit
	if limit < 1 {
		limit = defaultLimit
	}
	params.Offset = (page - 1) * limit
	params.Limit = limit

	items, total, err := s.repo.List(ctx, params)
	if err != nil {
		return transport.ListResponse{}, apperr.Infrastructure("list progress", err)
	}

	resp := transport.ListResponse{
		Items:      make([]transport.RankEntry, 0, len(items)),
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}
	for _, item := range items {
		resp.Items = append(resp.Items, toRankEntry(item))
	}
	return resp, nil
}

// PercentComplete is round(taskCompleted / globalTotalTaskWeight * 100).
func (s *Service) PercentComplete(ctx context.Context, userID uuid.UUID) (transport.PercentCompleteResponse, error) {
	ladder, err := s.catalog.Ladder(ctx)
	if err != nil {
		return transport.PercentCompleteResponse{}, err
	}
	rec, err := s.progress.Get(ctx, userID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return transport.PercentCompleteResponse{NoData: true, GlobalTotalTaskWeight: ladder.GlobalTotalTaskWeight()}, nil
		}
		return transport.PercentCompleteResponse{}, apperr.Infrastructure("load progress", err)
	}
	return percentOf(rec.TaskCompleted, ladder.GlobalTotalTaskWeight()), nil
}

func percentOf(taskCompleted, total int) transport.PercentCompleteResponse {
	resp := transport.PercentCompleteResponse{TaskCompleted: taskCompleted, GlobalTotalTaskWeight: total}
	if total <= 0 {
		resp.NoData = true
		return resp
	}
	resp.Percent = int(math.Round(float64(taskCompleted) / float64(total) * 100))
	return resp
}

// MyProgress returns the caller's enriched record, history and completion.
func (s *Service) MyProgress(ctx context.Context, userID uuid.UUID) (transport.MyProgressResponse, error) {
	complete, err := s.PercentComplete(ctx, userID)
	if err != nil {
		return transport.MyProgressResponse{}, err
	}
	entry, err := s.repo.Progress(ctx, userID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return transport.MyProgressResponse{NoData: true, Complete: complete}, nil
		}
		return transport.MyProgressResponse{}, apperr.Infrastructure("load progress entry", err)
	}
	rec, err := s.progress.Get(ctx, userID)
	if err != nil {
		return transport.MyProgressResponse{}, apperr.Infrastructure("load progress history", err)
	}

	e := toRankEntry(entry)
	return transport.MyProgressResponse{Entry: &e, History: rec.History, Complete: complete}, nil
}

// PeerRanks ranks every user inside their cadre.
func (s *Service) PeerRanks(ctx context.Context) ([]repository.PeerRank, error) {
	ranks, err := s.repo.PeerRanks(ctx)
	if err != nil {
		return nil, apperr.Infrastructure("rank peers", err)
	}
	return ranks, nil
}

// parseListRequest validates ids, sort and dates. toDate covers the whole day.
func parseListRequest(req transport.ListRequest) (repository.ListParams, error) {
	var params repository.ListParams
	var err error

	if params.LevelID, err = parseOptionalID("levelId", req.LevelID); err != nil {
		return params, err
	}
	if params.BadgeID, err = parseOptionalID("badgeId", req.BadgeID); err != nil {
		return params, err
	}
	if params.UserID, err = parseOptionalID("userId", req.UserID); err != nil {
		return params, err
	}

	params.SortBy = repository.SortTaskCompleted
	if req.SortBy != "" {
		if !repository.ValidSortField(req.SortBy) {
			return params, apperr.Validation(fmt.Sprintf("unsupported sortBy %q", req.SortBy))
		}
		params.SortBy = repository.SortField(req.SortBy)
	}

	switch strings.ToLower(req.SortOrder) {
	case "", "desc":
		params.Desc = true
	case "asc":
		params.Desc = false
	default:
		return params, apperr.Validation(fmt.Sprintf("sortOrder must be asc or desc, got %q", req.SortOrder))
	}

	params.DateField = repository.DateUpdatedAt
	if req.DateField != "" {
		switch repository.DateField(req.DateField) {
		case repository.DateUpdatedAt, repository.DateCreatedAt:
			params.DateField = repository.DateField(req.DateField)
		default:
			return params, apperr.Validation(fmt.Sprintf("unsupported dateField %q", req.DateField))
		}
	}

	if req.FromDate != "" {
		from, err := time.Parse(dateLayout, req.FromDate)
		if err != nil {
			return params, apperr.Validation("fromDate must be YYYY-MM-DD")
		}
		params.FromDate = &from
	}
	if req.ToDate != "" {
		to, err := time.Parse(dateLayout, req.ToDate)
		if err != nil {
			return params, apperr.Validation("toDate must be YYYY-MM-DD")
		}
		end := to.AddDate(0, 0, 1)
		params.ToDate = &end
	}
	if params.FromDate != nil && params.ToDate != nil && !params.FromDate.Before(*params.ToDate) {
		return params, apperr.Validation("fromDate must not be after toDate")
	}
	return params, nil
}

func parseOptionalID(field, value string) (*uuid.UUID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return nil, apperr.Validation(fmt.Sprintf("invalid %s", field)).WithDetails(map[string]string{field: value})
	}
	return &id, nil
}

func toRankEntry(e repository.Entry) transport.RankEntry {
	return transport.RankEntry{
		UserID:        e.UserID,
		FullName:      e.FullName,
		Email:         e.Email,
		Cadre:         e.CadreName,
		LevelID:       e.LevelID,
		Level:         e.LevelLabel,
		BadgeID:       e.BadgeID,
		Badge:         e.BadgeLabel,
		TaskCompleted: e.TaskCompleted,
		Metrics:       e.Metrics,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}
