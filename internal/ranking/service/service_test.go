package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"achievement_engine/internal/adapters/storage"
	catalogrepo "achievement_engine/internal/catalog/repository"
	catalogservice "achievement_engine/internal/catalog/service"
	"achievement_engine/internal/progress/domain"
	progressrepo "achievement_engine/internal/progress/repository"
	"achievement_engine/internal/ranking/repository"
	"achievement_engine/internal/ranking/transport"
	"achievement_engine/platform/apperr"
	"achievement_engine/platform/logger"
)

type staticLadder struct {
	ladder *catalogservice.Ladder
}

func (s staticLadder) Ladder(context.Context) (*catalogservice.Ladder, error) {
	return s.ladder, nil
}

type fakeObjects struct {
	bucket string
	key    string
	body   []byte
}

func (f *fakeObjects) EnsureBucketExists(_ context.Context, bucket string) error {
	f.bucket = bucket
	return nil
}

func (f *fakeObjects) UploadFile(_ context.Context, _, folder, fileName, _ string, reader io.Reader, _ int64) (string, error) {
	body, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	f.body = body
	f.key = folder + "/" + fileName
	return f.key, nil
}

func (f *fakeObjects) GenerateDownloadURL(_ context.Context, _, fileKey string) (*storage.PresignedURL, error) {
	return &storage.PresignedURL{URL: "https://objects.test/" + fileKey, ExpiresAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}, nil
}

type fixture struct {
	catalog  *catalogrepo.Static
	ladder   *catalogservice.Ladder
	progress *progressrepo.Memory
	ranks    *repository.Memory
	objects  *fakeObjects
	svc      *Service
	cadre    uuid.UUID
}

// two levels of two badges, weight 5 each: global weight 20
func newFixture() *fixture {
	cat := catalogrepo.Sequential(2, 2, 5, domain.Metrics{AppOpenedCount: 1})
	ladder := catalogservice.NewLadder(cat.Levels, cat.Badges, cat.Tasks)
	progress := progressrepo.NewMemory(cat.Levels[0].ID)
	ranks := repository.NewMemory(progress, ladder)
	objects := &fakeObjects{}
	return &fixture{
		catalog:  cat,
		ladder:   ladder,
		progress: progress,
		ranks:    ranks,
		objects:  objects,
		svc:      New(ranks, progress, staticLadder{ladder: ladder}, objects, "exports", logger.Nop()),
		cadre:    uuid.New(),
	}
}

func (f *fixture) addUser(name string, taskCompleted int, updatedAt time.Time) uuid.UUID {
	id := uuid.New()
	cadre := f.cadre
	f.ranks.AddUser(repository.User{ID: id, FullName: name, Email: strings.ToLower(name) + "@example.com", CadreID: &cadre, CadreName: "Nurses"})
	f.progress.Put(domain.Record{
		ID:            uuid.New(),
		UserID:        id,
		LevelID:       f.catalog.Levels[0].ID,
		TaskCompleted: taskCompleted,
		CreatedAt:     updatedAt,
		UpdatedAt:     updatedAt,
	})
	return id
}

func TestTop3PadsWithCompetitors(t *testing.T) {
	f := newFixture()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	alice := f.addUser("Alice", 10, base)
	f.addUser("Bob", 15, base)

	resp, err := f.svc.Top3(context.Background(), alice)
	if err != nil {
		t.Fatalf("top3: %v", err)
	}
	if resp.NoData {
		t.Fatalf("expected data")
	}
	if len(resp.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(resp.Entries))
	}
	if resp.Entries[0].FullName != "Bob" || resp.Entries[1].FullName != "Alice" {
		t.Fatalf("unexpected order: %s, %s", resp.Entries[0].FullName, resp.Entries[1].FullName)
	}
	pad := resp.Entries[2]
	if !pad.Synthetic || pad.FullName != "Competitor 1" || pad.Rank != 3 {
		t.Fatalf("unexpected padding entry: %+v", pad)
	}
	if pad.Level != "Level1" {
		t.Fatalf("expected padding at lowest level, got %q", pad.Level)
	}
	for _, e := range resp.Entries {
		if e.Email != "" {
			t.Fatalf("expected emails hidden, got %q", e.Email)
		}
	}
}

func TestTop3PaddingIsStable(t *testing.T) {
	first := competitor(2, 3, uuid.Nil, "Level1")
	second := competitor(2, 3, uuid.Nil, "Level1")
	if first.UserID != second.UserID {
		t.Fatalf("expected deterministic competitor ids")
	}
}

func TestTop3NoData(t *testing.T) {
	f := newFixture()

	resp, err := f.svc.Top3(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("top3: %v", err)
	}
	if !resp.NoData || len(resp.Entries) != 0 {
		t.Fatalf("expected no data, got %+v", resp)
	}
}

func TestTop3WithoutCadreIsNoData(t *testing.T) {
	f := newFixture()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f.addUser("Alice", 10, base)
	loners := make([]uuid.UUID, 2)
	for i := range loners {
		loners[i] = uuid.New()
		f.ranks.AddUser(repository.User{ID: loners[i], FullName: fmt.Sprintf("Loner %d", i)})
		f.progress.Put(domain.Record{UserID: loners[i], LevelID: f.catalog.Levels[0].ID, TaskCompleted: 5, UpdatedAt: base})
	}

	resp, err := f.svc.Top3(context.Background(), loners[0])
	if err != nil {
		t.Fatalf("top3: %v", err)
	}
	if !resp.NoData || len(resp.Entries) != 0 {
		t.Fatalf("expected users without a cadre to get no data, got %+v", resp)
	}

	ranks, err := f.svc.PeerRanks(context.Background())
	if err != nil {
		t.Fatalf("peer ranks: %v", err)
	}
	if len(ranks) != 1 {
		t.Fatalf("expected only the cadre member to be ranked, got %d", len(ranks))
	}
}

func TestRankedListSecondPage(t *testing.T) {
	f := newFixture()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 25; i++ {
		f.addUser(fmt.Sprintf("User%02d", i), i, base.Add(time.Duration(i)*time.Minute))
	}

	resp, err := f.svc.RankedList(context.Background(), transport.ListRequest{
		SortBy:    string(repository.SortTaskCompleted),
		SortOrder: "asc",
		Page:      2,
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if resp.Total != 25 || resp.TotalPages != 3 {
		t.Fatalf("expected total 25 over 3 pages, got %d over %d", resp.Total, resp.TotalPages)
	}
	if len(resp.Items) != 10 {
		t.Fatalf("expected 10 items, got %d", len(resp.Items))
	}
	if resp.Items[0].TaskCompleted != 11 || resp.Items[9].TaskCompleted != 20 {
		t.Fatalf("expected items 11..20, got %d..%d", resp.Items[0].TaskCompleted, resp.Items[9].TaskCompleted)
	}
}

func TestRankedListDefaults(t *testing.T) {
	f := newFixture()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 12; i++ {
		f.addUser(fmt.Sprintf("User%02d", i), i, base)
	}

	resp, err := f.svc.RankedList(context.Background(), transport.ListRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if resp.Page != 1 || resp.Limit != 10 || len(resp.Items) != 10 {
		t.Fatalf("unexpected defaults: page=%d limit=%d items=%d", resp.Page, resp.Limit, len(resp.Items))
	}
	if resp.Items[0].TaskCompleted != 12 {
		t.Fatalf("expected descending taskCompleted by default, got %d first", resp.Items[0].TaskCompleted)
	}
}

func TestRankedListRejectsMalformedFilters(t *testing.T) {
	f := newFixture()
	cases := []transport.ListRequest{
		{LevelID: "not-a-uuid"},
		{BadgeID: "123"},
		{SortBy: "password"},
		{FromDate: "2026-03-05", ToDate: "2026-03-01"},
	}
	for _, req := range cases {
		_, err := f.svc.RankedList(context.Background(), req)
		if !apperr.Is(err, apperr.KindValidation) {
			t.Fatalf("expected validation error for %+v, got %v", req, err)
		}
	}
}

func TestRankedListToDateIsInclusive(t *testing.T) {
	f := newFixture()
	f.addUser("Early", 1, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	f.addUser("Late", 2, time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC))
	f.addUser("After", 3, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC))

	resp, err := f.svc.RankedList(context.Background(), transport.ListRequest{FromDate: "2026-03-01", ToDate: "2026-03-02"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if resp.Total != 2 {
		t.Fatalf("expected 2 records inside the range, got %d", resp.Total)
	}
}

func TestRankedListFiltersByLevel(t *testing.T) {
	f := newFixture()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f.addUser("Stays", 1, base)
	climber := f.addUser("Climber", 12, base)
	rec, _ := f.progress.Get(context.Background(), climber)
	rec.LevelID = f.catalog.Levels[1].ID
	f.progress.Put(rec)

	resp, err := f.svc.RankedList(context.Background(), transport.ListRequest{LevelID: f.catalog.Levels[1].ID.String()})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if resp.Total != 1 || resp.Items[0].FullName != "Climber" || resp.Items[0].Level != "Level2" {
		t.Fatalf("unexpected filter result: %+v", resp.Items)
	}
}

func TestPercentComplete(t *testing.T) {
	f := newFixture()
	user := f.addUser("Alice", 7, time.Now())

	resp, err := f.svc.PercentComplete(context.Background(), user)
	if err != nil {
		t.Fatalf("percent: %v", err)
	}
	// 7 / 20 = 35%
	if resp.NoData || resp.Percent != 35 || resp.GlobalTotalTaskWeight != 20 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	resp, err = f.svc.PercentComplete(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("percent: %v", err)
	}
	if !resp.NoData {
		t.Fatalf("expected no data for unknown user")
	}
}

func TestPercentOfEmptyCatalog(t *testing.T) {
	if resp := percentOf(5, 0); !resp.NoData {
		t.Fatalf("expected no data when catalog has no weight")
	}
	if resp := percentOf(1, 3); resp.Percent != 33 {
		t.Fatalf("expected 33, got %d", resp.Percent)
	}
}

func TestMyProgressNoData(t *testing.T) {
	f := newFixture()

	resp, err := f.svc.MyProgress(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("my progress: %v", err)
	}
	if !resp.NoData || resp.Entry != nil {
		t.Fatalf("expected no data, got %+v", resp)
	}
}

func TestExportCSV(t *testing.T) {
	f := newFixture()
	f.addUser("Alice", 10, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	f.addUser("Bob", 4, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	rows, err := f.svc.ExportRows(context.Background(), transport.ExportRequest{})
	if err != nil {
		t.Fatalf("export rows: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteExport(&buf, FormatCSV, rows); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(records))
	}
	if records[1][1] != "Alice" || records[1][7] != "50" {
		t.Fatalf("unexpected first row: %v", records[1])
	}
	if len(records[0]) != len(records[1]) {
		t.Fatalf("header and row widths differ")
	}
}

func TestExportXLSX(t *testing.T) {
	f := newFixture()
	f.addUser("Alice", 10, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	rows, err := f.svc.ExportRows(context.Background(), transport.ExportRequest{Format: FormatXLSX})
	if err != nil {
		t.Fatalf("export rows: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteExport(&buf, FormatXLSX, rows); err != nil {
		t.Fatalf("write xlsx: %v", err)
	}

	book, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer func() { _ = book.Close() }()
	name, err := book.GetCellValue(exportSheet, "B2")
	if err != nil {
		t.Fatalf("read cell: %v", err)
	}
	if name != "Alice" {
		t.Fatalf("expected Alice in B2, got %q", name)
	}
	tc, _ := book.GetCellValue(exportSheet, "G2")
	if tc != "10" {
		t.Fatalf("expected taskCompleted 10 in G2, got %q", tc)
	}
}

func TestWriteExportRejectsUnknownFormat(t *testing.T) {
	err := WriteExport(io.Discard, "pdf", nil)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStoreExportUploads(t *testing.T) {
	f := newFixture()
	f.svc.now = func() time.Time { return time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC) }
	f.addUser("Alice", 10, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	resp, err := f.svc.StoreExport(context.Background(), transport.ExportRequest{Format: FormatCSV})
	if err != nil {
		t.Fatalf("store export: %v", err)
	}
	if f.objects.bucket != "exports" {
		t.Fatalf("expected bucket to be ensured, got %q", f.objects.bucket)
	}
	if resp.FileKey != "exports/2026-03-09/progress.csv" || resp.Rows != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !strings.Contains(string(f.objects.body), "Alice") {
		t.Fatalf("expected uploaded body to contain the row")
	}
}

func TestStoreExportWithoutStorage(t *testing.T) {
	f := newFixture()
	f.svc.objects = nil

	_, err := f.svc.StoreExport(context.Background(), transport.ExportRequest{})
	if !apperr.Is(err, apperr.KindBadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
}
