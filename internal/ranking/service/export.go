package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"achievement_engine/internal/progress/domain"
	"achievement_engine/internal/ranking/transport"
	"achievement_engine/platform/apperr"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"

	exportSheet = "Progress"
)

// ExportRow is one flat export line.
type ExportRow struct {
	UserID          string
	FullName        string
	Email           string
	Cadre           string
	Level           string
	Badge           string
	TaskCompleted   int
	PercentComplete int
	Metrics         domain.Metrics
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ExportHeader is the column header shared by every export format.
func ExportHeader() []string {
	header := []string{"User ID", "Full Name", "Email", "Cadre", "Level", "Badge", "Task Completed", "Percent Complete"}
	for _, m := range domain.AllMetrics {
		header = append(header, string(m))
	}
	return append(header, "Created At", "Updated At")
}

// Values renders the row as strings in header order.
func (r ExportRow) Values() []string {
	values := []string{
		r.UserID, r.FullName, r.Email, r.Cadre, r.Level, r.Badge,
		strconv.Itoa(r.TaskCompleted), strconv.Itoa(r.PercentComplete),
	}
	for _, m := range domain.AllMetrics {
		values = append(values, strconv.Itoa(r.Metrics.Get(m)))
	}
	return append(values, r.CreatedAt.Format(time.RFC3339), r.UpdatedAt.Format(time.RFC3339))
}

// ExportRows returns every record matching the filters, unpaginated.
func (s *Service) ExportRows(ctx context.Context, req transport.ExportRequest) ([]ExportRow, error) {
	params, err := parseListRequest(req.List())
	if err != nil {
		return nil, err
	}
	ladder, err := s.catalog.Ladder(ctx)
	if err != nil {
		return nil, err
	}
	items, _, err := s.repo.List(ctx, params)
	if err != nil {
		return nil, apperr.Infrastructure("list progress for export", err)
	}

	total := ladder.GlobalTotalTaskWeight()
	rows := make([]ExportRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, ExportRow{
			UserID:          item.UserID.String(),
			FullName:        item.FullName,
			Email:           item.Email,
			Cadre:           item.CadreName,
			Level:           item.LevelLabel,
			Badge:           item.BadgeLabel,
			TaskCompleted:   item.TaskCompleted,
			PercentComplete: percentOf(item.TaskCompleted, total).Percent,
			Metrics:         item.Metrics,
			CreatedAt:       item.CreatedAt,
			UpdatedAt:       item.UpdatedAt,
		})
	}
	return rows, nil
}

// WriteExport serializes rows in the given format.
func WriteExport(w io.Writer, format string, rows []ExportRow) error {
	switch format {
	case "", FormatCSV:
		return WriteCSV(w, rows)
	case FormatXLSX:
		return WriteXLSX(w, rows)
	default:
		return apperr.Validation(fmt.Sprintf("unsupported export format %q", format))
	}
}

// WriteCSV writes rows as CSV with a header line.
func WriteCSV(w io.Writer, rows []ExportRow) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(ExportHeader()); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write(row.Values()); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteXLSX writes rows to a single-sheet workbook.
func WriteXLSX(w io.Writer, rows []ExportRow) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(exportSheet)
	if err != nil {
		return fmt.Errorf("open sheet writer: %w", err)
	}

	if err := sw.SetRow("A1", toCells(ExportHeader())); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := row.Values()
		cells := make([]interface{}, 0, len(values))
		for j, v := range values {
			// numeric columns stay numeric in the sheet
			if j >= 6 && j < 6+2+len(domain.AllMetrics) {
				n, _ := strconv.Atoi(v)
				cells = append(cells, n)
				continue
			}
			cells = append(cells, v)
		}
		if err := sw.SetRow(cell, cells); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	_, err = f.WriteTo(w)
	return err
}

func toCells(values []string) []interface{} {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}

// ContentType returns the MIME type and file extension of a format.
func ContentType(format string) (string, string) {
	if format == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx"
	}
	return "text/csv", "csv"
}

// StoreExport renders the export and uploads it to object storage, returning
// a presigned download link.
func (s *Service) StoreExport(ctx context.Context, req transport.ExportRequest) (transport.StoredExportResponse, error) {
	if s.objects == nil {
		return transport.StoredExportResponse{}, apperr.BadRequest("export storage is not configured")
	}
	rows, err := s.ExportRows(ctx, req)
	if err != nil {
		return transport.StoredExportResponse{}, err
	}

	var buf bytes.Buffer
	if err := WriteExport(&buf, req.Format, rows); err != nil {
		return transport.StoredExportResponse{}, err
	}

	contentType, ext := ContentType(req.Format)
	now := s.now()
	if err := s.objects.EnsureBucketExists(ctx, s.bucket); err != nil {
		return transport.StoredExportResponse{}, apperr.Infrastructure("prepare export bucket", err)
	}
	key, err := s.objects.UploadFile(ctx, s.bucket, "exports/"+now.Format(dateLayout), "progress."+ext, contentType, &buf, int64(buf.Len()))
	if err != nil {
		return transport.StoredExportResponse{}, apperr.Infrastructure("upload export", err)
	}
	link, err := s.objects.GenerateDownloadURL(ctx, s.bucket, key)
	if err != nil {
		return transport.StoredExportResponse{}, apperr.Infrastructure("presign export", err)
	}

	s.log.Info("progress export stored", "fileKey", key, "rows", len(rows))
	return transport.StoredExportResponse{FileKey: key, URL: link.URL, ExpiresAt: link.ExpiresAt, Rows: len(rows)}, nil
}
