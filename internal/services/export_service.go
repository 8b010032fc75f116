package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"sankeyhub/internal/exporter"
)

// ExportService renders operator downloads.
type ExportService struct {
	apps   *ApplicationService
	now    func() time.Time
	logger *slog.Logger
}

// NewExportService creates an export service.
func NewExportService(apps *ApplicationService, logger *slog.Logger) *ExportService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportService{
		apps:   apps,
		now:    time.Now,
		logger: logger.With(slog.String("component", "export_service")),
	}
}

// ApplicationsXLSX collects every application of the user and renders the
// workbook, returning the file bytes and a dated filename.
func (s *ExportService) ApplicationsXLSX(ctx context.Context, userID string) ([]byte, string, error) {
	apps, err := s.apps.CollectForExport(ctx, userID)
	if err != nil {
		return nil, "", err
	}

	f, err := exporter.BuildApplicationsWorkbook(userID, apps)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", fmt.Errorf("serialize workbook: %w", err)
	}

	filename := fmt.Sprintf("applications-%s-%s.xlsx", userID, s.now().UTC().Format("2006-01-02"))
	s.logger.InfoContext(ctx, "applications exported",
		slog.String("user_id", userID),
		slog.Int("count", len(apps)),
		slog.String("filename", filename))
	return buf.Bytes(), filename, nil
}

// ApplicationsCSV is the CSV counterpart of ApplicationsXLSX.
func (s *ExportService) ApplicationsCSV(ctx context.Context, userID string) ([]byte, string, error) {
	apps, err := s.apps.CollectForExport(ctx, userID)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	if err := exporter.WriteApplicationsCSV(&buf, apps); err != nil {
		return nil, "", fmt.Errorf("render csv: %w", err)
	}

	filename := fmt.Sprintf("applications-%s-%s.csv", userID, s.now().UTC().Format("2006-01-02"))
	s.logger.InfoContext(ctx, "applications exported",
		slog.String("user_id", userID),
		slog.Int("count", len(apps)),
		slog.String("filename", filename))
	return buf.Bytes(), filename, nil
}
