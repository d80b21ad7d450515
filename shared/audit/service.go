package audit

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Config holds configuration for the audit service.
type Config struct {
	// RetentionDays is how long reservations and audit logs are kept.
	// Default: 365 days.
	RetentionDays int

	// Schedule is a cron spec. Default: 00:05 on the first of each month.
	Schedule string

	// ExportDir, when set, keeps a copy of every report on disk.
	ExportDir string

	// Title is used in the report caption.
	Title string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays: 365,
		Schedule:      "5 0 1 * *",
		Title:         "tablebook",
	}
}

// Service handles periodic audit exports and data cleanup.
type Service struct {
	config   *Config
	exporter TableExporter
	writer   func() ExcelWriter
	notifier Notifier
	cleaner  Cleaner
	now      func() time.Time
	logger   *zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewService creates a new audit service. notifier and cleaner may be nil.
func NewService(
	config *Config,
	exporter TableExporter,
	writerFactory func() ExcelWriter,
	notifier Notifier,
	cleaner Cleaner,
	logger *zerolog.Logger,
) *Service {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = defaults.RetentionDays
	}
	if config.Schedule == "" {
		config.Schedule = defaults.Schedule
	}
	if config.Title == "" {
		config.Title = defaults.Title
	}
	if writerFactory == nil {
		writerFactory = NewExcelizeWriter
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "audit").Logger()

	return &Service{
		config:   config,
		exporter: exporter,
		writer:   writerFactory,
		notifier: notifier,
		cleaner:  cleaner,
		now:      time.Now,
		logger:   &l,
	}
}

// Start schedules the export and stops the scheduler with ctx.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.config.Schedule, func() { s.RunExportAndCleanup(ctx) }); err != nil {
		return fmt.Errorf("audit schedule %q: %w", s.config.Schedule, err)
	}
	c.Start()
	s.cron = c
	s.running = true

	s.logger.Info().
		Str("schedule", s.config.Schedule).
		Int("retention_days", s.config.RetentionDays).
		Msg("Audit service started")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop waits for a running export to finish and stops the scheduler.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c := s.cron
	s.mu.Unlock()

	<-c.Stop().Done()
	s.logger.Info().Msg("Audit service stopped")
}

// RunExportAndCleanup exports the previous month and then prunes old data.
func (s *Service) RunExportAndCleanup(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	if _, err := s.ExportNow(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to export audit data")
	}
	if err := s.CleanupNow(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to cleanup old data")
	}
}

// ExportNow builds the workbook, stores and sends it, and returns its name.
func (s *Service) ExportNow(ctx context.Context) (string, error) {
	if s.exporter == nil {
		return "", fmt.Errorf("exporter not configured")
	}

	tables, err := s.exporter.GetTableNames(ctx)
	if err != nil {
		return "", fmt.Errorf("get table names: %w", err)
	}
	if len(tables) == 0 {
		s.logger.Info().Msg("No tables to export")
		return "", nil
	}

	excel := s.writer()
	defer excel.Close()

	for _, table := range tables {
		rows, err := s.exportTable(ctx, excel, table)
		if err != nil {
			s.logger.Error().Err(err).Str("table", table).Msg("Failed to export table")
			continue
		}
		s.logger.Debug().Str("table", table).Int("rows", rows).Msg("Exported table")
	}

	var buf bytes.Buffer
	if err := excel.Save(&buf); err != nil {
		return "", fmt.Errorf("save excel: %w", err)
	}

	period := PreviousMonth(s.now())
	filename := GenerateFilename(period)

	if s.config.ExportDir != "" {
		path := filepath.Join(s.config.ExportDir, filename)
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", path, err)
		}
	}

	if s.notifier != nil {
		caption := fmt.Sprintf("Monthly report %s, %s", s.config.Title, period.Format("January 2006"))
		if err := s.notifier.SendDocument(ctx, filename, bytes.NewReader(buf.Bytes()), caption); err != nil {
			return filename, fmt.Errorf("send document: %w", err)
		}
	}

	s.logger.Info().Str("filename", filename).Msg("Audit report exported")
	return filename, nil
}

func (s *Service) exportTable(ctx context.Context, excel ExcelWriter, table string) (int, error) {
	data, columns, err := s.exporter.GetTableData(ctx, table)
	if err != nil {
		return 0, fmt.Errorf("get table data: %w", err)
	}
	if err := excel.AddSheet(table); err != nil {
		return 0, err
	}
	if err := excel.WriteHeader(columns); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	for _, row := range data {
		values := make([]interface{}, len(columns))
		for i, col := range columns {
			values[i] = row[col]
		}
		if err := excel.WriteRow(values); err != nil {
			return 0, fmt.Errorf("write row: %w", err)
		}
	}
	return len(data), nil
}

// CleanupNow deletes reservations and audit logs past retention.
func (s *Service) CleanupNow(ctx context.Context) error {
	if s.cleaner == nil {
		return nil
	}

	cutoff := s.now().AddDate(0, 0, -s.config.RetentionDays)
	reservations, err := s.cleaner.DeleteReservationsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete old reservations: %w", err)
	}
	logs, err := s.cleaner.DeleteAuditLogsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete old audit logs: %w", err)
	}

	s.logger.Info().
		Int64("reservations", reservations).
		Int64("audit_logs", logs).
		Int("retention_days", s.config.RetentionDays).
		Msg("Cleaned up old data")
	return nil
}
