// Package audit produces periodic spreadsheet snapshots of the reservation
// tables and prunes data past retention.
package audit

import (
	"context"
	"io"
	"time"
)

// TableExporter provides access to database tables for export.
type TableExporter interface {
	// GetTableNames returns list of table names to export.
	GetTableNames(ctx context.Context) ([]string, error)

	// GetTableData returns rows for a table as maps plus the column order.
	GetTableData(ctx context.Context, tableName string) ([]map[string]interface{}, []string, error)
}

// ExcelWriter writes data to Excel format.
type ExcelWriter interface {
	AddSheet(name string) error
	WriteHeader(columns []string) error
	WriteRow(row []interface{}) error
	Save(w io.Writer) error
	SaveToFile(path string) error
	Close() error
}

// Notifier delivers the report file.
type Notifier interface {
	SendDocument(ctx context.Context, filename string, data io.Reader, caption string) error
}

// Cleaner deletes rows older than a cutoff.
type Cleaner interface {
	DeleteReservationsBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteAuditLogsBefore(ctx context.Context, before time.Time) (int64, error)
}

// GenerateFilename names the report covering period's month,
// e.g. "audit-2025-05.xlsx".
func GenerateFilename(period time.Time) string {
	return "audit-" + period.Format("2006-01") + ".xlsx"
}

// PreviousMonth returns the first day of the month before now.
func PreviousMonth(now time.Time) time.Time {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return first.AddDate(0, -1, 0)
}
