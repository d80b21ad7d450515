package audit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeExporter struct {
	tables map[string][]map[string]interface{}
	order  []string
	fail   string
}

func (f *fakeExporter) GetTableNames(ctx context.Context) ([]string, error) {
	return f.order, nil
}

func (f *fakeExporter) GetTableData(ctx context.Context, table string) ([]map[string]interface{}, []string, error) {
	if table == f.fail {
		return nil, nil, errors.New("boom")
	}
	return f.tables[table], []string{"id", "value"}, nil
}

type fakeNotifier struct {
	filename string
	caption  string
	data     []byte
}

func (f *fakeNotifier) SendDocument(ctx context.Context, filename string, data io.Reader, caption string) error {
	f.filename = filename
	f.caption = caption
	f.data, _ = io.ReadAll(data)
	return nil
}

type fakeCleaner struct {
	reservationsBefore time.Time
	logsBefore         time.Time
}

func (f *fakeCleaner) DeleteReservationsBefore(ctx context.Context, before time.Time) (int64, error) {
	f.reservationsBefore = before
	return 3, nil
}

func (f *fakeCleaner) DeleteAuditLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	f.logsBefore = before
	return 1, nil
}

func TestExportNow(t *testing.T) {
	dir := t.TempDir()
	exporter := &fakeExporter{
		order: []string{"reservations", "slot_closures", "audit_logs"},
		tables: map[string][]map[string]interface{}{
			"reservations": {
				{"id": "r1", "value": time.Date(2025, 5, 3, 19, 0, 0, 0, time.UTC)},
				{"id": "r2", "value": nil},
			},
			"slot_closures": {{"id": "c1", "value": []byte("19:00")}},
		},
		fail: "audit_logs",
	}
	notifier := &fakeNotifier{}
	svc := NewService(&Config{ExportDir: dir, Title: "tablebook"}, exporter, nil, notifier, nil, nil)
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 0, 5, 0, 0, time.UTC) }

	filename, err := svc.ExportNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "audit-2025-05.xlsx", filename)
	assert.Equal(t, filename, notifier.filename)
	assert.Contains(t, notifier.caption, "May 2025")

	onDisk, err := os.ReadFile(filepath.Join(dir, filename))
	require.NoError(t, err)
	assert.Equal(t, notifier.data, onDisk)

	f, err := excelize.OpenReader(bytes.NewReader(notifier.data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"reservations", "slot_closures"}, f.GetSheetList())
	rows, err := f.GetRows("reservations")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"id", "value"}, rows[0])
	assert.Equal(t, []string{"r1", "2025-05-03T19:00:00Z"}, rows[1])

	val, err := f.GetCellValue("slot_closures", "B2")
	require.NoError(t, err)
	assert.Equal(t, "19:00", val)
}

func TestCleanupNow(t *testing.T) {
	cleaner := &fakeCleaner{}
	svc := NewService(&Config{RetentionDays: 30}, &fakeExporter{}, nil, nil, cleaner, nil)
	now := time.Date(2025, 6, 1, 0, 5, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	require.NoError(t, svc.CleanupNow(context.Background()))
	assert.Equal(t, now.AddDate(0, 0, -30), cleaner.reservationsBefore)
	assert.Equal(t, now.AddDate(0, 0, -30), cleaner.logsBefore)
}

func TestStart_InvalidSchedule(t *testing.T) {
	svc := NewService(&Config{Schedule: "every other tuesday"}, &fakeExporter{}, nil, nil, nil, nil)
	assert.Error(t, svc.Start(context.Background()))
}

func TestStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := NewService(nil, &fakeExporter{}, nil, nil, nil, nil)
	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.Start(ctx))
	cancel()
	svc.Stop()
}

func TestSheetNameAndFilename(t *testing.T) {
	assert.Equal(t, "a_b_c", SheetName("a/b:c"))
	assert.Len(t, SheetName("reservations_with_a_very_long_table_name"), maxSheetName)
	assert.Equal(t, "Sheet", SheetName("  "))
	assert.Equal(t, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
		PreviousMonth(time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)))
}
