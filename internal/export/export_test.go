package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"tablebook/internal/model"
)

func strPtr(s string) *string { return &s }

func sample() []model.Reservation {
	created := time.Date(2025, 5, 20, 8, 0, 0, 0, time.UTC)
	return []model.Reservation{
		{
			ID: "r1", GuestName: "Smith, John", Notes: "window seat\nbirthday \"surprise\"",
			PartySize: 2, Status: model.StatusAccepted, ReservationDate: "2025-06-02", SlotTime: "19:00",
			PreferredTime: time.Date(2025, 6, 2, 17, 0, 0, 0, time.UTC), ConfirmationCode: "ABCD2345",
			SeatingPreference: model.SeatingIndoor, CreatedAt: created,
		},
		{
			ID: "r2", GuestName: "Ada", PartySize: 4, Status: model.StatusPending,
			EventID: strPtr("ev-1"), OfferPurchaseID: strPtr("op-1"), ReservationDate: "2025-06-03",
			PreferredTime: time.Date(2025, 6, 3, 18, 0, 0, 0, time.UTC), ConfirmationCode: "EFGH6789",
			CreatedAt: created,
		},
		{
			ID: "r3", GuestName: "Bo", PartySize: 1, Status: model.StatusCancelled,
			EventID: strPtr("ev-1"), ReservationDate: "2025-06-03",
			PreferredTime: time.Date(2025, 6, 3, 18, 0, 0, 0, time.UTC), ConfirmationCode: "JKLM2345",
			CreatedAt: created,
		},
	}
}

func TestFilter(t *testing.T) {
	list := sample()

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"empty matches all", Filter{}, []string{"r1", "r2", "r3"}},
		{"by event", Filter{EventID: "ev-1"}, []string{"r2", "r3"}},
		{"by status", Filter{Status: model.StatusAccepted}, []string{"r1"}},
		{"by type offer", Filter{Type: model.TypeOffer}, []string{"r2"}},
		{"by type profile", Filter{Type: model.TypeProfile}, []string{"r1", "r3"}},
		{"combined", Filter{EventID: "ev-1", Type: model.TypeProfile}, []string{"r3"}},
		{"no match", Filter{EventID: "ev-1", Status: model.StatusAccepted}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := []string{}
			for _, r := range tt.filter.Apply(list) {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestWriteCSV_RoundTripsFreeText(t *testing.T) {
	list := sample()
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, list))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, len(list)+1)
	for _, rec := range records {
		assert.Len(t, rec, len(ReservationColumns))
	}

	assert.Equal(t, ReservationColumns, records[0])
	assert.Equal(t, "Smith, John", records[1][1])
	assert.Equal(t, "window seat\nbirthday \"surprise\"", records[1][13])
	assert.Equal(t, "2025-06-02T17:00:00Z", records[1][7])
	assert.Equal(t, "offer", records[2][9])
	assert.Equal(t, "ev-1", records[2][11])
	assert.Equal(t, "", records[3][12])
}

func TestWriteCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, strings.Join(ReservationColumns, ",")+"\n", buf.String())
}

func TestWriteAuditCSV(t *testing.T) {
	logs := []model.AuditLog{{
		ID: 1, BusinessID: "biz-1", ActorID: "staff-1", Action: model.ActionSlotClosed,
		Target: "2025-06-02 19:00", Details: "closed, by request",
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}}
	var buf bytes.Buffer
	require.NoError(t, WriteAuditCSV(&buf, logs))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "closed, by request", records[1][5])
}

func TestFilenames(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 45, 123000000, time.UTC)
	assert.Equal(t, "reservations-2025-06-01T12:30:45.123Z.csv", ReservationsFilename(now))
	assert.Equal(t, "audit-logs-2025-06-01.csv", AuditLogsFilename(now))
	assert.Equal(t, "reservations-2025-06-01T12-30-45Z.xlsx", XLSXFilename(now))
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sample()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("reservations")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "confirmation_code", rows[0][0])
	assert.Equal(t, "Smith, John", rows[1][1])
	assert.Equal(t, "4", rows[2][4])
}
