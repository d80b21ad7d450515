package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"tablebook/internal/model"
)

// ReservationColumns is the header row of reservation exports.
var ReservationColumns = []string{
	"confirmation_code",
	"guest_name",
	"guest_email",
	"guest_phone",
	"party_size",
	"reservation_date",
	"slot_time",
	"preferred_time",
	"status",
	"type",
	"seating_preference",
	"event_id",
	"checked_in_at",
	"notes",
	"created_at",
}

// AuditColumns is the header row of audit log exports.
var AuditColumns = []string{"created_at", "business_id", "actor_id", "action", "target", "details"}

// ReservationsFilename names a reservation export taken at now.
func ReservationsFilename(now time.Time) string {
	return "reservations-" + now.UTC().Format("2006-01-02T15:04:05.000Z") + ".csv"
}

// AuditLogsFilename names an audit log export taken on now's date.
func AuditLogsFilename(now time.Time) string {
	return "audit-logs-" + now.Format(model.DateLayout) + ".csv"
}

// WriteCSV writes a header plus one RFC 4180 record per reservation.
func WriteCSV(w io.Writer, list []model.Reservation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ReservationColumns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := range list {
		if err := cw.Write(reservationRecord(&list[i])); err != nil {
			return fmt.Errorf("write reservation %s: %w", list[i].ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteAuditCSV writes audit log entries as CSV.
func WriteAuditCSV(w io.Writer, logs []model.AuditLog) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(AuditColumns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, l := range logs {
		if err := cw.Write([]string{
			l.CreatedAt.UTC().Format(time.RFC3339),
			l.BusinessID,
			l.ActorID,
			l.Action,
			l.Target,
			l.Details,
		}); err != nil {
			return fmt.Errorf("write audit log %d: %w", l.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func reservationRecord(r *model.Reservation) []string {
	return []string{
		r.ConfirmationCode,
		r.GuestName,
		r.GuestEmail,
		r.GuestPhone,
		strconv.Itoa(r.PartySize),
		r.ReservationDate,
		r.SlotTime,
		formatTime(&r.PreferredTime),
		string(r.Status),
		string(r.Type()),
		string(r.SeatingPreference),
		deref(r.EventID),
		formatTime(r.CheckedInAt),
		r.Notes,
		formatTime(&r.CreatedAt),
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
