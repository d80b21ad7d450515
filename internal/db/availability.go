package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tablebook/internal/model"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// bookedStatuses are the statuses that hold a place in a slot.
var bookedStatuses = []interface{}{string(model.StatusPending), string(model.StatusAccepted)}

// GetSlotsAvailability derives per-slot capacity, booked count and closure
// state for one business date. Only slots active on the date's weekday are
// returned, in start-time order.
func (db *DB) GetSlotsAvailability(ctx context.Context, businessID string, date time.Time) ([]model.SlotAvailability, error) {
	slots, err := db.LoadSlots(ctx, businessID)
	if err != nil {
		return nil, err
	}
	day := date.Format(model.DateLayout)

	booked, err := bookedBySlot(ctx, db.DB, businessID, day)
	if err != nil {
		return nil, fmt.Errorf("count booked: %w", err)
	}
	closures, err := db.ListClosures(ctx, businessID, day)
	if err != nil {
		return nil, fmt.Errorf("list closures: %w", err)
	}

	model.SortSlots(slots)
	weekday := model.WeekdayOf(date)
	out := make([]model.SlotAvailability, 0, len(slots))
	for _, s := range slots {
		if !s.HasDay(weekday) {
			continue
		}
		_, closed := closures[s.TimeFrom]
		out = append(out, model.NewSlotAvailability(s, booked[s.TimeFrom], closed))
	}
	return out, nil
}

func bookedBySlot(ctx context.Context, q queryer, businessID, day string) (map[string]int, error) {
	args := append([]interface{}{businessID, day}, bookedStatuses...)
	rows, err := q.QueryContext(ctx, `
		SELECT slot_time, COUNT(*)
		FROM reservations
		WHERE business_id = ? AND event_id IS NULL AND reservation_date = ? AND status IN (?, ?)
		GROUP BY slot_time`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			slotTime string
			n        int
		)
		if err := rows.Scan(&slotTime, &n); err != nil {
			return nil, err
		}
		out[slotTime] = n
	}
	return out, rows.Err()
}
