package db

import (
	"context"
	"fmt"
	"time"

	"tablebook/internal/model"
)

// CloseSlot records a closure. Closing an already closed slot is a no-op.
func (db *DB) CloseSlot(ctx context.Context, c model.SlotClosure) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO slot_closures (business_id, closure_date, slot_time, closed_by, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(business_id, closure_date, slot_time) DO NOTHING`,
		c.BusinessID, c.ClosureDate, c.SlotTime, nullString(c.ClosedBy), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("close slot %s %s: %w", c.ClosureDate, c.SlotTime, err)
	}
	return nil
}

// OpenSlot removes a closure. Opening an open slot is a no-op.
func (db *DB) OpenSlot(ctx context.Context, businessID, date, slotTime string) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM slot_closures WHERE business_id = ? AND closure_date = ? AND slot_time = ?`,
		businessID, date, slotTime,
	)
	if err != nil {
		return fmt.Errorf("open slot %s %s: %w", date, slotTime, err)
	}
	return nil
}

// ListClosures returns the closures of one business date keyed by slot time.
func (db *DB) ListClosures(ctx context.Context, businessID, date string) (map[string]model.SlotClosure, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT business_id, closure_date, slot_time, COALESCE(closed_by, ''), created_at
		FROM slot_closures
		WHERE business_id = ? AND closure_date = ?`,
		businessID, date,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]model.SlotClosure)
	for rows.Next() {
		var c model.SlotClosure
		if err := rows.Scan(&c.BusinessID, &c.ClosureDate, &c.SlotTime, &c.ClosedBy, &c.CreatedAt); err != nil {
			return nil, err
		}
		out[c.SlotTime] = c
	}
	return out, rows.Err()
}
