package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tablebook/internal/model"
)

const businessColumns = `id, name, accepts_direct_reservations, reservations_paused, staff_chat_id, timezone, time_slots, created_at, updated_at`

// UpsertBusiness inserts or updates a business profile. Slots are written only
// when the stored list is empty, so staff edits survive a re-seed.
func (db *DB) UpsertBusiness(ctx context.Context, b *model.Business) error {
	data, err := model.EncodeSlots(b.TimeSlots)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	_, err = db.ExecContext(ctx, `
		INSERT INTO businesses (id, name, accepts_direct_reservations, reservations_paused, staff_chat_id, timezone, time_slots, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			staff_chat_id = excluded.staff_chat_id,
			timezone = excluded.timezone,
			time_slots = CASE WHEN businesses.time_slots IN ('', '[]') THEN excluded.time_slots ELSE businesses.time_slots END,
			updated_at = excluded.updated_at`,
		b.ID, b.Name, b.AcceptsDirectReservations, b.ReservationsPaused, b.StaffChatID, b.Timezone, string(data), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert business %s: %w", b.ID, err)
	}
	return nil
}

// GetBusiness loads a business with its normalized slot list.
func (db *DB) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	row := db.QueryRowContext(ctx, `SELECT `+businessColumns+` FROM businesses WHERE id = ?`, id)
	b, err := scanBusiness(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("business %s: %w", id, ErrNotFound)
	}
	return b, err
}

// ListBusinesses returns all businesses ordered by name.
func (db *DB) ListBusinesses(ctx context.Context) ([]model.Business, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+businessColumns+` FROM businesses ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Business
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBusiness(row rowScanner) (*model.Business, error) {
	var (
		b         model.Business
		slotsJSON string
	)
	if err := row.Scan(&b.ID, &b.Name, &b.AcceptsDirectReservations, &b.ReservationsPaused,
		&b.StaffChatID, &b.Timezone, &slotsJSON, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	slots, err := model.DecodeSlots([]byte(slotsJSON), nil)
	if err != nil {
		return nil, fmt.Errorf("business %s: %w", b.ID, err)
	}
	b.TimeSlots = slots
	return &b, nil
}

// LoadSlots returns the normalized slot list of a business.
func (db *DB) LoadSlots(ctx context.Context, businessID string) ([]model.TimeSlot, error) {
	var data string
	err := db.QueryRowContext(ctx, `SELECT time_slots FROM businesses WHERE id = ?`, businessID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("business %s: %w", businessID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return model.DecodeSlots([]byte(data), nil)
}

// SaveSlots replaces the stored slot list. Storing an empty list also clears
// accepts_direct_reservations in the same statement; disabled reports whether
// that flag was switched off by this call.
func (db *DB) SaveSlots(ctx context.Context, businessID string, slots []model.TimeSlot) (disabled bool, err error) {
	data, err := model.EncodeSlots(slots)
	if err != nil {
		return false, err
	}
	encoded := string(data)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var accepts bool
	err = tx.QueryRowContext(ctx, `SELECT accepts_direct_reservations FROM businesses WHERE id = ?`, businessID).Scan(&accepts)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("business %s: %w", businessID, ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("update business %s: %w", businessID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE businesses SET
			time_slots = ?,
			accepts_direct_reservations = CASE WHEN ? = '[]' THEN 0 ELSE accepts_direct_reservations END,
			updated_at = ?
		WHERE id = ?`,
		encoded, encoded, time.Now().UTC(), businessID,
	); err != nil {
		return false, fmt.Errorf("update business %s: %w", businessID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return accepts && encoded == "[]", nil
}

// SetAcceptsReservations persists the direct-reservations flag.
func (db *DB) SetAcceptsReservations(ctx context.Context, businessID string, accepts bool) error {
	return db.updateBusiness(ctx, businessID, `accepts_direct_reservations = ?`, accepts)
}

// SetReservationsPaused persists the pause flag and returns the stored value.
func (db *DB) SetReservationsPaused(ctx context.Context, businessID string, paused bool) (bool, error) {
	if err := db.updateBusiness(ctx, businessID, `reservations_paused = ?`, paused); err != nil {
		return false, err
	}
	var stored bool
	err := db.QueryRowContext(ctx, `SELECT reservations_paused FROM businesses WHERE id = ?`, businessID).Scan(&stored)
	return stored, err
}

func (db *DB) updateBusiness(ctx context.Context, businessID, set string, value interface{}) error {
	res, err := db.ExecContext(ctx,
		`UPDATE businesses SET `+set+`, updated_at = ? WHERE id = ?`,
		value, time.Now().UTC(), businessID,
	)
	if err != nil {
		return fmt.Errorf("update business %s: %w", businessID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("business %s: %w", businessID, ErrNotFound)
	}
	return nil
}

// CreateEvent stores an event owned by a business.
func (db *DB) CreateEvent(ctx context.Context, e *model.Event) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO events (id, business_id, title, starts_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, starts_at = excluded.starts_at`,
		e.ID, e.BusinessID, e.Title, e.StartsAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create event %s: %w", e.ID, err)
	}
	return nil
}
