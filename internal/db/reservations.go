package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tablebook/internal/model"
)

// The owner of an event reservation is the event's business.
const reservationSelect = `
	SELECT r.id, COALESCE(e.business_id, r.business_id, ''), r.event_id, r.offer_purchase_id,
		COALESCE(r.user_id, ''), r.guest_name, COALESCE(r.guest_email, ''), COALESCE(r.guest_phone, ''),
		COALESCE(r.notes, ''), r.status, r.party_size, r.preferred_time, r.reservation_date, r.slot_time,
		r.seating_preference, r.confirmation_code, r.qr_code_token, r.checked_in_at,
		COALESCE(r.checked_in_by, ''), r.created_at, r.updated_at
	FROM reservations r
	LEFT JOIN events e ON e.id = r.event_id`

// CreateReservation validates the target slot and inserts the reservation in
// one write transaction. Direct reservations are refused when the business
// is paused or not accepting them, when the slot is closed or full, or when
// the party is larger than the slot allows.
func (db *DB) CreateReservation(ctx context.Context, r *model.Reservation) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if !r.Direct() {
		var owner string
		err = tx.QueryRowContext(ctx, `SELECT business_id FROM events WHERE id = ?`, *r.EventID).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("event %s: %w", *r.EventID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		r.BusinessID = owner
	}

	var (
		accepts, paused bool
		slotsJSON       string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT accepts_direct_reservations, reservations_paused, time_slots FROM businesses WHERE id = ?`,
		r.BusinessID,
	).Scan(&accepts, &paused, &slotsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("business %s: %w", r.BusinessID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if paused {
		return ErrReservationsPaused
	}

	if r.Direct() {
		if err := checkSlotCapacity(ctx, tx, r, accepts, slotsJSON); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	_, err = tx.ExecContext(ctx, `
		INSERT INTO reservations (
			id, business_id, event_id, offer_purchase_id, user_id, guest_name, guest_email, guest_phone, notes,
			status, party_size, preferred_time, reservation_date, slot_time, seating_preference,
			confirmation_code, qr_code_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.BusinessID, nullPtr(r.EventID), nullPtr(r.OfferPurchaseID), nullString(r.UserID),
		r.GuestName, nullString(r.GuestEmail), nullString(r.GuestPhone), nullString(r.Notes),
		string(r.Status), r.PartySize, r.PreferredTime.UTC(), r.ReservationDate, r.SlotTime,
		string(r.SeatingPreference), r.ConfirmationCode, r.QRCodeToken, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func checkSlotCapacity(ctx context.Context, tx *sql.Tx, r *model.Reservation, accepts bool, slotsJSON string) error {
	if !accepts {
		return ErrReservationsDisabled
	}

	list, err := model.DecodeSlots([]byte(slotsJSON), nil)
	if err != nil {
		return err
	}
	date, err := time.Parse(model.DateLayout, r.ReservationDate)
	if err != nil {
		return fmt.Errorf("reservation date %q: %w", r.ReservationDate, err)
	}

	var slot *model.TimeSlot
	for i := range list {
		if list[i].TimeFrom == r.SlotTime && list[i].HasDay(model.WeekdayOf(date)) {
			slot = &list[i]
			break
		}
	}
	if slot == nil {
		return fmt.Errorf("%w: %s %s", ErrSlotNotFound, r.ReservationDate, r.SlotTime)
	}
	if r.PartySize > slot.MaxPartySize {
		return fmt.Errorf("%w: %d > %d", ErrPartyTooLarge, r.PartySize, slot.MaxPartySize)
	}

	var closed int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM slot_closures WHERE business_id = ? AND closure_date = ? AND slot_time = ?`,
		r.BusinessID, r.ReservationDate, r.SlotTime,
	).Scan(&closed)
	if err != nil {
		return err
	}
	if closed > 0 {
		return ErrSlotClosed
	}

	booked, err := bookedBySlot(ctx, tx, r.BusinessID, r.ReservationDate)
	if err != nil {
		return err
	}
	if booked[r.SlotTime] >= slot.Capacity {
		return ErrSlotFull
	}
	return nil
}

// GetReservation loads one reservation by id.
func (db *DB) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	return getReservation(ctx, db.DB, id)
}

func getReservation(ctx context.Context, q queryer, id string) (*model.Reservation, error) {
	r, err := scanReservation(q.QueryRowContext(ctx, reservationSelect+` WHERE r.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reservation %s: %w", id, ErrNotFound)
	}
	return r, err
}

// FindReservationByToken matches the QR token or, case-insensitively, the
// confirmation code. It returns nil without error when nothing matches.
func (db *DB) FindReservationByToken(ctx context.Context, token string) (*model.Reservation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	r, err := scanReservation(db.QueryRowContext(ctx,
		reservationSelect+` WHERE r.qr_code_token = ? OR UPPER(r.confirmation_code) = UPPER(?) LIMIT 1`,
		token, token,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// UpdateReservationStatus moves a reservation to a new status if the
// transition is allowed.
func (db *DB) UpdateReservationStatus(ctx context.Context, id string, to model.ReservationStatus) (*model.Reservation, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	r, err := getReservation(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if r.Terminal() {
		return nil, fmt.Errorf("%w: reservation is already %s", ErrInvalidTransition, r.Status)
	}
	if !model.CanTransition(r.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = ?, updated_at = ? WHERE id = ?`, string(to), now, id,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	r.Status = to
	r.UpdatedAt = now
	return r, nil
}

// CheckIn records the guest's arrival. A reservation already marked no-show
// is reinstated as accepted.
func (db *DB) CheckIn(ctx context.Context, id, staffID string, at time.Time) (*model.Reservation, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	r, err := getReservation(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if r.CheckedIn() {
		return nil, ErrAlreadyCheckedIn
	}

	switch r.Status {
	case model.StatusPending, model.StatusAccepted:
	case model.StatusNoShow:
		r.Status = model.StatusAccepted
	default:
		return nil, fmt.Errorf("%w: status %s", ErrCheckInNotAllowed, r.Status)
	}

	at = at.UTC().Truncate(time.Second)
	if _, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = ?, checked_in_at = ?, checked_in_by = ?, updated_at = ? WHERE id = ?`,
		string(r.Status), at, nullString(staffID), at, id,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	r.CheckedInAt = &at
	r.CheckedInBy = staffID
	r.UpdatedAt = at
	return r, nil
}

// MarkNoShows moves accepted reservations whose preferred time is before
// cutoff and that were never checked in to no_show. It returns the updated
// reservations.
func (db *DB) MarkNoShows(ctx context.Context, cutoff time.Time) ([]model.Reservation, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx,
		reservationSelect+` WHERE r.status = ? AND r.checked_in_at IS NULL AND r.preferred_time < ?`,
		string(model.StatusAccepted), cutoff.UTC(),
	)
	if err != nil {
		return nil, err
	}
	marked, err := scanReservations(rows)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for i := range marked {
		if _, err := tx.ExecContext(ctx,
			`UPDATE reservations SET status = ?, updated_at = ? WHERE id = ?`,
			string(model.StatusNoShow), now, marked[i].ID,
		); err != nil {
			return nil, fmt.Errorf("mark %s: %w", marked[i].ID, err)
		}
		marked[i].Status = model.StatusNoShow
		marked[i].UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return marked, nil
}

// ListFilter narrows ListReservations. Zero fields do not filter.
type ListFilter struct {
	BusinessID string
	EventID    string
	Status     model.ReservationStatus
	From       time.Time
	To         time.Time
}

// ListReservations returns reservations owned by a business ordered by
// preferred time.
func (db *DB) ListReservations(ctx context.Context, f ListFilter) ([]model.Reservation, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.BusinessID != "" {
		where = append(where, `COALESCE(e.business_id, r.business_id) = ?`)
		args = append(args, f.BusinessID)
	}
	if f.EventID != "" {
		where = append(where, `r.event_id = ?`)
		args = append(args, f.EventID)
	}
	if f.Status != "" {
		where = append(where, `r.status = ?`)
		args = append(args, string(f.Status))
	}
	if !f.From.IsZero() {
		where = append(where, `r.preferred_time >= ?`)
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		where = append(where, `r.preferred_time < ?`)
		args = append(args, f.To.UTC())
	}

	query := reservationSelect
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY r.preferred_time, r.created_at`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanReservations(rows)
}

// DeleteReservationsBefore removes finished reservations older than before.
func (db *DB) DeleteReservationsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM reservations
		WHERE preferred_time < ? AND status IN (?, ?, ?)`,
		before.UTC(), string(model.StatusDeclined), string(model.StatusCancelled), string(model.StatusNoShow),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanReservations(rows *sql.Rows) ([]model.Reservation, error) {
	defer rows.Close()
	var out []model.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanReservation(row rowScanner) (*model.Reservation, error) {
	var (
		r                       model.Reservation
		eventID, offerID        sql.NullString
		status, seating         string
		checkedInAt             sql.NullTime
		preferred, created, upd time.Time
	)
	err := row.Scan(&r.ID, &r.BusinessID, &eventID, &offerID, &r.UserID, &r.GuestName, &r.GuestEmail,
		&r.GuestPhone, &r.Notes, &status, &r.PartySize, &preferred, &r.ReservationDate, &r.SlotTime,
		&seating, &r.ConfirmationCode, &r.QRCodeToken, &checkedInAt, &r.CheckedInBy, &created, &upd)
	if err != nil {
		return nil, err
	}

	r.EventID = ptrFromNull(eventID)
	r.OfferPurchaseID = ptrFromNull(offerID)
	r.Status = model.ReservationStatus(status)
	r.SeatingPreference = model.SeatingPreference(seating)
	r.PreferredTime = preferred.UTC()
	r.CreatedAt = created.UTC()
	r.UpdatedAt = upd.UTC()
	if checkedInAt.Valid {
		t := checkedInAt.Time.UTC()
		r.CheckedInAt = &t
	}
	return &r, nil
}
