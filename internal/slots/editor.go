package slots

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"tablebook/internal/model"
)

var (
	ErrNoSlots      = errors.New("at least one time slot is required")
	ErrInactiveSlot = errors.New("time slot has no active days")
	ErrInvalidSlot  = errors.New("invalid time slot")
	ErrSlotNotFound = errors.New("time slot not found")
	// ErrDuplicateStart marks two active slots starting at the same time on a
	// shared weekday. Bookings, counts and closures are keyed by start time.
	ErrDuplicateStart = errors.New("two time slots start at the same time on the same day")
)

// Store persists a business's slot list and reservation flag. SaveSlots must
// switch reservations off when it stores an empty list and report whether it
// did.
type Store interface {
	SaveSlots(ctx context.Context, businessID string, slots []model.TimeSlot) (disabled bool, err error)
	SetAcceptsReservations(ctx context.Context, businessID string, accepts bool) error
}

// DeleteResult describes side effects of a delete.
type DeleteResult struct {
	// AutoDisabled is set when removing the last slot switched reservations off.
	AutoDisabled bool
	// Persisted is set when the delete already stored the remaining list.
	Persisted bool
}

// Editor holds the editable slot list of one business.
type Editor struct {
	mu sync.Mutex

	businessID string
	store      Store
	slots      []model.TimeSlot
	accepts    bool
	newID      func() string
	logger     *zerolog.Logger
}

// NewEditor creates an editor over a loaded slot list.
func NewEditor(businessID string, store Store, loaded []model.TimeSlot, accepts bool, logger *zerolog.Logger) *Editor {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "slot_editor").Str("business_id", businessID).Logger()

	e := &Editor{
		businessID: businessID,
		store:      store,
		accepts:    accepts,
		newID:      model.NewSlotID,
		logger:     &l,
	}
	for _, s := range loaded {
		e.slots = append(e.slots, s.Clone())
	}
	model.SortSlots(e.slots)
	return e
}

// WithIDGenerator overrides slot id generation.
func (e *Editor) WithIDGenerator(gen func() string) *Editor {
	e.newID = gen
	return e
}

// Slots returns a copy of the slots in display order.
func (e *Editor) Slots() []model.TimeSlot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

func (e *Editor) snapshot() []model.TimeSlot {
	out := make([]model.TimeSlot, len(e.slots))
	for i, s := range e.slots {
		out[i] = s.Clone()
	}
	model.SortSlots(out)
	return out
}

// ReservationsEnabled reports the local reservations flag.
func (e *Editor) ReservationsEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accepts
}

// Add appends a default slot.
func (e *Editor) Add() model.TimeSlot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := model.DefaultSlot(e.newID())
	e.slots = append(e.slots, s)
	return s.Clone()
}

// Duplicate copies a slot under a new id right after the original.
func (e *Editor) Duplicate(id string) (model.TimeSlot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.indexOf(id)
	if idx < 0 {
		return model.TimeSlot{}, fmt.Errorf("%w: %s", ErrSlotNotFound, id)
	}

	dup := e.slots[idx].Clone()
	dup.ID = e.newID()

	e.slots = append(e.slots, model.TimeSlot{})
	copy(e.slots[idx+2:], e.slots[idx+1:])
	e.slots[idx+1] = dup
	return dup.Clone(), nil
}

// Delete removes a slot. Removing the last slot stores the empty list at
// once; the store switches reservations off if they were still on, whatever
// this draft last saw. On a store failure the slot is put back.
func (e *Editor) Delete(ctx context.Context, id string) (DeleteResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.indexOf(id)
	if idx < 0 {
		return DeleteResult{}, fmt.Errorf("%w: %s", ErrSlotNotFound, id)
	}
	removed := e.slots[idx]
	e.slots = append(e.slots[:idx], e.slots[idx+1:]...)

	if len(e.slots) > 0 {
		return DeleteResult{}, nil
	}

	disabled, err := e.store.SaveSlots(ctx, e.businessID, []model.TimeSlot{})
	if err != nil {
		e.slots = append(e.slots, removed)
		e.logger.Error().Err(err).Str("slot_id", id).Msg("Failed to remove last time slot")
		return DeleteResult{}, fmt.Errorf("save slots: %w", err)
	}
	e.accepts = false
	if disabled {
		e.logger.Info().Msg("Reservations auto-disabled after last slot removed")
	}
	return DeleteResult{AutoDisabled: disabled, Persisted: true}, nil
}

// Apply runs a field command against one slot.
func (e *Editor) Apply(cmd Command) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.indexOf(cmd.target())
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrSlotNotFound, cmd.target())
	}
	updated := e.slots[idx].Clone()
	if err := cmd.apply(&updated); err != nil {
		return err
	}
	e.slots[idx] = updated
	return nil
}

// Validate returns the first reason the slot list cannot be saved.
func (e *Editor) Validate() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return validate(e.slots)
}

// CanSave reports whether Save would be attempted.
func (e *Editor) CanSave() bool {
	return e.Validate() == nil
}

func validate(list []model.TimeSlot) error {
	if len(list) == 0 {
		return ErrNoSlots
	}
	return validateEach(list)
}

func validateEach(list []model.TimeSlot) error {
	for i, s := range list {
		if !s.Active() {
			return fmt.Errorf("%w: %s-%s", ErrInactiveSlot, s.TimeFrom, s.TimeTo)
		}
		if err := s.Check(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidSlot, s.ID, err)
		}
		for _, other := range list[:i] {
			if other.TimeFrom != s.TimeFrom {
				continue
			}
			for _, d := range s.Days {
				if other.HasDay(d) {
					return fmt.Errorf("%w: %s on %s", ErrDuplicateStart, s.TimeFrom, d)
				}
			}
		}
	}
	return nil
}

// Save persists the whole slot list, replacing what is stored.
func (e *Editor) Save(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validate(e.slots); err != nil {
		return err
	}
	return e.persist(ctx)
}

// SaveRemaining persists the list after deletions. An empty list is allowed.
func (e *Editor) SaveRemaining(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := validateEach(e.slots); err != nil {
		return err
	}
	return e.persist(ctx)
}

func (e *Editor) persist(ctx context.Context) error {
	list := e.snapshot()
	disabled, err := e.store.SaveSlots(ctx, e.businessID, list)
	if err != nil {
		e.logger.Error().Err(err).Int("slots", len(list)).Msg("Failed to save time slots")
		return fmt.Errorf("save slots: %w", err)
	}
	e.slots = list
	if disabled {
		e.accepts = false
	}
	return nil
}

// SetReservationsEnabled persists the reservations flag right away. The local
// flag is reverted when persisting fails.
func (e *Editor) SetReservationsEnabled(ctx context.Context, on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if on {
		if len(e.slots) == 0 {
			return ErrNoSlots
		}
		for _, s := range e.slots {
			if !s.Active() {
				return fmt.Errorf("%w: %s-%s", ErrInactiveSlot, s.TimeFrom, s.TimeTo)
			}
		}
	}

	prev := e.accepts
	e.accepts = on
	if err := e.store.SetAcceptsReservations(ctx, e.businessID, on); err != nil {
		e.accepts = prev
		e.logger.Error().Err(err).Bool("enabled", on).Msg("Failed to update reservations flag")
		return fmt.Errorf("set reservations enabled: %w", err)
	}
	return nil
}

func (e *Editor) indexOf(id string) int {
	for i := range e.slots {
		if e.slots[i].ID == id {
			return i
		}
	}
	return -1
}
