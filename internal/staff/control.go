package staff

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tablebook/internal/metrics"
	"tablebook/internal/model"
	"tablebook/internal/realtime"
)

// ErrToggleInFlight is returned when a closure toggle for the same slot is
// still being persisted.
var ErrToggleInFlight = errors.New("slot toggle already in progress")

// Store persists staff controls.
type Store interface {
	SetReservationsPaused(ctx context.Context, businessID string, paused bool) (bool, error)
	CloseSlot(ctx context.Context, c model.SlotClosure) error
	OpenSlot(ctx context.Context, businessID, date, slotTime string) error
	WriteAudit(ctx context.Context, entry model.AuditLog) error
}

// AvailabilityReader re-reads availability after a toggle.
type AvailabilityReader interface {
	Read(ctx context.Context, businessID string, date time.Time) []model.SlotAvailability
	Invalidate(ctx context.Context, businessID string, date time.Time)
}

// Publisher announces changes to other screens and instances.
type Publisher interface {
	Publish(ctx context.Context, c realtime.Change)
}

// Control implements the staff live-control surface: pausing intake and
// closing individual slots for a date.
type Control struct {
	store     Store
	reader    AvailabilityReader
	publisher Publisher
	logger    *zerolog.Logger

	mu       sync.Mutex
	paused   map[string]bool
	inflight map[string]struct{}
}

func NewControl(store Store, reader AvailabilityReader, publisher Publisher, logger *zerolog.Logger) *Control {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "staff_control").Logger()
	return &Control{
		store:     store,
		reader:    reader,
		publisher: publisher,
		logger:    &l,
		paused:    make(map[string]bool),
		inflight:  make(map[string]struct{}),
	}
}

// Paused returns the last known pause state of a business.
func (c *Control) Paused(businessID string) (paused, known bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	paused, known = c.paused[businessID]
	return paused, known
}

// SetPaused flips the pause flag optimistically, persists it and adopts the
// persisted value. On failure the previous local state is restored.
func (c *Control) SetPaused(ctx context.Context, actorID, businessID string, paused bool) (bool, error) {
	c.mu.Lock()
	prev, hadPrev := c.paused[businessID]
	c.paused[businessID] = paused
	c.mu.Unlock()

	stored, err := c.store.SetReservationsPaused(ctx, businessID, paused)
	if err != nil {
		c.mu.Lock()
		if hadPrev {
			c.paused[businessID] = prev
		} else {
			delete(c.paused, businessID)
		}
		c.mu.Unlock()
		c.logger.Error().Err(err).Str("business_id", businessID).Bool("paused", paused).Msg("Failed to toggle pause")
		return prev, fmt.Errorf("set paused: %w", err)
	}

	c.mu.Lock()
	c.paused[businessID] = stored
	c.mu.Unlock()

	c.audit(ctx, model.AuditLog{
		BusinessID: businessID,
		ActorID:    actorID,
		Action:     model.ActionPauseToggled,
		Details:    fmt.Sprintf("paused=%t", stored),
	})
	c.publish(ctx, realtime.Change{Table: realtime.TableBusinesses, Type: realtime.ChangeUpdate, BusinessID: businessID, RecordID: businessID})
	return stored, nil
}

// SlotKey identifies one slot of one business date.
func SlotKey(businessID, date, slotTime string) string {
	return businessID + "|" + date + "|" + slotTime
}

// InFlight reports whether a toggle for the slot is being persisted.
func (c *Control) InFlight(businessID, date, slotTime string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[SlotKey(businessID, date, slotTime)]
	return ok
}

// ToggleClosure closes or reopens one slot for a date and returns the
// re-read availability of that date. A second toggle of the same slot while
// the first is still running is refused with ErrToggleInFlight.
func (c *Control) ToggleClosure(ctx context.Context, actorID, businessID string, date time.Time, slotTime string, closed bool) ([]model.SlotAvailability, error) {
	day := date.Format(model.DateLayout)
	key := SlotKey(businessID, day, slotTime)

	c.mu.Lock()
	if _, busy := c.inflight[key]; busy {
		c.mu.Unlock()
		return nil, ErrToggleInFlight
	}
	c.inflight[key] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
	}()

	var (
		err    error
		action string
		change realtime.ChangeType
	)
	if closed {
		action, change = model.ActionSlotClosed, realtime.ChangeInsert
		err = c.store.CloseSlot(ctx, model.SlotClosure{
			BusinessID:  businessID,
			ClosureDate: day,
			SlotTime:    slotTime,
			ClosedBy:    actorID,
		})
	} else {
		action, change = model.ActionSlotOpened, realtime.ChangeDelete
		err = c.store.OpenSlot(ctx, businessID, day, slotTime)
	}
	if err != nil {
		c.logger.Error().Err(err).Str("slot", key).Bool("closed", closed).Msg("Failed to toggle slot closure")
		return nil, fmt.Errorf("toggle closure: %w", err)
	}

	metrics.IncClosureToggled(action)
	c.audit(ctx, model.AuditLog{
		BusinessID: businessID,
		ActorID:    actorID,
		Action:     action,
		Target:     day + " " + slotTime,
	})
	c.publish(ctx, realtime.Change{Table: realtime.TableSlotClosures, Type: change, BusinessID: businessID, Date: day, RecordID: key})

	if c.reader == nil {
		return nil, nil
	}
	c.reader.Invalidate(ctx, businessID, date)
	return c.reader.Read(ctx, businessID, date), nil
}

func (c *Control) audit(ctx context.Context, entry model.AuditLog) {
	if err := c.store.WriteAudit(ctx, entry); err != nil {
		c.logger.Warn().Err(err).Str("action", entry.Action).Msg("Failed to write audit log")
	}
}

func (c *Control) publish(ctx context.Context, ch realtime.Change) {
	if c.publisher != nil {
		c.publisher.Publish(ctx, ch)
	}
}
