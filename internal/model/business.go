package model

import "time"

// DateLayout is the calendar-date format used for availability keys.
const DateLayout = "2006-01-02"

// Business is the reservation-relevant part of a business profile.
type Business struct {
	ID                        string     `json:"id" yaml:"id"`
	Name                      string     `json:"name" yaml:"name"`
	AcceptsDirectReservations bool       `json:"accepts_direct_reservations" yaml:"accepts_direct_reservations"`
	ReservationsPaused        bool       `json:"reservations_paused" yaml:"reservations_paused"`
	StaffChatID               int64      `json:"staff_chat_id,omitempty" yaml:"staff_chat_id"`
	Timezone                  string     `json:"timezone" yaml:"timezone"`
	TimeSlots                 []TimeSlot `json:"time_slots" yaml:"time_slots"`
	CreatedAt                 time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt                 time.Time  `json:"updated_at" yaml:"-"`
}

// Location resolves the business timezone, falling back to UTC.
func (b *Business) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Event is the minimal event record reservations can be scoped to.
type Event struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	Title      string    `json:"title"`
	StartsAt   time.Time `json:"starts_at"`
}

// SlotClosure marks one slot of one date as closed by staff.
type SlotClosure struct {
	BusinessID  string    `json:"business_id"`
	ClosureDate string    `json:"closure_date"`
	SlotTime    string    `json:"slot_time"`
	ClosedBy    string    `json:"closed_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SlotAvailability is the derived per-date view of one slot.
type SlotAvailability struct {
	SlotTime  string `json:"slot_time"`
	TimeFrom  string `json:"time_from"`
	TimeTo    string `json:"time_to"`
	Capacity  int    `json:"capacity"`
	Booked    int    `json:"booked"`
	Available int    `json:"available"`
	IsClosed  bool   `json:"is_closed"`
}

// NewSlotAvailability derives the availability of slot given its booked count.
func NewSlotAvailability(slot TimeSlot, booked int, closed bool) SlotAvailability {
	available := slot.Capacity - booked
	if available < 0 {
		available = 0
	}
	return SlotAvailability{
		SlotTime:  slot.TimeFrom,
		TimeFrom:  slot.TimeFrom,
		TimeTo:    slot.TimeTo,
		Capacity:  slot.Capacity,
		Booked:    booked,
		Available: available,
		IsClosed:  closed,
	}
}

// AuditLog is one recorded staff or system action.
type AuditLog struct {
	ID         int64     `json:"id"`
	BusinessID string    `json:"business_id"`
	ActorID    string    `json:"actor_id"`
	Action     string    `json:"action"`
	Target     string    `json:"target"`
	Details    string    `json:"details"`
	CreatedAt  time.Time `json:"created_at"`
}

// Audit actions.
const (
	ActionSlotsSaved          = "slots_saved"
	ActionReservationsToggled = "reservations_toggled"
	ActionPauseToggled        = "pause_toggled"
	ActionSlotClosed          = "slot_closed"
	ActionSlotOpened          = "slot_opened"
	ActionStatusChanged       = "status_changed"
	ActionCheckedIn           = "checked_in"
	ActionNoShowMarked        = "no_show_marked"
)
