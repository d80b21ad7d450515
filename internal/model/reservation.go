package model

import "time"

// ReservationStatus is the stored lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusPending   ReservationStatus = "pending"
	StatusAccepted  ReservationStatus = "accepted"
	StatusDeclined  ReservationStatus = "declined"
	StatusCancelled ReservationStatus = "cancelled"
	StatusNoShow    ReservationStatus = "no_show"
)

// ReservationType separates profile bookings from offer redemptions.
type ReservationType string

const (
	TypeProfile ReservationType = "profile"
	TypeOffer   ReservationType = "offer"
)

// SeatingPreference is the guest's requested area.
type SeatingPreference string

const (
	SeatingIndoor       SeatingPreference = "indoor"
	SeatingOutdoor      SeatingPreference = "outdoor"
	SeatingNoPreference SeatingPreference = "no_preference"
)

var statusTransitions = map[ReservationStatus][]ReservationStatus{
	StatusPending:  {StatusAccepted, StatusDeclined, StatusCancelled},
	StatusAccepted: {StatusCancelled, StatusNoShow},
}

// ValidStatus reports whether s is a known stored status.
func ValidStatus(s ReservationStatus) bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDeclined, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// CanTransition reports whether a reservation may move from one status to another.
func CanTransition(from, to ReservationStatus) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidSeating reports whether p is a known seating preference.
func ValidSeating(p SeatingPreference) bool {
	switch p {
	case SeatingIndoor, SeatingOutdoor, SeatingNoPreference:
		return true
	}
	return false
}

// Reservation is a guest booking against an event or directly against a business.
type Reservation struct {
	ID                string            `json:"id"`
	BusinessID        string            `json:"business_id"`
	EventID           *string           `json:"event_id,omitempty"`
	OfferPurchaseID   *string           `json:"offer_purchase_id,omitempty"`
	UserID            string            `json:"user_id,omitempty"`
	GuestName         string            `json:"guest_name"`
	GuestEmail        string            `json:"guest_email,omitempty"`
	GuestPhone        string            `json:"guest_phone,omitempty"`
	Notes             string            `json:"notes,omitempty"`
	Status            ReservationStatus `json:"status"`
	PartySize         int               `json:"party_size"`
	PreferredTime     time.Time         `json:"preferred_time"`
	ReservationDate   string            `json:"reservation_date"`
	SlotTime          string            `json:"slot_time,omitempty"`
	SeatingPreference SeatingPreference `json:"seating_preference"`
	ConfirmationCode  string            `json:"confirmation_code"`
	QRCodeToken       string            `json:"qr_code_token"`
	CheckedInAt       *time.Time        `json:"checked_in_at,omitempty"`
	CheckedInBy       string            `json:"checked_in_by,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Type is offer when the reservation redeems an offer purchase.
func (r *Reservation) Type() ReservationType {
	if r.OfferPurchaseID != nil && *r.OfferPurchaseID != "" {
		return TypeOffer
	}
	return TypeProfile
}

// Direct reports whether the reservation is not tied to an event.
func (r *Reservation) Direct() bool {
	return r.EventID == nil || *r.EventID == ""
}

// CheckedIn reports whether the guest has been admitted.
func (r *Reservation) CheckedIn() bool {
	return r.CheckedInAt != nil
}

// Terminal reports whether no further status change is allowed.
func (r *Reservation) Terminal() bool {
	return len(statusTransitions[r.Status]) == 0
}
