package reservations

import (
	"time"

	"tablebook/internal/model"
)

// DefaultGracePeriod is how long after the reserved time a guest may still
// arrive before the reservation counts as a no-show.
const DefaultGracePeriod = 15 * time.Minute

// DisplayStatus is the status shown to staff, derived from the stored
// status, the check-in and the current time.
type DisplayStatus string

const (
	DisplayPending     DisplayStatus = "pending"
	DisplayAccepted    DisplayStatus = "accepted"
	DisplayDeclined    DisplayStatus = "declined"
	DisplayCancelled   DisplayStatus = "cancelled"
	DisplayNoShow      DisplayStatus = "no_show"
	DisplayGraceEnding DisplayStatus = "grace_ending"
	DisplayCheckedIn   DisplayStatus = "checked_in"
)

// Classify derives the display status of r at now. It is recomputed on
// every call and never cached.
func Classify(r *model.Reservation, now time.Time, grace time.Duration) DisplayStatus {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if r.CheckedIn() {
		return DisplayCheckedIn
	}

	switch r.Status {
	case model.StatusDeclined:
		return DisplayDeclined
	case model.StatusCancelled:
		return DisplayCancelled
	case model.StatusNoShow:
		return DisplayNoShow
	}

	switch {
	case now.Before(r.PreferredTime):
		return DisplayStatus(r.Status)
	case now.Before(r.PreferredTime.Add(grace)):
		return DisplayGraceEnding
	default:
		return DisplayNoShow
	}
}

// GraceRemaining returns how much of the grace window is left at now, or zero
// outside the window.
func GraceRemaining(r *model.Reservation, now time.Time, grace time.Duration) time.Duration {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if Classify(r, now, grace) != DisplayGraceEnding {
		return 0
	}
	return r.PreferredTime.Add(grace).Sub(now)
}
