package api

import (
	"errors"
	"net/http"

	"tablebook/internal/checkin"
	"tablebook/internal/db"
	"tablebook/internal/reservations"
	"tablebook/internal/slots"
	"tablebook/internal/staff"
)

var (
	notFoundErrors = []error{db.ErrNotFound, slots.ErrSlotNotFound, checkin.ErrSessionNotFound}
	invalidErrors  = []error{
		reservations.ErrInvalidRequest, reservations.ErrInPast, reservations.ErrTooFar,
		slots.ErrNoSlots, slots.ErrInactiveSlot, slots.ErrInvalidSlot, slots.ErrDuplicateStart,
		db.ErrPartyTooLarge, db.ErrSlotNotFound,
	}
	conflictErrors = []error{
		db.ErrSlotFull, db.ErrSlotClosed, db.ErrReservationsPaused, db.ErrReservationsDisabled,
		db.ErrInvalidTransition, db.ErrCheckInNotAllowed, db.ErrAlreadyCheckedIn,
		staff.ErrToggleInFlight, checkin.ErrBadTransition, checkin.ErrNotOpen, checkin.ErrScannerStopped,
	}
)

func matches(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// writeServiceError maps domain errors to status codes. Unknown errors are
// logged and reported generically.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case matches(err, notFoundErrors):
		writeError(w, http.StatusNotFound, err.Error())
	case matches(err, invalidErrors):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case matches(err, conflictErrors):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
