// Package export turns reservation lists into downloadable files.
package export

import "tablebook/internal/model"

// Filter selects reservations for export. Empty fields match everything;
// set fields combine with AND.
type Filter struct {
	EventID string
	Status  model.ReservationStatus
	Type    model.ReservationType
}

// Match reports whether r passes every set predicate.
func (f Filter) Match(r *model.Reservation) bool {
	if f.EventID != "" && (r.EventID == nil || *r.EventID != f.EventID) {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Type != "" && r.Type() != f.Type {
		return false
	}
	return true
}

// Apply returns the reservations matching f, in order.
func (f Filter) Apply(list []model.Reservation) []model.Reservation {
	out := make([]model.Reservation, 0, len(list))
	for i := range list {
		if f.Match(&list[i]) {
			out = append(out, list[i])
		}
	}
	return out
}
