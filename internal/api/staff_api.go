package api

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"tablebook/internal/model"
)

func parseDate(w http.ResponseWriter, raw string) (time.Time, bool) {
	d, err := time.Parse(model.DateLayout, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return d, true
}

func (s *HTTPServer) handlePaused(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var in struct {
		Paused bool `json:"paused"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	paused, err := s.svc.Control.SetPaused(r.Context(), claimsFrom(r.Context()).Subject, ps.ByName("business"), in.Paused)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

// handleGetPaused reports the pause flag this instance last set, including a
// toggle still being persisted, and falls back to the stored value.
func (s *HTTPServer) handleGetPaused(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	businessID := ps.ByName("business")
	paused, known := s.svc.Control.Paused(businessID)
	if !known {
		b, err := s.svc.Store.GetBusiness(r.Context(), businessID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		paused = b.ReservationsPaused
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	date, ok := parseDate(w, r.URL.Query().Get("date"))
	if !ok {
		return
	}
	businessID, day := ps.ByName("business"), date.Format(model.DateLayout)
	list := s.svc.Reader.Read(r.Context(), businessID, date)
	if list == nil {
		list = []model.SlotAvailability{}
	}
	// slot closures still being persisted
	pending := []string{}
	for _, a := range list {
		if s.svc.Control != nil && s.svc.Control.InFlight(businessID, day, a.SlotTime) {
			pending = append(pending, a.SlotTime)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":    day,
		"slots":   list,
		"pending": pending,
	})
}

// handleClosure closes or reopens one slot of a date and returns the fresh
// availability of that date.
func (s *HTTPServer) handleClosure(closed bool) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		date, ok := parseDate(w, ps.ByName("date"))
		if !ok {
			return
		}
		slotTime := ps.ByName("slot")
		if _, err := model.ParseClock(slotTime); err != nil {
			writeError(w, http.StatusBadRequest, "slot must be HH:MM")
			return
		}

		list, err := s.svc.Control.ToggleClosure(r.Context(), claimsFrom(r.Context()).Subject, ps.ByName("business"), date, slotTime, closed)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		if list == nil {
			list = []model.SlotAvailability{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"date":  date.Format(model.DateLayout),
			"slots": list,
		})
	}
}

func (s *HTTPServer) handleWS(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if s.svc.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "realtime disabled")
		return
	}
	s.svc.Hub.ServeWS(w, r, ps.ByName("business"))
}
