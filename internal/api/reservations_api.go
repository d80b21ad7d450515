package api

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"tablebook/internal/checkin"
	"tablebook/internal/model"
	"tablebook/internal/reservations"
)

func (s *HTTPServer) handleCreateReservation(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req reservations.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UserID = claimsFrom(r.Context()).Subject

	res, err := s.svc.Reservations.Create(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// loadVisible returns the reservation when the caller is its guest or staff of
// its business. Anything else looks like a missing record.
func (s *HTTPServer) loadVisible(w http.ResponseWriter, r *http.Request, id string) *reservations.View {
	view, err := s.svc.Reservations.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return nil
	}
	c := claimsFrom(r.Context())
	if view.UserID != c.Subject && !c.CanManage(view.BusinessID) {
		writeError(w, http.StatusNotFound, "reservation not found")
		return nil
	}
	return view
}

func (s *HTTPServer) handleGetReservation(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	view := s.loadVisible(w, r, ps.ByName("id"))
	if view == nil {
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleSetStatus lets staff move a reservation through its lifecycle. The
// guest who made it may only cancel.
func (s *HTTPServer) handleSetStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var in struct {
		Status model.ReservationStatus `json:"status"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	view := s.loadVisible(w, r, ps.ByName("id"))
	if view == nil {
		return
	}
	c := claimsFrom(r.Context())
	if !c.CanManage(view.BusinessID) && in.Status != model.StatusCancelled {
		writeError(w, http.StatusForbidden, "guests may only cancel")
		return
	}

	updated, err := s.svc.Reservations.SetStatus(r.Context(), c.Subject, view.ID, in.Status)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	view := s.loadVisible(w, r, ps.ByName("id"))
	if view == nil {
		return
	}
	png, err := checkin.RenderQR(view.QRCodeToken, 0)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// listQuery reads event_id, status, from and to. Dates are YYYY-MM-DD in UTC
// and both ends are inclusive.
func listQuery(w http.ResponseWriter, r *http.Request, businessID string) (reservations.ListQuery, bool) {
	q := r.URL.Query()
	lq := reservations.ListQuery{
		BusinessID: businessID,
		EventID:    q.Get("event_id"),
		Status:     model.ReservationStatus(q.Get("status")),
	}
	if lq.Status != "" && !model.ValidStatus(lq.Status) {
		writeError(w, http.StatusBadRequest, "unknown status")
		return lq, false
	}
	if raw := q.Get("from"); raw != "" {
		d, ok := parseDate(w, raw)
		if !ok {
			return lq, false
		}
		lq.From = d
	}
	if raw := q.Get("to"); raw != "" {
		d, ok := parseDate(w, raw)
		if !ok {
			return lq, false
		}
		lq.To = d.Add(24 * time.Hour)
	}
	return lq, true
}

func (s *HTTPServer) handleListReservations(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	lq, ok := listQuery(w, r, ps.ByName("business"))
	if !ok {
		return
	}
	list, err := s.svc.Reservations.List(r.Context(), lq)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []reservations.View{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reservations":         list,
		"grace_period_seconds": int64(s.svc.Reservations.GracePeriod().Seconds()),
	})
}
