package api

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"tablebook/internal/export"
	"tablebook/internal/model"
	"tablebook/internal/reservations"
)

func (s *HTTPServer) exportRecords(w http.ResponseWriter, r *http.Request, ps httprouter.Params) ([]model.Reservation, bool) {
	q := r.URL.Query()
	f := export.Filter{
		EventID: q.Get("event_id"),
		Status:  model.ReservationStatus(q.Get("status")),
		Type:    model.ReservationType(q.Get("type")),
	}
	if f.Status != "" && !model.ValidStatus(f.Status) {
		writeError(w, http.StatusBadRequest, "unknown status")
		return nil, false
	}
	if f.Type != "" && f.Type != model.TypeProfile && f.Type != model.TypeOffer {
		writeError(w, http.StatusBadRequest, "unknown type")
		return nil, false
	}

	list, err := s.svc.Reservations.Records(r.Context(), reservations.ListQuery{BusinessID: ps.ByName("business")})
	if err != nil {
		s.writeServiceError(w, err)
		return nil, false
	}
	return f.Apply(list), true
}

func attachment(w http.ResponseWriter, contentType, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *HTTPServer) handleExportCSV(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	list, ok := s.exportRecords(w, r, ps)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, list); err != nil {
		s.writeServiceError(w, err)
		return
	}
	attachment(w, "text/csv; charset=utf-8", export.ReservationsFilename(s.now()), buf.Bytes())
}

func (s *HTTPServer) handleExportXLSX(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	list, ok := s.exportRecords(w, r, ps)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, list); err != nil {
		s.writeServiceError(w, err)
		return
	}
	attachment(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", export.XLSXFilename(s.now()), buf.Bytes())
}

// handleExportAudit exports the audit trail, the last 30 days unless from and
// to are given.
func (s *HTTPServer) handleExportAudit(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	now := s.now()
	from, to := now.AddDate(0, 0, -30), now
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		d, ok := parseDate(w, raw)
		if !ok {
			return
		}
		from = d
	}
	if raw := q.Get("to"); raw != "" {
		d, ok := parseDate(w, raw)
		if !ok {
			return
		}
		to = d.Add(24 * time.Hour)
	}

	logs, err := s.svc.Store.ListAuditLogs(r.Context(), ps.ByName("business"), from, to)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteAuditCSV(&buf, logs); err != nil {
		s.writeServiceError(w, err)
		return
	}
	attachment(w, "text/csv; charset=utf-8", export.AuditLogsFilename(now), buf.Bytes())
}
