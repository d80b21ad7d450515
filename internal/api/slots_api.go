package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"

	"tablebook/internal/model"
	"tablebook/internal/realtime"
	"tablebook/internal/slots"
)

// drafts holds one slot editor per business and staff member. Edits stay in
// the draft until saved; drafts idle past DraftIdleTimeout are dropped.
type drafts struct {
	mu      sync.Mutex
	editors map[string]*draft
}

type draft struct {
	editor   *slots.Editor
	lastUsed time.Time
}

func (s *HTTPServer) editor(ctx context.Context, businessID, subject string, reload bool) (*slots.Editor, error) {
	key := businessID + "|" + subject
	now := s.now()

	s.drafts.mu.Lock()
	defer s.drafts.mu.Unlock()
	if s.drafts.editors == nil {
		s.drafts.editors = make(map[string]*draft)
	}
	for k, d := range s.drafts.editors {
		if now.Sub(d.lastUsed) > s.opts.DraftIdleTimeout {
			delete(s.drafts.editors, k)
		}
	}
	if d, ok := s.drafts.editors[key]; ok && !reload {
		d.lastUsed = now
		return d.editor, nil
	}

	b, err := s.svc.Store.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}
	e := slots.NewEditor(businessID, s.svc.Store, b.TimeSlots, b.AcceptsDirectReservations, &s.log)
	s.drafts.editors[key] = &draft{editor: e, lastUsed: now}
	return e, nil
}

type slotsResponse struct {
	Slots               []model.TimeSlot `json:"slots"`
	ReservationsEnabled bool             `json:"reservations_enabled"`
	CanSave             bool             `json:"can_save"`
	Problem             string           `json:"problem,omitempty"`
	AutoDisabled        bool             `json:"auto_disabled,omitempty"`
}

func draftView(e *slots.Editor) slotsResponse {
	resp := slotsResponse{
		Slots:               e.Slots(),
		ReservationsEnabled: e.ReservationsEnabled(),
	}
	if err := e.Validate(); err != nil {
		resp.Problem = err.Error()
	} else {
		resp.CanSave = true
	}
	return resp
}

func (s *HTTPServer) draftFor(w http.ResponseWriter, r *http.Request, ps httprouter.Params) *slots.Editor {
	reload := r.Method == http.MethodGet && r.URL.Query().Get("reload") == "true"
	e, err := s.editor(r.Context(), ps.ByName("business"), claimsFrom(r.Context()).Subject, reload)
	if err != nil {
		s.writeServiceError(w, err)
		return nil
	}
	return e
}

func (s *HTTPServer) handleListSlots(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	e := s.draftFor(w, r, ps)
	if e == nil {
		return
	}
	writeJSON(w, http.StatusOK, draftView(e))
}

func (s *HTTPServer) handleAddSlot(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	e := s.draftFor(w, r, ps)
	if e == nil {
		return
	}
	e.Add()
	writeJSON(w, http.StatusCreated, draftView(e))
}

func (s *HTTPServer) handleDuplicateSlot(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	e := s.draftFor(w, r, ps)
	if e == nil {
		return
	}
	if _, err := e.Duplicate(ps.ByName("slot")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, draftView(e))
}

// slotEdit is the wire form of one field command.
type slotEdit struct {
	Op    string          `json:"op"`
	Value json.RawMessage `json:"value,omitempty"`
}

func (in slotEdit) command(slotID string) (slots.Command, error) {
	var (
		text string
		num  int
	)
	decode := func(dst interface{}) error {
		if len(in.Value) == 0 {
			return errors.New("value is required")
		}
		return json.Unmarshal(in.Value, dst)
	}

	switch in.Op {
	case "set_time_from":
		if err := decode(&text); err != nil {
			return nil, err
		}
		return slots.SetTimeFrom{SlotID: slotID, Value: text}, nil
	case "set_time_to":
		if err := decode(&text); err != nil {
			return nil, err
		}
		return slots.SetTimeTo{SlotID: slotID, Value: text}, nil
	case "set_capacity":
		if err := decode(&num); err != nil {
			return nil, err
		}
		return slots.SetCapacity{SlotID: slotID, Value: num}, nil
	case "set_max_party_size":
		if err := decode(&num); err != nil {
			return nil, err
		}
		return slots.SetMaxPartySize{SlotID: slotID, Value: num}, nil
	case "toggle_day":
		if err := decode(&text); err != nil {
			return nil, err
		}
		return slots.ToggleDay{SlotID: slotID, Day: model.Weekday(text)}, nil
	case "apply_to_all_days":
		return slots.ApplyToAllDays{SlotID: slotID}, nil
	}
	return nil, errors.New("unknown op " + in.Op)
}

func (s *HTTPServer) handleEditSlot(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var in slotEdit
	if !decodeJSON(w, r, &in) {
		return
	}
	cmd, err := in.command(ps.ByName("slot"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	e := s.draftFor(w, r, ps)
	if e == nil {
		return
	}
	if err := e.Apply(cmd); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draftView(e))
}

func (s *HTTPServer) handleSaveSlots(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	e := s.draftFor(w, r, ps)
	if e == nil {
		return
	}
	if err := e.Save(r.Context()); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.slotsChanged(r.Context(), ps.ByName("business"), len(e.Slots()))
	writeJSON(w, http.StatusOK, draftView(e))
}

// handleDeleteSlot removes a slot and persists the remaining list at once.
func (s *HTTPServer) handleDeleteSlot(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	e := s.draftFor(w, r, ps)
	if e == nil {
		return
	}
	businessID := ps.ByName("business")

	res, err := e.Delete(r.Context(), ps.ByName("slot"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if res.AutoDisabled {
		s.audit(r.Context(), model.AuditLog{BusinessID: businessID, Action: model.ActionReservationsToggled, Details: "enabled=false auto"})
		if s.svc.Alerts != nil {
			s.svc.Alerts.ReservationsAutoDisabled(r.Context(), businessID)
		}
	}
	if !res.Persisted {
		if err := e.SaveRemaining(r.Context()); err != nil {
			// the slot stays removed from the draft; the next save retries
			s.writeServiceError(w, err)
			return
		}
	}
	s.slotsChanged(r.Context(), businessID, len(e.Slots()))

	resp := draftView(e)
	resp.AutoDisabled = res.AutoDisabled
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleReservationsEnabled(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var in struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	e := s.draftFor(w, r, ps)
	if e == nil {
		return
	}
	if err := e.SetReservationsEnabled(r.Context(), in.Enabled); err != nil {
		s.writeServiceError(w, err)
		return
	}
	businessID := ps.ByName("business")
	s.audit(r.Context(), model.AuditLog{BusinessID: businessID, Action: model.ActionReservationsToggled, Details: fmt.Sprintf("enabled=%t", in.Enabled)})
	s.publish(r.Context(), realtime.Change{Table: realtime.TableBusinesses, Type: realtime.ChangeUpdate, BusinessID: businessID, RecordID: businessID})
	writeJSON(w, http.StatusOK, draftView(e))
}

func (s *HTTPServer) slotsChanged(ctx context.Context, businessID string, count int) {
	s.audit(ctx, model.AuditLog{BusinessID: businessID, Action: model.ActionSlotsSaved, Details: "slots=" + strconv.Itoa(count)})
	if s.svc.Reader != nil {
		s.svc.Reader.InvalidateBusiness(ctx, businessID)
	}
	s.publish(ctx, realtime.Change{Table: realtime.TableBusinesses, Type: realtime.ChangeUpdate, BusinessID: businessID, RecordID: businessID})
}
