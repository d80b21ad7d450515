package api

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"tablebook/internal/checkin"
)

type codeRequest struct {
	Code string `json:"code"`
}

type sessionResponse struct {
	State  checkin.State  `json:"state"`
	Result checkin.Result `json:"result"`
}

// handleVerify checks one code without a scan session, e.g. typed-in
// confirmation codes.
func (s *HTTPServer) handleVerify(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var in codeRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	res := s.svc.Verifier.Verify(r.Context(), ps.ByName("business"), claimsFrom(r.Context()).Subject, in.Code)
	if res.Recorded && s.svc.CheckedIn != nil {
		s.svc.CheckedIn(r.Context(), res.Reservation)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleOpenSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	// the session outlives this request
	session, err := s.svc.Sessions.Open(s.baseCtx, ps.ByName("business"), claimsFrom(r.Context()).Subject)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{State: session.State(), Result: session.Last()})
}

// handleSessionScan feeds a decoded code into the open session and returns
// the outcome.
func (s *HTTPServer) handleSessionScan(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var in codeRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	session, scanner, err := s.svc.Sessions.Get(ps.ByName("business"), claimsFrom(r.Context()).Subject)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if session.State() != checkin.StateScanning {
		writeError(w, http.StatusConflict, "session is not scanning")
		return
	}
	if err := scanner.Feed(in.Code); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{State: session.State(), Result: session.Last()})
}

func (s *HTTPServer) handleSessionNext(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	session, _, err := s.svc.Sessions.Get(ps.ByName("business"), claimsFrom(r.Context()).Subject)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if err := session.ScanAnother(); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{State: session.State(), Result: session.Last()})
}

func (s *HTTPServer) handleCloseSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.svc.Sessions.Close(ps.ByName("business"), claimsFrom(r.Context()).Subject)
	w.WriteHeader(http.StatusNoContent)
}
