// Package api exposes the reservation subsystem over HTTP.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"tablebook/internal/availability"
	"tablebook/internal/checkin"
	"tablebook/internal/metrics"
	"tablebook/internal/model"
	"tablebook/internal/realtime"
	"tablebook/internal/reservations"
	"tablebook/internal/staff"
)

const maxBodyBytes = 1 << 20

// Store is the persistence used directly by handlers.
type Store interface {
	GetBusiness(ctx context.Context, id string) (*model.Business, error)
	SaveSlots(ctx context.Context, businessID string, slots []model.TimeSlot) (bool, error)
	SetAcceptsReservations(ctx context.Context, businessID string, accepts bool) error
	WriteAudit(ctx context.Context, entry model.AuditLog) error
	ListAuditLogs(ctx context.Context, businessID string, from, to time.Time) ([]model.AuditLog, error)
}

// Publisher announces changes to other screens and instances.
type Publisher interface {
	Publish(ctx context.Context, c realtime.Change)
}

// Alerts receives staff-facing alerts raised by handlers.
type Alerts interface {
	ReservationsAutoDisabled(ctx context.Context, businessID string)
}

// Services are the components behind the handlers.
type Services struct {
	Store        Store
	Reservations *reservations.Service
	Control      *staff.Control
	Reader       *availability.Reader
	Verifier     *checkin.Verifier
	Sessions     *checkin.SessionStore
	Hub          *realtime.Hub
	Publisher    Publisher
	Alerts       Alerts
	// CheckedIn runs after an arrival was recorded.
	CheckedIn func(ctx context.Context, r *model.Reservation)
	// Ready reports whether dependencies are reachable, for /readyz.
	Ready func(ctx context.Context) error
}

// Options configure the HTTP server.
type Options struct {
	Port           int
	JWTSecret      string
	Issuer         string
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	// DraftIdleTimeout drops slot drafts nobody touched for this long.
	DraftIdleTimeout time.Duration
	Now              func() time.Time
}

// HTTPServer serves the /api/v1 routes.
type HTTPServer struct {
	svc     Services
	opts    Options
	limiter *subjectLimiter
	router  *httprouter.Router
	drafts  drafts
	baseCtx context.Context
	now     func() time.Time
	log     zerolog.Logger
}

func NewHTTPServer(svc Services, opts Options, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DraftIdleTimeout <= 0 {
		opts.DraftIdleTimeout = 30 * time.Minute
	}
	s := &HTTPServer{
		svc:     svc,
		opts:    opts,
		limiter: newSubjectLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		router:  httprouter.New(),
		baseCtx: context.Background(),
		now:     opts.Now,
		log:     logger.With().Str("component", "api").Logger(),
	}
	s.routes()
	return s
}

func (s *HTTPServer) routes() {
	r := s.router
	r.GET("/healthz", s.handleHealth)
	r.GET("/readyz", s.handleReady)

	const biz = "/api/v1/businesses/:business"

	r.GET(biz+"/slots", s.staff("slots_list", s.handleListSlots))
	r.PUT(biz+"/slots", s.staff("slots_save", s.handleSaveSlots))
	r.POST(biz+"/slots", s.staff("slots_add", s.handleAddSlot))
	r.PATCH(biz+"/slots/:slot", s.staff("slots_edit", s.handleEditSlot))
	r.POST(biz+"/slots/:slot/duplicate", s.staff("slots_duplicate", s.handleDuplicateSlot))
	r.DELETE(biz+"/slots/:slot", s.staff("slots_delete", s.handleDeleteSlot))

	r.PUT(biz+"/settings/reservations-enabled", s.staff("reservations_enabled", s.handleReservationsEnabled))
	r.GET(biz+"/settings/paused", s.staff("paused_get", s.handleGetPaused))
	r.PUT(biz+"/settings/paused", s.staff("paused", s.handlePaused))
	r.GET(biz+"/availability", s.authed("availability", s.handleAvailability))
	r.PUT(biz+"/closures/:date/:slot", s.staff("closure_close", s.handleClosure(true)))
	r.DELETE(biz+"/closures/:date/:slot", s.staff("closure_open", s.handleClosure(false)))

	r.GET(biz+"/reservations", s.staff("reservations_list", s.handleListReservations))
	r.POST("/api/v1/reservations", s.authed("reservations_create", s.handleCreateReservation))
	r.GET("/api/v1/reservations/:id", s.authed("reservations_get", s.handleGetReservation))
	r.PUT("/api/v1/reservations/:id/status", s.authed("reservations_status", s.handleSetStatus))
	r.GET("/api/v1/reservations/:id/qr.png", s.authed("reservations_qr", s.handleQR))

	r.POST(biz+"/checkin", s.staff("checkin_verify", s.handleVerify))
	r.POST(biz+"/checkin/session", s.staff("checkin_open", s.handleOpenSession))
	r.POST(biz+"/checkin/session/scan", s.staff("checkin_scan", s.handleSessionScan))
	r.POST(biz+"/checkin/session/next", s.staff("checkin_next", s.handleSessionNext))
	r.DELETE(biz+"/checkin/session", s.staff("checkin_close", s.handleCloseSession))

	r.GET(biz+"/export/reservations.csv", s.staff("export_csv", s.handleExportCSV))
	r.GET(biz+"/export/reservations.xlsx", s.staff("export_xlsx", s.handleExportXLSX))
	r.GET(biz+"/export/audit-logs.csv", s.staff("export_audit", s.handleExportAudit))

	r.GET(biz+"/ws", s.staff("ws", s.handleWS))
}

// Handler returns the router wrapped in CORS.
func (s *HTTPServer) Handler() http.Handler {
	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}).Handler(s.router)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	s.baseCtx = ctx
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.Handler(),
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	s.log.Info().Int("port", s.opts.Port).Msg("API server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.svc.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := s.svc.Ready(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (s *HTTPServer) instrument(route string, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next(rec, r, ps)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		metrics.IncHTTP(route, strconv.Itoa(rec.status))
		s.log.Debug().
			Str("route", route).
			Str("method", r.Method).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	}
}

// audit records a staff action. The actor defaults to the token subject.
func (s *HTTPServer) audit(ctx context.Context, entry model.AuditLog) {
	if entry.ActorID == "" {
		if c := claimsFrom(ctx); c != nil {
			entry.ActorID = c.Subject
		}
	}
	if err := s.svc.Store.WriteAudit(ctx, entry); err != nil {
		s.log.Warn().Err(err).Str("action", entry.Action).Msg("Failed to write audit log")
	}
}

func (s *HTTPServer) publish(ctx context.Context, c realtime.Change) {
	if s.svc.Publisher != nil {
		s.svc.Publisher.Publish(ctx, c)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
