package reservations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tablebook/internal/db"
	"tablebook/internal/metrics"
	"tablebook/internal/model"
	"tablebook/internal/realtime"
	"tablebook/internal/slots"
)

var (
	ErrInvalidRequest = errors.New("invalid reservation request")
	ErrInPast         = errors.New("cannot reserve in the past")
	ErrTooFar         = errors.New("date is too far in the future")
)

const codeAttempts = 3

// Store is the persistence the service needs.
type Store interface {
	GetBusiness(ctx context.Context, id string) (*model.Business, error)
	CreateReservation(ctx context.Context, r *model.Reservation) error
	GetReservation(ctx context.Context, id string) (*model.Reservation, error)
	UpdateReservationStatus(ctx context.Context, id string, to model.ReservationStatus) (*model.Reservation, error)
	ListReservations(ctx context.Context, f db.ListFilter) ([]model.Reservation, error)
	MarkNoShows(ctx context.Context, cutoff time.Time) ([]model.Reservation, error)
	WriteAudit(ctx context.Context, entry model.AuditLog) error
}

// Notifier delivers best-effort notifications about reservations.
type Notifier interface {
	ReservationCreated(ctx context.Context, r *model.Reservation)
	ReservationStatusChanged(ctx context.Context, r *model.Reservation)
}

// Publisher announces changes to other screens and instances.
type Publisher interface {
	Publish(ctx context.Context, c realtime.Change)
}

// Options tune the service.
type Options struct {
	GracePeriod time.Duration
	MaxAdvance  time.Duration
	Now         func() time.Time
}

// Service owns the reservation lifecycle.
type Service struct {
	store     Store
	notifier  Notifier
	publisher Publisher
	grace     time.Duration
	maxAhead  time.Duration
	now       func() time.Time
	logger    *zerolog.Logger
}

func NewService(store Store, notifier Notifier, publisher Publisher, opts Options, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := logger.With().Str("component", "reservations").Logger()
	return &Service{
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		grace:     opts.GracePeriod,
		maxAhead:  opts.MaxAdvance,
		now:       opts.Now,
		logger:    &l,
	}
}

// GracePeriod returns the configured grace window.
func (s *Service) GracePeriod() time.Duration {
	return s.grace
}

// CreateRequest is a guest's reservation request.
type CreateRequest struct {
	BusinessID      string                  `json:"business_id"`
	EventID         string                  `json:"event_id,omitempty"`
	OfferPurchaseID string                  `json:"offer_purchase_id,omitempty"`
	UserID          string                  `json:"user_id,omitempty"`
	GuestName       string                  `json:"guest_name"`
	GuestEmail      string                  `json:"guest_email,omitempty"`
	GuestPhone      string                  `json:"guest_phone,omitempty"`
	Notes           string                  `json:"notes,omitempty"`
	PartySize       int                     `json:"party_size"`
	Date            string                  `json:"date,omitempty"`
	SlotTime        string                  `json:"slot_time,omitempty"`
	PreferredTime   *time.Time              `json:"preferred_time,omitempty"`
	Seating         model.SeatingPreference `json:"seating_preference,omitempty"`
}

func (req *CreateRequest) validate() error {
	req.GuestName = strings.TrimSpace(req.GuestName)
	if req.GuestName == "" {
		return fmt.Errorf("%w: guest_name is required", ErrInvalidRequest)
	}
	if req.PartySize < 1 {
		return fmt.Errorf("%w: party_size must be at least 1", ErrInvalidRequest)
	}
	if req.Seating == "" {
		req.Seating = model.SeatingNoPreference
	}
	if !model.ValidSeating(req.Seating) {
		return fmt.Errorf("%w: unknown seating_preference %q", ErrInvalidRequest, req.Seating)
	}
	if req.EventID == "" {
		if req.BusinessID == "" || req.Date == "" || req.SlotTime == "" {
			return fmt.Errorf("%w: business_id, date and slot_time are required", ErrInvalidRequest)
		}
	} else if req.PreferredTime == nil {
		return fmt.Errorf("%w: preferred_time is required for event reservations", ErrInvalidRequest)
	}
	return nil
}

// Create validates req against the business's slots and stores a pending
// reservation. Capacity, closure and pause are enforced by the store.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.Reservation, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	r := &model.Reservation{
		BusinessID:        req.BusinessID,
		UserID:            req.UserID,
		GuestName:         req.GuestName,
		GuestEmail:        strings.TrimSpace(req.GuestEmail),
		GuestPhone:        strings.TrimSpace(req.GuestPhone),
		Notes:             req.Notes,
		Status:            model.StatusPending,
		PartySize:         req.PartySize,
		SeatingPreference: req.Seating,
	}
	if req.OfferPurchaseID != "" {
		offer := req.OfferPurchaseID
		r.OfferPurchaseID = &offer
	}

	if req.EventID != "" {
		eventID := req.EventID
		r.EventID = &eventID
		r.PreferredTime = req.PreferredTime.UTC()
		r.ReservationDate = r.PreferredTime.Format(model.DateLayout)
	} else if err := s.placeInSlot(ctx, r, req); err != nil {
		metrics.IncReservationRejected(rejectReason(err))
		return nil, err
	}

	if err := s.insert(ctx, r); err != nil {
		metrics.IncReservationRejected(rejectReason(err))
		return nil, err
	}

	metrics.IncReservationCreated(string(r.Type()))
	s.logger.Info().
		Str("reservation_id", r.ID).
		Str("business_id", r.BusinessID).
		Str("date", r.ReservationDate).
		Str("slot", r.SlotTime).
		Int("party_size", r.PartySize).
		Msg("Reservation created")

	s.publish(ctx, r, realtime.ChangeInsert)
	if s.notifier != nil {
		s.notifier.ReservationCreated(ctx, r)
	}
	return r, nil
}

func (s *Service) placeInSlot(ctx context.Context, r *model.Reservation, req CreateRequest) error {
	business, err := s.store.GetBusiness(ctx, req.BusinessID)
	if err != nil {
		return err
	}
	if business.ReservationsPaused {
		return db.ErrReservationsPaused
	}
	if !business.AcceptsDirectReservations {
		return db.ErrReservationsDisabled
	}

	date, err := slots.ParseDate(req.Date, business.Location())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	instances, err := slots.InstancesForDate(business.TimeSlots, date)
	if err != nil {
		return err
	}
	inst, ok := slots.FindInstance(instances, req.SlotTime)
	if !ok {
		return fmt.Errorf("%w: %s %s", db.ErrSlotNotFound, req.Date, req.SlotTime)
	}
	if req.PartySize > inst.MaxPartySize {
		return fmt.Errorf("%w: %d > %d", db.ErrPartyTooLarge, req.PartySize, inst.MaxPartySize)
	}

	now := s.now()
	if inst.Start.Before(now) {
		return ErrInPast
	}
	if s.maxAhead > 0 && inst.Start.After(now.Add(s.maxAhead)) {
		return ErrTooFar
	}

	r.PreferredTime = inst.Start.UTC()
	r.ReservationDate = req.Date
	r.SlotTime = inst.SlotTime
	return nil
}

func (s *Service) insert(ctx context.Context, r *model.Reservation) error {
	var err error
	for attempt := 0; attempt < codeAttempts; attempt++ {
		r.ID = uuid.NewString()
		r.QRCodeToken = NewQRToken()
		if r.ConfirmationCode, err = NewConfirmationCode(); err != nil {
			return err
		}
		err = s.store.CreateReservation(ctx, r)
		if err == nil || !strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return err
		}
		s.logger.Warn().Int("attempt", attempt+1).Msg("Confirmation code collision, retrying")
	}
	return err
}

// Get returns one reservation with its derived status.
func (s *Service) Get(ctx context.Context, id string) (*View, error) {
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	v := s.view(*r, s.now())
	return &v, nil
}

// SetStatus applies a staff decision to a reservation.
func (s *Service) SetStatus(ctx context.Context, actorID, id string, to model.ReservationStatus) (*model.Reservation, error) {
	if !model.ValidStatus(to) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, to)
	}
	r, err := s.store.UpdateReservationStatus(ctx, id, to)
	if err != nil {
		return nil, err
	}

	metrics.IncStatusChanged(string(to))
	if err := s.store.WriteAudit(ctx, model.AuditLog{
		BusinessID: r.BusinessID,
		ActorID:    actorID,
		Action:     model.ActionStatusChanged,
		Target:     r.ID,
		Details:    "status=" + string(to),
	}); err != nil {
		s.logger.Warn().Err(err).Str("reservation_id", id).Msg("Failed to write audit log")
	}

	s.publish(ctx, r, realtime.ChangeUpdate)
	if s.notifier != nil {
		s.notifier.ReservationStatusChanged(ctx, r)
	}
	return r, nil
}

// View is a reservation with fields derived at read time.
type View struct {
	model.Reservation
	Type           model.ReservationType `json:"type"`
	DisplayStatus  DisplayStatus         `json:"display_status"`
	GraceRemaining int64                 `json:"grace_remaining_seconds,omitempty"`
}

func (s *Service) view(r model.Reservation, now time.Time) View {
	return View{
		Reservation:    r,
		Type:           r.Type(),
		DisplayStatus:  Classify(&r, now, s.grace),
		GraceRemaining: int64(GraceRemaining(&r, now, s.grace).Seconds()),
	}
}

// ListQuery selects reservations for a business.
type ListQuery struct {
	BusinessID string
	EventID    string
	Status     model.ReservationStatus
	From       time.Time
	To         time.Time
}

// List returns a business's reservations with derived display status.
func (s *Service) List(ctx context.Context, q ListQuery) ([]View, error) {
	list, err := s.store.ListReservations(ctx, db.ListFilter{
		BusinessID: q.BusinessID,
		EventID:    q.EventID,
		Status:     q.Status,
		From:       q.From,
		To:         q.To,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]View, 0, len(list))
	for _, r := range list {
		out = append(out, s.view(r, now))
	}
	return out, nil
}

// Records returns the raw reservations of a business, for exports.
func (s *Service) Records(ctx context.Context, q ListQuery) ([]model.Reservation, error) {
	return s.store.ListReservations(ctx, db.ListFilter{
		BusinessID: q.BusinessID,
		EventID:    q.EventID,
		Status:     q.Status,
		From:       q.From,
		To:         q.To,
	})
}

func (s *Service) publish(ctx context.Context, r *model.Reservation, t realtime.ChangeType) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, realtime.Change{
		Table:      realtime.TableReservations,
		Type:       t,
		BusinessID: r.BusinessID,
		Date:       r.ReservationDate,
		RecordID:   r.ID,
	})
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, db.ErrSlotFull):
		return "full"
	case errors.Is(err, db.ErrSlotClosed):
		return "closed"
	case errors.Is(err, db.ErrReservationsPaused):
		return "paused"
	case errors.Is(err, db.ErrReservationsDisabled):
		return "disabled"
	case errors.Is(err, db.ErrPartyTooLarge):
		return "party_size"
	case errors.Is(err, db.ErrSlotNotFound):
		return "no_slot"
	case errors.Is(err, ErrInPast), errors.Is(err, ErrTooFar), errors.Is(err, ErrInvalidRequest):
		return "invalid"
	default:
		return "error"
	}
}
