package checkin

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"tablebook/internal/db"
	"tablebook/internal/metrics"
	"tablebook/internal/model"
	"tablebook/internal/realtime"
)

// Store is what verification needs from persistence.
type Store interface {
	FindReservationByToken(ctx context.Context, token string) (*model.Reservation, error)
	CheckIn(ctx context.Context, id, staffID string, at time.Time) (*model.Reservation, error)
	WriteAudit(ctx context.Context, entry model.AuditLog) error
}

// Publisher announces changes to other screens and instances.
type Publisher interface {
	Publish(ctx context.Context, c realtime.Change)
}

// Result is the outcome of verifying one scanned code.
type Result struct {
	State       State              `json:"state"`
	Reason      Reason             `json:"reason,omitempty"`
	Reservation *model.Reservation `json:"reservation,omitempty"`
	Recorded    bool               `json:"recorded"`
}

// VerifierOptions configure a Verifier.
type VerifierOptions struct {
	// RecordCheckIn stores checked_in_at/checked_in_by on success.
	RecordCheckIn bool
	Now           func() time.Time
}

// Verifier resolves a scanned token or code to a reservation of one business.
type Verifier struct {
	store     Store
	publisher Publisher
	record    bool
	now       func() time.Time
	logger    *zerolog.Logger
}

func NewVerifier(store Store, publisher Publisher, opts VerifierOptions, logger *zerolog.Logger) *Verifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := logger.With().Str("component", "checkin").Logger()
	return &Verifier{
		store:     store,
		publisher: publisher,
		record:    opts.RecordCheckIn,
		now:       opts.Now,
		logger:    &l,
	}
}

// Verify looks code up and decides whether the guest may be seated.
// Ownership is checked before status so another business's reservation
// never reveals its state.
func (v *Verifier) Verify(ctx context.Context, businessID, staffID, code string) Result {
	r, err := v.store.FindReservationByToken(ctx, code)
	if err != nil {
		v.logger.Error().Err(err).Str("business_id", businessID).Msg("Reservation lookup failed")
		return v.reject(ReasonLookupFailed, nil)
	}
	if r == nil {
		return v.reject(ReasonNotFound, nil)
	}
	if r.BusinessID != businessID {
		v.logger.Warn().
			Str("business_id", businessID).
			Str("owner_id", r.BusinessID).
			Msg("Scanned reservation belongs to another business")
		return v.reject(ReasonWrongBusiness, nil)
	}

	switch r.Status {
	case model.StatusCancelled:
		return v.reject(ReasonCancelled, r)
	case model.StatusDeclined:
		return v.reject(ReasonDeclined, r)
	}

	res := Result{State: StateVerified, Reservation: r}
	if v.record && !r.CheckedIn() {
		res.Reservation, res.Recorded = v.recordArrival(ctx, r, staffID)
	}

	metrics.IncCheckIn(string(StateVerified))
	v.logger.Info().
		Str("reservation_id", r.ID).
		Str("business_id", businessID).
		Bool("recorded", res.Recorded).
		Msg("Reservation verified")
	return res
}

func (v *Verifier) recordArrival(ctx context.Context, r *model.Reservation, staffID string) (*model.Reservation, bool) {
	updated, err := v.store.CheckIn(ctx, r.ID, staffID, v.now())
	switch {
	case errors.Is(err, db.ErrAlreadyCheckedIn):
		return r, false
	case err != nil:
		v.logger.Error().Err(err).Str("reservation_id", r.ID).Msg("Failed to record check-in")
		return r, false
	}

	if err := v.store.WriteAudit(ctx, model.AuditLog{
		BusinessID: updated.BusinessID,
		ActorID:    staffID,
		Action:     model.ActionCheckedIn,
		Target:     updated.ID,
	}); err != nil {
		v.logger.Warn().Err(err).Str("reservation_id", updated.ID).Msg("Failed to write audit log")
	}
	if v.publisher != nil {
		v.publisher.Publish(ctx, realtime.Change{
			Table:      realtime.TableReservations,
			Type:       realtime.ChangeUpdate,
			BusinessID: updated.BusinessID,
			Date:       updated.ReservationDate,
			RecordID:   updated.ID,
		})
	}
	return updated, true
}

func (v *Verifier) reject(reason Reason, r *model.Reservation) Result {
	metrics.IncCheckIn(string(reason))
	return Result{State: StateRejected, Reason: reason, Reservation: r}
}
