package reservations

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"tablebook/internal/metrics"
	"tablebook/internal/model"
	"tablebook/internal/realtime"
)

// Sweeper periodically persists no_show for accepted reservations whose
// grace window has passed without a check-in.
type Sweeper struct {
	service  *Service
	schedule string
	cron     *cron.Cron
	logger   *zerolog.Logger
}

func NewSweeper(service *Service, schedule string, logger *zerolog.Logger) *Sweeper {
	if schedule == "" {
		schedule = "@every 1m"
	}
	l := logger.With().Str("component", "no_show_sweeper").Logger()
	return &Sweeper{
		service:  service,
		schedule: schedule,
		cron:     cron.New(),
		logger:   &l,
	}
}

// Start registers the sweep on the schedule and stops it with ctx.
func (w *Sweeper) Start(ctx context.Context) error {
	_, err := w.cron.AddFunc(w.schedule, func() {
		if _, err := w.Sweep(ctx); err != nil {
			w.logger.Error().Err(err).Msg("No-show sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("sweep schedule %q: %w", w.schedule, err)
	}

	w.cron.Start()
	w.logger.Info().Str("schedule", w.schedule).Msg("No-show sweeper started")

	go func() {
		<-ctx.Done()
		<-w.cron.Stop().Done()
	}()
	return nil
}

// Sweep marks overdue reservations and returns how many were changed.
func (w *Sweeper) Sweep(ctx context.Context) (int, error) {
	s := w.service
	cutoff := s.now().Add(-s.grace)

	marked, err := s.store.MarkNoShows(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if len(marked) == 0 {
		return 0, nil
	}

	metrics.AddNoShowMarked(len(marked))
	for i := range marked {
		r := &marked[i]
		if err := s.store.WriteAudit(ctx, model.AuditLog{
			BusinessID: r.BusinessID,
			ActorID:    "system",
			Action:     model.ActionNoShowMarked,
			Target:     r.ID,
		}); err != nil {
			w.logger.Warn().Err(err).Str("reservation_id", r.ID).Msg("Failed to write audit log")
		}
		s.publish(ctx, r, realtime.ChangeUpdate)
	}

	w.logger.Info().Int("count", len(marked)).Time("cutoff", cutoff).Msg("Reservations marked as no-show")
	return len(marked), nil
}
