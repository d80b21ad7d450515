package notify

import (
	"context"
	"sync"
	"time"

	"tablebook/internal/model"
)

// ReservationNotifier receives reservation lifecycle notifications.
type ReservationNotifier interface {
	ReservationCreated(ctx context.Context, r *model.Reservation)
	ReservationStatusChanged(ctx context.Context, r *model.Reservation)
}

// Fanout forwards notifications to every configured channel.
type Fanout []ReservationNotifier

func (f Fanout) ReservationCreated(ctx context.Context, r *model.Reservation) {
	for _, n := range f {
		n.ReservationCreated(ctx, r)
	}
}

func (f Fanout) ReservationStatusChanged(ctx context.Context, r *model.Reservation) {
	for _, n := range f {
		n.ReservationStatusChanged(ctx, r)
	}
}

// Background delivers notifications off the request path. Each delivery keeps
// the request's values but not its cancellation, and is bounded by timeout.
type Background struct {
	next    ReservationNotifier
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewBackground(next ReservationNotifier, timeout time.Duration) *Background {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Background{next: next, timeout: timeout}
}

func (b *Background) ReservationCreated(ctx context.Context, r *model.Reservation) {
	b.run(ctx, func(ctx context.Context) { b.next.ReservationCreated(ctx, r) })
}

func (b *Background) ReservationStatusChanged(ctx context.Context, r *model.Reservation) {
	b.run(ctx, func(ctx context.Context) { b.next.ReservationStatusChanged(ctx, r) })
}

func (b *Background) run(ctx context.Context, fn func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until pending deliveries finish.
func (b *Background) Wait() {
	b.wg.Wait()
}
