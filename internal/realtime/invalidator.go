package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Entity is a cached view that a change can make stale.
type Entity string

const (
	EntityAvailability Entity = "availability"
	EntityReservations Entity = "reservations"
	EntitySettings     Entity = "settings"
)

var tableEntities = map[string][]Entity{
	TableReservations: {EntityAvailability, EntityReservations},
	TableSlotClosures: {EntityAvailability},
	TableBusinesses:   {EntityAvailability, EntitySettings},
}

// Key identifies one cached view of one business.
type Key struct {
	Entity     Entity `json:"entity"`
	BusinessID string `json:"business_id"`
}

// RefetchFunc reloads the view behind key.
type RefetchFunc func(ctx context.Context, key Key)

// Invalidator marks views stale on change and runs at most one refetch per
// key per debounce window. Marks arriving while a refetch is pending are
// folded into it.
type Invalidator struct {
	mu       sync.Mutex
	ctx      context.Context
	debounce time.Duration
	refetch  RefetchFunc
	stale    map[Key]uint64
	pending  map[Key]*time.Timer
	stopped  bool
	logger   *zerolog.Logger
}

func NewInvalidator(ctx context.Context, debounce time.Duration, refetch RefetchFunc, logger *zerolog.Logger) *Invalidator {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "invalidator").Logger()
	return &Invalidator{
		ctx:      ctx,
		debounce: debounce,
		refetch:  refetch,
		stale:    make(map[Key]uint64),
		pending:  make(map[Key]*time.Timer),
		logger:   &l,
	}
}

// Handle is a Bus handler.
func (i *Invalidator) Handle(c Change) {
	if c.BusinessID == "" {
		return
	}
	for _, e := range tableEntities[c.Table] {
		i.MarkStale(Key{Entity: e, BusinessID: c.BusinessID})
	}
}

// MarkStale flags key and schedules a refetch unless one is already pending.
func (i *Invalidator) MarkStale(key Key) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.stopped {
		return
	}
	i.stale[key]++
	if _, ok := i.pending[key]; ok {
		return
	}
	i.pending[key] = time.AfterFunc(i.debounce, func() { i.run(key) })
}

// Stale reports whether key has changes not yet refetched.
func (i *Invalidator) Stale(key Key) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stale[key] > 0
}

func (i *Invalidator) run(key Key) {
	i.mu.Lock()
	delete(i.pending, key)
	gen := i.stale[key]
	i.mu.Unlock()

	if i.ctx.Err() != nil {
		return
	}
	i.logger.Debug().Str("entity", string(key.Entity)).Str("business_id", key.BusinessID).Msg("Refetching stale view")
	i.refetch(i.ctx, key)

	i.mu.Lock()
	if i.stale[key] == gen {
		delete(i.stale, key)
	}
	i.mu.Unlock()
}

// Stop cancels pending refetches.
func (i *Invalidator) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stopped = true
	for k, t := range i.pending {
		t.Stop()
		delete(i.pending, k)
	}
}
