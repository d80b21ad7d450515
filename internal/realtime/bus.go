package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ChangeType is the kind of row change that happened.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Tables that emit change notifications.
const (
	TableReservations = "reservations"
	TableSlotClosures = "slot_closures"
	TableBusinesses   = "businesses"
)

// AllTables subscribes a handler to every table.
const AllTables = "*"

// Change is a row-level change notification scoped to one business.
type Change struct {
	Table      string     `json:"table"`
	Type       ChangeType `json:"type"`
	BusinessID string     `json:"business_id"`
	Date       string     `json:"date,omitempty"`
	RecordID   string     `json:"record_id,omitempty"`
	Origin     string     `json:"origin,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Handler reacts to a change.
type Handler func(Change)

// Transport carries changes between service instances.
type Transport interface {
	Publish(ctx context.Context, c Change) error
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}

// Bus is the in-process change bus, optionally bridged to a Transport.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler
	transport   Transport
	origin      string
	logger      *zerolog.Logger
}

// NewBus constructs an empty bus.
func NewBus(logger *zerolog.Logger) *Bus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "realtime_bus").Logger()
	return &Bus{
		subscribers: make(map[string][]Handler),
		origin:      uuid.NewString(),
		logger:      &l,
	}
}

// Subscribe registers a handler for a table, or AllTables.
func (b *Bus) Subscribe(table string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[table] = append(b.subscribers[table], h)
}

// Attach bridges the bus to t: local publishes are forwarded and remote
// changes are dispatched locally. Changes this instance sent are skipped.
func (b *Bus) Attach(ctx context.Context, t Transport) error {
	b.mu.Lock()
	b.transport = t
	b.mu.Unlock()

	return t.Subscribe(ctx, func(c Change) {
		if c.Origin == b.origin {
			return
		}
		b.dispatch(c)
	})
}

// Publish dispatches c to local subscribers and forwards it to the transport.
func (b *Bus) Publish(ctx context.Context, c Change) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.Origin = b.origin

	b.dispatch(c)

	b.mu.RLock()
	t := b.transport
	b.mu.RUnlock()
	if t == nil {
		return
	}
	if err := t.Publish(ctx, c); err != nil {
		b.logger.Warn().Err(err).Str("table", c.Table).Str("business_id", c.BusinessID).Msg("Failed to forward change")
	}
}

func (b *Bus) dispatch(c Change) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[c.Table]...)
	handlers = append(handlers, b.subscribers[AllTables]...)
	b.mu.RUnlock()

	// Handlers run synchronously; they must not block.
	for _, h := range handlers {
		h(c)
	}
}
