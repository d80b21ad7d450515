package realtime

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func TestBus_SubscribeAndWildcard(t *testing.T) {
	bus := NewBus(testLogger())

	var tableHits, allHits int
	bus.Subscribe(TableSlotClosures, func(c Change) { tableHits++ })
	bus.Subscribe(AllTables, func(c Change) { allHits++ })

	bus.Publish(context.Background(), Change{Table: TableSlotClosures, Type: ChangeInsert, BusinessID: "b"})
	bus.Publish(context.Background(), Change{Table: TableReservations, Type: ChangeUpdate, BusinessID: "b"})

	assert.Equal(t, 1, tableHits)
	assert.Equal(t, 2, allHits)
}

func TestBus_RedisBridge(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	newClient := func() *redis.Client {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { c.Close() })
		return c
	}

	sender := NewBus(testLogger())
	receiver := NewBus(testLogger())

	senderTransport := NewRedisTransport(newClient(), "changes", testLogger())
	receiverTransport := NewRedisTransport(newClient(), "changes", testLogger())
	defer senderTransport.Close()
	defer receiverTransport.Close()

	require.NoError(t, sender.Attach(ctx, senderTransport))
	require.NoError(t, receiver.Attach(ctx, receiverTransport))

	var localEcho atomic.Int32
	sender.Subscribe(AllTables, func(c Change) { localEcho.Add(1) })

	got := make(chan Change, 1)
	receiver.Subscribe(TableReservations, func(c Change) { got <- c })

	sender.Publish(ctx, Change{Table: TableReservations, Type: ChangeInsert, BusinessID: "biz-1"})

	select {
	case c := <-got:
		assert.Equal(t, "biz-1", c.BusinessID)
		assert.Equal(t, ChangeInsert, c.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("change not delivered across transport")
	}

	// the sender sees its own change once, not again through redis
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), localEcho.Load())
}

func TestInvalidator_CoalescesRefetch(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []Key
	)
	done := make(chan struct{}, 4)
	inv := NewInvalidator(context.Background(), 30*time.Millisecond, func(ctx context.Context, key Key) {
		mu.Lock()
		calls = append(calls, key)
		mu.Unlock()
		done <- struct{}{}
	}, testLogger())
	defer inv.Stop()

	key := Key{Entity: EntityAvailability, BusinessID: "biz-1"}
	for i := 0; i < 5; i++ {
		inv.Handle(Change{Table: TableSlotClosures, BusinessID: "biz-1"})
	}
	assert.True(t, inv.Stale(key))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refetch did not run")
	}
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	assert.Len(t, calls, 1)
	mu.Unlock()
	assert.False(t, inv.Stale(key))
}

func TestInvalidator_IgnoresUnscopedChange(t *testing.T) {
	inv := NewInvalidator(context.Background(), time.Millisecond, func(context.Context, Key) {
		t.Error("unexpected refetch")
	}, testLogger())
	defer inv.Stop()

	inv.Handle(Change{Table: TableSlotClosures})
	inv.Handle(Change{Table: "unknown", BusinessID: "b"})
	time.Sleep(20 * time.Millisecond)
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(nil, testLogger())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, r.URL.Query().Get("business_id"))
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?business_id=biz-1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers("biz-1") == 1 }, time.Second, 10*time.Millisecond)

	hub.Broadcast("biz-2", StaleMessage{Type: "stale", Entity: EntityAvailability, BusinessID: "biz-2"})
	hub.Broadcast("biz-1", StaleMessage{Type: "stale", Entity: EntityAvailability, BusinessID: "biz-1"})

	var msg StaleMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "biz-1", msg.BusinessID)
	assert.Equal(t, EntityAvailability, msg.Entity)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers("biz-1") == 0 }, time.Second, 10*time.Millisecond)
}
