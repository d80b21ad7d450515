package availability

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tablebook/internal/model"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) GetSlotsAvailability(ctx context.Context, businessID string, date time.Time) ([]model.SlotAvailability, error) {
	args := m.Called(ctx, businessID, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SlotAvailability), args.Error(1)
}

var day = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

func newTestReader(p Provider) *Reader {
	logger := zerolog.New(io.Discard)
	return NewReader(p, &logger)
}

func grid(booked int) []model.SlotAvailability {
	return []model.SlotAvailability{model.NewSlotAvailability(
		model.TimeSlot{TimeFrom: "18:00", TimeTo: "20:00", Capacity: 2}, booked, false)}
}

func TestReader_ErrorYieldsEmpty(t *testing.T) {
	p := new(mockProvider)
	p.On("GetSlotsAvailability", mock.Anything, "biz-1", day).Return(nil, errors.New("db down")).Once()

	got := newTestReader(p).Read(context.Background(), "biz-1", day)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	p.AssertExpectations(t)
}

func TestReader_ReadsThrough(t *testing.T) {
	p := new(mockProvider)
	p.On("GetSlotsAvailability", mock.Anything, "biz-1", day).Return(grid(1), nil).Once()

	got := newTestReader(p).Read(context.Background(), "biz-1", day)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Available)
}

// blockingProvider lets the test decide the order in which responses land.
type blockingProvider struct {
	responses chan []model.SlotAvailability
}

func (b *blockingProvider) GetSlotsAvailability(ctx context.Context, businessID string, date time.Time) ([]model.SlotAvailability, error) {
	return <-b.responses, nil
}

func TestReader_DiscardsOutOfOrderResponse(t *testing.T) {
	r := newTestReader(nil)

	// Simulate: request 1 issued, request 2 issued, 2 completes, then 1.
	first, _ := r.issue("biz-1", "k")
	second, _ := r.issue("biz-1", "k")

	fresh, got := r.complete("k", second, grid(2))
	assert.True(t, fresh)
	assert.Equal(t, 0, got[0].Available)

	fresh, got = r.complete("k", first, grid(0))
	assert.False(t, fresh)
	assert.Equal(t, 0, got[0].Available, "older response must not overwrite newer snapshot")
}

func TestReader_ConcurrentReadsSameKey(t *testing.T) {
	p := &blockingProvider{responses: make(chan []model.SlotAvailability)}
	r := newTestReader(p)

	results := make(chan []model.SlotAvailability, 2)
	go func() { results <- r.Read(context.Background(), "biz-1", day) }()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		st, ok := r.keys[cacheKey("biz-1", "2025-06-02")]
		return ok && st.issued == 1
	}, time.Second, 5*time.Millisecond)

	go func() { results <- r.Read(context.Background(), "biz-1", day) }()
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.keys[cacheKey("biz-1", "2025-06-02")].issued == 2
	}, time.Second, 5*time.Millisecond)

	// Whichever goroutine receives first completes first; both must end up
	// with a snapshot no older than the newest completed one.
	p.responses <- grid(2)
	a := <-results
	p.responses <- grid(2)
	b := <-results
	assert.Equal(t, a, b)
}

func TestReader_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	p := new(mockProvider)
	p.On("GetSlotsAvailability", mock.Anything, "biz-1", day).Return(grid(1), nil).Twice()

	r := newTestReader(p)
	r.UseRedisCache(client, time.Minute)

	first := r.Read(ctx, "biz-1", day)
	second := r.Read(ctx, "biz-1", day)
	assert.Equal(t, first, second)
	assert.True(t, mr.Exists("availability:biz-1:2025-06-02"))
	p.AssertNumberOfCalls(t, "GetSlotsAvailability", 1)

	r.Invalidate(ctx, "biz-1", day)
	assert.False(t, mr.Exists("availability:biz-1:2025-06-02"))
	r.Read(ctx, "biz-1", day)
	p.AssertNumberOfCalls(t, "GetSlotsAvailability", 2)

	r.InvalidateBusiness(ctx, "biz-1")
	assert.False(t, mr.Exists("availability:biz-1:2025-06-02"))
}

// invalidatingProvider runs an invalidation while the read is in flight.
type invalidatingProvider struct {
	during func()
}

func (p *invalidatingProvider) GetSlotsAvailability(ctx context.Context, businessID string, date time.Time) ([]model.SlotAvailability, error) {
	p.during()
	return grid(0), nil
}

func TestReader_InvalidationDuringReadSkipsCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()
	key := "availability:biz-1:2025-06-02"

	tests := []struct {
		name       string
		invalidate func(r *Reader)
	}{
		{"date", func(r *Reader) { r.Invalidate(ctx, "biz-1", day) }},
		{"business", func(r *Reader) { r.InvalidateBusiness(ctx, "biz-1") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr.FlushAll()
			p := &invalidatingProvider{}
			r := newTestReader(p)
			r.UseRedisCache(client, time.Minute)
			p.during = func() { tt.invalidate(r) }

			got := r.Read(ctx, "biz-1", day)
			require.Len(t, got, 1)
			assert.False(t, mr.Exists(key), "snapshot from before the invalidation must not be cached")

			p.during = func() {}
			r.Read(ctx, "biz-1", day)
			assert.True(t, mr.Exists(key))
		})
	}
}
