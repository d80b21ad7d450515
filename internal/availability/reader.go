package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tablebook/internal/model"
)

// Provider computes availability from the store.
type Provider interface {
	GetSlotsAvailability(ctx context.Context, businessID string, date time.Time) ([]model.SlotAvailability, error)
}

type keyState struct {
	issued    uint64
	completed uint64
	latest    []model.SlotAvailability
	// gen counts invalidations of the key.
	gen uint64
}

// generation identifies the invalidation state a read started under.
type generation struct {
	key, business uint64
}

// Reader returns per-slot availability for a business date. Reads never
// fail: errors are logged and yield an empty list.
type Reader struct {
	provider Provider
	redis    *redis.Client
	cacheTTL time.Duration
	logger   *zerolog.Logger

	mu         sync.Mutex
	keys       map[string]*keyState
	businesses map[string]uint64

	// cacheMu orders cache writes against generation bumps.
	cacheMu sync.Mutex
}

func NewReader(provider Provider, logger *zerolog.Logger) *Reader {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "availability").Logger()
	return &Reader{
		provider:   provider,
		logger:     &l,
		keys:       make(map[string]*keyState),
		businesses: make(map[string]uint64),
	}
}

// UseRedisCache enables read-through caching of results.
func (r *Reader) UseRedisCache(client *redis.Client, ttl time.Duration) {
	r.redis = client
	r.cacheTTL = ttl
}

func cacheKey(businessID, date string) string {
	return fmt.Sprintf("availability:%s:%s", businessID, date)
}

// Read returns availability for date. Concurrent reads of the same key are
// sequenced: a response older than one already returned is replaced by the
// newer snapshot.
func (r *Reader) Read(ctx context.Context, businessID string, date time.Time) []model.SlotAvailability {
	day := date.Format(model.DateLayout)
	key := cacheKey(businessID, day)

	var cached []model.SlotAvailability
	if r.readCache(ctx, key, &cached) {
		return cached
	}

	seq, gen := r.issue(businessID, key)
	result, err := r.provider.GetSlotsAvailability(ctx, businessID, date)
	if err != nil {
		r.logger.Error().Err(err).Str("business_id", businessID).Str("date", day).Msg("Failed to load slot availability")
		return []model.SlotAvailability{}
	}
	if result == nil {
		result = []model.SlotAvailability{}
	}

	fresh, current := r.complete(key, seq, result)
	if fresh {
		// A snapshot read before an invalidation must not repopulate the cache.
		r.cacheMu.Lock()
		if r.currentGen(businessID, key) == gen {
			r.writeCache(ctx, key, current)
		}
		r.cacheMu.Unlock()
	}
	return current
}

func (r *Reader) state(key string) *keyState {
	st, ok := r.keys[key]
	if !ok {
		st = &keyState{}
		r.keys[key] = st
	}
	return st
}

func (r *Reader) issue(businessID, key string) (uint64, generation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(key)
	st.issued++
	return st.issued, generation{key: st.gen, business: r.businesses[businessID]}
}

func (r *Reader) currentGen(businessID, key string) generation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return generation{key: r.state(key).gen, business: r.businesses[businessID]}
}

// complete records a finished request and returns the snapshot to hand out.
func (r *Reader) complete(key string, seq uint64, result []model.SlotAvailability) (bool, []model.SlotAvailability) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.keys[key]
	if seq < st.completed {
		r.logger.Debug().Str("key", key).Uint64("seq", seq).Uint64("completed", st.completed).Msg("Discarding stale availability response")
		return false, clone(st.latest)
	}
	st.completed = seq
	st.latest = clone(result)
	return true, result
}

// Invalidate drops cached availability of one business date.
func (r *Reader) Invalidate(ctx context.Context, businessID string, date time.Time) {
	key := cacheKey(businessID, date.Format(model.DateLayout))
	r.cacheMu.Lock()
	r.mu.Lock()
	r.state(key).gen++
	r.mu.Unlock()
	r.cacheMu.Unlock()

	if r.redis == nil {
		return
	}
	if err := r.redis.Del(ctx, key).Err(); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("Failed to invalidate availability cache")
	}
}

// InvalidateBusiness drops every cached date of a business.
func (r *Reader) InvalidateBusiness(ctx context.Context, businessID string) {
	r.cacheMu.Lock()
	r.mu.Lock()
	r.businesses[businessID]++
	r.mu.Unlock()
	r.cacheMu.Unlock()

	if r.redis == nil {
		return
	}
	iter := r.redis.Scan(ctx, 0, cacheKey(businessID, "*"), 100).Iterator()
	for iter.Next(ctx) {
		if err := r.redis.Del(ctx, iter.Val()).Err(); err != nil {
			r.logger.Warn().Err(err).Str("key", iter.Val()).Msg("Failed to invalidate availability cache")
		}
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn().Err(err).Str("business_id", businessID).Msg("Availability cache scan failed")
	}
}

func (r *Reader) readCache(ctx context.Context, key string, out any) bool {
	if r.redis == nil || r.cacheTTL <= 0 {
		return false
	}
	val, err := r.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (r *Reader) writeCache(ctx context.Context, key string, val any) {
	if r.redis == nil || r.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = r.redis.Set(ctx, key, data, r.cacheTTL).Err()
}

func clone(in []model.SlotAvailability) []model.SlotAvailability {
	out := make([]model.SlotAvailability, len(in))
	copy(out, in)
	return out
}
