package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const visitorTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// subjectLimiter keeps one token bucket per token subject.
type subjectLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	lastGC   time.Time
}

func newSubjectLimiter(rps float64, burst int) *subjectLimiter {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &subjectLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		lastGC:   time.Now(),
	}
}

func (l *subjectLimiter) allow(subject string) bool {
	l.mu.Lock()
	now := time.Now()
	v, ok := l.visitors[subject]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[subject] = v
	}
	v.lastSeen = now
	if now.Sub(l.lastGC) > visitorTTL {
		for key, old := range l.visitors {
			if now.Sub(old.lastSeen) > visitorTTL {
				delete(l.visitors, key)
			}
		}
		l.lastGC = now
	}
	l.mu.Unlock()

	return v.limiter.Allow()
}
