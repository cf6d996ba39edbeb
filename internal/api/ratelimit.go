package api

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// InstitutionLimiter applies a token bucket per institution and
// periodically evicts idle entries.
type InstitutionLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu    sync.Mutex
	byKey map[string]*limiterEntry
	hits  uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewInstitutionLimiter returns nil, which allows everything, when rps is
// not positive. A non-positive burst defaults to one second of rps.
func NewInstitutionLimiter(rps float64, burst int) *InstitutionLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = max(1, int(rps))
	}
	return &InstitutionLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		byKey:   make(map[string]*limiterEntry),
	}
}

// Allow reports whether institutionID may submit one task at now.
func (l *InstitutionLimiter) Allow(institutionID string, now time.Time) bool {
	if l == nil {
		return true
	}
	key := strings.TrimSpace(institutionID)

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return allowed
}

// RetryAfter is the whole number of seconds until one token is available.
func (l *InstitutionLimiter) RetryAfter() int {
	if l == nil {
		return 0
	}
	return max(1, int(1/float64(l.limit)+0.999))
}
