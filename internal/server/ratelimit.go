package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// staleAfter is how long an idle client's bucket survives before the next
// prune discards it.
const staleAfter = 10 * time.Minute

// pruneAbove is the entry count that triggers a prune on the next lookup.
const pruneAbove = 1024

// ipLimiter hands out one token bucket per client address. A non-positive
// rate disables limiting entirely.
type ipLimiter struct {
	mu      sync.Mutex
	perIP   map[string]*ipEntry
	rps     rate.Limit
	burst   int
	enabled bool
}

type ipEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

func newIPLimiter(rps float64, burst int) *ipLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ipLimiter{
		perIP:   make(map[string]*ipEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		enabled: rps > 0,
	}
}

// allow reports whether the client may proceed, charging one token.
func (l *ipLimiter) allow(ip string) bool {
	if !l.enabled {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.perIP[ip]
	if !ok {
		if len(l.perIP) >= pruneAbove {
			l.prune()
		}
		e = &ipEntry{lim: rate.NewLimiter(l.rps, l.burst)}
		l.perIP[ip] = e
	}
	e.seen = time.Now()
	return e.lim.Allow()
}

// prune drops buckets idle past staleAfter. Caller holds the mutex.
func (l *ipLimiter) prune() {
	cutoff := time.Now().Add(-staleAfter)
	for ip, e := range l.perIP {
		if e.seen.Before(cutoff) {
			delete(l.perIP, ip)
		}
	}
}
