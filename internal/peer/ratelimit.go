package peer

import (
	"net"
	"sync"
	"time"
)

// clientStaleAfter is how long an idle client keeps its bucket.
const clientStaleAfter = 30 * time.Second

// RateLimiter is a token bucket limiting work overall and per client
// hardware address. Buckets refill once per second. A zero limit disables
// that bucket.
type RateLimiter struct {
	total     int
	perClient int

	mu         sync.Mutex
	tokens     int
	clients    map[string]*clientBucket
	lastRefill time.Time
	now        func() time.Time
}

type clientBucket struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter returns a limiter allowing total runs per second overall
// and perClient runs per second for each hardware address. It returns nil
// when both are zero; a nil limiter allows everything.
func NewRateLimiter(total, perClient int) *RateLimiter {
	if total <= 0 && perClient <= 0 {
		return nil
	}
	r := &RateLimiter{
		total:     total,
		perClient: perClient,
		tokens:    total,
		clients:   make(map[string]*clientBucket),
		now:       time.Now,
	}
	r.lastRefill = r.now()
	return r
}

// Allow consumes a token for mac and reports whether the run may go ahead.
func (r *RateLimiter) Allow(mac net.HardwareAddr) bool {
	if r == nil {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.refill(now)

	if r.total > 0 && r.tokens <= 0 {
		return false
	}

	var b *clientBucket
	if r.perClient > 0 {
		key := string(mac)
		b = r.clients[key]
		if b == nil {
			b = &clientBucket{tokens: r.perClient}
			r.clients[key] = b
		}
		b.lastSeen = now
		if b.tokens <= 0 {
			return false
		}
		b.tokens--
	}
	if r.total > 0 {
		r.tokens--
	}
	return true
}

func (r *RateLimiter) refill(now time.Time) {
	intervals := int(now.Sub(r.lastRefill) / time.Second)
	if intervals <= 0 {
		return
	}
	r.lastRefill = r.lastRefill.Add(time.Duration(intervals) * time.Second)

	r.tokens = min(r.tokens+r.total*intervals, r.total)
	for key, b := range r.clients {
		if now.Sub(b.lastSeen) > clientStaleAfter {
			delete(r.clients, key)
			continue
		}
		b.tokens = min(b.tokens+r.perClient*intervals, r.perClient)
	}
}

// Clients returns the number of clients currently tracked.
func (r *RateLimiter) Clients() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
