package transport

import (
	"sync"
	"time"
)

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

// dialLimiter caps connection attempts per remote host with a token bucket,
// so a misbehaving companion cannot keep the reader busy with handshakes.
type dialLimiter struct {
	mu     sync.Mutex
	hosts  map[string]*bucket
	perSec float64
	burst  float64
	now    func() time.Time
}

// newDialLimiter allows perSec attempts per host with a burst of twice that,
// at least one.
func newDialLimiter(perSec float64) *dialLimiter {
	return &dialLimiter{
		hosts:  make(map[string]*bucket),
		perSec: perSec,
		burst:  max(perSec*2, 1),
		now:    time.Now,
	}
}

// allow consumes one token for host and reports whether one was available.
func (l *dialLimiter) allow(host string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.hosts[host]
	if !ok {
		l.hosts[host] = &bucket{tokens: l.burst - 1, lastCheck: now}
		l.prune(now)
		return true
	}

	b.tokens = min(b.tokens+now.Sub(b.lastCheck).Seconds()*l.perSec, l.burst)
	b.lastCheck = now
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// prune drops hosts whose bucket has been full for a while. Called with mu
// held when a new host shows up, which is the only way the map grows.
func (l *dialLimiter) prune(now time.Time) {
	idle := time.Duration(l.burst/l.perSec*float64(time.Second)) + time.Minute
	for host, b := range l.hosts {
		if now.Sub(b.lastCheck) > idle {
			delete(l.hosts, host)
		}
	}
}
