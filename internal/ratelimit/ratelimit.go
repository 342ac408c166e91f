// Package ratelimit bounds accept-time load per client IP: a token-bucket
// cap on new connections per second, plus a ceiling on concurrently open
// connections.
package ratelimit

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	Enabled bool
	// NewConnectionsPerSecond and Burst configure the token bucket governing
	// how fast a single IP may open new connections.
	NewConnectionsPerSecond float64
	Burst                   int
	// MaxConnectionsPerIP caps concurrently open connections per IP; 0 means
	// unlimited.
	MaxConnectionsPerIP int
	// IdleEntryTTL controls how long a quiet IP's bucket is kept before
	// Cleanup reclaims it.
	IdleEntryTTL time.Duration
}

type ipState struct {
	limiter *rate.Limiter
	active  int
	lastUse time.Time
}

// Limiter tracks per-IP accept state. Safe for concurrent use.
type Limiter struct {
	cfg Config
	mu  sync.Mutex
	ips map[string]*ipState
}

func NewLimiter(cfg Config) *Limiter {
	return &Limiter{cfg: cfg, ips: make(map[string]*ipState)}
}

// Allow reports whether a new connection from addr may proceed. When it
// returns true, the caller must call Release(addr) exactly once when the
// connection closes.
func (l *Limiter) Allow(addr net.Addr) bool {
	if !l.cfg.Enabled {
		return true
	}
	ip := extractIP(addr)
	if ip == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.ips[ip]
	if !ok {
		burst := l.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		st = &ipState{limiter: rate.NewLimiter(rate.Limit(l.cfg.NewConnectionsPerSecond), burst)}
		l.ips[ip] = st
	}
	st.lastUse = time.Now()

	if l.cfg.MaxConnectionsPerIP > 0 && st.active >= l.cfg.MaxConnectionsPerIP {
		return false
	}
	if !st.limiter.Allow() {
		return false
	}
	st.active++
	return true
}

// Release decrements the active-connection count for addr's IP.
func (l *Limiter) Release(addr net.Addr) {
	if !l.cfg.Enabled {
		return
	}
	ip := extractIP(addr)
	if ip == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.ips[ip]; ok && st.active > 0 {
		st.active--
	}
}

// Cleanup drops tracked IPs that have been idle (no active connections,
// and no activity) for longer than IdleEntryTTL. Callers should invoke this
// periodically (e.g. from a ticker) so the map does not grow unboundedly
// under a churn of distinct client IPs.
func (l *Limiter) Cleanup(now time.Time) {
	ttl := l.cfg.IdleEntryTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, st := range l.ips {
		if st.active == 0 && now.Sub(st.lastUse) > ttl {
			delete(l.ips, ip)
		}
	}
}

func extractIP(addr net.Addr) string {
	switch v := addr.(type) {
	case *net.TCPAddr:
		return v.IP.String()
	case *net.UDPAddr:
		return v.IP.String()
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return addr.String()
		}
		return host
	}
}
