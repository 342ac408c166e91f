package ratelimit

import (
	"net"
	"testing"
	"time"
)

func addr(ip string) *net.TCPAddr {
	return &net.TCPAddr{IP: net.ParseIP(ip), Port: 54321}
}

func TestLimiterDisabledAllowsEverything(t *testing.T) {
	l := NewLimiter(Config{Enabled: false})
	for i := 0; i < 1000; i++ {
		if !l.Allow(addr("203.0.113.1")) {
			t.Fatalf("disabled limiter rejected connection %d", i)
		}
	}
}

func TestLimiterBurstThenThrottles(t *testing.T) {
	l := NewLimiter(Config{Enabled: true, NewConnectionsPerSecond: 1, Burst: 2, MaxConnectionsPerIP: 100})
	a := addr("203.0.113.2")

	if !l.Allow(a) {
		t.Fatal("expected first connection allowed")
	}
	l.Release(a)
	if !l.Allow(a) {
		t.Fatal("expected second connection (within burst) allowed")
	}
	l.Release(a)
	if l.Allow(a) {
		t.Fatal("expected third immediate connection to be throttled")
	}
}

func TestLimiterMaxConnectionsPerIP(t *testing.T) {
	l := NewLimiter(Config{Enabled: true, NewConnectionsPerSecond: 1000, Burst: 1000, MaxConnectionsPerIP: 2})
	a := addr("203.0.113.3")

	if !l.Allow(a) {
		t.Fatal("expected 1st allowed")
	}
	if !l.Allow(a) {
		t.Fatal("expected 2nd allowed")
	}
	if l.Allow(a) {
		t.Fatal("expected 3rd concurrent connection rejected")
	}
	l.Release(a)
	if !l.Allow(a) {
		t.Fatal("expected connection allowed after release")
	}
}

func TestLimiterIndependentPerIP(t *testing.T) {
	l := NewLimiter(Config{Enabled: true, NewConnectionsPerSecond: 1, Burst: 1, MaxConnectionsPerIP: 1})
	a := addr("203.0.113.4")
	b := addr("203.0.113.5")

	if !l.Allow(a) {
		t.Fatal("expected a allowed")
	}
	if !l.Allow(b) {
		t.Fatal("expected b allowed independently of a")
	}
}

func TestLimiterCleanupRemovesIdleEntries(t *testing.T) {
	l := NewLimiter(Config{Enabled: true, NewConnectionsPerSecond: 1, Burst: 1, IdleEntryTTL: time.Millisecond})
	a := addr("203.0.113.6")
	l.Allow(a)
	l.Release(a)

	time.Sleep(5 * time.Millisecond)
	l.Cleanup(time.Now())

	l.mu.Lock()
	_, exists := l.ips["203.0.113.6"]
	l.mu.Unlock()
	if exists {
		t.Fatal("expected idle entry to be cleaned up")
	}
}
