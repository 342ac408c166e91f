// Package router resolves a client's routing hostname to a backend
// address, applying wildcard host matching and, for multi-backend
// routes, a deterministic client-affine selection.
package router

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ForwardStrategy selects how the handshake is rewritten (or, for PROXY
// protocol, prefixed) before being spliced to the backend.
type ForwardStrategy int

const (
	ForwardNone ForwardStrategy = iota
	ForwardBungeeCord
	ForwardRealIP
	ForwardProxyProtocol
)

func ParseForwardStrategy(s string) ForwardStrategy {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "bungeecord", "bungee":
		return ForwardBungeeCord
	case "realip", "real_ip", "real-ip":
		return ForwardRealIP
	case "proxyprotocol", "proxy_protocol", "proxy-protocol", "haproxy":
		return ForwardProxyProtocol
	default:
		return ForwardNone
	}
}

// UpstreamResolver resolves a host (and the dialing client's address,
// which feeds the load-balancing affinity hash) to a routing decision.
type UpstreamResolver interface {
	Resolve(host string, peerAddr string) (Resolution, bool)
}

// Route is the input configuration for a single route.
// Matching is performed in the order routes are provided.
type Route struct {
	Host         []string
	Upstreams    []string
	ForwardMode  string
	CachePingTTL time.Duration
}

// Resolution is the outcome of resolving a hostname: a single chosen
// upstream, plus the route metadata that governs how the connection to
// it is primed.
type Resolution struct {
	Upstream        string
	ForwardStrategy ForwardStrategy
	CachePingTTL    time.Duration
	MatchedHost     string
	Balanced        bool
}

type compiledRoutes struct {
	routes []compiledRoute
}

type compiledRoute struct {
	patterns []compiledPattern

	upstreams []string
	forward   ForwardStrategy

	cachePingTTL time.Duration
}

type compiledPattern struct {
	pattern string
	exact   bool
	re      *regexp.Regexp
}

// Table resolves a hostname to a backend address. Reads are lock-free
// via an atomic snapshot; Update installs a new snapshot wholesale so
// in-flight resolutions always observe one consistent table.
type Table struct {
	v atomic.Value // *compiledRoutes
}

func NewTable(routes []Route) *Table {
	t := &Table{}
	t.Update(routes)
	return t
}

func (t *Table) Update(routes []Route) {
	cr := &compiledRoutes{}
	compiled := make([]compiledRoute, 0, len(routes))
	for i := range routes {
		c, err := compileRoute(routes[i])
		if err != nil {
			// Invalid routes are skipped rather than making the whole table
			// unusable; config validation should catch these beforehand.
			continue
		}
		compiled = append(compiled, c)
	}
	cr.routes = compiled
	t.v.Store(cr)
}

func compileRoute(rt Route) (compiledRoute, error) {
	pat := make([]compiledPattern, 0, len(rt.Host))
	for _, h := range rt.Host {
		h = strings.TrimSpace(strings.ToLower(h))
		if h == "" {
			continue
		}
		cp := compiledPattern{pattern: h}
		if !strings.ContainsAny(h, "*?") {
			cp.exact = true
			pat = append(pat, cp)
			continue
		}
		re, err := compileWildcardPattern(h)
		if err != nil {
			return compiledRoute{}, fmt.Errorf("router: compile host pattern %q: %w", h, err)
		}
		cp.re = re
		pat = append(pat, cp)
	}
	if len(pat) == 0 {
		return compiledRoute{}, fmt.Errorf("router: route missing host patterns")
	}

	up := make([]string, 0, len(rt.Upstreams))
	for _, u := range rt.Upstreams {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		up = append(up, u)
	}
	if len(up) == 0 {
		return compiledRoute{}, fmt.Errorf("router: route missing upstreams")
	}

	return compiledRoute{
		patterns:     pat,
		upstreams:    up,
		forward:      ParseForwardStrategy(rt.ForwardMode),
		cachePingTTL: rt.CachePingTTL,
	}, nil
}

// compileWildcardPattern compiles a wildcard host pattern into a regexp.
//
// Supported wildcards:
//   - '*' matches any sequence (including empty) and captures it
//   - '?' matches any single character and captures it
func compileWildcardPattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty pattern")
	}

	var b strings.Builder
	b.Grow(len(pattern) + 16)
	b.WriteByte('^')

	escapeNext := false
	for _, r := range pattern {
		if escapeNext {
			b.WriteRune(r)
			escapeNext = false
			continue
		}
		switch r {
		case '*':
			b.WriteString("(.*?)")
		case '?':
			b.WriteString("(.)")
		case '\\':
			escapeNext = true
			b.WriteString("\\")
		default:
			if strings.ContainsRune(".^$+()[]{}|", r) {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
	}

	b.WriteByte('$')
	return regexp.Compile(b.String())
}

// Resolve finds the route matching host (case-insensitively, honoring
// configured wildcards) and, if more than one upstream is configured
// for it, selects one deterministically as a function of peerAddr and
// host so that repeated connections from the same client land on the
// same backend (session affinity) without any server-side state.
func (t *Table) Resolve(host string, peerAddr string) (Resolution, bool) {
	cr, _ := t.v.Load().(*compiledRoutes)
	if cr == nil || len(cr.routes) == 0 {
		return Resolution{}, false
	}

	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return Resolution{}, false
	}

	for i := range cr.routes {
		rt := &cr.routes[i]
		for _, p := range rt.patterns {
			matched, groups := matchHost(host, p)
			if !matched {
				continue
			}

			candidates := make([]string, 0, len(rt.upstreams))
			for _, u := range rt.upstreams {
				candidates = append(candidates, substituteParams(u, groups))
			}

			chosen := candidates[0]
			balanced := len(candidates) > 1
			if balanced {
				chosen = candidates[affinityIndex(peerAddr, host, len(candidates))]
			}

			return Resolution{
				Upstream:        chosen,
				ForwardStrategy: rt.forward,
				CachePingTTL:    rt.cachePingTTL,
				MatchedHost:     p.pattern,
				Balanced:        balanced,
			}, true
		}
	}

	return Resolution{}, false
}

// affinityIndex deterministically maps (peerAddr, host) onto
// [0, n). It intentionally never uses a bitmask (n is not required to
// be a power of two) and never carries mutable round-robin state.
func affinityIndex(peerAddr, host string, n int) int {
	if n <= 1 {
		return 0
	}
	h := blake2b.Sum512([]byte(peerAddr + "\x00" + host))
	// Fold the digest down to a 64-bit value before reducing mod n.
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(h[i])
	}
	return int(v % uint64(n))
}

func matchHost(host string, p compiledPattern) (bool, []string) {
	if p.exact {
		return host == p.pattern, nil
	}
	if p.re == nil {
		return false, nil
	}
	m := p.re.FindStringSubmatch(host)
	if m == nil {
		return false, nil
	}
	if len(m) <= 1 {
		return true, nil
	}
	return true, m[1:]
}

func substituteParams(template string, groups []string) string {
	if len(groups) == 0 || template == "" {
		return template
	}
	res := template
	for i := len(groups); i >= 1; i-- {
		param := fmt.Sprintf("$%d", i)
		res = strings.ReplaceAll(res, param, groups[i-1])
	}
	return res
}

var _ UpstreamResolver = (*Table)(nil)
