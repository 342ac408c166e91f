package router

import "testing"

func TestTableExactAndWildcard(t *testing.T) {
	tbl := NewTable([]Route{
		{Host: []string{"play.example.com"}, Upstreams: []string{"10.0.0.1:25565"}},
		{Host: []string{"*.labs.example.com"}, Upstreams: []string{"10.0.0.2:25565"}},
		{Host: []string{"*.example.com"}, Upstreams: []string{"10.0.0.3:25565"}},
	})

	if res, ok := tbl.Resolve("play.example.com", "1.2.3.4"); !ok || res.Upstream != "10.0.0.1:25565" {
		t.Fatalf("exact resolve failed: %v %v", ok, res.Upstream)
	}
	if res, ok := tbl.Resolve("a.labs.example.com", "1.2.3.4"); !ok || res.Upstream != "10.0.0.2:25565" {
		t.Fatalf("wildcard resolve failed: %v %v", ok, res.Upstream)
	}
	if res, ok := tbl.Resolve("b.example.com", "1.2.3.4"); !ok || res.Upstream != "10.0.0.3:25565" {
		t.Fatalf("fallback wildcard resolve failed: %v %v", ok, res.Upstream)
	}
	if _, ok := tbl.Resolve("example.com", "1.2.3.4"); ok {
		t.Fatalf("wildcard should not match root domain")
	}
}

func TestTableParamSubstitution(t *testing.T) {
	tbl := NewTable([]Route{{
		Host:      []string{"*.domain.com"},
		Upstreams: []string{"$1.servers.svc:25565"},
	}})

	res, ok := tbl.Resolve("abc.domain.com", "1.2.3.4")
	if !ok {
		t.Fatalf("expected match")
	}
	if got := res.Upstream; got != "abc.servers.svc:25565" {
		t.Fatalf("upstream substitution: got %q", got)
	}
}

func TestTableBalancedAffinityIsDeterministic(t *testing.T) {
	tbl := NewTable([]Route{{
		Host:      []string{"play.example.com"},
		Upstreams: []string{"a:1", "b:1", "c:1"},
	}})

	first, ok := tbl.Resolve("play.example.com", "203.0.113.9:54321")
	if !ok {
		t.Fatalf("expected match")
	}
	for i := 0; i < 10; i++ {
		res, ok := tbl.Resolve("play.example.com", "203.0.113.9:54321")
		if !ok || res.Upstream != first.Upstream {
			t.Fatalf("affinity not stable across calls: %v vs %v", res.Upstream, first.Upstream)
		}
	}
	if !first.Balanced {
		t.Fatalf("expected Balanced=true for multi-upstream route")
	}
}

func TestTableBalancedAffinitySpreadsAcrossClients(t *testing.T) {
	tbl := NewTable([]Route{{
		Host:      []string{"play.example.com"},
		Upstreams: []string{"a:1", "b:1", "c:1", "d:1"},
	}})

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		peer := peerForIndex(i)
		res, ok := tbl.Resolve("play.example.com", peer)
		if !ok {
			t.Fatalf("expected match")
		}
		seen[res.Upstream] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected affinity hash to spread across upstreams, only saw %v", seen)
	}
}

func peerForIndex(i int) string {
	return "198.51.100." + string(rune('0'+(i%10))) + ":" + string(rune('0'+(i/10%10))) + "0000"
}

func TestTableForwardStrategyParsed(t *testing.T) {
	tbl := NewTable([]Route{{
		Host:        []string{"bungee.example.com"},
		Upstreams:   []string{"a:1"},
		ForwardMode: "bungeecord",
	}})
	res, ok := tbl.Resolve("bungee.example.com", "1.2.3.4")
	if !ok {
		t.Fatalf("expected match")
	}
	if res.ForwardStrategy != ForwardBungeeCord {
		t.Fatalf("ForwardStrategy: want BungeeCord got %v", res.ForwardStrategy)
	}
}
