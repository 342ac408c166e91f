package telemetry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"hopper/internal/metrics"
	"hopper/internal/proxy"
)

type fakeLogs struct {
	lines   []string
	dropped uint64
}

func (f fakeLogs) Snapshot(limit int) []string {
	if limit <= 0 || limit >= len(f.lines) {
		return append([]string{}, f.lines...)
	}
	return append([]string{}, f.lines[len(f.lines)-limit:]...)
}

func (f fakeLogs) SnapshotFilter(limit int, substr string) []string {
	if substr == "" {
		return f.Snapshot(limit)
	}
	var out []string
	for _, l := range f.lines {
		if strings.Contains(l, substr) {
			out = append(out, l)
		}
	}
	if limit > 0 && limit < len(out) {
		out = out[len(out)-limit:]
	}
	return out
}

func (f fakeLogs) Dropped() uint64 { return f.dropped }

func TestAdminServer_LogsEndpoint(t *testing.T) {
	as := &AdminServer{opts: AdminServerOptions{
		Metrics:  metrics.NewAggregator(metrics.AggregatorOptions{}),
		Sessions: proxy.NewSessionRegistry(),
		Logs:     fakeLogs{lines: []string{"a", "b", "c"}, dropped: 2},
	}}

	ts := httptest.NewServer(newAdminMux(as))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/logs?limit=2")
	if err != nil {
		t.Fatalf("GET /logs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d want=200", resp.StatusCode)
	}

	var out struct {
		Lines   []string `json:"lines"`
		Dropped uint64   `json:"dropped"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Lines) != 2 || out.Lines[0] != "b" || out.Lines[1] != "c" {
		t.Fatalf("lines=%#v want [b c]", out.Lines)
	}
	if out.Dropped != 2 {
		t.Fatalf("dropped=%d want=2", out.Dropped)
	}
}

func TestAdminServer_LogsEndpointFilter(t *testing.T) {
	as := &AdminServer{opts: AdminServerOptions{
		Metrics:  metrics.NewAggregator(metrics.AggregatorOptions{}),
		Sessions: proxy.NewSessionRegistry(),
		Logs:     fakeLogs{lines: []string{"dial upstream ok", "route miss", "dial upstream failed"}},
	}}

	ts := httptest.NewServer(newAdminMux(as))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/logs?q=dial")
	if err != nil {
		t.Fatalf("GET /logs: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Lines []string `json:"lines"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Lines) != 2 {
		t.Fatalf("lines=%#v want 2 matches", out.Lines)
	}
}

func TestAdminServer_LogsEndpointDisabled(t *testing.T) {
	as := &AdminServer{opts: AdminServerOptions{
		Metrics:  metrics.NewAggregator(metrics.AggregatorOptions{}),
		Sessions: proxy.NewSessionRegistry(),
	}}

	ts := httptest.NewServer(newAdminMux(as))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/logs")
	if err != nil {
		t.Fatalf("GET /logs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d want=404", resp.StatusCode)
	}
}
