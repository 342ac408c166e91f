package metrics

import (
	"context"
	"testing"
	"time"
)

type captureInjector struct {
	flushes chan Counters
}

func (c *captureInjector) Flush(_ context.Context, counters Counters) error {
	c.flushes <- counters.Clone()
	return nil
}

func TestAggregatorConnectDisconnectBandwidth(t *testing.T) {
	inj := &captureInjector{flushes: make(chan Counters, 8)}
	agg := NewAggregator(AggregatorOptions{Injector: inj, FlushInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go agg.Run(ctx)

	g := agg.NewGuard("play.example.com", StateLogin)
	g.Connect(ctx)
	g.Disconnect(ctx)
	g.Bandwidth(ctx, 100, 200)

	deadline := time.After(1 * time.Second)
	for {
		select {
		case snap := <-inj.flushes:
			c, ok := snap["play.example.com"]
			if !ok {
				continue
			}
			if c.TotalLogin != 1 {
				t.Fatalf("TotalLogin: want 1 got %d", c.TotalLogin)
			}
			if c.OpenConnections != 0 {
				t.Fatalf("OpenConnections: want 0 got %d", c.OpenConnections)
			}
			if c.ServerboundBytes != 100 || c.ClientboundBytes != 200 {
				t.Fatalf("bandwidth mismatch: %+v", c)
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for a flush containing the hostname")
		}
	}
}

func TestAggregatorOpenConnectionsNeverNegative(t *testing.T) {
	inj := &captureInjector{flushes: make(chan Counters, 8)}
	agg := NewAggregator(AggregatorOptions{Injector: inj, FlushInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	go agg.Run(ctx)

	g := agg.NewGuard("play.example.com", StateStatus)
	g.Disconnect(ctx) // underflow: should be logged, not panic, and stay at 0

	snap := <-inj.flushes
	if c := snap["play.example.com"]; c.OpenConnections != 0 {
		t.Fatalf("OpenConnections: want 0 got %d", c.OpenConnections)
	}
}
