package metrics

import (
	"context"
	"log/slog"
	"time"
)

const eventChannelCapacity = 8192

// Aggregator is the single-consumer metrics task. Producers send Events on a
// bounded channel; sends block when the channel is full rather than
// dropping, since a slow flush is preferable to losing accounting data.
type Aggregator struct {
	events    chan Event
	snapshots chan chan Counters
	injector  Injector
	interval  time.Duration
	logger    *slog.Logger

	counters Counters
}

type AggregatorOptions struct {
	Injector      Injector
	FlushInterval time.Duration
	Logger        *slog.Logger
}

func NewAggregator(opts AggregatorOptions) *Aggregator {
	injector := opts.Injector
	if injector == nil {
		injector = EmptyInjector{}
	}
	interval := opts.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		events:    make(chan Event, eventChannelCapacity),
		snapshots: make(chan chan Counters),
		injector:  injector,
		interval:  interval,
		logger:    logger,
		counters:  make(Counters),
	}
}

// Send enqueues an event, blocking if the channel is full. It returns
// without sending if ctx is cancelled first.
func (a *Aggregator) Send(ctx context.Context, ev Event) {
	select {
	case a.events <- ev:
	case <-ctx.Done():
	}
}

// Guard is a per-connection handle bound to one (hostname, state) pair. It
// is the only thing proxy code touches; it hides the aggregator's channel.
type Guard struct {
	agg      *Aggregator
	hostname string
	state    State
}

func (a *Aggregator) NewGuard(hostname string, state State) *Guard {
	return &Guard{agg: a, hostname: hostname, state: state}
}

func (g *Guard) Connect(ctx context.Context) {
	if g == nil {
		return
	}
	g.agg.Send(ctx, ConnectEvent(g.hostname, g.state))
}

func (g *Guard) Disconnect(ctx context.Context) {
	if g == nil {
		return
	}
	g.agg.Send(ctx, DisconnectEvent(g.hostname, g.state))
}

func (g *Guard) Bandwidth(ctx context.Context, serverbound, clientbound uint64) {
	if g == nil {
		return
	}
	g.agg.Send(ctx, BandwidthEvent(g.hostname, g.state, serverbound, clientbound))
}

// Run drains events and flushes to the injector on each tick, until ctx is
// cancelled. It owns the Counters map exclusively: no other goroutine reads
// or writes it.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.events:
			a.apply(ev)
		case reply := <-a.snapshots:
			reply <- a.counters.Clone()
		case <-ticker.C:
			a.flush(ctx)
		}
	}
}

func (a *Aggregator) apply(ev Event) {
	c := a.counters[ev.Hostname]
	switch ev.kind {
	case kindConnect:
		if ev.State == StateLogin {
			c.TotalLogin++
		} else {
			c.TotalPings++
		}
		c.OpenConnections++
	case kindDisconnect:
		if c.OpenConnections == 0 {
			a.logger.Error("metrics: disconnect underflow", "hostname", ev.Hostname, "state", ev.State)
		} else {
			c.OpenConnections--
		}
	case kindBandwidth:
		c.ServerboundBytes += ev.Serverbound
		c.ClientboundBytes += ev.Clientbound
	}
	a.counters[ev.Hostname] = c
}

func (a *Aggregator) flush(ctx context.Context) {
	snapshot := a.counters.Clone()
	if err := a.injector.Flush(ctx, snapshot); err != nil {
		a.logger.Warn("metrics: injector flush failed", "err", err)
	}
}

// Snapshot asks the Run goroutine for the current counters and waits for
// the reply, or returns nil if ctx is cancelled or Run is not running.
func (a *Aggregator) Snapshot(ctx context.Context) Counters {
	reply := make(chan Counters, 1)
	select {
	case a.snapshots <- reply:
	case <-ctx.Done():
		return nil
	}
	select {
	case c := <-reply:
		return c
	case <-ctx.Done():
		return nil
	}
}
