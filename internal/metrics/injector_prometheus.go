package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusInjector mirrors each flush into per-hostname prometheus
// gauges/counters, registered lazily against the default registry (or a
// caller-supplied one).
type PrometheusInjector struct {
	registerer prometheus.Registerer

	openConnections *prometheus.GaugeVec
	totalLogin      *prometheus.CounterVec
	totalPings      *prometheus.CounterVec
	serverbound     *prometheus.CounterVec
	clientbound     *prometheus.CounterVec

	seenLogin  map[string]uint64
	seenPings  map[string]uint64
	seenServer map[string]uint64
	seenClient map[string]uint64
}

func NewPrometheusInjector(namespace string, reg prometheus.Registerer) *PrometheusInjector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	register := func(c prometheus.Collector) prometheus.Collector {
		if err := reg.Register(c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return are.ExistingCollector
			}
			return c
		}
		return c
	}

	p := &PrometheusInjector{
		registerer: reg,
		seenLogin:  map[string]uint64{},
		seenPings:  map[string]uint64{},
		seenServer: map[string]uint64{},
		seenClient: map[string]uint64{},
	}

	p.openConnections = register(prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_connections",
		Help:      "Currently open connections per routed hostname",
	}, []string{"hostname"})).(*prometheus.GaugeVec)

	p.totalLogin = register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "login_total",
		Help:      "Total Login-state connections accepted per hostname",
	}, []string{"hostname"})).(*prometheus.CounterVec)

	p.totalPings = register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_pings_total",
		Help:      "Total Status-state connections accepted per hostname",
	}, []string{"hostname"})).(*prometheus.CounterVec)

	p.serverbound = register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "serverbound_bytes_total",
		Help:      "Bytes forwarded client -> backend per hostname",
	}, []string{"hostname"})).(*prometheus.CounterVec)

	p.clientbound = register(prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "clientbound_bytes_total",
		Help:      "Bytes forwarded backend -> client per hostname",
	}, []string{"hostname"})).(*prometheus.CounterVec)

	return p
}

// Flush mirrors a Counters snapshot into the registered collectors.
// Counters are cumulative (TotalLogin, TotalPings, byte counts), so the
// monotonic prometheus counters are advanced by the delta since the last
// flush rather than set outright; OpenConnections is a live gauge and is
// set directly.
func (p *PrometheusInjector) Flush(_ context.Context, counters Counters) error {
	for host, c := range counters {
		p.openConnections.WithLabelValues(host).Set(float64(c.OpenConnections))

		if delta := c.TotalLogin - p.seenLogin[host]; delta > 0 {
			p.totalLogin.WithLabelValues(host).Add(float64(delta))
		}
		p.seenLogin[host] = c.TotalLogin

		if delta := c.TotalPings - p.seenPings[host]; delta > 0 {
			p.totalPings.WithLabelValues(host).Add(float64(delta))
		}
		p.seenPings[host] = c.TotalPings

		if delta := c.ServerboundBytes - p.seenServer[host]; delta > 0 {
			p.serverbound.WithLabelValues(host).Add(float64(delta))
		}
		p.seenServer[host] = c.ServerboundBytes

		if delta := c.ClientboundBytes - p.seenClient[host]; delta > 0 {
			p.clientbound.WithLabelValues(host).Add(float64(delta))
		}
		p.seenClient[host] = c.ClientboundBytes
	}
	return nil
}

var _ Injector = (*PrometheusInjector)(nil)
