// Package app wires the proxy's independently-testable packages
// (config, router, proxy, metrics, ratelimit, tunnel, telemetry) into a
// single running process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"hopper/internal/config"
	"hopper/internal/logging"
	"hopper/internal/metrics"
	"hopper/internal/protocol"
	"hopper/internal/proxy"
	"hopper/internal/ratelimit"
	"hopper/internal/router"
	"hopper/internal/server"
	"hopper/internal/telemetry"
	"hopper/internal/tunnel"
)

type parserCloser func(context.Context) error

// buildHostParser compiles the configured routing-parser chain. It is used
// only as a fallback for connections the Minecraft handshake decoder does
// not recognize (see proxy.SessionHandlerOptions.HostParser).
func buildHostParser(ctx context.Context, cfg *config.Config) (protocol.HostParser, parserCloser, error) {
	var parsers []protocol.HostParser
	var closers []parserCloser

	for _, pc := range cfg.RoutingParsers {
		t := strings.TrimSpace(strings.ToLower(pc.Type))
		if t == "" {
			t = "builtin"
		}
		switch t {
		case "builtin":
			name := strings.TrimSpace(strings.ToLower(pc.Name))
			switch name {
			case "minecraft_handshake", "minecraft", "mc":
				parsers = append(parsers, protocol.NewMinecraftHostParser())
			case "tls_sni", "sni", "tls":
				parsers = append(parsers, protocol.NewTLSSNIHostParser())
			default:
				return nil, nil, fmt.Errorf("unknown builtin routing parser %q", pc.Name)
			}
		case "wasm":
			if strings.TrimSpace(pc.Path) == "" {
				return nil, nil, fmt.Errorf("wasm routing parser missing path")
			}
			wp, err := protocol.NewWASMHostParserFromFile(ctx, pc.Path, protocol.WASMHostParserOptions{
				Name:         pc.Name,
				FunctionName: pc.Function,
				MaxOutputLen: uint32(pc.MaxOutputLen),
			})
			if err != nil {
				return nil, nil, err
			}
			parsers = append(parsers, wp)
			closers = append(closers, wp.Close)
		default:
			return nil, nil, fmt.Errorf("unknown routing parser type %q", pc.Type)
		}
	}

	chain := protocol.NewChainHostParser(parsers...)
	closeFn := parserCloser(func(ctx context.Context) error {
		var err error
		for _, c := range closers {
			if c == nil {
				continue
			}
			err = errors.Join(err, c(ctx))
		}
		return err
	})
	if len(closers) == 0 {
		closeFn = nil
	}
	return chain, closeFn, nil
}

func toRouterRoutes(routes []config.RouteConfig) []router.Route {
	out := make([]router.Route, 0, len(routes))
	for _, r := range routes {
		out = append(out, router.Route{
			Host:         r.Host,
			Upstreams:    r.Upstreams,
			ForwardMode:  r.ForwardMode,
			CachePingTTL: r.CachePingTTL,
		})
	}
	return out
}

func toRegisteredServices(services []config.TunnelClientServiceConfig) []tunnel.RegisteredService {
	out := make([]tunnel.RegisteredService, 0, len(services))
	for _, s := range services {
		out = append(out, tunnel.RegisteredService{
			Name:       s.Name,
			Proto:      s.Proto,
			LocalAddr:  s.LocalAddr,
			RouteOnly:  s.RouteOnly,
			RemoteAddr: s.RemoteAddr,
		})
	}
	return out
}

// Run loads configuration from configPath and serves until ctx is
// cancelled, or a listener fails irrecoverably. It always returns after a
// graceful shutdown attempt.
func Run(ctx context.Context, configPath string) error {
	provider := config.NewFileConfigProvider(configPath)
	cfg, err := provider.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logRuntime, err := logging.NewRuntime(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logRuntime.Close()
	logger := logRuntime.Logger()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	cm := config.NewManager(provider, config.ManagerOptions{PollInterval: cfg.Reload.PollInterval, Logger: logger})
	cm.SetCurrent(cfg)

	var injector metrics.Injector
	if cfg.Metrics.PrometheusEnabled {
		injector = metrics.NewPrometheusInjector("hopper", nil)
	}
	agg := metrics.NewAggregator(metrics.AggregatorOptions{
		Injector:      injector,
		FlushInterval: cfg.Metrics.FlushInterval,
		Logger:        logger,
	})
	go agg.Run(runCtx)

	sessions := proxy.NewSessionRegistry()
	statusCache := proxy.NewStatusCache()
	statusCache.StartJanitor(runCtx, 5*time.Minute)
	table := router.NewTable(toRouterRoutes(cfg.Routes))
	sessionHandler := proxy.NewSessionHandler(proxy.SessionHandlerOptions{})

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			Enabled:                 cfg.RateLimit.Enabled,
			NewConnectionsPerSecond: cfg.RateLimit.NewConnectionsPerSecond,
			Burst:                   cfg.RateLimit.Burst,
			MaxConnectionsPerIP:     cfg.RateLimit.MaxConnectionsPerIP,
			IdleEntryTTL:            cfg.RateLimit.IdleEntryTTL,
		})
		go func() {
			ttl := cfg.RateLimit.IdleEntryTTL
			if ttl <= 0 {
				ttl = 5 * time.Minute
			}
			t := time.NewTicker(ttl)
			defer t.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case now := <-t.C:
					limiter.Cleanup(now)
				}
			}
		}()
	}

	// --- Tunnel server (accepts registrations from tunnel clients) ---
	var tm *tunnel.Manager
	var tunnelServers []*tunnel.Server
	if len(cfg.Tunnel.Listeners) > 0 {
		tm = tunnel.NewManager(logger)
		for _, l := range cfg.Tunnel.Listeners {
			ts, err := tunnel.NewServer(tunnel.ServerOptions{
				Enabled:    true,
				ListenAddr: l.ListenAddr,
				Transport:  l.Transport,
				AuthToken:  cfg.Tunnel.AuthToken,
				QUIC:       tunnel.QUICOptions{CertFile: l.QUIC.CertFile, KeyFile: l.QUIC.KeyFile},
				Logger:     logger,
				Manager:    tm,
			})
			if err != nil {
				return fmt.Errorf("init tunnel server %s: %w", l.ListenAddr, err)
			}
			tunnelServers = append(tunnelServers, ts)
		}
	}

	// --- Tunnel client (registers local services with a remote tunnel server) ---
	var tunnelClient *tunnel.Client
	if cfg.Tunnel.Client != nil && len(cfg.Tunnel.Services) > 0 {
		tunnelClient, err = tunnel.NewClient(tunnel.ClientOptions{
			ServerAddr: cfg.Tunnel.Client.ServerAddr,
			Transport:  cfg.Tunnel.Client.Transport,
			AuthToken:  cfg.Tunnel.AuthToken,
			Services:   toRegisteredServices(cfg.Tunnel.Services),
			QUIC: tunnel.QUICDialOptions{
				ServerName:         cfg.Tunnel.Client.QUIC.ServerName,
				InsecureSkipVerify: cfg.Tunnel.Client.QUIC.InsecureSkipVerify,
			},
			Logger:      logger,
			DialTimeout: cfg.Tunnel.Client.DialTimeout,
		})
		if err != nil {
			return fmt.Errorf("init tunnel client: %w", err)
		}
	}

	var autoListen *tunnelServiceAutoListener
	if tm != nil && cfg.Tunnel.AutoListenServices {
		autoListen = newTunnelServiceAutoListener(runCtx, tm, nil, logger)
		tm.Subscribe(autoListen.Reconcile)
	}

	var parserMu sync.Mutex
	var currentParserClose parserCloser
	applyCfg := func(newCfg *config.Config) error {
		parser, closeFn, err := buildHostParser(ctx, newCfg)
		if err != nil {
			return err
		}
		table.Update(toRouterRoutes(newCfg.Routes))

		var dialer proxy.Dialer = proxy.NewNetDialer(&proxy.NetDialerOptions{Timeout: newCfg.UpstreamDialTimeout, KeepAlive: 30 * time.Second})
		if tm != nil {
			dialer = proxy.NewTunnelDialer(dialer, tm)
		}
		bridge := proxy.NewProxyBridge(proxy.ProxyBridgeOptions{
			BufferPool: proxy.NewSyncPoolBufferPool(newCfg.BufferSize),
		})

		sessionHandler.Update(proxy.SessionHandlerOptions{
			Resolver:       table,
			Dialer:         dialer,
			Bridge:         bridge,
			StatusCache:    statusCache,
			Metrics:        agg,
			Sessions:       sessions,
			Logger:         logger,
			Timeouts:       newCfg.Timeouts,
			DialTimeout:    newCfg.UpstreamDialTimeout,
			MaxHeaderBytes: newCfg.MaxHeaderBytes,
			HostParser:     parser,
		})

		if autoListen != nil {
			autoListen.UpdateRuntime(dialer, bridge, newCfg.Timeouts)
			autoListen.Reconcile()
		}

		parserMu.Lock()
		oldClose := currentParserClose
		currentParserClose = closeFn
		parserMu.Unlock()
		if oldClose != nil {
			// Retire the previous parser chain (e.g. a WASM module) only
			// after the handshake window so in-flight handshakes that
			// started under it can still finish.
			delay := newCfg.Timeouts.HandshakeTimeout
			if delay <= 0 {
				delay = 3 * time.Second
			}
			time.AfterFunc(2*delay, func() { _ = oldClose(context.Background()) })
		}
		return nil
	}

	if err := applyCfg(cfg); err != nil {
		return fmt.Errorf("apply config: %w", err)
	}
	cm.Subscribe(func(_, newCfg *config.Config) {
		if err := applyCfg(newCfg); err != nil {
			logger.Error("apply config failed", "err", err)
		}
	})
	if cfg.Reload.Enabled {
		cm.Start(runCtx)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case <-hup:
				logger.Info("hopper: SIGHUP received, reloading config")
				reloadCtx, cancel := context.WithTimeout(runCtx, 5*time.Second)
				if err := cm.ReloadNow(reloadCtx); err != nil {
					logger.Error("hopper: SIGHUP reload failed", "err", err)
				}
				cancel()
			}
		}
	}()

	// --- Public listeners ---
	var tcpServers []*server.TCPServer
	for _, l := range cfg.Listeners {
		var h server.ConnectionHandler
		if l.Upstream == "" {
			h = sessionHandler
		} else {
			h = proxy.NewForwardHandler(proxy.ForwardHandlerOptions{
				Network:  "tcp",
				Upstream: l.Upstream,
				Dialer:   proxy.NewNetDialer(&proxy.NetDialerOptions{Timeout: cfg.UpstreamDialTimeout, KeepAlive: 30 * time.Second}),
				Bridge: proxy.NewProxyBridge(proxy.ProxyBridgeOptions{
					BufferPool: proxy.NewSyncPoolBufferPool(cfg.BufferSize),
				}),
				Logger:             logger,
				Timeouts:           cfg.Timeouts,
				InjectProxyProtoV2: cfg.ProxyProtocolV2,
			})
		}
		ts := server.NewTCPServer(l.ListenAddr, h, nil, logger)
		if limiter != nil {
			ts.WithRateLimiter(limiter)
		}
		tcpServers = append(tcpServers, ts)
	}

	var logs interface {
		Snapshot(limit int) []string
		SnapshotFilter(limit int, substr string) []string
	}
	if cfg.Logging.AdminBuffer.Enabled {
		logs = logRuntime.Store()
	}

	var admin *telemetry.AdminServer
	if cfg.AdminAddr != "" {
		admin = telemetry.NewAdminServer(telemetry.AdminServerOptions{
			Addr:              cfg.AdminAddr,
			Metrics:           agg,
			Sessions:          sessions,
			Logs:              logs,
			PrometheusMetrics: cfg.Metrics.PrometheusEnabled,
			Reload: func(reloadCtx context.Context) error {
				return cm.ReloadNow(reloadCtx)
			},
			Health: func() bool {
				for _, ts := range tcpServers {
					if !ts.IsListening() {
						return false
					}
				}
				return true
			},
		})
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	reportErr := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	if admin != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := admin.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				reportErr(fmt.Errorf("admin server: %w", err))
			}
		}()
	}

	for i, ts := range tcpServers {
		addr := cfg.Listeners[i].ListenAddr
		wg.Add(1)
		go func(ts *server.TCPServer, addr string) {
			defer wg.Done()
			if err := ts.ListenAndServe(runCtx); err != nil {
				reportErr(fmt.Errorf("listener %s: %w", addr, err))
			}
		}(ts, addr)
	}

	for i, ts := range tunnelServers {
		addr := cfg.Tunnel.Listeners[i].ListenAddr
		wg.Add(1)
		go func(ts *tunnel.Server, addr string) {
			defer wg.Done()
			if err := ts.ListenAndServe(runCtx); err != nil {
				reportErr(fmt.Errorf("tunnel listener %s: %w", addr, err))
			}
		}(ts, addr)
	}

	if tunnelClient != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tunnelClient.Run(runCtx); err != nil && runCtx.Err() == nil {
				reportErr(fmt.Errorf("tunnel client: %w", err))
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("hopper: shutdown signal received")
	case err := <-errCh:
		logger.Error("hopper: fatal component error, shutting down", "err", err)
	}
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if admin != nil {
		if err := admin.Shutdown(shutdownCtx); err != nil {
			logger.Warn("admin shutdown", "err", err)
		}
	}
	for _, ts := range tcpServers {
		if err := ts.Shutdown(shutdownCtx); err != nil {
			logger.Warn("listener shutdown", "err", err)
		}
	}
	for _, ts := range tunnelServers {
		if err := ts.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tunnel listener shutdown", "err", err)
		}
	}
	if autoListen != nil {
		autoListen.ShutdownAll(shutdownCtx)
	}

	parserMu.Lock()
	closeFn := currentParserClose
	parserMu.Unlock()
	if closeFn != nil {
		_ = closeFn(shutdownCtx)
	}

	wg.Wait()
	logger.Info("hopper: exited")
	return nil
}
