package proxy

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"hopper/internal/apperr"
	"hopper/internal/config"
	"hopper/internal/mcwire"
	"hopper/internal/metrics"
	"hopper/internal/protocol"
	"hopper/internal/router"
)

// SessionHandlerOptions is stored behind an atomic.Value so a config reload
// can swap it out for connections accepted afterward, without disturbing
// connections already in flight.
type SessionHandlerOptions struct {
	Resolver    router.UpstreamResolver
	Dialer      Dialer
	Bridge      *ProxyBridge
	StatusCache *StatusCache
	Metrics     *metrics.Aggregator
	Sessions    *SessionRegistry
	Logger      *slog.Logger

	Timeouts       config.Timeouts
	DialTimeout    time.Duration
	MaxHeaderBytes int

	// HostParser, when set, is tried against the connection's leading bytes
	// before the Minecraft handshake decode. It exists for non-Minecraft
	// traffic sharing a listener port (e.g. a TLS client hello carrying
	// SNI) that the built-in decoder will never match; a hit here is raw
	// byte-for-byte forwarded to the resolved upstream with no handshake
	// rewriting. A miss falls through to the normal Minecraft path using
	// the same buffered bytes.
	HostParser protocol.HostParser
}

// SessionHandler drives one client connection through
// handshake -> route -> dial -> prime -> splice, following the Minecraft
// Java edition handshake/login sequence.
type SessionHandler struct {
	v atomic.Value // SessionHandlerOptions
}

func NewSessionHandler(opts SessionHandlerOptions) *SessionHandler {
	h := &SessionHandler{}
	h.v.Store(opts)
	return h
}

func (h *SessionHandler) Update(opts SessionHandlerOptions) {
	h.v.Store(opts)
}

func (h *SessionHandler) Handle(ctx context.Context, conn net.Conn) {
	opts, _ := h.v.Load().(SessionHandlerOptions)
	if opts.Resolver == nil || opts.Dialer == nil || opts.Bridge == nil {
		_ = conn.Close()
		return
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	defer conn.Close()

	maxHeader := opts.MaxHeaderBytes
	if maxHeader <= 0 {
		maxHeader = 2 * 1024 * 1024
	}
	handshakeTimeout := opts.Timeouts.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 2 * time.Second
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 2 * time.Second
	}

	br := bufio.NewReader(conn)
	// The handshake timeout covers the full two-packet exchange (handshake,
	// then login start when applicable); it is cleared once both have been
	// read and before dialing the backend.
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	if opts.HostParser != nil {
		if handled := h.tryHostParserForward(ctx, conn, br, opts, logger); handled {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	}

	handshakePkt, err := mcwire.ReadRawPacket(br, maxHeader)
	if err != nil {
		logger.Debug("proxy: handshake read failed", "err", err)
		return
	}
	meta, err := protocol.NewMinecraftHandshakeDecoder().Decode(bytes.NewReader(handshakePkt.Raw))
	if err != nil {
		logger.Debug("proxy: handshake decode failed", "err", err)
		return
	}

	peerAddr := conn.RemoteAddr().String()
	isLogin := meta.NextState == protocol.NextStateLogin
	state := metrics.StateStatus
	if isLogin {
		state = metrics.StateLogin
	}

	resolution, ok := opts.Resolver.Resolve(meta.Host, peerAddr)
	if !ok {
		h.fail(conn, isLogin, apperr.New(apperr.KindNoServer, fmt.Sprintf("no route for host %q", meta.Host)), logger)
		return
	}

	if !isLogin && resolution.CachePingTTL > 0 && opts.StatusCache != nil {
		h.handleCachedStatus(ctx, conn, br, opts, meta, resolution, handshakePkt, dialTimeout, logger)
		return
	}

	var loginStart *mcwire.LoginStart
	var loginPkt mcwire.RawPacket
	if isLogin {
		loginPkt, err = mcwire.ReadRawPacket(br, maxHeader)
		if err != nil {
			logger.Debug("proxy: login start read failed", "err", err)
			return
		}
		ls, lsErr := mcwire.ParseLoginStart(loginPkt.Payload)
		if lsErr != nil {
			h.fail(conn, isLogin, lsErr, logger)
			return
		}
		loginStart = &ls
	}
	_ = conn.SetReadDeadline(time.Time{})

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	up, err := opts.Dialer.DialContext(dialCtx, "tcp", resolution.Upstream)
	deadlineExceeded := errors.Is(dialCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		kind := apperr.KindConnect
		if deadlineExceeded {
			kind = apperr.KindTimeOut
		}
		h.fail(conn, isLogin, apperr.Wrap(kind, "dial upstream", err), logger)
		return
	}

	primer := PrimerFor(resolution.ForwardStrategy)
	primedHandshake, err := primer.Prime(handshakePkt.Raw, loginStart, *meta, peerAddr)
	if err != nil {
		_ = up.Close()
		h.fail(conn, isLogin, err, logger)
		return
	}

	var guard *metrics.Guard
	if opts.Metrics != nil {
		guard = opts.Metrics.NewGuard(meta.Host, state)
	}
	guard.Connect(ctx)

	sid := newSessionID()
	if opts.Sessions != nil {
		opts.Sessions.Add(SessionInfo{
			ID:        sid,
			Client:    peerAddr,
			Host:      meta.Host,
			Upstream:  resolution.Upstream,
			StartedAt: time.Now(),
		})
		defer opts.Sessions.Remove(sid)
	}

	initialBuf := append(append([]byte(nil), primedHandshake...))
	if loginStart != nil {
		initialBuf = append(initialBuf, loginPkt.Raw...)
	}
	initial := io.MultiReader(bytes.NewReader(initialBuf), br)

	var sb, cb atomic.Uint64
	counter := &bridgeByteCounter{serverbound: &sb, clientbound: &cb}
	injectProxyV2 := resolution.ForwardStrategy == router.ForwardProxyProtocol
	spliceErr := opts.Bridge.Proxy(ctx, conn, up, initial, injectProxyV2, counter)

	guard.Disconnect(ctx)
	guard.Bandwidth(ctx, sb.Load(), cb.Load())
	if spliceErr != nil {
		logger.Debug("proxy: splice ended", "host", meta.Host, "err", spliceErr)
	}
}

// handleCachedStatus serves a Status-state ping from opts.StatusCache when
// possible, dialing the backend only on a cache miss, and answers the
// subsequent Ping with an identical Pong without ever involving the
// backend.
func (h *SessionHandler) handleCachedStatus(
	ctx context.Context,
	conn net.Conn,
	br *bufio.Reader,
	opts SessionHandlerOptions,
	meta *protocol.HandshakeMetadata,
	resolution router.Resolution,
	handshakePkt mcwire.RawPacket,
	dialTimeout time.Duration,
	logger *slog.Logger,
) {
	reqPkt, err := mcwire.ReadRawPacket(br, 256)
	if err != nil {
		logger.Debug("proxy: status request read failed", "err", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	key := StatusCacheKey{Upstream: resolution.Upstream, ProtocolVersion: meta.ProtocolVersion}
	resp, err := opts.StatusCache.GetOrLoad(ctx, key, resolution.CachePingTTL, func(loadCtx context.Context) ([]byte, error) {
		dialCtx, cancel := context.WithTimeout(loadCtx, dialTimeout)
		defer cancel()
		up, dialErr := opts.Dialer.DialContext(dialCtx, "tcp", resolution.Upstream)
		if dialErr != nil {
			return nil, apperr.Wrap(apperr.KindConnect, "dial upstream for status", dialErr)
		}
		defer up.Close()

		if _, werr := up.Write(handshakePkt.Raw); werr != nil {
			return nil, apperr.Wrap(apperr.KindConnect, "write handshake for status", werr)
		}
		if _, werr := up.Write(reqPkt.Raw); werr != nil {
			return nil, apperr.Wrap(apperr.KindConnect, "write status request", werr)
		}
		_ = up.SetReadDeadline(time.Now().Add(dialTimeout))
		statusPkt, rerr := mcwire.ReadRawPacket(bufio.NewReader(up), 256*1024)
		if rerr != nil {
			return nil, apperr.Wrap(apperr.KindProtocol, "read status response", rerr)
		}
		return statusPkt.Raw, nil
	})
	if err != nil {
		logger.Debug("proxy: status load failed", "err", err)
		return
	}

	var guard *metrics.Guard
	if opts.Metrics != nil {
		guard = opts.Metrics.NewGuard(meta.Host, metrics.StateStatus)
	}
	guard.Connect(ctx)
	defer func() {
		guard.Disconnect(ctx)
		guard.Bandwidth(ctx, uint64(len(reqPkt.Raw)), uint64(len(resp)))
	}()

	if _, err := conn.Write(resp); err != nil {
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(dialTimeout))
	pingPkt, err := mcwire.ReadRawPacket(br, 64)
	if err != nil {
		return
	}
	_, _ = conn.Write(pingPkt.Raw)
}

// tryHostParserForward peeks the connection's leading bytes through
// opts.HostParser and, on a match, raw-forwards the connection to the
// resolved upstream. It reports whether the connection was handled (and
// thus must not be processed by the Minecraft handshake path).
func (h *SessionHandler) tryHostParserForward(
	ctx context.Context,
	conn net.Conn,
	br *bufio.Reader,
	opts SessionHandlerOptions,
	logger *slog.Logger,
) bool {
	const peekSize = 4096
	peeked, _ := br.Peek(peekSize)
	if len(peeked) == 0 {
		return false
	}
	host, err := opts.HostParser.Parse(peeked)
	if err != nil || host == "" {
		return false
	}

	peerAddr := conn.RemoteAddr().String()
	resolution, ok := opts.Resolver.Resolve(host, peerAddr)
	if !ok {
		return false
	}

	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 2 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	up, err := opts.Dialer.DialContext(dialCtx, "tcp", resolution.Upstream)
	cancel()
	if err != nil {
		logger.Debug("proxy: host-parser dial failed", "host", host, "err", err)
		_ = conn.Close()
		return true
	}
	_ = conn.SetReadDeadline(time.Time{})

	var guard *metrics.Guard
	if opts.Metrics != nil {
		guard = opts.Metrics.NewGuard(host, metrics.StateStatus)
	}
	guard.Connect(ctx)

	var sb, cb atomic.Uint64
	counter := &bridgeByteCounter{serverbound: &sb, clientbound: &cb}
	if err := opts.Bridge.Proxy(ctx, conn, up, br, false, counter); err != nil {
		logger.Debug("proxy: host-parser splice ended", "host", host, "err", err)
	}
	guard.Disconnect(ctx)
	guard.Bandwidth(ctx, sb.Load(), cb.Load())
	return true
}

// fail reports a pre-splice error: a Login-state client gets a Disconnect
// chat describing the failure; a Status-state client is just closed, since
// the Status protocol defines no error packet.
func (h *SessionHandler) fail(conn net.Conn, isLogin bool, err error, logger *slog.Logger) {
	kind := apperr.KindInvalid
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		kind = appErr.Kind
	}
	logger.Debug("proxy: session failed", "err", err, "kind", kind)
	if !isLogin || !apperr.DisconnectsLogin(kind) {
		return
	}
	pkt, encErr := mcwire.EncodeDisconnect(err.Error())
	if encErr != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, _ = conn.Write(pkt)
}

// bridgeByteCounter adapts two atomic counters to the BridgeMetrics
// interface, giving each session its own isolated totals to report to the
// metrics guard once the splice ends.
type bridgeByteCounter struct {
	serverbound *atomic.Uint64
	clientbound *atomic.Uint64
}

func (c *bridgeByteCounter) AddIngress(n int64) { c.serverbound.Add(uint64(n)) }
func (c *bridgeByteCounter) AddEgress(n int64)  { c.clientbound.Add(uint64(n)) }

var _ BridgeMetrics = (*bridgeByteCounter)(nil)

func newSessionID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
