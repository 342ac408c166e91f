package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
)

// BridgeMetrics receives byte counts as they cross the pipe. Counts are
// reported per-read, not just once at close, so a cancelled pipe still
// attributes the bytes it managed to forward before it was torn down.
type BridgeMetrics interface {
	AddIngress(n int64)
	AddEgress(n int64)
}

type ProxyBridgeOptions struct {
	BufferPool BufferPool
}

// ProxyBridge splices a client connection and a backend connection together
// bidirectionally until either side closes or ctx is cancelled.
type ProxyBridge struct {
	opts ProxyBridgeOptions
}

func NewProxyBridge(opts ProxyBridgeOptions) *ProxyBridge {
	return &ProxyBridge{opts: opts}
}

func (b *ProxyBridge) buffer() []byte {
	if b.opts.BufferPool != nil {
		return b.opts.BufferPool.Get()
	}
	return make([]byte, 2*1024)
}

func (b *ProxyBridge) putBuffer(buf []byte) {
	if b.opts.BufferPool != nil {
		b.opts.BufferPool.Put(buf)
	}
}

// setNoDelay disables Nagle's algorithm on conn when it is a *net.TCPConn.
// Minecraft's protocol is latency-sensitive and chatty (small packets in
// both directions), so batching writes costs more than it saves.
func setNoDelay(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}

// Proxy copies bytes in both directions between client and upstream.
// initialClientToUpstream carries any bytes already read from client (the
// handshake prelude, possibly rewritten by a connection primer) ahead of
// further reads from the live connection. injectProxyV2 prepends a PROXY
// protocol v2 header to the upstream side when the route's forwarding
// strategy calls for it. metrics, if non-nil, is notified of every chunk
// read off either side, incrementally, so a cancelled splice still reports
// the bytes it forwarded.
func (b *ProxyBridge) Proxy(ctx context.Context, client net.Conn, upstream net.Conn, initialClientToUpstream io.Reader, injectProxyV2 bool, metrics BridgeMetrics) error {
	defer client.Close()
	defer upstream.Close()

	setNoDelay(client)
	setNoDelay(upstream)

	if injectProxyV2 {
		src, _ := client.RemoteAddr().(*net.TCPAddr)
		dst, _ := upstream.RemoteAddr().(*net.TCPAddr)
		if src != nil && dst != nil {
			if hdr, err := BuildProxyV2Header(src, dst); err == nil {
				if _, err := upstream.Write(hdr); err != nil {
					return err
				}
			}
		}
	}

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	// pipe reads one ≈2KiB chunk at a time and adds it to count before
	// issuing the matching write, so a connection torn down mid-write still
	// leaves the counter reflecting bytes actually read off the wire.
	pipe := func(dst io.Writer, src io.Reader, count func(int64)) {
		defer wg.Done()
		buf := b.buffer()
		defer b.putBuffer(buf)

		for {
			n, rerr := src.Read(buf)
			if n > 0 {
				if count != nil {
					count(int64(n))
				}
				if _, werr := dst.Write(buf[:n]); werr != nil {
					errCh <- werr
					return
				}
			}
			if rerr != nil {
				if errors.Is(rerr, io.EOF) || errors.Is(rerr, net.ErrClosed) {
					errCh <- nil
					return
				}
				errCh <- rerr
				return
			}
		}
	}

	var ingressFn, egressFn func(int64)
	if metrics != nil {
		ingressFn = metrics.AddIngress
		egressFn = metrics.AddEgress
	}

	wg.Add(2)
	go pipe(upstream, initialClientToUpstream, ingressFn) // client -> upstream
	go pipe(client, upstream, egressFn)                    // upstream -> client

	select {
	case <-ctx.Done():
		_ = client.Close()
		_ = upstream.Close()
		wg.Wait()
		return ctx.Err()
	case err := <-errCh:
		_ = client.Close()
		_ = upstream.Close()
		wg.Wait()
		<-errCh // drain the other direction
		return err
	}
}
