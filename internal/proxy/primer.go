package proxy

import (
	"crypto/md5"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"

	"hopper/internal/apperr"
	"hopper/internal/mcwire"
	"hopper/internal/protocol"
	"hopper/internal/router"
)

// Primer rewrites a captured handshake frame to convey the client's real
// address (and, for BungeeCord, identity) to the backend before it is
// spliced onward. loginStart is nil when the connection is in the Status
// state; BungeeCord requires it and errors if it is absent. peerAddr is the
// client's "ip:port" as reported by net.Conn.RemoteAddr.
type Primer interface {
	Prime(handshakeFrame []byte, loginStart *mcwire.LoginStart, meta protocol.HandshakeMetadata, peerAddr string) ([]byte, error)
}

// PrimerFor returns the Primer for a forwarding strategy. ForwardProxyProtocol
// and ForwardNone both pass the handshake through unchanged: PROXY protocol
// operates at the TCP layer, ahead of the Minecraft frame, and is applied by
// the bridge rather than by rewriting the handshake.
func PrimerFor(strategy router.ForwardStrategy) Primer {
	switch strategy {
	case router.ForwardBungeeCord:
		return BungeeCordPrimer{}
	case router.ForwardRealIP:
		return RealIPPrimer{}
	default:
		return PassthroughPrimer{}
	}
}

// PassthroughPrimer forwards the handshake frame exactly as received.
type PassthroughPrimer struct{}

func (PassthroughPrimer) Prime(handshakeFrame []byte, _ *mcwire.LoginStart, _ protocol.HandshakeMetadata, _ string) ([]byte, error) {
	return handshakeFrame, nil
}

// BungeeCordPrimer rewrites server_address to
// "original\x00client_ip\x00offline_uuid", the convention BungeeCord/Velocity
// use to pass player identity to backend servers over a plain TCP link.
type BungeeCordPrimer struct{}

func (BungeeCordPrimer) Prime(handshakeFrame []byte, loginStart *mcwire.LoginStart, meta protocol.HandshakeMetadata, peerAddr string) ([]byte, error) {
	rawHost, err := protocol.RawServerAddress(handshakeFrame)
	if err != nil {
		return nil, err
	}
	if strings.ContainsRune(rawHost, 0) {
		return nil, apperr.New(apperr.KindInvalid, "bungeecord: server_address already contains a null byte")
	}
	if loginStart == nil {
		return nil, apperr.New(apperr.KindInvalid, "bungeecord: login start required to derive offline uuid")
	}

	rewritten := rawHost + "\x00" + peerIP(peerAddr) + "\x00" + offlinePlayerUUID(loginStart.Username)
	return mcwire.EncodeHandshake(meta.ProtocolVersion, rewritten, meta.Port, meta.NextState)
}

// peerIP strips the port from a "ip:port" address string. Addresses that
// fail to split (unexpected formats) are returned unchanged.
func peerIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// offlinePlayerUUID computes the offline-mode player UUID BungeeCord derives
// for non-premium accounts: md5("OfflinePlayer:"+name) with the version
// nibble forced to 3 and the variant bits forced to the IETF form.
func offlinePlayerUUID(username string) string {
	sum := md5.Sum([]byte("OfflinePlayer:" + username))
	sum[6] = (sum[6] & 0x0f) | 0x30
	sum[8] = (sum[8] & 0x3f) | 0x80
	id, err := uuid.FromBytes(sum[:])
	if err != nil {
		// sum is always exactly 16 bytes; this branch is unreachable.
		return fmt.Sprintf("%x", sum)
	}
	return id.String()
}

// RealIPPrimer implements the legacy RealIP v2.4 convention: it inserts
// "///" + "ip:port" into server_address once, at the index one before the
// first embedded null byte (the FML suffix boundary; clamped to 0), or at
// the end of the string when there is no such byte.
type RealIPPrimer struct{}

func (RealIPPrimer) Prime(handshakeFrame []byte, _ *mcwire.LoginStart, meta protocol.HandshakeMetadata, peerAddr string) ([]byte, error) {
	rawHost, err := protocol.RawServerAddress(handshakeFrame)
	if err != nil {
		return nil, err
	}
	if strings.ContainsRune(rawHost, '/') {
		return nil, apperr.New(apperr.KindInvalid, "realip: server_address already contains a slash")
	}

	insertAt := len(rawHost)
	if idx := strings.IndexByte(rawHost, 0); idx >= 0 {
		insertAt = idx - 1
		if insertAt < 0 {
			insertAt = 0
		}
	}

	rewritten := rawHost[:insertAt] + "///" + peerAddr + rawHost[insertAt:]
	return mcwire.EncodeHandshake(meta.ProtocolVersion, rewritten, meta.Port, meta.NextState)
}

var (
	_ Primer = PassthroughPrimer{}
	_ Primer = BungeeCordPrimer{}
	_ Primer = RealIPPrimer{}
)
