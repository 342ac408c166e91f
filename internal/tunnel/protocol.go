package tunnel

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"hopper/pkg/mcproto"
)

const (
	magicRegister = "HPRG" // Register frame
	magicProxy    = "HPPX" // Proxy frame
	protocolV1    = byte(1)
)

var (
	ErrBadMagic   = errors.New("tunnel: bad magic")
	ErrBadVersion = errors.New("tunnel: unsupported version")
)

type RegisterRequest struct {
	Token    string              `json:"token"`
	Services []RegisteredService `json:"services"`
}

type RegisteredService struct {
	Name string `json:"name"`
	// Proto is one of: tcp, udp. Defaults to tcp.
	Proto string `json:"proto"`
	// LocalAddr is only used by the client; the server stores it for debugging.
	LocalAddr string `json:"local_addr"`
	// RouteOnly marks a service as reachable only via tunnel:<service> routing,
	// never auto-exposed as a server-side listener.
	RouteOnly bool `json:"route_only"`
	// RemoteAddr requests a server-side listener for this service (frp-like
	// auto-listen). Empty means route-only.
	RemoteAddr string `json:"remote_addr"`
}

func writeRegisterRequest(w io.Writer, req RegisterRequest) error {
	if _, err := io.WriteString(w, magicRegister); err != nil {
		return err
	}
	if _, err := w.Write([]byte{protocolV1}); err != nil {
		return err
	}

	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func readRegisterRequest(r io.Reader) (RegisterRequest, error) {
	r = bufio.NewReader(r)
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return RegisterRequest{}, err
	}
	if string(hdr[:]) != magicRegister {
		return RegisterRequest{}, ErrBadMagic
	}
	var ver [1]byte
	if _, err := io.ReadFull(r, ver[:]); err != nil {
		return RegisterRequest{}, err
	}
	if ver[0] != protocolV1 {
		return RegisterRequest{}, ErrBadVersion
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return RegisterRequest{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > 1<<20 { // 1 MiB cap
		return RegisterRequest{}, fmt.Errorf("tunnel: register payload too large: %d", n)
	}
	buf := make([]byte, int(n))
	if _, err := io.ReadFull(r, buf); err != nil {
		return RegisterRequest{}, err
	}
	var req RegisterRequest
	if err := json.Unmarshal(buf, &req); err != nil {
		return RegisterRequest{}, err
	}
	for i := range req.Services {
		s := &req.Services[i]
		s.Name = strings.TrimSpace(s.Name)
		s.LocalAddr = strings.TrimSpace(s.LocalAddr)
		s.RemoteAddr = strings.TrimSpace(s.RemoteAddr)
		s.Proto = strings.TrimSpace(strings.ToLower(s.Proto))
		if s.Proto == "" {
			s.Proto = "tcp"
		}
		if s.RouteOnly {
			s.RemoteAddr = ""
		}
	}
	return req, nil
}

// ProxyStreamKind identifies what a tunnel proxy stream carries after its
// header: a raw TCP byte stream, or length-framed UDP datagrams (see
// DatagramConn).
type ProxyStreamKind byte

const (
	ProxyStreamTCP ProxyStreamKind = 'T'
	ProxyStreamUDP ProxyStreamKind = 'U'
)

func writeProxyStreamHeaderKind(w io.Writer, kind ProxyStreamKind, service string) error {
	if _, err := io.WriteString(w, magicProxy); err != nil {
		return err
	}
	if _, err := w.Write([]byte{protocolV1, byte(kind)}); err != nil {
		return err
	}
	_, err := mcproto.WriteString(w, service)
	return err
}

func readProxyStreamHeader(r io.Reader) (kind ProxyStreamKind, service string, err error) {
	r = bufio.NewReader(r)
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, "", err
	}
	if string(hdr[:]) != magicProxy {
		return 0, "", ErrBadMagic
	}
	var verKind [2]byte
	if _, err := io.ReadFull(r, verKind[:]); err != nil {
		return 0, "", err
	}
	if verKind[0] != protocolV1 {
		return 0, "", ErrBadVersion
	}
	kind = ProxyStreamKind(verKind[1])
	s, _, err := mcproto.ReadString(r)
	if err != nil {
		return 0, "", err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, "", fmt.Errorf("tunnel: empty service")
	}
	return kind, s, nil
}
