// Package mcwire implements the length-prefixed Minecraft packet framing
// used above the raw VarInt/String primitives in pkg/mcproto, plus the
// handful of Login-state packets hopper needs to speak on its own
// behalf (LoginStart for BungeeCord-style forwarding, Disconnect for
// pre-splice failure reporting).
package mcwire

import (
	"bytes"
	"encoding/json"
	"io"

	"hopper/internal/apperr"
	"hopper/pkg/mcproto"
)

// RawPacket is a decoded Minecraft packet that retains its original
// length-prefixed bytes, so it can be forwarded upstream unchanged
// without re-encoding.
type RawPacket struct {
	ID      int32
	Payload []byte // packet id + packet body, NOT including the length prefix
	Raw     []byte // length VarInt + ID + body, exactly as it appeared on the wire
}

// ReadRawPacket reads one length-prefixed packet frame from r.
func ReadRawPacket(r io.Reader, maxPacketLen int) (RawPacket, error) {
	if maxPacketLen <= 0 {
		maxPacketLen = 512 * 1024
	}

	length, lengthRaw, err := readVarIntRaw(r)
	if err != nil {
		return RawPacket{}, apperr.Wrap(apperr.KindProtocol, "read packet length", err)
	}
	if length < 0 {
		return RawPacket{}, apperr.New(apperr.KindProtocol, "negative packet length")
	}
	if int(length) > maxPacketLen {
		return RawPacket{}, apperr.New(apperr.KindProtocol, "packet exceeds maximum length")
	}

	body := make([]byte, int(length))
	if _, err := io.ReadFull(r, body); err != nil {
		return RawPacket{}, apperr.Wrap(apperr.KindProtocol, "read packet body", err)
	}

	id, _, err := mcproto.ReadVarInt(bytes.NewReader(body))
	if err != nil {
		return RawPacket{}, apperr.Wrap(apperr.KindProtocol, "read packet id", err)
	}

	raw := make([]byte, 0, len(lengthRaw)+len(body))
	raw = append(raw, lengthRaw...)
	raw = append(raw, body...)
	return RawPacket{ID: id, Payload: body, Raw: raw}, nil
}

func readVarIntRaw(r io.Reader) (int32, []byte, error) {
	var (
		numRead int
		result  int32
		buf     [5]byte
	)
	for {
		if numRead >= 5 {
			return 0, buf[:numRead], mcproto.ErrVarIntTooLong
		}
		b, err := readOneByte(r)
		if err != nil {
			return 0, buf[:numRead], err
		}
		buf[numRead] = b
		result |= int32(b&0x7F) << (7 * numRead)
		numRead++
		if b&0x80 == 0 {
			return result, buf[:numRead], nil
		}
	}
}

func readOneByte(r io.Reader) (byte, error) {
	if br, ok := r.(interface{ ReadByte() (byte, error) }); ok {
		return br.ReadByte()
	}
	var one [1]byte
	_, err := io.ReadFull(r, one[:])
	return one[0], err
}

// LoginStart is the client->server packet that opens the Login state.
// Only the fields hopper needs to read (for BungeeCord-style forwarding,
// which rewrites the handshake rather than this packet) are modeled.
type LoginStart struct {
	Username string
}

// ParseLoginStart decodes a captured Login-state packet's payload
// (id + body, as produced by ReadRawPacket) as a LoginStart packet.
func ParseLoginStart(payload []byte) (LoginStart, error) {
	br := bytes.NewReader(payload)
	id, _, err := mcproto.ReadVarInt(br)
	if err != nil {
		return LoginStart{}, apperr.Wrap(apperr.KindProtocol, "read login start id", err)
	}
	if id != 0 {
		return LoginStart{}, apperr.New(apperr.KindProtocol, "expected login start packet id 0")
	}
	name, _, err := mcproto.ReadString(br)
	if err != nil {
		return LoginStart{}, apperr.Wrap(apperr.KindProtocol, "read login start username", err)
	}
	return LoginStart{Username: name}, nil
}

// EncodeHandshake builds a length-prefixed Handshake packet (id 0x00) with
// the given fields. Connection primers use this to rewrite server_address
// before the captured frame is spliced to the backend.
func EncodeHandshake(protocolVersion int32, serverAddress string, port uint16, nextState int32) ([]byte, error) {
	var payload bytes.Buffer
	if _, err := mcproto.WriteVarInt(&payload, 0); err != nil {
		return nil, err
	}
	if _, err := mcproto.WriteVarInt(&payload, protocolVersion); err != nil {
		return nil, err
	}
	if _, err := mcproto.WriteString(&payload, serverAddress); err != nil {
		return nil, err
	}
	if _, err := mcproto.WriteUShort(&payload, port); err != nil {
		return nil, err
	}
	if _, err := mcproto.WriteVarInt(&payload, nextState); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if _, err := mcproto.WriteVarInt(&out, int32(payload.Len())); err != nil {
		return nil, err
	}
	if _, err := out.Write(payload.Bytes()); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

type disconnectChat struct {
	Text string `json:"text"`
}

// EncodeDisconnect builds a length-prefixed Login-state Disconnect
// packet (id 0x00) carrying a plain-text chat component, for reporting
// a pre-splice failure to the client before closing the socket.
func EncodeDisconnect(reason string) ([]byte, error) {
	chat, err := json.Marshal(disconnectChat{Text: reason})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalid, "encode disconnect chat", err)
	}

	var payload bytes.Buffer
	if _, err := mcproto.WriteVarInt(&payload, 0); err != nil {
		return nil, err
	}
	if _, err := mcproto.WriteString(&payload, string(chat)); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if _, err := mcproto.WriteVarInt(&out, int32(payload.Len())); err != nil {
		return nil, err
	}
	if _, err := out.Write(payload.Bytes()); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
