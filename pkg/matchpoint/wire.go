// Package matchpoint implements the replica-feeder syncup algorithm
// (§4.9, C9): given a peer and the local log, find the greatest VLSN
// where the two logs byte-match, then classify the recovery this
// implies (normal rollback, hard recovery, or network restore).
//
// The wire protocol, transport and handshake are out of scope (spec.md
// §1); this package only fixes the message shapes of §6 so a transport
// on either side of the interface boundary can frame them identically.
package matchpoint

import (
	"encoding/binary"
	"fmt"

	"github.com/bobboyms/replindex/pkg/vlsn"
)

// Op identifies a wire message's body layout (§6).
type Op uint16

const (
	OpEntryRequest Op = iota + 1
	OpEntry
	OpEntryNotFound
	OpAlternateMatchpoint
	OpStartStream
	OpRestoreRequest
	OpRestoreResponse
	OpSyncupPing
)

// Header is the fixed framing every message carries: a 2-byte op code
// followed by a signed 4-byte body length, both big-endian.
type Header struct {
	Op       Op
	BodySize int32
}

const HeaderSize = 6

func (h Header) encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], uint16(h.Op))
	binary.BigEndian.PutUint32(buf[2:6], uint32(h.BodySize))
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("matchpoint: short header (%d bytes)", len(buf))
	}
	return Header{
		Op:       Op(binary.BigEndian.Uint16(buf[0:2])),
		BodySize: int32(binary.BigEndian.Uint32(buf[2:6])),
	}, nil
}

// WireRecord is the {header, itemBytes} pair §6 defines: a log entry as
// produced by the surrounding log layer, addressed by its VLSN and
// carrying the raw entry type and payload bytes needed for a byte-match
// comparison against a peer's copy.
type WireRecord struct {
	VLSN    vlsn.VLSN
	Type    vlsn.EntryType
	Payload []byte
}

func encodeString(s string) []byte {
	buf := make([]byte, 4+len(s))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(s)))
	copy(buf[4:], s)
	return buf
}

func decodeString(data []byte) (string, []byte, error) {
	if len(data) < 4 {
		return "", nil, fmt.Errorf("matchpoint: short string length prefix")
	}
	n := binary.BigEndian.Uint32(data[0:4])
	if uint32(len(data)-4) < n {
		return "", nil, fmt.Errorf("matchpoint: truncated string body")
	}
	return string(data[4 : 4+n]), data[4+n:], nil
}

func encodeWireRecord(r WireRecord) []byte {
	buf := make([]byte, 9+len(r.Payload))
	binary.BigEndian.PutUint64(buf[0:8], uint64(r.VLSN))
	buf[8] = byte(r.Type)
	copy(buf[9:], r.Payload)
	return buf
}

func decodeWireRecord(data []byte) (WireRecord, error) {
	if len(data) < 9 {
		return WireRecord{}, fmt.Errorf("matchpoint: short wire record (%d bytes)", len(data))
	}
	return WireRecord{
		VLSN:    vlsn.VLSN(binary.BigEndian.Uint64(data[0:8])),
		Type:    vlsn.EntryType(data[8]),
		Payload: append([]byte(nil), data[9:]...),
	}, nil
}

// EncodeEntryRequest frames an EntryRequest{vlsn} message.
func EncodeEntryRequest(v vlsn.VLSN) []byte {
	body := make([]byte, 8)
	binary.BigEndian.PutUint64(body, uint64(v))
	return append(Header{Op: OpEntryRequest, BodySize: int32(len(body))}.encode(), body...)
}

// DecodeEntryRequest parses an EntryRequest body (post-header).
func DecodeEntryRequest(body []byte) (vlsn.VLSN, error) {
	if len(body) < 8 {
		return vlsn.NULL, fmt.Errorf("matchpoint: short EntryRequest body")
	}
	return vlsn.VLSN(binary.BigEndian.Uint64(body)), nil
}

// EncodeEntry frames an Entry{wireRecord} reply.
func EncodeEntry(r WireRecord) []byte {
	body := encodeWireRecord(r)
	return append(Header{Op: OpEntry, BodySize: int32(len(body))}.encode(), body...)
}

// DecodeEntry parses an Entry body.
func DecodeEntry(body []byte) (WireRecord, error) { return decodeWireRecord(body) }

// EncodeEntryNotFound frames an empty EntryNotFound reply.
func EncodeEntryNotFound() []byte {
	return Header{Op: OpEntryNotFound, BodySize: 0}.encode()
}

// EncodeAlternateMatchpoint frames an AlternateMatchpoint{wireRecord} reply.
func EncodeAlternateMatchpoint(r WireRecord) []byte {
	body := encodeWireRecord(r)
	return append(Header{Op: OpAlternateMatchpoint, BodySize: int32(len(body))}.encode(), body...)
}

// DecodeAlternateMatchpoint parses an AlternateMatchpoint body.
func DecodeAlternateMatchpoint(body []byte) (WireRecord, error) { return decodeWireRecord(body) }

// EncodeStartStream frames a StartStream{fromVlsn, filterBytes} message.
func EncodeStartStream(from vlsn.VLSN, filter []byte) []byte {
	body := make([]byte, 8+4+len(filter))
	binary.BigEndian.PutUint64(body[0:8], uint64(from))
	binary.BigEndian.PutUint32(body[8:12], uint32(len(filter)))
	copy(body[12:], filter)
	return append(Header{Op: OpStartStream, BodySize: int32(len(body))}.encode(), body...)
}

// EncodeRestoreRequest frames a RestoreRequest{vlsn} message.
func EncodeRestoreRequest(v vlsn.VLSN) []byte {
	body := make([]byte, 8)
	binary.BigEndian.PutUint64(body, uint64(v))
	return append(Header{Op: OpRestoreRequest, BodySize: int32(len(body))}.encode(), body...)
}

// NodeAddr is one provider entry in a RestoreResponse.
type NodeAddr struct {
	Host string
	Port uint16
}

// EncodeRestoreResponse frames a RestoreResponse{providers} message.
func EncodeRestoreResponse(providers []NodeAddr) []byte {
	var body []byte
	countBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(countBuf, uint32(len(providers)))
	body = append(body, countBuf...)
	for _, p := range providers {
		body = append(body, encodeString(p.Host)...)
		portBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(portBuf, p.Port)
		body = append(body, portBuf...)
	}
	return append(Header{Op: OpRestoreResponse, BodySize: int32(len(body))}.encode(), body...)
}

// DecodeRestoreResponse parses a RestoreResponse body.
func DecodeRestoreResponse(body []byte) ([]NodeAddr, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("matchpoint: short RestoreResponse body")
	}
	n := binary.BigEndian.Uint32(body[0:4])
	rest := body[4:]
	providers := make([]NodeAddr, 0, n)
	for i := uint32(0); i < n; i++ {
		host, tail, err := decodeString(rest)
		if err != nil {
			return nil, err
		}
		if len(tail) < 2 {
			return nil, fmt.Errorf("matchpoint: truncated NodeAddr port")
		}
		providers = append(providers, NodeAddr{Host: host, Port: binary.BigEndian.Uint16(tail[0:2])})
		rest = tail[2:]
	}
	return providers, nil
}

// EncodeSyncupPing frames a keep-alive ping; it must be echoed back.
func EncodeSyncupPing() []byte {
	return Header{Op: OpSyncupPing, BodySize: 0}.encode()
}

// DecodeHeader exposes header parsing to transports reading a stream.
func DecodeHeader(buf []byte) (Header, error) { return decodeHeader(buf) }
