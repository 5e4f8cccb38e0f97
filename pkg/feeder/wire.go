// Package feeder implements the feeder manager (§4.10, C11): a
// connection-accepting thread that hands each connection to a
// per-request worker streaming requested log-segment files to a
// replication peer, protected from cleaner deletion by a backup handle
// that survives disconnects under a time-bounded lease.
//
// The framing below follows the same {op:u16, bodySize:i32} shape
// pkg/matchpoint fixes for the matchpoint wire protocol (§6), in its
// own op namespace since a file-dump request/response exchange is a
// distinct message family from matchpoint's entry lookups.
package feeder

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

type op uint16

const (
	opHello op = iota + 1
	opFileHeader
	opFileChunk
	opFileDone
	opFileNotFound
	opAllDone
	opPing
)

const headerSize = 6

type header struct {
	op       op
	bodySize int32
}

func (h header) encode() []byte {
	buf := make([]byte, headerSize)
	binary.BigEndian.PutUint16(buf[0:2], uint16(h.op))
	binary.BigEndian.PutUint32(buf[2:6], uint32(h.bodySize))
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < headerSize {
		return header{}, fmt.Errorf("feeder: short header (%d bytes)", len(buf))
	}
	return header{
		op:       op(binary.BigEndian.Uint16(buf[0:2])),
		bodySize: int32(binary.BigEndian.Uint32(buf[2:6])),
	}, nil
}

// encodeHello frames the client's opening message: its identifier and
// the list of segment file numbers it wants dumped.
func encodeHello(clientID uuid.UUID, files []uint32) []byte {
	body := make([]byte, 16+4+4*len(files))
	copy(body[0:16], clientID[:])
	binary.BigEndian.PutUint32(body[16:20], uint32(len(files)))
	for i, f := range files {
		binary.BigEndian.PutUint32(body[20+4*i:24+4*i], f)
	}
	return append(header{op: opHello, bodySize: int32(len(body))}.encode(), body...)
}

func decodeHello(body []byte) (uuid.UUID, []uint32, error) {
	if len(body) < 20 {
		return uuid.UUID{}, nil, fmt.Errorf("feeder: short Hello body")
	}
	var id uuid.UUID
	copy(id[:], body[0:16])
	n := binary.BigEndian.Uint32(body[16:20])
	if uint64(len(body)-20) < uint64(n)*4 {
		return uuid.UUID{}, nil, fmt.Errorf("feeder: truncated Hello file list")
	}
	files := make([]uint32, n)
	for i := uint32(0); i < n; i++ {
		files[i] = binary.BigEndian.Uint32(body[20+4*i : 24+4*i])
	}
	return id, files, nil
}

// fileHeaderMsg describes one file dump about to stream: the original
// (uncompressed) size, an xxhash64 checksum over the uncompressed
// bytes, and the compressed byte count the receiver should expect
// across however many FileChunk frames follow.
type fileHeaderMsg struct {
	fileNumber       uint32
	uncompressedSize int64
	checksum         uint64
	compressedSize   int64
}

func encodeFileHeader(m fileHeaderMsg) []byte {
	body := make([]byte, 4+8+8+8)
	binary.BigEndian.PutUint32(body[0:4], m.fileNumber)
	binary.BigEndian.PutUint64(body[4:12], uint64(m.uncompressedSize))
	binary.BigEndian.PutUint64(body[12:20], m.checksum)
	binary.BigEndian.PutUint64(body[20:28], uint64(m.compressedSize))
	return append(header{op: opFileHeader, bodySize: int32(len(body))}.encode(), body...)
}

func decodeFileHeader(body []byte) (fileHeaderMsg, error) {
	if len(body) < 28 {
		return fileHeaderMsg{}, fmt.Errorf("feeder: short FileHeader body")
	}
	return fileHeaderMsg{
		fileNumber:       binary.BigEndian.Uint32(body[0:4]),
		uncompressedSize: int64(binary.BigEndian.Uint64(body[4:12])),
		checksum:         binary.BigEndian.Uint64(body[12:20]),
		compressedSize:   int64(binary.BigEndian.Uint64(body[20:28])),
	}, nil
}

func encodeFileChunk(fileNumber uint32, data []byte) []byte {
	body := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(body[0:4], fileNumber)
	copy(body[4:], data)
	return append(header{op: opFileChunk, bodySize: int32(len(body))}.encode(), body...)
}

func decodeFileChunk(body []byte) (uint32, []byte, error) {
	if len(body) < 4 {
		return 0, nil, fmt.Errorf("feeder: short FileChunk body")
	}
	return binary.BigEndian.Uint32(body[0:4]), body[4:], nil
}

func encodeFileDone(fileNumber uint32) []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, fileNumber)
	return append(header{op: opFileDone, bodySize: int32(len(body))}.encode(), body...)
}

func decodeFileDone(body []byte) (uint32, error) {
	if len(body) < 4 {
		return 0, fmt.Errorf("feeder: short FileDone body")
	}
	return binary.BigEndian.Uint32(body[0:4]), nil
}

func encodeFileNotFound(fileNumber uint32) []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, fileNumber)
	return append(header{op: opFileNotFound, bodySize: int32(len(body))}.encode(), body...)
}

func decodeFileNotFound(body []byte) (uint32, error) {
	if len(body) < 4 {
		return 0, fmt.Errorf("feeder: short FileNotFound body")
	}
	return binary.BigEndian.Uint32(body[0:4]), nil
}

func encodeAllDone() []byte { return header{op: opAllDone, bodySize: 0}.encode() }

func encodePing() []byte { return header{op: opPing, bodySize: 0}.encode() }
