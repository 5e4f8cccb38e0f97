// Package logstore is the append-only, segmented log manager underlying
// the replication index: a VLSN-stamped record is appended once and
// addressed forever after by its LSN (file number + byte offset, §2).
// Framing (magic/version/type/length/CRC32) is adapted directly from
// the teacher's pkg/wal entry format; multi-file rotation is adapted
// from pkg/heap's segmented HeapManager. Each header additionally
// stores the byte offset of the previous entry in the same file — the
// same back-pointer idiom as heap.RecordHeader.PrevOffset — so matchpoint
// search can walk the log backward without needing a separate index.
package logstore

import (
	"encoding/binary"
	"hash/crc32"
)

const (
	headerMagic  uint32 = 0x4C4F4749 // "LOGI"
	headerVer    uint8  = 1
	HeaderSize          = 40
	noPrevOffset int64  = -1
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// entryHeader is the fixed 40-byte prefix of every logstore record.
// DurableTxnVLSN is only meaningful on commit/abort entries: it carries
// the durable-txn VLSN assignVlsnForLog stamped onto the entry at append
// time (§4.4, §9 invariant (c)); every other entry type leaves it NULL.
type entryHeader struct {
	Magic          uint32
	Version        uint8
	EntryType      uint8
	Reserved       uint16
	VLSN           uint64
	PrevOffset     int64
	DurableTxnVLSN uint64
	PayloadLen     uint32
	CRC32          uint32
}

func (h *entryHeader) encode(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.EntryType
	binary.BigEndian.PutUint16(buf[6:8], h.Reserved)
	binary.BigEndian.PutUint64(buf[8:16], h.VLSN)
	binary.BigEndian.PutUint64(buf[16:24], uint64(h.PrevOffset))
	binary.BigEndian.PutUint64(buf[24:32], h.DurableTxnVLSN)
	binary.BigEndian.PutUint32(buf[32:36], h.PayloadLen)
	binary.BigEndian.PutUint32(buf[36:40], h.CRC32)
}

func (h *entryHeader) decode(buf []byte) {
	h.Magic = binary.BigEndian.Uint32(buf[0:4])
	h.Version = buf[4]
	h.EntryType = buf[5]
	h.Reserved = binary.BigEndian.Uint16(buf[6:8])
	h.VLSN = binary.BigEndian.Uint64(buf[8:16])
	h.PrevOffset = int64(binary.BigEndian.Uint64(buf[16:24]))
	h.DurableTxnVLSN = binary.BigEndian.Uint64(buf[24:32])
	h.PayloadLen = binary.BigEndian.Uint32(buf[32:36])
	h.CRC32 = binary.BigEndian.Uint32(buf[36:40])
}

func calculateCRC32(data []byte) uint32      { return crc32.Checksum(data, crcTable) }
func validateCRC32(data []byte, want uint32) bool { return calculateCRC32(data) == want }
