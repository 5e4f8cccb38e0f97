package bucket

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bobboyms/replindex/pkg/vlsn"
)

// Wire tags distinguishing a concrete Bucket record from a GhostBucket
// record in the backing store (§6: "GhostBucket is tagged (single flag
// byte at head)").
const (
	tagBucket byte = 0
	tagGhost  byte = 1
)

// TagBucket and TagGhost are the exported forms of the wire tags, for
// callers (pkg/backing) that need to dispatch on Tag's result without
// fully decoding.
const (
	TagBucket = tagBucket
	TagGhost  = tagGhost
)

// Encode serializes b to the §6 persisted layout: a leading tagBucket
// byte, then {first:u64, last:u64, file:u64, stride:u32, n:u32,
// entries:[(vlsn:u64, lsnOffset:u32)]xn}. The LSN file number is shared
// across the whole bucket (b.File) and only the per-entry offset is
// stored.
func (b *Bucket) Encode() []byte {
	buf := make([]byte, 0, 1+8+8+8+4+4+len(b.entries)*12)
	buf = append(buf, tagBucket)
	buf = appendU64(buf, uint64(b.First))
	buf = appendU64(buf, uint64(b.last))
	buf = appendU64(buf, uint64(b.File))
	buf = appendU32(buf, uint32(b.Stride))
	buf = appendU32(buf, uint32(len(b.entries)))
	for _, e := range b.entries {
		buf = appendU64(buf, uint64(e.v))
		buf = appendU32(buf, e.l.Offset())
	}
	return buf
}

// Decode reconstructs a closed Bucket from bytes produced by Encode. A
// deserialization inconsistency (malformed length, overlapping/
// non-monotone entries) is a fatal integrity error per §4.1.
func Decode(data []byte) (*Bucket, error) {
	r := &byteReader{data: data}
	tag, err := r.byte_()
	if err != nil {
		return nil, err
	}
	if tag != tagBucket {
		return nil, fmt.Errorf("bucket: unexpected tag %d decoding Bucket", tag)
	}

	first, err := r.u64()
	if err != nil {
		return nil, err
	}
	last, err := r.u64()
	if err != nil {
		return nil, err
	}
	file, err := r.u64()
	if err != nil {
		return nil, err
	}
	stride, err := r.u32()
	if err != nil {
		return nil, err
	}
	n, err := r.u32()
	if err != nil {
		return nil, err
	}

	b := &Bucket{
		First:  vlsn.VLSN(first),
		last:   vlsn.VLSN(last),
		File:   uint32(file),
		Stride: uint64(stride),
		closed: true,
	}
	b.entries = make([]entry, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := r.u64()
		if err != nil {
			return nil, err
		}
		off, err := r.u32()
		if err != nil {
			return nil, err
		}
		b.entries = append(b.entries, entry{v: vlsn.VLSN(v), l: vlsn.MakeLSN(uint32(file), off)})
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("bucket: integrity error decoding bucket at first=%d: %w", first, err)
	}
	return b, nil
}

// Encode serializes a GhostBucket: tagGhost followed by
// {first:u64, coveringLsn:u64, boundingLsn:u64}.
func (g *GhostBucket) Encode() []byte {
	buf := make([]byte, 0, 1+24)
	buf = append(buf, tagGhost)
	buf = appendU64(buf, uint64(g.First))
	buf = appendU64(buf, uint64(g.CoveringLsn))
	buf = appendU64(buf, uint64(g.BoundingLsn))
	return buf
}

// DecodeGhost reconstructs a GhostBucket from bytes produced by Encode.
func DecodeGhost(data []byte) (*GhostBucket, error) {
	r := &byteReader{data: data}
	tag, err := r.byte_()
	if err != nil {
		return nil, err
	}
	if tag != tagGhost {
		return nil, fmt.Errorf("bucket: unexpected tag %d decoding GhostBucket", tag)
	}
	first, err := r.u64()
	if err != nil {
		return nil, err
	}
	covering, err := r.u64()
	if err != nil {
		return nil, err
	}
	bounding, err := r.u64()
	if err != nil {
		return nil, err
	}
	return &GhostBucket{
		First:       vlsn.VLSN(first),
		CoveringLsn: vlsn.LSN(covering),
		BoundingLsn: vlsn.LSN(bounding),
	}, nil
}

// Tag returns the leading tag byte of a persisted record without fully
// decoding it, so callers can dispatch between Decode and DecodeGhost.
func Tag(data []byte) (byte, error) {
	if len(data) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	return data[0], nil
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) byte_() (byte, error) {
	if r.pos+1 > len(r.data) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) u32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *byteReader) u64() (uint64, error) {
	if r.pos+8 > len(r.data) {
		return 0, io.ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}
