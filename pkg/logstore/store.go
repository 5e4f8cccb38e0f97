package logstore

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bobboyms/replindex/pkg/vlsn"
)

const DefaultMaxSegmentSize int64 = 64 * 1024 * 1024

// Record is one decoded logstore entry plus the address it lives at.
// DurableTxnVLSN is only meaningful when Type.IsTxnEnd() (§4.4, §9).
type Record struct {
	VLSN           vlsn.VLSN
	Type           vlsn.EntryType
	Payload        []byte
	LSN            vlsn.LSN
	DurableTxnVLSN vlsn.VLSN
}

type segment struct {
	fileNumber uint32
	path       string
	file       *os.File
	writer     *bufio.Writer
	size       int64
	lastOffset int64 // offset of the most recently written entry's header, noPrevOffset if none yet
}

// Store is the segmented, append-only log: a sequence of numbered
// files under dir, each capped at maxSegmentSize, rotated the way
// heap.HeapManager rotates segments.
type Store struct {
	mu             sync.Mutex
	dir            string
	prefix         string
	maxSegmentSize int64
	segments       []*segment
	active         *segment
}

func segmentPath(dir, prefix string, fileNumber uint32) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%010d.log", prefix, fileNumber))
}

// Open scans dir for existing "<prefix>_NNNNNNNNNN.log" segments and
// opens (or creates, if none exist) the active one for appends.
func Open(dir, prefix string, maxSegmentSize int64) (*Store, error) {
	if maxSegmentSize <= 0 {
		maxSegmentSize = DefaultMaxSegmentSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logstore: create dir %s: %w", dir, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("logstore: read dir %s: %w", dir, err)
	}

	var numbers []uint32
	for _, e := range entries {
		var n uint32
		if _, scanErr := fmt.Sscanf(e.Name(), prefix+"_%010d.log", &n); scanErr == nil {
			numbers = append(numbers, n)
		}
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	s := &Store{dir: dir, prefix: prefix, maxSegmentSize: maxSegmentSize}
	for _, n := range numbers {
		path := segmentPath(dir, prefix, n)
		f, openErr := os.OpenFile(path, os.O_RDWR, 0o644)
		if openErr != nil {
			return nil, fmt.Errorf("logstore: open segment %s: %w", path, openErr)
		}
		seg := &segment{fileNumber: n, path: path, file: f}
		if err := seg.recoverTail(); err != nil {
			return nil, err
		}
		s.segments = append(s.segments, seg)
	}

	if len(s.segments) == 0 {
		seg, createErr := s.createSegment(1)
		if createErr != nil {
			return nil, createErr
		}
		s.segments = append(s.segments, seg)
	}

	s.active = s.segments[len(s.segments)-1]
	if s.active.writer == nil {
		s.active.writer = bufio.NewWriterSize(s.active.file, 64*1024)
	}
	if _, err := s.active.file.Seek(s.active.size, io.SeekStart); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) createSegment(fileNumber uint32) (*segment, error) {
	path := segmentPath(s.dir, s.prefix, fileNumber)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logstore: create segment %s: %w", path, err)
	}
	return &segment{fileNumber: fileNumber, path: path, file: f, writer: bufio.NewWriterSize(f, 64*1024), lastOffset: noPrevOffset}, nil
}

// recoverTail scans a segment's entries from the start to find its size
// and the offset of its final entry (lastOffset), so appends and
// backward scans both have a correct starting point even for a segment
// that was never the active one this process opened.
func (seg *segment) recoverTail() error {
	seg.lastOffset = noPrevOffset
	var offset int64
	headerBuf := make([]byte, HeaderSize)
	for {
		if _, readErr := seg.file.ReadAt(headerBuf, offset); readErr != nil {
			break
		}
		var h entryHeader
		h.decode(headerBuf)
		if h.Magic != headerMagic {
			break
		}
		seg.lastOffset = offset
		offset += HeaderSize + int64(h.PayloadLen)
	}
	seg.size = offset
	return nil
}

// Append frames and writes one record, rotating to a new segment first
// if doing so would exceed maxSegmentSize. It returns the LSN the
// record now lives at. durableTxnVLSN is only meaningful for commit/
// abort entries (§4.4, §9 invariant (c)); pass vlsn.NULL for any other type.
func (s *Store) Append(v vlsn.VLSN, et vlsn.EntryType, durableTxnVLSN vlsn.VLSN, payload []byte) (vlsn.LSN, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active.size > 0 && s.active.size+HeaderSize+int64(len(payload)) > s.maxSegmentSize {
		if err := s.rotateLocked(); err != nil {
			return vlsn.NullLSN, err
		}
	}

	offset := s.active.size
	h := entryHeader{
		Magic:          headerMagic,
		Version:        headerVer,
		EntryType:      uint8(et),
		VLSN:           uint64(v),
		PrevOffset:     s.active.lastOffset,
		DurableTxnVLSN: uint64(durableTxnVLSN),
		PayloadLen:     uint32(len(payload)),
		CRC32:          calculateCRC32(payload),
	}
	var buf [HeaderSize]byte
	h.encode(buf[:])

	if _, err := s.active.writer.Write(buf[:]); err != nil {
		return vlsn.NullLSN, err
	}
	if len(payload) > 0 {
		if _, err := s.active.writer.Write(payload); err != nil {
			return vlsn.NullLSN, err
		}
	}

	s.active.lastOffset = offset
	s.active.size = offset + HeaderSize + int64(len(payload))
	return vlsn.MakeLSN(s.active.fileNumber, uint32(offset)), nil
}

func (s *Store) rotateLocked() error {
	if err := s.active.writer.Flush(); err != nil {
		return err
	}
	if err := s.active.file.Sync(); err != nil {
		return err
	}
	next, err := s.createSegment(s.active.fileNumber + 1)
	if err != nil {
		return err
	}
	s.segments = append(s.segments, next)
	s.active = next
	return nil
}

// Sync flushes and fsyncs the active segment.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.active.writer.Flush(); err != nil {
		return err
	}
	return s.active.file.Sync()
}

// Close flushes and closes every open segment file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, seg := range s.segments {
		if seg.file == nil {
			continue
		}
		if seg.writer != nil {
			if err := seg.writer.Flush(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := seg.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// FirstFile and LastFile report the segment number range currently on disk.
func (s *Store) FirstFile() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segments[0].fileNumber
}

func (s *Store) LastFile() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segments[len(s.segments)-1].fileNumber
}

// FileInfo reports the path and current size of segment fileNumber, for
// a feeder worker streaming a file dump to a connected peer (§4.10). The
// active segment's buffered writer is flushed first so size reflects
// everything durable so far.
func (s *Store) FileInfo(fileNumber uint32) (path string, size int64, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg := s.segmentFor(fileNumber)
	if seg == nil {
		return "", 0, false
	}
	if seg.writer != nil {
		_ = seg.writer.Flush()
	}
	return seg.path, seg.size, true
}

func (s *Store) segmentFor(fileNumber uint32) *segment {
	for _, seg := range s.segments {
		if seg.fileNumber == fileNumber {
			return seg
		}
	}
	return nil
}

// ReadAt decodes the single record at l.
func (s *Store) ReadAt(l vlsn.LSN) (Record, error) {
	s.mu.Lock()
	seg := s.segmentFor(l.File())
	s.mu.Unlock()
	if seg == nil {
		return Record{}, fmt.Errorf("logstore: file %d not present", l.File())
	}
	if seg.writer != nil {
		s.mu.Lock()
		_ = seg.writer.Flush()
		s.mu.Unlock()
	}
	return readRecordAt(seg.file, int64(l.Offset()), l)
}

func readRecordAt(f *os.File, offset int64, l vlsn.LSN) (Record, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBuf, offset); err != nil {
		return Record{}, fmt.Errorf("logstore: read header at %d: %w", offset, err)
	}
	var h entryHeader
	h.decode(headerBuf)
	if h.Magic != headerMagic {
		return Record{}, fmt.Errorf("logstore: bad magic at offset %d in file %d", offset, l.File())
	}
	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := f.ReadAt(payload, offset+HeaderSize); err != nil {
			return Record{}, fmt.Errorf("logstore: read payload at %d: %w", offset, err)
		}
	}
	if !validateCRC32(payload, h.CRC32) {
		return Record{}, fmt.Errorf("logstore: checksum mismatch at offset %d in file %d", offset, l.File())
	}
	return Record{
		VLSN:           vlsn.VLSN(h.VLSN),
		Type:           vlsn.EntryType(h.EntryType),
		Payload:        payload,
		LSN:            l,
		DurableTxnVLSN: vlsn.VLSN(h.DurableTxnVLSN),
	}, nil
}

// ScanForward decodes every record from `from` to end of log, in
// ascending LSN order, invoking fn for each. fn returning stop=true
// ends the scan early.
func (s *Store) ScanForward(from vlsn.LSN, fn func(Record) (stop bool, err error)) error {
	s.mu.Lock()
	segs := append([]*segment(nil), s.segments...)
	s.mu.Unlock()

	started := false
	for _, seg := range segs {
		if seg.fileNumber < from.File() {
			continue
		}
		if seg.writer != nil {
			s.mu.Lock()
			_ = seg.writer.Flush()
			s.mu.Unlock()
		}
		offset := int64(0)
		if !started && seg.fileNumber == from.File() {
			offset = int64(from.Offset())
		}
		started = true
		for offset < seg.size {
			rec, err := readRecordAt(seg.file, offset, vlsn.MakeLSN(seg.fileNumber, uint32(offset)))
			if err != nil {
				return err
			}
			stop, err := fn(rec)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
			offset += HeaderSize + int64(len(rec.Payload))
		}
	}
	return nil
}

// ScanBackward walks the log from `from` toward file 1 using each
// record's PrevOffset back-pointer, the chain matchpoint search needs
// to find where the local log diverges from a peer's (§4.9).
func (s *Store) ScanBackward(from vlsn.LSN, fn func(Record) (stop bool, err error)) error {
	s.mu.Lock()
	seg := s.segmentFor(from.File())
	s.mu.Unlock()
	if seg == nil {
		return fmt.Errorf("logstore: file %d not present", from.File())
	}
	if seg.writer != nil {
		s.mu.Lock()
		_ = seg.writer.Flush()
		s.mu.Unlock()
	}

	fileNumber := from.File()
	offset := int64(from.Offset())
	for {
		rec, err := readRecordAt(seg.file, offset, vlsn.MakeLSN(fileNumber, uint32(offset)))
		if err != nil {
			return err
		}
		stop, err := fn(rec)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}

		headerBuf := make([]byte, HeaderSize)
		if _, err := seg.file.ReadAt(headerBuf, offset); err != nil {
			return err
		}
		var h entryHeader
		h.decode(headerBuf)
		if h.PrevOffset == noPrevOffset {
			if fileNumber == s.FirstFile() {
				return nil
			}
			fileNumber--
			s.mu.Lock()
			seg = s.segmentFor(fileNumber)
			s.mu.Unlock()
			if seg == nil {
				return nil
			}
			if seg.writer != nil {
				s.mu.Lock()
				_ = seg.writer.Flush()
				s.mu.Unlock()
			}
			offset = seg.lastOffset
			if offset == noPrevOffset {
				return nil
			}
			continue
		}
		offset = h.PrevOffset
	}
}

// DeleteSegmentsBelow removes every fully-closed segment file whose
// number is strictly less than keepFrom. Callers must have already
// confirmed via pkg/fileprotect that no holder still needs them.
func (s *Store) DeleteSegmentsBelow(keepFrom uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.segments[:0:0]
	for _, seg := range s.segments {
		if seg.fileNumber >= keepFrom || seg == s.active {
			kept = append(kept, seg)
			continue
		}
		if seg.file != nil {
			seg.file.Close()
		}
		if err := os.Remove(seg.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("logstore: delete segment %s: %w", seg.path, err)
		}
	}
	s.segments = kept
	return nil
}
