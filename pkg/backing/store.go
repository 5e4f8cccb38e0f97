// Package backing is the persistent side of the index (§4.7, C8): the
// durable mirror of the Tracker's bucket cache, keyed by VLSN in a
// github.com/cockroachdb/pebble LSM so random point/range lookups stay
// cheap even with millions of closed buckets. Key 0 holds the Range
// record; every other key is a bucket's (or ghost bucket's) firstVLSN,
// big-endian so pebble's natural key order is VLSN order. The stored
// value's leading tag byte (pkg/bucket's tagBucket/tagGhost) says which
// it is, so a single get resolves either kind.
package backing

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/bobboyms/replindex/pkg/bucket"
	"github.com/bobboyms/replindex/pkg/rlerrors"
	"github.com/bobboyms/replindex/pkg/tracker"
	"github.com/bobboyms/replindex/pkg/vlsn"
)

const rangeKeyVLSN vlsn.VLSN = 0

// Store is the durable backing store for one replindex environment.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if absent) a pebble store rooted at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("backing: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// OpenWith opens a pebble store with caller-supplied options — used by
// tests to pass an in-memory vfs.
func OpenWith(dir string, opts *pebble.Options) (*Store, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("backing: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func encodeKey(v vlsn.VLSN) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	return buf[:]
}

func decodeKey(k []byte) vlsn.VLSN {
	return vlsn.VLSN(binary.BigEndian.Uint64(k))
}

// WriteRange persists the environment's current Range record.
func (s *Store) WriteRange(r vlsn.Range) error {
	return s.db.Set(encodeKey(rangeKeyVLSN), encodeRange(r), pebble.Sync)
}

// ReadRange reads the persisted Range record, or (EmptyRange, false) if
// this is a freshly created environment.
func (s *Store) ReadRange() (vlsn.Range, bool, error) {
	data, closer, err := s.db.Get(encodeKey(rangeKeyVLSN))
	if err == pebble.ErrNotFound {
		return vlsn.EmptyRange, false, nil
	}
	if err != nil {
		return vlsn.EmptyRange, false, fmt.Errorf("backing: read range record: %w", err)
	}
	defer closer.Close()
	r, decErr := decodeRange(data)
	if decErr != nil {
		return vlsn.EmptyRange, false, &rlerrors.IntegrityError{Detail: decErr.Error()}
	}
	return r, true, nil
}

// PutBucket persists a closed bucket under its firstVLSN.
func (s *Store) PutBucket(b *bucket.Bucket) error {
	return s.db.Set(encodeKey(b.First), b.Encode(), pebble.NoSync)
}

// PutGhost persists a ghost bucket under its First.
func (s *Store) PutGhost(g *bucket.GhostBucket) error {
	return s.db.Set(encodeKey(g.First), g.Encode(), pebble.NoSync)
}

// DeleteBucket removes the record at first (used by pruning).
func (s *Store) DeleteBucket(first vlsn.VLSN) error {
	return s.db.Delete(encodeKey(first), pebble.NoSync)
}

// Flush durably persists a Tracker.FlushSnapshot: every bucket, every
// ghost, and the Range record, as one atomic batch (§4.3 flush).
func (s *Store) Flush(snap tracker.FlushSnapshot) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, b := range snap.Buckets {
		if err := batch.Set(encodeKey(b.First), b.Encode(), nil); err != nil {
			return err
		}
	}
	for _, g := range snap.Ghosts {
		if err := batch.Set(encodeKey(g.First), g.Encode(), nil); err != nil {
			return err
		}
	}
	if err := batch.Set(encodeKey(rangeKeyVLSN), encodeRange(snap.Range), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// Decoded is a resolved persisted record: exactly one of Bucket/Ghost is set.
type Decoded struct {
	Bucket *bucket.Bucket
	Ghost  *bucket.GhostBucket
}

func decodeValue(data []byte) (Decoded, error) {
	tag, err := bucket.Tag(data)
	if err != nil {
		return Decoded{}, err
	}
	if tag == bucket.TagGhost {
		g, err := bucket.DecodeGhost(data)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Ghost: g}, nil
	}
	b, err := bucket.Decode(data)
	if err != nil {
		return Decoded{}, err
	}
	return Decoded{Bucket: b}, nil
}

// GetLTE returns the persisted bucket/ghost with the greatest firstVLSN
// <= v, skipping the Range record at key 0.
func (s *Store) GetLTE(v vlsn.VLSN) (Decoded, bool, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return Decoded{}, false, err
	}
	defer it.Close()

	ok := it.SeekLT(encodeKey(v + 1))
	for ok && decodeKey(it.Key()) == rangeKeyVLSN {
		ok = it.Prev()
	}
	if !ok {
		return Decoded{}, false, nil
	}
	d, err := decodeValue(it.Value())
	if err != nil {
		return Decoded{}, false, &rlerrors.IntegrityError{Detail: err.Error()}
	}
	return d, true, nil
}

// GetGTE returns the persisted bucket/ghost with the least firstVLSN >= v.
func (s *Store) GetGTE(v vlsn.VLSN) (Decoded, bool, error) {
	if v == rangeKeyVLSN {
		v = rangeKeyVLSN + 1
	}
	it, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return Decoded{}, false, err
	}
	defer it.Close()

	ok := it.SeekGE(encodeKey(v))
	if !ok {
		return Decoded{}, false, nil
	}
	d, err := decodeValue(it.Value())
	if err != nil {
		return Decoded{}, false, &rlerrors.IntegrityError{Detail: err.Error()}
	}
	return d, true, nil
}

// PruneFromHead deletes every persisted bucket/ghost record whose first
// VLSN is at or below deleteEnd, including a record that extends past
// deleteEnd (§4.7).
func (s *Store) PruneFromHead(deleteEnd vlsn.VLSN) error {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: encodeKey(rangeKeyVLSN + 1),
		UpperBound: encodeKey(deleteEnd + 1),
	})
	if err != nil {
		return err
	}
	defer it.Close()

	batch := s.db.NewBatch()
	defer batch.Close()
	for ok := it.First(); ok; ok = it.Next() {
		if err := batch.Delete(it.Key(), nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// PruneFromTail deletes every persisted bucket/ghost record whose
// firstVLSN is at or past deleteStart (§4.7).
func (s *Store) PruneFromTail(deleteStart vlsn.VLSN) error {
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: encodeKey(deleteStart)})
	if err != nil {
		return err
	}
	defer it.Close()

	batch := s.db.NewBatch()
	defer batch.Close()
	for ok := it.First(); ok; ok = it.Next() {
		if err := batch.Delete(it.Key(), nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}
