// Package index is the public facade (§4.4, C7) that ties the Tracker
// (pkg/tracker), the segmented log (pkg/logstore), the durable mirror
// (pkg/backing) and file protection (pkg/fileprotect) together into the
// single entry point an environment's callers use: Put, WaitForVLSN,
// GetLTELsn/GetGTELsn/GetLsn, Flush, TruncateFromHead/TruncateFromTail.
package index

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bobboyms/replindex/pkg/backing"
	"github.com/bobboyms/replindex/pkg/bucket"
	"github.com/bobboyms/replindex/pkg/config"
	"github.com/bobboyms/replindex/pkg/fileprotect"
	"github.com/bobboyms/replindex/pkg/logstore"
	"github.com/bobboyms/replindex/pkg/metrics"
	"github.com/bobboyms/replindex/pkg/rlerrors"
	"github.com/bobboyms/replindex/pkg/tracker"
	"github.com/bobboyms/replindex/pkg/vlsn"
)

// Index is one open replication log index environment.
type Index struct {
	cfg config.Config

	mu      sync.Mutex // indexMutex (§5): guards truncation/flush orchestration
	closed  bool
	isMaster bool

	log     *logstore.Store
	db      *backing.Store
	tr      *tracker.Tracker
	protect *fileprotect.Registry
	alloc   *Allocator
	cache   *tracker.LogItemCache
	metrics *metrics.Metrics
	reporter rlerrors.Reporter

	latch    atomic.Pointer[tracker.AwaitLatch]
	invalid  atomic.Pointer[error]

	// logWriteMu is the log write latch of §5: assignVlsnForLog holds it
	// across allocation, sequencing validation and durable-txn stamping,
	// entirely independent of indexMutex (mu above) so append ordering
	// never contends with truncation/flush orchestration. The fields
	// below are only ever touched under it.
	logWriteMu         sync.Mutex
	prevLoggedVlsn     vlsn.VLSN
	lastCommitVlsn     vlsn.VLSN
	lastCommitTerm     uint64
	lastStampedDurable vlsn.VLSN

	// term and durableTxnVLSN are the master's current leadership term
	// and the greatest VLSN a durability-forming quorum has acknowledged
	// (§9 invariants (c),(d)), set by SetTerm/SetDurableTxnVLSN and read
	// by assignVlsnForLog on every commit/abort append.
	term           atomic.Uint64
	durableTxnVLSN atomic.Uint64
}

// SetMetrics attaches an instrument set later operations report
// through. Safe to call once, before the environment is shared across
// goroutines; nil (the default) disables reporting.
func (ix *Index) SetMetrics(m *metrics.Metrics) { ix.metrics = m }

// SetReporter attaches the sink InvariantViolation/IntegrityError
// causes are reported through once they invalidate the environment
// (§7). nil (the default) means rlerrors.NoopReporter.
func (ix *Index) SetReporter(r rlerrors.Reporter) { ix.reporter = r }

// invalidate latches cause as the environment's permanent failure
// reason — every later operation fails fast with it (§7: "on
// environment invalidation, every subsequent operation on the index
// fails fast with the saved cause") — and reports it once.
func (ix *Index) invalidate(cause error) error {
	if ix.invalid.CompareAndSwap(nil, &cause) {
		if ix.reporter != nil {
			ix.reporter.Report(cause)
		}
	}
	return cause
}

// checkInvalid returns the latched invalidation cause, if any.
func (ix *Index) checkInvalid() error {
	if p := ix.invalid.Load(); p != nil {
		return *p
	}
	return nil
}

func (ix *Index) reportRange() {
	if ix.metrics == nil {
		return
	}
	rng := ix.tr.Range()
	ix.metrics.RangeFirst.Set(float64(rng.First))
	ix.metrics.RangeLast.Set(float64(rng.Last))
}

// Open opens (or creates) an environment rooted at dir. master controls
// whether this node may allocate new VLSNs (Put) or only accepts
// already-stamped ones from a replication stream (PutAt).
func Open(dir string, cfg config.Config, master bool) (*Index, error) {
	log, err := logstore.Open(filepath.Join(dir, "log"), "idx", 64<<20)
	if err != nil {
		return nil, fmt.Errorf("index: open log store: %w", err)
	}
	db, err := backing.Open(filepath.Join(dir, "db"))
	if err != nil {
		return nil, fmt.Errorf("index: open backing store: %w", err)
	}

	rng, _, err := db.ReadRange()
	if err != nil {
		return nil, err
	}

	ix := &Index{
		cfg:      cfg,
		isMaster: master,
		log:      log,
		db:       db,
		tr:       tracker.New(cfg, rng),
		protect:  fileprotect.NewRegistry(),
		cache:    tracker.NewLogItemCache(cfg.LogCacheSize),
	}
	if master {
		ix.alloc = NewAllocator(rng.Last)
	}

	if err := ix.recover(); err != nil {
		return nil, err
	}
	if master {
		ix.alloc.Set(ix.tr.Range().Last)
	}

	// durableTxnVLSN starts Uninitialized, the sentinel for a durable-txn
	// VLSN that no quorum ack has set yet; commit/abort entries appended
	// before the first SetDurableTxnVLSN are stamped with it. Like NULL it
	// is a sentinel, so the regression checks skip it until a real value
	// arrives. prevLoggedVlsn/lastCommitVlsn recover
	// cleanly from the post-recovery Range since Range.Advance already
	// tracks them accurately; lastStampedDurable and lastCommitTerm
	// cannot be reconstructed from the in-memory cache after a crash (the
	// bucket that held the last commit's durable-txn VLSN may already
	// have been pruned) and are left at their zero values — a documented
	// relaxation relied on a fresh SetDurableTxnVLSN/SetTerm call from
	// the quorum-ack collaborator after reopening.
	ix.durableTxnVLSN.Store(uint64(vlsn.Uninitialized))
	final := ix.tr.Range()
	ix.prevLoggedVlsn = final.Last
	ix.lastCommitVlsn = final.LastTxnEnd

	return ix, nil
}

// recover replays every logstore record past the persisted Range into
// a scratch Tracker and appends it on top of the durable state (§4.8
// merge-on-recovery, simplified to the no-overlap append path: a crash
// only ever leaves unflushed records strictly above Range.Last).
func (ix *Index) recover() error {
	base := ix.tr.Range()
	recovered := tracker.New(ix.cfg, vlsn.EmptyRange)

	start := vlsn.MakeLSN(ix.log.FirstFile(), 0)
	err := ix.log.ScanForward(start, func(rec logstore.Record) (bool, error) {
		if !base.IsEmpty() && rec.VLSN <= base.Last {
			return false, nil
		}
		if trackErr := recovered.Track(rec.VLSN, rec.LSN, rec.Type); trackErr != nil {
			return true, trackErr
		}
		return false, nil
	})
	if err != nil {
		return fmt.Errorf("index: recovery scan: %w", err)
	}
	if recovered.Range().IsEmpty() {
		return nil
	}
	return ix.tr.Append(recovered)
}

// Put allocates the next VLSN, appends the record, and tracks it.
// Only valid on the master; a replica must use PutAt with VLSNs it
// receives from the feed.
func (ix *Index) Put(et vlsn.EntryType, payload []byte) (vlsn.VLSN, error) {
	if err := ix.checkInvalid(); err != nil {
		return vlsn.NULL, err
	}
	if ix.alloc == nil {
		return vlsn.NULL, &rlerrors.NotMaster{Op: "Put"}
	}
	v, durableTxnVLSN, err := ix.assignVlsnForLog(et)
	if err != nil {
		if _, ok := err.(*rlerrors.InvariantViolation); ok {
			return vlsn.NULL, ix.invalidate(err)
		}
		return vlsn.NULL, err
	}
	if err := ix.appendAndTrack(v, et, durableTxnVLSN, payload); err != nil {
		return vlsn.NULL, err
	}
	return v, nil
}

// PutAt tracks a record already stamped with v and durableTxnVLSN, e.g.
// one received from a master's replication stream. The §9 sequencing
// invariants are master-only (the master is the sole allocator, so only
// it can violate them); a replica trusts the VLSN and durable-txn VLSN
// the feed already validated.
func (ix *Index) PutAt(v vlsn.VLSN, et vlsn.EntryType, durableTxnVLSN vlsn.VLSN, payload []byte) error {
	if err := ix.checkInvalid(); err != nil {
		return err
	}
	return ix.appendAndTrack(v, et, durableTxnVLSN, payload)
}

// assignVlsnForLog allocates the next VLSN and validates it against the
// §9 per-append sequencing invariants, entirely under logWriteMu (§4.4,
// §5's log write latch): (a) the new VLSN must extend the log
// contiguously; on a commit/abort entry, (b) its VLSN must strictly
// exceed the previous commit/abort's, (c) the durable-txn VLSN it is
// stamped with must not regress versus the previous stamp, and (d) the
// environment's leadership term must not regress versus the previous
// commit/abort's. Any violation invalidates the environment (§9, I5) —
// the caller is expected to feed the returned error through invalidate.
func (ix *Index) assignVlsnForLog(et vlsn.EntryType) (vlsn.VLSN, vlsn.VLSN, error) {
	ix.logWriteMu.Lock()
	defer ix.logWriteMu.Unlock()

	v := ix.alloc.Next()

	if !ix.prevLoggedVlsn.IsNull() && v != ix.prevLoggedVlsn.Next() {
		return vlsn.NULL, vlsn.NULL, &rlerrors.InvariantViolation{
			Detail: fmt.Sprintf("vlsn %s does not contiguously extend prior logged vlsn %s", v, ix.prevLoggedVlsn),
		}
	}

	stampedDurable := vlsn.NULL
	if et.IsTxnEnd() {
		if !ix.lastCommitVlsn.IsNull() && v <= ix.lastCommitVlsn {
			return vlsn.NULL, vlsn.NULL, &rlerrors.InvariantViolation{
				Detail: fmt.Sprintf("commit/abort vlsn %s does not strictly exceed prior %s", v, ix.lastCommitVlsn),
			}
		}

		curTerm := ix.term.Load()
		if curTerm < ix.lastCommitTerm {
			return vlsn.NULL, vlsn.NULL, &rlerrors.InvariantViolation{
				Detail: fmt.Sprintf("leadership term %d regressed below prior commit's %d", curTerm, ix.lastCommitTerm),
			}
		}

		curDurable := vlsn.VLSN(ix.durableTxnVLSN.Load())
		if !curDurable.IsSentinel() && !ix.lastStampedDurable.IsSentinel() && curDurable < ix.lastStampedDurable {
			return vlsn.NULL, vlsn.NULL, &rlerrors.InvariantViolation{
				Detail: fmt.Sprintf("durable-txn vlsn %s regressed below prior stamp %s", curDurable, ix.lastStampedDurable),
			}
		}

		stampedDurable = curDurable
		ix.lastCommitVlsn = v
		ix.lastCommitTerm = curTerm
		ix.lastStampedDurable = stampedDurable
	}

	ix.prevLoggedVlsn = v
	return v, stampedDurable, nil
}

// SetTerm records the environment's current leadership term, read by
// assignVlsnForLog to enforce §9 invariant (d) on the next commit/abort
// append. Rejects a term lower than one already recorded.
func (ix *Index) SetTerm(term uint64) error {
	for {
		cur := ix.term.Load()
		if term < cur {
			return &rlerrors.InvariantViolation{Detail: fmt.Sprintf("leadership term %d regressed below current %d", term, cur)}
		}
		if ix.term.CompareAndSwap(cur, term) {
			return nil
		}
	}
}

// SetDurableTxnVLSN records the greatest VLSN a durability-forming
// quorum has acknowledged, stamped onto the next commit/abort entry by
// assignVlsnForLog (§9 invariant (c)). Rejects a regression once a
// concrete value has already been recorded.
func (ix *Index) SetDurableTxnVLSN(v vlsn.VLSN) error {
	for {
		cur := vlsn.VLSN(ix.durableTxnVLSN.Load())
		if !cur.IsSentinel() && !v.IsSentinel() && v < cur {
			return &rlerrors.InvariantViolation{Detail: fmt.Sprintf("durable-txn vlsn %s regressed below current %s", v, cur)}
		}
		if ix.durableTxnVLSN.CompareAndSwap(uint64(cur), uint64(v)) {
			return nil
		}
	}
}

func (ix *Index) appendAndTrack(v vlsn.VLSN, et vlsn.EntryType, durableTxnVLSN vlsn.VLSN, payload []byte) error {
	l, err := ix.log.Append(v, et, durableTxnVLSN, payload)
	if err != nil {
		return err
	}
	if err := ix.tr.Track(v, l, et); err != nil {
		if _, ok := err.(*rlerrors.InvariantViolation); ok {
			return ix.invalidate(err)
		}
		return err
	}
	ix.cache.Put(v, payload)
	ix.reportRange()
	return nil
}

// Range returns the environment's current [First, Last] coverage.
func (ix *Index) Range() vlsn.Range { return ix.tr.Range() }

// IsMaster reports whether this environment may allocate new VLSNs.
func (ix *Index) IsMaster() bool { return ix.isMaster }

// latchDone reports whether l has already fired, via a non-blocking
// receive on its Done channel.
func latchDone(l *tracker.AwaitLatch) bool {
	select {
	case <-l.Done():
		return true
	default:
		return false
	}
}

// WaitForVLSN blocks until target has been tracked or ctx is done
// (§4.5). Only one outstanding wait is permitted at a time (§4.4 step
// 3): if a still-pending latch exists for a different target, the call
// fails fast with InvariantViolation rather than silently orphaning the
// earlier waiter, who would otherwise block until their own ctx expires
// since Track only ever signals the newest latch.
func (ix *Index) WaitForVLSN(ctx context.Context, target vlsn.VLSN) error {
	if err := ix.checkInvalid(); err != nil {
		return err
	}
	if ix.tr.Range().Last >= target {
		return nil
	}

	ix.mu.Lock()
	if existing := ix.latch.Load(); existing != nil && existing.Target != target && !latchDone(existing) {
		ix.mu.Unlock()
		return &rlerrors.InvariantViolation{Detail: "only one outstanding wait VLSN is permitted"}
	}

	start := time.Now()
	l := tracker.NewAwaitLatch(target)
	ix.latch.Store(l)
	ix.tr.SetLatch(l)
	ix.mu.Unlock()

	if ix.tr.Range().Last >= target {
		l.CountDown(target)
	}

	select {
	case <-l.Done():
		if ix.metrics != nil {
			ix.metrics.WaitForVLSNLatency.Observe(time.Since(start).Seconds())
		}
		if l.Poisoned() {
			return &rlerrors.Poisoned{}
		}
		return nil
	case <-ctx.Done():
		if ix.metrics != nil {
			ix.metrics.WaitForVLSNLatency.Observe(time.Since(start).Seconds())
			ix.metrics.WaitForVLSNTimeouts.Inc()
		}
		return &rlerrors.Timeout{Target: target.String()}
	}
}

// AwaitConsistency blocks until every VLSN the allocator had already
// handed out as of this call is durably tracked (§4.4 awaitConsistency):
// it repeatedly waits for the checkpoint goal — a snapshot of the
// allocator taken once at entry — via WaitForVLSN, and if the allocator
// itself regresses in the meantime (e.g. a concurrent hard recovery
// rolls its tail back), shrinks the goal to the new, reachable value
// instead of blocking on a target that can no longer arrive. Only valid
// on the master, which is the only side with an allocator to snapshot.
func (ix *Index) AwaitConsistency(ctx context.Context) error {
	if err := ix.checkInvalid(); err != nil {
		return err
	}
	if ix.alloc == nil {
		return &rlerrors.NotMaster{Op: "AwaitConsistency"}
	}

	goal := ix.alloc.Current()
	for {
		if goal.IsNull() || ix.tr.Range().Last >= goal {
			return nil
		}

		waitCtx := ctx
		var cancel context.CancelFunc
		if ix.cfg.WaitConsistencyTimeout > 0 {
			waitCtx, cancel = context.WithTimeout(ctx, ix.cfg.WaitConsistencyTimeout)
		}
		err := ix.WaitForVLSN(waitCtx, goal)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			continue
		}

		if _, ok := err.(*rlerrors.Timeout); ok {
			if ctx.Err() != nil {
				return err
			}
			if cur := ix.alloc.Current(); cur < goal {
				goal = cur
			}
			continue
		}
		return err
	}
}

// GetLsn resolves the exact retained LSN for v, checking the in-memory
// bucket cache first, then the backing store.
func (ix *Index) GetLsn(v vlsn.VLSN) (vlsn.LSN, bool) {
	if look := ix.tr.GetGTEBucket(v); look.Bucket != nil {
		if l := look.Bucket.GetLsn(v); !l.IsNull() {
			return l, true
		}
	}
	d, found, err := ix.db.GetLTE(v)
	if err != nil {
		ix.invalidateIfIntegrity(err)
		return vlsn.NullLSN, false
	}
	if found && d.Bucket != nil {
		if l := d.Bucket.GetLsn(v); !l.IsNull() {
			return l, true
		}
	}
	return vlsn.NullLSN, false
}

// GetGTELsn returns the least retained LSN whose VLSN >= v.
func (ix *Index) GetGTELsn(v vlsn.VLSN) (vlsn.LSN, error) {
	if look := ix.tr.GetGTEBucket(v); look.Found() {
		if look.Bucket != nil {
			return look.Bucket.GetGTELsn(v), nil
		}
		return look.Ghost.BoundingLsn, nil
	}
	d, found, err := ix.db.GetGTE(v)
	if err != nil {
		return vlsn.NullLSN, ix.invalidateIfIntegrity(err)
	}
	if !found {
		return vlsn.NullLSN, nil
	}
	if d.Bucket != nil {
		return d.Bucket.GetGTELsn(v), nil
	}
	return d.Ghost.BoundingLsn, nil
}

// GetLTELsn returns the greatest retained LSN whose VLSN <= v.
func (ix *Index) GetLTELsn(v vlsn.VLSN) (vlsn.LSN, error) {
	if look := ix.tr.GetLTEBucket(v); look.Found() {
		if look.Bucket != nil {
			return look.Bucket.GetLTELsn(v), nil
		}
		return look.Ghost.CoveringLsn, nil
	}
	d, found, err := ix.db.GetLTE(v)
	if err != nil {
		return vlsn.NullLSN, ix.invalidateIfIntegrity(err)
	}
	if !found {
		return vlsn.NullLSN, nil
	}
	if d.Bucket != nil {
		return d.Bucket.GetLTELsn(v), nil
	}
	return d.Ghost.CoveringLsn, nil
}

// invalidateIfIntegrity latches err as the environment's invalidation
// cause when it is an IntegrityError (§7: on-disk data failing
// deserialization or the strict-ordering/overlap checks invalidates the
// environment), otherwise returns it unchanged.
func (ix *Index) invalidateIfIntegrity(err error) error {
	if _, ok := err.(*rlerrors.IntegrityError); ok {
		return ix.invalidate(err)
	}
	return err
}

// Flush closes the current bucket and durably persists every cached
// bucket/ghost plus the Range record, without blocking concurrent Puts
// against the freshly opened current bucket (§4.3).
func (ix *Index) Flush() error {
	if err := ix.checkInvalid(); err != nil {
		return err
	}
	ix.mu.Lock()
	snap := ix.tr.PrepareFlush()
	ix.mu.Unlock()

	if err := ix.db.Flush(snap); err != nil {
		return fmt.Errorf("index: flush: %w", err)
	}
	ix.tr.CommitFlush(snap.Range.Last)
	return nil
}

// TruncateFromHead discards coverage at and below deleteEnd, once the
// corresponding log files through deleteThroughFile have been (or are
// about to be) deleted, installing a GhostBucket to bridge any gap this
// leaves in the cache (§4.7). It enforces the §4.3 precondition
// `deleteEnd < max(lastSync, last - MinIndexSize)`: truncating past that
// bound would discard the last syncable entry a matchpoint search might
// need, or shrink the index below its configured floor.
func (ix *Index) TruncateFromHead(deleteEnd vlsn.VLSN, deleteThroughFile uint32) error {
	if err := ix.checkInvalid(); err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if !ix.protect.MayDelete(deleteThroughFile) {
		return fmt.Errorf("index: file %d is still protected", deleteThroughFile)
	}

	if !ix.tr.TruncateFromHead(deleteEnd) {
		return &rlerrors.InvariantViolation{
			Detail: fmt.Sprintf("truncateFromHead(%s) violates lastSync/MinIndexSize precondition", deleteEnd),
		}
	}
	if err := ix.db.PruneFromHead(deleteEnd); err != nil {
		return err
	}
	if ix.tr.NeedsHeadGhost(deleteEnd) {
		g := &bucket.GhostBucket{
			First:       deleteEnd.Next(),
			CoveringLsn: vlsn.MakeLSN(deleteThroughFile, 0),
			BoundingLsn: vlsn.MakeLSN(deleteThroughFile+1, 0),
		}
		ix.tr.InsertHeadGhost(g)
		if err := ix.db.PutGhost(g); err != nil {
			return err
		}
	}
	if err := ix.log.DeleteSegmentsBelow(deleteThroughFile + 1); err != nil {
		return err
	}
	if err := ix.db.WriteRange(ix.tr.Range()); err != nil {
		return err
	}
	if ix.metrics != nil {
		ix.metrics.TruncationsTotal.WithLabelValues("head").Inc()
	}
	ix.reportRange()
	return nil
}

// TruncateFromTail discards coverage at and above deleteStart, e.g.
// after hard recovery rolls back uncommitted tail records (§4.7, §4.9).
func (ix *Index) TruncateFromTail(deleteStart vlsn.VLSN, cappingLsn vlsn.LSN) error {
	if err := ix.checkInvalid(); err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.tr.TruncateFromTail(deleteStart, cappingLsn)
	ix.cache.Clear(func(v vlsn.VLSN) bool { return v >= deleteStart })
	if err := ix.db.PruneFromTail(deleteStart); err != nil {
		return err
	}
	if err := ix.db.WriteRange(ix.tr.Range()); err != nil {
		return err
	}
	if ix.metrics != nil {
		ix.metrics.TruncationsTotal.WithLabelValues("tail").Inc()
	}
	ix.reportRange()
	return nil
}

// ProtectFile claims file (and everything after it) against deletion
// until the returned handle is released — used by matchpoint search and
// feeder backup streaming (§4.10).
func (ix *Index) ProtectFile(file uint32) *fileprotect.Handle {
	return ix.protect.Protect(file)
}

// Close terminates any waiter and closes the log and backing store. It
// does not flush the tracker's cache to the backing store; mappings not
// yet written by Flush are rebuilt from the log on the next Open.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil
	}
	ix.closed = true

	if l := ix.latch.Load(); l != nil {
		l.Terminate()
	}

	var firstErr error
	if err := ix.log.Close(); err != nil {
		firstErr = err
	}
	if err := ix.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
