package feeder

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/DataDog/zstd"
	"github.com/bobboyms/replindex/pkg/config"
	"github.com/bobboyms/replindex/pkg/fileprotect"
	"github.com/bobboyms/replindex/pkg/metrics"
	"github.com/google/uuid"
)

// maxChunkBytes bounds a single FileChunk frame so one segment's worth
// of compressed bytes doesn't have to be buffered as one giant write.
const maxChunkBytes = 256 * 1024

// FileProvider is everything the feeder needs from the log manager
// (spec.md §1's "physical log manager" collaborator): where a numbered
// segment lives on disk and how big it currently is. pkg/logstore.Store
// satisfies this directly.
type FileProvider interface {
	FileInfo(fileNumber uint32) (path string, size int64, found bool)
}

// Protector is everything the feeder needs from the file-protection
// bridge (§4.8, C10): claim a lower bound against deletion.
// pkg/fileprotect.Registry satisfies this directly.
type Protector interface {
	Protect(file uint32) *fileprotect.Handle
}

// Manager accepts feeder connections and hands each one to a worker
// that streams the requested segment files, the same accept-loop-plus-
// goroutine-per-connection shape as a plain net.Listener server (§4.10,
// §9: "model as a single task per connection").
type Manager struct {
	ln        net.Listener
	protector Protector
	files     FileProvider
	checksums *checksumCache
	leases    *leaseRegistry
	cfg       config.Config
	metrics   *metrics.Metrics

	wg      sync.WaitGroup
	closing chan struct{}
}

// NewManager wires a Manager around an already-listening net.Listener.
// m may be nil to disable instrumentation.
func NewManager(ln net.Listener, protector Protector, files FileProvider, cfg config.Config, m *metrics.Metrics) *Manager {
	return &Manager{
		ln:        ln,
		protector: protector,
		files:     files,
		checksums: newChecksumCache(),
		leases:    newLeaseRegistry(),
		cfg:       cfg,
		metrics:   m,
		closing:   make(chan struct{}),
	}
}

// Serve accepts connections until Close is called, dispatching each to
// its own worker goroutine. It returns nil on a clean shutdown.
func (mgr *Manager) Serve() error {
	for {
		conn, err := mgr.ln.Accept()
		if err != nil {
			select {
			case <-mgr.closing:
				return nil
			default:
				return err
			}
		}
		mgr.wg.Add(1)
		go func() {
			defer mgr.wg.Done()
			mgr.handle(conn)
		}()
	}
}

// Close stops accepting new connections, waits for in-flight workers to
// finish, and releases every outstanding lease.
func (mgr *Manager) Close() error {
	close(mgr.closing)
	err := mgr.ln.Close()
	mgr.wg.Wait()
	mgr.leases.closeAll()
	return err
}

// InvalidateFile drops any cached checksum for fileNumber, called once
// a file may have been rewritten (§4.10).
func (mgr *Manager) InvalidateFile(fileNumber uint32) { mgr.checksums.Invalidate(fileNumber) }

// LeaseCount reports the number of backup handles currently held open
// for disconnected clients.
func (mgr *Manager) LeaseCount() int { return mgr.leases.Count() }

func (mgr *Manager) handle(conn net.Conn) {
	defer conn.Close()
	if mgr.metrics != nil {
		mgr.metrics.FeederConnections.Inc()
		defer mgr.metrics.FeederConnections.Dec()
	}

	hdr, body, err := readMessage(conn)
	if err != nil || hdr.op != opHello {
		return
	}
	clientID, files, err := decodeHello(body)
	if err != nil || len(files) == 0 {
		return
	}

	sc := &safeConn{conn: conn}

	handle, reused := mgr.leases.Take(clientID)
	if !reused {
		lowest := files[0]
		for _, f := range files[1:] {
			if f < lowest {
				lowest = f
			}
		}
		handle = mgr.protector.Protect(lowest)
	}

	stopPing := mgr.startKeepAlive(sc)
	defer stopPing()

	w := worker{mgr: mgr}
	streamErr := error(nil)
	for _, f := range files {
		if streamErr = w.streamFile(sc, f); streamErr != nil {
			break
		}
	}
	if streamErr == nil {
		sc.Write(encodeAllDone())
	}

	// Whether the request finished cleanly or the connection dropped
	// mid-stream, keep the backup alive under a lease rather than
	// releasing it immediately: the client may reconnect to finish or
	// to request more files, and re-deriving the same protected range
	// from scratch costs a fresh Protect call the cleaner would have to
	// interleave with (§4.10).
	mgr.leases.Grant(clientID, handle, mgr.cfg.LeaseDuration)
	if mgr.metrics != nil {
		mgr.metrics.FeederLeasesActive.Set(float64(mgr.leases.Count()))
	}
}

// startKeepAlive pings the connection every quarter lease-duration so a
// client blocked waiting on a large transfer can distinguish a slow
// stream from a dead one (§9: "async keep-alive interleaved with
// blocking I/O ... model as ... cooperative select between the request
// channel and a periodic ping timer"). The returned stop func must be
// called once the connection's work is done.
func (mgr *Manager) startKeepAlive(sc *safeConn) (stop func()) {
	interval := mgr.cfg.LeaseDuration / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if _, err := sc.Write(encodePing()); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}

// safeConn serializes writes to a net.Conn shared between a worker's
// file-streaming writes and the keep-alive goroutine's pings.
type safeConn struct {
	mu   sync.Mutex
	conn net.Conn
}

func (sc *safeConn) Write(b []byte) (int, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.conn.Write(b)
}

func (sc *safeConn) Read(b []byte) (int, error) { return sc.conn.Read(b) }

// worker streams the files one feeder connection asked for.
type worker struct {
	mgr *Manager
}

func (w *worker) streamFile(sc *safeConn, fileNumber uint32) error {
	path, size, found := w.mgr.files.FileInfo(fileNumber)
	if !found {
		_, err := sc.Write(encodeFileNotFound(fileNumber))
		return err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("feeder: read file %d: %w", fileNumber, err)
	}
	sum := w.mgr.checksums.Get(fileNumber, raw)

	compressed, err := zstd.CompressLevel(nil, raw, zstd.DefaultCompression)
	if err != nil {
		return fmt.Errorf("feeder: compress file %d: %w", fileNumber, err)
	}

	if _, err := sc.Write(encodeFileHeader(fileHeaderMsg{
		fileNumber:       fileNumber,
		uncompressedSize: size,
		checksum:         sum,
		compressedSize:   int64(len(compressed)),
	})); err != nil {
		return err
	}

	for off := 0; off < len(compressed); off += maxChunkBytes {
		end := off + maxChunkBytes
		if end > len(compressed) {
			end = len(compressed)
		}
		if _, err := sc.Write(encodeFileChunk(fileNumber, compressed[off:end])); err != nil {
			return err
		}
	}
	if w.mgr.metrics != nil {
		w.mgr.metrics.FeederBytesStreamed.Add(float64(len(compressed)))
	}

	_, err = sc.Write(encodeFileDone(fileNumber))
	return err
}

func readMessage(r io.Reader) (header, []byte, error) {
	hdrBuf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		return header{}, nil, err
	}
	hdr, err := decodeHeader(hdrBuf)
	if err != nil {
		return header{}, nil, err
	}
	if hdr.bodySize == 0 {
		return hdr, nil, nil
	}
	body := make([]byte, hdr.bodySize)
	if _, err := io.ReadFull(r, body); err != nil {
		return header{}, nil, err
	}
	return hdr, body, nil
}
