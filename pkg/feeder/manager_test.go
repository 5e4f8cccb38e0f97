package feeder

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bobboyms/replindex/pkg/config"
	"github.com/bobboyms/replindex/pkg/fileprotect"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeFiles struct {
	dir string
}

func (f *fakeFiles) FileInfo(fileNumber uint32) (string, int64, bool) {
	path := filepath.Join(f.dir, fileNameFor(fileNumber))
	fi, err := os.Stat(path)
	if err != nil {
		return "", 0, false
	}
	return path, fi.Size(), true
}

func fileNameFor(n uint32) string {
	switch n {
	case 1:
		return "seg1.log"
	case 2:
		return "seg2.log"
	default:
		return "missing.log"
	}
}

func newTestManager(t *testing.T) (*Manager, net.Listener, *fakeFiles) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seg1.log"), []byte("hello replication world, this is segment one"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seg2.log"), []byte("segment two contents"), 0o644))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.LeaseDuration = 100 * time.Millisecond

	mgr := NewManager(ln, fileprotect.NewRegistry(), &fakeFiles{dir: dir}, cfg, nil)
	go mgr.Serve()
	return mgr, ln, &fakeFiles{dir: dir}
}

func TestFetchFilesStreamsAndDecompresses(t *testing.T) {
	mgr, ln, _ := newTestManager(t)
	defer mgr.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	clientID := uuid.New()
	results, err := FetchFiles(conn, clientID, []uint32{1, 2})
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Equal(t, uint32(1), results[0].FileNumber)
	require.Equal(t, "hello replication world, this is segment one", string(results[0].Content))
	require.False(t, results[0].NotFound)

	require.Equal(t, uint32(2), results[1].FileNumber)
	require.Equal(t, "segment two contents", string(results[1].Content))
}

func TestFetchFilesReportsNotFound(t *testing.T) {
	mgr, ln, _ := newTestManager(t)
	defer mgr.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	results, err := FetchFiles(conn, uuid.New(), []uint32{99})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].NotFound)
	require.Equal(t, uint32(99), results[0].FileNumber)
}

func TestManagerGrantsLeaseAfterDisconnect(t *testing.T) {
	mgr, ln, _ := newTestManager(t)
	defer mgr.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	clientID := uuid.New()
	_, err = FetchFiles(conn, clientID, []uint32{1})
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool { return mgr.LeaseCount() == 1 }, time.Second, 10*time.Millisecond)

	// The lease expires on its own after cfg.LeaseDuration, releasing
	// the backup handle it held.
	require.Eventually(t, func() bool { return mgr.LeaseCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestManagerReusesLeaseOnReconnect(t *testing.T) {
	mgr, ln, _ := newTestManager(t)
	defer mgr.Close()

	clientID := uuid.New()

	conn1, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	_, err = FetchFiles(conn1, clientID, []uint32{1})
	require.NoError(t, err)
	conn1.Close()

	require.Eventually(t, func() bool { return mgr.LeaseCount() == 1 }, time.Second, 10*time.Millisecond)

	conn2, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn2.Close()
	_, err = FetchFiles(conn2, clientID, []uint32{2})
	require.NoError(t, err)

	// Reconnecting under the same client id should take the existing
	// lease rather than leaving two outstanding.
	require.Eventually(t, func() bool { return mgr.LeaseCount() == 1 }, time.Second, 10*time.Millisecond)
}
