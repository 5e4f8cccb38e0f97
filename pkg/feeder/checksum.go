package feeder

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// checksumCache memoizes fileNumber -> content checksum so a
// reconnecting client does not pay for recomputing a hash over a file
// it has already verified (§4.10: "the manager memoizes (fileName ->
// checksum) ... entries are invalidated when the file may have been
// rewritten"). xxhash is already in this tree's dependency closure via
// pebble's own hash table implementation.
type checksumCache struct {
	mu      sync.Mutex
	entries map[uint32]uint64
}

func newChecksumCache() *checksumCache {
	return &checksumCache{entries: make(map[uint32]uint64)}
}

// Get returns the cached checksum for fileNumber, computing and storing
// it first if absent.
func (c *checksumCache) Get(fileNumber uint32, content []byte) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sum, ok := c.entries[fileNumber]; ok {
		return sum
	}
	sum := xxhash.Sum64(content)
	c.entries[fileNumber] = sum
	return sum
}

// Invalidate drops any cached checksum for fileNumber — called once a
// file may have been rewritten (e.g. after segment rotation recycles a
// file number, which pkg/logstore never does, but a future compaction
// pass might).
func (c *checksumCache) Invalidate(fileNumber uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, fileNumber)
}
