package index

import (
	"net"

	"github.com/bobboyms/replindex/pkg/feeder"
)

// NewFeederManager wires a feeder.Manager (§4.10, C11) around this
// environment's log segments and file-protection registry, so accepted
// connections can request file dumps backed by the same lower bound the
// cleaner respects. The caller owns ln's lifetime: Serve blocks until
// Close is called on the returned Manager.
func (ix *Index) NewFeederManager(ln net.Listener) *feeder.Manager {
	return feeder.NewManager(ln, ix.protect, ix.log, ix.cfg, ix.metrics)
}
