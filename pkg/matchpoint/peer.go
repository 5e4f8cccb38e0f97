package matchpoint

import (
	"context"

	"github.com/bobboyms/replindex/pkg/vlsn"
)

// ReplyKind distinguishes the four shapes a peer may answer an
// EntryRequest with (§4.9 step 2, §6).
type ReplyKind uint8

const (
	ReplyFound ReplyKind = iota
	ReplyNotFound
	ReplyAlternate
	ReplyPing
)

// PeerReply is the decoded form of whatever the peer sent back, with
// the wire framing already stripped by the transport.
type PeerReply struct {
	Kind   ReplyKind
	Record WireRecord // valid when Kind is ReplyFound or ReplyAlternate
}

// Peer is the remote half of syncup: everything this package needs from
// the replication wire protocol, transport and handshake that spec.md
// §1 places out of scope. A real implementation frames requests with
// the Encode* functions in wire.go and decodes replies with Decode*; this interface lets
// Search stay transport-agnostic.
type Peer interface {
	// RequestEntry asks the peer for its record at v and returns its
	// decoded reply. SyncupPing replies must be absorbed and retried by
	// the implementation (§9: cooperative select against a keep-alive
	// timer), so Search never observes ReplyPing directly.
	RequestEntry(ctx context.Context, v vlsn.VLSN) (PeerReply, error)
}
