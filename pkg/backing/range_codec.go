package backing

import (
	"encoding/binary"
	"fmt"

	"github.com/bobboyms/replindex/pkg/vlsn"
)

// encodeRange/decodeRange fix the Range record's on-disk layout (§6):
// four big-endian VLSNs, First/Last/LastSync/LastTxnEnd in that order.
func encodeRange(r vlsn.Range) []byte {
	buf := make([]byte, 32)
	binary.BigEndian.PutUint64(buf[0:8], uint64(r.First))
	binary.BigEndian.PutUint64(buf[8:16], uint64(r.Last))
	binary.BigEndian.PutUint64(buf[16:24], uint64(r.LastSync))
	binary.BigEndian.PutUint64(buf[24:32], uint64(r.LastTxnEnd))
	return buf
}

func decodeRange(data []byte) (vlsn.Range, error) {
	if len(data) != 32 {
		return vlsn.EmptyRange, fmt.Errorf("backing: range record has %d bytes, want 32", len(data))
	}
	return vlsn.Range{
		First:      vlsn.VLSN(binary.BigEndian.Uint64(data[0:8])),
		Last:       vlsn.VLSN(binary.BigEndian.Uint64(data[8:16])),
		LastSync:   vlsn.VLSN(binary.BigEndian.Uint64(data[16:24])),
		LastTxnEnd: vlsn.VLSN(binary.BigEndian.Uint64(data[24:32])),
	}, nil
}
