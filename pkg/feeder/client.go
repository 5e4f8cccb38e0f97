package feeder

import (
	"fmt"
	"io"
	"net"

	"github.com/DataDog/zstd"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// FetchedFile is one file dump received from FetchFiles, decompressed
// and checksum-verified.
type FetchedFile struct {
	FileNumber uint32
	Content    []byte
	Checksum   uint64
	NotFound   bool
}

// FetchFiles is the client half of the feeder protocol: it sends a
// Hello naming clientID and the requested file numbers, then reads back
// a FileHeader/FileChunk.../FileDone or FileNotFound sequence per file,
// ignoring interleaved Ping keep-alives, until an AllDone arrives.
func FetchFiles(conn net.Conn, clientID uuid.UUID, fileNumbers []uint32) ([]FetchedFile, error) {
	if _, err := conn.Write(encodeHello(clientID, fileNumbers)); err != nil {
		return nil, fmt.Errorf("feeder: send hello: %w", err)
	}

	var results []FetchedFile
	var current *fileHeaderMsg
	var buf []byte

	for {
		hdr, body, err := readMessage(conn)
		if err != nil {
			return nil, fmt.Errorf("feeder: read message: %w", err)
		}
		switch hdr.op {
		case opPing:
			continue
		case opAllDone:
			return results, nil
		case opFileNotFound:
			fileNumber, err := decodeFileNotFound(body)
			if err != nil {
				return nil, err
			}
			results = append(results, FetchedFile{FileNumber: fileNumber, NotFound: true})
		case opFileHeader:
			m, err := decodeFileHeader(body)
			if err != nil {
				return nil, err
			}
			current = &m
			buf = make([]byte, 0, m.compressedSize)
		case opFileChunk:
			fileNumber, chunk, err := decodeFileChunk(body)
			if err != nil {
				return nil, err
			}
			if current == nil || fileNumber != current.fileNumber {
				return nil, fmt.Errorf("feeder: chunk for file %d with no matching header", fileNumber)
			}
			buf = append(buf, chunk...)
		case opFileDone:
			fileNumber, err := decodeFileDone(body)
			if err != nil {
				return nil, err
			}
			if current == nil || fileNumber != current.fileNumber {
				return nil, fmt.Errorf("feeder: done for file %d with no matching header", fileNumber)
			}
			raw, err := zstd.Decompress(make([]byte, 0, current.uncompressedSize), buf)
			if err != nil {
				return nil, fmt.Errorf("feeder: decompress file %d: %w", fileNumber, err)
			}
			if xxhash.Sum64(raw) != current.checksum {
				return nil, fmt.Errorf("feeder: checksum mismatch for file %d", fileNumber)
			}
			results = append(results, FetchedFile{
				FileNumber: fileNumber,
				Content:    raw,
				Checksum:   current.checksum,
			})
			current, buf = nil, nil
		default:
			return nil, fmt.Errorf("feeder: unexpected op %d", hdr.op)
		}
	}
}

var _ io.Writer = (*safeConn)(nil)
