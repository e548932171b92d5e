package commitlog

import (
	"encoding/binary"
	"fmt"

	"github.com/OneOfOne/xxhash"
	"github.com/pierrec/lz4/v3"
)

// blockMagic tags the start of every block so a reader can detect a torn
// write at the tail of a file (the last block a crash interrupted).
const blockMagic uint32 = 0x48544c47 // "HTLG"

// blockHeaderLen is the fixed size of a block header, before the
// (possibly compressed) payload.
const blockHeaderLen = 4 + 4 + 1 + 4 + 4 + 8 // magic, rawLen, compressed, compLen, checksum, revision

// block is one commit-log record: a batch of serialized updates for a
// single range, tagged with the revision assigned at commit time so
// replay can skip blocks already reflected in a range's persisted state.
type block struct {
	Revision uint64
	Payload  []byte // uncompressed
}

// encode serializes b to its on-disk form: header + lz4-compressed
// payload, checksummed with xxhash the way the teacher's metrics package
// favors a fast non-cryptographic hash for hot-path integrity checks.
func (b *block) encode() []byte {
	compressed := make([]byte, lz4.CompressBlockBound(len(b.Payload)))
	n, err := lz4.CompressBlock(b.Payload, compressed, nil)
	useCompressed := err == nil && n > 0 && n < len(b.Payload)

	payload := b.Payload
	compLen := 0
	if useCompressed {
		payload = compressed[:n]
		compLen = n
	}

	buf := make([]byte, blockHeaderLen+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], blockMagic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(b.Payload)))
	if useCompressed {
		buf[8] = 1
	}
	binary.LittleEndian.PutUint32(buf[9:13], uint32(compLen))
	binary.LittleEndian.PutUint64(buf[17:25], b.Revision)
	copy(buf[blockHeaderLen:], payload)

	sum := xxhash.Checksum32(buf[blockHeaderLen:])
	binary.LittleEndian.PutUint32(buf[13:17], sum)
	return buf
}

// decodeBlock reads one block from the front of buf, returning the block
// and the number of bytes consumed. It returns errShortBlock if buf does
// not yet contain a complete block, which the reader treats as "stop,
// this is a torn tail write" rather than a hard error.
func decodeBlock(buf []byte) (*block, int, error) {
	if len(buf) < blockHeaderLen {
		return nil, 0, errShortBlock
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != blockMagic {
		return nil, 0, fmt.Errorf("commitlog: bad block magic")
	}
	rawLen := binary.LittleEndian.Uint32(buf[4:8])
	compressed := buf[8] != 0
	compLen := binary.LittleEndian.Uint32(buf[9:13])
	checksum := binary.LittleEndian.Uint32(buf[13:17])
	revision := binary.LittleEndian.Uint64(buf[17:25])

	payloadLen := int(rawLen)
	if compressed {
		payloadLen = int(compLen)
	}
	if len(buf) < blockHeaderLen+payloadLen {
		return nil, 0, errShortBlock
	}
	payload := buf[blockHeaderLen : blockHeaderLen+payloadLen]
	if xxhash.Checksum32(payload) != checksum {
		return nil, 0, fmt.Errorf("commitlog: block checksum mismatch (torn write or corruption)")
	}

	raw := payload
	if compressed {
		raw = make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return nil, 0, fmt.Errorf("commitlog: decompress block: %w", err)
		}
		raw = raw[:n]
	}

	return &block{Revision: revision, Payload: raw}, blockHeaderLen + payloadLen, nil
}

var errShortBlock = fmt.Errorf("commitlog: incomplete block at tail")

// EncodeStandaloneBlock encodes payload using the same compressed,
// checksummed block framing as a commit log fragment, with revision
// zero. Cell stores use it for their data blocks so both on-disk formats
// share one tested codec instead of two near-identical ones.
func EncodeStandaloneBlock(payload []byte) []byte {
	b := &block{Payload: payload}
	return b.encode()
}

// DecodeStandaloneBlock is the inverse of EncodeStandaloneBlock. Unlike
// decodeBlock it requires buf to contain exactly one block.
func DecodeStandaloneBlock(buf []byte) ([]byte, error) {
	b, n, err := decodeBlock(buf)
	if err != nil {
		return nil, err
	}
	if n != len(buf) {
		return nil, fmt.Errorf("commitlog: trailing bytes after block")
	}
	return b.Payload, nil
}
