// Package cellstore implements the immutable, sorted, on-disk block file
// a minor or major compaction produces from a cell cache: spec.md §4.7.
// A store is data blocks (lz4-compressed, xxhash-checksummed, the same
// pairing internal/commitlog uses for its fragments) plus a block index
// for seek-by-key and a cuckoo filter for a fast "definitely absent"
// check before touching disk at all.
package cellstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/hypertable-go/rangeserver/internal/commitlog"
	"github.com/hypertable-go/rangeserver/internal/dfs"
)

// DefaultBlockSize is the uncompressed size at which a data block flushes.
const DefaultBlockSize = 64 * 1024

// indexEntry records the first key of a block and its offset/length in
// the store file, enough to binary search for the block that could
// contain a given key.
type indexEntry struct {
	FirstKey []byte
	Offset   int64
	Length   int64
}

// Writer builds one immutable cell store file. Cells must be added in
// ascending key order -- the same order the cell cache and merging
// compaction already iterate in.
type Writer struct {
	w         dfs.WriteFile
	blockSize int

	bufKeys   [][]byte
	bufVals   [][]byte
	bufSize   int
	offset    int64
	index     []indexEntry
	filter    *cuckoo.Filter
	keyCount  uint64
}

// NewWriter opens dst for writing and returns a Writer sized for
// approxKeys entries (used to size the cuckoo filter).
func NewWriter(ctx context.Context, fs dfs.Filesystem, dst string, approxKeys uint) (*Writer, error) {
	w, err := fs.Create(ctx, dst, dfs.FlagCreate)
	if err != nil {
		return nil, err
	}
	if approxKeys == 0 {
		approxKeys = 1024
	}
	return &Writer{
		w:         w,
		blockSize: DefaultBlockSize,
		filter:    cuckoo.NewFilter(approxKeys),
	}, nil
}

// Add appends one cell. key must be strictly greater than the previously
// added key.
func (cw *Writer) Add(key, value []byte) error {
	cw.bufKeys = append(cw.bufKeys, key)
	cw.bufVals = append(cw.bufVals, value)
	cw.bufSize += len(key) + len(value) + 8
	cw.filter.InsertUnique(key)
	cw.keyCount++

	if cw.bufSize >= cw.blockSize {
		return cw.flushBlock()
	}
	return nil
}

func (cw *Writer) flushBlock() error {
	if len(cw.bufKeys) == 0 {
		return nil
	}
	var payload bytes.Buffer
	for i, k := range cw.bufKeys {
		v := cw.bufVals[i]
		writeUvarintBytes(&payload, k)
		writeUvarintBytes(&payload, v)
	}

	enc := encodeDataBlock(payload.Bytes())
	n, err := cw.w.Write(enc)
	if err != nil {
		return err
	}
	cw.index = append(cw.index, indexEntry{
		FirstKey: cw.bufKeys[0],
		Offset:   cw.offset,
		Length:   int64(n),
	})
	cw.offset += int64(n)

	cw.bufKeys = cw.bufKeys[:0]
	cw.bufVals = cw.bufVals[:0]
	cw.bufSize = 0
	return nil
}

// Finish flushes any buffered cells, writes the index, filter, and
// trailer, and closes the file.
func (cw *Writer) Finish() error {
	if err := cw.flushBlock(); err != nil {
		return err
	}

	indexOff := cw.offset
	var indexBuf bytes.Buffer
	binary.Write(&indexBuf, binary.LittleEndian, uint32(len(cw.index)))
	for _, e := range cw.index {
		writeUvarintBytes(&indexBuf, e.FirstKey)
		binary.Write(&indexBuf, binary.LittleEndian, e.Offset)
		binary.Write(&indexBuf, binary.LittleEndian, e.Length)
	}
	if _, err := cw.w.Write(indexBuf.Bytes()); err != nil {
		return err
	}
	cw.offset += int64(indexBuf.Len())

	filterOff := cw.offset
	filterBytes := cw.filter.Encode()
	if _, err := cw.w.Write(filterBytes); err != nil {
		return err
	}
	cw.offset += int64(len(filterBytes))

	trailer := make([]byte, trailerLen)
	binary.LittleEndian.PutUint32(trailer[0:4], trailerMagic)
	binary.LittleEndian.PutUint64(trailer[4:12], uint64(indexOff))
	binary.LittleEndian.PutUint64(trailer[12:20], uint64(filterOff))
	binary.LittleEndian.PutUint32(trailer[20:24], uint32(len(filterBytes)))
	binary.LittleEndian.PutUint64(trailer[24:32], cw.keyCount)
	if _, err := cw.w.Write(trailer); err != nil {
		return err
	}

	if err := cw.w.Sync(); err != nil {
		return err
	}
	return cw.w.Close()
}

const (
	trailerMagic uint32 = 0x48545343 // "HTSC"
	trailerLen          = 32
)

func writeUvarintBytes(buf *bytes.Buffer, b []byte) {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(b)))
	buf.Write(lenBuf[:n])
	buf.Write(b)
}

func readUvarintBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// dataBlock wraps commitlog's block codec; cell stores have no notion of
// a commit revision, so it is always zero.
func encodeDataBlock(payload []byte) []byte {
	return commitlog.EncodeStandaloneBlock(payload)
}

func decodeDataBlock(buf []byte) ([]byte, error) {
	return commitlog.DecodeStandaloneBlock(buf)
}

// Reader opens an existing cell store for point lookups and range scans.
type Reader struct {
	rf     dfs.ReadFile
	size   int64
	index  []indexEntry
	filter *cuckoo.Filter
	keys   uint64
}

// OpenReader reads the trailer and index of an existing store file.
func OpenReader(ctx context.Context, fs dfs.Filesystem, path string) (*Reader, error) {
	rf, err := fs.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	size, err := fs.Length(ctx, path)
	if err != nil {
		rf.Close()
		return nil, err
	}
	if size < trailerLen {
		rf.Close()
		return nil, fmt.Errorf("cellstore: file too small to contain a trailer")
	}

	trailer := make([]byte, trailerLen)
	if _, err := rf.ReadAt(trailer, size-trailerLen); err != nil {
		rf.Close()
		return nil, err
	}
	if binary.LittleEndian.Uint32(trailer[0:4]) != trailerMagic {
		rf.Close()
		return nil, fmt.Errorf("cellstore: bad trailer magic")
	}
	indexOff := int64(binary.LittleEndian.Uint64(trailer[4:12]))
	filterOff := int64(binary.LittleEndian.Uint64(trailer[12:20]))
	filterLen := int64(binary.LittleEndian.Uint32(trailer[20:24]))
	keyCount := binary.LittleEndian.Uint64(trailer[24:32])

	indexBuf := make([]byte, filterOff-indexOff)
	if _, err := rf.ReadAt(indexBuf, indexOff); err != nil {
		rf.Close()
		return nil, err
	}
	index, err := parseIndex(indexBuf)
	if err != nil {
		rf.Close()
		return nil, err
	}

	filterBuf := make([]byte, filterLen)
	if _, err := rf.ReadAt(filterBuf, filterOff); err != nil {
		rf.Close()
		return nil, err
	}
	filter, err := cuckoo.Decode(filterBuf)
	if err != nil {
		rf.Close()
		return nil, err
	}

	return &Reader{rf: rf, size: size, index: index, filter: filter, keys: keyCount}, nil
}

func parseIndex(buf []byte) ([]indexEntry, error) {
	r := bytes.NewReader(buf)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	out := make([]indexEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		key, err := readUvarintBytes(r)
		if err != nil {
			return nil, err
		}
		var off, length int64
		if err := binary.Read(r, binary.LittleEndian, &off); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, err
		}
		out = append(out, indexEntry{FirstKey: key, Offset: off, Length: length})
	}
	return out, nil
}

// MayContain is a probabilistic membership check: false means key is
// definitely not present; true means it might be, and the caller must
// still check the actual blocks.
func (r *Reader) MayContain(key []byte) bool {
	return r.filter.Lookup(key)
}

// KeyCount returns the number of cells recorded in the trailer.
func (r *Reader) KeyCount() uint64 { return r.keys }

// CellFunc is invoked for each decoded cell during a scan.
type CellFunc func(key, value []byte) bool

// Scan walks every block whose key range could overlap [startKey, endKey)
// and invokes fn for each cell found in ascending order. A nil endKey
// scans to the end of the store.
func (r *Reader) Scan(startKey, endKey []byte, fn CellFunc) error {
	startBlock := sort.Search(len(r.index), func(i int) bool {
		return bytes.Compare(r.index[i].FirstKey, startKey) > 0
	})
	if startBlock > 0 {
		startBlock--
	}

	for i := startBlock; i < len(r.index); i++ {
		e := r.index[i]
		if endKey != nil && bytes.Compare(e.FirstKey, endKey) >= 0 {
			break
		}
		raw := make([]byte, e.Length)
		if _, err := r.rf.ReadAt(raw, e.Offset); err != nil {
			return err
		}
		payload, err := decodeDataBlock(raw)
		if err != nil {
			return err
		}
		cont, err := scanBlock(payload, startKey, endKey, fn)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func scanBlock(payload, startKey, endKey []byte, fn CellFunc) (bool, error) {
	r := bytes.NewReader(payload)
	for r.Len() > 0 {
		key, err := readUvarintBytes(r)
		if err != nil {
			return false, err
		}
		val, err := readUvarintBytes(r)
		if err != nil {
			return false, err
		}
		if startKey != nil && bytes.Compare(key, startKey) < 0 {
			continue
		}
		if endKey != nil && bytes.Compare(key, endKey) >= 0 {
			return false, nil
		}
		if !fn(key, val) {
			return false, nil
		}
	}
	return true, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.rf.Close()
}
