// Package commitlog implements the append-only, rolling, checksummed
// write-ahead log every range's mutations pass through before they are
// visible in the cell cache: spec.md §4.5. Fragments roll at a size
// threshold, are linked into a per-range log directory, and are purged
// once every range depending on them has persisted past their revisions.
package commitlog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hypertable-go/rangeserver/internal/dfs"
)

// Fragment identifies one rolled file within a log directory by its
// sequence number, the unit purge and replay both operate on.
type Fragment struct {
	Seq       int64
	Path      string
	LinkCount int // ranges still depending on this fragment not being purged
}

// Log is a single commit log: a directory of sequentially numbered
// fragments plus the currently open one being appended to.
type Log struct {
	fs  dfs.Filesystem
	dir string

	rollSize int64

	mu        sync.Mutex
	fragments []*Fragment
	cur       dfs.WriteFile
	curSeq    int64
	curSize   int64

	erasure *ErasureCoder
}

// OpenOption configures optional Log behavior at Open time.
type OpenOption func(*Log)

// WithErasureCoding protects every fragment this Log rolls past with a
// Reed-Solomon parity sidecar (dataShards data + parityShards parity
// shards), spec.md §4.5's commit-log durability contract extended per
// SPEC_FULL.md's supplemental durability mode for single-replica DFS
// deployments. The active (not-yet-rolled) fragment is never parity
// protected -- only sealed fragments, since only they are immutable.
func WithErasureCoding(dataShards, parityShards int) OpenOption {
	return func(l *Log) {
		coder, err := NewErasureCoder(dataShards, parityShards)
		if err == nil {
			l.erasure = coder
		}
	}
}

// Open opens (creating if necessary) the log directory dir and positions
// for append, starting a fresh fragment if none exist.
func Open(ctx context.Context, fs dfs.Filesystem, dir string, rollSize int64, opts ...OpenOption) (*Log, error) {
	if err := fs.Mkdirs(ctx, dir); err != nil {
		return nil, err
	}
	l := &Log{fs: fs, dir: dir, rollSize: rollSize}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.loadFragments(ctx); err != nil {
		return nil, err
	}
	if err := l.rollLocked(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) loadFragments(ctx context.Context) error {
	names, err := l.fs.Readdir(ctx, l.dir)
	if err != nil {
		return err
	}
	for _, n := range names {
		seq, ok := parseFragmentName(n)
		if !ok {
			continue
		}
		l.fragments = append(l.fragments, &Fragment{Seq: seq, Path: path.Join(l.dir, n)})
	}
	sort.Slice(l.fragments, func(i, j int) bool { return l.fragments[i].Seq < l.fragments[j].Seq })
	return nil
}

func fragmentName(seq int64) string { return fmt.Sprintf("%020d.cl", seq) }

func parseFragmentName(name string) (int64, bool) {
	if !strings.HasSuffix(name, ".cl") {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSuffix(name, ".cl"), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Append writes payload as a new block tagged with revision, rolling to a
// new fragment first if the current one has reached rollSize. It returns
// the fragment sequence number the block landed in.
func (l *Log) Append(ctx context.Context, revision uint64, payload []byte) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.curSize >= l.rollSize {
		if err := l.rollLocked(ctx); err != nil {
			return 0, err
		}
	}
	b := &block{Revision: revision, Payload: payload}
	enc := b.encode()
	if _, err := l.cur.Write(enc); err != nil {
		return 0, err
	}
	l.curSize += int64(len(enc))
	return l.curSeq, nil
}

// Sync flushes the current fragment to the DFS backend's durability
// guarantee. The range server calls this to satisfy commit_log_sync
// requests, and before acknowledging an update that asks for a sync or
// lands in a root or metadata range.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cur == nil {
		return nil
	}
	return l.cur.Sync()
}

// rollLocked closes the current fragment (if any) and opens a fresh one.
// Requires l.mu held.
func (l *Log) rollLocked(ctx context.Context) error {
	if l.cur != nil {
		if err := l.cur.Close(); err != nil {
			return err
		}
		if l.erasure != nil && len(l.fragments) > 0 {
			sealed := l.fragments[len(l.fragments)-1]
			if err := l.writeParity(ctx, sealed.Path); err != nil {
				return fmt.Errorf("commitlog: seal parity for fragment %d: %w", sealed.Seq, err)
			}
		}
	}
	seq := int64(1)
	if n := len(l.fragments); n > 0 {
		seq = l.fragments[n-1].Seq + 1
	}
	name := fragmentName(seq)
	w, err := l.fs.Create(ctx, path.Join(l.dir, name), dfs.FlagCreate)
	if err != nil {
		return err
	}
	l.cur = w
	l.curSeq = seq
	l.curSize = 0
	l.fragments = append(l.fragments, &Fragment{Seq: seq, Path: path.Join(l.dir, name)})
	return nil
}

// Link increments the reference count on the fragment holding seq,
// called when a range's access group still has unflushed updates in it.
func (l *Log) Link(seq int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range l.fragments {
		if f.Seq == seq {
			f.LinkCount++
			return
		}
	}
}

// LinkForeign incorporates every fragment of other into l by reference:
// each fragment file is renamed into l's directory under a fresh,
// contiguous sequence number so Replay over l's directory sees it in its
// original within-other order after l's own pre-existing fragments, and
// other's still-open in-memory fragment is flushed first so no buffered
// record is lost (spec.md §4.5's link operation, used when a range
// assumes responsibility for a split's transfer log). other is left with
// no fragments; its open fragment handle is not closed.
func (l *Log) LinkForeign(ctx context.Context, other *Log) error {
	if err := other.Sync(); err != nil {
		return fmt.Errorf("commitlog: link: flush source log: %w", err)
	}
	other.mu.Lock()
	fragments := append([]*Fragment(nil), other.fragments...)
	other.fragments = nil
	other.mu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range fragments {
		seq := int64(1)
		if n := len(l.fragments); n > 0 {
			seq = l.fragments[n-1].Seq + 1
		}
		name := fragmentName(seq)
		newPath := path.Join(l.dir, name)
		if err := l.fs.Rename(ctx, f.Path, newPath); err != nil {
			return fmt.Errorf("commitlog: link: move fragment %d: %w", f.Seq, err)
		}
		l.fragments = append(l.fragments, &Fragment{Seq: seq, Path: newPath, LinkCount: f.LinkCount})
	}
	return nil
}

// Unlink drops a reference from the fragment holding seq, typically after
// a minor compaction has flushed everything that fragment covered.
func (l *Log) Unlink(seq int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range l.fragments {
		if f.Seq == seq && f.LinkCount > 0 {
			f.LinkCount--
			return
		}
	}
}

// Purge removes every fragment older than the current one with a zero
// link count, in sequence order, stopping at the first fragment that is
// still linked (fragments roll in order, so a later unlinked fragment
// cannot be purged while an earlier one is still needed).
func (l *Log) Purge(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	purged := 0
	remaining := l.fragments[:0:0]
	for i, f := range l.fragments {
		if f.Seq == l.curSeq {
			remaining = append(remaining, l.fragments[i:]...)
			break
		}
		if f.LinkCount > 0 {
			remaining = append(remaining, l.fragments[i:]...)
			break
		}
		if err := l.fs.Remove(ctx, f.Path); err != nil {
			return purged, err
		}
		purged++
	}
	l.fragments = remaining
	return purged, nil
}

// writeParity reads back the just-sealed fragment at fragmentPath, encodes
// it into Reed-Solomon shards, and writes them to a ".parity" sidecar:
// original length, shard count, then each shard length-prefixed.
func (l *Log) writeParity(ctx context.Context, fragmentPath string) error {
	rf, err := l.fs.Open(ctx, fragmentPath)
	if err != nil {
		return err
	}
	data, err := readAll(rf)
	rf.Close()
	if err != nil {
		return err
	}

	shards, err := l.erasure.Encode(data)
	if err != nil {
		return err
	}

	wf, err := l.fs.Create(ctx, fragmentPath+".parity", dfs.FlagCreate)
	if err != nil {
		return err
	}
	defer wf.Close()

	var hdr [12]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(shards)))
	if _, err := wf.Write(hdr[:]); err != nil {
		return err
	}
	for _, shard := range shards {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(shard)))
		if _, err := wf.Write(lenBuf[:]); err != nil {
			return err
		}
		if _, err := wf.Write(shard); err != nil {
			return err
		}
	}
	return wf.Sync()
}

// ReconstructFragment rebuilds a fragment's bytes from its ".parity"
// sidecar, for the case where fragmentPath itself is missing or its tail
// fails a block checksum beyond what Replay's torn-write tolerance covers.
// It returns an error if this Log was not opened with WithErasureCoding or
// no parity sidecar exists for fragmentPath.
func (l *Log) ReconstructFragment(ctx context.Context, fragmentPath string) ([]byte, error) {
	if l.erasure == nil {
		return nil, fmt.Errorf("commitlog: reconstruct %s: no erasure coder configured", fragmentPath)
	}
	rf, err := l.fs.Open(ctx, fragmentPath+".parity")
	if err != nil {
		return nil, fmt.Errorf("commitlog: reconstruct %s: open parity sidecar: %w", fragmentPath, err)
	}
	buf, err := readAll(rf)
	rf.Close()
	if err != nil {
		return nil, err
	}
	if len(buf) < 12 {
		return nil, fmt.Errorf("commitlog: reconstruct %s: truncated parity sidecar", fragmentPath)
	}
	dataLen := int(binary.LittleEndian.Uint64(buf[0:8]))
	shardCount := int(binary.LittleEndian.Uint32(buf[8:12]))
	buf = buf[12:]

	shards := make([][]byte, shardCount)
	for i := 0; i < shardCount; i++ {
		if len(buf) < 4 {
			return nil, fmt.Errorf("commitlog: reconstruct %s: truncated shard header", fragmentPath)
		}
		shardLen := int(binary.LittleEndian.Uint32(buf[0:4]))
		buf = buf[4:]
		if len(buf) < shardLen {
			return nil, fmt.Errorf("commitlog: reconstruct %s: truncated shard body", fragmentPath)
		}
		shards[i] = buf[:shardLen]
		buf = buf[shardLen:]
	}

	if primary, err := l.fs.Open(ctx, fragmentPath); err == nil {
		primaryData, rerr := readAll(primary)
		primary.Close()
		if rerr != nil || len(primaryData) != dataLen {
			for i := 0; i < shardCount; i++ {
				shards[i] = nil
			}
		}
	} else {
		for i := 0; i < shardCount; i++ {
			shards[i] = nil
		}
	}

	if ok, err := l.erasure.Reconstruct(shards); err != nil || !ok {
		return nil, fmt.Errorf("commitlog: reconstruct %s: unrecoverable: %w", fragmentPath, err)
	}
	return l.erasure.Join(shards, dataLen)
}

// ErasureCoder returns the coder this Log was opened with via
// WithErasureCoding, or nil if none was configured.
func (l *Log) ErasureCoder() *ErasureCoder {
	return l.erasure
}

// Fragments returns a snapshot of the current fragment list, oldest first.
func (l *Log) Fragments() []Fragment {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Fragment, len(l.fragments))
	for i, f := range l.fragments {
		out[i] = *f
	}
	return out
}

// Close closes the currently open fragment.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cur == nil {
		return nil
	}
	return l.cur.Close()
}

// ReplayFunc receives each block's revision and payload in fragment and
// in-fragment order during Replay.
type ReplayFunc func(revision uint64, payload []byte) error

// Replay reads every fragment from oldest to newest and invokes fn for
// each well-formed block, stopping (without error) at the first torn
// block it encounters -- the expected shape of the tail of a fragment a
// crash interrupted mid-write.
func Replay(ctx context.Context, fs dfs.Filesystem, dir string, fn ReplayFunc) error {
	return replayWithCoder(ctx, fs, dir, nil, fn)
}

// ReplayErasureCoded is Replay for a log directory that was written with
// WithErasureCoding: a fragment whose tail fails its block checksum before
// the torn-write point is reconstructed from its ".parity" sidecar and
// replayed in full, instead of being truncated at the first bad block.
func ReplayErasureCoded(ctx context.Context, fs dfs.Filesystem, dir string, coder *ErasureCoder, fn ReplayFunc) error {
	return replayWithCoder(ctx, fs, dir, coder, fn)
}

func replayWithCoder(ctx context.Context, fs dfs.Filesystem, dir string, coder *ErasureCoder, fn ReplayFunc) error {
	names, err := fs.Readdir(ctx, dir)
	if err != nil {
		return err
	}
	var seqs []int64
	byName := map[int64]string{}
	for _, n := range names {
		seq, ok := parseFragmentName(n)
		if !ok {
			continue
		}
		seqs = append(seqs, seq)
		byName[seq] = n
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	for _, seq := range seqs {
		if err := replayFragment(ctx, fs, path.Join(dir, byName[seq]), coder, fn); err != nil {
			return err
		}
	}
	return nil
}

func replayFragment(ctx context.Context, fs dfs.Filesystem, p string, coder *ErasureCoder, fn ReplayFunc) error {
	rf, err := fs.Open(ctx, p)
	if err != nil {
		return err
	}
	buf, err := readAll(rf)
	rf.Close()
	if err != nil {
		return err
	}

	replayErr := func(buf []byte) error {
		for len(buf) > 0 {
			b, n, err := decodeBlock(buf)
			if err == errShortBlock {
				return errShortBlock
			}
			if err != nil {
				return err
			}
			if err := fn(b.Revision, b.Payload); err != nil {
				return err
			}
			buf = buf[n:]
		}
		return nil
	}

	err = replayErr(buf)
	if err == nil || err == errShortBlock {
		return nil
	}
	if coder == nil {
		return fmt.Errorf("commitlog: replay %s: %w", p, err)
	}

	l := &Log{fs: fs, erasure: coder}
	rebuilt, rerr := l.ReconstructFragment(ctx, p)
	if rerr != nil {
		return fmt.Errorf("commitlog: replay %s: %w (parity reconstruction failed: %v)", p, err, rerr)
	}
	if err := replayErr(rebuilt); err != nil && err != errShortBlock {
		return fmt.Errorf("commitlog: replay %s: reconstructed fragment still corrupt: %w", p, err)
	}
	return nil
}

func readAll(rf dfs.ReadFile) ([]byte, error) {
	var out []byte
	tmp := make([]byte, 64*1024)
	for {
		n, err := rf.Read(tmp)
		if n > 0 {
			out = append(out, tmp[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
	}
}
