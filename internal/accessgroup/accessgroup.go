// Package accessgroup implements an access group: the live cell cache,
// at most one frozen cache mid-compaction, and an ordered list of
// immutable cell stores on disk, merged into one logical sorted view.
// spec.md §4.8.
package accessgroup

import (
	"bytes"
	"container/heap"
	"context"
	"fmt"
	"sync"

	"github.com/hypertable-go/rangeserver/internal/cellcache"
	"github.com/hypertable-go/rangeserver/internal/cellstore"
	"github.com/hypertable-go/rangeserver/internal/dfs"
	"github.com/hypertable-go/rangeserver/internal/keyspace"
)

// Group is one access group: the set of column families sharing a
// locality-of-access policy within a range.
type Group struct {
	Name string
	fs   dfs.Filesystem
	dir  string

	mu     sync.RWMutex
	live   *cellcache.Cache
	frozen *cellcache.Cache // non-nil only mid-compaction
	stores []*cellstore.Reader

	nextStoreSeq int
}

// New returns an empty access group rooted at dir for its cell store files.
func New(ctx context.Context, name string, fs dfs.Filesystem, dir string) (*Group, error) {
	live, err := cellcache.New()
	if err != nil {
		return nil, err
	}
	if err := fs.Mkdirs(ctx, dir); err != nil {
		return nil, err
	}
	return &Group{Name: name, fs: fs, dir: dir, live: live}, nil
}

// Apply writes one cell into the live cache.
func (g *Group) Apply(encodedKey []byte, value []byte) error {
	g.mu.RLock()
	live := g.live
	g.mu.RUnlock()
	return live.Set(encodedKey, value)
}

// MemoryUsage returns the live cache's approximate resident size, the
// signal the maintenance scheduler uses to decide when to minor-compact.
func (g *Group) MemoryUsage() int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.live.MemoryUsage()
}

// StoreCount returns the number of on-disk cell stores, the signal used
// to decide when a merging compaction is due.
func (g *Group) StoreCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.stores)
}

// BeginMinorCompaction freezes the live cache and installs a fresh one
// for new writes, returning the frozen cache for the caller to flush to a
// new cell store via FinishMinorCompaction. Writes continue against the
// new live cache uninterrupted; reads see both until the compaction ends.
func (g *Group) BeginMinorCompaction() (*cellcache.Cache, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen != nil {
		return nil, fmt.Errorf("accessgroup: minor compaction already in progress")
	}
	fresh, err := cellcache.New()
	if err != nil {
		return nil, err
	}
	g.live.Freeze()
	g.frozen = g.live
	g.live = fresh
	return g.frozen, nil
}

// FinishMinorCompaction flushes frozen cache contents into storePath (the
// caller does the actual flush via cellstore.Writer, since the merge
// order needs to match Scan's key order), replaces the frozen cache with
// the new on-disk store, and discards the frozen cache.
func (g *Group) FinishMinorCompaction(ctx context.Context, storePath string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen == nil {
		return fmt.Errorf("accessgroup: no minor compaction in progress")
	}
	reader, err := cellstore.OpenReader(ctx, g.fs, storePath)
	if err != nil {
		return err
	}
	g.stores = append(g.stores, reader)
	_ = g.frozen.Close()
	g.frozen = nil
	return nil
}

// NextStorePath returns a fresh, sequentially numbered path for the next
// cell store this group produces (minor or major compaction).
func (g *Group) NextStorePath() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextStoreSeq++
	return fmt.Sprintf("%s/cs-%06d", g.dir, g.nextStoreSeq)
}

// MergingCompaction replaces some contiguous run of existing stores with
// one new merged store, the standard way an access group bounds its
// store count over time.
func (g *Group) MergingCompaction(ctx context.Context, replaced []*cellstore.Reader, mergedPath string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	reader, err := cellstore.OpenReader(ctx, g.fs, mergedPath)
	if err != nil {
		return err
	}
	replacedSet := make(map[*cellstore.Reader]bool, len(replaced))
	for _, r := range replaced {
		replacedSet[r] = true
	}
	// The merged store takes the place of the first store it replaces, so
	// g.stores stays ordered oldest first, newest last.
	var kept []*cellstore.Reader
	inserted := false
	for _, s := range g.stores {
		if replacedSet[s] {
			if !inserted {
				kept = append(kept, reader)
				inserted = true
			}
			continue
		}
		kept = append(kept, s)
	}
	if !inserted {
		kept = append(kept, reader)
	}
	g.stores = kept
	for _, r := range replaced {
		_ = r.Close()
	}
	return nil
}

// Stores returns a snapshot of the current store list, for a compaction
// planner to pick candidates from.
func (g *Group) Stores() []*cellstore.Reader {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*cellstore.Reader, len(g.stores))
	copy(out, g.stores)
	return out
}

// mergeItem is one buffered cell from either a cellcache.ScanFunc or a
// cellstore.CellFunc callback, with its value normalized to []byte.
type mergeItem struct {
	key    []byte
	value  []byte
	source int // lower index wins ties: live cache newest, then frozen, then stores oldest-to-newest last
	seq    int
}

type mergeHeap []mergeItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if c := bytes.Compare(h[i].key, h[j].key); c != 0 {
		return c < 0
	}
	return h[i].source < h[j].source
}
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(mergeItem)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MergeFunc is invoked once per distinct encoded key in ascending order,
// with the value from the most authoritative source (live cache, then
// frozen cache, then newest-to-oldest cell store).
type MergeFunc func(encodedKey, value []byte) bool

// Scan performs a k-way merge across the live cache, frozen cache (if
// any), and every cell store, presenting one logical ascending view of
// the access group within [startKey, endKey). Entries are fully buffered
// per source before merging (bounded by range size, not table size),
// favoring simplicity over a fully streaming merge.
func (g *Group) Scan(ctx context.Context, startKey, endKey []byte, fn MergeFunc) error {
	g.mu.RLock()
	live := g.live
	frozen := g.frozen
	stores := append([]*cellstore.Reader(nil), g.stores...)
	g.mu.RUnlock()

	h := &mergeHeap{}
	heap.Init(h)

	pushAllFromCache := func(c *cellcache.Cache, source int) error {
		return c.Scan(startKey, endKey, func(k []byte, v keyspace.Value) bool {
			heap.Push(h, mergeItem{key: append([]byte(nil), k...), value: append([]byte(nil), v...), source: source})
			return true
		})
	}
	if err := pushAllFromCache(live, 0); err != nil {
		return err
	}
	if frozen != nil {
		if err := pushAllFromCache(frozen, 1); err != nil {
			return err
		}
	}
	for i, s := range stores {
		source := 2 + (len(stores) - 1 - i) // newest store (last in list) sorts before older ones
		if err := s.Scan(startKey, endKey, func(k, v []byte) bool {
			heap.Push(h, mergeItem{key: append([]byte(nil), k...), value: append([]byte(nil), v...), source: source})
			return true
		}); err != nil {
			return err
		}
	}

	var lastKey []byte
	first := true
	for h.Len() > 0 {
		item := heap.Pop(h).(mergeItem)
		if !first && bytes.Equal(item.key, lastKey) {
			continue // a lower-sourced (older) duplicate of a key we already emitted
		}
		first = false
		lastKey = item.key
		if !fn(item.key, item.value) {
			return nil
		}
	}
	return nil
}

// MajorCompaction merges every on-disk store into one new store, dropping
// every cell shadowed by a newer value for the same (row, column family,
// qualifier) -- including delete markers themselves, since a major
// compaction leaves no older data behind for a tombstone to shadow. The
// live and frozen caches are untouched; a caller wanting them folded in
// too should run a minor compaction first.
func (g *Group) MajorCompaction(ctx context.Context, mergedPath string) error {
	g.mu.RLock()
	stores := append([]*cellstore.Reader(nil), g.stores...)
	g.mu.RUnlock()
	if len(stores) == 0 {
		return nil
	}

	w, err := cellstore.NewWriter(ctx, g.fs, mergedPath, 0)
	if err != nil {
		return err
	}

	// scanStores already yields entries in merged key order (row, then
	// (cf,cq), then timestamp descending); buffer them so a first Observe
	// pass can pick up DELETE_ROW/DELETE_COLUMN_FAMILY thresholds wherever
	// in that order they sort before a second Resolve pass decides what
	// survives into the merged store.
	var keys, values [][]byte
	if err := g.scanStores(ctx, stores, func(k, v []byte) bool {
		keys = append(keys, append([]byte(nil), k...))
		values = append(values, append([]byte(nil), v...))
		return true
	}); err != nil {
		return err
	}

	decodedKeys := make([]*keyspace.Key, len(keys))
	filter := keyspace.NewShadowFilter()
	for i, k := range keys {
		dk, derr := keyspace.Decode(k)
		if derr != nil {
			continue
		}
		decodedKeys[i] = dk
		filter.Observe(dk)
	}

	var addErr error
	for i, dk := range decodedKeys {
		if dk == nil {
			continue // malformed, never observed from our own writer
		}
		if !filter.Resolve(dk) {
			continue // shadowed, or a tombstone with nothing left to shadow
		}
		if addErr = w.Add(keys[i], values[i]); addErr != nil {
			break
		}
	}
	if addErr != nil {
		return addErr
	}
	if err := w.Finish(); err != nil {
		return err
	}

	reader, err := cellstore.OpenReader(ctx, g.fs, mergedPath)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.stores {
		_ = s.Close()
	}
	g.stores = []*cellstore.Reader{reader}
	return nil
}

// scanStores is MergingCompaction/MajorCompaction's merge core, factored
// out of Scan so a compaction can merge a fixed store snapshot without
// racing a concurrent Apply that swaps g.live.
func (g *Group) scanStores(ctx context.Context, stores []*cellstore.Reader, fn MergeFunc) error {
	h := &mergeHeap{}
	heap.Init(h)
	for i, s := range stores {
		source := len(stores) - 1 - i // newest (last) store sorts first on ties
		if err := s.Scan(nil, nil, func(k, v []byte) bool {
			heap.Push(h, mergeItem{key: append([]byte(nil), k...), value: append([]byte(nil), v...), source: source})
			return true
		}); err != nil {
			return err
		}
	}
	var lastKey []byte
	first := true
	for h.Len() > 0 {
		item := heap.Pop(h).(mergeItem)
		if !first && bytes.Equal(item.key, lastKey) {
			continue
		}
		first = false
		lastKey = item.key
		if !fn(item.key, item.value) {
			return nil
		}
	}
	return nil
}

// MergeOldest merges the k oldest on-disk stores into one replacement
// store, the standard way an access group keeps its store count bounded
// over time without paying a full major compaction's tombstone scan
// (spec.md §4.8's merging compaction, driven by AccessGroup.MaxFiles/
// MergeFiles). Unlike MajorCompaction, duplicate keys across the merged
// stores are deduplicated but no version is dropped for being shadowed --
// that resolution still happens at Scan time.
func (g *Group) MergeOldest(ctx context.Context, k int) error {
	stores := g.Stores()
	if len(stores) < 2 {
		return nil
	}
	if k > len(stores) {
		k = len(stores)
	}
	// g.stores is append-only, newest last; the oldest k are the first k.
	replaced := append([]*cellstore.Reader(nil), stores[:k]...)

	mergedPath := g.NextStorePath()
	w, err := cellstore.NewWriter(ctx, g.fs, mergedPath, 0)
	if err != nil {
		return err
	}
	var addErr error
	if err := g.scanStores(ctx, replaced, func(key, value []byte) bool {
		if addErr = w.Add(key, value); addErr != nil {
			return false
		}
		return true
	}); err != nil {
		return err
	}
	if addErr != nil {
		return addErr
	}
	if err := w.Finish(); err != nil {
		return err
	}
	return g.MergingCompaction(ctx, replaced, mergedPath)
}

// SplitAt divides the access group at splitRow: g is left in place,
// shrunk to only the rows <= splitRow (the parent range this group
// belongs to after the split's shrink completes), and a freshly created
// Group covering rows > splitRow is returned for the child range the
// master will assign. Both halves are built from one full merge across
// the live cache, frozen cache (if any mid-compaction), and every
// on-disk store -- the same tombstone-dropping merge MajorCompaction
// uses -- so neither half carries stale shadowed data forward.
func (g *Group) SplitAt(ctx context.Context, splitRow []byte, highDir string) (*Group, error) {
	g.mu.Lock()
	live := g.live
	frozen := g.frozen
	stores := append([]*cellstore.Reader(nil), g.stores...)
	g.mu.Unlock()

	high, err := New(ctx, g.Name, g.fs, highDir)
	if err != nil {
		return nil, err
	}
	lowPath := g.NextStorePath()
	highPath := high.NextStorePath()
	lowW, err := cellstore.NewWriter(ctx, g.fs, lowPath, 0)
	if err != nil {
		return nil, err
	}
	highW, err := cellstore.NewWriter(ctx, high.fs, highPath, 0)
	if err != nil {
		return nil, err
	}

	h := &mergeHeap{}
	heap.Init(h)
	pushCache := func(c *cellcache.Cache, source int) error {
		if c == nil {
			return nil
		}
		return c.Scan(nil, nil, func(k []byte, v keyspace.Value) bool {
			heap.Push(h, mergeItem{key: append([]byte(nil), k...), value: append([]byte(nil), v...), source: source})
			return true
		})
	}
	if err := pushCache(live, 0); err != nil {
		return nil, err
	}
	if err := pushCache(frozen, 1); err != nil {
		return nil, err
	}
	for i, s := range stores {
		source := 2 + (len(stores) - 1 - i)
		if err := s.Scan(nil, nil, func(k, v []byte) bool {
			heap.Push(h, mergeItem{key: append([]byte(nil), k...), value: append([]byte(nil), v...), source: source})
			return true
		}); err != nil {
			return nil, err
		}
	}

	// Drain the heap into merged key order first (dropping exact duplicate
	// keys across sources) so an Observe pass can pick up DELETE_ROW/
	// DELETE_COLUMN_FAMILY thresholds from anywhere in a row before a
	// second Resolve pass decides what survives into either half.
	var sortedKeys, sortedValues [][]byte
	var lastKey []byte
	first := true
	for h.Len() > 0 {
		item := heap.Pop(h).(mergeItem)
		if !first && bytes.Equal(item.key, lastKey) {
			continue
		}
		first = false
		lastKey = item.key
		sortedKeys = append(sortedKeys, item.key)
		sortedValues = append(sortedValues, item.value)
	}

	decodedKeys := make([]*keyspace.Key, len(sortedKeys))
	filter := keyspace.NewShadowFilter()
	for i, k := range sortedKeys {
		dk, derr := keyspace.Decode(k)
		if derr != nil {
			continue
		}
		decodedKeys[i] = dk
		filter.Observe(dk)
	}

	var addErr error
	for i, key := range decodedKeys {
		if key == nil {
			continue
		}
		if !filter.Resolve(key) {
			continue
		}
		w := lowW
		if bytes.Compare(key.Row, splitRow) > 0 {
			w = highW
		}
		if addErr = w.Add(sortedKeys[i], sortedValues[i]); addErr != nil {
			break
		}
	}
	if addErr != nil {
		return nil, addErr
	}
	if err := lowW.Finish(); err != nil {
		return nil, err
	}
	if err := highW.Finish(); err != nil {
		return nil, err
	}

	lowReader, err := cellstore.OpenReader(ctx, g.fs, lowPath)
	if err != nil {
		return nil, err
	}
	highReader, err := cellstore.OpenReader(ctx, high.fs, highPath)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	for _, s := range g.stores {
		_ = s.Close()
	}
	g.stores = []*cellstore.Reader{lowReader}
	if g.frozen != nil {
		_ = g.frozen.Close()
		g.frozen = nil
	}
	g.mu.Unlock()

	high.stores = []*cellstore.Reader{highReader}
	return high, nil
}

// Close releases every open cell store reader and the live/frozen caches.
func (g *Group) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var firstErr error
	if err := g.live.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if g.frozen != nil {
		if err := g.frozen.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, s := range g.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
