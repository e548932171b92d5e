// Package rangeserver implements the range-server core: the live range
// map, the three global commit logs (root, metadata, user), the scanner
// registry, the query cache, and the recovery replay sequence that
// together answer load_range/update/create_scanner/fetch_scanblock and
// the replay_* family spec.md §4.10-§4.11 describe. It is the service
// internal/reactor's Conn handler (conn.go in this package) dispatches
// decoded wire.Frames into.
package rangeserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hypertable-go/rangeserver/internal/accessgroup"
	"github.com/hypertable-go/rangeserver/internal/cellcache"
	"github.com/hypertable-go/rangeserver/internal/cellstore"
	"github.com/hypertable-go/rangeserver/internal/commitlog"
	"github.com/hypertable-go/rangeserver/internal/config"
	"github.com/hypertable-go/rangeserver/internal/dfs"
	"github.com/hypertable-go/rangeserver/internal/keyspace"
	"github.com/hypertable-go/rangeserver/internal/logging"
	"github.com/hypertable-go/rangeserver/internal/rng"
	"github.com/hypertable-go/rangeserver/internal/rserrors"
	"golang.org/x/sync/errgroup"
)

// MetadataTableID is the reserved table id housing the root range and
// every other metadata range, spec.md §3/§4.11.
const MetadataTableID = "0"

// logGroup names which of the three global commit logs a range's writes
// route through.
type logGroup int

const (
	groupRoot logGroup = iota
	groupMetadata
	groupUser
)

func (g logGroup) String() string {
	switch g {
	case groupRoot:
		return "root"
	case groupMetadata:
		return "metadata"
	default:
		return "user"
	}
}

func classify(tableID string, startRow []byte) logGroup {
	if tableID != MetadataTableID {
		return groupUser
	}
	if len(startRow) == 0 {
		return groupRoot
	}
	return groupMetadata
}

// tableInfo is the live map's per-table bucket: every range of the table
// currently loaded on this server, plus the schema generation new updates
// are checked against.
type tableInfo struct {
	mu         sync.RWMutex
	generation uint64
	ranges     map[string]*rng.Range // rangeID -> Range
}

// ScanBlock is one batch of cells returned by create_scanner/fetch_scanblock,
// the unit the query cache stores and a conn.go response frame carries.
type ScanBlock struct {
	Cells []keyspace.KeyValue
	More  bool
}

// recoveryLatches gate incoming requests during startup replay: a request
// against the root range waits on root, one against table 0 waits on
// metadata, everything else waits on all, per spec.md §4.10 step 5.
type recoveryLatches struct {
	root, metadata, all chan struct{}
}

func newRecoveryLatches() *recoveryLatches {
	return &recoveryLatches{
		root:     make(chan struct{}),
		metadata: make(chan struct{}),
		all:      make(chan struct{}),
	}
}

// Server is the range-server core: one per process, owning every range
// this instance currently serves.
type Server struct {
	cfg    *config.Config
	fs     dfs.Filesystem
	logger *logging.Logger

	mu     sync.RWMutex
	tables map[string]*tableInfo

	rootLog, metadataLog, userLog *commitlog.Log
	txns                          *txnLog

	scanners *scannerRegistry
	queries  *queryCache

	memUsed  int64 // bytes, atomic
	memLimit int64

	latches *recoveryLatches

	replayMu sync.Mutex
	replay   *replaySession

	closed atomic.Bool
}

// New opens the three global commit logs and the transaction log under
// cfg.DataDirectory, then kicks off recovery replay in the background
// (spec.md §4.10): callers may start accepting connections immediately,
// since per-classification recovery latches block requests until their
// portion of the log has replayed.
func New(ctx context.Context, cfg *config.Config, fs dfs.Filesystem, logger *logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With("rangeserver")

	var logOpts []commitlog.OpenOption
	if ec := cfg.CommitLog.ErasureCoding; ec.Enabled {
		logOpts = append(logOpts, commitlog.WithErasureCoding(ec.DataShards, ec.ParityShards))
	}

	// Opening the three global logs' DFS directories (spec.md §4.10 step 2)
	// has no ordering dependency -- only the replay that reads them back
	// does (root before metadata before user, enforced sequentially in
	// recover()) -- so fan the opens out across an errgroup instead of
	// paying three round trips to the DFS back to back.
	var rootLog, metadataLog, userLog *commitlog.Log
	var eg errgroup.Group
	eg.Go(func() error {
		l, err := commitlog.Open(ctx, fs, path.Join(cfg.DataDirectory, "log", "root"), cfg.CommitLog.RollLimit, logOpts...)
		if err != nil {
			return fmt.Errorf("rangeserver: open root log: %w", err)
		}
		rootLog = l
		return nil
	})
	eg.Go(func() error {
		l, err := commitlog.Open(ctx, fs, path.Join(cfg.DataDirectory, "log", "metadata"), cfg.CommitLog.RollLimit, logOpts...)
		if err != nil {
			return fmt.Errorf("rangeserver: open metadata log: %w", err)
		}
		metadataLog = l
		return nil
	})
	eg.Go(func() error {
		l, err := commitlog.Open(ctx, fs, path.Join(cfg.DataDirectory, "log", "user"), cfg.CommitLog.RollLimit, logOpts...)
		if err != nil {
			return fmt.Errorf("rangeserver: open user log: %w", err)
		}
		userLog = l
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	txns, err := openTxnLog(ctx, fs, cfg.DataDirectory)
	if err != nil {
		return nil, err
	}

	memLimit := cfg.MemoryLimit.Bytes
	if cfg.MemoryLimit.Percentage > 0 {
		memLimit = int64(float64(totalSystemMemory()) * cfg.MemoryLimit.Percentage / 100)
	}

	s := &Server{
		cfg:         cfg,
		fs:          fs,
		logger:      logger,
		tables:      make(map[string]*tableInfo),
		rootLog:     rootLog,
		metadataLog: metadataLog,
		userLog:     userLog,
		txns:        txns,
		scanners:    newScannerRegistry(cfg.Scanner.TTL),
		queries:     newQueryCache(cfg.QueryCache.MaxMemory),
		memLimit:    memLimit,
		latches:     newRecoveryLatches(),
	}

	go s.recover(ctx)
	return s, nil
}

// logFor returns the global commit log a range of this classification
// writes through.
func (s *Server) logFor(g logGroup) *commitlog.Log {
	switch g {
	case groupRoot:
		return s.rootLog
	case groupMetadata:
		return s.metadataLog
	default:
		return s.userLog
	}
}

func (s *Server) tableLocked(tableID string) *tableInfo {
	t, ok := s.tables[tableID]
	if !ok {
		t = &tableInfo{ranges: make(map[string]*rng.Range)}
		s.tables[tableID] = t
	}
	return t
}

// awaitRecovery blocks the caller until the recovery latch covering this
// table has opened, per spec.md §4.10 step 5's three-tier wait.
func (s *Server) awaitRecovery(ctx context.Context, tableID string, startRow []byte) error {
	var ch chan struct{}
	switch classify(tableID, startRow) {
	case groupRoot:
		ch = s.latches.root
	case groupMetadata:
		ch = s.latches.metadata
	default:
		ch = s.latches.all
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return rserrors.Wrap("await_recovery", "", ctx.Err())
	}
}

// LoadRange brings a range onto this server: records the event in the
// transaction log, opens its access groups, and installs it in the live
// map under the log classification its bounds determine.
func (s *Server) LoadRange(ctx context.Context, bounds keyspace.RowRange, rangeID string, generation uint64, accessGroups []string) (*rng.Range, error) {
	s.mu.Lock()
	t := s.tableLocked(bounds.TableID)
	s.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.ranges[rangeID]; exists {
		return nil, rserrors.NewValidation("load_range", rangeID, rserrors.ValidationRangeAlreadyLoaded, "range already loaded")
	}

	start, end := keyspaceBounds(bounds)
	if err := s.txns.append(&txnEvent{Kind: eventLoadRange, TableID: bounds.TableID, RangeID: rangeID, StartRow: start, EndRow: end, Generation: generation}); err != nil {
		return nil, err
	}

	g := classify(bounds.TableID, bounds.StartRow)
	r := rng.New(rangeID, bounds, s.logFor(g))
	r.UpdateSchema(generation)

	dir := path.Join(s.cfg.DataDirectory, "tables", bounds.TableID, rangeID)
	for _, name := range accessGroups {
		ag, err := accessgroup.New(ctx, name, s.fs, path.Join(dir, name))
		if err != nil {
			return nil, rserrors.Wrap("load_range", rangeID, err)
		}
		r.AddAccessGroup(name, ag)
	}

	if t.generation < generation {
		t.generation = generation
	}
	t.ranges[rangeID] = r
	return r, nil
}

// rangeFor looks up a loaded range by table and id, waiting for recovery
// to finish its classification first.
func (s *Server) rangeFor(ctx context.Context, tableID, rangeID string) (*rng.Range, error) {
	s.mu.RLock()
	t, ok := s.tables[tableID]
	s.mu.RUnlock()
	if !ok {
		return nil, rserrors.ErrRangeNotFound
	}
	t.mu.RLock()
	r, ok := t.ranges[rangeID]
	t.mu.RUnlock()
	if !ok {
		return nil, rserrors.ErrRangeNotFound
	}
	if err := s.awaitRecovery(ctx, tableID, r.Bounds.StartRow); err != nil {
		return nil, err
	}
	return r, nil
}

// Update validates and commits a batch of mutations against one range,
// invalidating any query-cache entry the write could make stale.
func (s *Server) Update(ctx context.Context, tableID, rangeID string, muts []rng.Mutation, sync bool) error {
	r, err := s.rangeFor(ctx, tableID, rangeID)
	if err != nil {
		return err
	}
	s.mu.RLock()
	t := s.tables[tableID]
	s.mu.RUnlock()
	t.mu.RLock()
	generation := t.generation
	t.mu.RUnlock()

	if err := r.Update(ctx, generation, s.cfg.ClockSkew.Max, muts); err != nil {
		return err
	}
	s.queries.InvalidateRange(rangeID)
	if sync || classify(tableID, r.Bounds.StartRow) != groupUser {
		return r.Sync()
	}
	return nil
}

// CreateScanner builds a server-side scanner for spec against a loaded
// range and returns its first block. When spec has the point-query shape
// spec.md §4.9 describes -- an exact single row -- it first consults the
// query cache (deduplicating identical concurrent lookups via singleflight
// in queryCache.Do); a hit returns the cached block with scanner id 0 and
// never registers a server-side scanner, exactly as spec.md describes.
// A miss populates the cache only when the scan completed in one block
// (More=false); a budget-truncated point query falls through to the
// normal scanner-registering path since a partial result can't safely be
// replayed on a later fetch_scanblock from the cache alone.
func (s *Server) CreateScanner(ctx context.Context, tableID, rangeID string, spec rng.ScanSpec, maxResults int) (uint64, ScanBlock, error) {
	r, err := s.rangeFor(ctx, tableID, rangeID)
	if err != nil {
		return 0, ScanBlock{}, err
	}

	if key, ok := pointQueryKey(tableID, rangeID, spec); ok {
		blocks, cerr := s.queries.Do(key, func() ([]ScanBlock, int64, error) {
			scanner, err := r.CreateScanner(ctx, spec)
			if err != nil {
				return nil, 0, err
			}
			block := s.drain(scanner, maxResults)
			if block.More {
				return nil, 0, errScanNotCacheable
			}
			return []ScanBlock{block}, approxScanBlockBytes(block), nil
		})
		switch {
		case cerr == nil:
			return 0, blocks[0], nil
		case !errors.Is(cerr, errScanNotCacheable):
			return 0, ScanBlock{}, cerr
		}
		// errScanNotCacheable: fall through and register a real scanner.
	}

	scanner, err := r.CreateScanner(ctx, spec)
	if err != nil {
		return 0, ScanBlock{}, err
	}
	h := s.scanners.Register(rangeID, scanner)
	block := s.drain(scanner, maxResults)
	return h.id, block, nil
}

// isPointQuery reports whether spec targets exactly one row via the
// [row, row+0x00) half-open convention: since no row contains an embedded
// NUL byte, that interval contains row itself and nothing else, longer or
// shorter.
func isPointQuery(spec rng.ScanSpec) bool {
	if len(spec.StartRow) == 0 || len(spec.EndRow) != len(spec.StartRow)+1 {
		return false
	}
	if spec.EndRow[len(spec.StartRow)] != 0 {
		return false
	}
	return bytes.Equal(spec.EndRow[:len(spec.StartRow)], spec.StartRow)
}

// pointQueryKey returns a query-cache key for spec if it has the
// point-query shape, folding in everything that changes the answer
// (access groups, revision ceiling) so two differently-scoped point
// queries against the same row never collide.
func pointQueryKey(tableID, rangeID string, spec rng.ScanSpec) (string, bool) {
	if !isPointQuery(spec) {
		return "", false
	}
	return fmt.Sprintf("%s/%s/%x/%s/%d", rangeID, tableID, spec.StartRow, strings.Join(spec.AccessGroups, ","), spec.RevisionCeiling), true
}

// approxScanBlockBytes estimates a cached block's footprint for the query
// cache's byte-bounded LRU eviction.
func approxScanBlockBytes(b ScanBlock) int64 {
	var n int64
	for _, kv := range b.Cells {
		n += int64(len(kv.Key.Row)+len(kv.Key.ColumnQualifier)+len(kv.Value)) + 32
	}
	return n
}

// FetchScanblock resumes a previously created scanner and returns its next
// block, destroying the scanner automatically once it is exhausted.
func (s *Server) FetchScanblock(scannerID uint64, maxResults int) (ScanBlock, error) {
	h, ok := s.scanners.Get(scannerID)
	if !ok {
		return ScanBlock{}, rserrors.New("fetch_scanblock", rserrors.CodeValidation, "unknown scanner id")
	}
	block := s.drain(h.scanner, maxResults)
	if !block.More {
		s.scanners.Remove(scannerID)
	}
	return block, nil
}

func (s *Server) drain(scanner *rng.Scanner, maxResults int) ScanBlock {
	var block ScanBlock
	for maxResults <= 0 || len(block.Cells) < maxResults {
		res, ok := scanner.Next()
		if !ok {
			break
		}
		block.Cells = append(block.Cells, keyspace.KeyValue{Key: res.Key, Value: res.Value})
	}
	block.More = !scanner.Done()
	return block
}

// DestroyScanner releases a scanner before it would otherwise expire or
// exhaust, e.g. on client cancellation.
func (s *Server) DestroyScanner(scannerID uint64) {
	s.scanners.Remove(scannerID)
}

// DropRange removes a range from the live map, closing its access groups
// and invalidating any cached scans against it.
func (s *Server) DropRange(ctx context.Context, tableID, rangeID string) error {
	s.mu.RLock()
	t, ok := s.tables[tableID]
	s.mu.RUnlock()
	if !ok {
		return rserrors.ErrRangeNotFound
	}
	t.mu.Lock()
	r, ok := t.ranges[rangeID]
	if ok {
		delete(t.ranges, rangeID)
	}
	t.mu.Unlock()
	if !ok {
		return rserrors.ErrRangeNotFound
	}

	start, end := keyspaceBounds(r.Bounds)
	if err := s.txns.append(&txnEvent{Kind: eventDropRange, TableID: tableID, RangeID: rangeID, StartRow: start, EndRow: end}); err != nil {
		return err
	}
	s.queries.InvalidateRange(rangeID)

	for _, g := range r.AllGroups() {
		if err := g.Close(); err != nil {
			return rserrors.Wrap("drop_range", rangeID, err)
		}
	}
	return nil
}

// DropTable removes every live-mapped range of tableID, the range
// server's half of a table drop (the master's table-lifecycle bookkeeping
// that triggers this call is out of scope).
func (s *Server) DropTable(ctx context.Context, tableID string) error {
	s.mu.Lock()
	t, ok := s.tables[tableID]
	if ok {
		delete(s.tables, tableID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := s.txns.append(&txnEvent{Kind: eventDropTable, TableID: tableID}); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, r := range t.ranges {
		s.queries.InvalidateRange(id)
		for _, g := range r.AllGroups() {
			_ = g.Close()
		}
	}
	return nil
}

// UpdateSchema bumps tableID's schema generation; every subsequent update
// against a stale generation is rejected until the client rereads schema.
func (s *Server) UpdateSchema(tableID string, generation uint64) error {
	s.mu.Lock()
	t := s.tableLocked(tableID)
	s.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.generation = generation
	for _, r := range t.ranges {
		r.UpdateSchema(generation)
	}
	return nil
}

// CompactType distinguishes the two compaction strategies spec.md §6's
// compact command exposes: a minor compaction merely flushes the live
// cell cache to a new store; a major compaction additionally merges every
// existing store into one, dropping cells shadowed by a newer value or a
// tombstone.
type CompactType uint8

const (
	CompactMinor CompactType = iota
	CompactMajor
)

// Compact runs a minor or major compaction on one access group of one
// range, driven by internal/maint's scheduler or an explicit admin
// request.
func (s *Server) Compact(ctx context.Context, tableID, rangeID, groupName string, kind CompactType) error {
	r, err := s.rangeFor(ctx, tableID, rangeID)
	if err != nil {
		return err
	}
	g, ok := r.Group(groupName)
	if !ok {
		return rserrors.New("compact", rserrors.CodeValidation, "unknown access group "+groupName)
	}

	frozen, err := g.BeginMinorCompaction()
	if err != nil {
		return rserrors.Wrap("compact", rangeID, err)
	}
	storePath := g.NextStorePath()
	if err := flushCacheToStore(ctx, s.fs, frozen, storePath); err != nil {
		return rserrors.Wrap("compact", rangeID, err)
	}
	if err := g.FinishMinorCompaction(ctx, storePath); err != nil {
		return rserrors.Wrap("compact", rangeID, err)
	}

	if kind != CompactMajor {
		return nil
	}
	mergedPath := g.NextStorePath()
	if err := g.MajorCompaction(ctx, mergedPath); err != nil {
		return rserrors.Wrap("compact", rangeID, err)
	}
	return nil
}

// flushCacheToStore writes every entry of a frozen cell cache into a fresh
// immutable cell store, in the ascending key order both already share.
func flushCacheToStore(ctx context.Context, fs dfs.Filesystem, frozen *cellcache.Cache, storePath string) error {
	w, err := cellstore.NewWriter(ctx, fs, storePath, uint(frozen.Len()))
	if err != nil {
		return err
	}
	var addErr error
	if err := frozen.Scan(nil, nil, func(k []byte, v keyspace.Value) bool {
		if addErr = w.Add(k, v); addErr != nil {
			return false
		}
		return true
	}); err != nil {
		return err
	}
	if addErr != nil {
		return addErr
	}
	return w.Finish()
}

// MergeCompact merges the k oldest cell stores of one access group into
// one replacement, the maintenance scheduler's response to an access
// group crossing AccessGroup.MaxFiles.
func (s *Server) MergeCompact(ctx context.Context, tableID, rangeID, groupName string, k int) error {
	r, err := s.rangeFor(ctx, tableID, rangeID)
	if err != nil {
		return err
	}
	g, ok := r.Group(groupName)
	if !ok {
		return rserrors.New("compact", rserrors.CodeValidation, "unknown access group "+groupName)
	}
	if err := g.MergeOldest(ctx, k); err != nil {
		return rserrors.Wrap("compact", rangeID, err)
	}
	return nil
}

// CommitLogSync forces the named global log to flush, satisfying an
// explicit commit_log_sync request.
func (s *Server) CommitLogSync(group string) error {
	var l *commitlog.Log
	switch group {
	case "root":
		l = s.rootLog
	case "metadata":
		l = s.metadataLog
	case "user":
		l = s.userLog
	default:
		return rserrors.New("commit_log_sync", rserrors.CodeValidation, "unknown log group "+group)
	}
	return l.Sync()
}

// Stats is a snapshot of server-wide counters for get_statistics.
type Stats struct {
	Tables           int
	Ranges           int
	Scanners         int
	MemoryUsedBytes  int64
	MemoryLimitBytes int64
	QueryCacheSize   int
	QueryCacheBytes  int64
	QueryCacheHits   int64
	QueryCacheMisses int64
}

// GetStatistics reports current server occupancy.
func (s *Server) GetStatistics() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ranges := 0
	for _, t := range s.tables {
		t.mu.RLock()
		ranges += len(t.ranges)
		t.mu.RUnlock()
	}
	size, bytes, hits, misses := s.queries.Stats()
	return Stats{
		Tables:           len(s.tables),
		Ranges:           ranges,
		Scanners:         s.scanners.Len(),
		MemoryUsedBytes:  atomic.LoadInt64(&s.memUsed),
		MemoryLimitBytes: s.memLimit,
		QueryCacheSize:   size,
		QueryCacheBytes:  bytes,
		QueryCacheHits:   hits,
		QueryCacheMisses: misses,
	}
}

// GroupSnapshot reports one access group's compaction-relevant occupancy.
type GroupSnapshot struct {
	Name        string
	MemoryUsage int64
	StoreCount  int
}

// RangeSnapshot reports one loaded range's access groups, the unit
// internal/maint's scheduler walks to decide what to compact or split.
type RangeSnapshot struct {
	TableID string
	RangeID string
	Bounds  keyspace.RowRange
	Groups  []GroupSnapshot
}

// RangeSnapshots returns a point-in-time view of every loaded range and
// its access groups' occupancy, for the maintenance scheduler to rank
// compaction/split candidates against.
func (s *Server) RangeSnapshots() []RangeSnapshot {
	s.mu.RLock()
	tables := make(map[string]*tableInfo, len(s.tables))
	for id, t := range s.tables {
		tables[id] = t
	}
	s.mu.RUnlock()

	var out []RangeSnapshot
	for tableID, t := range tables {
		t.mu.RLock()
		for rangeID, r := range t.ranges {
			groups := r.AllGroups()
			gs := make([]GroupSnapshot, len(groups))
			for i, g := range groups {
				gs[i] = GroupSnapshot{Name: g.Name, MemoryUsage: g.MemoryUsage(), StoreCount: g.StoreCount()}
			}
			out = append(out, RangeSnapshot{TableID: tableID, RangeID: rangeID, Bounds: r.Bounds, Groups: gs})
		}
		t.mu.RUnlock()
	}
	return out
}

// SweepExpiredScanners destroys every scanner idle past its TTL and
// returns how many were reclaimed, for the maintenance scheduler's
// periodic pass (spec.md §5 Cancellation & timeouts).
func (s *Server) SweepExpiredScanners() int {
	return len(s.scanners.Sweep())
}

// PurgeLogs drops every commit-log fragment in the three global logs that
// no longer has any range depending on it, the maintenance scheduler's
// periodic response to spec.md §4.5's prune operation (the retention
// window itself is enforced by each fragment's link count rather than a
// revision threshold computed here).
func (s *Server) PurgeLogs(ctx context.Context) (int, error) {
	total := 0
	for _, l := range []*commitlog.Log{s.rootLog, s.metadataLog, s.userLog} {
		n, err := l.Purge(ctx)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close shuts the server down: closes every range's access groups and the
// three global commit logs.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, t := range s.tables {
		t.mu.RLock()
		for _, r := range t.ranges {
			for _, g := range r.AllGroups() {
				if err := g.Close(); err != nil && firstErr == nil {
					firstErr = err
				}
			}
		}
		t.mu.RUnlock()
	}
	for _, l := range []*commitlog.Log{s.rootLog, s.metadataLog, s.userLog} {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.txns.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// totalSystemMemory estimates usable RAM for a percentage-based memory
// limit. A fixed fallback keeps this dependency-free; an operator who
// needs the limit to track actual host RAM should configure an absolute
// byte count instead (cfg.MemoryLimit.Bytes).
func totalSystemMemory() int64 {
	return 8 << 30
}
