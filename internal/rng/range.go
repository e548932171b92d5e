// Package rng implements a Range: the split state machine, the per-update
// validation/commit contract, and the per-scan contract, spec.md §4.9.
// The two update-path mutexes mirror a pipelined validate/commit split so
// one batch's commit-log append can overlap the next batch's validation;
// see DESIGN.md for the fairness caveat this leaves open.
package rng

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hypertable-go/rangeserver/internal/accessgroup"
	"github.com/hypertable-go/rangeserver/internal/commitlog"
	"github.com/hypertable-go/rangeserver/internal/keyspace"
	"github.com/hypertable-go/rangeserver/internal/rserrors"
)

// State is a range's position in the split state machine.
type State int

const (
	StateSteady State = iota
	StateSplitLogInstalled
	StateSplitShrunk
)

func (s State) String() string {
	switch s {
	case StateSteady:
		return "STEADY"
	case StateSplitLogInstalled:
		return "SPLIT_LOG_INSTALLED"
	case StateSplitShrunk:
		return "SPLIT_SHRUNK"
	default:
		return "UNKNOWN"
	}
}

// Mutation is one key/value pair an Update call applies.
type Mutation struct {
	Key   *keyspace.Key
	Value keyspace.Value
}

// Range owns one row interval of one table: its access groups, its slice
// of the commit log, and the split state machine governing how updates
// route once a split is underway.
type Range struct {
	ID       string
	Bounds   keyspace.RowRange
	Log      *commitlog.Log
	groupsMu sync.RWMutex
	Groups   map[string]*accessgroup.Group

	schemaGeneration uint64

	// updateMuA serializes validation (schema check, split routing,
	// revision-order and clock-skew checks); updateMuB serializes the
	// commit-log append and cache apply. Two mutexes instead of one let a
	// second batch begin validating while the first is still committing.
	updateMuA sync.Mutex
	updateMuB sync.Mutex

	state        int32 // State, accessed atomically
	splitPoint   []byte
	lowChild     *Range        // set once SPLIT_LOG_INSTALLED
	highChild    *Range
	transferLog  *commitlog.Log // split-off half's durability during SPLIT_LOG_INSTALLED

	lastRevision uint64 // highest revision assigned or seen, for ordering checks
	revMu        sync.Mutex
}

// New returns a steady-state range with no access groups yet attached.
func New(id string, bounds keyspace.RowRange, log *commitlog.Log) *Range {
	return &Range{
		ID:     id,
		Bounds: bounds,
		Log:    log,
		Groups: make(map[string]*accessgroup.Group),
	}
}

// State returns the range's current split-state-machine state.
func (r *Range) State() State {
	return State(atomic.LoadInt32(&r.state))
}

// SchemaGeneration returns the schema generation this range was last
// validated against; update_schema bumps it.
func (r *Range) SchemaGeneration() uint64 {
	return atomic.LoadUint64(&r.schemaGeneration)
}

// UpdateSchema bumps the range's schema generation. A later Update that
// carries a non-zero older generation is rejected during validation with
// GENERATION_MISMATCH; an update already past validation is not affected.
func (r *Range) UpdateSchema(generation uint64) {
	atomic.StoreUint64(&r.schemaGeneration, generation)
}

// InstallSplit transitions STEADY -> SPLIT_LOG_INSTALLED: splitPoint
// divides the range, and transferLog is a fresh commit log under its own
// directory that every mutation landing in the split-off (high) half is
// durably appended to instead of this range's own log, so the child range the master assigns
// after the split can replay exactly the rows it inherited without
// depending on the parent's own log (spec.md §4.9's split state machine).
func (r *Range) InstallSplit(splitPoint []byte, transferLog *commitlog.Log, low, high *Range) bool {
	if !atomic.CompareAndSwapInt32(&r.state, int32(StateSteady), int32(StateSplitLogInstalled)) {
		return false
	}
	r.splitPoint = splitPoint
	r.transferLog = transferLog
	r.lowChild = low
	r.highChild = high
	return true
}

// SplitPoint returns the row this range is currently splitting at, and
// whether a split is in fact pending.
func (r *Range) SplitPoint() ([]byte, bool) {
	return r.splitPoint, r.State() == StateSplitLogInstalled
}

// TransferLog returns the split transfer log installed by InstallSplit,
// or nil if no split is pending. The range-server core links this log
// into the appropriate global commit log once the shrink completes.
func (r *Range) TransferLog() *commitlog.Log {
	return r.transferLog
}

// ShrinkComplete transitions SPLIT_LOG_INSTALLED -> SPLIT_SHRUNK once this
// range has handed off the high half's rows and now only serves the low
// half directly (the live map entry for the low half is this same Range,
// relabeled, not a new object -- mirroring the original's in-place shrink).
func (r *Range) ShrinkComplete() bool {
	if !atomic.CompareAndSwapInt32(&r.state, int32(StateSplitLogInstalled), int32(StateSplitShrunk)) {
		return false
	}
	r.Bounds.EndRow = append([]byte(nil), r.splitPoint...)
	return true
}

// SettleSteady transitions SPLIT_SHRUNK -> STEADY once the metadata table
// reflects the split and maintenance has acknowledged it.
func (r *Range) SettleSteady() bool {
	return atomic.CompareAndSwapInt32(&r.state, int32(StateSplitShrunk), int32(StateSteady))
}

// route returns the child range a key belongs to mid-split, or nil if
// this range is not currently splitting.
func (r *Range) route(row []byte) *Range {
	if r.State() != StateSplitLogInstalled || r.splitPoint == nil {
		return nil
	}
	if compareRows(row, r.splitPoint) <= 0 {
		return r.lowChild
	}
	return r.highChild
}

func compareRows(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}

// Update validates and applies a batch of mutations as one unit: every
// mutation must carry a generation matching the range's current schema
// and must not go backwards in revision order relative to the last
// mutation this range has seen. AUTO_TIMESTAMP mutations have both
// timestamp and revision assigned during validation as
// max(server clock in microseconds, latest_range_revision+1); mutations
// carrying an explicit timestamp but no explicit revision keep their
// timestamp and get only the revision assigned. Both kinds are rejected
// with CLOCK_SKEW if the server clock reads more than the configured
// tolerance behind latest_range_revision (spec.md §5, §9(c)). This is also why validation
// and commit are split across two mutexes: assignment has to happen
// before the commit-log append it will be durable in.
func (r *Range) Update(ctx context.Context, generation uint64, clockSkewTolerance time.Duration, muts []Mutation) error {
	r.updateMuA.Lock()
	if err := r.validate(generation, clockSkewTolerance, muts); err != nil {
		r.updateMuA.Unlock()
		return err
	}
	r.updateMuA.Unlock()

	r.updateMuB.Lock()
	defer r.updateMuB.Unlock()
	return r.commit(ctx, muts)
}

func (r *Range) validate(generation uint64, clockSkewTolerance time.Duration, muts []Mutation) error {
	if generation != 0 && generation != r.SchemaGeneration() {
		return rserrors.NewValidation("update", r.ID, rserrors.ValidationGenerationMismatch,
			"client schema generation is stale")
	}

	r.revMu.Lock()
	defer r.revMu.Unlock()

	nowMicros := uint64(time.Now().UnixNano() / int64(time.Microsecond))
	skewToleranceMicros := uint64(clockSkewTolerance / time.Microsecond)

	for i := range muts {
		k := muts[i].Key
		if !r.Bounds.Contains(k.Row) {
			return rserrors.NewValidation("update", r.ID, rserrors.ValidationOutOfRange,
				"row outside this range's boundary")
		}

		autoTimestamp := k.Ctrl&keyspace.AutoTimestamp != 0 || k.Timestamp == keyspace.AutoTimestampValue
		haveTimestampOnly := !autoTimestamp && k.Ctrl&keyspace.HaveTimestamp != 0 && k.Ctrl&keyspace.HaveRevision == 0

		if autoTimestamp || haveTimestampOnly {
			// spec.md §5: auto_revision = max(local clock, latest_range_revision+1),
			// so the assigned revision is both ≥ every revision this range has
			// already committed and ≥ the current wall-clock reading.
			autoRevision := nowMicros
			if r.lastRevision+1 > autoRevision {
				autoRevision = r.lastRevision + 1
			}
			// spec.md §9(c): reject rather than silently advance when the
			// server clock has regressed more than max_clock_skew behind
			// latest_range_revision.
			if skewToleranceMicros > 0 && r.lastRevision > nowMicros &&
				r.lastRevision-nowMicros > skewToleranceMicros {
				return rserrors.NewValidation("update", r.ID, rserrors.ValidationClockSkew,
					"server clock too far behind this range's latest revision")
			}
			if autoTimestamp {
				k.Timestamp = autoRevision
			}
			k.Revision = autoRevision
			r.lastRevision = autoRevision
		} else {
			if k.Revision < r.lastRevision {
				return rserrors.NewValidation("update", r.ID, rserrors.ValidationRevisionOrderError,
					"revision moves backwards relative to a prior mutation")
			}
			r.lastRevision = k.Revision
		}
	}
	return nil
}

// commit appends the batch to the commit log and applies it to the cell
// caches. While a split is pending (SPLIT_LOG_INSTALLED), mutations whose
// row falls in the split-off half are appended to the transfer log
// instead of the range's own commit log, per spec.md §4.9 step 7: the
// parent keeps serving the whole range (and so still applies every
// mutation to its own caches) until the shrink completes, while the
// split-off rows are durable only in the log the future child range will
// replay.
func (r *Range) commit(ctx context.Context, muts []Mutation) error {
	if len(muts) == 0 {
		return nil
	}
	splitPoint, splitting := r.SplitPoint()

	var goPayload, transferPayload []byte
	var goMaxRev, transferMaxRev uint64
	for _, m := range muts {
		enc := m.Key.Encode()
		entry := m.Value.AppendEncoded(lengthPrefixed(enc))
		if splitting && compareRows(m.Key.Row, splitPoint) > 0 {
			transferPayload = append(transferPayload, entry...)
			if m.Key.Revision > transferMaxRev {
				transferMaxRev = m.Key.Revision
			}
			continue
		}
		goPayload = append(goPayload, entry...)
		if m.Key.Revision > goMaxRev {
			goMaxRev = m.Key.Revision
		}
	}

	if len(goPayload) > 0 {
		if _, err := r.Log.Append(ctx, goMaxRev, goPayload); err != nil {
			return rserrors.Wrap("update", r.ID, err)
		}
	}
	if len(transferPayload) > 0 && r.transferLog != nil {
		if _, err := r.transferLog.Append(ctx, transferMaxRev, transferPayload); err != nil {
			return rserrors.Wrap("update", r.ID, err)
		}
	}

	r.groupsMu.RLock()
	defer r.groupsMu.RUnlock()
	for _, m := range muts {
		enc := m.Key.Encode()
		for _, g := range r.Groups {
			if err := g.Apply(enc, m.Value); err != nil {
				return rserrors.Wrap("update", r.ID, err)
			}
		}
	}
	return nil
}

// Sync forces the range's commit log (and, mid-split, its transfer log)
// to durably flush, satisfying a sync=true update or an explicit
// commit_log_sync request.
func (r *Range) Sync() error {
	if err := r.Log.Sync(); err != nil {
		return rserrors.Wrap("commit_log_sync", r.ID, err)
	}
	if tl := r.transferLog; tl != nil {
		if err := tl.Sync(); err != nil {
			return rserrors.Wrap("commit_log_sync", r.ID, err)
		}
	}
	return nil
}

func lengthPrefixed(b []byte) []byte {
	var lenBuf [4]byte
	n := len(b)
	lenBuf[0] = byte(n >> 24)
	lenBuf[1] = byte(n >> 16)
	lenBuf[2] = byte(n >> 8)
	lenBuf[3] = byte(n)
	return append(lenBuf[:], b...)
}

// AddAccessGroup attaches a named access group to the range, e.g. during
// load_range or after update_schema adds a column family.
func (r *Range) AddAccessGroup(name string, g *accessgroup.Group) {
	r.groupsMu.Lock()
	defer r.groupsMu.Unlock()
	r.Groups[name] = g
}

// Group returns the named access group, if the range has one attached.
func (r *Range) Group(name string) (*accessgroup.Group, bool) {
	r.groupsMu.RLock()
	defer r.groupsMu.RUnlock()
	g, ok := r.Groups[name]
	return g, ok
}

// AllGroups returns a snapshot of every access group currently attached to
// the range, safe to iterate without holding the range's internal lock.
func (r *Range) AllGroups() []*accessgroup.Group {
	r.groupsMu.RLock()
	defer r.groupsMu.RUnlock()
	out := make([]*accessgroup.Group, 0, len(r.Groups))
	for _, g := range r.Groups {
		out = append(out, g)
	}
	return out
}

// GroupNames returns the names of every access group attached to the
// range, for a caller (e.g. a split) that needs to look each one up by
// name afterward rather than just iterate the *accessgroup.Group values.
func (r *Range) GroupNames() []string {
	r.groupsMu.RLock()
	defer r.groupsMu.RUnlock()
	out := make([]string, 0, len(r.Groups))
	for name := range r.Groups {
		out = append(out, name)
	}
	return out
}
