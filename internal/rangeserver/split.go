package rangeserver

import (
	"bytes"
	"context"
	"path"

	"github.com/hypertable-go/rangeserver/internal/accessgroup"
	"github.com/hypertable-go/rangeserver/internal/commitlog"
	"github.com/hypertable-go/rangeserver/internal/keyspace"
	"github.com/hypertable-go/rangeserver/internal/rng"
	"github.com/hypertable-go/rangeserver/internal/rserrors"
)

// SplitRange drives a range through its split state machine end to end
// (spec.md §4.9): pick a midpoint row, install a transfer log so writes
// landing in the split-off half stay durable while the split is in
// flight, physically partition every access group at the midpoint,
// register the new high-half range in the live map, and shrink the
// parent's own bounds. Unlike a single update or scan, this method
// briefly holds the range's update locks while it partitions on-disk
// data, so it is driven by the maintenance scheduler rather than an
// application-queue worker.
func (s *Server) SplitRange(ctx context.Context, tableID, rangeID string) (childID string, err error) {
	s.mu.RLock()
	t, ok := s.tables[tableID]
	s.mu.RUnlock()
	if !ok {
		return "", rserrors.ErrRangeNotFound
	}
	t.mu.RLock()
	r, ok := t.ranges[rangeID]
	t.mu.RUnlock()
	if !ok {
		return "", rserrors.ErrRangeNotFound
	}
	if r.State() != rng.StateSteady {
		return "", rserrors.New("split", rserrors.CodeValidation, "range is already splitting")
	}

	splitPoint, err := s.chooseSplitPoint(ctx, r)
	if err != nil {
		return "", rserrors.Wrap("split", rangeID, err)
	}
	if splitPoint == nil {
		return "", rserrors.New("split", rserrors.CodeValidation, "range has no data to split at")
	}

	childID = rangeID + "-hi"
	parentDir := path.Join(s.cfg.DataDirectory, "tables", tableID, rangeID)
	childDir := path.Join(s.cfg.DataDirectory, "tables", tableID, childID)
	transferLog, err := commitlog.Open(ctx, s.fs, path.Join(childDir, "split-transfer"), s.cfg.CommitLog.RollLimit)
	if err != nil {
		return "", rserrors.Wrap("split", rangeID, err)
	}

	if !r.InstallSplit(splitPoint, transferLog, nil, nil) {
		return "", rserrors.New("split", rserrors.CodeValidation, "range is already splitting")
	}
	parentStart, parentEnd := keyspaceBounds(r.Bounds)
	if err := s.txns.append(&txnEvent{Kind: eventSplitInstalled, TableID: tableID, RangeID: rangeID, StartRow: parentStart, EndRow: parentEnd}); err != nil {
		return "", err
	}

	childGen := r.SchemaGeneration()
	childBounds := keyspace.RowRange{TableID: tableID, StartRow: append([]byte(nil), splitPoint...), EndRow: append([]byte(nil), r.Bounds.EndRow...)}
	g := classify(tableID, childBounds.StartRow)
	child := rng.New(childID, childBounds, s.logFor(g))
	child.UpdateSchema(childGen)

	for _, name := range r.GroupNames() {
		parentGroup, _ := r.Group(name)
		highGroup, err := parentGroup.SplitAt(ctx, splitPoint, path.Join(childDir, name))
		if err != nil {
			return "", rserrors.Wrap("split", rangeID, err)
		}
		child.AddAccessGroup(name, highGroup)
	}

	if !r.ShrinkComplete() {
		return "", rserrors.New("split", rserrors.CodeValidation, "range left SPLIT_LOG_INSTALLED unexpectedly")
	}

	if err := s.logFor(g).LinkForeign(ctx, transferLog); err != nil {
		return "", rserrors.Wrap("split", rangeID, err)
	}

	t.mu.Lock()
	t.ranges[childID] = child
	t.mu.Unlock()

	shrunkStart, shrunkEnd := keyspaceBounds(r.Bounds)
	if err := s.txns.append(&txnEvent{Kind: eventSplitShrunk, TableID: tableID, RangeID: rangeID, StartRow: shrunkStart, EndRow: shrunkEnd}); err != nil {
		return "", err
	}
	if err := s.txns.append(&txnEvent{Kind: eventLoadRange, TableID: tableID, RangeID: childID, StartRow: append([]byte(nil), childBounds.StartRow...), EndRow: append([]byte(nil), childBounds.EndRow...), Generation: childGen}); err != nil {
		return "", err
	}
	r.SettleSteady()
	s.queries.InvalidateRange(rangeID)
	_ = parentDir // retained for symmetry with childDir; the parent keeps its existing directory

	return childID, nil
}

// chooseSplitPoint scans the range's access group with the most cell
// stores for its median row, the midpoint the original computes from
// its own block-index row samples; a range with no access groups, or
// fewer than two distinct rows in that group, returns (nil, nil) so the
// caller can skip splitting rather than picking an arbitrary row.
func (s *Server) chooseSplitPoint(ctx context.Context, r *rng.Range) ([]byte, error) {
	groups := r.AllGroups()
	if len(groups) == 0 {
		return nil, nil
	}

	var best *accessgroup.Group
	bestCount := -1
	for _, g := range groups {
		if n := g.StoreCount(); n > bestCount {
			bestCount = n
			best = g
		}
	}

	var rows [][]byte
	seen := map[string]bool{}
	if err := best.Scan(ctx, r.Bounds.StartRow, r.Bounds.EndRow, func(encKey, _ []byte) bool {
		k, derr := keyspace.Decode(encKey)
		if derr != nil {
			return true
		}
		row := string(k.Row)
		if !seen[row] {
			seen[row] = true
			rows = append(rows, k.Row)
		}
		return true
	}); err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, nil
	}
	mid := rows[len(rows)/2]
	if bytes.Equal(mid, r.Bounds.StartRow) {
		mid = rows[len(rows)-1]
	}
	return mid, nil
}
