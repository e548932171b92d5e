package rangeserver

import (
	"context"
	"fmt"
	"path"

	"github.com/hypertable-go/rangeserver/internal/accessgroup"
	"github.com/hypertable-go/rangeserver/internal/commitlog"
	"github.com/hypertable-go/rangeserver/internal/keyspace"
	"github.com/hypertable-go/rangeserver/internal/rng"
	"github.com/hypertable-go/rangeserver/internal/rserrors"
)

// defaultAccessGroup is the access group every range recovered from the
// transaction log is reopened with. Schema-driven access-group layout is
// owned by the Master (out of scope, spec.md's explicit non-goal), so
// recovery falls back to a single group rather than guessing a schema.
const defaultAccessGroup = "default"

// recover runs the startup recovery sequence of spec.md §4.10 steps 1-5:
// replay the range server's own transaction log to rebuild the shape of
// the live map, then replay the three global commit logs in dependency
// order (root, metadata, user), feeding each block's cells into the
// matching range's access groups, opening each recovery latch as its tier
// finishes.
func (s *Server) recover(ctx context.Context) {
	if err := s.replayTxnLogIntoLiveMap(ctx); err != nil {
		s.logger.Errorf("rangeserver: recovery: transaction log replay: %v", err)
	}

	if err := s.replayGlobalLog(ctx, s.rootLog, groupRoot); err != nil {
		s.logger.Errorf("rangeserver: recovery: root log replay: %v", err)
	}
	close(s.latches.root)

	if err := s.replayGlobalLog(ctx, s.metadataLog, groupMetadata); err != nil {
		s.logger.Errorf("rangeserver: recovery: metadata log replay: %v", err)
	}
	close(s.latches.metadata)

	if err := s.replayGlobalLog(ctx, s.userLog, groupUser); err != nil {
		s.logger.Errorf("rangeserver: recovery: user log replay: %v", err)
	}
	close(s.latches.all)
}

func (s *Server) replayTxnLogIntoLiveMap(ctx context.Context) error {
	return replayTxnLog(ctx, s.fs, s.cfg.DataDirectory, func(e *txnEvent) error {
		switch e.Kind {
		case eventLoadRange:
			bounds := keyspace.RowRange{TableID: e.TableID, StartRow: e.StartRow, EndRow: e.EndRow}
			if _, err := s.reopenRange(ctx, bounds, e.RangeID, e.Generation); err != nil {
				return err
			}
		case eventDropRange:
			s.mu.RLock()
			t, ok := s.tables[e.TableID]
			s.mu.RUnlock()
			if ok {
				t.mu.Lock()
				delete(t.ranges, e.RangeID)
				t.mu.Unlock()
			}
		case eventDropTable:
			s.mu.Lock()
			delete(s.tables, e.TableID)
			s.mu.Unlock()
		case eventSplitShrunk:
			s.mu.RLock()
			t, ok := s.tables[e.TableID]
			s.mu.RUnlock()
			if ok {
				t.mu.RLock()
				if r, ok := t.ranges[e.RangeID]; ok {
					r.ShrinkComplete()
				}
				t.mu.RUnlock()
			}
		}
		return nil
	})
}

// reopenRange reinstalls a range in the live map during recovery, without
// re-appending to the transaction log (the event being replayed is its own
// record of this having already happened).
func (s *Server) reopenRange(ctx context.Context, bounds keyspace.RowRange, rangeID string, generation uint64) (*rng.Range, error) {
	s.mu.Lock()
	t := s.tableLocked(bounds.TableID)
	s.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	g := classify(bounds.TableID, bounds.StartRow)
	r := rng.New(rangeID, bounds, s.logFor(g))
	r.UpdateSchema(generation)

	dir := path.Join(s.cfg.DataDirectory, "tables", bounds.TableID, rangeID)
	ag, err := accessgroup.New(ctx, defaultAccessGroup, s.fs, path.Join(dir, defaultAccessGroup))
	if err != nil {
		return nil, fmt.Errorf("rangeserver: recovery: reopen range %s: %w", rangeID, err)
	}
	r.AddAccessGroup(defaultAccessGroup, ag)

	if t.generation < generation {
		t.generation = generation
	}
	t.ranges[rangeID] = r
	return r, nil
}

// replayGlobalLog replays every fragment of one global commit log,
// applying each block's mutations directly into the live ranges of
// matching classification, keyed by row.
func (s *Server) replayGlobalLog(ctx context.Context, log *commitlog.Log, group logGroup) error {
	fn := func(revision uint64, payload []byte) error {
		return s.applyReplayBlock(group, payload)
	}
	dir := logDir(s.cfg.DataDirectory, group)
	if coder := log.ErasureCoder(); coder != nil {
		return commitlog.ReplayErasureCoded(ctx, s.fs, dir, coder, fn)
	}
	return commitlog.Replay(ctx, s.fs, dir, fn)
}

func logDir(dataDir string, group logGroup) string {
	return path.Join(dataDir, "log", group.String())
}

func (s *Server) applyReplayBlock(group logGroup, payload []byte) error {
	muts, err := decodeMutations(payload)
	if err != nil {
		return rserrors.Wrap("replay_update", "", err)
	}
	for _, m := range muts {
		r := s.findRangeForRow(group, m.Key.Row)
		if r == nil {
			continue // range no longer live (dropped or moved since this entry was written)
		}
		for _, ag := range r.AllGroups() {
			if err := ag.Apply(m.Key.Encode(), m.Value); err != nil {
				return rserrors.Wrap("replay_update", r.ID, err)
			}
		}
	}
	return nil
}

// findRangeForRow scans every live range of this classification for one
// whose bounds contain row. A replay-time linear scan is acceptable: it
// runs once at startup, not on the hot path.
func (s *Server) findRangeForRow(group logGroup, row []byte) *rng.Range {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for tableID, t := range s.tables {
		t.mu.RLock()
		for _, r := range t.ranges {
			if classify(tableID, r.Bounds.StartRow) == group && r.Bounds.Contains(row) {
				t.mu.RUnlock()
				return r
			}
		}
		t.mu.RUnlock()
	}
	return nil
}

// decodeMutations parses the payload format rng.Range.commit produces:
// a sequence of (length-prefixed encoded key, length-prefixed value) pairs.
func decodeMutations(payload []byte) ([]rng.Mutation, error) {
	var out []rng.Mutation
	for len(payload) > 0 {
		if len(payload) < 4 {
			return nil, fmt.Errorf("rangeserver: truncated mutation key length")
		}
		klen := int(payload[0])<<24 | int(payload[1])<<16 | int(payload[2])<<8 | int(payload[3])
		payload = payload[4:]
		if len(payload) < klen {
			return nil, fmt.Errorf("rangeserver: truncated mutation key body")
		}
		encKey := payload[:klen]
		payload = payload[klen:]

		val, rest, err := keyspace.DecodeValue(payload)
		if err != nil {
			return nil, err
		}
		payload = rest

		key, err := keyspace.Decode(encKey)
		if err != nil {
			return nil, err
		}
		out = append(out, rng.Mutation{Key: key, Value: val})
	}
	return out, nil
}

// replaySession is the in-progress state of an externally driven replay_*
// sequence (replay_begin/replay_load_range/replay_update/replay_commit),
// used by a failover coordinator rather than this server's own startup
// recovery. spec.md §4.12: group selects which global log the replayed
// ranges belong to; requests against other groups are rejected until
// replay_commit merges this session into the live map.
type replaySession struct {
	group  logGroup
	tables map[string]*tableInfo
}

// ReplayBegin starts a fresh external replay session for the named log
// group ("root", "metadata", "user").
func (s *Server) ReplayBegin(group string) error {
	g, err := parseGroup(group)
	if err != nil {
		return err
	}
	s.replayMu.Lock()
	defer s.replayMu.Unlock()
	s.replay = &replaySession{group: g, tables: make(map[string]*tableInfo)}
	return nil
}

// ReplayLoadRange registers a range into the current replay session, ready
// to receive replay_update blocks.
func (s *Server) ReplayLoadRange(ctx context.Context, group string, bounds keyspace.RowRange, rangeID string, generation uint64) error {
	g, err := parseGroup(group)
	if err != nil {
		return err
	}
	s.replayMu.Lock()
	defer s.replayMu.Unlock()
	if s.replay == nil || s.replay.group != g {
		return rserrors.New("replay_load_range", rserrors.CodeValidation, "no matching replay session open")
	}
	t, ok := s.replay.tables[bounds.TableID]
	if !ok {
		t = &tableInfo{ranges: make(map[string]*rng.Range)}
		s.replay.tables[bounds.TableID] = t
	}
	r := rng.New(rangeID, bounds, s.logFor(g))
	r.UpdateSchema(generation)
	dir := path.Join(s.cfg.DataDirectory, "tables", bounds.TableID, rangeID)
	ag, err := accessgroup.New(ctx, defaultAccessGroup, s.fs, path.Join(dir, defaultAccessGroup))
	if err != nil {
		return rserrors.Wrap("replay_load_range", rangeID, err)
	}
	r.AddAccessGroup(defaultAccessGroup, ag)
	t.generation = generation
	t.ranges[rangeID] = r
	return nil
}

// ReplayUpdate applies one commit-log block to the ranges registered in
// the current replay session.
func (s *Server) ReplayUpdate(group string, block []byte) error {
	g, err := parseGroup(group)
	if err != nil {
		return err
	}
	s.replayMu.Lock()
	defer s.replayMu.Unlock()
	if s.replay == nil || s.replay.group != g {
		return rserrors.New("replay_update", rserrors.CodeValidation, "no matching replay session open")
	}
	muts, err := decodeMutations(block)
	if err != nil {
		return rserrors.Wrap("replay_update", "", err)
	}
	for _, m := range muts {
		for _, t := range s.replay.tables {
			t.mu.RLock()
			for _, r := range t.ranges {
				if r.Bounds.Contains(m.Key.Row) {
					for _, ag := range r.AllGroups() {
						if err := ag.Apply(m.Key.Encode(), m.Value); err != nil {
							t.mu.RUnlock()
							return rserrors.Wrap("replay_update", r.ID, err)
						}
					}
				}
			}
			t.mu.RUnlock()
		}
	}
	return nil
}

// ReplayCommit merges the current replay session into the live map and
// closes it, the failover equivalent of this server's own startup
// recovery finishing one log tier.
func (s *Server) ReplayCommit(group string) error {
	g, err := parseGroup(group)
	if err != nil {
		return err
	}
	s.replayMu.Lock()
	session := s.replay
	s.replay = nil
	s.replayMu.Unlock()

	if session == nil || session.group != g {
		return rserrors.New("replay_commit", rserrors.CodeValidation, "no matching replay session open")
	}

	s.mu.Lock()
	for tableID, rt := range session.tables {
		lt := s.tableLocked(tableID)
		lt.mu.Lock()
		if lt.generation < rt.generation {
			lt.generation = rt.generation
		}
		for id, r := range rt.ranges {
			lt.ranges[id] = r
		}
		lt.mu.Unlock()
	}
	s.mu.Unlock()
	return nil
}

func parseGroup(group string) (logGroup, error) {
	switch group {
	case "root":
		return groupRoot, nil
	case "metadata":
		return groupMetadata, nil
	case "user":
		return groupUser, nil
	default:
		return 0, rserrors.New("replay", rserrors.CodeValidation, "unknown log group "+group)
	}
}
