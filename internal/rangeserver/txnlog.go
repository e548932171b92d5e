package rangeserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/tinylib/msgp/msgp"

	"github.com/hypertable-go/rangeserver/internal/dfs"
	"github.com/hypertable-go/rangeserver/internal/keyspace"
)

// eventKind identifies one entry in the range-transaction log: every
// live-map mutation the range server makes that isn't itself durable in
// a cell's commit log entry (loading a range, dropping one, installing or
// completing a split) gets one, so startup recovery
// (replayTxnLogIntoLiveMap) can reconstruct the live map's shape before
// commit-log replay repopulates its contents.
type eventKind uint8

const (
	eventLoadRange eventKind = iota + 1
	eventDropRange
	eventDropTable
	eventSplitInstalled
	eventSplitShrunk
)

// txnEvent is one range-transaction log record. Encoded and decoded with
// tinylib/msgp's raw Writer/Reader primitives directly (rather than a
// generated Marshaler), since the record shape is small and fixed and a
// generated (Un)MarshalMsg pair would need a codegen step this repo has
// no build hook for.
type txnEvent struct {
	Kind       eventKind
	TableID    string
	RangeID    string
	StartRow   []byte
	EndRow     []byte
	Generation uint64
}

func (e *txnEvent) encode(w *msgp.Writer) error {
	if err := w.WriteMapHeader(6); err != nil {
		return err
	}
	for _, kv := range []struct {
		key string
		wr  func() error
	}{
		{"kind", func() error { return w.WriteUint8(uint8(e.Kind)) }},
		{"table", func() error { return w.WriteString(e.TableID) }},
		{"range", func() error { return w.WriteString(e.RangeID) }},
		{"start", func() error { return w.WriteBytes(e.StartRow) }},
		{"end", func() error { return w.WriteBytes(e.EndRow) }},
		{"gen", func() error { return w.WriteUint64(e.Generation) }},
	} {
		if err := w.WriteString(kv.key); err != nil {
			return err
		}
		if err := kv.wr(); err != nil {
			return err
		}
	}
	return nil
}

func decodeTxnEvent(r *msgp.Reader) (*txnEvent, error) {
	n, err := r.ReadMapHeader()
	if err != nil {
		return nil, err
	}
	e := &txnEvent{}
	for i := uint32(0); i < n; i++ {
		key, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		switch key {
		case "kind":
			v, err := r.ReadUint8()
			if err != nil {
				return nil, err
			}
			e.Kind = eventKind(v)
		case "table":
			if e.TableID, err = r.ReadString(); err != nil {
				return nil, err
			}
		case "range":
			if e.RangeID, err = r.ReadString(); err != nil {
				return nil, err
			}
		case "start":
			if e.StartRow, err = r.ReadBytes(nil); err != nil {
				return nil, err
			}
		case "end":
			if e.EndRow, err = r.ReadBytes(nil); err != nil {
				return nil, err
			}
		case "gen":
			if e.Generation, err = r.ReadUint64(); err != nil {
				return nil, err
			}
		default:
			if err := r.Skip(); err != nil {
				return nil, err
			}
		}
	}
	return e, nil
}

// txnLog is the range server's own transaction log: a single append-only
// file of msgp-encoded txnEvents under cfg.DataDirectory, replayed once at
// startup (before commit-log replay) to rebuild which ranges this server
// was serving, per spec.md §4.10 step 1.
type txnLog struct {
	fs   dfs.Filesystem
	path string

	mu sync.Mutex
	w  dfs.WriteFile
	mw *msgp.Writer
}

func openTxnLog(ctx context.Context, fs dfs.Filesystem, dataDir string) (*txnLog, error) {
	dir := path.Join(dataDir, "txn")
	if err := fs.Mkdirs(ctx, dir); err != nil {
		return nil, fmt.Errorf("rangeserver: txn log: %w", err)
	}
	p := path.Join(dir, "events.msgp")
	w, err := fs.Create(ctx, p, dfs.FlagCreate|dfs.FlagAppend)
	if err != nil {
		return nil, fmt.Errorf("rangeserver: txn log: open %s: %w", p, err)
	}
	return &txnLog{fs: fs, path: p, w: w, mw: msgp.NewWriter(w)}, nil
}

func (t *txnLog) append(e *txnEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := e.encode(t.mw); err != nil {
		return fmt.Errorf("rangeserver: txn log append: %w", err)
	}
	if err := t.mw.Flush(); err != nil {
		return fmt.Errorf("rangeserver: txn log append: %w", err)
	}
	return t.w.Sync()
}

func (t *txnLog) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.Close()
}

// replayTxnLog reads every event from dataDir's transaction log in order,
// invoking fn for each. Missing file means a fresh server with nothing to
// recover.
func replayTxnLog(ctx context.Context, fs dfs.Filesystem, dataDir string, fn func(*txnEvent) error) error {
	p := path.Join(dataDir, "txn", "events.msgp")
	ok, err := fs.Exists(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	rf, err := fs.Open(ctx, p)
	if err != nil {
		return err
	}
	defer rf.Close()

	mr := msgp.NewReader(rf)
	for {
		e, err := decodeTxnEvent(mr)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, msgp.ErrShortBytes) {
				return nil
			}
			return fmt.Errorf("rangeserver: txn log replay: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

// keyspaceBounds is a small helper so callers building txnEvents don't need
// to import keyspace just to copy two byte slices defensively.
func keyspaceBounds(r keyspace.RowRange) (start, end []byte) {
	return append([]byte(nil), r.StartRow...), append([]byte(nil), r.EndRow...)
}
