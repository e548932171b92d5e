package rangeserver

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hypertable-go/rangeserver/internal/appqueue"
	"github.com/hypertable-go/rangeserver/internal/codec"
	"github.com/hypertable-go/rangeserver/internal/keyspace"
	"github.com/hypertable-go/rangeserver/internal/logging"
	"github.com/hypertable-go/rangeserver/internal/reactor"
	"github.com/hypertable-go/rangeserver/internal/reqcache"
	"github.com/hypertable-go/rangeserver/internal/rng"
	"github.com/hypertable-go/rangeserver/internal/rserrors"
	"github.com/hypertable-go/rangeserver/internal/wire"
)

// globalGroup is the appqueue/reqcache group id for commands that name no
// specific range (get_statistics, close): they serialize against one
// another rather than against any range's update/scan traffic.
const globalGroup appqueue.GroupID = 0

// connState is one accepted connection's framing and write-backpressure
// state, guarded by its own mutex so the reactor's readable and writable
// callbacks (which never run concurrently for the same conn, but do run
// concurrently across different conns) don't need the ConnHandler's lock.
type connState struct {
	mu     sync.Mutex
	buf    []byte   // bytes read but not yet parsed into a complete frame
	outbox [][]byte // frames queued because a prior write would have blocked
}

// ConnHandler implements reactor.Handler: it turns raw readable/writable
// events into parsed wire.Frames, serializes per-range request ordering
// through an appqueue.Queue, and dispatches decoded commands into a
// Server -- the glue spec.md §4.1-§4.2 describes between AsyncComm and
// the range-server core.
type ConnHandler struct {
	srv    *Server
	queue  *appqueue.Queue
	cache  *reqcache.Cache
	logger *logging.Logger

	mu    sync.Mutex
	conns map[uint64]*connState
}

// NewConnHandler wires a Server to an appqueue.Queue; the caller is
// responsible for calling StartWorkers to actually drain the queue.
func NewConnHandler(srv *Server, queue *appqueue.Queue, logger *logging.Logger) *ConnHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ConnHandler{
		srv:    srv,
		queue:  queue,
		cache:  reqcache.New(),
		logger: logger,
		conns:  make(map[uint64]*connState),
	}
}

// StartWorkers launches n goroutines draining the application queue, each
// running exactly one request at a time but different workers able to run
// different groups concurrently -- the worker-pool half of the
// application-queue contract (appqueue.Queue itself only implements the
// serialization rule, not the concurrency).
func (h *ConnHandler) StartWorkers(ctx context.Context, n int) {
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		go func() {
			for {
				req, ok := h.queue.Dispatch()
				if !ok {
					return
				}
				req.Run()
				h.queue.Release(req.Group)
				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}()
	}
}

func (h *ConnHandler) stateFor(connID uint64) *connState {
	h.mu.Lock()
	defer h.mu.Unlock()
	cs, ok := h.conns[connID]
	if !ok {
		cs = &connState{}
		h.conns[connID] = cs
	}
	return cs
}

// HandleReadable drains every frame currently available on conn without
// blocking, feeding each complete frame into the application queue.
func (h *ConnHandler) HandleReadable(conn *reactor.Conn) error {
	cs := h.stateFor(conn.ID)

	var chunk [65536]byte
	for {
		n, err := conn.Read(chunk[:])
		if n > 0 {
			cs.mu.Lock()
			cs.buf = append(cs.buf, chunk[:n]...)
			cs.mu.Unlock()
		}
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			return err
		}
		if n == 0 {
			return errPeerClosed
		}
		if n < len(chunk) {
			break // short read: socket drained for now
		}
	}

	for {
		cs.mu.Lock()
		if len(cs.buf) < wire.HeaderLen {
			cs.mu.Unlock()
			break
		}
		header, herr := wire.Unmarshal(cs.buf[:wire.HeaderLen])
		if herr != nil {
			cs.mu.Unlock()
			return herr
		}
		if uint32(len(cs.buf)) < header.TotalLen {
			cs.mu.Unlock()
			break // payload not fully arrived yet
		}
		payload := append([]byte(nil), cs.buf[wire.HeaderLen:header.TotalLen]...)
		cs.buf = append([]byte(nil), cs.buf[header.TotalLen:]...)
		cs.mu.Unlock()

		frame := &wire.Frame{Header: *header, Payload: payload}
		if !frame.VerifyPayload() {
			h.writeFrame(conn, cs, wire.NewErrorResponse(header.ID, header.GroupID, header.Command,
				mustEncodeError(codec.ErrorPayload{Code: string(rserrors.CodeProtocol), Message: "payload checksum mismatch"})).Marshal())
			continue
		}
		h.submit(conn, cs, header, payload)
	}
	return nil
}

// errPeerClosed is returned by HandleReadable when a zero-length, nil-error
// read indicates the peer closed its write side.
var errPeerClosed = &rserrors.Error{Op: "read", Code: rserrors.CodeTransientIO, Msg: "connection closed by peer"}

// HandleWritable flushes whatever of the outbox a previously blocked write
// left behind.
func (h *ConnHandler) HandleWritable(conn *reactor.Conn) error {
	cs := h.stateFor(conn.ID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for len(cs.outbox) > 0 {
		n, err := conn.Write(cs.outbox[0])
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			return err
		}
		if n < len(cs.outbox[0]) {
			cs.outbox[0] = cs.outbox[0][n:]
			return nil
		}
		cs.outbox = cs.outbox[1:]
	}
	_ = reactor.SetWritable(conn, false)
	return nil
}

// HandleClose purges every in-flight request the closed connection owned
// from the request cache and forgets its framing state.
func (h *ConnHandler) HandleClose(conn *reactor.Conn, cause error) {
	h.cache.PurgeForHandler(reqcache.HandlerID(conn.ID))
	h.mu.Lock()
	delete(h.conns, conn.ID)
	h.mu.Unlock()
}

func (h *ConnHandler) writeFrame(conn *reactor.Conn, cs *connState, data []byte) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.outbox) > 0 {
		cs.outbox = append(cs.outbox, data)
		return
	}
	n, err := conn.Write(data)
	if err != nil {
		if err == unix.EAGAIN {
			cs.outbox = append(cs.outbox, data)
			_ = reactor.SetWritable(conn, true)
		}
		return
	}
	if n < len(data) {
		cs.outbox = append(cs.outbox, data[n:])
		_ = reactor.SetWritable(conn, true)
	}
}

// submit decodes the command's request payload far enough to compute a
// group id (so requests against the same range serialize even before
// either has actually run), registers the request in the request cache,
// and enqueues a Run closure that performs the handler call, encodes the
// response, and writes it back -- all on a worker goroutine, never on the
// reactor's own loop.
func (h *ConnHandler) submit(conn *reactor.Conn, cs *connState, header *wire.Header, payload []byte) {
	cmd := wire.Command(header.Command)
	group, runErr := h.groupFor(cmd, payload)
	if runErr != nil {
		h.writeFrame(conn, cs, wire.NewErrorResponse(header.ID, header.GroupID, header.Command,
			mustEncodeError(codec.ErrorPayload{Code: string(rserrors.CodeProtocol), Message: runErr.Error()})).Marshal())
		return
	}

	var deadline time.Time
	if header.TimeoutMs > 0 {
		deadline = time.Now().Add(time.Duration(header.TimeoutMs) * time.Millisecond)
	}
	entry := &reqcache.Entry{ID: header.ID, HandlerID: reqcache.HandlerID(conn.ID), GroupID: uint32(group), Deadline: deadline, Urgent: header.IsUrgent()}
	h.cache.Insert(entry)

	req := &appqueue.Request{
		ID:     header.ID,
		Group:  group,
		Urgent: header.IsUrgent(),
		Expired: func() bool {
			return !deadline.IsZero() && time.Now().After(deadline)
		},
		Run: func() {
			h.cache.Remove(header.ID)
			resp := h.dispatch(context.Background(), header.ID, header.GroupID, cmd, payload)
			h.writeFrame(conn, cs, resp.Marshal())
			if cmd == wire.CmdClose {
				_ = conn.Close()
			}
		},
	}
	if !h.queue.Enqueue(req) {
		h.cache.Remove(header.ID)
	}
}

// groupFor extracts just enough of payload to compute the request's
// serialization group, without running the operation itself.
func (h *ConnHandler) groupFor(cmd wire.Command, payload []byte) (appqueue.GroupID, error) {
	switch cmd {
	case wire.CmdLoadRange:
		req, err := codec.DecodeLoadRangeRequest(payload)
		if err != nil {
			return 0, err
		}
		return groupHash(req.TableID + "/" + req.RangeID), nil
	case wire.CmdUpdate:
		req, err := codec.DecodeUpdateRequest(payload)
		if err != nil {
			return 0, err
		}
		return groupHash(req.TableID + "/" + req.RangeID), nil
	case wire.CmdCreateScanner:
		req, err := codec.DecodeCreateScannerRequest(payload)
		if err != nil {
			return 0, err
		}
		return groupHash(req.TableID + "/" + req.RangeID), nil
	case wire.CmdFetchScanblock:
		req, err := codec.DecodeFetchScanblockRequest(payload)
		if err != nil {
			return 0, err
		}
		return groupHash("scanner/" + itoa(req.ScannerID)), nil
	case wire.CmdDestroyScanner:
		id, err := codec.DecodeScannerIDRequest(payload)
		if err != nil {
			return 0, err
		}
		return groupHash("scanner/" + itoa(id)), nil
	case wire.CmdDropRange, wire.CmdCompact:
		req, err := codec.DecodeRangeRequest(payload)
		if err != nil {
			return 0, err
		}
		return groupHash(req.TableID + "/" + req.RangeID), nil
	case wire.CmdDropTable:
		tableID, err := codec.DecodeStringRequest(payload)
		if err != nil {
			return 0, err
		}
		return groupHash("table/" + tableID), nil
	case wire.CmdUpdateSchema:
		req, err := codec.DecodeUpdateSchemaRequest(payload)
		if err != nil {
			return 0, err
		}
		return groupHash("table/" + req.TableID), nil
	case wire.CmdCommitLogSync:
		group, err := codec.DecodeStringRequest(payload)
		if err != nil {
			return 0, err
		}
		return groupHash("log/" + group), nil
	case wire.CmdReplayBegin, wire.CmdReplayLoadRange, wire.CmdReplayUpdate, wire.CmdReplayCommit:
		return groupHash("replay"), nil
	default:
		return globalGroup, nil
	}
}

// dispatch runs one decoded command against the Server and returns the
// wire.Frame to send back -- FlagError set and a codec.ErrorPayload body
// on failure, the command's normal response shape on success.
func (h *ConnHandler) dispatch(ctx context.Context, id, groupID uint32, cmd wire.Command, payload []byte) *wire.Frame {
	ok := func(body []byte) *wire.Frame { return wire.NewResponse(id, groupID, uint16(cmd), body) }
	fail := func(op string, err error) *wire.Frame {
		e := codec.ErrorPayload{Code: string(rserrors.CodeTransientIO), Message: err.Error()}
		var re *rserrors.Error
		if ae, isErr := err.(*rserrors.Error); isErr {
			re = ae
		}
		if re != nil {
			e.Code = string(re.Code)
			e.Validation = string(re.Validation)
			e.Message = re.Error()
		}
		return wire.NewErrorResponse(id, groupID, uint16(cmd), mustEncodeError(e))
	}

	switch cmd {
	case wire.CmdLoadRange:
		req, err := codec.DecodeLoadRangeRequest(payload)
		if err != nil {
			return fail("load_range", err)
		}
		bounds := keyspace.RowRange{TableID: req.TableID, StartRow: req.StartRow, EndRow: req.EndRow}
		if _, err := h.srv.LoadRange(ctx, bounds, req.RangeID, req.Generation, req.AccessGroups); err != nil {
			return fail("load_range", err)
		}
		return ok(nil)

	case wire.CmdUpdate:
		req, err := codec.DecodeUpdateRequest(payload)
		if err != nil {
			return fail("update", err)
		}
		muts := mutationsFromWire(req.Mutations)
		if err := h.srv.Update(ctx, req.TableID, req.RangeID, muts, !req.NoLogSync); err != nil {
			resp := codec.UpdateResponse{Errors: []codec.BackPointer{errToBackPointer(err)}}
			body, _ := codec.EncodeUpdateResponse(resp)
			return ok(body)
		}
		body, _ := codec.EncodeUpdateResponse(codec.UpdateResponse{})
		return ok(body)

	case wire.CmdCreateScanner:
		req, err := codec.DecodeCreateScannerRequest(payload)
		if err != nil {
			return fail("create_scanner", err)
		}
		spec := scanSpecFromWire(req.Spec)
		scannerID, block, err := h.srv.CreateScanner(ctx, req.TableID, req.RangeID, spec, int(req.MaxResults))
		if err != nil {
			return fail("create_scanner", err)
		}
		body, _ := codec.EncodeScanBlock(scanBlockToWire(scannerID, block))
		return ok(body)

	case wire.CmdFetchScanblock:
		req, err := codec.DecodeFetchScanblockRequest(payload)
		if err != nil {
			return fail("fetch_scanblock", err)
		}
		block, err := h.srv.FetchScanblock(req.ScannerID, int(req.MaxResults))
		if err != nil {
			return fail("fetch_scanblock", err)
		}
		body, _ := codec.EncodeScanBlock(scanBlockToWire(req.ScannerID, block))
		return ok(body)

	case wire.CmdDestroyScanner:
		scannerID, err := codec.DecodeScannerIDRequest(payload)
		if err != nil {
			return fail("destroy_scanner", err)
		}
		h.srv.DestroyScanner(scannerID)
		return ok(nil)

	case wire.CmdDropRange:
		req, err := codec.DecodeRangeRequest(payload)
		if err != nil {
			return fail("drop_range", err)
		}
		if err := h.srv.DropRange(ctx, req.TableID, req.RangeID); err != nil {
			return fail("drop_range", err)
		}
		return ok(nil)

	case wire.CmdDropTable:
		tableID, err := codec.DecodeStringRequest(payload)
		if err != nil {
			return fail("drop_table", err)
		}
		if err := h.srv.DropTable(ctx, tableID); err != nil {
			return fail("drop_table", err)
		}
		return ok(nil)

	case wire.CmdUpdateSchema:
		req, err := codec.DecodeUpdateSchemaRequest(payload)
		if err != nil {
			return fail("update_schema", err)
		}
		if err := h.srv.UpdateSchema(req.TableID, req.Generation); err != nil {
			return fail("update_schema", err)
		}
		return ok(nil)

	case wire.CmdCompact:
		req, err := codec.DecodeRangeRequest(payload)
		if err != nil {
			return fail("compact", err)
		}
		kind := CompactMinor
		if req.Type == 1 {
			kind = CompactMajor
		}
		if err := h.srv.Compact(ctx, req.TableID, req.RangeID, req.Group, kind); err != nil {
			return fail("compact", err)
		}
		return ok(nil)

	case wire.CmdReplayBegin:
		group, err := codec.DecodeStringRequest(payload)
		if err != nil {
			return fail("replay_begin", err)
		}
		if err := h.srv.ReplayBegin(group); err != nil {
			return fail("replay_begin", err)
		}
		return ok(nil)

	case wire.CmdReplayLoadRange:
		// Reuses codec.LoadRangeRequest's shape; TransferLogDir carries the
		// log group name ("root"/"metadata"/"user") in this command, not a
		// filesystem path -- replay_load_range has no split in progress.
		req, err := codec.DecodeLoadRangeRequest(payload)
		if err != nil {
			return fail("replay_load_range", err)
		}
		bounds := keyspace.RowRange{TableID: req.TableID, StartRow: req.StartRow, EndRow: req.EndRow}
		if err := h.srv.ReplayLoadRange(ctx, req.TransferLogDir, bounds, req.RangeID, req.Generation); err != nil {
			return fail("replay_load_range", err)
		}
		return ok(nil)

	case wire.CmdReplayUpdate:
		// Reuses codec.UpdateRequest's shape; TableID carries the log group
		// name ("root"/"metadata"/"user") in this command, not a table id --
		// replay_update operates on a whole log fragment, not one table.
		req, err := codec.DecodeUpdateRequest(payload)
		if err != nil {
			return fail("replay_update", err)
		}
		muts := mutationsFromWire(req.Mutations)
		block := encodeReplayBlock(muts)
		if err := h.srv.ReplayUpdate(req.TableID, block); err != nil {
			return fail("replay_update", err)
		}
		return ok(nil)

	case wire.CmdReplayCommit:
		group, err := codec.DecodeStringRequest(payload)
		if err != nil {
			return fail("replay_commit", err)
		}
		if err := h.srv.ReplayCommit(group); err != nil {
			return fail("replay_commit", err)
		}
		return ok(nil)

	case wire.CmdCommitLogSync:
		group, err := codec.DecodeStringRequest(payload)
		if err != nil {
			return fail("commit_log_sync", err)
		}
		if err := h.srv.CommitLogSync(group); err != nil {
			return fail("commit_log_sync", err)
		}
		return ok(nil)

	case wire.CmdGetStatistics:
		stats := h.srv.GetStatistics()
		body, _ := codec.EncodeStats(codec.Stats{
			Tables:           uint32(stats.Tables),
			Ranges:           uint32(stats.Ranges),
			Scanners:         uint32(stats.Scanners),
			MemoryUsedBytes:  stats.MemoryUsedBytes,
			MemoryLimitBytes: stats.MemoryLimitBytes,
			QueryCacheSize:   uint32(stats.QueryCacheSize),
			QueryCacheBytes:  stats.QueryCacheBytes,
			QueryCacheHits:   stats.QueryCacheHits,
			QueryCacheMisses: stats.QueryCacheMisses,
		})
		return ok(body)

	case wire.CmdClose:
		return ok(nil)

	default:
		return fail("dispatch", rserrors.New("dispatch", rserrors.CodeProtocol, "unknown command"))
	}
}

// errToBackPointer converts a Server error into the single back-pointer
// an update response carries when the whole batch failed before any
// per-mutation accounting was possible (this server validates a batch as
// one unit, so a failure always means index 0 covers the whole batch).
func errToBackPointer(err error) codec.BackPointer {
	if re, ok := err.(*rserrors.Error); ok {
		return codec.BackPointer{Code: string(re.Code), Validation: string(re.Validation), Message: re.Error()}
	}
	return codec.BackPointer{Code: string(rserrors.CodeTransientIO), Message: err.Error()}
}

// encodeReplayBlock re-serializes mutations into the same length-prefixed
// (key, value) pair stream commitlog blocks carry, so ReplayUpdate's
// decodeMutations can parse it without a second payload format.
func encodeReplayBlock(muts []rng.Mutation) []byte {
	var out []byte
	for _, m := range muts {
		enc := m.Key.Encode()
		var lenBuf [4]byte
		n := len(enc)
		lenBuf[0], lenBuf[1], lenBuf[2], lenBuf[3] = byte(n>>24), byte(n>>16), byte(n>>8), byte(n)
		out = append(out, lenBuf[:]...)
		out = append(out, enc...)
		out = m.Value.AppendEncoded(out)
	}
	return out
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func mustEncodeError(e codec.ErrorPayload) []byte {
	b, err := codec.EncodeError(e)
	if err != nil {
		return nil
	}
	return b
}

func groupHash(s string) appqueue.GroupID {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return appqueue.GroupID(h.Sum32())
}

// scanSpecFromWire converts a codec.ScanSpec into an rng.ScanSpec, the
// predicate-less subset a wire request can express.
func scanSpecFromWire(s codec.ScanSpec) rng.ScanSpec {
	return rng.ScanSpec{
		StartRow:        s.StartRow,
		EndRow:          s.EndRow,
		AccessGroups:    s.AccessGroups,
		RevisionCeiling: s.RevisionCeiling,
		MaxRows:         int(s.MaxRows),
		MaxCells:        int(s.MaxCells),
		MaxBytes:        s.MaxBytes,
	}
}

func scanBlockToWire(scannerID uint64, b ScanBlock) codec.ScanBlock {
	out := codec.ScanBlock{ScannerID: scannerID, More: b.More, Cells: make([]codec.Cell, len(b.Cells))}
	for i, kv := range b.Cells {
		out.Cells[i] = codec.Cell{
			Row:             kv.Key.Row,
			ColumnFamilyID:  kv.Key.ColumnFamilyID,
			ColumnQualifier: kv.Key.ColumnQualifier,
			Flag:            byte(kv.Key.Flag),
			Timestamp:       kv.Key.Timestamp,
			Revision:        kv.Key.Revision,
			Value:           []byte(kv.Value),
		}
	}
	return out
}

func mutationsFromWire(in []codec.Mutation) []rng.Mutation {
	out := make([]rng.Mutation, len(in))
	for i, m := range in {
		out[i] = rng.Mutation{
			Key: &keyspace.Key{
				Row:             m.Row,
				ColumnFamilyID:  m.ColumnFamilyID,
				ColumnQualifier: m.ColumnQualifier,
				Flag:            keyspace.Flag(m.Flag),
				Timestamp:       m.Timestamp,
				Revision:        m.Revision,
				Ctrl:            keyspace.TimeCtrl(m.Ctrl),
			},
			Value: keyspace.Value(m.Value),
		}
	}
	return out
}
