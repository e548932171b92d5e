// Package codec implements the payload encoding for every RangeServer
// wire command (spec.md §6): one request and one response shape per
// command code, hand-written against tinylib/msgp's raw Writer/Reader
// primitives the same way internal/rangeserver/txnlog.go encodes its
// transaction-log records, rather than through a generated Marshaler --
// the payload shapes here are request/response envelopes, not storage
// records, but the tradeoff (no codegen step, a little more boilerplate)
// is the same one the teacher's own marshal.go makes for UAPI structs.
package codec

import (
	"bytes"

	"github.com/tinylib/msgp/msgp"
)

// Mutation is the wire shape of one (key, value) pair inside an Update
// request, mirroring keyspace.Key's fields field-by-field so the conn
// layer can build a keyspace.Key without a second intermediate type.
type Mutation struct {
	Row             []byte
	ColumnFamilyID  byte
	ColumnQualifier []byte
	Flag            byte
	Timestamp       uint64
	Revision        uint64
	Ctrl            byte
	Value           []byte
}

func writeMutation(w *msgp.Writer, m Mutation) error {
	if err := w.WriteMapHeader(8); err != nil {
		return err
	}
	fields := []struct {
		key string
		wr  func() error
	}{
		{"row", func() error { return w.WriteBytes(m.Row) }},
		{"cf", func() error { return w.WriteUint8(m.ColumnFamilyID) }},
		{"cq", func() error { return w.WriteBytes(m.ColumnQualifier) }},
		{"flag", func() error { return w.WriteUint8(m.Flag) }},
		{"ts", func() error { return w.WriteUint64(m.Timestamp) }},
		{"rev", func() error { return w.WriteUint64(m.Revision) }},
		{"ctrl", func() error { return w.WriteUint8(m.Ctrl) }},
		{"val", func() error { return w.WriteBytes(m.Value) }},
	}
	for _, f := range fields {
		if err := w.WriteString(f.key); err != nil {
			return err
		}
		if err := f.wr(); err != nil {
			return err
		}
	}
	return nil
}

func readMutation(r *msgp.Reader) (Mutation, error) {
	var m Mutation
	n, err := r.ReadMapHeader()
	if err != nil {
		return m, err
	}
	for i := uint32(0); i < n; i++ {
		key, err := r.ReadString()
		if err != nil {
			return m, err
		}
		switch key {
		case "row":
			if m.Row, err = r.ReadBytes(nil); err != nil {
				return m, err
			}
		case "cf":
			v, err := r.ReadUint8()
			if err != nil {
				return m, err
			}
			m.ColumnFamilyID = v
		case "cq":
			if m.ColumnQualifier, err = r.ReadBytes(nil); err != nil {
				return m, err
			}
		case "flag":
			v, err := r.ReadUint8()
			if err != nil {
				return m, err
			}
			m.Flag = v
		case "ts":
			if m.Timestamp, err = r.ReadUint64(); err != nil {
				return m, err
			}
		case "rev":
			if m.Revision, err = r.ReadUint64(); err != nil {
				return m, err
			}
		case "ctrl":
			v, err := r.ReadUint8()
			if err != nil {
				return m, err
			}
			m.Ctrl = v
		case "val":
			if m.Value, err = r.ReadBytes(nil); err != nil {
				return m, err
			}
		default:
			if err := r.Skip(); err != nil {
				return m, err
			}
		}
	}
	return m, nil
}

// UpdateRequest is CmdUpdate's payload: a batch of mutations against one
// loaded range plus the NO_LOG_SYNC flag bit (spec.md §6).
type UpdateRequest struct {
	TableID   string
	RangeID   string
	NoLogSync bool
	Mutations []Mutation
}

// EncodeUpdateRequest serializes req.
func EncodeUpdateRequest(req UpdateRequest) ([]byte, error) {
	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := w.WriteMapHeader(4); err != nil {
		return nil, err
	}
	if err := w.WriteString("table"); err != nil {
		return nil, err
	}
	if err := w.WriteString(req.TableID); err != nil {
		return nil, err
	}
	if err := w.WriteString("range"); err != nil {
		return nil, err
	}
	if err := w.WriteString(req.RangeID); err != nil {
		return nil, err
	}
	if err := w.WriteString("nosync"); err != nil {
		return nil, err
	}
	if err := w.WriteBool(req.NoLogSync); err != nil {
		return nil, err
	}
	if err := w.WriteString("muts"); err != nil {
		return nil, err
	}
	if err := w.WriteArrayHeader(uint32(len(req.Mutations))); err != nil {
		return nil, err
	}
	for _, m := range req.Mutations {
		if err := writeMutation(w, m); err != nil {
			return nil, err
		}
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeUpdateRequest is the inverse of EncodeUpdateRequest.
func DecodeUpdateRequest(b []byte) (UpdateRequest, error) {
	var req UpdateRequest
	r := msgp.NewReader(bytes.NewReader(b))
	n, err := r.ReadMapHeader()
	if err != nil {
		return req, err
	}
	for i := uint32(0); i < n; i++ {
		key, err := r.ReadString()
		if err != nil {
			return req, err
		}
		switch key {
		case "table":
			if req.TableID, err = r.ReadString(); err != nil {
				return req, err
			}
		case "range":
			if req.RangeID, err = r.ReadString(); err != nil {
				return req, err
			}
		case "nosync":
			if req.NoLogSync, err = r.ReadBool(); err != nil {
				return req, err
			}
		case "muts":
			cnt, err := r.ReadArrayHeader()
			if err != nil {
				return req, err
			}
			req.Mutations = make([]Mutation, cnt)
			for i := range req.Mutations {
				if req.Mutations[i], err = readMutation(r); err != nil {
					return req, err
				}
			}
		default:
			if err := r.Skip(); err != nil {
				return req, err
			}
		}
	}
	return req, nil
}

// BackPointer is one per-row failure in an UpdateResponse, pointing back
// into the request's Mutations slice by index so the client can tell
// exactly which rows in its submitted batch failed (spec.md §6).
type BackPointer struct {
	Code     string
	Validation string
	Message  string
	Index    uint32
}

// UpdateResponse is CmdUpdate's reply: empty Errors means every mutation
// in the batch committed.
type UpdateResponse struct {
	Errors []BackPointer
}

func EncodeUpdateResponse(resp UpdateResponse) ([]byte, error) {
	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := w.WriteArrayHeader(uint32(len(resp.Errors))); err != nil {
		return nil, err
	}
	for _, e := range resp.Errors {
		if err := w.WriteMapHeader(4); err != nil {
			return nil, err
		}
		for _, kv := range []struct {
			key string
			wr  func() error
		}{
			{"code", func() error { return w.WriteString(e.Code) }},
			{"validation", func() error { return w.WriteString(e.Validation) }},
			{"message", func() error { return w.WriteString(e.Message) }},
			{"index", func() error { return w.WriteUint32(e.Index) }},
		} {
			if err := w.WriteString(kv.key); err != nil {
				return nil, err
			}
			if err := kv.wr(); err != nil {
				return nil, err
			}
		}
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeUpdateResponse(b []byte) (UpdateResponse, error) {
	var resp UpdateResponse
	r := msgp.NewReader(bytes.NewReader(b))
	cnt, err := r.ReadArrayHeader()
	if err != nil {
		return resp, err
	}
	resp.Errors = make([]BackPointer, cnt)
	for i := range resp.Errors {
		n, err := r.ReadMapHeader()
		if err != nil {
			return resp, err
		}
		e := &resp.Errors[i]
		for j := uint32(0); j < n; j++ {
			key, err := r.ReadString()
			if err != nil {
				return resp, err
			}
			switch key {
			case "code":
				if e.Code, err = r.ReadString(); err != nil {
					return resp, err
				}
			case "validation":
				if e.Validation, err = r.ReadString(); err != nil {
					return resp, err
				}
			case "message":
				if e.Message, err = r.ReadString(); err != nil {
					return resp, err
				}
			case "index":
				if e.Index, err = r.ReadUint32(); err != nil {
					return resp, err
				}
			default:
				if err := r.Skip(); err != nil {
					return resp, err
				}
			}
		}
	}
	return resp, nil
}

// LoadRangeRequest is CmdLoadRange's payload.
type LoadRangeRequest struct {
	TableID        string
	RangeID        string
	StartRow       []byte
	EndRow         []byte
	Generation     uint64
	AccessGroups   []string
	TransferLogDir string
}

func EncodeLoadRangeRequest(req LoadRangeRequest) ([]byte, error) {
	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := w.WriteMapHeader(7); err != nil {
		return nil, err
	}
	strs := []struct {
		key string
		val string
	}{
		{"table", req.TableID},
		{"range", req.RangeID},
		{"xferdir", req.TransferLogDir},
	}
	for _, s := range strs {
		if err := w.WriteString(s.key); err != nil {
			return nil, err
		}
		if err := w.WriteString(s.val); err != nil {
			return nil, err
		}
	}
	if err := w.WriteString("start"); err != nil {
		return nil, err
	}
	if err := w.WriteBytes(req.StartRow); err != nil {
		return nil, err
	}
	if err := w.WriteString("end"); err != nil {
		return nil, err
	}
	if err := w.WriteBytes(req.EndRow); err != nil {
		return nil, err
	}
	if err := w.WriteString("gen"); err != nil {
		return nil, err
	}
	if err := w.WriteUint64(req.Generation); err != nil {
		return nil, err
	}
	if err := w.WriteString("groups"); err != nil {
		return nil, err
	}
	if err := w.WriteArrayHeader(uint32(len(req.AccessGroups))); err != nil {
		return nil, err
	}
	for _, g := range req.AccessGroups {
		if err := w.WriteString(g); err != nil {
			return nil, err
		}
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeLoadRangeRequest(b []byte) (LoadRangeRequest, error) {
	var req LoadRangeRequest
	r := msgp.NewReader(bytes.NewReader(b))
	n, err := r.ReadMapHeader()
	if err != nil {
		return req, err
	}
	for i := uint32(0); i < n; i++ {
		key, err := r.ReadString()
		if err != nil {
			return req, err
		}
		switch key {
		case "table":
			if req.TableID, err = r.ReadString(); err != nil {
				return req, err
			}
		case "range":
			if req.RangeID, err = r.ReadString(); err != nil {
				return req, err
			}
		case "xferdir":
			if req.TransferLogDir, err = r.ReadString(); err != nil {
				return req, err
			}
		case "start":
			if req.StartRow, err = r.ReadBytes(nil); err != nil {
				return req, err
			}
		case "end":
			if req.EndRow, err = r.ReadBytes(nil); err != nil {
				return req, err
			}
		case "gen":
			if req.Generation, err = r.ReadUint64(); err != nil {
				return req, err
			}
		case "groups":
			cnt, err := r.ReadArrayHeader()
			if err != nil {
				return req, err
			}
			req.AccessGroups = make([]string, cnt)
			for i := range req.AccessGroups {
				if req.AccessGroups[i], err = r.ReadString(); err != nil {
					return req, err
				}
			}
		default:
			if err := r.Skip(); err != nil {
				return req, err
			}
		}
	}
	return req, nil
}

// Cell is one emitted (key, value) pair inside a ScanBlock.
type Cell struct {
	Row             []byte
	ColumnFamilyID  byte
	ColumnQualifier []byte
	Flag            byte
	Timestamp       uint64
	Revision        uint64
	Value           []byte
}

// ScanSpec is the wire shape of rng.ScanSpec (spec.md §4.9); the predicate
// function itself is never sent, only the bounds and budgets that shape
// it on the server.
type ScanSpec struct {
	StartRow        []byte
	EndRow          []byte
	AccessGroups    []string
	RevisionCeiling uint64
	MaxRows         uint32
	MaxCells        uint32
	MaxBytes        int64
}

// CreateScannerRequest is CmdCreateScanner's payload.
type CreateScannerRequest struct {
	TableID    string
	RangeID    string
	Spec       ScanSpec
	MaxResults uint32
}

// ScanBlock is the shared response shape of CmdCreateScanner and
// CmdFetchScanblock: More=false means end-of-scan, no further fetch
// needed (spec.md §6).
type ScanBlock struct {
	ScannerID uint64
	More      bool
	Cells     []Cell
}

func writeCell(w *msgp.Writer, c Cell) error {
	if err := w.WriteMapHeader(7); err != nil {
		return err
	}
	fields := []struct {
		key string
		wr  func() error
	}{
		{"row", func() error { return w.WriteBytes(c.Row) }},
		{"cf", func() error { return w.WriteUint8(c.ColumnFamilyID) }},
		{"cq", func() error { return w.WriteBytes(c.ColumnQualifier) }},
		{"flag", func() error { return w.WriteUint8(c.Flag) }},
		{"ts", func() error { return w.WriteUint64(c.Timestamp) }},
		{"rev", func() error { return w.WriteUint64(c.Revision) }},
		{"val", func() error { return w.WriteBytes(c.Value) }},
	}
	for _, f := range fields {
		if err := w.WriteString(f.key); err != nil {
			return err
		}
		if err := f.wr(); err != nil {
			return err
		}
	}
	return nil
}

func readCell(r *msgp.Reader) (Cell, error) {
	var c Cell
	n, err := r.ReadMapHeader()
	if err != nil {
		return c, err
	}
	for i := uint32(0); i < n; i++ {
		key, err := r.ReadString()
		if err != nil {
			return c, err
		}
		switch key {
		case "row":
			if c.Row, err = r.ReadBytes(nil); err != nil {
				return c, err
			}
		case "cf":
			v, err := r.ReadUint8()
			if err != nil {
				return c, err
			}
			c.ColumnFamilyID = v
		case "cq":
			if c.ColumnQualifier, err = r.ReadBytes(nil); err != nil {
				return c, err
			}
		case "flag":
			v, err := r.ReadUint8()
			if err != nil {
				return c, err
			}
			c.Flag = v
		case "ts":
			if c.Timestamp, err = r.ReadUint64(); err != nil {
				return c, err
			}
		case "rev":
			if c.Revision, err = r.ReadUint64(); err != nil {
				return c, err
			}
		case "val":
			if c.Value, err = r.ReadBytes(nil); err != nil {
				return c, err
			}
		default:
			if err := r.Skip(); err != nil {
				return c, err
			}
		}
	}
	return c, nil
}

func EncodeScanBlock(b ScanBlock) ([]byte, error) {
	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := w.WriteMapHeader(3); err != nil {
		return nil, err
	}
	if err := w.WriteString("scanner"); err != nil {
		return nil, err
	}
	if err := w.WriteUint64(b.ScannerID); err != nil {
		return nil, err
	}
	if err := w.WriteString("more"); err != nil {
		return nil, err
	}
	if err := w.WriteBool(b.More); err != nil {
		return nil, err
	}
	if err := w.WriteString("cells"); err != nil {
		return nil, err
	}
	if err := w.WriteArrayHeader(uint32(len(b.Cells))); err != nil {
		return nil, err
	}
	for _, c := range b.Cells {
		if err := writeCell(w, c); err != nil {
			return nil, err
		}
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeScanBlock(b []byte) (ScanBlock, error) {
	var block ScanBlock
	r := msgp.NewReader(bytes.NewReader(b))
	n, err := r.ReadMapHeader()
	if err != nil {
		return block, err
	}
	for i := uint32(0); i < n; i++ {
		key, err := r.ReadString()
		if err != nil {
			return block, err
		}
		switch key {
		case "scanner":
			if block.ScannerID, err = r.ReadUint64(); err != nil {
				return block, err
			}
		case "more":
			if block.More, err = r.ReadBool(); err != nil {
				return block, err
			}
		case "cells":
			cnt, err := r.ReadArrayHeader()
			if err != nil {
				return block, err
			}
			block.Cells = make([]Cell, cnt)
			for i := range block.Cells {
				if block.Cells[i], err = readCell(r); err != nil {
					return block, err
				}
			}
		default:
			if err := r.Skip(); err != nil {
				return block, err
			}
		}
	}
	return block, nil
}

func EncodeCreateScannerRequest(req CreateScannerRequest) ([]byte, error) {
	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := w.WriteMapHeader(4); err != nil {
		return nil, err
	}
	if err := w.WriteString("table"); err != nil {
		return nil, err
	}
	if err := w.WriteString(req.TableID); err != nil {
		return nil, err
	}
	if err := w.WriteString("range"); err != nil {
		return nil, err
	}
	if err := w.WriteString(req.RangeID); err != nil {
		return nil, err
	}
	if err := w.WriteString("max"); err != nil {
		return nil, err
	}
	if err := w.WriteUint32(req.MaxResults); err != nil {
		return nil, err
	}
	if err := w.WriteString("spec"); err != nil {
		return nil, err
	}
	if err := writeScanSpec(w, req.Spec); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeScanSpec(w *msgp.Writer, s ScanSpec) error {
	if err := w.WriteMapHeader(7); err != nil {
		return err
	}
	if err := w.WriteString("start"); err != nil {
		return err
	}
	if err := w.WriteBytes(s.StartRow); err != nil {
		return err
	}
	if err := w.WriteString("end"); err != nil {
		return err
	}
	if err := w.WriteBytes(s.EndRow); err != nil {
		return err
	}
	if err := w.WriteString("groups"); err != nil {
		return err
	}
	if err := w.WriteArrayHeader(uint32(len(s.AccessGroups))); err != nil {
		return err
	}
	for _, g := range s.AccessGroups {
		if err := w.WriteString(g); err != nil {
			return err
		}
	}
	if err := w.WriteString("ceiling"); err != nil {
		return err
	}
	if err := w.WriteUint64(s.RevisionCeiling); err != nil {
		return err
	}
	if err := w.WriteString("maxrows"); err != nil {
		return err
	}
	if err := w.WriteUint32(s.MaxRows); err != nil {
		return err
	}
	if err := w.WriteString("maxcells"); err != nil {
		return err
	}
	if err := w.WriteUint32(s.MaxCells); err != nil {
		return err
	}
	if err := w.WriteString("maxbytes"); err != nil {
		return err
	}
	if err := w.WriteInt64(s.MaxBytes); err != nil {
		return err
	}
	return nil
}

func readScanSpec(r *msgp.Reader) (ScanSpec, error) {
	var s ScanSpec
	n, err := r.ReadMapHeader()
	if err != nil {
		return s, err
	}
	for i := uint32(0); i < n; i++ {
		key, err := r.ReadString()
		if err != nil {
			return s, err
		}
		switch key {
		case "start":
			if s.StartRow, err = r.ReadBytes(nil); err != nil {
				return s, err
			}
		case "end":
			if s.EndRow, err = r.ReadBytes(nil); err != nil {
				return s, err
			}
		case "groups":
			cnt, err := r.ReadArrayHeader()
			if err != nil {
				return s, err
			}
			s.AccessGroups = make([]string, cnt)
			for i := range s.AccessGroups {
				if s.AccessGroups[i], err = r.ReadString(); err != nil {
					return s, err
				}
			}
		case "ceiling":
			if s.RevisionCeiling, err = r.ReadUint64(); err != nil {
				return s, err
			}
		case "maxrows":
			if s.MaxRows, err = r.ReadUint32(); err != nil {
				return s, err
			}
		case "maxcells":
			if s.MaxCells, err = r.ReadUint32(); err != nil {
				return s, err
			}
		case "maxbytes":
			if s.MaxBytes, err = r.ReadInt64(); err != nil {
				return s, err
			}
		default:
			if err := r.Skip(); err != nil {
				return s, err
			}
		}
	}
	return s, nil
}

func DecodeCreateScannerRequest(b []byte) (CreateScannerRequest, error) {
	var req CreateScannerRequest
	r := msgp.NewReader(bytes.NewReader(b))
	n, err := r.ReadMapHeader()
	if err != nil {
		return req, err
	}
	for i := uint32(0); i < n; i++ {
		key, err := r.ReadString()
		if err != nil {
			return req, err
		}
		switch key {
		case "table":
			if req.TableID, err = r.ReadString(); err != nil {
				return req, err
			}
		case "range":
			if req.RangeID, err = r.ReadString(); err != nil {
				return req, err
			}
		case "max":
			if req.MaxResults, err = r.ReadUint32(); err != nil {
				return req, err
			}
		case "spec":
			if req.Spec, err = readScanSpec(r); err != nil {
				return req, err
			}
		default:
			if err := r.Skip(); err != nil {
				return req, err
			}
		}
	}
	return req, nil
}

// FetchScanblockRequest is CmdFetchScanblock's payload.
type FetchScanblockRequest struct {
	ScannerID  uint64
	MaxResults uint32
}

func EncodeFetchScanblockRequest(req FetchScanblockRequest) ([]byte, error) {
	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := w.WriteMapHeader(2); err != nil {
		return nil, err
	}
	if err := w.WriteString("scanner"); err != nil {
		return nil, err
	}
	if err := w.WriteUint64(req.ScannerID); err != nil {
		return nil, err
	}
	if err := w.WriteString("max"); err != nil {
		return nil, err
	}
	if err := w.WriteUint32(req.MaxResults); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeFetchScanblockRequest(b []byte) (FetchScanblockRequest, error) {
	var req FetchScanblockRequest
	r := msgp.NewReader(bytes.NewReader(b))
	n, err := r.ReadMapHeader()
	if err != nil {
		return req, err
	}
	for i := uint32(0); i < n; i++ {
		key, err := r.ReadString()
		if err != nil {
			return req, err
		}
		switch key {
		case "scanner":
			if req.ScannerID, err = r.ReadUint64(); err != nil {
				return req, err
			}
		case "max":
			if req.MaxResults, err = r.ReadUint32(); err != nil {
				return req, err
			}
		default:
			if err := r.Skip(); err != nil {
				return req, err
			}
		}
	}
	return req, nil
}

// RangeRequest is the shared payload shape of commands that name just a
// (table, range): CmdDestroyScanner uses ScannerIDRequest instead,
// CmdDropRange/CmdCompact use this.
type RangeRequest struct {
	TableID string
	RangeID string
	Group   string // access group name; empty means "every group" (drop_range)
	Type    uint8  // compaction type for CmdCompact: 0=minor, 1=major
}

func EncodeRangeRequest(req RangeRequest) ([]byte, error) {
	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := w.WriteMapHeader(4); err != nil {
		return nil, err
	}
	if err := w.WriteString("table"); err != nil {
		return nil, err
	}
	if err := w.WriteString(req.TableID); err != nil {
		return nil, err
	}
	if err := w.WriteString("range"); err != nil {
		return nil, err
	}
	if err := w.WriteString(req.RangeID); err != nil {
		return nil, err
	}
	if err := w.WriteString("group"); err != nil {
		return nil, err
	}
	if err := w.WriteString(req.Group); err != nil {
		return nil, err
	}
	if err := w.WriteString("type"); err != nil {
		return nil, err
	}
	if err := w.WriteUint8(req.Type); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeRangeRequest(b []byte) (RangeRequest, error) {
	var req RangeRequest
	r := msgp.NewReader(bytes.NewReader(b))
	n, err := r.ReadMapHeader()
	if err != nil {
		return req, err
	}
	for i := uint32(0); i < n; i++ {
		key, err := r.ReadString()
		if err != nil {
			return req, err
		}
		switch key {
		case "table":
			if req.TableID, err = r.ReadString(); err != nil {
				return req, err
			}
		case "range":
			if req.RangeID, err = r.ReadString(); err != nil {
				return req, err
			}
		case "group":
			if req.Group, err = r.ReadString(); err != nil {
				return req, err
			}
		case "type":
			if req.Type, err = r.ReadUint8(); err != nil {
				return req, err
			}
		default:
			if err := r.Skip(); err != nil {
				return req, err
			}
		}
	}
	return req, nil
}

// ScannerIDRequest is CmdDestroyScanner's payload.
type ScannerIDRequest struct {
	ScannerID uint64
}

func EncodeScannerIDRequest(id uint64) ([]byte, error) {
	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := w.WriteUint64(id); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeScannerIDRequest(b []byte) (uint64, error) {
	r := msgp.NewReader(bytes.NewReader(b))
	return r.ReadUint64()
}

// StringRequest covers CmdDropTable (table id) and CmdCommitLogSync (log
// group name).
func EncodeStringRequest(s string) ([]byte, error) {
	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := w.WriteString(s); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeStringRequest(b []byte) (string, error) {
	r := msgp.NewReader(bytes.NewReader(b))
	return r.ReadString()
}

// UpdateSchemaRequest is CmdUpdateSchema's payload.
type UpdateSchemaRequest struct {
	TableID    string
	Generation uint64
	Schema     string
}

func EncodeUpdateSchemaRequest(req UpdateSchemaRequest) ([]byte, error) {
	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := w.WriteMapHeader(3); err != nil {
		return nil, err
	}
	if err := w.WriteString("table"); err != nil {
		return nil, err
	}
	if err := w.WriteString(req.TableID); err != nil {
		return nil, err
	}
	if err := w.WriteString("gen"); err != nil {
		return nil, err
	}
	if err := w.WriteUint64(req.Generation); err != nil {
		return nil, err
	}
	if err := w.WriteString("schema"); err != nil {
		return nil, err
	}
	if err := w.WriteString(req.Schema); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeUpdateSchemaRequest(b []byte) (UpdateSchemaRequest, error) {
	var req UpdateSchemaRequest
	r := msgp.NewReader(bytes.NewReader(b))
	n, err := r.ReadMapHeader()
	if err != nil {
		return req, err
	}
	for i := uint32(0); i < n; i++ {
		key, err := r.ReadString()
		if err != nil {
			return req, err
		}
		switch key {
		case "table":
			if req.TableID, err = r.ReadString(); err != nil {
				return req, err
			}
		case "gen":
			if req.Generation, err = r.ReadUint64(); err != nil {
				return req, err
			}
		case "schema":
			if req.Schema, err = r.ReadString(); err != nil {
				return req, err
			}
		default:
			if err := r.Skip(); err != nil {
				return req, err
			}
		}
	}
	return req, nil
}

// Stats mirrors rangeserver.Stats on the wire, for CmdGetStatistics.
type Stats struct {
	Tables           uint32
	Ranges           uint32
	Scanners         uint32
	MemoryUsedBytes  int64
	MemoryLimitBytes int64
	QueryCacheSize   uint32
	QueryCacheBytes  int64
	QueryCacheHits   int64
	QueryCacheMisses int64
}

func EncodeStats(s Stats) ([]byte, error) {
	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := w.WriteMapHeader(9); err != nil {
		return nil, err
	}
	fields := []struct {
		key string
		wr  func() error
	}{
		{"tables", func() error { return w.WriteUint32(s.Tables) }},
		{"ranges", func() error { return w.WriteUint32(s.Ranges) }},
		{"scanners", func() error { return w.WriteUint32(s.Scanners) }},
		{"mem_used", func() error { return w.WriteInt64(s.MemoryUsedBytes) }},
		{"mem_limit", func() error { return w.WriteInt64(s.MemoryLimitBytes) }},
		{"qc_size", func() error { return w.WriteUint32(s.QueryCacheSize) }},
		{"qc_bytes", func() error { return w.WriteInt64(s.QueryCacheBytes) }},
		{"qc_hits", func() error { return w.WriteInt64(s.QueryCacheHits) }},
		{"qc_misses", func() error { return w.WriteInt64(s.QueryCacheMisses) }},
	}
	for _, f := range fields {
		if err := w.WriteString(f.key); err != nil {
			return nil, err
		}
		if err := f.wr(); err != nil {
			return nil, err
		}
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeStats(b []byte) (Stats, error) {
	var s Stats
	r := msgp.NewReader(bytes.NewReader(b))
	n, err := r.ReadMapHeader()
	if err != nil {
		return s, err
	}
	for i := uint32(0); i < n; i++ {
		key, err := r.ReadString()
		if err != nil {
			return s, err
		}
		switch key {
		case "tables":
			if s.Tables, err = r.ReadUint32(); err != nil {
				return s, err
			}
		case "ranges":
			if s.Ranges, err = r.ReadUint32(); err != nil {
				return s, err
			}
		case "scanners":
			if s.Scanners, err = r.ReadUint32(); err != nil {
				return s, err
			}
		case "mem_used":
			if s.MemoryUsedBytes, err = r.ReadInt64(); err != nil {
				return s, err
			}
		case "mem_limit":
			if s.MemoryLimitBytes, err = r.ReadInt64(); err != nil {
				return s, err
			}
		case "qc_size":
			if s.QueryCacheSize, err = r.ReadUint32(); err != nil {
				return s, err
			}
		case "qc_bytes":
			if s.QueryCacheBytes, err = r.ReadInt64(); err != nil {
				return s, err
			}
		case "qc_hits":
			if s.QueryCacheHits, err = r.ReadInt64(); err != nil {
				return s, err
			}
		case "qc_misses":
			if s.QueryCacheMisses, err = r.ReadInt64(); err != nil {
				return s, err
			}
		default:
			if err := r.Skip(); err != nil {
				return s, err
			}
		}
	}
	return s, nil
}

// ErrorPayload is the response payload for any command that failed
// whole-batch (as opposed to update's per-row BackPointer array).
type ErrorPayload struct {
	Code       string
	Validation string
	Message    string
}

func EncodeError(e ErrorPayload) ([]byte, error) {
	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := w.WriteMapHeader(3); err != nil {
		return nil, err
	}
	for _, kv := range []struct {
		key string
		val string
	}{
		{"code", e.Code},
		{"validation", e.Validation},
		{"message", e.Message},
	} {
		if err := w.WriteString(kv.key); err != nil {
			return nil, err
		}
		if err := w.WriteString(kv.val); err != nil {
			return nil, err
		}
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func DecodeError(b []byte) (ErrorPayload, error) {
	var e ErrorPayload
	r := msgp.NewReader(bytes.NewReader(b))
	n, err := r.ReadMapHeader()
	if err != nil {
		return e, err
	}
	for i := uint32(0); i < n; i++ {
		key, err := r.ReadString()
		if err != nil {
			return e, err
		}
		switch key {
		case "code":
			if e.Code, err = r.ReadString(); err != nil {
				return e, err
			}
		case "validation":
			if e.Validation, err = r.ReadString(); err != nil {
				return e, err
			}
		case "message":
			if e.Message, err = r.ReadString(); err != nil {
				return e, err
			}
		default:
			if err := r.Skip(); err != nil {
				return e, err
			}
		}
	}
	return e, nil
}
