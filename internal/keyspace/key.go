// Package keyspace implements the composite row/column/timestamp key used
// throughout the range server: encoding, decoding, and the total order that
// every cell cache, cell store, and scanner merge sorts against.
package keyspace

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Flag identifies the kind of mutation a key represents.
type Flag byte

const (
	// FlagDeleteRow shadows every cell in the row at or before its timestamp.
	FlagDeleteRow Flag = 0
	// FlagDeleteColumnFamily shadows every cell in the family at or before its timestamp.
	FlagDeleteColumnFamily Flag = 1
	// FlagDeleteCell shadows a single (row, family, qualifier) cell.
	FlagDeleteCell Flag = 2
	// FlagInsert is a live value.
	FlagInsert Flag = 255
)

func (f Flag) String() string {
	switch f {
	case FlagDeleteRow:
		return "DELETE_ROW"
	case FlagDeleteColumnFamily:
		return "DELETE_COLUMN_FAMILY"
	case FlagDeleteCell:
		return "DELETE_CELL"
	case FlagInsert:
		return "INSERT"
	default:
		return fmt.Sprintf("FLAG(%d)", byte(f))
	}
}

func (f Flag) IsDelete() bool { return f != FlagInsert }

// Control bits on the wire timestamp/revision fields, set by the client to
// ask the server to assign values.
type TimeCtrl byte

const (
	AutoTimestamp  TimeCtrl = 1 << 0
	HaveTimestamp  TimeCtrl = 1 << 1
	HaveRevision   TimeCtrl = 1 << 2
)

// Key is the decoded composite key: (row, column_family_id, column_qualifier,
// flag, timestamp, revision). Row and ColumnQualifier are NUL-terminated on
// the wire; here they are plain byte slices with no embedded NUL.
type Key struct {
	Row             []byte
	ColumnFamilyID  byte
	ColumnQualifier []byte
	Flag            Flag
	Timestamp       uint64
	Revision        uint64
	Ctrl            TimeCtrl
}

// AutoTimestampValue is the sentinel timestamp value requesting server assignment.
const AutoTimestampValue uint64 = ^uint64(0)

// MaxRow is the sentinel greatest-possible row per spec.md §3 ("0xff 0xff").
var MaxRow = []byte{0xff, 0xff}

// invertBE flips every bit so that lexicographic byte order on the inverted
// big-endian form equals descending numeric order (newest timestamp/revision
// sorts first under a shared row/column prefix).
func invertBE(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, ^v)
	return b
}

func uninvertBE(b []byte) uint64 {
	return ^binary.BigEndian.Uint64(b)
}

// Encode serializes the key into its total-order byte form:
//
//	row NUL cf_id cq NUL invertedTS flag invertedRevision
//
// The inverted timestamp puts the newest entry of a cell first; flag
// sorts numerically so that, within an identical (row, cf, cq,
// timestamp), delete markers (lower flag values) precede inserts (255),
// which is what lets a merge scanner apply "delete shadows insert at or
// before this timestamp" without look-ahead.
func (k *Key) Encode() []byte {
	buf := make([]byte, 0, len(k.Row)+1+1+len(k.ColumnQualifier)+1+1+8+8)
	buf = append(buf, k.Row...)
	buf = append(buf, 0)
	buf = append(buf, k.ColumnFamilyID)
	buf = append(buf, k.ColumnQualifier...)
	buf = append(buf, 0)
	buf = append(buf, invertBE(k.Timestamp)...)
	buf = append(buf, byte(k.Flag))
	buf = append(buf, invertBE(k.Revision)...)
	return buf
}

// Decode is the inverse of Encode. It returns an error if the encoding is
// structurally malformed (missing NUL separators or a short trailer).
func Decode(b []byte) (*Key, error) {
	rowEnd := bytes.IndexByte(b, 0)
	if rowEnd < 0 {
		return nil, fmt.Errorf("keyspace: missing row terminator")
	}
	rest := b[rowEnd+1:]
	if len(rest) < 1 {
		return nil, fmt.Errorf("keyspace: truncated key after row")
	}
	cfID := rest[0]
	rest = rest[1:]
	cqEnd := bytes.IndexByte(rest, 0)
	if cqEnd < 0 {
		return nil, fmt.Errorf("keyspace: missing column-qualifier terminator")
	}
	cq := rest[:cqEnd]
	rest = rest[cqEnd+1:]
	if len(rest) != 1+8+8 {
		return nil, fmt.Errorf("keyspace: malformed trailer (%d bytes)", len(rest))
	}
	ts := uninvertBE(rest[0:8])
	flag := Flag(rest[8])
	rev := uninvertBE(rest[9:17])

	row := make([]byte, rowEnd)
	copy(row, b[:rowEnd])
	qual := make([]byte, len(cq))
	copy(qual, cq)

	return &Key{
		Row:             row,
		ColumnFamilyID:  cfID,
		ColumnQualifier: qual,
		Flag:            flag,
		Timestamp:       ts,
		Revision:        rev,
	}, nil
}

// Compare implements the total order of spec.md §3: row ascending; within a
// row, (column_family_id, column_qualifier) ascending; within a cell,
// timestamp descending (newest first); ties broken by flag then revision
// descending. Because the encoded byte form already embeds this order via
// bit inversion, Compare is just bytes.Compare on the encoded forms — this
// function exists to compare decoded keys without re-encoding on every call.
func Compare(a, b *Key) int {
	if c := bytes.Compare(a.Row, b.Row); c != 0 {
		return c
	}
	if a.ColumnFamilyID != b.ColumnFamilyID {
		if a.ColumnFamilyID < b.ColumnFamilyID {
			return -1
		}
		return 1
	}
	if c := bytes.Compare(a.ColumnQualifier, b.ColumnQualifier); c != 0 {
		return c
	}
	if a.Timestamp != b.Timestamp {
		if a.Timestamp > b.Timestamp {
			return -1 // newer sorts first
		}
		return 1
	}
	if a.Flag != b.Flag {
		if a.Flag < b.Flag {
			return -1
		}
		return 1
	}
	if a.Revision != b.Revision {
		if a.Revision > b.Revision {
			return -1
		}
		return 1
	}
	return 0
}

// CompareEncoded compares two already-encoded keys. Total order is identical
// to Compare by construction (see Encode's doc comment).
func CompareEncoded(a, b []byte) int {
	return bytes.Compare(a, b)
}

// RowOf extracts just the row prefix from an encoded key, for range-boundary
// comparisons that only care about the row component.
func RowOf(encoded []byte) []byte {
	if i := bytes.IndexByte(encoded, 0); i >= 0 {
		return encoded[:i]
	}
	return encoded
}

// Value is an opaque, length-prefixed byte string.
type Value []byte

// AppendEncoded appends this value's wire form (4-byte big-endian length
// prefix + bytes) to buf and returns the extended slice.
func (v Value) AppendEncoded(buf []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, v...)
}

// DecodeValue reads a length-prefixed value from the front of b and returns
// the value plus the remaining bytes.
func DecodeValue(b []byte) (Value, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("keyspace: truncated value length")
	}
	n := binary.BigEndian.Uint32(b)
	if len(b) < 4+int(n) {
		return nil, nil, fmt.Errorf("keyspace: truncated value body")
	}
	return Value(b[4 : 4+n]), b[4+int(n):], nil
}

// KeyValue pairs a decoded key with its value, the unit scanners emit.
type KeyValue struct {
	Key   *Key
	Value Value
}

// ShadowFilter applies spec.md §3's delete-shadowing rule across a set of
// candidate cells: "delete markers at a given (row, cf, cq, ts) shadow
// inserts whose timestamp is ≤ the marker's timestamp", generalized to
// the three delete scopes a Flag can carry -- FlagDeleteCell shadows one
// (row, cf, cq), FlagDeleteColumnFamily shadows every (cf, cq) in a row's
// family, FlagDeleteRow shadows the whole row -- regardless of where the
// marker itself happens to sort among the row's other column families
// and qualifiers. Callers make one Observe pass over every candidate key
// (in any order) to collect the row- and family-wide delete thresholds,
// then a second pass over keys taken in Compare order calling Resolve,
// which folds in the remaining (row, cf, cq)-scoped newest-wins dedup
// that Observe's broader scopes can't express on their own.
type ShadowFilter struct {
	rowDeleteTs map[string]uint64
	cfDeleteTs  map[string]uint64
	seenCell    map[string]bool
}

// NewShadowFilter returns an empty filter ready for an Observe pass.
func NewShadowFilter() *ShadowFilter {
	return &ShadowFilter{
		rowDeleteTs: make(map[string]uint64),
		cfDeleteTs:  make(map[string]uint64),
		seenCell:    make(map[string]bool),
	}
}

// Observe records k's delete scope, if any, so a later Resolve call for
// any other key in the same row (or row+family) can be shadowed by it.
func (f *ShadowFilter) Observe(k *Key) {
	switch k.Flag {
	case FlagDeleteRow:
		rk := string(k.Row)
		if k.Timestamp > f.rowDeleteTs[rk] {
			f.rowDeleteTs[rk] = k.Timestamp
		}
	case FlagDeleteColumnFamily:
		ck := string(k.Row) + string(k.ColumnFamilyID)
		if k.Timestamp > f.cfDeleteTs[ck] {
			f.cfDeleteTs[ck] = k.Timestamp
		}
	}
}

// shadowed reports whether k falls at or before a row-wide or
// family-wide delete threshold recorded by Observe.
func (f *ShadowFilter) shadowed(k *Key) bool {
	rk := string(k.Row)
	if ts, ok := f.rowDeleteTs[rk]; ok && k.Timestamp <= ts {
		return true
	}
	ck := rk + string(k.ColumnFamilyID)
	if ts, ok := f.cfDeleteTs[ck]; ok && k.Timestamp <= ts {
		return true
	}
	return false
}

// Resolve reports whether k is the surviving value for its cell: not
// shadowed by a row- or family-wide delete, the newest entry seen so far
// for its exact (row, cf, cq) -- which also makes a FlagDeleteCell marker
// shadow every older entry for that one cell, same as before -- and not
// itself a delete marker. Keys must be fed to Resolve in Compare order
// (newest-per-cell first) for the per-cell dedup to pick the right
// winner.
func (f *ShadowFilter) Resolve(k *Key) bool {
	if f.shadowed(k) {
		return false
	}
	cellID := string(k.Row) + "\x00" + string(k.ColumnFamilyID) + string(k.ColumnQualifier)
	if f.seenCell[cellID] {
		return false
	}
	f.seenCell[cellID] = true
	return k.Flag == FlagInsert
}
