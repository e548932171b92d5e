package keyspace

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	k := &Key{
		Row:             []byte("row-1"),
		ColumnFamilyID:  3,
		ColumnQualifier: []byte("qual"),
		Flag:            FlagInsert,
		Timestamp:       1000,
		Revision:        1000,
	}
	enc := k.Encode()
	got, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(got.Row) != "row-1" || got.ColumnFamilyID != 3 || string(got.ColumnQualifier) != "qual" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Timestamp != 1000 || got.Revision != 1000 || got.Flag != FlagInsert {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestTimestampOrderingDescending(t *testing.T) {
	older := &Key{Row: []byte("r"), ColumnQualifier: []byte("q"), Flag: FlagInsert, Timestamp: 100}
	newer := &Key{Row: []byte("r"), ColumnQualifier: []byte("q"), Flag: FlagInsert, Timestamp: 200}

	if Compare(newer, older) >= 0 {
		t.Error("newer timestamp should sort before older")
	}
	if CompareEncoded(newer.Encode(), older.Encode()) >= 0 {
		t.Error("encoded order should match decoded order")
	}
}

func TestDeleteShadowsInsertAtSameTimestamp(t *testing.T) {
	del := &Key{Row: []byte("r"), ColumnQualifier: []byte("q"), Flag: FlagDeleteCell, Timestamp: 100}
	ins := &Key{Row: []byte("r"), ColumnQualifier: []byte("q"), Flag: FlagInsert, Timestamp: 100}

	if Compare(del, ins) >= 0 {
		t.Error("delete marker must sort before insert at an identical timestamp")
	}
}

func TestRowOrderingPrecedesColumn(t *testing.T) {
	a := &Key{Row: []byte("a"), ColumnQualifier: []byte("z"), Flag: FlagInsert, Timestamp: 1}
	b := &Key{Row: []byte("b"), ColumnQualifier: []byte("a"), Flag: FlagInsert, Timestamp: 100}

	if Compare(a, b) >= 0 {
		t.Error("row order must dominate column/timestamp order")
	}
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	if _, err := Decode([]byte("no-nul-terminator")); err == nil {
		t.Error("expected error for missing row terminator")
	}
	if _, err := Decode([]byte("row\x00")); err == nil {
		t.Error("expected error for truncated key")
	}
}

func TestRowOf(t *testing.T) {
	k := &Key{Row: []byte("therow"), ColumnQualifier: []byte("q"), Flag: FlagInsert}
	if string(RowOf(k.Encode())) != "therow" {
		t.Errorf("RowOf = %q", RowOf(k.Encode()))
	}
}

func TestValueEncodeDecode(t *testing.T) {
	v := Value("hello world")
	buf := v.AppendEncoded(nil)
	buf = append(buf, 0xAA, 0xBB) // trailing garbage must be returned untouched

	got, rest, err := DecodeValue(buf)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("got %q", got)
	}
	if len(rest) != 2 || rest[0] != 0xAA {
		t.Errorf("rest = %v", rest)
	}
}

func TestRowRangeContains(t *testing.T) {
	rr := RowRange{TableID: "t", StartRow: []byte("c"), EndRow: []byte("m")}
	cases := map[string]bool{
		"a": false, "c": false, "d": true, "m": true, "n": false,
	}
	for row, want := range cases {
		if got := rr.Contains([]byte(row)); got != want {
			t.Errorf("Contains(%q) = %v, want %v", row, got, want)
		}
	}
}

func TestRowRangeSplitAt(t *testing.T) {
	rr := RowRange{TableID: "t", StartRow: []byte("a"), EndRow: MaxRow}
	low, high := rr.SplitAt([]byte("m"))
	if string(low.EndRow) != "m" || string(high.StartRow) != "m" {
		t.Fatalf("split boundaries wrong: low=%v high=%v", low, high)
	}
	if !low.Valid() || !high.Valid() {
		t.Fatal("split halves must both be valid ranges")
	}
}
