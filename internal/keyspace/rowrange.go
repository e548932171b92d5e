package keyspace

import "bytes"

// RowRange is the row interval a single range owns: (start_row_exclusive,
// end_row_inclusive] of one table. spec.md §3: start_row < end_row
// lexicographically; MaxRow is the greatest possible row.
type RowRange struct {
	TableID  string
	StartRow []byte // exclusive; nil/empty means "beginning of table"
	EndRow   []byte // inclusive; MaxRow means "end of table"
}

// Contains reports whether row falls in (StartRow, EndRow].
func (r RowRange) Contains(row []byte) bool {
	if len(r.StartRow) > 0 && bytes.Compare(row, r.StartRow) <= 0 {
		return false
	}
	return bytes.Compare(row, r.EndRow) <= 0
}

// Valid checks the ordering invariant start < end.
func (r RowRange) Valid() bool {
	if len(r.StartRow) == 0 {
		return true
	}
	return bytes.Compare(r.StartRow, r.EndRow) < 0
}

// SplitAt returns the two row ranges produced by splitting r at midpoint:
// the retained (low) half (StartRow, midpoint] and the new (high) half
// (midpoint, EndRow].
func (r RowRange) SplitAt(midpoint []byte) (low, high RowRange) {
	low = RowRange{TableID: r.TableID, StartRow: r.StartRow, EndRow: midpoint}
	high = RowRange{TableID: r.TableID, StartRow: midpoint, EndRow: r.EndRow}
	return
}

func (r RowRange) String() string {
	start := string(r.StartRow)
	if start == "" {
		start = "-"
	}
	end := string(r.EndRow)
	if bytes.Equal(r.EndRow, MaxRow) {
		end = "END"
	}
	return r.TableID + "[" + start + ".." + end + "]"
}
