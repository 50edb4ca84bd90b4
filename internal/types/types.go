// =============================================================================
// CSV to XLSM Transfer - Shared Types
// =============================================================================
//
// This package contains the table model shared by the pipeline stages to avoid
// import cycles. Types defined here are used by:
//   - csvparser  (produces a Table of SourceRecords)
//   - transform  (reshapes it into TransferRows)
//   - validation (inspects TransferRows before the merge)
//   - workbook   (computes DuplicateKeys and writes cells)
//
// POSITIONAL MODEL:
//   The source report provides no stable header names, so a Table is an
//   ordered sequence of columns addressed by index. Column names exist only
//   for logging and are never used to look a field up.
//
// =============================================================================

package types

import (
	"strconv"
	"time"
)

// =============================================================================
// CELL VALUES
// =============================================================================

// Kind identifies which field of a Value is meaningful.
type Kind int

const (
	// KindNull is a missing cell (short CSV row, empty identifier).
	KindNull Kind = iota

	// KindText is a raw string cell. Every CSV cell starts out as text.
	KindText

	// KindInt is a 64-bit integer cell (the patient identifier column).
	KindInt

	// KindDate is a calendar date (the first column after date conversion).
	KindDate
)

// Value is a single typed cell.
type Value struct {
	Kind Kind
	Text string
	Int  int64
	Date time.Time
}

// Null returns a missing cell.
func Null() Value { return Value{Kind: KindNull} }

// Text returns a text cell.
func Text(s string) Value { return Value{Kind: KindText, Text: s} }

// Int returns an integer cell.
func Int(n int64) Value { return Value{Kind: KindInt, Int: n} }

// Date returns a date cell truncated to the calendar day.
func Date(t time.Time) Value {
	y, m, d := t.Date()
	return Value{Kind: KindDate, Date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// IsNull reports whether the cell is missing.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// String casts the cell to text the way the merge stage sees it:
// dates become ISO "YYYY-MM-DD", integers decimal, nulls the empty string.
func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindDate:
		return v.Date.Format(ISODateLayout)
	default:
		return ""
	}
}

// =============================================================================
// DATE LAYOUTS
// =============================================================================

const (
	// CompactDateLayout is the 8-digit form used by the source report and by
	// DuplicateKeys ("20240105").
	CompactDateLayout = "20060102"

	// ISODateLayout is the form a date takes after being cast to text.
	ISODateLayout = "2006-01-02"
)

// =============================================================================
// TABLE
// =============================================================================

// Table is a positionally addressed grid of cells.
//
// Invariant: every row has exactly len(Columns) cells.
type Table struct {
	// Columns holds the column labels, in order. Labels are informational.
	Columns []string

	// Rows holds the data rows (header excluded).
	Rows [][]Value
}

// NumColumns returns the table width.
func (t *Table) NumColumns() int { return len(t.Columns) }

// NumRows returns the number of data rows.
func (t *Table) NumRows() int { return len(t.Rows) }

// Clone returns a deep copy so stages can return a modified table while the
// caller keeps the original.
func (t *Table) Clone() *Table {
	out := &Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([][]Value, len(t.Rows)),
	}
	for i, row := range t.Rows {
		out.Rows[i] = append([]Value(nil), row...)
	}
	return out
}

// SelectColumns returns a new table holding only the given column indices,
// in the given order. Indices outside the table are skipped.
func (t *Table) SelectColumns(indices []int) *Table {
	keep := make([]int, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < len(t.Columns) {
			keep = append(keep, idx)
		}
	}

	out := &Table{
		Columns: make([]string, len(keep)),
		Rows:    make([][]Value, len(t.Rows)),
	}
	for i, idx := range keep {
		out.Columns[i] = t.Columns[idx]
	}
	for r, row := range t.Rows {
		newRow := make([]Value, len(keep))
		for i, idx := range keep {
			newRow[i] = row[idx]
		}
		out.Rows[r] = newRow
	}
	return out
}

// FilterRows returns a new table holding the rows for which keep is true.
func (t *Table) FilterRows(keep func(row []Value) bool) *Table {
	out := &Table{Columns: append([]string(nil), t.Columns...)}
	for _, row := range t.Rows {
		if keep(row) {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// =============================================================================
// DUPLICATE KEY
// =============================================================================

// KeyWidth is the number of leading columns that identify a logical record.
const KeyWidth = 6

// DuplicateKey is the composite identity of a destination row: the first six
// fields as text, with the date field normalized to 8 digits.
type DuplicateKey [KeyWidth]string

// NewDuplicateKey builds a key from already-textual fields. Missing trailing
// fields count as empty strings.
func NewDuplicateKey(fields []string) DuplicateKey {
	var key DuplicateKey
	for i := 0; i < KeyWidth && i < len(fields); i++ {
		key[i] = fields[i]
	}
	key[0] = NormalizeDateKey(key[0])
	return key
}

// NormalizeDateKey converts an ISO "YYYY-MM-DD" string into the compact
// "YYYYMMDD" form. Anything else (already compact, free text) is returned
// unchanged.
func NormalizeDateKey(s string) string {
	if t, err := time.Parse(ISODateLayout, s); err == nil {
		return t.Format(CompactDateLayout)
	}
	return s
}
