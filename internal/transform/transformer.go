// =============================================================================
// CSV to XLSM Transfer - Row Transformer
// =============================================================================
//
// This module reshapes the report table into TransferRows: the destination
// sheet's columns, in destination order.
//
// TRANSFORMATION STEPS (order matters):
//   1. Rename every column to col_<index>_<name> so duplicate or blank
//      headers cannot collide
//   2. Remove report metadata columns 8 and 10
//   3. Remove the preamble columns 0-2 of the resulting layout
//   4. Strip whitespace (including the full-width space) and asterisks from
//      the document-name and doctor-name columns
//   5. Drop rows whose document or doctor name contains an excluded substring
//
// Date conversion of the first column is a separate step (ConvertDates)
// because it is allowed to fail without failing the run.
//
// =============================================================================

package transform

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/shinseikai/csv2xlsm/internal/types"
)

// =============================================================================
// LAYOUT CONSTANTS
// =============================================================================
// The source report has no stable header names; these indices are the
// contract with its fixed layout.

var (
	// MetadataColumns are removed first, addressed in the renamed table.
	MetadataColumns = []int{8, 10}

	// PreambleColumns are removed second, addressed in the layout left after
	// the metadata removal.
	PreambleColumns = []int{0, 1, 2}
)

const (
	// DateColumn is the TransferRow position of the calendar date.
	DateColumn = 0

	// IdentifierColumn is the TransferRow position of the patient identifier.
	IdentifierColumn = 1

	// DefaultDocumentColumn is the TransferRow position of the document name.
	DefaultDocumentColumn = 3

	// DefaultDoctorColumn is the TransferRow position of the doctor or
	// department name.
	DefaultDoctorColumn = 5
)

// ErrSchemaDrift is returned when the report no longer has the columns the
// layout constants point at.
var ErrSchemaDrift = errors.New("report layout does not match the expected columns")

// =============================================================================
// TRANSFORMER
// =============================================================================

// Options carries the user-maintained settings the transformer needs.
type Options struct {
	// DocumentColumn and DoctorColumn locate the cleaned, filterable columns
	// after the removals.
	DocumentColumn int
	DoctorColumn   int

	// ExcludeDocs and ExcludeDoctors are literal substrings; a row is dropped
	// when its document (doctor) name contains any of them.
	ExcludeDocs    []string
	ExcludeDoctors []string
}

// DefaultOptions returns options with the standard column layout and no
// exclusions.
func DefaultOptions() Options {
	return Options{
		DocumentColumn: DefaultDocumentColumn,
		DoctorColumn:   DefaultDoctorColumn,
	}
}

// Transformer applies the fixed reshaping plus the configured exclusions.
type Transformer struct {
	opts Options
	log  zerolog.Logger
}

// NewTransformer creates a new Transformer with the given options.
func NewTransformer(opts Options, log zerolog.Logger) *Transformer {
	return &Transformer{
		opts: opts,
		log:  log.With().Str("component", "transform").Logger(),
	}
}

// Process reshapes the table. The input is not modified.
//
// RETURNS:
//   - The reshaped, filtered table.
//   - ErrSchemaDrift (wrapped) if the cleaned columns do not exist.
func (t *Transformer) Process(in *types.Table) (*types.Table, error) {
	table := RenameColumns(in)

	table = RemoveColumns(table, MetadataColumns)
	table = RemoveColumns(table, PreambleColumns)

	width := table.NumColumns()
	for _, col := range []int{t.opts.DocumentColumn, t.opts.DoctorColumn} {
		if col < 0 || col >= width {
			return nil, fmt.Errorf("%w: column %d requested, %d available after removals", ErrSchemaDrift, col, width)
		}
	}

	CleanColumn(table, t.opts.DocumentColumn)
	CleanColumn(table, t.opts.DoctorColumn)

	before := table.NumRows()
	table = ExcludeContaining(table, t.opts.DocumentColumn, t.opts.ExcludeDocs)
	table = ExcludeContaining(table, t.opts.DoctorColumn, t.opts.ExcludeDoctors)

	t.log.Info().
		Int("columns", width).
		Int("rows_in", before).
		Int("rows_out", table.NumRows()).
		Msg("rows transformed")

	return table, nil
}

// =============================================================================
// TRANSFORMATION FUNCTIONS
// =============================================================================

// RenameColumns returns a copy whose columns are named col_<index>_<name>.
func RenameColumns(in *types.Table) *types.Table {
	out := in.Clone()
	for i, name := range out.Columns {
		out.Columns[i] = fmt.Sprintf("col_%d_%s", i, name)
	}
	return out
}

// RemoveColumns returns a copy without the given positional indices.
// Indices beyond the table width are ignored.
func RemoveColumns(in *types.Table, remove []int) *types.Table {
	drop := make(map[int]bool, len(remove))
	for _, idx := range remove {
		drop[idx] = true
	}

	keep := make([]int, 0, in.NumColumns())
	for i := 0; i < in.NumColumns(); i++ {
		if !drop[i] {
			keep = append(keep, i)
		}
	}
	return in.SelectColumns(keep)
}

// CleanColumn strips every whitespace rune and asterisk from the text cells
// of one column, in place. The report marks amended entries with asterisks
// and irregular spacing.
func CleanColumn(table *types.Table, col int) {
	for _, row := range table.Rows {
		if row[col].Kind == types.KindText {
			row[col] = types.Text(CleanText(row[col].Text))
		}
	}
}

// CleanText removes whitespace (ASCII and full-width) and '*'.
//
// EXAMPLE:
//   Input:  "田中　医師 *"
//   Output: "田中医師"
func CleanText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '*' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// ExcludeContaining drops rows whose cell in col contains any of the
// substrings. Matching is literal and case-sensitive; null cells never match.
func ExcludeContaining(table *types.Table, col int, substrings []string) *types.Table {
	for _, sub := range substrings {
		if sub == "" {
			continue
		}
		table = table.FilterRows(func(row []types.Value) bool {
			cell := row[col]
			return cell.IsNull() || !strings.Contains(cell.String(), sub)
		})
	}
	return table
}

// =============================================================================
// DATE CONVERSION
// =============================================================================

// ConvertDates parses the first column from YYYYMMDD text into date cells.
// If any row fails to parse, the failure is logged and the input table is
// returned unconverted; downstream stages accept either form.
func (t *Transformer) ConvertDates(in *types.Table) *types.Table {
	if in.NumColumns() == 0 {
		return in
	}

	out := in.Clone()
	for i, row := range out.Rows {
		cell := row[DateColumn]
		if cell.IsNull() || cell.Kind == types.KindDate {
			continue
		}

		d, err := ParseCompactDate(cell.String())
		if err != nil {
			t.log.Warn().
				Int("row", i+1).
				Str("value", cell.String()).
				Err(err).
				Msg("date conversion failed; continuing with unconverted dates")
			return in
		}
		row[DateColumn] = types.Date(d)
	}
	return out
}

// ParseCompactDate parses an 8-digit YYYYMMDD string.
func ParseCompactDate(s string) (time.Time, error) {
	if len(s) != 8 {
		return time.Time{}, fmt.Errorf("expected 8 digits, got %q", s)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return time.Time{}, fmt.Errorf("expected 8 digits, got %q", s)
		}
	}
	return time.Parse(types.CompactDateLayout, s)
}
