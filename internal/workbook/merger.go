// =============================================================================
// CSV to XLSM Transfer - Workbook Merger
// =============================================================================
//
// This module appends TransferRows to the destination macro-enabled workbook,
// skipping rows that are already present.
//
// MERGE PROCESS:
//   1. Check the destination exists and is an .xlsm file
//   2. Check for a lock held by another process (the sheet is shared and is
//      usually open on someone's desk)
//   3. Open the workbook and find the last occupied row by scanning down to
//      the first all-empty row
//   4. Build the DuplicateKey set of rows 2..last
//   5. Append every incoming row whose key is not in the set
//   6. Format the appended rows
//   7. Save to a temporary sibling file and rename it over the destination
//
// The rename in step 7 makes the merge all-or-nothing: a failure at any point
// before it leaves the destination byte-for-byte unchanged.
//
// =============================================================================

package workbook

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/shinseikai/csv2xlsm/internal/types"
)

var (
	// ErrDestinationMissing is returned when the workbook does not exist.
	ErrDestinationMissing = errors.New("destination workbook not found")

	// ErrNotMacroEnabled is returned when the destination is not an .xlsm file.
	ErrNotMacroEnabled = errors.New("destination is not a macro-enabled workbook")

	// ErrLocked is returned when another process holds the workbook open.
	// The operator has to close it and run again.
	ErrLocked = errors.New("destination workbook is locked by another process")
)

// MacroEnabledExt is the only accepted destination extension.
const MacroEnabledExt = ".xlsm"

// DateNumFmt is the display format of appended date cells.
const DateNumFmt = "yyyy/mm/dd"

// FormattedColumns is the number of leading columns that receive alignment
// formatting.
const FormattedColumns = 6

// Column positions in the destination sheet (0-based, same as TransferRow).
const (
	dateColumn       = 0
	identifierColumn = 1
)

// Result describes a completed merge.
type Result struct {
	// LastRow is the 1-based last occupied row before appending.
	LastRow int

	// Appended is the number of rows written.
	Appended int

	// Skipped is the number of incoming rows already present.
	Skipped int
}

// =============================================================================
// MERGER
// =============================================================================

// Merger writes TransferRows into the destination workbook.
type Merger struct {
	log zerolog.Logger

	// lockCheck reports whether the file can be opened for writing. Replaced
	// in tests to simulate a lock held by another process.
	lockCheck func(path string) error

	// rename moves the saved temporary file over the destination.
	rename func(oldpath, newpath string) error
}

// NewMerger creates a new Merger.
func NewMerger(log zerolog.Logger) *Merger {
	return &Merger{
		log:       log.With().Str("component", "workbook").Logger(),
		lockCheck: openForWrite,
		rename:    os.Rename,
	}
}

// Merge appends the rows of table that are not already in the workbook at
// path.
//
// PARAMETERS:
//   - path: The destination .xlsm workbook. Its active sheet is used.
//   - table: TransferRows, in destination column order.
//
// RETURNS:
//   - The merge result on success.
//   - ErrDestinationMissing, ErrNotMacroEnabled or ErrLocked (wrapped) for
//     the expected failures; any other error for unexpected ones. No error
//     leaves a durable change behind.
func (m *Merger) Merge(path string, table *types.Table) (*Result, error) {
	if err := checkDestination(path); err != nil {
		return nil, err
	}

	if err := m.lockCheck(path); err != nil {
		return nil, classify(err, "failed to open workbook")
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, classify(err, "failed to open workbook")
	}
	defer func() {
		if err := f.Close(); err != nil {
			m.log.Warn().Err(err).Msg("failed to close workbook")
		}
	}()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	lastRow := LastOccupiedRow(rows)

	existing, err := m.existingKeys(f, sheet, rows, lastRow)
	if err != nil {
		return nil, err
	}

	pending := make([][]types.Value, 0, table.NumRows())
	for _, row := range table.Rows {
		if _, ok := existing[IncomingKey(row)]; ok {
			continue
		}
		pending = append(pending, row)
	}

	result := &Result{
		LastRow:  lastRow,
		Appended: len(pending),
		Skipped:  table.NumRows() - len(pending),
	}

	if len(pending) == 0 {
		m.log.Info().Int("last_row", lastRow).Int("skipped", result.Skipped).Msg("no new rows to append")
		return result, nil
	}

	styles, err := newRowStyles(f)
	if err != nil {
		return nil, err
	}

	for i, row := range pending {
		if err := writeRow(f, sheet, lastRow+1+i, row, styles); err != nil {
			return nil, err
		}
	}

	if err := m.save(f, path); err != nil {
		return nil, err
	}

	m.log.Info().
		Str("sheet", sheet).
		Int("last_row", lastRow).
		Int("appended", result.Appended).
		Int("skipped", result.Skipped).
		Msg("workbook updated")

	return result, nil
}

// checkDestination verifies the preconditions without touching the file.
func checkDestination(path string) error {
	if !strings.EqualFold(filepath.Ext(path), MacroEnabledExt) {
		return fmt.Errorf("%w: %s", ErrNotMacroEnabled, path)
	}

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrDestinationMissing, path)
	}
	if err != nil {
		return fmt.Errorf("failed to stat workbook: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrDestinationMissing, path)
	}
	return nil
}

// openForWrite opens the file read-write and closes it again. On Windows
// this fails with a sharing violation while the spreadsheet application has
// the file open.
func openForWrite(path string) error {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	return file.Close()
}

// classify maps lock failures onto ErrLocked and wraps everything else.
func classify(err error, msg string) error {
	if isLockError(err) {
		return fmt.Errorf("%w: %v", ErrLocked, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// =============================================================================
// DUPLICATE DETECTION
// =============================================================================

// LastOccupiedRow returns the 1-based number of the last row before the first
// row with no values. A cell holding only spaces is a value. The sheet dimension is not used; it often overstates the
// range after rows were cleared by hand.
func LastOccupiedRow(rows [][]string) int {
	for i, row := range rows {
		if isEmptyRow(row) {
			return i
		}
	}
	return len(rows)
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if cell != "" {
			return false
		}
	}
	return true
}

// IncomingKey computes the DuplicateKey of a TransferRow. The identifier is
// keyed the way it will be written, so "1,234" matches a stored 1234.
func IncomingKey(row []types.Value) types.DuplicateKey {
	fields := make([]string, 0, types.KeyWidth)
	for i := 0; i < types.KeyWidth && i < len(row); i++ {
		field := row[i].String()
		if i == identifierColumn {
			if n, ok := identifierValue(row[i]); ok {
				field = strconv.FormatInt(n, 10)
			}
		}
		fields = append(fields, field)
	}
	return types.NewDuplicateKey(fields)
}

// existingKeys reads the key of every data row (2..lastRow). Date-formatted
// numeric cells are converted from their serial to the compact date form.
func (m *Merger) existingKeys(f *excelize.File, sheet string, rows [][]string, lastRow int) (map[types.DuplicateKey]struct{}, error) {
	keys := make(map[types.DuplicateKey]struct{}, lastRow)
	dates := newDateStyleCache(f)

	for r := 2; r <= lastRow; r++ {
		raw := rows[r-1]
		fields := make([]string, types.KeyWidth)

		for c := 0; c < types.KeyWidth && c < len(raw); c++ {
			value := raw[c]

			serial, err := strconv.ParseFloat(value, 64)
			if err != nil {
				fields[c] = value
				continue
			}

			cell, err := excelize.CoordinatesToCellName(c+1, r)
			if err != nil {
				return nil, err
			}
			isDate, err := dates.isDateCell(sheet, cell)
			if err != nil {
				return nil, fmt.Errorf("failed to read style of %s: %w", cell, err)
			}
			if !isDate {
				fields[c] = value
				continue
			}

			t, err := excelize.ExcelDateToTime(serial, false)
			if err != nil {
				m.log.Debug().Str("cell", cell).Str("value", value).Err(err).Msg("date serial out of range; compared as text")
				fields[c] = value
				continue
			}
			fields[c] = t.Format(types.CompactDateLayout)
		}

		keys[types.NewDuplicateKey(fields)] = struct{}{}
	}

	return keys, nil
}

// =============================================================================
// WRITING
// =============================================================================

// rowStyles holds the style ids applied to appended cells, by column.
type rowStyles struct {
	date       int
	identifier int

	// align holds the plain alignment style of each formatted column.
	align []int
}

// newRowStyles registers the styles: vertical centering everywhere,
// horizontal centering on columns 1, 2, 5 and 6, and left alignment with
// shrink-to-fit on columns 3 and 4.
func newRowStyles(f *excelize.File) (*rowStyles, error) {
	centered := func() *excelize.Alignment {
		return &excelize.Alignment{Horizontal: "center", Vertical: "center"}
	}
	alignments := []*excelize.Alignment{
		centered(),
		centered(),
		{Horizontal: "left", Vertical: "center", ShrinkToFit: true},
		{Horizontal: "left", Vertical: "center", ShrinkToFit: true},
		centered(),
		centered(),
	}

	s := &rowStyles{}
	for _, a := range alignments {
		id, err := f.NewStyle(&excelize.Style{Alignment: a})
		if err != nil {
			return nil, fmt.Errorf("failed to create style: %w", err)
		}
		s.align = append(s.align, id)
	}

	dateFmt := DateNumFmt
	var err error
	s.date, err = f.NewStyle(&excelize.Style{Alignment: alignments[dateColumn], CustomNumFmt: &dateFmt})
	if err != nil {
		return nil, fmt.Errorf("failed to create date style: %w", err)
	}
	s.identifier, err = f.NewStyle(&excelize.Style{Alignment: alignments[identifierColumn], NumFmt: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to create identifier style: %w", err)
	}
	return s, nil
}

// writeRow writes one TransferRow at the 1-based row number.
func writeRow(f *excelize.File, sheet string, rowNum int, row []types.Value, styles *rowStyles) error {
	for col, value := range row {
		cell, err := excelize.CoordinatesToCellName(col+1, rowNum)
		if err != nil {
			return err
		}

		style := 0
		if col < FormattedColumns {
			style = styles.align[col]
		}

		switch col {
		case dateColumn:
			if d, ok := dateValue(value); ok {
				err = f.SetCellValue(sheet, cell, d)
				style = styles.date
			} else {
				err = f.SetCellStr(sheet, cell, value.String())
			}

		case identifierColumn:
			if n, ok := identifierValue(value); ok {
				err = f.SetCellValue(sheet, cell, n)
				style = styles.identifier
			} else {
				err = f.SetCellStr(sheet, cell, value.String())
			}

		default:
			err = f.SetCellStr(sheet, cell, value.String())
		}
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", cell, err)
		}

		if style != 0 {
			if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
				return fmt.Errorf("failed to format %s: %w", cell, err)
			}
		}
	}
	return nil
}

// dateValue returns the cell as a date when it is one or parses as one.
func dateValue(v types.Value) (time.Time, bool) {
	switch v.Kind {
	case types.KindDate:
		return v.Date, true
	case types.KindText:
		for _, layout := range []string{types.ISODateLayout, types.CompactDateLayout} {
			if d, err := time.Parse(layout, strings.TrimSpace(v.Text)); err == nil {
				return d, true
			}
		}
	}
	return time.Time{}, false
}

// identifierValue returns the cell as an integer once thousands separators
// are removed.
func identifierValue(v types.Value) (int64, bool) {
	switch v.Kind {
	case types.KindInt:
		return v.Int, true
	case types.KindText:
		n, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(v.Text), ",", ""), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// =============================================================================
// SAVING
// =============================================================================

// save writes the workbook next to path and renames it into place. The
// temporary file is removed on any failure.
func (m *Merger) save(f *excelize.File, path string) (err error) {
	tmp := filepath.Join(filepath.Dir(path), ".~"+uuid.NewString()+".tmp")

	out, err := os.Create(tmp)
	if err != nil {
		return classify(err, "failed to create temporary workbook")
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	// The buffer keeps the package's own content types, so the macro-enabled
	// part types read from the destination are written back unchanged.
	buf, err := f.WriteToBuffer()
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	if _, err = out.Write(buf.Bytes()); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	if err = m.rename(tmp, path); err != nil {
		return classify(err, "failed to save workbook")
	}
	return nil
}
