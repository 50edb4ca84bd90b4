package workbook

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/shinseikai/csv2xlsm/internal/types"
)

var header = []interface{}{"預り日", "患者ID", "患者名", "文書名", "状態", "医師名", "備考"}

// newDestination saves a workbook with the header row and the given data
// rows starting at row 2. A nil row leaves that row empty.
func newDestination(t *testing.T, rows ...[]interface{}) string {
	t.Helper()

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &header))

	for i, row := range rows {
		if row == nil {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	path := filepath.Join(t.TempDir(), "医療文書担当一覧.xlsm")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

func openWorkbook(t *testing.T, path string) (*excelize.File, string) {
	t.Helper()
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f, f.GetSheetName(f.GetActiveSheetIndex())
}

func rawValue(t *testing.T, f *excelize.File, sheet, cell string) string {
	t.Helper()
	v, err := f.GetCellValue(sheet, cell, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	return v
}

func jan5() time.Time { return time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC) }

func transferTable(rows ...[]types.Value) *types.Table {
	return &types.Table{
		Columns: []string{"date", "id", "name", "doc", "status", "doctor", "note"},
		Rows:    rows,
	}
}

func newTestMerger() *Merger {
	return NewMerger(zerolog.Nop())
}

func TestMerge_AppendsThenIsIdempotent(t *testing.T) {
	path := newDestination(t)
	table := transferTable(
		[]types.Value{types.Date(jan5()), types.Int(12345), types.Text("山田"), types.Text("診断書"), types.Null(), types.Text("田中"), types.Text("急ぎ")},
		[]types.Value{types.Text("20240106"), types.Text("1,234"), types.Text("佐藤"), types.Text("紹介状"), types.Null(), types.Text("鈴木"), types.Null()},
	)

	first, err := newTestMerger().Merge(path, table)
	require.NoError(t, err)
	assert.Equal(t, &Result{LastRow: 1, Appended: 2, Skipped: 0}, first)

	f, sheet := openWorkbook(t, path)
	assert.Equal(t, "45296", rawValue(t, f, sheet, "A2"))
	assert.Equal(t, "12345", rawValue(t, f, sheet, "B2"))
	assert.Equal(t, "山田", rawValue(t, f, sheet, "C2"))
	assert.Equal(t, "", rawValue(t, f, sheet, "E2"))
	assert.Equal(t, "急ぎ", rawValue(t, f, sheet, "G2"))
	assert.Equal(t, "45297", rawValue(t, f, sheet, "A3"))
	assert.Equal(t, "1234", rawValue(t, f, sheet, "B3"))
	require.NoError(t, f.Close())

	second, err := newTestMerger().Merge(path, table)
	require.NoError(t, err)
	assert.Equal(t, &Result{LastRow: 3, Appended: 0, Skipped: 2}, second)
}

func TestMerge_DateFormsShareOneKey(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &header))
	require.NoError(t, f.SetCellValue(sheet, "A2", jan5()))
	dateStyle, err := f.NewStyle(&excelize.Style{NumFmt: 14})
	require.NoError(t, err)
	require.NoError(t, f.SetCellStyle(sheet, "A2", "A2", dateStyle))
	require.NoError(t, f.SetCellValue(sheet, "B2", 12345))
	require.NoError(t, f.SetCellStr(sheet, "C2", "山田"))
	require.NoError(t, f.SetCellStr(sheet, "D2", "診断書"))
	require.NoError(t, f.SetCellStr(sheet, "F2", "田中"))

	path := filepath.Join(t.TempDir(), "dest.xlsm")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	rest := []types.Value{types.Int(12345), types.Text("山田"), types.Text("診断書"), types.Null(), types.Text("田中")}
	table := transferTable(
		append([]types.Value{types.Text("20240105")}, rest...),
		append([]types.Value{types.Text("2024-01-05")}, rest...),
		append([]types.Value{types.Date(jan5())}, rest...),
	)

	result, err := newTestMerger().Merge(path, table)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Appended)
	assert.Equal(t, 3, result.Skipped)
}

func TestMerge_AppendsAfterFirstEmptyRow(t *testing.T) {
	path := newDestination(t,
		[]interface{}{"20240101", "1", "a", "b", "", "c"},
		nil,
		[]interface{}{"stray", "", "", "", "", ""},
	)
	table := transferTable([]types.Value{types.Text("20240102"), types.Int(2), types.Text("x"), types.Text("y"), types.Null(), types.Text("z")})

	result, err := newTestMerger().Merge(path, table)
	require.NoError(t, err)
	assert.Equal(t, 2, result.LastRow)

	f, sheet := openWorkbook(t, path)
	assert.Equal(t, "2", rawValue(t, f, sheet, "B3"))
	assert.Equal(t, "stray", rawValue(t, f, sheet, "A4"))
}

func TestMerge_TextFallbacks(t *testing.T) {
	path := newDestination(t)
	table := transferTable([]types.Value{types.Text("不明"), types.Text("A-9"), types.Null(), types.Text("診断書"), types.Null(), types.Text("田中")})

	_, err := newTestMerger().Merge(path, table)
	require.NoError(t, err)

	f, sheet := openWorkbook(t, path)
	assert.Equal(t, "不明", rawValue(t, f, sheet, "A2"))
	assert.Equal(t, "A-9", rawValue(t, f, sheet, "B2"))
	assert.Equal(t, "", rawValue(t, f, sheet, "C2"))

	dates := newDateStyleCache(f)
	isDate, err := dates.isDateCell(sheet, "A2")
	require.NoError(t, err)
	assert.False(t, isDate, "text fallback must not carry the date format")
}

func TestMerge_Formatting(t *testing.T) {
	path := newDestination(t)
	table := transferTable([]types.Value{types.Date(jan5()), types.Int(1), types.Text("山田"), types.Text("診断書"), types.Text("済"), types.Text("田中"), types.Text("備考")})

	_, err := newTestMerger().Merge(path, table)
	require.NoError(t, err)

	f, sheet := openWorkbook(t, path)

	alignment := func(cell string) *excelize.Alignment {
		id, err := f.GetCellStyle(sheet, cell)
		require.NoError(t, err)
		style, err := f.GetStyle(id)
		require.NoError(t, err)
		require.NotNil(t, style.Alignment, cell)
		return style.Alignment
	}

	for _, cell := range []string{"A2", "B2", "E2", "F2"} {
		a := alignment(cell)
		assert.Equal(t, "center", a.Horizontal, cell)
		assert.Equal(t, "center", a.Vertical, cell)
	}
	for _, cell := range []string{"C2", "D2"} {
		a := alignment(cell)
		assert.Equal(t, "left", a.Horizontal, cell)
		assert.True(t, a.ShrinkToFit, cell)
	}

	isDate, err := newDateStyleCache(f).isDateCell(sheet, "A2")
	require.NoError(t, err)
	assert.True(t, isDate)

	styleG, err := f.GetCellStyle(sheet, "G2")
	require.NoError(t, err)
	assert.Zero(t, styleG, "columns past the sixth are not formatted")
}

func TestMerge_LockedDestinationIsUntouched(t *testing.T) {
	path := newDestination(t)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	m := newTestMerger()
	m.lockCheck = func(p string) error {
		return &fs.PathError{Op: "open", Path: p, Err: fs.ErrPermission}
	}

	_, err = m.Merge(path, transferTable([]types.Value{types.Text("20240105"), types.Int(1)}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestMerge_FailedSaveLeavesDestinationUntouched(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		locked bool
	}{
		{"locked at rename", &fs.PathError{Op: "rename", Path: "dest", Err: fs.ErrPermission}, true},
		{"other rename failure", errors.New("device not ready"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := newDestination(t)
			before, err := os.ReadFile(path)
			require.NoError(t, err)

			m := newTestMerger()
			m.rename = func(oldpath, newpath string) error { return tt.err }

			_, err = m.Merge(path, transferTable([]types.Value{types.Text("20240105"), types.Int(1)}))
			require.Error(t, err)
			assert.Equal(t, tt.locked, errors.Is(err, ErrLocked))

			after, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, before, after)

			leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".~*.tmp"))
			require.NoError(t, err)
			assert.Empty(t, leftovers)
		})
	}
}

func TestMerge_WhitespaceRowIsNotTheEnd(t *testing.T) {
	path := newDestination(t,
		[]interface{}{"20240105", 1, "山田"},
		[]interface{}{" "},
		[]interface{}{"20240106", 2, "佐藤"},
	)

	result, err := newTestMerger().Merge(path, transferTable([]types.Value{types.Text("20240107"), types.Int(3)}))
	require.NoError(t, err)
	assert.Equal(t, 4, result.LastRow)

	f, sheet := openWorkbook(t, path)
	assert.Equal(t, "2", rawValue(t, f, sheet, "B4"))
	assert.Equal(t, "3", rawValue(t, f, sheet, "B5"))
}

func TestMerge_Preconditions(t *testing.T) {
	dir := t.TempDir()

	xlsx := filepath.Join(dir, "list.xlsx")
	require.NoError(t, os.WriteFile(xlsx, []byte("x"), 0644))

	tests := []struct {
		name string
		path string
		want error
	}{
		{"missing", filepath.Join(dir, "missing.xlsm"), ErrDestinationMissing},
		{"wrong extension", xlsx, ErrNotMacroEnabled},
		{"directory", func() string {
			d := filepath.Join(dir, "folder.xlsm")
			require.NoError(t, os.Mkdir(d, 0755))
			return d
		}(), ErrDestinationMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestMerger().Merge(tt.path, transferTable())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), err.Error())
		})
	}
}

func TestLastOccupiedRow(t *testing.T) {
	assert.Equal(t, 0, LastOccupiedRow(nil))
	assert.Equal(t, 0, LastOccupiedRow([][]string{{}}))
	assert.Equal(t, 2, LastOccupiedRow([][]string{{"h"}, {"", "x"}}))
	assert.Equal(t, 3, LastOccupiedRow([][]string{{"h"}, {" ", ""}, {"x"}}))
	assert.Equal(t, 1, LastOccupiedRow([][]string{{"h"}, {"", ""}, {"x"}}))
}

func TestIncomingKey(t *testing.T) {
	key := IncomingKey([]types.Value{types.Date(jan5()), types.Int(7), types.Null()})
	assert.Equal(t, types.DuplicateKey{"20240105", "7", "", "", "", ""}, key)

	withCommas := IncomingKey([]types.Value{types.Text("2024-01-05"), types.Text("1,234")})
	assert.Equal(t, types.DuplicateKey{"20240105", "1234", "", "", "", ""}, withCommas)
}

func TestIsDateFormatCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"yyyy/mm/dd", true},
		{"[$-411]ggge\"年\"m\"月\"d\"日\"", true},
		{"d-mmm", true},
		{"0.00", false},
		{"#,##0", false},
		{"[h]:mm:ss", false},
		{"\"day\" 0", false},
		{"[Red]0;\\d0", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsDateFormatCode(tt.code), tt.code)
	}
}
