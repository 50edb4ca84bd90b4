//go:build windows

package automation

import (
	"errors"
	"fmt"
	"runtime"

	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"github.com/rs/zerolog"
)

// Excel object model constants.
const (
	xlMaximized    = -4137
	xlMinimized    = -4140
	xlUp           = -4162
	xlYes          = 1
	xlAscending    = 1
	xlSortOnValues = 0
	xlTopToBottom  = 1
)

// SortKeyColumns are the sort keys in priority order: date, department,
// identifier.
var SortKeyColumns = []string{"A", "E", "B"}

// SortLastColumn bounds the sorted range on the right.
const SortLastColumn = "I"

// sFalse is returned by CoInitializeEx when the thread is already
// initialized; it is not a failure.
const sFalse = 0x00000001

// ExcelHost drives Excel through its COM automation interface.
//
// COM objects are apartment-bound, so every call must come from the goroutine
// that called Launch; Launch locks it to its OS thread until Release.
type ExcelHost struct {
	log zerolog.Logger

	app  *ole.IDispatch
	held []*ole.IDispatch

	initialized bool
}

// NewExcelHost returns the Excel COM host.
func NewExcelHost(log zerolog.Logger) Host {
	return &ExcelHost{log: log.With().Str("component", "excel").Logger()}
}

// Launch attaches to a running Excel or starts one. On failure everything
// acquired so far is released.
func (h *ExcelHost) Launch() error {
	if err := h.launch(); err != nil {
		h.Release()
		return err
	}
	return nil
}

func (h *ExcelHost) launch() error {
	runtime.LockOSThread()

	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		var oleErr *ole.OleError
		if !errors.As(err, &oleErr) || oleErr.Code() != sFalse {
			runtime.UnlockOSThread()
			return fmt.Errorf("failed to initialize COM: %w", err)
		}
	}
	h.initialized = true

	unknown, err := oleutil.GetActiveObject("Excel.Application")
	if err != nil {
		unknown, err = oleutil.CreateObject("Excel.Application")
		if err != nil {
			return fmt.Errorf("failed to start Excel: %w", err)
		}
	}
	defer unknown.Release()

	h.app, err = unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return fmt.Errorf("failed to get Excel dispatch: %w", err)
	}

	if err := h.put(h.app, "Visible", true); err != nil {
		return err
	}

	h.bringToFront()
	return nil
}

// bringToFront raises the Excel window. Failure is tolerated; the window is
// maximized on Open regardless.
func (h *ExcelHost) bringToFront() {
	v, err := oleutil.GetProperty(h.app, "Hwnd")
	if err != nil {
		h.log.Debug().Err(err).Msg("failed to read Excel window handle")
		return
	}
	hwnd := uintptr(variantInt(v))
	_ = v.Clear()

	if err := setForegroundWindow(hwnd); err != nil {
		h.log.Debug().Err(err).Msg("failed to raise Excel window")
	}
}

// Open opens the workbook, maximizes Excel and activates the first window.
func (h *ExcelHost) Open(path string) (Sheet, error) {
	workbooks, err := h.get(h.app, "Workbooks")
	if err != nil {
		return nil, err
	}

	workbook, err := h.call(workbooks, "Open", path)
	if err != nil {
		return nil, err
	}

	if err := h.put(h.app, "WindowState", xlMaximized); err != nil {
		return nil, err
	}

	window, err := h.get(workbook, "Windows", 1)
	if err != nil {
		return nil, err
	}
	if _, err := h.call(window, "Activate"); err != nil {
		return nil, err
	}

	sheet, err := h.get(workbook, "ActiveSheet")
	if err != nil {
		return nil, err
	}

	return &excelSheet{host: h, workbook: workbook, sheet: sheet}, nil
}

// Minimize minimizes the Excel window.
func (h *ExcelHost) Minimize() {
	if h.app == nil {
		return
	}
	if err := h.put(h.app, "WindowState", xlMinimized); err != nil {
		h.log.Debug().Err(err).Msg("failed to minimize Excel")
	}
}

// Release drops every COM reference taken since Launch.
func (h *ExcelHost) Release() {
	for i := len(h.held) - 1; i >= 0; i-- {
		h.held[i].Release()
	}
	h.held = nil

	if h.app != nil {
		h.app.Release()
		h.app = nil
	}

	if h.initialized {
		ole.CoUninitialize()
		h.initialized = false
		runtime.UnlockOSThread()
	}
}

// =============================================================================
// DISPATCH HELPERS
// =============================================================================

// get reads an object-valued property and keeps the reference for Release.
func (h *ExcelHost) get(obj *ole.IDispatch, name string, params ...interface{}) (*ole.IDispatch, error) {
	v, err := oleutil.GetProperty(obj, name, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", name, err)
	}
	return h.hold(v, name)
}

// call invokes a method. Object results are kept for Release; other results
// are discarded.
func (h *ExcelHost) call(obj *ole.IDispatch, name string, params ...interface{}) (*ole.IDispatch, error) {
	v, err := oleutil.CallMethod(obj, name, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", name, err)
	}
	if v.VT != ole.VT_DISPATCH {
		_ = v.Clear()
		return nil, nil
	}
	return h.hold(v, name)
}

func (h *ExcelHost) put(obj *ole.IDispatch, name string, params ...interface{}) error {
	if _, err := oleutil.PutProperty(obj, name, params...); err != nil {
		return fmt.Errorf("failed to set %s: %w", name, err)
	}
	return nil
}

func (h *ExcelHost) value(obj *ole.IDispatch, name string, params ...interface{}) (interface{}, error) {
	v, err := oleutil.GetProperty(obj, name, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", name, err)
	}
	defer v.Clear()
	return v.Value(), nil
}

func (h *ExcelHost) hold(v *ole.VARIANT, name string) (*ole.IDispatch, error) {
	disp := v.ToIDispatch()
	if disp == nil {
		return nil, fmt.Errorf("%s is not an object", name)
	}
	h.held = append(h.held, disp)
	return disp, nil
}

func variantInt(v *ole.VARIANT) int {
	return toInt(v.Value())
}

func toInt(value interface{}) int {
	switch n := value.(type) {
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func toBool(value interface{}) bool {
	b, _ := value.(bool)
	return b
}

// =============================================================================
// SHEET
// =============================================================================

type excelSheet struct {
	host     *ExcelHost
	workbook *ole.IDispatch
	sheet    *ole.IDispatch
}

// ClearFilters shows every row and clears each active column filter. The
// filter itself is removed only when the workbook is not shared; Excel does
// not allow that on shared workbooks.
func (s *excelSheet) ClearFilters() error {
	h := s.host

	mode, err := h.value(s.sheet, "AutoFilterMode")
	if err != nil {
		return err
	}
	if !toBool(mode) {
		return nil
	}

	var errs []error

	if filtered, err := h.value(s.sheet, "FilterMode"); err != nil {
		errs = append(errs, err)
	} else if toBool(filtered) {
		if _, err := h.call(s.sheet, "ShowAllData"); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.clearEachFilter(); err != nil {
		errs = append(errs, err)
	}

	shared, err := h.value(s.workbook, "MultiUserEditing")
	if err != nil {
		errs = append(errs, err)
	}
	if toBool(shared) {
		h.log.Info().Msg("shared workbook; filter left in place with all rows shown")
	} else if err := h.put(s.sheet, "AutoFilterMode", false); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (s *excelSheet) clearEachFilter() error {
	h := s.host

	autoFilter, err := h.get(s.sheet, "AutoFilter")
	if err != nil {
		return err
	}
	filters, err := h.get(autoFilter, "Filters")
	if err != nil {
		return err
	}
	count, err := h.value(filters, "Count")
	if err != nil {
		return err
	}
	rng, err := h.get(autoFilter, "Range")
	if err != nil {
		return err
	}

	for i := 1; i <= toInt(count); i++ {
		filter, err := h.get(filters, "Item", i)
		if err != nil {
			return err
		}
		on, err := h.value(filter, "On")
		if err != nil || !toBool(on) {
			continue
		}
		if _, err := h.call(rng, "AutoFilter", i); err != nil {
			return err
		}
	}
	return nil
}

// lastRow finds the last populated row of column A the way Ctrl+Up does.
func (s *excelSheet) lastRow() (int, error) {
	h := s.host

	rows, err := h.get(s.sheet, "Rows")
	if err != nil {
		return 0, err
	}
	count, err := h.value(rows, "Count")
	if err != nil {
		return 0, err
	}
	bottom, err := h.get(s.sheet, "Cells", toInt(count), 1)
	if err != nil {
		return 0, err
	}
	end, err := h.get(bottom, "End", xlUp)
	if err != nil {
		return 0, err
	}
	row, err := h.value(end, "Row")
	if err != nil {
		return 0, err
	}
	return toInt(row), nil
}

// Sort sorts A1:I<last> ascending by date, department and identifier, with
// the first row as header and case-insensitive comparison.
func (s *excelSheet) Sort() (int, error) {
	h := s.host

	last, err := s.lastRow()
	if err != nil {
		return 0, err
	}
	if last < 3 {
		return last, nil
	}

	sorter, err := h.get(s.sheet, "Sort")
	if err != nil {
		return 0, err
	}
	fields, err := h.get(sorter, "SortFields")
	if err != nil {
		return 0, err
	}
	if _, err := h.call(fields, "Clear"); err != nil {
		return 0, err
	}

	for _, col := range SortKeyColumns {
		key, err := h.get(s.sheet, "Range", fmt.Sprintf("%s2:%s%d", col, col, last))
		if err != nil {
			return 0, err
		}
		if _, err := h.call(fields, "Add", key, xlSortOnValues, xlAscending); err != nil {
			return 0, err
		}
	}

	rng, err := h.get(s.sheet, "Range", fmt.Sprintf("A1:%s%d", SortLastColumn, last))
	if err != nil {
		return 0, err
	}
	if _, err := h.call(sorter, "SetRange", rng); err != nil {
		return 0, err
	}
	for name, value := range map[string]interface{}{
		"Header":      xlYes,
		"MatchCase":   false,
		"Orientation": xlTopToBottom,
	} {
		if err := h.put(sorter, name, value); err != nil {
			return 0, err
		}
	}
	if _, err := h.call(sorter, "Apply"); err != nil {
		return 0, err
	}

	return last, nil
}

// SelectCell selects the 1-based cell.
func (s *excelSheet) SelectCell(row, col int) error {
	cell, err := s.host.get(s.sheet, "Cells", row, col)
	if err != nil {
		return err
	}
	_, err = s.host.call(cell, "Select")
	return err
}
