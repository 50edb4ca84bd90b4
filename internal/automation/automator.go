// =============================================================================
// CSV to XLSM Transfer - Post-Write Automator
// =============================================================================
//
// After the workbook is saved, this module opens it in the spreadsheet
// application for the operator:
//   1. Launch or attach to the application, visible and raised
//   2. Open the workbook maximized and activate its first window
//   3. Clear any column filter (best effort)
//   4. Sort the data by date, department and identifier
//   5. Select the first cell of the last row
//   6. Wait, then click the configured screen position of the share control
//   7. Minimize the application on the way out, leaving the workbook open
//
// The application itself sits behind the Host and Sheet interfaces, and the
// click behind Clicker, so the sequencing is testable without a desktop.
// The Windows implementations live in host_windows.go and click_windows.go.
//
// =============================================================================

package automation

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnsupported is returned by the host and clicker on platforms without
// the spreadsheet application.
var ErrUnsupported = errors.New("spreadsheet automation is not supported on this platform")

// Host is the spreadsheet application.
type Host interface {
	// Launch starts or attaches to the application and makes it visible.
	Launch() error

	// Open opens the workbook maximized and returns its active sheet.
	Open(path string) (Sheet, error)

	// Minimize minimizes the application window. Best effort.
	Minimize()

	// Release drops this process's handles. The application and the
	// workbook stay open.
	Release()
}

// Sheet is the active worksheet of an opened workbook.
type Sheet interface {
	// ClearFilters shows all rows and clears active column filters.
	ClearFilters() error

	// Sort sorts the data range and returns its last row (1-based).
	Sort() (int, error)

	// SelectCell moves the selection to the 1-based cell.
	SelectCell(row, col int) error
}

// Clicker issues synthetic mouse clicks.
type Clicker interface {
	Click(x, y int) error
}

// Options controls the share-control click.
type Options struct {
	// Wait is the delay before clicking, giving the application time to
	// finish rendering after being maximized.
	Wait time.Duration

	// X and Y are the absolute screen coordinates of the share control.
	X, Y int
}

// Automator runs the post-write sequence.
type Automator struct {
	host    Host
	clicker Clicker
	opts    Options
	log     zerolog.Logger

	sleep func(time.Duration)
}

// New creates an Automator.
func New(host Host, clicker Clicker, opts Options, log zerolog.Logger) *Automator {
	return &Automator{
		host:    host,
		clicker: clicker,
		opts:    opts,
		log:     log.With().Str("component", "automation").Logger(),
		sleep:   time.Sleep,
	}
}

// Run opens, sorts and shares the workbook at path. Any error leaves the
// saved workbook as it is; the application window is left open for the
// operator to finish by hand.
func (a *Automator) Run(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve workbook path: %w", err)
	}

	if err := a.host.Launch(); err != nil {
		return fmt.Errorf("failed to start spreadsheet application: %w", err)
	}
	defer a.host.Release()
	defer a.host.Minimize()

	sheet, err := a.host.Open(abs)
	if err != nil {
		return fmt.Errorf("failed to open workbook in spreadsheet application: %w", err)
	}

	if err := sheet.ClearFilters(); err != nil {
		a.log.Warn().Err(err).Msg("failed to clear filters; sorting anyway")
	}

	lastRow, err := sheet.Sort()
	if err != nil {
		return fmt.Errorf("failed to sort workbook: %w", err)
	}

	if err := sheet.SelectCell(lastRow, 1); err != nil {
		return fmt.Errorf("failed to select last row: %w", err)
	}

	a.log.Debug().Dur("wait", a.opts.Wait).Int("x", a.opts.X).Int("y", a.opts.Y).Msg("waiting before share click")
	a.sleep(a.opts.Wait)

	if err := a.clicker.Click(a.opts.X, a.opts.Y); err != nil {
		return fmt.Errorf("failed to click share control: %w", err)
	}

	a.log.Info().Int("last_row", lastRow).Msg("workbook sorted and shared")
	return nil
}
