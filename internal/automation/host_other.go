//go:build !windows

package automation

import "github.com/rs/zerolog"

// unsupportedHost stands in for the spreadsheet application where there is
// none.
type unsupportedHost struct{}

// NewExcelHost returns a host whose Launch fails with ErrUnsupported.
func NewExcelHost(zerolog.Logger) Host { return unsupportedHost{} }

func (unsupportedHost) Launch() error              { return ErrUnsupported }
func (unsupportedHost) Open(string) (Sheet, error) { return nil, ErrUnsupported }
func (unsupportedHost) Minimize()                  {}
func (unsupportedHost) Release()                   {}

type unsupportedClicker struct{}

// NewScreenClicker returns a clicker that fails with ErrUnsupported.
func NewScreenClicker() Clicker { return unsupportedClicker{} }

func (unsupportedClicker) Click(int, int) error { return ErrUnsupported }
