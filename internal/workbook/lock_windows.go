//go:build windows

package workbook

import (
	"errors"

	"golang.org/x/sys/windows"
)

// isSharingViolation matches the errors Windows returns while the
// spreadsheet application has the workbook open.
func isSharingViolation(err error) bool {
	return errors.Is(err, windows.ERROR_SHARING_VIOLATION) || errors.Is(err, windows.ERROR_LOCK_VIOLATION)
}
