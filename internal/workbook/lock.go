package workbook

import (
	"errors"
	"io/fs"
)

// isLockError reports whether err means another process holds the file.
func isLockError(err error) bool {
	return errors.Is(err, fs.ErrPermission) || isSharingViolation(err)
}
