//go:build !windows

package notify

import (
	"os"

	"github.com/rs/zerolog"
)

// NewDialog falls back to the console where no message box is available.
func NewDialog(log zerolog.Logger) Notifier {
	return NewConsole(os.Stderr, log)
}
