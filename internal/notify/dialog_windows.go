//go:build windows

package notify

import (
	"github.com/rs/zerolog"
	"golang.org/x/sys/windows"
)

const (
	mbOK          = 0x00000000
	mbIconError   = 0x00000010
	mbIconWarning = 0x00000030
	mbTopMost     = 0x00040000
)

// Dialog shows a modal message box for each message and logs it.
type Dialog struct {
	log zerolog.Logger
}

// NewDialog returns the message box notifier.
func NewDialog(log zerolog.Logger) Notifier {
	return &Dialog{log: log.With().Str("component", "notify").Logger()}
}

// Warning shows a warning box.
func (d *Dialog) Warning(title, message string) {
	d.log.Warn().Str("title", title).Msg(message)
	d.show(title, message, mbOK|mbIconWarning|mbTopMost)
}

// Critical shows an error box.
func (d *Dialog) Critical(title, message string) {
	d.log.Error().Str("title", title).Msg(message)
	d.show(title, message, mbOK|mbIconError|mbTopMost)
}

func (d *Dialog) show(title, message string, flags uint32) {
	text, err := windows.UTF16PtrFromString(message)
	if err != nil {
		d.log.Debug().Err(err).Msg("message not representable; dialog skipped")
		return
	}
	caption, err := windows.UTF16PtrFromString(title)
	if err != nil {
		d.log.Debug().Err(err).Msg("title not representable; dialog skipped")
		return
	}
	if _, err := windows.MessageBox(0, text, caption, flags); err != nil {
		d.log.Debug().Err(err).Msg("failed to show dialog")
	}
}
