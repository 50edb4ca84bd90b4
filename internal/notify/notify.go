// Package notify reports run outcomes to the operator.
//
// A transfer run ends in at most one user-facing message: a warning when
// there was nothing to do, or a critical error carrying the failure text.
package notify

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// Dialog titles.
const (
	TitleWarning  = "警告"
	TitleCritical = "エラー"
)

// Notifier delivers operator-facing messages.
type Notifier interface {
	Warning(title, message string)
	Critical(title, message string)
}

// Console writes messages to a terminal and mirrors them to the log.
type Console struct {
	out io.Writer
	log zerolog.Logger
}

// NewConsole creates a Console notifier writing to out.
func NewConsole(out io.Writer, log zerolog.Logger) *Console {
	return &Console{out: out, log: log.With().Str("component", "notify").Logger()}
}

// Warning prints a warning.
func (c *Console) Warning(title, message string) {
	c.log.Warn().Str("title", title).Msg(message)
	fmt.Fprintf(c.out, "[%s] %s\n", title, message)
}

// Critical prints an error.
func (c *Console) Critical(title, message string) {
	c.log.Error().Str("title", title).Msg(message)
	fmt.Fprintf(c.out, "[%s] %s\n", title, message)
}
