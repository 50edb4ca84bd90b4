//go:build windows

package automation

import (
	"fmt"

	"golang.org/x/sys/windows"
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procSetCursorPos        = user32.NewProc("SetCursorPos")
	procMouseEvent          = user32.NewProc("mouse_event")
	procSetForegroundWindow = user32.NewProc("SetForegroundWindow")
)

const (
	mouseEventLeftDown = 0x0002
	mouseEventLeftUp   = 0x0004
)

// ScreenClicker clicks with the primary mouse button at absolute screen
// coordinates.
type ScreenClicker struct{}

// NewScreenClicker returns the Win32 clicker.
func NewScreenClicker() Clicker {
	return ScreenClicker{}
}

// Click moves the cursor to (x, y) and presses and releases the left button.
func (ScreenClicker) Click(x, y int) error {
	if r, _, err := procSetCursorPos.Call(uintptr(x), uintptr(y)); r == 0 {
		return fmt.Errorf("SetCursorPos(%d, %d): %w", x, y, err)
	}
	procMouseEvent.Call(mouseEventLeftDown, 0, 0, 0, 0)
	procMouseEvent.Call(mouseEventLeftUp, 0, 0, 0, 0)
	return nil
}

func setForegroundWindow(hwnd uintptr) error {
	if hwnd == 0 {
		return fmt.Errorf("no window handle")
	}
	if r, _, err := procSetForegroundWindow.Call(hwnd); r == 0 {
		return fmt.Errorf("SetForegroundWindow: %w", err)
	}
	return nil
}
