package cli

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// TerminalDetector abstracts the terminal so tests can run without one.
type TerminalDetector interface {
	IsTerminal(fd int) bool
	// MakeRaw switches fd to raw mode and returns a function restoring it.
	MakeRaw(fd int) (func() error, error)
}

// DefaultTerminalDetector is the default implementation using golang.org/x/term
type DefaultTerminalDetector struct{}

// IsTerminal implements TerminalDetector interface
func (d *DefaultTerminalDetector) IsTerminal(fd int) bool {
	isTerminal := term.IsTerminal(fd)

	slog.Debug("terminal detection result",
		"fd", fd,
		"is_terminal", isTerminal)

	return isTerminal
}

// MakeRaw implements TerminalDetector interface
func (d *DefaultTerminalDetector) MakeRaw(fd int) (func() error, error) {
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	slog.Debug("terminal switched to raw mode", "fd", fd)
	return func() error { return term.Restore(fd, state) }, nil
}

// interactiveInput returns the file descriptor of in when it is a terminal.
func (c *CLI) interactiveInput(in io.Reader) (int, bool) {
	f, ok := in.(*os.File)
	if !ok || c.terminalDetector == nil {
		return -1, false
	}
	fd := int(f.Fd())
	return fd, c.terminalDetector.IsTerminal(fd)
}
