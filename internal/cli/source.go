package cli

import (
	"io"

	"github.com/ctoth/spindle/internal/audio"
	"github.com/ctoth/spindle/internal/session"
)

// stdinTarget selects standard input as the source.
const stdinTarget = "-"

// sourceFor maps a command line target to a source: "-" is standard input,
// http and https URLs are streamed, anything else is a path on the CLI's fs.
func (c *CLI) sourceFor(target string) session.Source {
	switch {
	case target == stdinTarget:
		return audio.NewReaderSource("stdin", io.NopCloser(c.stdin))
	case audio.IsURL(target):
		return audio.NewHTTPSource(target)
	default:
		return audio.NewFileSourceFs(c.fs, target)
	}
}
