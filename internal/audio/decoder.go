package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ctoth/spindle/internal/pcm"
	"github.com/ctoth/spindle/internal/session"
)

// Common decoder errors
var (
	ErrInvalidData       = errors.New("invalid audio data")
	ErrReadFailure       = errors.New("failed to read audio data")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// chunkFrames is how many frames each handle returns per ReadChunk.
const chunkFrames = 4096

// FormatDecoder turns an opened Stream of one container format into a
// streaming session.Handle.
type FormatDecoder interface {
	// OpenStream probes the stream header and prepares incremental decoding.
	// The handle owns the stream and closes it.
	OpenStream(s *Stream) (session.Handle, error)

	// CanDecode checks if this decoder can handle the given filename
	CanDecode(filename string) bool

	// FormatName returns the name of the format this decoder handles
	FormatName() string
}

// Info describes an opened stream without decoding it.
type Info struct {
	FormatName string
	Format     pcm.Format
	Length     time.Duration
	Seekable   bool
}

// readChunkFull fills buf from r and maps short reads at end of stream to a
// final aligned chunk followed by io.EOF.
func readChunkFull(r io.Reader, buf []byte, f pcm.Format) (pcm.Chunk, error) {
	n, err := io.ReadFull(r, buf)
	n = f.Align(n)
	switch {
	case err == nil:
		return pcm.Chunk{Data: buf[:n]}, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		if n == 0 {
			return pcm.Chunk{}, io.EOF
		}
		return pcm.Chunk{Data: buf[:n]}, nil
	default:
		return pcm.Chunk{}, err
	}
}

// readFailure wraps a decoder read error, keeping err itself matchable so a
// session.ErrTransient from the source still reaches the retry logic.
func readFailure(err error) error {
	return fmt.Errorf("%w: %w", ErrReadFailure, err)
}

// recoverMalformed converts a panic raised by a container parser on truncated
// or malformed input into ErrInvalidData. It must be deferred directly.
func recoverMalformed(err *error, format string) {
	if r := recover(); r != nil {
		slog.Warn("decoder panicked on malformed input", "format", format, "panic", r)
		*err = fmt.Errorf("%w: %s parser: %v", ErrInvalidData, strings.ToLower(format), r)
	}
}

// durationOfFrames converts a frame count at rate to a duration.
func durationOfFrames(frames int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(rate)
}
