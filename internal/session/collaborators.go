package session

import (
	"context"
	"io"
	"time"

	"github.com/ctoth/spindle/internal/pcm"
)

// Source names and opens a stream of compressed audio.
type Source interface {
	// Name identifies the source in logs and history (a path or URL).
	Name() string
	// Open returns a fresh reader. The context bounds the lifetime of the
	// stream, so network sources should tie their requests to it.
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Decoder identifies and opens a source, producing a Handle that yields PCM.
type Decoder interface {
	Open(ctx context.Context, src Source) (Handle, error)
}

// Handle is an open decoder stream. It is used only by the decode goroutine.
type Handle interface {
	// Format is the probed PCM format of every chunk.
	Format() pcm.Format
	// ReadChunk returns the next buffer of PCM. It returns io.EOF at end of
	// stream and errors wrapping ErrTransient for recoverable hiccups.
	ReadChunk() (pcm.Chunk, error)
	// Seek repositions the stream. Non-seekable streams return ErrNotSeekable.
	Seek(target time.Duration) error
	Close() error
}

// Lengther is implemented by handles that may know their total duration.
// A zero Length means unknown.
type Lengther interface {
	Length() time.Duration
}

// Sink is the output device a Session writes PCM to.
//
// Write must accept up to BufferFree() bytes without blocking. Pause, Flush,
// OutputTime and Playing may be called from the controller and must be safe
// for concurrent use.
type Sink interface {
	Open(format pcm.Format) error
	Write(data []byte) error
	BufferFree() int
	// Flush discards queued audio and resets the elapsed baseline to resetTo.
	Flush(resetTo time.Duration)
	Pause(paused bool)
	// WrittenTime is the position of the last byte accepted by Write.
	WrittenTime() time.Duration
	// OutputTime is the position actually heard, lagging WrittenTime by the
	// amount still buffered.
	OutputTime() time.Duration
	// Playing reports whether queued audio is still being played out.
	Playing() bool
	Close() error
}

// SpaceNotifier is implemented by sinks that can signal freed buffer space,
// letting the decode goroutine sleep until then instead of polling.
type SpaceNotifier interface {
	SpaceAvailable() <-chan struct{}
}
