//go:build cgo

package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/ctoth/spindle/internal/pcm"
)

// oto allows a single context per process, fixed to the first format.
var (
	otoMu     sync.Mutex
	otoCtx    *oto.Context
	otoFormat pcm.Format
)

func sharedOtoContext(format pcm.Format) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	if otoCtx != nil {
		if otoFormat != format {
			return nil, fmt.Errorf("%w: oto context is fixed at %s", ErrUnsupportedFormat, otoFormat)
		}
		return otoCtx, nil
	}

	var otoFmt oto.Format
	switch format.Encoding {
	case pcm.U8:
		otoFmt = oto.FormatUnsignedInt8
	case pcm.S16:
		otoFmt = oto.FormatSignedInt16LE
	case pcm.F32:
		otoFmt = oto.FormatFloat32LE
	default:
		return nil, fmt.Errorf("%w: oto cannot play %s", ErrUnsupportedFormat, format.Encoding)
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       otoFmt,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendNotAvailable, err)
	}
	<-ready

	otoCtx = ctx
	otoFormat = format
	slog.Debug("oto context initialized", "format", format.String())
	return ctx, nil
}

// OtoSink plays through ebitengine/oto. The oto player pulls from the fifo;
// the real audio still sitting in its internal buffer is subtracted from
// OutputTime.
type OtoSink struct {
	queueSink

	player *oto.Player
	reader *fifoReader
}

// NewOtoSink creates an unopened oto sink.
func NewOtoSink(opts SinkOptions) *OtoSink {
	return &OtoSink{queueSink: queueSink{opts: opts.withDefaults()}}
}

func newOtoSink(opts SinkOptions) (Sink, error) {
	return NewOtoSink(opts), nil
}

// Open attaches a player to the shared oto context. The context is created by
// the first Open and every later format must match it.
func (s *OtoSink) Open(format pcm.Format) error {
	ctx, err := sharedOtoContext(format)
	if err != nil {
		return err
	}

	s.release()
	q := s.openQueue(format)
	reader := &fifoReader{q: q}
	player := ctx.NewPlayer(reader)
	player.Play()

	s.mu.Lock()
	s.player, s.reader = player, reader
	s.mu.Unlock()
	return nil
}

// OutputTime is the fifo's output clock minus the real audio oto has pulled
// but not yet played. Silence padding is not counted.
func (s *OtoSink) OutputTime() time.Duration {
	s.mu.Lock()
	q, player, reader := s.q, s.player, s.reader
	s.mu.Unlock()
	if q == nil {
		return 0
	}
	t := q.outputTime()
	if player != nil {
		t -= q.format.Duration(reader.realBuffered(player.BufferedSize()))
		if base := q.flushBase(); t < base {
			t = base
		}
	}
	return t
}

// Playing reports whether written audio has not been heard yet.
func (s *OtoSink) Playing() bool {
	s.mu.Lock()
	q := s.q
	s.mu.Unlock()
	if q == nil {
		return false
	}
	return s.OutputTime() < q.writtenTime()
}

// Close stops and releases the player. The shared context stays alive.
func (s *OtoSink) Close() error {
	s.markClosed()
	s.release()
	return nil
}

func (s *OtoSink) release() {
	s.mu.Lock()
	player := s.player
	s.player, s.reader = nil, nil
	s.mu.Unlock()

	if player != nil {
		player.Pause()
		if err := player.Close(); err != nil {
			slog.Debug("failed to close oto player", "error", err)
		}
	}
}
