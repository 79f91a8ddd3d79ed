package audio

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"

	"github.com/ctoth/spindle/internal/pcm"
	"github.com/ctoth/spindle/internal/session"
)

// FlacDecoder handles FLAC decoding through beep. beep streams are always
// stereo float, emitted here as 16-bit stereo.
type FlacDecoder struct{}

// NewFlacDecoder creates a new FLAC decoder instance
func NewFlacDecoder() *FlacDecoder {
	return &FlacDecoder{}
}

// CanDecode checks if this decoder can handle the given filename
func (d *FlacDecoder) CanDecode(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".flac")
}

// FormatName returns the name of the format this decoder handles
func (d *FlacDecoder) FormatName() string {
	return "FLAC"
}

// OpenStream parses STREAMINFO. Seeking needs a seekable source.
func (d *FlacDecoder) OpenStream(s *Stream) (session.Handle, error) {
	streamer, format, err := flac.Decode(s.Reader())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	_, seekable := s.ReadSeeker()

	return &flacHandle{
		stream:   s,
		streamer: streamer,
		rate:     format.SampleRate,
		format:   pcm.Format{SampleRate: int(format.SampleRate), Channels: 2, Encoding: pcm.S16},
		seekable: seekable,
		frames:   make([][2]float64, chunkFrames),
	}, nil
}

type flacHandle struct {
	stream   *Stream
	streamer beep.StreamSeekCloser
	rate     beep.SampleRate
	format   pcm.Format
	seekable bool
	frames   [][2]float64
	out      []byte
	atEnd    bool
}

func (h *flacHandle) Format() pcm.Format { return h.format }
func (h *flacHandle) Seekable() bool { return h.seekable }
func (h *flacHandle) FormatName() string { return "FLAC" }

func (h *flacHandle) Length() time.Duration {
	if n := h.streamer.Len(); n > 0 {
		return h.rate.D(n)
	}
	return 0
}

// ReadChunk converts the next block of beep frames to 16-bit stereo.
func (h *flacHandle) ReadChunk() (pcm.Chunk, error) {
	if h.atEnd {
		return pcm.Chunk{}, io.EOF
	}
	n, ok := h.streamer.Stream(h.frames)
	if !ok || n == 0 {
		if err := h.streamer.Err(); err != nil {
			return pcm.Chunk{}, readFailure(err)
		}
		return pcm.Chunk{}, io.EOF
	}

	h.out = h.out[:0]
	var b [2]byte
	for _, frame := range h.frames[:n] {
		pcm.PutS16(b[:], pcm.FloatToS16(frame[0]))
		h.out = append(h.out, b[0], b[1])
		pcm.PutS16(b[:], pcm.FloatToS16(frame[1]))
		h.out = append(h.out, b[0], b[1])
	}
	return pcm.Chunk{Data: h.out}, nil
}

// Seek moves to the frame at target. mewkiz/flac lands on the start of the
// containing FLAC frame, so the remainder is decoded and dropped. Targets at
// or past the end leave the handle at EOF.
func (h *flacHandle) Seek(target time.Duration) error {
	if !h.seekable {
		return session.ErrNotSeekable
	}
	pos := h.rate.N(target)
	if l := h.streamer.Len(); pos >= l {
		h.atEnd = true
		return nil
	}
	h.atEnd = false
	if err := h.streamer.Seek(pos); err != nil {
		return fmt.Errorf("flac seek: %w", err)
	}
	for skip := pos - h.streamer.Position(); skip > 0; {
		want := skip
		if want > len(h.frames) {
			want = len(h.frames)
		}
		n, ok := h.streamer.Stream(h.frames[:want])
		if !ok || n == 0 {
			break
		}
		skip -= n
	}
	return nil
}

// Close releases the source. The beep decoder holds nothing else, and its own
// Close would close the same file a second time.
func (h *flacHandle) Close() error {
	return h.stream.Close()
}
