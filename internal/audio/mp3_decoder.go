package audio

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hajimehoshi/go-mp3"

	"github.com/ctoth/spindle/internal/pcm"
	"github.com/ctoth/spindle/internal/session"
)

// Mp3Decoder handles MP3 audio format decoding
type Mp3Decoder struct{}

// NewMp3Decoder creates a new MP3 decoder instance
func NewMp3Decoder() *Mp3Decoder {
	return &Mp3Decoder{}
}

// CanDecode checks if this decoder can handle the given filename
func (d *Mp3Decoder) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".mp3") || strings.HasSuffix(lower, ".mpeg")
}

// FormatName returns the name of the format this decoder handles
func (d *Mp3Decoder) FormatName() string {
	return "MP3"
}

// OpenStream starts frame decoding. go-mp3 always produces 16-bit stereo and
// uses the underlying io.Seeker, when there is one, for length and seeking.
func (d *Mp3Decoder) OpenStream(s *Stream) (session.Handle, error) {
	dec, err := mp3.NewDecoder(s.Reader())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if dec.SampleRate() <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidData, dec.SampleRate())
	}

	format := pcm.Format{SampleRate: dec.SampleRate(), Channels: 2, Encoding: pcm.S16}
	_, seekable := s.ReadSeeker()

	return &mp3Handle{
		stream:   s,
		dec:      dec,
		format:   format,
		seekable: seekable,
		buf:      make([]byte, chunkFrames*format.BytesPerFrame()),
	}, nil
}

type mp3Handle struct {
	stream   *Stream
	dec      *mp3.Decoder
	format   pcm.Format
	seekable bool
	buf      []byte
}

func (h *mp3Handle) Format() pcm.Format { return h.format }
func (h *mp3Handle) Seekable() bool { return h.seekable }
func (h *mp3Handle) FormatName() string { return "MP3" }

func (h *mp3Handle) Length() time.Duration {
	if n := h.dec.Length(); n > 0 {
		return h.format.Duration(n)
	}
	return 0
}

func (h *mp3Handle) ReadChunk() (pcm.Chunk, error) {
	return readChunkFull(h.dec, h.buf, h.format)
}

func (h *mp3Handle) Seek(target time.Duration) error {
	if !h.seekable {
		return session.ErrNotSeekable
	}
	if _, err := h.dec.Seek(h.format.Bytes(target), io.SeekStart); err != nil {
		return fmt.Errorf("mp3 seek: %w", err)
	}
	return nil
}

func (h *mp3Handle) Close() error {
	return h.stream.Close()
}
