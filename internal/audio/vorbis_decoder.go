package audio

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jfreymuth/oggvorbis"

	"github.com/ctoth/spindle/internal/pcm"
	"github.com/ctoth/spindle/internal/session"
)

// VorbisDecoder handles Ogg Vorbis decoding. Output is 16-bit interleaved.
type VorbisDecoder struct{}

// NewVorbisDecoder creates a new Ogg Vorbis decoder instance
func NewVorbisDecoder() *VorbisDecoder {
	return &VorbisDecoder{}
}

// CanDecode checks if this decoder can handle the given filename
func (d *VorbisDecoder) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".ogg") || strings.HasSuffix(lower, ".oga")
}

// FormatName returns the name of the format this decoder handles
func (d *VorbisDecoder) FormatName() string {
	return "VORBIS"
}

// OpenStream reads the three Vorbis headers. Length and seeking need a
// seekable source.
func (d *VorbisDecoder) OpenStream(s *Stream) (session.Handle, error) {
	dec, err := oggvorbis.NewReader(s.Reader())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	format := pcm.Format{SampleRate: dec.SampleRate(), Channels: dec.Channels(), Encoding: pcm.S16}
	_, seekable := s.ReadSeeker()

	return &vorbisHandle{
		stream:   s,
		dec:      dec,
		format:   format,
		seekable: seekable,
		samples:  make([]float32, chunkFrames*format.Channels),
	}, nil
}

type vorbisHandle struct {
	stream   *Stream
	dec      *oggvorbis.Reader
	format   pcm.Format
	seekable bool
	samples  []float32
	out      []byte
	eof      bool
}

func (h *vorbisHandle) Format() pcm.Format { return h.format }
func (h *vorbisHandle) Seekable() bool { return h.seekable }
func (h *vorbisHandle) FormatName() string { return "VORBIS" }

func (h *vorbisHandle) Length() time.Duration {
	return durationOfFrames(h.dec.Length(), h.format.SampleRate)
}

// ReadChunk decodes the next block of float samples into 16-bit PCM.
func (h *vorbisHandle) ReadChunk() (pcm.Chunk, error) {
	if h.eof {
		return pcm.Chunk{}, io.EOF
	}
	n, err := h.dec.Read(h.samples)
	if err != nil && !errors.Is(err, io.EOF) {
		return pcm.Chunk{}, readFailure(err)
	}
	if errors.Is(err, io.EOF) {
		h.eof = true
		if n == 0 {
			return pcm.Chunk{}, io.EOF
		}
	}
	n -= n % h.format.Channels
	h.out = pcm.AppendFloatsS16(h.out[:0], h.samples[:n])
	return pcm.Chunk{Data: h.out}, nil
}

// Seek moves to the sample at target.
func (h *vorbisHandle) Seek(target time.Duration) error {
	if !h.seekable {
		return session.ErrNotSeekable
	}
	if err := h.dec.SetPosition(h.format.Frames(target)); err != nil {
		return fmt.Errorf("vorbis seek: %w", err)
	}
	h.eof = false
	return nil
}

func (h *vorbisHandle) Close() error {
	return h.stream.Close()
}
