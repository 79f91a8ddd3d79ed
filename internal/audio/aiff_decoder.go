package audio

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"

	"github.com/ctoth/spindle/internal/pcm"
	"github.com/ctoth/spindle/internal/session"
)

// AiffDecoder handles AIFF audio format decoding
type AiffDecoder struct{}

// NewAiffDecoder creates a new AIFF decoder instance
func NewAiffDecoder() *AiffDecoder {
	return &AiffDecoder{}
}

// FormatName returns the name of the format this decoder handles
func (d *AiffDecoder) FormatName() string {
	return "AIFF"
}

// CanDecode checks if this decoder can handle the given filename
func (d *AiffDecoder) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".aiff") || strings.HasSuffix(lower, ".aif")
}

// OpenStream reads the COMM chunk. go-audio/aiff needs a ReadSeeker, so
// network streams are buffered.
func (d *AiffDecoder) OpenStream(s *Stream) (session.Handle, error) {
	rs, err := s.RandomAccess()
	if err != nil {
		return nil, err
	}

	h := &aiffHandle{stream: s, rs: rs}
	if err := h.reset(); err != nil {
		return nil, err
	}
	return h, nil
}

type aiffHandle struct {
	stream   *Stream
	rs       io.ReadSeeker
	dec      *aiff.Decoder
	bitDepth int
	format   pcm.Format
	length   time.Duration
	intBuf   *goaudio.IntBuffer
	out      []byte
}

func (h *aiffHandle) reset() error {
	if _, err := h.rs.Seek(0, io.SeekStart); err != nil {
		return err
	}
	dec := aiff.NewDecoder(h.rs)
	if !dec.IsValidFile() {
		return fmt.Errorf("%w: not an AIFF file", ErrInvalidData)
	}
	dec.ReadInfo()

	format := dec.Format()
	if format == nil || format.NumChannels == 0 || format.SampleRate == 0 {
		return fmt.Errorf("%w: missing COMM chunk", ErrInvalidData)
	}

	bitDepth := int(dec.BitDepth)
	enc, err := pcm.EncodingForBits(bitDepth)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	// AIFF 8-bit samples are signed; widen them rather than re-bias to u8
	if enc == pcm.U8 {
		enc = pcm.S16
	}

	h.dec = dec
	h.bitDepth = bitDepth
	h.format = pcm.Format{SampleRate: format.SampleRate, Channels: format.NumChannels, Encoding: enc}
	h.length = durationOfFrames(int64(dec.NumSampleFrames), format.SampleRate)
	h.intBuf = &goaudio.IntBuffer{
		Data:   make([]int, chunkFrames*format.NumChannels),
		Format: format,
	}
	return nil
}

func (h *aiffHandle) Format() pcm.Format { return h.format }
func (h *aiffHandle) Length() time.Duration { return h.length }
func (h *aiffHandle) Seekable() bool { return true }
func (h *aiffHandle) FormatName() string { return "AIFF" }

func (h *aiffHandle) ReadChunk() (pcm.Chunk, error) {
	h.intBuf.Data = h.intBuf.Data[:cap(h.intBuf.Data)]
	n, err := h.dec.PCMBuffer(h.intBuf)
	if n == 0 {
		if err != nil && err != io.EOF {
			return pcm.Chunk{}, readFailure(err)
		}
		return pcm.Chunk{}, io.EOF
	}
	n -= n % h.format.Channels

	h.out = h.out[:0]
	for _, v := range h.intBuf.Data[:n] {
		switch h.bitDepth {
		case 8:
			h.out = append(h.out, 0, byte(int8(v)))
		case 16:
			h.out = append(h.out, byte(v), byte(v>>8))
		case 24:
			h.out = append(h.out, byte(v), byte(v>>8), byte(v>>16))
		case 32:
			h.out = append(h.out, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
		}
	}
	return pcm.Chunk{Data: h.out}, nil
}

// Seek re-reads the header and decodes forward to target.
func (h *aiffHandle) Seek(target time.Duration) error {
	if err := h.reset(); err != nil {
		return err
	}
	remaining := h.format.Frames(target) * int64(h.format.Channels)
	for remaining > 0 {
		want := int64(cap(h.intBuf.Data))
		if remaining < want {
			want = remaining
		}
		h.intBuf.Data = h.intBuf.Data[:want]
		n, err := h.dec.PCMBuffer(h.intBuf)
		if n == 0 || err != nil {
			break
		}
		remaining -= int64(n)
	}
	h.intBuf.Data = h.intBuf.Data[:cap(h.intBuf.Data)]
	return nil
}

func (h *aiffHandle) Close() error {
	return h.stream.Close()
}
