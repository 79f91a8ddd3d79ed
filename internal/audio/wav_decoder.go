package audio

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/youpy/go-wav"

	"github.com/ctoth/spindle/internal/pcm"
	"github.com/ctoth/spindle/internal/session"
)

const (
	// wavFormatFloat is the WAVE_FORMAT_IEEE_FLOAT tag.
	wavFormatFloat = 3
	// wavMinSize is a RIFF header, a PCM fmt chunk and an empty data chunk.
	wavMinSize = 44
)

// WavDecoder handles WAV audio format decoding
type WavDecoder struct{}

// NewWavDecoder creates a new WAV decoder instance
func NewWavDecoder() *WavDecoder {
	return &WavDecoder{}
}

// CanDecode checks if this decoder can handle the given filename
func (d *WavDecoder) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".wav") || strings.HasSuffix(lower, ".wave")
}

// FormatName returns the name of the format this decoder handles
func (d *WavDecoder) FormatName() string {
	return "WAV"
}

// OpenStream reads the fmt chunk and positions at the start of sample data.
func (d *WavDecoder) OpenStream(s *Stream) (session.Handle, error) {
	if len(s.Header()) < wavMinSize {
		return nil, fmt.Errorf("%w: %d bytes is too short for a WAV file", ErrInvalidData, len(s.Header()))
	}

	ra, err := s.RandomAccess()
	if err != nil {
		return nil, err
	}

	h := &wavHandle{stream: s, ra: ra}
	if err := h.reset(); err != nil {
		return nil, err
	}

	slog.Debug("WAV format detected",
		"sample_rate", h.format.SampleRate,
		"channels", h.format.Channels,
		"encoding", h.format.Encoding.String(),
		"duration_ms", h.length.Milliseconds())

	h.buf = make([]byte, chunkFrames*h.format.BytesPerFrame())
	return h, nil
}

type wavHandle struct {
	stream *Stream
	ra     readSeekerAt
	reader *wav.Reader
	format pcm.Format
	length time.Duration
	buf    []byte
}

// reset creates a fresh reader positioned at the first sample. go-riff panics
// when chunk headers run past the end of the file.
func (h *wavHandle) reset() (err error) {
	defer recoverMalformed(&err, "WAV")

	reader := wav.NewReader(h.ra)
	format, err := reader.Format()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if format.NumChannels == 0 || format.SampleRate == 0 {
		return fmt.Errorf("%w: %d channels at %d Hz", ErrInvalidData, format.NumChannels, format.SampleRate)
	}

	var enc pcm.Encoding
	if format.AudioFormat == wavFormatFloat {
		if format.BitsPerSample != 32 {
			return fmt.Errorf("%w: %d-bit float", ErrUnsupportedFormat, format.BitsPerSample)
		}
		enc = pcm.F32
	} else {
		enc, err = pcm.EncodingForBits(int(format.BitsPerSample))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
	}

	length, err := reader.Duration()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	h.reader = reader
	h.format = pcm.Format{SampleRate: int(format.SampleRate), Channels: int(format.NumChannels), Encoding: enc}
	h.length = length
	return nil
}

func (h *wavHandle) Format() pcm.Format { return h.format }
func (h *wavHandle) Length() time.Duration { return h.length }
func (h *wavHandle) Seekable() bool { return true }
func (h *wavHandle) FormatName() string { return "WAV" }
func (h *wavHandle) ReadChunk() (pcm.Chunk, error) { return readChunkFull(h.reader, h.buf, h.format) }

// Seek restarts at the data chunk and skips forward to target.
func (h *wavHandle) Seek(target time.Duration) error {
	if target > h.length {
		target = h.length
	}
	if _, err := h.ra.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := h.reset(); err != nil {
		return err
	}
	skip := h.format.Bytes(target)
	if _, err := io.CopyN(io.Discard, h.reader, skip); err != nil && err != io.EOF {
		return readFailure(err)
	}
	return nil
}

func (h *wavHandle) Close() error {
	return h.stream.Close()
}
