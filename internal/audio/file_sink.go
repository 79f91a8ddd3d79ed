package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"

	"github.com/ctoth/spindle/internal/pcm"
)

// fileSinkBlock is how much a FileSink accepts per Write.
const fileSinkBlock = 64 * 1024

// FileSink renders playback into a WAV file as fast as the decoder runs.
// Float input is written as 16-bit PCM. Seeking only moves the clock; audio
// keeps appending to the same file.
type FileSink struct {
	mu      sync.Mutex
	fs      afero.Fs
	path    string
	file    afero.File
	enc     *wav.Encoder
	format  pcm.Format
	written int64
	base    time.Duration
	volume  float32
	scratch []byte
	ints    []int
}

// NewFileSink creates an unopened sink writing to path on fs.
func NewFileSink(fs afero.Fs, path string) *FileSink {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileSink{fs: fs, path: path, volume: 1}
}

// SetVolume scales samples written after the call.
func (s *FileSink) SetVolume(volume float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = volume
}

// Open creates the output file and writes a WAV header for format.
func (s *FileSink) Open(format pcm.Format) error {
	if err := format.Validate(); err != nil {
		return err
	}
	if s.path == "" {
		return fmt.Errorf("%w: no output path", ErrBackendNotAvailable)
	}

	s.Close()

	f, err := s.fs.Create(s.path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	bits := format.Encoding.BytesPerSample() * 8
	if format.Encoding == pcm.F32 {
		bits = 16
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.file = f
	s.enc = wav.NewEncoder(f, format.SampleRate, bits, format.Channels, 1)
	s.format = format
	s.written = 0
	s.base = 0

	slog.Debug("file sink opened", "path", s.path, "format", format.String())
	return nil
}

// Write encodes data straight into the file.
func (s *FileSink) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		return ErrSinkNotOpen
	}

	if s.volume != 1 {
		s.scratch = append(s.scratch[:0], data...)
		pcm.ApplyVolume(s.scratch, s.format.Encoding, s.volume)
		data = s.scratch
	}
	s.ints = decodeInts(s.ints[:0], data, s.format.Encoding)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: s.format.Channels, SampleRate: s.format.SampleRate},
		Data:   s.ints,
	}
	if err := s.enc.Write(buf); err != nil {
		return fmt.Errorf("failed to encode audio: %w", err)
	}
	s.written += int64(len(data))
	return nil
}

// BufferFree is a fixed block; the file never fills up.
func (s *FileSink) BufferFree() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		return 0
	}
	return s.format.Align(fileSinkBlock)
}

// Flush moves the clock to resetTo. Audio already written stays in the file.
func (s *FileSink) Flush(resetTo time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = resetTo
	s.written = 0
}

// Pause does nothing; nothing is audible.
func (s *FileSink) Pause(bool) {}

// WrittenTime is the stream position of the last byte written.
func (s *FileSink) WrittenTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base + s.format.Duration(s.written)
}

// OutputTime equals WrittenTime since written audio is final.
func (s *FileSink) OutputTime() time.Duration { return s.WrittenTime() }

// Playing is always false, so a session drains immediately.
func (s *FileSink) Playing() bool { return false }

// Close finalizes the WAV header and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		return nil
	}

	var firstErr error
	if err := s.enc.Close(); err != nil {
		firstErr = fmt.Errorf("failed to finalize wav: %w", err)
	}
	if err := s.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.enc = nil
	s.file = nil
	return firstErr
}

// decodeInts unpacks little-endian PCM into the int samples go-audio expects.
func decodeInts(dst []int, data []byte, enc pcm.Encoding) []int {
	switch enc {
	case pcm.U8:
		for _, b := range data {
			dst = append(dst, int(b))
		}
	case pcm.S16:
		for i := 0; i+1 < len(data); i += 2 {
			dst = append(dst, int(int16(binary.LittleEndian.Uint16(data[i:]))))
		}
	case pcm.S24:
		for i := 0; i+2 < len(data); i += 3 {
			v := int32(data[i]) | int32(data[i+1])<<8 | int32(data[i+2])<<16
			if v&0x800000 != 0 {
				v |= ^0xffffff
			}
			dst = append(dst, int(v))
		}
	case pcm.S32:
		for i := 0; i+3 < len(data); i += 4 {
			dst = append(dst, int(int32(binary.LittleEndian.Uint32(data[i:]))))
		}
	case pcm.F32:
		for i := 0; i+3 < len(data); i += 4 {
			f := math.Float32frombits(binary.LittleEndian.Uint32(data[i:]))
			dst = append(dst, int(pcm.FloatToS16(float64(f))))
		}
	}
	return dst
}
