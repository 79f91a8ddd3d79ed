// Package pcm holds the sample-format vocabulary shared by decoders, sinks
// and the playback session.
package pcm

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidFormat is returned when a Format cannot describe playable audio.
var ErrInvalidFormat = errors.New("invalid pcm format")

// Encoding identifies how a single sample is laid out in memory.
// All multi-byte encodings are little endian and interleaved.
type Encoding int

const (
	EncodingUnknown Encoding = iota
	U8
	S16
	S24
	S32
	F32
)

// BytesPerSample returns the width of one sample, or 0 for unknown encodings.
func (e Encoding) BytesPerSample() int {
	switch e {
	case U8:
		return 1
	case S16:
		return 2
	case S24:
		return 3
	case S32, F32:
		return 4
	default:
		return 0
	}
}

func (e Encoding) String() string {
	switch e {
	case U8:
		return "u8"
	case S16:
		return "s16le"
	case S24:
		return "s24le"
	case S32:
		return "s32le"
	case F32:
		return "f32le"
	default:
		return "unknown"
	}
}

// EncodingForBits maps an integer bit depth to its encoding.
func EncodingForBits(bits int) (Encoding, error) {
	switch bits {
	case 8:
		return U8, nil
	case 16:
		return S16, nil
	case 24:
		return S24, nil
	case 32:
		return S32, nil
	default:
		return EncodingUnknown, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidFormat, bits)
	}
}

// Format is the probed output format of a decoder and the open format of a sink.
type Format struct {
	SampleRate int
	Channels   int
	Encoding   Encoding
}

// Validate reports whether the format can be played.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidFormat, f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("%w: channels %d", ErrInvalidFormat, f.Channels)
	}
	if f.Encoding.BytesPerSample() == 0 {
		return fmt.Errorf("%w: encoding %s", ErrInvalidFormat, f.Encoding)
	}
	return nil
}

// BytesPerFrame is the size of one sample across all channels.
func (f Format) BytesPerFrame() int {
	return f.Channels * f.Encoding.BytesPerSample()
}

// BytesPerSecond is the data rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.BytesPerFrame()
}

// Duration converts a byte count into playback time.
func (f Format) Duration(n int64) time.Duration {
	bps := int64(f.BytesPerSecond())
	if bps == 0 {
		return 0
	}
	// split to avoid overflowing int64 nanoseconds on long streams
	secs := n / bps
	rem := n % bps
	return time.Duration(secs)*time.Second + time.Duration(rem)*time.Second/time.Duration(bps)
}

// Frames converts a duration to a whole number of frames.
func (f Format) Frames(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d / time.Millisecond * time.Duration(f.SampleRate) / 1000)
}

// Bytes converts a duration to a frame-aligned byte count.
func (f Format) Bytes(d time.Duration) int64 {
	return f.Frames(d) * int64(f.BytesPerFrame())
}

// Align rounds n down to a whole number of frames.
func (f Format) Align(n int) int {
	bpf := f.BytesPerFrame()
	if bpf == 0 {
		return 0
	}
	return n - n%bpf
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%s", f.SampleRate, f.Channels, f.Encoding)
}
