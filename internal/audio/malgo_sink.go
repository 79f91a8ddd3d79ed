//go:build cgo

package audio

import (
	"fmt"
	"log/slog"

	"github.com/gen2brain/malgo"

	"github.com/ctoth/spindle/internal/pcm"
)

// MalgoSink plays through miniaudio. The device callback drains the shared
// fifo and pads with silence when it runs dry or the sink is paused.
type MalgoSink struct {
	queueSink

	context *deviceContext
	device  *malgo.Device
}

// NewMalgoSink creates an unopened miniaudio sink.
func NewMalgoSink(opts SinkOptions) *MalgoSink {
	return &MalgoSink{queueSink: queueSink{opts: opts.withDefaults()}}
}

func newMalgoSink(opts SinkOptions) (Sink, error) {
	return NewMalgoSink(opts), nil
}

// Open starts a playback device configured for format.
func (s *MalgoSink) Open(format pcm.Format) error {
	devFormat, err := malgoFormat(format.Encoding)
	if err != nil {
		return err
	}

	s.release()

	audioCtx, err := newDeviceContext()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendNotAvailable, err)
	}

	q := s.openQueue(format)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = devFormat
	deviceConfig.Playback.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	onSamples := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		q.pull(pOutputSample)
	}

	device, err := malgo.InitDevice(audioCtx.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		audioCtx.Close()
		slog.Error("failed to initialize playback device", "format", format.String(), "error", err)
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		audioCtx.Close()
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	s.mu.Lock()
	s.context = audioCtx
	s.device = device
	s.mu.Unlock()

	slog.Debug("malgo device started", "format", format.String())
	return nil
}

// Close stops the device and releases the audio context.
func (s *MalgoSink) Close() error {
	s.markClosed()
	s.release()
	return nil
}

func (s *MalgoSink) release() {
	s.mu.Lock()
	device, audioCtx := s.device, s.context
	s.device, s.context = nil, nil
	s.mu.Unlock()

	if device != nil {
		// Uninit stops the device and waits for the callback to return
		device.Uninit()
	}
	if audioCtx != nil {
		audioCtx.Close()
	}
}
