package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/ctoth/spindle/internal/pcm"
	"github.com/ctoth/spindle/internal/session"
)

// Sink is the output side of a playback session.
type Sink = session.Sink

// Common errors for sinks
var (
	ErrBackendNotAvailable = errors.New("audio backend not available")
	ErrSinkClosed          = errors.New("audio sink is closed")
	ErrSinkNotOpen         = errors.New("audio sink is not open")
	ErrSinkOverrun         = errors.New("audio sink overrun")
)

const (
	// DefaultBufferTime is how much audio device sinks queue ahead.
	DefaultBufferTime = 500 * time.Millisecond
	// DefaultPlayerLatency is the output delay requested from external players.
	DefaultPlayerLatency = 200 * time.Millisecond
)

// SinkOptions configures sinks created by the factory.
type SinkOptions struct {
	// Volume scales samples before they are queued (0.0 to 1.0).
	Volume float32
	// BufferTime is the queue depth of device sinks.
	BufferTime time.Duration
	// OutputPath is the destination of the file sink.
	OutputPath string
	// Fs is the filesystem used by the file sink; defaults to the OS.
	Fs afero.Fs
	// Command overrides the pipe sink's player command.
	Command string
	// PlayerLatency is the buffering requested from the pipe sink's player,
	// and how far its clock assumes audible output trails the pipe.
	PlayerLatency time.Duration
}

func (o SinkOptions) withDefaults() SinkOptions {
	if o.BufferTime <= 0 {
		o.BufferTime = DefaultBufferTime
	}
	if o.Volume < 0 || o.Volume > 1 {
		o.Volume = 1
	}
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.PlayerLatency <= 0 {
		o.PlayerLatency = DefaultPlayerLatency
	}
	return o
}

// queueSink implements the buffer half of session.Sink over a fifo. Device
// sinks embed it and add Open, Close and the consumer side.
type queueSink struct {
	mu     sync.Mutex
	opts   SinkOptions
	q      *fifo
	closed bool
	err    error
}

func (s *queueSink) openQueue(format pcm.Format) *fifo {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.q = newFIFO(format, s.opts.BufferTime, s.opts.Volume)
	s.closed = false
	s.err = nil
	return s.q
}

func (s *queueSink) queue() *fifo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q
}

// fail records a consumer-side error that the next Write reports.
func (s *queueSink) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Write queues data, scaled by the sink volume. It fails rather than block
// when data does not fit in BufferFree.
func (s *queueSink) Write(data []byte) error {
	s.mu.Lock()
	q, err, closed := s.q, s.err, s.closed
	s.mu.Unlock()

	switch {
	case closed:
		return ErrSinkClosed
	case err != nil:
		return err
	case q == nil:
		return ErrSinkNotOpen
	}
	return q.write(data)
}

// BufferFree returns how many bytes Write accepts right now.
func (s *queueSink) BufferFree() int {
	if q := s.queue(); q != nil {
		return q.free()
	}
	return 0
}

// Flush drops queued audio and restarts both clocks at resetTo.
func (s *queueSink) Flush(resetTo time.Duration) {
	if q := s.queue(); q != nil {
		q.flush(resetTo)
	}
}

// Pause holds queued audio without discarding it.
func (s *queueSink) Pause(paused bool) {
	if q := s.queue(); q != nil {
		q.setPaused(paused)
	}
}

// WrittenTime is the stream position of the last byte queued.
func (s *queueSink) WrittenTime() time.Duration {
	if q := s.queue(); q != nil {
		return q.writtenTime()
	}
	return 0
}

// OutputTime is the stream position of the last byte handed to the device.
func (s *queueSink) OutputTime() time.Duration {
	if q := s.queue(); q != nil {
		return q.outputTime()
	}
	return 0
}

// Playing reports whether queued audio is still waiting for the device.
func (s *queueSink) Playing() bool {
	if q := s.queue(); q != nil {
		return q.pending() > 0
	}
	return false
}

// SpaceAvailable implements session.SpaceNotifier.
func (s *queueSink) SpaceAvailable() <-chan struct{} {
	if q := s.queue(); q != nil {
		return q.space
	}
	return nil
}

func (s *queueSink) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
