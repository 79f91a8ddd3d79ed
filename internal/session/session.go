// Package session implements the playback session: one decode goroutine per
// playback that pulls PCM from a Decoder and pushes it to a Sink, with
// play/pause/seek/stop issued concurrently by a controller.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/mo"

	"github.com/ctoth/spindle/internal/pcm"
)

// Session owns the decode goroutine and the state shared with the controller.
// Controller methods (Play, Stop, Pause, Seek, Time, Close) are safe for
// concurrent use, although hosts are expected to serialize them.
type Session struct {
	decoder Decoder
	sink    Sink
	opts    options
	log     *slog.Logger

	mu            sync.Mutex
	state         State
	paused        bool
	stopRequested bool
	pendingSeek   mo.Option[time.Duration]
	seekWaiters   []chan struct{}
	lastTime      time.Duration
	sinkOpen      bool
	length        mo.Option[time.Duration]
	cur           *run
}

// run is the per-Play state. Channels are created by Play and never reused.
type run struct {
	source    string
	handle    Handle
	format    pcm.Format
	startedAt time.Time

	cancel context.CancelFunc

	stopCh    chan struct{}
	wake      chan struct{}
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	// position of the last byte handed to the sink, published for Time
	writtenPos atomic.Int64
}

// New creates a stopped session bound to a decoder and a sink.
func New(decoder Decoder, sink Sink, opts ...Option) *Session {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		decoder:     decoder,
		sink:        sink,
		opts:        o,
		log:         logger,
		state:       Stopped,
		pendingSeek: mo.None[time.Duration](),
		length:      mo.None[time.Duration](),
	}
}

// Play opens src, starts the decode goroutine and returns once the first
// audio has been queued to the sink or the stream ended without producing any.
// An active playback is stopped first. If ctx ends before readiness the
// playback is stopped and ctx.Err is returned.
func (s *Session) Play(ctx context.Context, src Source) error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return ErrClosed
	}
	active := s.cur != nil
	s.mu.Unlock()
	if active {
		s.Stop()
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	// cancel the open if the caller gives up while we are still opening
	stopOpen := context.AfterFunc(ctx, cancel)

	name := src.Name()
	handle, err := s.decoder.Open(runCtx, src)
	stopOpen()
	if err != nil {
		cancel()
		s.log.Warn("failed to open source", "source", name, "error", err)
		return &OpenError{Stage: StageDecoder, Source: name, Err: err}
	}

	format := handle.Format()
	if err := format.Validate(); err != nil {
		s.closeHandle(handle)
		cancel()
		return &OpenError{Stage: StageFormat, Source: name, Err: err}
	}

	if err := s.sink.Open(format); err != nil {
		s.closeHandle(handle)
		cancel()
		s.log.Warn("failed to open sink", "source", name, "format", format.String(), "error", err)
		return &OpenError{Stage: StageSink, Source: name, Err: err}
	}

	r := &run{
		source:    name,
		handle:    handle,
		format:    format,
		startedAt: time.Now(),
		cancel:    cancel,
		stopCh:    make(chan struct{}),
		wake:      make(chan struct{}, 1),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		s.closeHandle(handle)
		s.closeSink()
		cancel()
		return ErrClosed
	}
	s.state = Playing
	s.paused = false
	s.stopRequested = false
	s.pendingSeek = mo.None[time.Duration]()
	s.seekWaiters = nil
	s.lastTime = 0
	s.sinkOpen = true
	s.length = mo.None[time.Duration]()
	if l, ok := handle.(Lengther); ok && l.Length() > 0 {
		s.length = mo.Some(l.Length())
	}
	s.cur = r
	s.mu.Unlock()

	s.log.Debug("starting playback",
		"source", name,
		"format", format.String(),
		"seek_mode", s.opts.seekMode.String())

	go s.run(r)

	select {
	case <-r.ready:
		return nil
	case <-ctx.Done():
		s.Stop()
		return ctx.Err()
	}
}

// Stop requests the decode goroutine to exit and waits for it. The sink is
// closed on return. Stop on an idle session does nothing.
func (s *Session) Stop() {
	s.mu.Lock()
	r := s.cur
	if r == nil {
		s.mu.Unlock()
		return
	}
	if !s.stopRequested {
		s.stopRequested = true
		close(r.stopCh)
		r.cancel()
	}
	s.mu.Unlock()

	<-r.done
}

// Close stops playback and retires the session. Play afterwards returns ErrClosed.
func (s *Session) Close() error {
	s.Stop()
	s.mu.Lock()
	s.state = Closed
	s.mu.Unlock()
	return nil
}

// Pause suspends or resumes output without discarding buffered audio.
func (s *Session) Pause(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur == nil || s.stopRequested || s.paused == paused {
		return
	}
	s.paused = paused
	s.sink.Pause(paused)
	switch s.state {
	case Playing, Paused:
		if paused {
			s.state = Paused
		} else {
			s.state = Playing
		}
	}
	s.log.Debug("pause toggled", "paused", paused, "state", s.state.String())
	s.wakeLocked()
}

// Seek schedules a reposition to target. A later Seek replaces a pending one.
// In SeekSync mode Seek returns once the decode goroutine has serviced this
// target or a newer one, or the playback ended.
func (s *Session) Seek(target time.Duration) {
	if target < 0 {
		target = 0
	}

	s.mu.Lock()
	r := s.cur
	if r == nil || s.stopRequested {
		s.mu.Unlock()
		return
	}
	if l, ok := s.length.Get(); ok && target > l {
		target = l
	}
	s.pendingSeek = mo.Some(target)
	s.state = Seeking
	var waiter chan struct{}
	if s.opts.seekMode == SeekSync {
		waiter = make(chan struct{})
		s.seekWaiters = append(s.seekWaiters, waiter)
	}
	s.wakeLocked()
	s.mu.Unlock()

	s.log.Debug("seek requested", "target_ms", target.Milliseconds(), "mode", s.opts.seekMode.String())

	if waiter == nil {
		return
	}
	select {
	case <-waiter:
	case <-r.done:
	}
}

// Time returns the audible position. It reports false when nothing is
// playing and the sink has nothing queued.
func (s *Session) Time() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur == nil || !s.sinkOpen {
		return 0, false
	}

	t := s.sink.OutputTime()
	if written := time.Duration(s.cur.writtenPos.Load()); t > written {
		t = written
	}
	if t < s.lastTime {
		t = s.lastTime
	}
	s.lastTime = t
	return t, true
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Duration returns the stream length when the decoder knows it.
func (s *Session) Duration() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.length.Get()
}

// Done returns a channel closed when the current playback ends, or nil when
// the session is idle.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return nil
	}
	return s.cur.done
}

func (s *Session) wakeLocked() {
	if s.cur == nil {
		return
	}
	select {
	case s.cur.wake <- struct{}{}:
	default:
	}
}

func (s *Session) closeHandle(h Handle) {
	if err := h.Close(); err != nil {
		s.log.Debug("failed to close decoder handle", "error", err)
	}
}

func (s *Session) closeSink() {
	if err := s.sink.Close(); err != nil {
		s.log.Debug("failed to close sink", "error", err)
	}
}
