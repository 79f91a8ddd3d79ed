package session

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/samber/mo"
)

// waitResult is the outcome of waiting for sink space.
type waitResult int

const (
	spaceReady waitResult = iota
	waitStopped
	waitSeek
)

// run is the decode goroutine body.
func (s *Session) run(r *run) {
	reason, err := s.decodeAndDrain(r)
	s.finish(r, reason, err)
}

func (s *Session) decodeAndDrain(r *run) (reason EndReason, err error) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("decode goroutine panicked", "source", r.source, "panic", p)
			reason = EndDecodeFailed
			err = fmt.Errorf("%w: %v", ErrPanic, p)
		}
	}()

	for {
		reason, err = s.decodeLoop(r)
		if reason != EndFinished && reason != EndDecodeFailed {
			return reason, err
		}
		switch s.drain(r) {
		case waitSeek:
			// a seek arrived while draining; keep decoding from the new position
			continue
		case waitStopped:
			return EndStopped, err
		default:
			return reason, err
		}
	}
}

// decodeLoop runs check-stop, service-seek, decode, wait, write until the
// stream ends or the controller stops it.
func (s *Session) decodeLoop(r *run) (EndReason, error) {
	retries := 0
	for {
		stop, target := s.takeControl()
		if stop {
			return EndStopped, nil
		}
		if t, ok := target.Get(); ok {
			if s.serviceSeek(r, t) {
				return EndStopped, nil
			}
		}

		chunk, err := r.handle.ReadChunk()
		if err != nil {
			if s.stopping() {
				return EndStopped, nil
			}
			if errors.Is(err, io.EOF) {
				s.log.Debug("end of stream", "source", r.source)
				return EndFinished, nil
			}
			if errors.Is(err, ErrTransient) && retries < s.opts.maxRetries {
				retries++
				s.log.Debug("transient decode error, retrying",
					"source", r.source, "attempt", retries, "error", err)
				if !s.sleep(r, s.opts.retryBackoff) {
					return EndStopped, nil
				}
				continue
			}
			s.log.Warn("decode error, ending stream", "source", r.source, "error", err)
			return EndDecodeFailed, err
		}
		retries = 0

		if stopped, err := s.writeChunk(r, chunk.Data); stopped {
			return EndStopped, nil
		} else if err != nil {
			s.log.Error("sink write failed", "source", r.source, "error", err)
			return EndSinkFailed, err
		}
	}
}

// takeControl reads and clears the control fields under the lock.
func (s *Session) takeControl() (bool, mo.Option[time.Duration]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopRequested {
		return true, mo.None[time.Duration]()
	}
	target := s.pendingSeek
	s.pendingSeek = mo.None[time.Duration]()
	return false, target
}

func (s *Session) stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

// serviceSeek repositions the handle outside the lock, then flushes the sink
// and releases the waiters registered up to now. It reports whether a stop
// was observed.
func (s *Session) serviceSeek(r *run, target time.Duration) bool {
	s.mu.Lock()
	waiters := s.seekWaiters
	s.seekWaiters = nil
	s.mu.Unlock()

	seekErr := r.handle.Seek(target)

	s.mu.Lock()
	defer s.mu.Unlock()
	defer releaseWaiters(waiters)

	if s.stopRequested {
		return true
	}
	if seekErr != nil {
		s.log.Warn("seek rejected", "source", r.source, "target_ms", target.Milliseconds(), "error", seekErr)
	} else {
		s.sink.Flush(target)
		s.lastTime = target
		r.writtenPos.Store(int64(target))
		s.log.Debug("seek serviced", "source", r.source, "target_ms", target.Milliseconds())
	}
	if s.pendingSeek.IsAbsent() && s.state == Seeking {
		s.state = s.resumeStateLocked()
	}
	return false
}

func (s *Session) resumeStateLocked() State {
	if s.paused {
		return Paused
	}
	return Playing
}

// writeChunk hands data to the sink in pieces no larger than the free space.
// It reports stopped when the controller stopped the session; a pending seek
// silently drops the rest of the chunk.
func (s *Session) writeChunk(r *run, data []byte) (stopped bool, err error) {
	for len(data) > 0 {
		switch s.waitForSpace(r, len(data)) {
		case waitStopped:
			return true, nil
		case waitSeek:
			return false, nil
		}

		n, status, werr := s.writeLocked(r, data)
		switch status {
		case waitStopped:
			return true, nil
		case waitSeek:
			return false, nil
		}
		if werr != nil {
			return false, werr
		}
		if n > 0 {
			s.signalReady(r)
		}
		data = data[n:]
	}
	return false, nil
}

// writeLocked performs one sink write while holding the lock, so that no
// write can follow a stop request.
func (s *Session) writeLocked(r *run, data []byte) (int, waitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopRequested {
		return 0, waitStopped, nil
	}
	if s.pendingSeek.IsPresent() {
		return 0, waitSeek, nil
	}

	n := len(data)
	if free := s.sink.BufferFree(); free < n {
		n = r.format.Align(free)
	}
	if n <= 0 {
		return 0, spaceReady, nil
	}
	if err := s.sink.Write(data[:n]); err != nil {
		return 0, spaceReady, err
	}
	r.writtenPos.Add(int64(r.format.Duration(int64(n))))
	return n, spaceReady, nil
}

// waitForSpace blocks until the sink can take at least one frame (or all of
// need), a seek is pending, or the session is stopped. Every wait is bounded
// by the poll interval and interrupted by stop and seek.
func (s *Session) waitForSpace(r *run, need int) waitResult {
	var notify <-chan struct{}
	if n, ok := s.sink.(SpaceNotifier); ok {
		notify = n.SpaceAvailable()
	}
	bpf := r.format.BytesPerFrame()
	if need > bpf*256 {
		need = bpf * 256
	}

	timer := time.NewTimer(s.opts.spacePoll)
	defer timer.Stop()

	for {
		if status := s.controlStatus(); status != spaceReady {
			return status
		}
		if s.sink.BufferFree() >= need {
			return spaceReady
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.opts.spacePoll)

		select {
		case <-r.stopCh:
			return waitStopped
		case <-r.wake:
		case <-notify:
		case <-timer.C:
		}
	}
}

func (s *Session) controlStatus() waitResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopRequested {
		return waitStopped
	}
	if s.pendingSeek.IsPresent() {
		return waitSeek
	}
	return spaceReady
}

// sleep waits d or until stop. It reports false if stopped.
func (s *Session) sleep(r *run, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-r.stopCh:
		return false
	case <-t.C:
		return true
	}
}

// drain waits for the sink to play out queued audio.
func (s *Session) drain(r *run) waitResult {
	s.mu.Lock()
	if !s.stopRequested {
		s.state = Draining
	}
	s.mu.Unlock()

	s.signalReady(r)

	ticker := time.NewTicker(s.opts.drainPoll)
	defer ticker.Stop()

	for {
		if status := s.controlStatus(); status != spaceReady {
			if status == waitSeek {
				s.mu.Lock()
				s.state = Seeking
				s.mu.Unlock()
			}
			return status
		}
		if !s.sink.Playing() {
			return spaceReady
		}
		select {
		case <-r.stopCh:
			return waitStopped
		case <-r.wake:
		case <-ticker.C:
		}
	}
}

func (s *Session) signalReady(r *run) {
	r.readyOnce.Do(func() {
		if s.opts.onReady != nil {
			s.opts.onReady()
		}
		close(r.ready)
	})
}

// finish closes the handle and sink, publishes the report and releases
// everyone waiting on this playback.
func (s *Session) finish(r *run, reason EndReason, err error) {
	position, _ := s.Time()

	s.mu.Lock()
	if s.stopRequested && reason != EndSinkFailed {
		reason = EndStopped
	}
	waiters := s.seekWaiters
	s.seekWaiters = nil
	s.pendingSeek = mo.None[time.Duration]()
	s.sinkOpen = false
	s.mu.Unlock()

	s.closeHandle(r.handle)
	s.closeSink()
	r.cancel()
	releaseWaiters(waiters)
	s.signalReady(r)

	rep := Report{
		Source:    r.source,
		Format:    r.format,
		Reason:    reason,
		Position:  position,
		Err:       err,
		StartedAt: r.startedAt,
		EndedAt:   time.Now(),
	}
	s.log.Info("playback ended",
		"source", r.source,
		"reason", reason.String(),
		"position_ms", position.Milliseconds(),
		"error", err)
	if s.opts.observer != nil {
		s.notify(rep)
	}

	s.mu.Lock()
	if s.state != Closed {
		s.state = Stopped
	}
	s.cur = nil
	s.mu.Unlock()
	close(r.done)
}

func (s *Session) notify(rep Report) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("playback observer panicked", "panic", p)
		}
	}()
	s.opts.observer.PlaybackEnded(rep)
}

func releaseWaiters(waiters []chan struct{}) {
	for _, w := range waiters {
		close(w)
	}
}
