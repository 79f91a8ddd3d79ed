package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func newTestSession(t *testing.T, h *fakeHandle, sink *fakeSink, opts ...Option) (*Session, *fakeDecoder) {
	t.Helper()
	dec := &fakeDecoder{handle: h}
	base := []Option{
		WithPollInterval(time.Millisecond),
		WithDrainPoll(time.Millisecond),
		WithRetries(DefaultMaxRetries, time.Millisecond),
	}
	s := New(dec, sink, append(base, opts...)...)
	t.Cleanup(func() { _ = s.Close() })
	return s, dec
}

func reports() (Option, <-chan Report) {
	ch := make(chan Report, 4)
	return WithObserver(ObserverFunc(func(r Report) { ch <- r })), ch
}

func awaitReport(t *testing.T, ch <-chan Report) Report {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitFor):
		t.Fatal("playback did not end")
		return Report{}
	}
}

func TestPlayBecomesReadyAndReportsTime(t *testing.T) {
	sink := newFakeSink()
	var readyCount atomic.Int32
	s, _ := newTestSession(t, newFakeHandle(10*time.Second), sink,
		WithReadyHook(func() { readyCount.Add(1) }))

	require.NoError(t, s.Play(context.Background(), testSource{name: "a.wav"}))

	assert.Equal(t, int32(1), readyCount.Load(), "ready must fire before Play returns")
	writes, _, _, _ := sink.snapshot()
	assert.GreaterOrEqual(t, writes, 1)

	pos, ok := s.Time()
	require.True(t, ok)
	assert.GreaterOrEqual(t, pos, time.Duration(0))
	assert.Equal(t, Playing, s.State())

	d, ok := s.Duration()
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, d)

	s.Stop()
	assert.Equal(t, int32(1), readyCount.Load(), "ready fires exactly once")
}

func TestSeekConvergesAndFlushesOnce(t *testing.T) {
	sink := newFakeSink()
	h := newFakeHandle(10 * time.Second)
	s, _ := newTestSession(t, h, sink)

	require.NoError(t, s.Play(context.Background(), testSource{name: "a.wav"}))
	s.Seek(5 * time.Second)

	assert.Equal(t, []time.Duration{5 * time.Second}, h.seekLog())
	_, _, flushes, _ := sink.snapshot()
	assert.Equal(t, []time.Duration{5 * time.Second}, flushes)

	pos, ok := s.Time()
	require.True(t, ok)
	assert.GreaterOrEqual(t, pos, 5*time.Second)

	require.Eventually(t, func() bool {
		pos, ok := s.Time()
		return ok && pos > 5*time.Second
	}, waitFor, time.Millisecond)
}

func TestRapidSeeksLastWriteWins(t *testing.T) {
	sink := newFakeSink()
	h := newFakeHandle(10 * time.Second).blocking(1)
	s, _ := newTestSession(t, h, sink, WithSeekMode(SeekAsync))

	require.NoError(t, s.Play(context.Background(), testSource{name: "a.wav"}))
	<-h.parked

	s.Seek(2 * time.Second)
	s.Seek(7 * time.Second)
	assert.Equal(t, Seeking, s.State())
	close(h.gate)

	require.Eventually(t, func() bool { return len(h.seekLog()) == 1 }, waitFor, time.Millisecond)
	require.Eventually(t, func() bool { return s.State() == Playing }, waitFor, time.Millisecond)
	s.Stop()

	assert.Equal(t, []time.Duration{7 * time.Second}, h.seekLog())
}

func TestNoWritesAfterStopRequested(t *testing.T) {
	for i := 0; i < 20; i++ {
		t.Run(fmt.Sprintf("iteration_%d", i), func(t *testing.T) {
			sink := newFakeSink()
			s, _ := newTestSession(t, newFakeHandle(10*time.Second), sink)
			var violations atomic.Int32
			// Write is always called with the session lock held
			sink.onWrite = func() {
				if s.stopRequested {
					violations.Add(1)
				}
			}

			require.NoError(t, s.Play(context.Background(), testSource{name: "a.wav"}))
			s.Stop()
			writes, _, _, _ := sink.snapshot()

			time.Sleep(5 * time.Millisecond)
			after, _, _, _ := sink.snapshot()
			assert.Equal(t, writes, after)
			assert.Zero(t, violations.Load())
		})
	}
}

func TestStopJoinsDecodeGoroutine(t *testing.T) {
	sink := newFakeSink()
	h := newFakeHandle(10 * time.Second)
	s, _ := newTestSession(t, h, sink)

	require.NoError(t, s.Play(context.Background(), testSource{name: "a.wav"}))
	done := s.Done()
	require.NotNil(t, done)

	s.Stop()

	select {
	case <-done:
	default:
		t.Fatal("Stop returned before the decode goroutine exited")
	}
	assert.True(t, h.isClosed())
	_, closes, _, _ := sink.snapshot()
	assert.Equal(t, 1, closes)
	assert.Equal(t, Stopped, s.State())
	assert.Nil(t, s.Done())
}

func TestReportedTimeIsMonotonic(t *testing.T) {
	sink := newFakeSink()
	s, _ := newTestSession(t, newFakeHandle(30*time.Second), sink)

	require.NoError(t, s.Play(context.Background(), testSource{name: "a.wav"}))

	var last time.Duration
	for i := 0; i < 500; i++ {
		pos, ok := s.Time()
		require.True(t, ok)
		require.GreaterOrEqual(t, pos, last)
		last = pos
	}
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	s, _ := newTestSession(t, newFakeHandle(time.Second), newFakeSink())

	finished := make(chan struct{})
	go func() {
		s.Stop()
		s.Stop()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(waitFor):
		t.Fatal("Stop blocked on an idle session")
	}
	assert.Equal(t, Stopped, s.State())
}

func TestStopTwiceAfterPlay(t *testing.T) {
	sink := newFakeSink()
	s, _ := newTestSession(t, newFakeHandle(10*time.Second), sink)

	require.NoError(t, s.Play(context.Background(), testSource{name: "a.wav"}))
	s.Stop()
	s.Stop()

	_, closes, _, _ := sink.snapshot()
	assert.Equal(t, 1, closes)
}

func TestPlayOpenFailures(t *testing.T) {
	t.Run("decoder cannot identify source", func(t *testing.T) {
		sink := newFakeSink()
		s, dec := newTestSession(t, newFakeHandle(time.Second), sink)
		dec.openErr = errUnknownFormat

		err := s.Play(context.Background(), testSource{name: "noise.bin"})
		require.ErrorIs(t, err, ErrOpen)
		require.ErrorIs(t, err, errUnknownFormat)

		var openErr *OpenError
		require.True(t, errors.As(err, &openErr))
		assert.Equal(t, StageDecoder, openErr.Stage)
		assert.Equal(t, "noise.bin", openErr.Source)

		_, ok := s.Time()
		assert.False(t, ok)
		assert.Equal(t, Stopped, s.State())
		assert.Nil(t, s.Done())
		assert.Zero(t, sink.opens)
	})

	t.Run("sink rejects format", func(t *testing.T) {
		sink := newFakeSink()
		sink.openErr = errors.New("device busy")
		h := newFakeHandle(time.Second)
		s, _ := newTestSession(t, h, sink)

		err := s.Play(context.Background(), testSource{name: "a.wav"})
		require.ErrorIs(t, err, ErrOpen)

		var openErr *OpenError
		require.True(t, errors.As(err, &openErr))
		assert.Equal(t, StageSink, openErr.Stage)
		assert.True(t, h.isClosed())
		assert.Equal(t, Stopped, s.State())
		_, ok := s.Time()
		assert.False(t, ok)
	})
}

func TestStopBeforeFirstChunk(t *testing.T) {
	sink := newFakeSink()
	h := newFakeHandle(10 * time.Second).blocking(0)
	obs, ended := reports()
	s, _ := newTestSession(t, h, sink, obs)

	playErr := make(chan error, 1)
	go func() {
		playErr <- s.Play(context.Background(), testSource{name: "a.wav"})
	}()
	<-h.parked
	done := s.Done()

	s.Stop()

	select {
	case err := <-playErr:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Play did not return after Stop")
	}
	<-done

	writes, closes, _, _ := sink.snapshot()
	assert.Zero(t, writes)
	assert.Equal(t, 1, closes)
	assert.True(t, h.isClosed())
	assert.Equal(t, EndStopped, awaitReport(t, ended).Reason)
}

func TestPlayContextCancelledBeforeReady(t *testing.T) {
	h := newFakeHandle(10 * time.Second).blocking(0)
	s, _ := newTestSession(t, h, newFakeSink())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-h.parked
		cancel()
	}()

	err := s.Play(ctx, testSource{name: "a.wav"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Stopped, s.State())
	assert.True(t, h.isClosed())
}

func TestPlaybackFinishesAfterDrain(t *testing.T) {
	sink := newFakeSink()
	obs, ended := reports()
	s, _ := newTestSession(t, newFakeHandle(300*time.Millisecond), sink, obs)

	require.NoError(t, s.Play(context.Background(), testSource{name: "short.wav"}))
	done := s.Done()

	rep := awaitReport(t, ended)
	<-done

	assert.Equal(t, EndFinished, rep.Reason)
	assert.NoError(t, rep.Err)
	assert.Equal(t, "short.wav", rep.Source)
	assert.Equal(t, 300*time.Millisecond, rep.Position)
	assert.Equal(t, Stopped, s.State())

	_, ok := s.Time()
	assert.False(t, ok)
	assert.False(t, sink.overflow, "session wrote more than BufferFree")
}

func TestTransientErrorsAreRetried(t *testing.T) {
	tests := []struct {
		name       string
		errs       int
		wantReason EndReason
	}{
		{"within budget", DefaultMaxRetries, EndFinished},
		{"budget exhausted", DefaultMaxRetries + 1, EndDecodeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newFakeHandle(200 * time.Millisecond)
			for i := 0; i < tt.errs; i++ {
				h.errs = append(h.errs, fmt.Errorf("resync: %w", ErrTransient))
			}
			obs, ended := reports()
			s, _ := newTestSession(t, h, newFakeSink(), obs)

			require.NoError(t, s.Play(context.Background(), testSource{name: "a.ac3"}))
			rep := awaitReport(t, ended)
			assert.Equal(t, tt.wantReason, rep.Reason)
			if tt.wantReason == EndDecodeFailed {
				assert.ErrorIs(t, rep.Err, ErrTransient)
			}
		})
	}
}

func TestFatalDecodeErrorEndsStream(t *testing.T) {
	h := newFakeHandle(time.Second)
	h.errs = []error{errors.New("unsupported channel layout")}
	obs, ended := reports()
	s, _ := newTestSession(t, h, newFakeSink(), obs)

	require.NoError(t, s.Play(context.Background(), testSource{name: "a.ac3"}))
	rep := awaitReport(t, ended)
	assert.Equal(t, EndDecodeFailed, rep.Reason)
	assert.EqualError(t, rep.Err, "unsupported channel layout")
}

func TestSinkWriteErrorStopsWithoutDrain(t *testing.T) {
	sink := newFakeSink()
	sink.writeErr = errors.New("device unplugged")
	// never consume, so a drain would hang forever
	sink.consumePerQuery = 0
	obs, ended := reports()
	s, _ := newTestSession(t, newFakeHandle(time.Second), sink, obs)

	require.NoError(t, s.Play(context.Background(), testSource{name: "a.wav"}))
	rep := awaitReport(t, ended)
	assert.Equal(t, EndSinkFailed, rep.Reason)
	assert.EqualError(t, rep.Err, "device unplugged")

	writes, closes, _, _ := sink.snapshot()
	assert.Equal(t, 1, writes)
	assert.Equal(t, 1, closes)
}

func TestDecoderPanicIsRecovered(t *testing.T) {
	h := newFakeHandle(time.Second)
	h.panics = true
	obs, ended := reports()
	s, _ := newTestSession(t, h, newFakeSink(), obs)

	require.NoError(t, s.Play(context.Background(), testSource{name: "a.wav"}))
	rep := awaitReport(t, ended)
	assert.Equal(t, EndDecodeFailed, rep.Reason)
	assert.ErrorIs(t, rep.Err, ErrPanic)
	assert.True(t, h.isClosed())
}

func TestPauseTogglesSink(t *testing.T) {
	sink := newFakeSink()
	s, _ := newTestSession(t, newFakeHandle(10*time.Second), sink)

	s.Pause(true)
	_, _, _, paused := sink.snapshot()
	assert.False(t, paused, "pause on a stopped session is a no-op")

	require.NoError(t, s.Play(context.Background(), testSource{name: "a.wav"}))

	s.Pause(true)
	_, _, _, paused = sink.snapshot()
	assert.True(t, paused)
	assert.Equal(t, Paused, s.State())

	s.Pause(false)
	_, _, _, paused = sink.snapshot()
	assert.False(t, paused)
	assert.Equal(t, Playing, s.State())
}

func TestSyncSeekWhilePausedWithFullBuffer(t *testing.T) {
	sink := newFakeSink()
	h := newFakeHandle(10 * time.Second)
	s, _ := newTestSession(t, h, sink)

	require.NoError(t, s.Play(context.Background(), testSource{name: "a.wav"}))
	s.Pause(true)
	// let the decode goroutine fill the buffer and park
	time.Sleep(20 * time.Millisecond)

	seeked := make(chan struct{})
	go func() {
		s.Seek(3 * time.Second)
		close(seeked)
	}()

	select {
	case <-seeked:
	case <-time.After(waitFor):
		t.Fatal("synchronous seek was not serviced while paused")
	}
	assert.Equal(t, Paused, s.State())
	assert.Equal(t, []time.Duration{3 * time.Second}, h.seekLog())
}

func TestRejectedSeekKeepsPlaying(t *testing.T) {
	sink := newFakeSink()
	h := newFakeHandle(10 * time.Second)
	h.seekErr = ErrNotSeekable
	s, _ := newTestSession(t, h, sink)

	require.NoError(t, s.Play(context.Background(), testSource{name: "http://radio/stream"}))
	s.Seek(4 * time.Second)

	_, _, flushes, _ := sink.snapshot()
	assert.Empty(t, flushes)
	assert.Equal(t, Playing, s.State())
	pos, ok := s.Time()
	require.True(t, ok)
	assert.Less(t, pos, 4*time.Second)
}

func TestSeekWhileDrainingResumesDecoding(t *testing.T) {
	sink := newFakeSink()
	sink.consumePerQuery = 16
	h := newFakeHandle(500 * time.Millisecond)
	obs, ended := reports()
	s, _ := newTestSession(t, h, sink, obs)

	require.NoError(t, s.Play(context.Background(), testSource{name: "a.wav"}))
	require.Eventually(t, func() bool { return s.State() == Draining }, waitFor, time.Millisecond)

	s.Seek(0)
	assert.Equal(t, []time.Duration{0}, h.seekLog())
	assert.NotEqual(t, Stopped, s.State())

	sink.mu.Lock()
	sink.consumePerQuery = 4000
	sink.mu.Unlock()
	assert.Equal(t, EndFinished, awaitReport(t, ended).Reason)
}

func TestSeekClampsToLength(t *testing.T) {
	h := newFakeHandle(2 * time.Second)
	s, _ := newTestSession(t, h, newFakeSink())

	require.NoError(t, s.Play(context.Background(), testSource{name: "a.wav"}))
	s.Seek(-time.Second)
	s.Seek(time.Hour)

	assert.Equal(t, []time.Duration{0, 2 * time.Second}, h.seekLog())
}

func TestPlayReplacesActivePlayback(t *testing.T) {
	sink := newFakeSink()
	first := newFakeHandle(10 * time.Second)
	s, dec := newTestSession(t, first, sink)

	require.NoError(t, s.Play(context.Background(), testSource{name: "a.wav"}))
	second := newFakeHandle(10 * time.Second)
	dec.handle = second
	require.NoError(t, s.Play(context.Background(), testSource{name: "b.wav"}))

	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())
	assert.Equal(t, 2, dec.opened)
}

func TestPlayAfterClose(t *testing.T) {
	s, _ := newTestSession(t, newFakeHandle(time.Second), newFakeSink())
	require.NoError(t, s.Close())

	err := s.Play(context.Background(), testSource{name: "a.wav"})
	require.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, Closed, s.State())
}

func TestConcurrentControllerCalls(t *testing.T) {
	sink := newFakeSink()
	s, _ := newTestSession(t, newFakeHandle(60*time.Second), sink, WithSeekMode(SeekAsync))
	require.NoError(t, s.Play(context.Background(), testSource{name: "a.wav"}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Seek(time.Duration(i*j) * 10 * time.Millisecond)
				s.Pause(j%2 == 0)
				s.Time()
			}
		}(i)
	}
	wg.Wait()
	s.Stop()
	assert.Equal(t, Stopped, s.State())
}
