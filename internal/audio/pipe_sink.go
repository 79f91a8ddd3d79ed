package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/ctoth/spindle/internal/pcm"
)

// pipeCloseGrace bounds how long Close waits for the player to finish what
// it already received.
const pipeCloseGrace = 2 * time.Second

// PipeSink streams raw PCM to the stdin of an external player such as pacat,
// aplay or ffplay. A feeder goroutine moves audio from the fifo into the pipe;
// the pipe applies back-pressure, so playback is paced by the player.
type PipeSink struct {
	queueSink

	command string
	latency time.Duration
	grace   time.Duration
	// lastFeed is when audio last went into the pipe, in unix nanoseconds.
	lastFeed atomic.Int64

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stop    chan struct{}
	fed     chan struct{}
	exited  chan error
}

// NewPipeSink creates an unopened sink that will run command.
func NewPipeSink(command string, opts SinkOptions) *PipeSink {
	slog.Debug("creating pipe sink", "command", command)
	opts = opts.withDefaults()
	return &PipeSink{
		queueSink: queueSink{opts: opts},
		command:   command,
		latency:   opts.PlayerLatency,
		grace:     pipeCloseGrace,
	}
}

// pipeArgs builds the raw-PCM command line for a supported player, asking it
// to buffer no more than latency where the player allows that.
func pipeArgs(command string, f pcm.Format, latency time.Duration) ([]string, error) {
	rate := fmt.Sprint(f.SampleRate)
	channels := fmt.Sprint(f.Channels)

	switch filepath.Base(command) {
	case "pacat", "paplay":
		names := map[pcm.Encoding]string{pcm.U8: "u8", pcm.S16: "s16le", pcm.S24: "s24le", pcm.S32: "s32le", pcm.F32: "float32le"}
		return []string{"--raw", "--playback", "--format=" + names[f.Encoding], "--rate=" + rate, "--channels=" + channels,
			"--latency-msec=" + fmt.Sprint(latency.Milliseconds())}, nil
	case "aplay":
		names := map[pcm.Encoding]string{pcm.U8: "U8", pcm.S16: "S16_LE", pcm.S24: "S24_3LE", pcm.S32: "S32_LE", pcm.F32: "FLOAT_LE"}
		return []string{"-q", "-t", "raw", "-f", names[f.Encoding], "-r", rate, "-c", channels,
			"-B", fmt.Sprint(latency.Microseconds()), "-"}, nil
	case "ffplay":
		names := map[pcm.Encoding]string{pcm.U8: "u8", pcm.S16: "s16le", pcm.S24: "s24le", pcm.S32: "s32le", pcm.F32: "f32le"}
		return []string{"-nodisp", "-autoexit", "-loglevel", "quiet", "-f", names[f.Encoding], "-ar", rate, "-ac", channels, "-i", "-"}, nil
	}
	return nil, fmt.Errorf("%w: %s cannot play raw PCM", ErrBackendNotAvailable, command)
}

// Open starts the player process for format.
func (s *PipeSink) Open(format pcm.Format) error {
	if err := format.Validate(); err != nil {
		return err
	}
	args, err := pipeArgs(s.command, format, s.latency)
	if err != nil {
		return err
	}

	s.release(false)

	cmd := exec.Command(s.command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open player stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		slog.Error("system command failed", "command", s.command, "error", err)
		return fmt.Errorf("%w: %v", ErrBackendNotAvailable, err)
	}

	q := s.openQueue(format)
	s.lastFeed.Store(0)
	stop := make(chan struct{})
	fed := make(chan struct{})
	exited := make(chan error, 1)

	s.mu.Lock()
	s.cmd, s.stdin, s.stop, s.fed, s.exited = cmd, stdin, stop, fed, exited
	s.mu.Unlock()

	go func() { exited <- cmd.Wait() }()
	go s.feed(q, stdin, stop, fed)

	slog.Debug("pipe sink started", "command", s.command, "args", args)
	return nil
}

func (s *PipeSink) feed(q *fifo, w io.Writer, stop <-chan struct{}, fed chan<- struct{}) {
	defer close(fed)
	buf := make([]byte, q.format.Bytes(20*time.Millisecond)+int64(q.format.BytesPerFrame()))
	for {
		// stamped before the pull so Playing covers audio on its way into the pipe
		if q.pending() > 0 {
			s.lastFeed.Store(time.Now().UnixNano())
		}
		n := q.pullAvailable(buf)
		if n == 0 {
			select {
			case <-stop:
				return
			case <-q.data:
			}
			continue
		}
		if _, err := w.Write(buf[:n]); err != nil {
			s.fail(fmt.Errorf("player %s stopped accepting audio: %w", s.command, err))
			return
		}
		s.lastFeed.Store(time.Now().UnixNano())
	}
}

// inFlight estimates how much audio the player holds that has not been heard.
// It is the full latency right after a write and decays to zero once the pipe
// goes quiet.
func (s *PipeSink) inFlight() time.Duration {
	last := s.lastFeed.Load()
	if last == 0 {
		return 0
	}
	remaining := s.latency - time.Since(time.Unix(0, last))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// OutputTime is the position fed into the pipe minus the player's latency.
func (s *PipeSink) OutputTime() time.Duration {
	q := s.queue()
	if q == nil {
		return 0
	}
	t := q.outputTime() - s.inFlight()
	if base := q.flushBase(); t < base {
		t = base
	}
	return t
}

// Playing reports whether audio is queued or still in the player's buffer.
func (s *PipeSink) Playing() bool {
	q := s.queue()
	if q == nil {
		return false
	}
	return q.pending() > 0 || s.inFlight() > 0
}

// Close stops feeding the player and waits briefly for it to finish.
func (s *PipeSink) Close() error {
	s.markClosed()
	s.release(true)
	return nil
}

func (s *PipeSink) release(graceful bool) {
	s.mu.Lock()
	cmd, stdin, stop, fed, exited := s.cmd, s.stdin, s.stop, s.fed, s.exited
	s.cmd, s.stdin, s.stop, s.fed, s.exited = nil, nil, nil, nil, nil
	s.mu.Unlock()

	if cmd == nil {
		return
	}

	close(stop)
	stdin.Close()
	<-fed

	if graceful {
		select {
		case err := <-exited:
			var exitErr *exec.ExitError
			if err != nil && !errors.As(err, &exitErr) {
				slog.Debug("player exited with error", "command", s.command, "error", err)
			}
			return
		case <-time.After(s.grace):
		}
	}
	if err := cmd.Process.Kill(); err != nil {
		slog.Debug("failed to kill player", "command", s.command, "error", err)
	}
	<-exited
}
