package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ctoth/spindle/internal/audio"
	"github.com/ctoth/spindle/internal/config"
	"github.com/ctoth/spindle/internal/session"
)

// statusInterval is how often the play command reports the position.
const statusInterval = 500 * time.Millisecond

type playOptions struct {
	seek     time.Duration
	output   string
	seekMode string
	bufferMs int
	quiet    bool
}

// newPlayCommand creates the play command
func newPlayCommand() *cobra.Command {
	var opts playOptions

	playCmd := &cobra.Command{
		Use:   "play FILE|URL|-",
		Short: "Play an audio file or stream",
		Long: `Play an audio file, an HTTP stream, or standard input ("-").

When standard input is a terminal these keys control playback:
  space      pause / resume
  left/right seek back / forward 5 seconds
  q          quit

Examples:
  spindle play song.flac
  spindle play --seek 1m30s podcast.mp3
  spindle play --output copy.wav track.ogg
  spindle play --backend pipe http://example.com/stream.mp3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd, args[0], opts)
		},
	}

	playCmd.Flags().DurationVar(&opts.seek, "seek", 0, "Start position (e.g. 90s, 2m)")
	playCmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write a WAV file instead of playing (implies --backend file)")
	playCmd.Flags().StringVar(&opts.seekMode, "seek-mode", "", "Seek mode (sync or async)")
	playCmd.Flags().IntVar(&opts.bufferMs, "buffer", 0, "Output buffer in milliseconds")
	playCmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not report the playback position")

	return playCmd
}

// runPlay executes the play command
func runPlay(cmd *cobra.Command, target string, opts playOptions) error {
	cli, err := cliFromContext(cmd.Context())
	if err != nil {
		return err
	}

	cfg, err := loadAndValidateConfig(cmd, cli, func(cfg *config.Config) {
		if opts.output != "" {
			cfg.OutputFile = opts.output
			if !cmd.Flags().Changed("backend") {
				cfg.AudioBackend = audio.SinkFile
			}
		}
		if opts.seekMode != "" {
			cfg.SeekMode = opts.seekMode
		}
		if opts.bufferMs != 0 {
			cfg.BufferMillis = opts.bufferMs
		}
	})
	if err != nil {
		return err
	}

	logCloser := setupLogging(cfg, cli.configManager, cmd.ErrOrStderr())
	defer logCloser.Close()

	slog.Debug("running play command",
		"target", target,
		"backend", cfg.AudioBackend,
		"volume", cfg.Volume,
		"seek_mode", cfg.SeekMode,
		"seek_ms", opts.seek.Milliseconds())

	sink, err := cli.sinkFactory.Create(cfg.AudioBackend, audio.SinkOptions{
		Volume:     float32(cfg.Volume),
		BufferTime: time.Duration(cfg.BufferMillis) * time.Millisecond,
		OutputPath: cfg.OutputFile,
		Fs:         cli.fs,
		Command:    cfg.PlayerCommand,
	})
	if err != nil {
		return fmt.Errorf("failed to create audio backend '%s': %w", cfg.AudioBackend, err)
	}

	reports := make(chan session.Report, 1)
	observers := observerList{session.ObserverFunc(func(r session.Report) { reports <- r })}
	if rec := cli.openHistory(cfg); rec != nil {
		defer rec.Close()
		observers = append(observers, rec)
	}

	mode, _ := session.ParseSeekMode(cfg.SeekMode)
	sess := session.New(cli.registry, sink,
		session.WithSeekMode(mode),
		session.WithRetries(cfg.MaxRetries, session.DefaultRetryBackoff),
		session.WithLogger(slog.Default()),
		session.WithObserver(observers))
	defer sess.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sess.Play(ctx, cli.sourceFor(target)); err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Debug("interrupted before playback started")
			return nil
		}
		return fmt.Errorf("failed to play %s: %w", target, err)
	}

	if opts.seek > 0 {
		sess.Seek(opts.seek)
	}

	var keys chan keyAction
	status := &statusLine{w: cmd.OutOrStdout(), quiet: opts.quiet}
	if fd, ok := cli.interactiveInput(cli.stdin); ok && target != stdinTarget {
		if restore, err := cli.terminalDetector.MakeRaw(fd); err != nil {
			slog.Warn("failed to enable interactive controls", "error", err)
		} else {
			defer restore()
			status.inPlace = true
			keys = make(chan keyAction)
			done := make(chan struct{})
			defer close(done)
			go readKeys(cli.stdin, keys, done)
		}
	}

	status.println(describePlayback(target, sess))

	rep := monitor(ctx, sess, reports, keys, status)
	status.println(describeEnd(rep))

	switch rep.Reason {
	case session.EndDecodeFailed, session.EndSinkFailed:
		if rep.Err != nil {
			return fmt.Errorf("playback %s: %w", rep.Reason, rep.Err)
		}
		return fmt.Errorf("playback %s", rep.Reason)
	}
	return nil
}

// monitor reports progress and applies key actions until the playback ends
// or ctx is cancelled, and returns the playback's report.
func monitor(ctx context.Context, sess *session.Session, reports <-chan session.Report, keys <-chan keyAction, status *statusLine) session.Report {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case rep := <-reports:
			return rep
		case <-ctx.Done():
			slog.Debug("interrupted, stopping playback")
			sess.Stop()
			return <-reports
		case <-ticker.C:
			status.update(describePosition(sess))
		case action := <-keys:
			slog.Debug("key action", "action", action.String())
			switch action {
			case actionQuit:
				sess.Stop()
				return <-reports
			case actionTogglePause:
				sess.Pause(sess.State() != session.Paused)
			case actionSeekBack, actionSeekForward:
				pos, _ := sess.Time()
				if action == actionSeekBack {
					pos -= seekStep
				} else {
					pos += seekStep
				}
				sess.Seek(pos)
			}
			status.update(describePosition(sess))
		}
	}
}

// observerList forwards a report to several observers in order.
type observerList []session.Observer

func (l observerList) PlaybackEnded(r session.Report) {
	for _, obs := range l {
		obs.PlaybackEnded(r)
	}
}

func describePlayback(target string, sess *session.Session) string {
	if length, ok := sess.Duration(); ok {
		return fmt.Sprintf("Playing %s [%s]", target, formatClock(length))
	}
	return fmt.Sprintf("Playing %s", target)
}

func describePosition(sess *session.Session) string {
	pos, ok := sess.Time()
	if !ok {
		return ""
	}
	label := sess.State().String()
	if length, ok := sess.Duration(); ok {
		return fmt.Sprintf("[%s] %s / %s", label, formatClock(pos), formatClock(length))
	}
	return fmt.Sprintf("[%s] %s", label, formatClock(pos))
}

func describeEnd(rep session.Report) string {
	switch rep.Reason {
	case session.EndFinished:
		return fmt.Sprintf("Finished at %s", formatClock(rep.Position))
	case session.EndStopped:
		return fmt.Sprintf("Stopped at %s", formatClock(rep.Position))
	default:
		return fmt.Sprintf("Playback %s at %s", rep.Reason, formatClock(rep.Position))
	}
}

// formatClock renders d as m:ss, or h:mm:ss from one hour up.
func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// statusLine prints position reports, rewriting one line on a terminal.
type statusLine struct {
	w       io.Writer
	quiet   bool
	inPlace bool
}

func (s *statusLine) update(text string) {
	if s.quiet || text == "" {
		return
	}
	if s.inPlace {
		fmt.Fprintf(s.w, "\r%s\x1b[K", text)
		return
	}
	fmt.Fprintln(s.w, text)
}

// println writes a full line. Raw mode needs an explicit carriage return.
func (s *statusLine) println(text string) {
	if s.inPlace {
		fmt.Fprintf(s.w, "\r%s\x1b[K\r\n", text)
		return
	}
	fmt.Fprintln(s.w, text)
}
