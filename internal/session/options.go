package session

import (
	"log/slog"
	"time"
)

// SeekMode selects whether Seek waits for the decode goroutine.
type SeekMode int

const (
	// SeekSync blocks Seek until the decode goroutine has repositioned.
	SeekSync SeekMode = iota
	// SeekAsync returns immediately; the seek is serviced on the next loop iteration.
	SeekAsync
)

func (m SeekMode) String() string {
	if m == SeekAsync {
		return "async"
	}
	return "sync"
}

// ParseSeekMode accepts "sync" or "async".
func ParseSeekMode(s string) (SeekMode, bool) {
	switch s {
	case "sync", "":
		return SeekSync, true
	case "async":
		return SeekAsync, true
	default:
		return SeekSync, false
	}
}

const (
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 10 * time.Millisecond
	DefaultSpacePoll    = 10 * time.Millisecond
	DefaultDrainPoll    = 40 * time.Millisecond
)

type options struct {
	seekMode     SeekMode
	maxRetries   int
	retryBackoff time.Duration
	spacePoll    time.Duration
	drainPoll    time.Duration
	logger       *slog.Logger
	observer     Observer
	onReady      func()
}

func defaultOptions() options {
	return options{
		seekMode:     SeekSync,
		maxRetries:   DefaultMaxRetries,
		retryBackoff: DefaultRetryBackoff,
		spacePoll:    DefaultSpacePoll,
		drainPoll:    DefaultDrainPoll,
	}
}

// Option configures a Session.
type Option func(*options)

// WithSeekMode selects synchronous or fire-and-forget seeking.
func WithSeekMode(m SeekMode) Option {
	return func(o *options) { o.seekMode = m }
}

// WithRetries sets the transient decode error budget and the pause between attempts.
func WithRetries(max int, backoff time.Duration) Option {
	return func(o *options) {
		if max >= 0 {
			o.maxRetries = max
		}
		if backoff > 0 {
			o.retryBackoff = backoff
		}
	}
}

// WithPollInterval bounds how long the decode goroutine sleeps while waiting
// for sink buffer space.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.spacePoll = d
		}
	}
}

// WithDrainPoll sets how often the sink is asked whether it finished playing.
func WithDrainPoll(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.drainPoll = d
		}
	}
}

// WithLogger overrides slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver receives a Report after every playback ends.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithReadyHook is called from the decode goroutine when the first audio is queued.
func WithReadyHook(fn func()) Option {
	return func(o *options) { o.onReady = fn }
}
