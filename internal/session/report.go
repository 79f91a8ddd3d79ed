package session

import (
	"time"

	"github.com/ctoth/spindle/internal/pcm"
)

// Report summarizes one playback, from Play to the decode goroutine exiting.
type Report struct {
	Source    string
	Format    pcm.Format
	Reason    EndReason
	Position  time.Duration
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
}

// Observer is notified once per playback, from the decode goroutine, before
// Stop or Done unblock.
type Observer interface {
	PlaybackEnded(r Report)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Report)

func (f ObserverFunc) PlaybackEnded(r Report) { f(r) }
