package session

import (
	"errors"
	"fmt"
)

var (
	// ErrOpen matches every *OpenError via errors.Is.
	ErrOpen = errors.New("playback open failed")
	// ErrClosed is returned by Play after Close.
	ErrClosed = errors.New("session is closed")
	// ErrTransient marks decode errors worth retrying.
	ErrTransient = errors.New("transient decode error")
	// ErrNotSeekable is returned by handles over streams that cannot reposition.
	ErrNotSeekable = errors.New("stream is not seekable")
	// ErrPanic wraps a panic recovered in the decode goroutine.
	ErrPanic = errors.New("decode goroutine panicked")
)

// OpenStage names the step of Play that failed.
type OpenStage string

const (
	StageDecoder OpenStage = "decoder"
	StageFormat  OpenStage = "format"
	StageSink    OpenStage = "sink"
)

// OpenError is returned by Play when the source or sink cannot be opened.
type OpenError struct {
	Stage  OpenStage
	Source string
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s (%s): %v", e.Source, e.Stage, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrOpen) true for any OpenError.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}
