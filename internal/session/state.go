package session

// State is the lifecycle state of a Session.
type State int

const (
	Stopped State = iota
	Playing
	Paused
	Seeking
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Seeking:
		return "seeking"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// IsActive returns true while a decode goroutine is running.
func (s State) IsActive() bool {
	return s == Playing || s == Paused || s == Seeking || s == Draining
}

// CanPause returns true if the session can be paused from this state.
func (s State) CanPause() bool {
	return s == Playing || s == Seeking || s == Draining
}

// CanResume returns true if the session can be resumed from this state.
func (s State) CanResume() bool {
	return s == Paused
}

// CanSeek returns true if a seek request would be scheduled from this state.
func (s State) CanSeek() bool {
	return s.IsActive()
}

// EndReason describes why a playback ended.
type EndReason int

const (
	// EndFinished means the decoder reached end of stream and the sink drained.
	EndFinished EndReason = iota
	// EndStopped means the controller called Stop or Close.
	EndStopped
	// EndDecodeFailed means a fatal or exhausted-retry decode error ended the stream early.
	EndDecodeFailed
	// EndSinkFailed means a write to the sink failed; no drain was attempted.
	EndSinkFailed
)

func (r EndReason) String() string {
	switch r {
	case EndFinished:
		return "finished"
	case EndStopped:
		return "stopped"
	case EndDecodeFailed:
		return "decode_failed"
	case EndSinkFailed:
		return "sink_failed"
	default:
		return "unknown"
	}
}
