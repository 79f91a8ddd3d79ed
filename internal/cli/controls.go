package cli

import (
	"io"
	"log/slog"
	"time"
)

// seekStep is how far one arrow key press moves playback.
const seekStep = 5 * time.Second

type keyAction int

const (
	actionNone keyAction = iota
	actionTogglePause
	actionSeekBack
	actionSeekForward
	actionQuit
)

func (a keyAction) String() string {
	switch a {
	case actionTogglePause:
		return "toggle_pause"
	case actionSeekBack:
		return "seek_back"
	case actionSeekForward:
		return "seek_forward"
	case actionQuit:
		return "quit"
	default:
		return "none"
	}
}

// parseKeys maps raw terminal input to actions. Arrow keys arrive as the
// escape sequences ESC [ C and ESC [ D; Ctrl-C arrives as 0x03 in raw mode.
func parseKeys(buf []byte) []keyAction {
	var actions []keyAction
	for i := 0; i < len(buf); i++ {
		switch b := buf[i]; b {
		case ' ', 'p', 'P':
			actions = append(actions, actionTogglePause)
		case 'q', 'Q', 0x03:
			actions = append(actions, actionQuit)
		case 'h', 'H':
			actions = append(actions, actionSeekBack)
		case 'l', 'L':
			actions = append(actions, actionSeekForward)
		case 0x1b:
			if i+2 < len(buf) && (buf[i+1] == '[' || buf[i+1] == 'O') {
				switch buf[i+2] {
				case 'C':
					actions = append(actions, actionSeekForward)
				case 'D':
					actions = append(actions, actionSeekBack)
				}
				i += 2
			}
		}
	}
	return actions
}

// readKeys forwards actions parsed from r until r fails or done closes. A
// blocked Read only returns with the input or the process.
func readKeys(r io.Reader, out chan<- keyAction, done <-chan struct{}) {
	buf := make([]byte, 32)
	for {
		n, err := r.Read(buf)
		for _, action := range parseKeys(buf[:n]) {
			select {
			case out <- action:
			case <-done:
				return
			}
		}
		if err != nil {
			slog.Debug("key reader stopped", "error", err)
			return
		}
	}
}
