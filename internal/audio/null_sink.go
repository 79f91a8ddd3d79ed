package audio

import (
	"time"

	"github.com/ctoth/spindle/internal/pcm"
)

const nullTick = 10 * time.Millisecond

// NullSink discards audio at real-time speed. It backs headless runs and
// tests that need a sink with realistic pacing.
type NullSink struct {
	queueSink

	stop chan struct{}
	done chan struct{}
}

// NewNullSink creates an unopened discarding sink.
func NewNullSink(opts SinkOptions) *NullSink {
	return &NullSink{queueSink: queueSink{opts: opts.withDefaults()}}
}

// Open starts the consumer that discards audio in real time.
func (s *NullSink) Open(format pcm.Format) error {
	if err := format.Validate(); err != nil {
		return err
	}
	s.release()

	q := s.openQueue(format)
	stop := make(chan struct{})
	done := make(chan struct{})

	s.mu.Lock()
	s.stop, s.done = stop, done
	s.mu.Unlock()

	go s.consume(q, stop, done)
	return nil
}

func (s *NullSink) consume(q *fifo, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(nullTick)
	defer ticker.Stop()

	buf := make([]byte, q.format.Bytes(nullTick)+int64(q.format.BytesPerFrame()))
	last := time.Now()
	var owed int64
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			owed += q.format.Bytes(now.Sub(last))
			last = now
			if q.isPaused() {
				owed = 0
				continue
			}
			for owed > 0 {
				want := int(owed)
				if want > len(buf) {
					want = len(buf)
				}
				n := q.pullAvailable(buf[:q.format.Align(want)])
				if n == 0 {
					break
				}
				owed -= int64(n)
			}
			// starvation does not bank time
			if q.pending() == 0 {
				owed = 0
			}
		}
	}
}

// Close stops the consumer.
func (s *NullSink) Close() error {
	s.markClosed()
	s.release()
	return nil
}

func (s *NullSink) release() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}
