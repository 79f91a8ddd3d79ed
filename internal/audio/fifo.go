package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drgolem/ringbuffer"

	"github.com/ctoth/spindle/internal/pcm"
)

// ringSlack keeps the ring from ever being asked to hold its full size.
const ringSlack = 4096

// fifo is the PCM queue between the decode goroutine and an output device.
// It keeps the byte accounting behind WrittenTime and OutputTime: written
// counts bytes accepted since the last flush, played counts bytes handed to
// the device.
type fifo struct {
	mu       sync.Mutex
	rb       ringbuffer.RingBuffer
	capacity int
	format   pcm.Format
	volume   float32

	written int64
	played  int64
	base    time.Duration
	paused  bool

	space   chan struct{}
	data    chan struct{}
	scratch []byte
}

func newFIFO(format pcm.Format, bufferTime time.Duration, volume float32) *fifo {
	capacity := int(format.Bytes(bufferTime))
	if floor := chunkFrames * format.BytesPerFrame(); capacity < floor {
		capacity = floor
	}
	return &fifo{
		rb:       ringbuffer.NewRingBuffer(capacity + ringSlack),
		capacity: capacity,
		format:   format,
		volume:   volume,
		space:    make(chan struct{}, 1),
		data:     make(chan struct{}, 1),
	}
}

func (q *fifo) write(p []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(p) > q.capacity-q.rb.Size() {
		return fmt.Errorf("%w: write of %d bytes exceeds free space", ErrSinkOverrun, len(p))
	}

	q.scratch = append(q.scratch[:0], p...)
	pcm.ApplyVolume(q.scratch, q.format.Encoding, q.volume)
	if _, err := q.rb.Write(q.scratch); err != nil {
		return err
	}
	q.written += int64(len(p))
	notify(q.data)
	return nil
}

func (q *fifo) free() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity - q.rb.Size()
}

// pull fills out for a device callback, padding with silence when paused or
// starved. It returns how many bytes of real audio were delivered.
func (q *fifo) pull(out []byte) int {
	n := q.pullAvailable(out)
	fillSilence(out[n:], q.format.Encoding)
	return n
}

// pullAvailable copies queued audio into out without padding.
func (q *fifo) pullAvailable(out []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused {
		return 0
	}
	n := q.rb.Size()
	if n > len(out) {
		n = len(out)
	}
	n = q.format.Align(n)
	if n == 0 {
		return 0
	}
	read, err := q.rb.Read(n, out)
	if err != nil {
		return 0
	}
	q.played += int64(read)
	notify(q.space)
	return read
}

// flush drops queued audio and restarts the clock at resetTo.
func (q *fifo) flush(resetTo time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rb = ringbuffer.NewRingBuffer(q.capacity + ringSlack)
	q.written = 0
	q.played = 0
	q.base = resetTo
	notify(q.space)
}

func (q *fifo) setPaused(paused bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = paused
	notify(q.data)
}

func (q *fifo) isPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

func (q *fifo) writtenTime() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.base + q.format.Duration(q.written)
}

func (q *fifo) outputTime() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.base + q.format.Duration(q.played)
}

func (q *fifo) flushBase() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.base
}

func (q *fifo) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rb.Size()
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func fillSilence(b []byte, enc pcm.Encoding) {
	var silence byte
	if enc == pcm.U8 {
		silence = 0x80
	}
	for i := range b {
		b[i] = silence
	}
}

// starveBlock is how much silence a pull-based device gets per read while the
// fifo is empty or paused.
const starveBlock = 10 * time.Millisecond

// fifoReader adapts the fifo to a device that pulls through io.Reader and
// keeps its own buffer. It never reports EOF, so the device stays alive
// across underruns, and it counts the silence handed out since the last real
// audio so callers can tell how much of the device buffer is real.
type fifoReader struct {
	q       *fifo
	silence atomic.Int64
}

func (r *fifoReader) Read(p []byte) (int, error) {
	if n := r.q.pullAvailable(p[:r.q.format.Align(len(p))]); n > 0 {
		r.silence.Store(0)
		return n, nil
	}

	n := int(r.q.format.Bytes(starveBlock))
	if n > len(p) {
		n = r.q.format.Align(len(p))
	}
	if n == 0 {
		n = len(p)
	}
	fillSilence(p[:n], r.q.format.Encoding)
	r.silence.Add(int64(n))
	return n, nil
}

// realBuffered returns how many of the device's buffered bytes are audio
// rather than padding. Padding is only ever queued behind the last real
// audio, so it is the newest part of the device buffer.
func (r *fifoReader) realBuffered(deviceBuffered int) int64 {
	audio := int64(deviceBuffered) - r.silence.Load()
	if audio < 0 {
		return 0
	}
	return audio
}
