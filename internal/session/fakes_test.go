package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/ctoth/spindle/internal/pcm"
)

// 8kHz mono s16: 16000 bytes per second, 16 bytes per millisecond
var testFormat = pcm.Format{SampleRate: 8000, Channels: 1, Encoding: pcm.S16}

type testSource struct{ name string }

func (s testSource) Name() string { return s.name }

func (s testSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}

// fakeSink simulates a device buffer that plays consumePerQuery bytes every
// time the session looks at it.
type fakeSink struct {
	mu sync.Mutex

	capacity        int
	consumePerQuery int
	openErr         error
	writeErr        error
	onWrite         func()

	format   pcm.Format
	buffered int
	played   int64
	written  int64
	base     time.Duration
	paused   bool
	open     bool
	opens    int
	closes   int
	writes   int
	flushes  []time.Duration
	overflow bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{capacity: 4000, consumePerQuery: 320}
}

func (f *fakeSink) consumeLocked() {
	if !f.open || f.paused {
		return
	}
	n := f.consumePerQuery
	if n > f.buffered {
		n = f.buffered
	}
	f.buffered -= n
	f.played += int64(n)
}

func (f *fakeSink) Open(format pcm.Format) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.format = format
	f.open = true
	f.opens++
	f.buffered, f.played, f.written, f.base = 0, 0, 0, 0
	return nil
}

func (f *fakeSink) Write(data []byte) error {
	if f.onWrite != nil {
		f.onWrite()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.writeErr != nil {
		return f.writeErr
	}
	if len(data) > f.capacity-f.buffered {
		f.overflow = true
	}
	f.buffered += len(data)
	f.written += int64(len(data))
	return nil
}

func (f *fakeSink) BufferFree() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumeLocked()
	return f.capacity - f.buffered
}

func (f *fakeSink) Flush(resetTo time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes = append(f.flushes, resetTo)
	f.buffered, f.played, f.written = 0, 0, 0
	f.base = resetTo
}

func (f *fakeSink) Pause(paused bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = paused
}

func (f *fakeSink) WrittenTime() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.base + f.format.Duration(f.written)
}

func (f *fakeSink) OutputTime() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.base + f.format.Duration(f.played)
}

func (f *fakeSink) Playing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumeLocked()
	return f.buffered > 0
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.closes++
	return nil
}

func (f *fakeSink) snapshot() (writes, closes int, flushes []time.Duration, paused bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes, f.closes, append([]time.Duration(nil), f.flushes...), f.paused
}

// fakeHandle produces silence in fixed-size chunks.
type fakeHandle struct {
	mu sync.Mutex

	ctx     context.Context
	total   int64
	pos     int64
	chunk   int
	errs    []error
	seekErr error
	panics  bool

	// after blockAfter reads, ReadChunk parks until gate is closed or ctx ends
	blockAfter int
	gate       chan struct{}
	parked     chan struct{}
	parkOnce   sync.Once
	reads      int

	seeks  []time.Duration
	closed bool
}

func newFakeHandle(d time.Duration) *fakeHandle {
	return &fakeHandle{total: testFormat.Bytes(d), chunk: 1600, blockAfter: -1}
}

func (h *fakeHandle) blocking(after int) *fakeHandle {
	h.blockAfter = after
	h.gate = make(chan struct{})
	h.parked = make(chan struct{})
	return h
}

func (h *fakeHandle) Format() pcm.Format { return testFormat }

func (h *fakeHandle) ReadChunk() (pcm.Chunk, error) {
	h.mu.Lock()
	if h.panics {
		h.mu.Unlock()
		panic("corrupt frame table")
	}
	block := h.gate != nil && h.blockAfter >= 0 && h.reads >= h.blockAfter
	h.reads++
	h.mu.Unlock()

	if block {
		h.parkOnce.Do(func() { close(h.parked) })
		select {
		case <-h.gate:
		case <-h.ctx.Done():
			return pcm.Chunk{}, h.ctx.Err()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.errs) > 0 {
		err := h.errs[0]
		h.errs = h.errs[1:]
		return pcm.Chunk{}, err
	}
	if h.pos >= h.total {
		return pcm.Chunk{}, io.EOF
	}
	n := int64(h.chunk)
	if rem := h.total - h.pos; rem < n {
		n = rem
	}
	h.pos += n
	return pcm.Chunk{Data: make([]byte, n)}, nil
}

func (h *fakeHandle) Seek(target time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seeks = append(h.seeks, target)
	if h.seekErr != nil {
		return h.seekErr
	}
	h.pos = testFormat.Bytes(target)
	return nil
}

func (h *fakeHandle) Length() time.Duration {
	return testFormat.Duration(h.total)
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHandle) seekLog() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.seeks...)
}

func (h *fakeHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

type fakeDecoder struct {
	handle  *fakeHandle
	openErr error
	opened  int
}

func (d *fakeDecoder) Open(ctx context.Context, src Source) (Handle, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.opened++
	d.handle.ctx = ctx
	return d.handle, nil
}

var errUnknownFormat = errors.New("no decoder accepts this stream")
