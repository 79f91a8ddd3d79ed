package audio

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctoth/spindle/internal/session"
)

func TestSessionPlaysWavToNullSink(t *testing.T) {
	reports := make(chan session.Report, 1)
	s := session.New(NewDefaultRegistry(), NewNullSink(SinkOptions{BufferTime: 100 * time.Millisecond}),
		session.WithObserver(session.ObserverFunc(func(r session.Report) { reports <- r })))
	defer s.Close()

	src := memSource(t, "clip.wav", buildWAV(8000, 1, 16, rampS16(2400)))
	require.NoError(t, s.Play(context.Background(), src))

	length, ok := s.Duration()
	require.True(t, ok)
	assert.Equal(t, 300*time.Millisecond, length)

	select {
	case r := <-reports:
		assert.Equal(t, session.EndFinished, r.Reason)
		assert.Equal(t, "clip.wav", r.Source)
		assert.Equal(t, monoS16, r.Format)
		assert.NoError(t, r.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("playback did not finish")
	}
	assert.Equal(t, session.Stopped, s.State())
}

func TestSessionSeeksWithinWav(t *testing.T) {
	s := session.New(NewDefaultRegistry(), NewNullSink(SinkOptions{BufferTime: 100 * time.Millisecond}),
		session.WithSeekMode(session.SeekSync))
	defer s.Close()

	src := memSource(t, "long.wav", buildWAV(8000, 1, 16, rampS16(8000*5)))
	require.NoError(t, s.Play(context.Background(), src))

	s.Seek(4 * time.Second)
	pos, ok := s.Time()
	require.True(t, ok)
	assert.GreaterOrEqual(t, pos, 4*time.Second)

	s.Stop()
	assert.Equal(t, session.Stopped, s.State())
}

func TestSessionReportsUnsupportedSource(t *testing.T) {
	s := session.New(NewDefaultRegistry(), NewNullSink(SinkOptions{}))
	defer s.Close()

	err := s.Play(context.Background(), memSource(t, "readme.txt", []byte("hello")))
	require.ErrorIs(t, err, session.ErrOpen)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	var openErr *session.OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, session.StageDecoder, openErr.Stage)
}

func TestSessionReportsTruncatedWav(t *testing.T) {
	s := session.New(NewDefaultRegistry(), NewNullSink(SinkOptions{}))
	defer s.Close()

	for _, data := range [][]byte{nil, []byte("RIFF")} {
		err := s.Play(context.Background(), memSource(t, "empty.wav", data))
		require.ErrorIs(t, err, session.ErrOpen)
		assert.ErrorIs(t, err, ErrInvalidData)

		var openErr *session.OpenError
		require.ErrorAs(t, err, &openErr)
		assert.Equal(t, session.StageDecoder, openErr.Stage)
		assert.Equal(t, session.Stopped, s.State())
	}
}

// stallingFile is a seekable file whose reads at offset at fail transiently
// stalls times before succeeding.
type stallingFile struct {
	*bytes.Reader
	at     int64
	stalls int
	hits   int
}

func (f *stallingFile) ReadAt(p []byte, off int64) (int, error) {
	if off == f.at && f.stalls > 0 {
		f.stalls--
		f.hits++
		return 0, fmt.Errorf("%w: device busy", session.ErrTransient)
	}
	return f.Reader.ReadAt(p, off)
}

func (f *stallingFile) Close() error { return nil }

func TestSessionRetriesTransientDecodeErrors(t *testing.T) {
	audio := rampS16(16000)
	// the second chunk of sample data starts one chunk past the 44 byte header
	file := &stallingFile{
		Reader: bytes.NewReader(buildWAV(8000, 1, 16, audio)),
		at:     44 + chunkFrames*2,
		stalls: 2,
	}

	fs := afero.NewMemMapFs()
	reports := make(chan session.Report, 1)
	s := session.New(NewDefaultRegistry(), NewFileSink(fs, "/out.wav"),
		session.WithRetries(3, time.Millisecond),
		session.WithObserver(session.ObserverFunc(func(r session.Report) { reports <- r })))
	defer s.Close()

	require.NoError(t, s.Play(context.Background(), NewReaderSource("stall.wav", file)))

	select {
	case r := <-reports:
		assert.Equal(t, session.EndFinished, r.Reason)
		assert.NoError(t, r.Err)
		assert.Equal(t, 2*time.Second, r.Position)
	case <-time.After(5 * time.Second):
		t.Fatal("playback did not finish")
	}
	assert.Equal(t, 2, file.hits)

	out, err := afero.ReadFile(fs, "/out.wav")
	require.NoError(t, err)
	require.Greater(t, len(out), len(audio))
	assert.Equal(t, audio, out[len(out)-len(audio):], "no audio lost across retries")
}

func TestSessionGivesUpAfterRetries(t *testing.T) {
	file := &stallingFile{
		Reader: bytes.NewReader(buildWAV(8000, 1, 16, rampS16(16000))),
		at:     44 + chunkFrames*2,
		stalls: 10,
	}

	reports := make(chan session.Report, 1)
	s := session.New(NewDefaultRegistry(), NewFileSink(afero.NewMemMapFs(), "/out.wav"),
		session.WithRetries(2, time.Millisecond),
		session.WithObserver(session.ObserverFunc(func(r session.Report) { reports <- r })))
	defer s.Close()

	require.NoError(t, s.Play(context.Background(), NewReaderSource("stall.wav", file)))

	select {
	case r := <-reports:
		assert.Equal(t, session.EndDecodeFailed, r.Reason)
		assert.ErrorIs(t, r.Err, session.ErrTransient)
	case <-time.After(5 * time.Second):
		t.Fatal("playback did not end")
	}
	assert.Equal(t, 3, file.hits)
}
