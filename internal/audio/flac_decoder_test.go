package audio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctoth/spindle/internal/pcm"
	"github.com/ctoth/spindle/internal/session"
)

// mono_44100hz_22050.flac holds half a second of mono audio, which beep
// widens to stereo.
const flacFixture = "mono_44100hz_22050.flac"

var stereo44k = pcm.Format{SampleRate: 44100, Channels: 2, Encoding: pcm.S16}

func TestFlacDecoderCanDecode(t *testing.T) {
	decoder := NewFlacDecoder()
	assert.Equal(t, "FLAC", decoder.FormatName())

	testCases := []struct {
		filename string
		expected bool
	}{
		{"album.flac", true},
		{"ALBUM.FLAC", true},
		{"album.fla", false},
		{"album.ogg", false},
		{"flac", false},
		{"", false},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, decoder.CanDecode(tc.filename), tc.filename)
	}
}

func TestFlacDecoderReadsWholeStream(t *testing.T) {
	h := openHandle(t, fixtureSource(flacFixture))

	assert.Equal(t, stereo44k, h.Format())
	require.Implements(t, (*session.Lengther)(nil), h)
	assert.Equal(t, 500*time.Millisecond, h.(session.Lengther).Length())

	data := readAll(t, h)
	assert.Len(t, data, 22050*4)
	// mono source: both channels of every frame match
	for i := 0; i+3 < len(data); i += 4 {
		if data[i] != data[i+2] || data[i+1] != data[i+3] {
			t.Fatalf("frame at byte %d has differing channels", i)
		}
	}
}

func TestFlacDecoderSeek(t *testing.T) {
	testCases := []struct {
		name      string
		target    time.Duration
		wantBytes int
		delta     float64
	}{
		{"midpoint", 250 * time.Millisecond, 11025 * 4, 0},
		{"start", 0, 22050 * 4, 0},
		{"last sample", 500 * time.Millisecond, 0, 0},
		{"past end", time.Hour, 0, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := openHandle(t, fixtureSource(flacFixture))
			readAll(t, h)

			require.NoError(t, h.Seek(tc.target))
			assert.InDelta(t, tc.wantBytes, len(readAll(t, h)), tc.delta)
		})
	}
}

func TestFlacDecoderStreamInfo(t *testing.T) {
	info, err := NewDefaultRegistry().Probe(context.Background(), fixtureSource(flacFixture))
	require.NoError(t, err)

	assert.Equal(t, "FLAC", info.FormatName)
	assert.Equal(t, stereo44k, info.Format)
	assert.Equal(t, 500*time.Millisecond, info.Length)
	assert.True(t, info.Seekable)
}
