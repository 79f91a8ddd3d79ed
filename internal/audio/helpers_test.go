package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/ctoth/spindle/internal/pcm"
	"github.com/ctoth/spindle/internal/session"
)

// buildWAV assembles a canonical RIFF/WAVE file around raw sample data.
func buildWAV(sampleRate, channels, bits int, data []byte) []byte {
	blockAlign := channels * bits / 8

	wav := make([]byte, 0, 44+len(data))
	wav = append(wav, "RIFF"...)
	wav = binary.LittleEndian.AppendUint32(wav, uint32(36+len(data)))
	wav = append(wav, "WAVE"...)

	wav = append(wav, "fmt "...)
	wav = binary.LittleEndian.AppendUint32(wav, 16)
	wav = binary.LittleEndian.AppendUint16(wav, 1)
	wav = binary.LittleEndian.AppendUint16(wav, uint16(channels))
	wav = binary.LittleEndian.AppendUint32(wav, uint32(sampleRate))
	wav = binary.LittleEndian.AppendUint32(wav, uint32(sampleRate*blockAlign))
	wav = binary.LittleEndian.AppendUint16(wav, uint16(blockAlign))
	wav = binary.LittleEndian.AppendUint16(wav, uint16(bits))

	wav = append(wav, "data"...)
	wav = binary.LittleEndian.AppendUint32(wav, uint32(len(data)))
	return append(wav, data...)
}

// rampS16 returns n mono 16-bit samples whose value is their index.
func rampS16(n int) []byte {
	data := make([]byte, 0, 2*n)
	for i := 0; i < n; i++ {
		data = binary.LittleEndian.AppendUint16(data, uint16(i))
	}
	return data
}

// memSource writes data into an in-memory filesystem and returns a source for it.
func memSource(t *testing.T, name string, data []byte) *FileSource {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, name, data, 0o644))
	return NewFileSourceFs(fs, name)
}

// readAll drains a handle and returns every PCM byte it produced.
func readAll(t *testing.T, h session.Handle) []byte {
	t.Helper()
	var out []byte
	for {
		chunk, err := h.ReadChunk()
		out = append(out, chunk.Data...)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
	}
}

// fixtureSource opens a file under testdata from the real filesystem.
func fixtureSource(name string) *FileSource {
	return NewFileSourceFs(afero.NewOsFs(), filepath.Join("testdata", name))
}

func openHandle(t *testing.T, src session.Source) session.Handle {
	t.Helper()
	h, err := NewDefaultRegistry().Open(context.Background(), src)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

var monoS16 = pcm.Format{SampleRate: 8000, Channels: 1, Encoding: pcm.S16}

type bytesFile struct {
	*bytes.Reader
	closed bool
}

func (b *bytesFile) Close() error {
	b.closed = true
	return nil
}

// nopSeekCloser wraps data in a seekable ReadCloser like an opened file.
func nopSeekCloser(data []byte) *bytesFile {
	return &bytesFile{Reader: bytes.NewReader(data)}
}

// onlyReader hides every method but Read, like a network body.
type onlyReader struct {
	r io.Reader
}

func (o onlyReader) Read(p []byte) (int, error) { return o.r.Read(p) }
func (o onlyReader) Close() error               { return nil }
