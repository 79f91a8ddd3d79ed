package audio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/afero"
)

// Common errors for sources and streams
var (
	ErrNotSupported = errors.New("operation not supported by this source")
	ErrSourceClosed = errors.New("audio source is closed")
)

// headerSize is how much of a stream is sniffed for magic bytes.
const headerSize = 512

// FileSource opens a file from an afero filesystem.
type FileSource struct {
	fs   afero.Fs
	path string
}

// NewFileSource creates a FileSource over the OS filesystem.
func NewFileSource(path string) *FileSource {
	return NewFileSourceFs(afero.NewOsFs(), path)
}

// NewFileSourceFs creates a FileSource over fs.
func NewFileSourceFs(fs afero.Fs, path string) *FileSource {
	slog.Debug("creating new FileSource", "path", path)
	return &FileSource{fs: fs, path: path}
}

// Name returns the file path.
func (s *FileSource) Name() string {
	return s.path
}

// Open opens the file. afero files are seekable and support ReadAt.
func (s *FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if s.path == "" {
		return nil, fmt.Errorf("file path is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := s.fs.Open(s.path)
	if err != nil {
		slog.Error("failed to open file", "path", s.path, "error", err)
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// ReaderSource wraps an existing reader. It can be opened once.
type ReaderSource struct {
	name   string
	reader io.ReadCloser
}

// NewReaderSource creates a ReaderSource. The name is used for extension
// based detection and logging.
func NewReaderSource(name string, reader io.ReadCloser) *ReaderSource {
	slog.Debug("creating new ReaderSource", "name", name)
	return &ReaderSource{name: name, reader: reader}
}

// Name returns the name given to NewReaderSource.
func (s *ReaderSource) Name() string {
	return s.name
}

// Open hands out the wrapped reader; later calls fail with ErrSourceClosed.
func (s *ReaderSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if s.reader == nil {
		return nil, ErrSourceClosed
	}
	r := s.reader
	s.reader = nil
	return r, nil
}

// Stream is an opened source as handed to a FormatDecoder. Decoders that need
// random access get it from the underlying file, or by buffering the stream.
type Stream struct {
	name   string
	r      io.Reader
	closer io.Closer
	header []byte
}

type readSeekerAt interface {
	io.ReadSeeker
	io.ReaderAt
}

// newStream sniffs the header of rc without consuming it.
func newStream(name string, rc io.ReadCloser) (*Stream, error) {
	s := &Stream{name: name, closer: rc}

	if rs, ok := rc.(io.ReadSeeker); ok {
		buf := make([]byte, headerSize)
		n, err := io.ReadFull(rs, buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, readFailure(err)
		}
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("%w: rewind after sniff: %w", ErrReadFailure, err)
		}
		s.header = buf[:n]
		s.r = rc
		return s, nil
	}

	br := bufio.NewReaderSize(rc, 4096)
	header, err := br.Peek(headerSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, readFailure(err)
	}
	s.header = append([]byte(nil), header...)
	s.r = br
	return s, nil
}

// Name returns the source name.
func (s *Stream) Name() string { return s.name }

// Header returns the sniffed leading bytes.
func (s *Stream) Header() []byte { return s.header }

// Read reads decoded-container bytes.
func (s *Stream) Read(p []byte) (int, error) { return s.r.Read(p) }

// Reader returns the underlying reader. It implements io.Seeker only when the
// source is seekable, which lets decoders probe for seek support.
func (s *Stream) Reader() io.Reader { return s.r }

// ReadSeeker returns the stream as an io.ReadSeeker when the source supports it.
func (s *Stream) ReadSeeker() (io.ReadSeeker, bool) {
	rs, ok := s.r.(io.ReadSeeker)
	return rs, ok
}

// RandomAccess returns a reader supporting Seek and ReadAt, buffering the
// remaining stream into memory when the source cannot provide one.
func (s *Stream) RandomAccess() (readSeekerAt, error) {
	if rsa, ok := s.r.(readSeekerAt); ok {
		return rsa, nil
	}
	slog.Debug("buffering non-seekable stream into memory", "name", s.name)
	data, err := io.ReadAll(s.r)
	if err != nil {
		return nil, readFailure(err)
	}
	br := bytes.NewReader(data)
	s.r = br
	return br, nil
}

// Close closes the underlying source.
func (s *Stream) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}
