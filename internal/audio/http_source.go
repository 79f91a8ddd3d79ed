package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ctoth/spindle/internal/session"
)

// DefaultStallTimeout is how long a body read may wait for data before the
// stream is reported as stalled.
const DefaultStallTimeout = 5 * time.Second

// httpClient bounds connection setup and response headers. The body has no
// overall deadline since streams can be arbitrarily long; stalls are caught
// per read instead.
var httpClient = &http.Client{
	Transport: &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
	},
}

// HTTPSource streams audio from an HTTP(S) URL. The response body is not
// seekable, so decoders that need random access buffer it.
type HTTPSource struct {
	url    string
	client *http.Client
	stall  time.Duration
}

// NewHTTPSource creates a source for url with connect and header timeouts.
func NewHTTPSource(url string) *HTTPSource {
	return NewHTTPSourceWithClient(url, httpClient)
}

// NewHTTPSourceWithClient creates a source with a custom client.
func NewHTTPSourceWithClient(url string, client *http.Client) *HTTPSource {
	return &HTTPSource{url: url, client: client, stall: DefaultStallTimeout}
}

// SetStallTimeout changes how long a read waits before reporting a stall.
func (s *HTTPSource) SetStallTimeout(d time.Duration) {
	if d > 0 {
		s.stall = d
	}
}

// IsURL reports whether name looks like something NewHTTPSource can open.
func IsURL(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Name returns the URL.
func (s *HTTPSource) Name() string {
	return s.url
}

// Open issues the request bound to ctx; cancelling ctx aborts body reads.
func (s *HTTPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: unexpected status %s", s.url, resp.Status)
	}

	slog.Debug("http stream opened",
		"url", s.url,
		"content_type", resp.Header.Get("Content-Type"),
		"content_length", resp.ContentLength)

	return &netBody{body: resp.Body, url: s.url, stall: s.stall}, nil
}

// netBody reports network timeouts and reads that wait longer than stall as
// session.ErrTransient so the session retries them. A stalled read is not
// abandoned: the next Read waits for the same pending result, so no bytes are
// lost across a retry.
type netBody struct {
	body  io.ReadCloser
	url   string
	stall time.Duration

	pending  chan bodyRead
	buf      []byte
	leftover []byte
	err      error
}

type bodyRead struct {
	n   int
	err error
}

func (b *netBody) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(b.leftover) > 0 {
		n := copy(p, b.leftover)
		b.leftover = b.leftover[n:]
		if len(b.leftover) == 0 {
			return n, b.err
		}
		return n, nil
	}
	if b.err != nil {
		return 0, b.err
	}

	if b.pending == nil {
		if cap(b.buf) < len(p) {
			b.buf = make([]byte, len(p))
		}
		buf := b.buf[:len(p)]
		pending := make(chan bodyRead, 1)
		go func() {
			n, err := b.body.Read(buf)
			pending <- bodyRead{n: n, err: err}
		}()
		b.pending = pending
	}

	timer := time.NewTimer(b.stall)
	defer timer.Stop()

	select {
	case res := <-b.pending:
		b.pending = nil
		b.err = classifyNetErr(res.err)
		n := copy(p, b.buf[:res.n])
		b.leftover = b.buf[n:res.n]
		if len(b.leftover) > 0 {
			return n, nil
		}
		return n, b.err
	case <-timer.C:
		slog.Debug("http stream stalled", "url", b.url, "stall", b.stall)
		return 0, fmt.Errorf("%w: no data from %s for %s", session.ErrTransient, b.url, b.stall)
	}
}

// Close closes the body, which also ends a pending read.
func (b *netBody) Close() error {
	return b.body.Close()
}

func classifyNetErr(err error) error {
	var netErr net.Error
	if err != nil && errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", session.ErrTransient, err)
	}
	return err
}
