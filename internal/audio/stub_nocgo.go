//go:build !cgo

package audio

import "errors"

var errCGORequired = errors.New(`this sink requires CGO support.

Rebuild with CGO_ENABLED=1 and a C compiler installed, or choose
the pipe, file or null sink instead`)

const deviceSinksAvailable = false

func newMalgoSink(SinkOptions) (Sink, error) {
	return nil, errCGORequired
}

func newOtoSink(SinkOptions) (Sink, error) {
	return nil, errCGORequired
}
