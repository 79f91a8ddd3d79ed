//go:build cgo

package audio

import (
	"fmt"
	"log/slog"

	"github.com/gen2brain/malgo"

	"github.com/ctoth/spindle/internal/pcm"
)

const deviceSinksAvailable = true

// deviceContext wraps malgo.AllocatedContext with lifecycle logging.
type deviceContext struct {
	ctx *malgo.AllocatedContext
}

func newDeviceContext() (*deviceContext, error) {
	slog.Debug("initializing audio context")

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("malgo internal", "message", message)
	})
	if err != nil {
		slog.Error("failed to initialize audio context", "error", err)
		return nil, err
	}

	slog.Debug("audio context initialized")
	return &deviceContext{ctx: ctx}, nil
}

func (c *deviceContext) Close() error {
	if c.ctx == nil {
		return nil
	}

	// malgo requires both Uninit() and Free()
	if err := c.ctx.Uninit(); err != nil {
		slog.Error("failed to uninitialize audio context", "error", err)
		return err
	}
	c.ctx.Free()
	c.ctx = nil

	slog.Debug("audio context closed")
	return nil
}

func malgoFormat(enc pcm.Encoding) (malgo.FormatType, error) {
	switch enc {
	case pcm.U8:
		return malgo.FormatU8, nil
	case pcm.S16:
		return malgo.FormatS16, nil
	case pcm.S24:
		return malgo.FormatS24, nil
	case pcm.S32:
		return malgo.FormatS32, nil
	case pcm.F32:
		return malgo.FormatF32, nil
	}
	return malgo.FormatUnknown, fmt.Errorf("%w: %s", ErrUnsupportedFormat, enc)
}
