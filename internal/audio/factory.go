package audio

import (
	"errors"
	"fmt"
	"log/slog"
)

// Sink kinds accepted by the factory
const (
	SinkAuto  = "auto"
	SinkMalgo = "malgo"
	SinkOto   = "oto"
	SinkPipe  = "pipe"
	SinkFile  = "file"
	SinkNull  = "null"
)

// Factory errors
var (
	ErrInvalidBackendType    = errors.New("invalid backend type")
	ErrBackendCreationFailed = errors.New("backend creation failed")
)

// SinkFactory creates sinks by kind, choosing one for "auto" from the
// platform it runs on.
type SinkFactory struct {
	isWSLFunc     func() bool
	commandExists func(string) bool
	deviceSinks   bool
}

// NewSinkFactory creates a factory with real platform detection.
func NewSinkFactory() *SinkFactory {
	return &SinkFactory{
		isWSLFunc:     IsWSL,
		commandExists: CommandExists,
		deviceSinks:   deviceSinksAvailable,
	}
}

// NewSinkFactoryWithDependencies creates a factory with injected platform
// checks for testing.
func NewSinkFactoryWithDependencies(isWSLFunc func() bool, commandExists func(string) bool) *SinkFactory {
	return &SinkFactory{
		isWSLFunc:     isWSLFunc,
		commandExists: commandExists,
		deviceSinks:   deviceSinksAvailable,
	}
}

// Create returns an unopened sink of the given kind.
func (f *SinkFactory) Create(kind string, opts SinkOptions) (Sink, error) {
	if kind == "" {
		kind = SinkAuto
	}
	opts = opts.withDefaults()

	slog.Debug("creating audio sink", "kind", kind)

	switch kind {
	case SinkAuto:
		return f.createAuto(opts)
	case SinkMalgo:
		return newMalgoSink(opts)
	case SinkOto:
		return newOtoSink(opts)
	case SinkPipe:
		return f.createPipe(opts)
	case SinkFile:
		if opts.OutputPath == "" {
			return nil, fmt.Errorf("%w: file sink needs an output path", ErrBackendCreationFailed)
		}
		sink := NewFileSink(opts.Fs, opts.OutputPath)
		sink.SetVolume(opts.Volume)
		return sink, nil
	case SinkNull:
		return NewNullSink(opts), nil
	default:
		slog.Error("invalid sink kind requested", "kind", kind)
		return nil, fmt.Errorf("%w: %s", ErrInvalidBackendType, kind)
	}
}

// GetSupportedBackends lists every accepted kind.
func (f *SinkFactory) GetSupportedBackends() []string {
	return []string{SinkAuto, SinkMalgo, SinkOto, SinkPipe, SinkFile, SinkNull}
}

// IsValidBackendType reports whether kind is accepted. Empty means auto.
func (f *SinkFactory) IsValidBackendType(kind string) bool {
	if kind == "" {
		return true
	}
	for _, supported := range f.GetSupportedBackends() {
		if kind == supported {
			return true
		}
	}
	return false
}

// DetectedBackend is the kind "auto" resolves to on this machine.
func (f *SinkFactory) DetectedBackend() string {
	return detectOptimalBackendWithChecker(f.isWSLFunc(), f.deviceSinks, f.commandExists)
}

// DeviceSinksAvailable reports whether the malgo and oto sinks were compiled in.
func (f *SinkFactory) DeviceSinksAvailable() bool {
	return f.deviceSinks
}

// PreferredCommand is the player a pipe sink would run, or "".
func (f *SinkFactory) PreferredCommand() string {
	return getPreferredSystemCommandWithChecker(f.commandExists)
}

func (f *SinkFactory) createAuto(opts SinkOptions) (Sink, error) {
	kind := f.DetectedBackend()
	slog.Debug("auto-detection result", "selected_kind", kind)

	switch kind {
	case SinkPipe:
		return f.createPipe(opts)
	case SinkMalgo:
		return newMalgoSink(opts)
	default:
		slog.Error("auto-detection returned invalid sink kind", "kind", kind)
		return nil, fmt.Errorf("%w: auto-detection failed", ErrBackendCreationFailed)
	}
}

func (f *SinkFactory) createPipe(opts SinkOptions) (Sink, error) {
	command := opts.Command
	if command == "" {
		command = f.PreferredCommand()
	}
	if command == "" {
		slog.Error("no system audio commands available")
		return nil, fmt.Errorf("%w: no system audio commands found", ErrBackendNotAvailable)
	}
	return NewPipeSink(command, opts), nil
}
