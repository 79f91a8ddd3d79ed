package audio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/ctoth/spindle/internal/session"
)

// DecoderRegistry manages format decoders and implements session.Decoder by
// sniffing each source and delegating to the matching FormatDecoder.
type DecoderRegistry struct {
	decoders []FormatDecoder
}

// NewDecoderRegistry creates a new empty decoder registry
func NewDecoderRegistry() *DecoderRegistry {
	slog.Debug("creating new decoder registry")
	return &DecoderRegistry{
		decoders: make([]FormatDecoder, 0),
	}
}

// NewDefaultRegistry creates a registry with every built-in decoder
func NewDefaultRegistry() *DecoderRegistry {
	registry := NewDecoderRegistry()

	registry.Register(NewWavDecoder())
	registry.Register(NewMp3Decoder())
	registry.Register(NewAiffDecoder())
	registry.Register(NewVorbisDecoder())
	registry.Register(NewFlacDecoder())

	slog.Debug("default decoder registry initialized",
		"supported_formats", registry.GetSupportedFormats())

	return registry
}

// Register adds a decoder to the registry
func (r *DecoderRegistry) Register(decoder FormatDecoder) {
	if decoder == nil {
		slog.Warn("attempted to register nil decoder")
		return
	}

	r.decoders = append(r.decoders, decoder)

	slog.Debug("decoder registered",
		"format", decoder.FormatName(),
		"total_decoders", len(r.decoders))
}

// GetDecoders returns all registered decoders
func (r *DecoderRegistry) GetDecoders() []FormatDecoder {
	return r.decoders
}

// GetSupportedFormats returns a list of all supported format names
func (r *DecoderRegistry) GetSupportedFormats() []string {
	formats := make([]string, 0, len(r.decoders))
	for _, decoder := range r.decoders {
		formats = append(formats, decoder.FormatName())
	}
	return formats
}

// DetectFormat detects the appropriate decoder based on filename extension only
func (r *DecoderRegistry) DetectFormat(filename string) FormatDecoder {
	if filename == "" {
		return nil
	}

	// first registered has priority
	for _, decoder := range r.decoders {
		if decoder.CanDecode(filename) {
			slog.Debug("format detected by extension",
				"filename", filename,
				"format", decoder.FormatName())
			return decoder
		}
	}

	slog.Debug("no decoder found for filename", "filename", filename)
	return nil
}

// DetectFormatWithContent detects format using magic bytes first, falling
// back to the extension
func (r *DecoderRegistry) DetectFormatWithContent(filename string, header []byte) FormatDecoder {
	if len(header) == 0 {
		slog.Debug("empty content, using extension fallback")
		return r.DetectFormat(filename)
	}

	mtype := mimetype.Detect(header)
	mimeStr := strings.ToLower(mtype.String())

	slog.Debug("magic byte detection result",
		"filename", filename,
		"detected_mime", mimeStr,
		"bytes_analyzed", len(header))

	var formatDecoder FormatDecoder
	switch {
	case strings.Contains(mimeStr, "wav") || mimeStr == "audio/vnd.wave":
		formatDecoder = r.findDecoderByFormat("WAV")
	case strings.Contains(mimeStr, "mpeg") || strings.Contains(mimeStr, "mp3"):
		formatDecoder = r.findDecoderByFormat("MP3")
	case strings.Contains(mimeStr, "aiff"):
		formatDecoder = r.findDecoderByFormat("AIFF")
	case strings.Contains(mimeStr, "flac"):
		formatDecoder = r.findDecoderByFormat("FLAC")
	case strings.Contains(mimeStr, "ogg"):
		formatDecoder = r.findDecoderByFormat("VORBIS")
	}

	if formatDecoder != nil {
		slog.Debug("format detected by magic bytes",
			"filename", filename,
			"detected_format", formatDecoder.FormatName(),
			"mime_type", mimeStr)
		return formatDecoder
	}

	return r.DetectFormat(filename)
}

// findDecoderByFormat finds a decoder by its format name
func (r *DecoderRegistry) findDecoderByFormat(formatName string) FormatDecoder {
	for _, decoder := range r.decoders {
		if strings.EqualFold(decoder.FormatName(), formatName) {
			return decoder
		}
	}
	return nil
}

// Open implements session.Decoder.
func (r *DecoderRegistry) Open(ctx context.Context, src session.Source) (session.Handle, error) {
	name := src.Name()

	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}

	stream, err := newStream(name, rc)
	if err != nil {
		rc.Close()
		return nil, err
	}

	decoder := r.DetectFormatWithContent(name, stream.Header())
	if decoder == nil {
		stream.Close()
		slog.Warn("no suitable decoder found", "source", name)
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}

	handle, err := openWith(decoder, stream)
	if err != nil {
		stream.Close()
		return nil, fmt.Errorf("%s decoder: %w", strings.ToLower(decoder.FormatName()), err)
	}

	slog.Info("decoder selected for source",
		"source", name,
		"decoder_format", decoder.FormatName(),
		"format", handle.Format().String())

	return handle, nil
}

// openWith runs decoder.OpenStream, turning parser panics into errors.
func openWith(decoder FormatDecoder, stream *Stream) (handle session.Handle, err error) {
	defer recoverMalformed(&err, decoder.FormatName())
	return decoder.OpenStream(stream)
}

// Probe opens src and reports its format without decoding audio.
func (r *DecoderRegistry) Probe(ctx context.Context, src session.Source) (Info, error) {
	handle, err := r.Open(ctx, src)
	if err != nil {
		return Info{}, err
	}
	defer handle.Close()

	info := Info{Format: handle.Format()}
	if named, ok := handle.(interface{ FormatName() string }); ok {
		info.FormatName = named.FormatName()
	}
	if l, ok := handle.(session.Lengther); ok {
		info.Length = l.Length()
	}
	if s, ok := handle.(interface{ Seekable() bool }); ok {
		info.Seekable = s.Seekable()
	}
	return info, nil
}
