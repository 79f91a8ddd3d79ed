package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/dhowden/tag"
	"github.com/spf13/afero"
)

// ErrNoTags is returned when a file carries no recognisable metadata.
var ErrNoTags = errors.New("no tags found")

// Tags is the descriptive metadata of an audio file.
type Tags struct {
	Title  string
	Artist string
	Album  string
	Genre  string
	Year   int
	Track  int
	Size   int64
}

// ReadTags reads ID3, MP4, FLAC or Ogg metadata from path on fs. Size is
// filled in even when ErrNoTags is returned.
func ReadTags(fs afero.Fs, path string) (Tags, error) {
	f, err := fs.Open(path)
	if err != nil {
		return Tags{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	var tags Tags
	if fi, err := f.Stat(); err == nil {
		tags.Size = fi.Size()
	}

	m, err := tag.ReadFrom(f)
	if err != nil {
		slog.Debug("no metadata read", "path", path, "error", err)
		if errors.Is(err, tag.ErrNoTagsFound) {
			return tags, ErrNoTags
		}
		return tags, fmt.Errorf("%w: %v", ErrNoTags, err)
	}

	tags.Title = m.Title()
	if tags.Title == "" {
		tags.Title = filepath.Base(path)
	}
	tags.Artist = m.Artist()
	if tags.Artist == "" {
		tags.Artist = m.AlbumArtist()
	}
	tags.Album = m.Album()
	tags.Genre = m.Genre()
	tags.Year = m.Year()
	tags.Track, _ = m.Track()
	return tags, nil
}
