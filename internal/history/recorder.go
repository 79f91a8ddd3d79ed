package history

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ctoth/spindle/internal/session"
)

// ErrDisabled is returned by queries on a recorder that lost its database.
var ErrDisabled = errors.New("history is disabled")

// Entry is one recorded playback.
type Entry struct {
	ID        int64
	Source    string
	Format    string
	Reason    string
	Position  time.Duration
	Error     string
	StartedAt time.Time
	EndedAt   time.Time
}

// Duration is how long the playback ran in wall-clock time.
func (e Entry) Duration() time.Duration {
	return e.EndedAt.Sub(e.StartedAt)
}

// Recorder stores session reports. A write failure disables it so playback
// never depends on the database.
type Recorder struct {
	mu       sync.Mutex
	db       *sql.DB
	disabled bool
	owned    bool
}

// NewRecorder wraps an open database. The caller keeps ownership of db.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db, disabled: db == nil}
}

// Open opens the database at path and returns a recorder that closes it.
func Open(path string) (*Recorder, error) {
	db, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}
	slog.Debug("history database opened", "path", path)
	return &Recorder{db: db, owned: true}, nil
}

// OpenOrDisabled is Open, but logs and returns a disabled recorder on failure.
func OpenOrDisabled(path string) *Recorder {
	r, err := Open(path)
	if err != nil {
		slog.Warn("playback history unavailable", "path", path, "error", err)
		return NewRecorder(nil)
	}
	return r
}

// Enabled reports whether reports are still being stored.
func (r *Recorder) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.disabled
}

// PlaybackEnded implements session.Observer.
func (r *Recorder) PlaybackEnded(rep session.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disabled {
		return
	}

	var errText sql.NullString
	if rep.Err != nil {
		errText = sql.NullString{String: rep.Err.Error(), Valid: true}
	}
	position := rep.Position
	if position < 0 {
		position = 0
	}

	_, err := r.db.Exec(`
		INSERT INTO sessions (source, format, reason, position_ms, error, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rep.Source,
		rep.Format.String(),
		rep.Reason.String(),
		position.Milliseconds(),
		errText,
		rep.StartedAt.UnixMilli(),
		rep.EndedAt.UnixMilli())
	if err != nil {
		slog.Warn("playback history failed to record session", "error", err, "source", rep.Source)
		r.disabled = true
		return
	}

	slog.Debug("playback history recorded session",
		"source", rep.Source,
		"reason", rep.Reason.String(),
		"position_ms", position.Milliseconds())
}

// Recent returns up to limit entries, newest first. A limit <= 0 means no limit.
func (r *Recorder) Recent(limit int) ([]Entry, error) {
	return r.query(time.Time{}, limit)
}

// Since returns entries that ended at or after since, newest first.
func (r *Recorder) Since(since time.Time, limit int) ([]Entry, error) {
	return r.query(since, limit)
}

func (r *Recorder) query(since time.Time, limit int) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(`
		SELECT id, source, format, reason, position_ms, error, started_at, ended_at
		FROM sessions
		WHERE ended_at >= ?
		ORDER BY ended_at DESC, id DESC
		LIMIT ?`,
		since.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                 Entry
			positionMs        int64
			errText           sql.NullString
			started, finished int64
		)
		if err := rows.Scan(&e.ID, &e.Source, &e.Format, &e.Reason, &positionMs, &errText, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Position = time.Duration(positionMs) * time.Millisecond
		e.Error = errText.String
		e.StartedAt = time.UnixMilli(started)
		e.EndedAt = time.UnixMilli(finished)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database when the recorder opened it.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.disabled = true
	if !r.owned || r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

var _ session.Observer = (*Recorder)(nil)
