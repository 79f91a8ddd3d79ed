package history

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tj/go-naturaldate"
)

// ParseSince turns a --since argument into a lower bound. It accepts the
// presets today, yesterday, week, month and all, a Go duration such as
// "90m" meaning that long ago, or natural language like "3 days ago".
func ParseSince(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	switch value {
	case "today":
		return beginningOfDay(now), nil
	case "yesterday":
		return beginningOfDay(now.AddDate(0, 0, -1)), nil
	case "week", "this-week":
		return beginningOfWeek(now), nil
	case "month", "this-month":
		return beginningOfMonth(now), nil
	case "all", "all-time":
		return time.Time{}, nil
	}

	if d, err := time.ParseDuration(value); err == nil {
		if d < 0 {
			d = -d
		}
		return now.Add(-d), nil
	}

	result, err := naturaldate.Parse(value, now)
	if err != nil {
		slog.Warn("failed to parse natural language date", "input", value, "error", err)
		return time.Time{}, fmt.Errorf("failed to parse time expression '%s': %w", value, err)
	}

	slog.Debug("parsed natural language date", "input", value, "result", result)
	return result, nil
}

func beginningOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// beginningOfWeek returns Monday 00:00 of t's week.
func beginningOfWeek(t time.Time) time.Time {
	weekday := t.Weekday()
	if weekday == time.Sunday {
		weekday = 7
	}
	return beginningOfDay(t.AddDate(0, 0, -int(weekday-1)))
}

func beginningOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
