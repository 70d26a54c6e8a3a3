package race

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrNoTimestamp is returned by ParseTime for strings that match no known layout.
var ErrNoTimestamp = errors.New("unrecognised timestamp")

// Layouts that carry an explicit offset.
var awareLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04-07:00",
	"2006-01-02 15:04:05-07:00",
}

// Layouts without offset information; interpreted as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTime parses a scraped or API timestamp and returns it in UTC.
// Strings without timezone information are taken as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("parse %q: %w", s, ErrNoTimestamp)
	}
	for _, layout := range awareLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse %q: %w", s, ErrNoTimestamp)
}

// Normalize flattens raw races into events. Events whose date fails to parse
// are dropped; a race left with no valid events is dropped as a whole.
// Neither case is an error.
func Normalize(races []RawRace, logger *slog.Logger) []Event {
	if logger == nil {
		logger = slog.Default()
	}

	var events []Event
	for _, r := range races {
		slug := Slug(r.URL)
		circuit := CircuitName(slug)

		var parsed []Event
		for _, raw := range r.Events {
			name := strings.TrimSpace(raw.Name)
			if name == "" {
				logger.Warn("Dropping event without a name", "race", slug, "date", raw.Date)
				continue
			}
			start, err := ParseTime(raw.Date)
			if err != nil {
				logger.Warn("Dropping event with unparseable date",
					"race", slug, "event", name, "date", raw.Date, "error", err)
				continue
			}
			parsed = append(parsed, Event{
				RaceID:    slug,
				Circuit:   circuit,
				Name:      name,
				StartTime: start,
				Laps:      r.Laps,
			})
		}

		if len(parsed) == 0 {
			logger.Warn("Dropping race with no parseable schedule", "race", slug, "raw_events", len(r.Events))
			continue
		}
		events = append(events, parsed...)
	}
	return events
}
