// Package race holds the race-weekend domain types and the normalizer that
// turns raw schedule data from a source into typed, UTC-aware events.
package race

import (
	"context"
	"net/url"
	"strings"
	"time"
	"unicode"
)

// RawEvent is one (event name, date string) pair as a source reports it.
type RawEvent struct {
	Name string `json:"event"`
	Date string `json:"date"`
}

// RawRace is the per-race record produced by a schedule source.
type RawRace struct {
	URL    string     `json:"url"` // canonical race URL or a bare slug
	Laps   *int       `json:"laps"`
	Events []RawEvent `json:"dates"`
}

// Event is one scheduled session within a race weekend.
// StartTime is always UTC.
type Event struct {
	RaceID    string
	Circuit   string
	Name      string
	StartTime time.Time
	Laps      *int
}

// Source returns the season's races. Implemented by the scraper and the
// OpenF1 provider.
type Source interface {
	Races(ctx context.Context) ([]RawRace, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]RawRace, error)

// Races implements Source.
func (f SourceFunc) Races(ctx context.Context) ([]RawRace, error) { return f(ctx) }

// Slug returns the race identifier for a race URL or slug: the last
// non-empty path segment with any ".html" suffix removed.
func Slug(raceURL string) string {
	s := strings.TrimSpace(raceURL)
	if u, err := url.Parse(s); err == nil && u.Path != "" {
		s = u.Path
	}
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSuffix(s, ".html")
}

// CircuitName turns a slug into a display label:
// "monaco-grand-prix" → "Monaco Grand Prix".
func CircuitName(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' || unicode.IsSpace(r) })
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
