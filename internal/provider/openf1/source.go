package openf1

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/albapepper/race-alerts/internal/race"
)

// Source adapts the OpenF1 calendar to race.Source.
type Source struct {
	client *Client
	year   int
	logger *slog.Logger

	mu       sync.Mutex
	meetings map[string]int // race ID -> meeting key, from the last Races call
}

// NewSource creates a Source for one season.
func NewSource(client *Client, year int, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{client: client, year: year, logger: logger, meetings: map[string]int{}}
}

// Races implements race.Source. Each meeting becomes one race whose ID is the
// slugged meeting name; its sessions become events. Lap counts are not
// published by OpenF1 and are left unknown.
func (s *Source) Races(ctx context.Context) ([]race.RawRace, error) {
	meetings, err := s.client.Meetings(ctx, s.year)
	if err != nil {
		return nil, fmt.Errorf("fetch meetings: %w", err)
	}
	sessions, err := s.client.SeasonSessions(ctx, s.year)
	if err != nil {
		return nil, fmt.Errorf("fetch sessions: %w", err)
	}

	byMeeting := make(map[int][]Session)
	for _, sess := range sessions {
		byMeeting[sess.MeetingKey] = append(byMeeting[sess.MeetingKey], sess)
	}

	keys := make(map[string]int, len(meetings))
	races := make([]race.RawRace, 0, len(meetings))
	for _, m := range meetings {
		if m.MeetingKey == 0 {
			s.logger.Warn("Missing meeting_key in meeting data", "meeting", m.MeetingName)
			continue
		}
		sess := byMeeting[m.MeetingKey]
		if len(sess) == 0 {
			s.logger.Info("Meeting has no sessions yet", "meeting", m.MeetingName)
			continue
		}
		sort.Slice(sess, func(i, j int) bool { return sess[i].DateStart < sess[j].DateStart })

		events := make([]race.RawEvent, 0, len(sess))
		for _, ss := range sess {
			events = append(events, race.RawEvent{Name: ss.SessionName, Date: ss.DateStart})
		}
		id := slugify(m.MeetingName)
		keys[id] = m.MeetingKey
		races = append(races, race.RawRace{URL: id, Events: events})
	}

	s.mu.Lock()
	s.meetings = keys
	s.mu.Unlock()

	s.logger.Info("Fetched OpenF1 calendar", "year", s.year, "meetings", len(meetings), "races", len(races))
	return races, nil
}

// DriverCount returns the number of distinct drivers entered for a race
// returned by the last Races call.
func (s *Source) DriverCount(ctx context.Context, raceID string) (int, error) {
	s.mu.Lock()
	key, ok := s.meetings[raceID]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("unknown race %q", raceID)
	}

	drivers, err := s.client.Drivers(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("fetch drivers: %w", err)
	}
	seen := make(map[int]bool, len(drivers))
	for _, d := range drivers {
		seen[d.DriverNumber] = true
	}
	return len(seen), nil
}

// slugify turns "São Paulo Grand Prix" into "são-paulo-grand-prix".
func slugify(name string) string {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, "-")
}
