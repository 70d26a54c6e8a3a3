// Package scrape reads the season schedule from the Formula 1 website.
//
// The season page lists one card per race weekend; each race page lists the
// weekend's sessions as parallel day/month/time/name elements; the race's
// circuit page carries the lap count. Selectors target the site's utility
// classes, so a redesign shows up as "no races found" rather than bad data.
package scrape

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/albapepper/race-alerts/internal/race"
)

// Selectors for the formula1.com markup.
const (
	selRaceCard = "a.group[href]"
	selDay      = "p.f1-heading.text-fs-18px.leading-none"
	selMonth    = ".rounded-xl.bg-lightGray.text-grey-70"
	selTime     = "p.f1-text.f1-text__micro.text-fs-15px"
	selSession  = "span.f1-heading.text-fs-18px.font-bold.block"
	selLaps     = "h2.f1-heading.text-fs-22px.font-bold"
)

const (
	minLaps = 30
	maxLaps = 100

	dateLayout = "2006-01-02T15:04:05-0700"
	userAgent  = "race-alerts/1.0 (+https://github.com/albapepper/race-alerts)"
)

// Scraper fetches race data from formula1.com. It implements race.Source.
type Scraper struct {
	httpClient *http.Client
	baseURL    string
	year       int
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// New creates a rate-limited scraper for one season.
func New(baseURL string, year, requestsPerMinute int, logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	rps := float64(requestsPerMinute) / 60.0
	return &Scraper{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		year:       year,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     logger,
	}
}

// Races implements race.Source. A failure to read the season page is
// returned; a failure on one race is logged and that race skipped.
func (s *Scraper) Races(ctx context.Context) ([]race.RawRace, error) {
	urls, err := s.RaceURLs(ctx)
	if err != nil {
		return nil, err
	}

	var races []race.RawRace
	for _, u := range urls {
		events, err := s.Schedule(ctx, u)
		if err != nil {
			s.logger.Warn("Failed to scrape race schedule", "url", u, "error", err)
			continue
		}
		if len(events) == 0 {
			continue
		}

		laps, err := s.Laps(ctx, u)
		if err != nil {
			s.logger.Warn("Failed to scrape lap count", "url", u, "error", err)
		}
		races = append(races, race.RawRace{URL: u, Laps: laps, Events: events})
	}

	s.logger.Info("Scraped season schedule", "year", s.year, "races", len(races))
	return races, nil
}

// RaceURLs returns the absolute URL of every race page for the season.
func (s *Scraper) RaceURLs(ctx context.Context) ([]string, error) {
	doc, err := s.fetch(ctx, fmt.Sprintf("%s/en/racing/%d.html", s.baseURL, s.year))
	if err != nil {
		return nil, fmt.Errorf("fetch season page: %w", err)
	}

	prefix := fmt.Sprintf("/en/racing/%d/", s.year)
	seen := make(map[string]bool)
	var urls []string
	doc.Find(selRaceCard).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !strings.HasPrefix(href, prefix) {
			return
		}
		u := s.baseURL + href
		if seen[u] {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	})

	if len(urls) == 0 {
		s.logger.Warn("No race URLs found. The website structure may have changed.", "year", s.year)
	} else {
		s.logger.Info("Found race URLs", "year", s.year, "count", len(urls))
	}
	return urls, nil
}

// Schedule returns the sessions listed on a race page. Dates are formatted
// with an explicit UTC offset. If the first session's date cannot be parsed
// the page is treated as unreadable and no events are returned; later bad
// dates are skipped.
func (s *Scraper) Schedule(ctx context.Context, raceURL string) ([]race.RawEvent, error) {
	doc, err := s.fetch(ctx, raceURL)
	if err != nil {
		return nil, err
	}

	days := texts(doc.Find(selDay))
	months := texts(doc.Find(selMonth))
	times := texts(doc.Find(selTime))
	names := texts(doc.Find(selSession))

	n := min(len(names), len(days), len(months), len(times))
	if n != len(names) {
		s.logger.Warn("Session listing is incomplete",
			"url", raceURL, "sessions", len(names), "days", len(days), "months", len(months), "times", len(times))
	}

	events := make([]race.RawEvent, 0, n)
	for i := 0; i < n; i++ {
		start, err := parseDate(s.year, months[i], days[i], times[i])
		if err != nil {
			s.logger.Warn("Error parsing date, skipping", "url", raceURL, "session", names[i], "error", err)
			if len(events) == 0 {
				return nil, nil
			}
			continue
		}
		events = append(events, race.RawEvent{Name: names[i], Date: start.Format(dateLayout)})
	}
	return events, nil
}

// Laps returns the race distance from the circuit page, or nil when the
// value is missing, not a number, or outside [30, 100].
func (s *Scraper) Laps(ctx context.Context, raceURL string) (*int, error) {
	doc, err := s.fetch(ctx, strings.TrimSuffix(raceURL, ".html")+"/circuit")
	if err != nil {
		return nil, err
	}

	headings := texts(doc.Find(selLaps))
	if len(headings) < 2 {
		s.logger.Warn("Lap count not found", "url", raceURL)
		return nil, nil
	}
	text := headings[1]
	laps, err := strconv.Atoi(text)
	if err != nil || !isDigits(text) {
		s.logger.Warn("Laps is not a number, skipping", "url", raceURL, "laps", text)
		return nil, nil
	}
	if laps < minLaps || laps > maxLaps {
		s.logger.Warn("Laps is out of range, skipping", "url", raceURL, "laps", laps)
		return nil, nil
	}
	return &laps, nil
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func (s *Scraper) fetch(ctx context.Context, u string) (*goquery.Document, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, fmt.Errorf("GET %s returned %d: %s", u, resp.StatusCode, body)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", u, err)
	}
	return doc, nil
}

func texts(sel *goquery.Selection) []string {
	return sel.Map(func(_ int, s *goquery.Selection) string {
		return strings.TrimSpace(s.Text())
	})
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var (
	reYear  = regexp.MustCompile(`\d{4}`)
	reMonth = regexp.MustCompile(`[a-zA-Z]{3}`)
	reDay   = regexp.MustCompile(`\d{1,2}`)
	reTime  = regexp.MustCompile(`\d{2}:\d{2}`)
)

// parseDate validates each component and combines them into a UTC time.
// Each component only needs to contain a match: "Mar" in "March", "05" in
// "05-07".
func parseDate(year int, month, day, hhmm string) (time.Time, error) {
	parts := []struct {
		name  string
		value string
		re    *regexp.Regexp
	}{
		{"year", strconv.Itoa(year), reYear},
		{"month", month, reMonth},
		{"day", day, reDay},
		{"time", hhmm, reTime},
	}

	matched := make([]string, len(parts))
	for i, p := range parts {
		m := p.re.FindString(p.value)
		if m == "" {
			return time.Time{}, fmt.Errorf("invalid %s value: %q", p.name, p.value)
		}
		matched[i] = m
	}

	mon := strings.ToUpper(matched[1][:1]) + strings.ToLower(matched[1][1:])
	t, err := time.Parse("2006 Jan 2 15:04", fmt.Sprintf("%s %s %s %s", matched[0], mon, matched[2], matched[3]))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date: %w", err)
	}
	return t.UTC(), nil
}
