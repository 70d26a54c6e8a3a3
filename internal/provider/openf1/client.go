// Package openf1 reads the season calendar from the OpenF1 API
// (https://openf1.org). It is an alternative race source to the website
// scraper: meetings map to races, sessions map to events.
//
// OpenF1 is unauthenticated and returns bare JSON arrays. Rate limiting is
// handled via a token bucket limiter.
package openf1

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Meeting is one race weekend.
type Meeting struct {
	MeetingKey       int    `json:"meeting_key"`
	MeetingName      string `json:"meeting_name"`
	Location         string `json:"location"`
	CountryName      string `json:"country_name"`
	CircuitShortName string `json:"circuit_short_name"`
	DateStart        string `json:"date_start"`
	Year             int    `json:"year"`
}

// Session is one on-track session within a meeting.
type Session struct {
	SessionKey  int    `json:"session_key"`
	SessionName string `json:"session_name"`
	SessionType string `json:"session_type"`
	DateStart   string `json:"date_start"`
	DateEnd     string `json:"date_end"`
	MeetingKey  int    `json:"meeting_key"`
}

// Driver is one entrant in a meeting.
type Driver struct {
	DriverNumber int    `json:"driver_number"`
	FullName     string `json:"full_name"`
	NameAcronym  string `json:"name_acronym"`
	TeamName     string `json:"team_name"`
	MeetingKey   int    `json:"meeting_key"`
	SessionKey   int    `json:"session_key"`
}

// Client is the HTTP client for the OpenF1 endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates an OpenF1 HTTP client with rate limiting.
func NewClient(baseURL string, requestsPerMinute int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 30
	}
	rps := float64(requestsPerMinute) / 60.0
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     logger,
	}
}

// Meetings returns the meetings of a season.
func (c *Client) Meetings(ctx context.Context, year int) ([]Meeting, error) {
	var out []Meeting
	err := c.get(ctx, "/meetings", url.Values{"year": {strconv.Itoa(year)}}, &out)
	return out, err
}

// Sessions returns the sessions of one meeting.
func (c *Client) Sessions(ctx context.Context, meetingKey int) ([]Session, error) {
	var out []Session
	err := c.get(ctx, "/sessions", url.Values{"meeting_key": {strconv.Itoa(meetingKey)}}, &out)
	return out, err
}

// SeasonSessions returns every session of a season in one request.
func (c *Client) SeasonSessions(ctx context.Context, year int) ([]Session, error) {
	var out []Session
	err := c.get(ctx, "/sessions", url.Values{"year": {strconv.Itoa(year)}}, &out)
	return out, err
}

// Drivers returns driver entries for a meeting. OpenF1 repeats each driver
// once per session.
func (c *Client) Drivers(ctx context.Context, meetingKey int) ([]Driver, error) {
	var out []Driver
	err := c.get(ctx, "/drivers", url.Values{"meeting_key": {strconv.Itoa(meetingKey)}}, &out)
	return out, err
}

// get performs a rate-limited GET request and decodes the JSON array into out.
func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("OpenF1 request", "path", path, "params", params.Encode())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("OpenF1 %s returned %d: %s", path, resp.StatusCode, truncate(body, 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
