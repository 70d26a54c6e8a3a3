package notifications

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sender is the push transport. The returned status code is reported as-is;
// 200 means delivered.
type Sender interface {
	Send(ctx context.Context, message, title string) (int, error)
}

// PushoverSender sends push notifications through the Pushover messages API.
// Nil-safe: a nil sender reports ErrConfiguration without sending.
type PushoverSender struct {
	httpClient *http.Client
	endpoint   string
	token      string
	userKey    string
	logger     *slog.Logger
}

// NewPushoverSender creates a Pushover sender.
// Returns nil if token or userKey is empty (push disabled).
func NewPushoverSender(endpoint, token, userKey string, logger *slog.Logger) *PushoverSender {
	if token == "" || userKey == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PushoverSender{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		endpoint:   endpoint,
		token:      token,
		userKey:    userKey,
		logger:     logger,
	}
}

// Configured reports whether the sender has credentials. Safe on a nil sender.
func (s *PushoverSender) Configured() bool {
	return s != nil
}

// Send posts one message. A non-200 status is returned without an error.
func (s *PushoverSender) Send(ctx context.Context, message, title string) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("pushover credentials: %w", ErrConfiguration)
	}

	form := url.Values{
		"token":   {s.token},
		"user":    {s.userKey},
		"title":   {title},
		"message": {message},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("pushover request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		s.logger.Info("Notification sent successfully", "title", title)
	} else {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		s.logger.Error("Failed to send notification", "status", resp.StatusCode, "body", string(body))
	}
	return resp.StatusCode, nil
}
