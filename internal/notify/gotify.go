// Package notify delivers push notifications through a Gotify server.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"briefer/internal/logging"
)

// Sender is the fire-and-forget notification contract the runner consumes.
type Sender interface {
	Send(ctx context.Context, title, message string, priority int) error
}

// GotifyClient posts messages to a Gotify server.
type GotifyClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     logging.Logger
}

// NewGotifyClient creates a client for the given server URL and app token.
func NewGotifyClient(baseURL, token string) *GotifyClient {
	return &GotifyClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logging.NewComponentLogger("gotify"),
	}
}

// Configured reports whether both server URL and token are set.
func (c *GotifyClient) Configured() bool {
	return c.baseURL != "" && c.token != ""
}

// Send posts one message. Callers treat failure as non-fatal.
func (c *GotifyClient) Send(ctx context.Context, title, message string, priority int) error {
	if !c.Configured() {
		return fmt.Errorf("gotify is not configured")
	}

	form := url.Values{}
	form.Set("title", title)
	form.Set("message", message)
	form.Set("priority", strconv.Itoa(priority))

	endpoint := fmt.Sprintf("%s/message?token=%s", c.baseURL, url.QueryEscape(c.token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gotify request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gotify returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	c.logger.Info("Notification sent: %s", title)
	return nil
}
