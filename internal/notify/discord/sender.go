// Package discord provides notification delivery via Discord webhooks.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/hookline/hookline/internal/domain"
	"github.com/hookline/hookline/internal/notify"
)

const (
	defaultTimeout = 10 * time.Second

	// Discord rejects messages longer than 2000 characters.
	maxContentLength = 2000
)

// Config holds Discord sender configuration. The webhook URL is stored in
// the destination target.
type Config struct {
	Username string        // display name override (optional)
	Timeout  time.Duration // request timeout
}

// Sender delivers messages to Discord webhook URLs.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a new Discord sender.
func NewSender(config Config) *Sender {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &Sender{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Type returns the destination type.
func (s *Sender) Type() domain.DestinationType {
	return domain.DestinationTypeDiscord
}

type discordPayload struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

// Send posts the message to the Discord webhook URL in msg.To.
func (s *Sender) Send(ctx context.Context, msg notify.Message) error {
	webhookURL := msg.To
	if webhookURL == "" {
		return &notify.PermanentError{Message: "webhook URL is empty"}
	}

	content := msg.Body
	if msg.Subject != "" {
		content = fmt.Sprintf("**%s**\n%s", msg.Subject, msg.Body)
	}
	// Discord counts characters, not bytes. Cut on rune boundaries so a
	// multi-byte character is never split by the cap.
	if utf8.RuneCountInString(content) > maxContentLength {
		runes := []rune(content)
		content = string(runes[:maxContentLength-1]) + "…"
	}

	payload := discordPayload{
		Content:  content,
		Username: s.config.Username,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &notify.TransientError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp, webhookURL)
}

func (s *Sender) handleResponse(resp *http.Response, webhookURL string) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	// Discord responds 204 No Content on success.
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK:
		slog.Debug("discord message sent", "webhook", maskWebhookURL(webhookURL))
		return nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return &notify.TransientError{
			Code:    resp.StatusCode,
			Message: "rate limited",
		}

	case resp.StatusCode >= 500:
		return &notify.TransientError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("server error: %s", string(body)),
		}

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound:
		return &notify.PermanentError{
			Code:    resp.StatusCode,
			Message: "invalid or expired webhook",
		}

	case resp.StatusCode >= 400:
		return &notify.PermanentError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("rejected: %s", string(body)),
		}

	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

// maskWebhookURL hides the webhook token for logging.
func maskWebhookURL(url string) string {
	if len(url) > 40 {
		return url[:20] + "..." + url[len(url)-10:]
	}
	return url
}
