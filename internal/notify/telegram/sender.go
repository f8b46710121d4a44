// Package telegram provides notification delivery via the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hookline/hookline/internal/domain"
	"github.com/hookline/hookline/internal/notify"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 10 * time.Second
	defaultAPIURL  = "https://api.telegram.org/bot%s/sendMessage"

	// Telegram allows up to 30 messages per second per bot.
	defaultRateLimit = 25.0
)

// Config holds telegram sender configuration.
type Config struct {
	Enabled   bool
	BotToken  string
	RateLimit float64 // messages per second, 0 = default
}

// Sender delivers messages to Telegram chats. The chat id is stored in the
// destination target.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	apiURL     string
}

// NewSender creates a new telegram sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled {
		if config.BotToken == "" {
			return nil, errors.New("telegram sender: bot token is required when enabled")
		}
	}

	limit := config.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}

	slog.Info("telegram sender configured",
		"enabled", config.Enabled,
		"rate_limit", limit,
	)

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(limit), 1),
		apiURL:     defaultAPIURL,
	}, nil
}

// Type returns the destination type.
func (s *Sender) Type() domain.DestinationType {
	return domain.DestinationTypeTelegram
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	ErrorCode   int    `json:"error_code,omitempty"`
}

// Send delivers the message to the chat id in msg.To.
func (s *Sender) Send(ctx context.Context, msg notify.Message) error {
	if !s.config.Enabled {
		slog.Debug("telegram sender disabled, skipping", "to", msg.To)
		return nil
	}

	if msg.To == "" {
		return &notify.PermanentError{Message: "chat id is empty"}
	}

	// Respect the bot-wide rate limit before touching the network.
	if err := s.limiter.Wait(ctx); err != nil {
		return &notify.TransientError{Message: fmt.Sprintf("rate limiter: %v", err)}
	}

	text := msg.Body
	if msg.Subject != "" {
		text = fmt.Sprintf("<b>%s</b>\n%s", msg.Subject, msg.Body)
	}

	reqBody, err := json.Marshal(sendMessageRequest{
		ChatID:    msg.To,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf(s.apiURL, s.config.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &notify.TransientError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp, msg.To)
}

func (s *Sender) handleResponse(resp *http.Response, chatID string) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var tgResp telegramResponse
	if err := json.Unmarshal(body, &tgResp); err != nil {
		// The API always answers JSON; anything else is a transport problem.
		return &notify.TransientError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("malformed response: %s", string(body)),
		}
	}

	if tgResp.OK {
		slog.Debug("telegram message sent", "chat_id", chatID)
		return nil
	}

	switch {
	case tgResp.ErrorCode == http.StatusTooManyRequests:
		return &notify.TransientError{
			Code:    tgResp.ErrorCode,
			Message: "rate limited",
		}

	case tgResp.ErrorCode >= 500:
		return &notify.TransientError{
			Code:    tgResp.ErrorCode,
			Message: tgResp.Description,
		}

	default:
		return &notify.PermanentError{
			Code:    tgResp.ErrorCode,
			Message: tgResp.Description,
		}
	}
}
