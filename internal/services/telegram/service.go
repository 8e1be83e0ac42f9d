// Package telegram delivers agent events as Telegram messages.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fgeck/wol-power-agent/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for Telegram notification operations.
type Service interface {
	SendNotification(ctx context.Context, ev models.Event) (*models.NotifyResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	cfg        models.TelegramConfig
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
	host       string
}

// New creates a new Telegram service.
func New(logger zerolog.Logger, cfg models.TelegramConfig) *Impl {
	return NewWithClient(logger, cfg, &http.Client{Timeout: 30 * time.Second}, "https://api.telegram.org")
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, cfg models.TelegramConfig, httpClient HTTPClient, baseURL string) *Impl {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Impl{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
		host:       host,
	}
}

// sendMessageRequest is the request body for Telegram sendMessage API.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Name identifies the sink in logs and metrics.
func (s *Impl) Name() string {
	return "telegram"
}

// Deliver sends ev and reports any delivery failure as an error.
func (s *Impl) Deliver(ctx context.Context, ev models.Event) error {
	result, err := s.SendNotification(ctx, ev)
	if err != nil {
		return err
	}
	return result.Error
}

// SendNotification sends an agent event via Telegram.
func (s *Impl) SendNotification(ctx context.Context, ev models.Event) (*models.NotifyResult, error) {
	result := &models.NotifyResult{}

	s.logger.Debug().
		Str("chat_id", s.cfg.ChatID).
		Str("event", string(ev.Kind)).
		Msg("sending Telegram notification")

	reqBody := sendMessageRequest{
		ChatID:    s.cfg.ChatID,
		Text:      s.formatMessage(ev),
		ParseMode: "HTML",
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.cfg.BotToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return result, nil
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("failed to send request: %w", err)
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("telegram API returned status %d", resp.StatusCode)
		return result, nil
	}

	result.Delivered = true
	s.logger.Debug().Msg("Telegram notification sent")

	return result, nil
}

func (s *Impl) formatMessage(ev models.Event) string {
	var b bytes.Buffer

	switch ev.Kind {
	case models.EventPowerPulse:
		b.WriteString("⚡ <b>Power Button Pressed</b>\n\n")
	case models.EventConnected:
		b.WriteString("📶 <b>Wi-Fi Connected</b>\n\n")
	case models.EventConnectionFailed:
		b.WriteString("⚠️ <b>Wi-Fi Connection Failed</b>\n\n")
	case models.EventFatalRestart:
		b.WriteString("❌ <b>Restarting Agent</b>\n\n")
	default:
		b.WriteString(fmt.Sprintf("ℹ️ <b>%s</b>\n\n", escapeHTML(string(ev.Kind))))
	}

	b.WriteString(fmt.Sprintf("🖥 <b>Host:</b> %s\n", escapeHTML(s.host)))
	if ev.TargetMAC != "" {
		b.WriteString(fmt.Sprintf("🎯 <b>Target:</b> <code>%s</code>\n", ev.TargetMAC))
	}
	b.WriteString(fmt.Sprintf("⏰ <b>Time:</b> %s\n", ev.Time.Format("2006-01-02 15:04:05")))

	if ev.Source != "" {
		b.WriteString(fmt.Sprintf("📨 <b>From:</b> %s\n", escapeHTML(ev.Source)))
	}
	if ev.Kind == models.EventConnectionFailed || ev.Kind == models.EventFatalRestart {
		b.WriteString(fmt.Sprintf("🔁 <b>Failures:</b> %d/%d\n", ev.Failures, ev.Threshold))
	}
	if ev.Message != "" {
		b.WriteString(fmt.Sprintf("\n<code>%s</code>\n", escapeHTML(ev.Message)))
	}

	return b.String()
}

// escapeHTML escapes HTML special characters.
func escapeHTML(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
