package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fgeck/wol-power-agent/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.doFunc != nil {
		return m.doFunc(req)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("{}")),
	}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() models.TelegramConfig {
	return models.TelegramConfig{
		BotToken: "123456:ABC-DEF",
		ChatID:   "-100123456789",
	}
}

func pulseEvent() models.Event {
	return models.Event{
		Kind:      models.EventPowerPulse,
		Time:      time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		TargetMAC: "aa:bb:cc:dd:ee:ff",
		Source:    "192.168.1.20:40000",
		Message:   "magic packet received, power button pressed",
	}
}

func TestSendNotification_Success(t *testing.T) {
	var capturedRequest *http.Request
	var capturedBody sendMessageRequest

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			capturedRequest = req
			body, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(body, &capturedBody)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("{\"ok\":true}")),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), testConfig(), httpClient, "https://api.telegram.org")

	result, err := svc.SendNotification(context.Background(), pulseEvent())

	require.NoError(t, err)
	assert.True(t, result.Delivered)
	assert.Nil(t, result.Error)

	// Verify request
	assert.Equal(t, http.MethodPost, capturedRequest.Method)
	assert.Contains(t, capturedRequest.URL.String(), "/bot123456:ABC-DEF/sendMessage")
	assert.Equal(t, "application/json", capturedRequest.Header.Get("Content-Type"))

	// Verify body
	assert.Equal(t, "-100123456789", capturedBody.ChatID)
	assert.Equal(t, "HTML", capturedBody.ParseMode)
	assert.Contains(t, capturedBody.Text, "Power Button Pressed")
}

func TestSendNotification_HTTPError(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("network error")
		},
	}

	svc := NewWithClient(testLogger(), testConfig(), httpClient, "https://api.telegram.org")

	result, err := svc.SendNotification(context.Background(), pulseEvent())

	require.NoError(t, err)
	assert.False(t, result.Delivered)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "failed to send request")
}

func TestSendNotification_APIError(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusBadRequest,
				Body:       io.NopCloser(strings.NewReader("{\"ok\":false}")),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), testConfig(), httpClient, "https://api.telegram.org")

	result, err := svc.SendNotification(context.Background(), pulseEvent())

	require.NoError(t, err)
	assert.False(t, result.Delivered)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "status 400")
}

func TestSendNotification_ContextCancelled(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, req.Context().Err()
		},
	}

	svc := NewWithClient(testLogger(), testConfig(), httpClient, "https://api.telegram.org")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.SendNotification(ctx, pulseEvent())

	require.NoError(t, err)
	assert.False(t, result.Delivered)
	assert.ErrorIs(t, result.Error, context.Canceled)
}

func TestDeliver(t *testing.T) {
	ok := NewWithClient(testLogger(), testConfig(), &mockHTTPClient{}, "https://api.telegram.org")
	assert.NoError(t, ok.Deliver(context.Background(), pulseEvent()))
	assert.Equal(t, "telegram", ok.Name())

	failing := NewWithClient(testLogger(), testConfig(), &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusUnauthorized, Body: io.NopCloser(strings.NewReader(""))}, nil
		},
	}, "https://api.telegram.org")
	assert.ErrorContains(t, failing.Deliver(context.Background(), pulseEvent()), "status 401")
}

func TestFormatMessage(t *testing.T) {
	svc := NewWithClient(testLogger(), testConfig(), &mockHTTPClient{}, "")
	svc.host = "pi-agent"

	tests := []struct {
		name     string
		event    models.Event
		contains []string
		excludes []string
	}{
		{
			name:     "power pulse",
			event:    pulseEvent(),
			contains: []string{"Power Button Pressed", "pi-agent", "aa:bb:cc:dd:ee:ff", "192.168.1.20:40000", "2024-01-15 10:30:00"},
			excludes: []string{"Failures"},
		},
		{
			name:     "connected",
			event:    models.Event{Kind: models.EventConnected, Time: time.Now(), Message: "connected to homelab"},
			contains: []string{"Wi-Fi Connected", "connected to homelab"},
			excludes: []string{"From:", "Failures"},
		},
		{
			name:     "connection failed",
			event:    models.Event{Kind: models.EventConnectionFailed, Time: time.Now(), Failures: 3, Threshold: 10, Message: "no network with SSID <homelab>"},
			contains: []string{"Wi-Fi Connection Failed", "Failures:</b> 3/10", "&lt;homelab&gt;"},
		},
		{
			name:     "fatal restart",
			event:    models.Event{Kind: models.EventFatalRestart, Time: time.Now(), Failures: 10, Threshold: 10},
			contains: []string{"Restarting Agent", "10/10"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := svc.formatMessage(tt.event)
			for _, s := range tt.contains {
				assert.Contains(t, text, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, text, s)
			}
		})
	}
}

func TestEscapeHTML(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "hello"},
		{"<script>", "&lt;script&gt;"},
		{"a & b", "a &amp; b"},
		{"<>&", "&lt;&gt;&amp;"},
		{"normal text", "normal text"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeHTML(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}
