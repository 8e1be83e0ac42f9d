package models

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// NotifyResult holds the result of delivering an event to a sink.
type NotifyResult struct {
	Delivered bool
	Error     error
}

// MQTTConfig holds MQTT event publishing configuration.
type MQTTConfig struct {
	Broker   string // e.g. tcp://192.168.1.10:1883
	Topic    string // topic prefix
	ClientID string
	Username string
	Password string
}
