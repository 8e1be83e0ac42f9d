// Package config provides settings file parsing.
package config

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/wol-power-agent/internal/models"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// DefaultFile is the settings file read when no --config flag is given.
const DefaultFile = "settings.ini"

// EnvPrefix prefixes environment variables that override file values,
// e.g. WOLAGENT_TARGET_MAC.
const EnvPrefix = "WOLAGENT"

// Settings keys.
const (
	KeyTargetMAC        = "TARGET_MAC"
	KeyWiFiSSID         = "WIFI_SSID"
	KeyWiFiPassword     = "WIFI_PASSWORD"
	KeyWiFiInterface    = "WIFI_INTERFACE"
	KeyStaticIP         = "STATIC_IP"
	KeyStaticMask       = "STATIC_SUBNET_MASK"
	KeyStaticGateway    = "STATIC_GATEWAY"
	KeyStaticDNS        = "STATIC_DNS"
	KeyCheckInterval    = "WIFI_FREQ_CHECK"
	KeyFailedAttempts   = "WIFI_FAILED_ATTEMPTS"
	KeyConnectTimeout   = "CONNECT_TIMEOUT"
	KeyGPIOChip         = "GPIO_CHIP"
	KeyTransistorPin    = "TRANSISTOR_PIN"
	KeyDeviceStatePin   = "DEVICE_STATE_PIN"
	KeyRedLEDPin        = "LED_RED_PIN"
	KeyGreenLEDPin      = "LED_GREEN_PIN"
	KeyBlueLEDPin       = "LED_BLUE_PIN"
	KeyRestartMode      = "RESTART_MODE"
	KeyMetricsAddr      = "METRICS_ADDR"
	KeyTelegramBotToken = "TELEGRAM_BOT_TOKEN"
	KeyTelegramChatID   = "TELEGRAM_CHAT_ID"
	KeyMQTTBroker       = "MQTT_BROKER"
	KeyMQTTTopic        = "MQTT_TOPIC"
	KeyMQTTClientID     = "MQTT_CLIENT_ID"
	KeyMQTTUsername     = "MQTT_USERNAME"
	KeyMQTTPassword     = "MQTT_PASSWORD"
)

// Built-in defaults.
const (
	DefaultTargetMAC      = "00:00:00:00:00:00"
	DefaultWiFiSSID       = "your-fallback-wifi-ssid"
	DefaultWiFiPassword   = "your-fallback-wifi-password"
	DefaultWiFiInterface  = "wlan0"
	DefaultCheckInterval  = 10 * time.Second
	DefaultFailThreshold  = 10
	DefaultConnectTimeout = 30 * time.Second
	DefaultGPIOChip       = "gpiochip0"
	DefaultMQTTTopic      = "wol-power-agent"
	DefaultMQTTClientID   = "wol-power-agent"
)

// Parser handles settings file parsing.
type Parser struct {
	v      *viper.Viper
	logger zerolog.Logger
}

// NewParser creates a new settings parser.
func NewParser(logger zerolog.Logger) *Parser {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return &Parser{v: v, logger: logger}
}

// Load reads the settings file and falls back to defaults for everything if
// the file is missing or unreadable. It never fails.
func (p *Parser) Load(path string) *models.Settings {
	cfg, err := p.LoadFile(path)
	if err != nil {
		p.logger.Warn().Err(err).Str("file", path).Msg("using default settings")
		return p.parse()
	}
	return cfg
}

// LoadFile loads settings from a file path.
func (p *Parser) LoadFile(path string) (*models.Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}
	defer f.Close()

	if err := p.read(f); err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	return p.parse(), nil
}

// LoadReader loads settings from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Settings, error) {
	if err := p.read(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	return p.parse(), nil
}

// read merges KEY=VALUE lines into viper. Blank lines and lines starting with
// '#' are skipped, as are lines without '='. The value is everything after
// the first '=', so '#' and '=' inside a value are kept.
func (p *Parser) read(r io.Reader) error {
	entries := make(map[string]any)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			p.logger.Warn().Int("line", lineNo).Msg("skipping malformed settings line")
			continue
		}
		entries[key] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	return p.v.MergeConfigMap(entries)
}

// Defaults returns the built-in settings.
func Defaults() *models.Settings {
	mac, _ := ParseMAC(DefaultTargetMAC)
	return &models.Settings{
		TargetMAC: mac,
		WiFi: models.WiFiSettings{
			SSID:           DefaultWiFiSSID,
			Password:       DefaultWiFiPassword,
			Interface:      DefaultWiFiInterface,
			ConnectTimeout: DefaultConnectTimeout,
		},
		CheckInterval: DefaultCheckInterval,
		FailThreshold: DefaultFailThreshold,
		GPIO: models.GPIOSettings{
			Chip:           DefaultGPIOChip,
			TransistorPin:  13,
			DeviceStatePin: 14,
			RedLEDPin:      5,
			GreenLEDPin:    6,
			BlueLEDPin:     7,
		},
		RestartMode: models.RestartReboot,
	}
}

//nolint:gocyclo // one branch per settings key
func (p *Parser) parse() *models.Settings {
	cfg := Defaults()

	if s := p.get(KeyTargetMAC); s != "" {
		mac, err := ParseMAC(s)
		if err != nil {
			p.invalid(KeyTargetMAC, s, err)
		} else {
			cfg.TargetMAC = mac
		}
	}

	if s := p.get(KeyWiFiSSID); s != "" {
		cfg.WiFi.SSID = s
	}
	if s := p.get(KeyWiFiPassword); s != "" {
		cfg.WiFi.Password = s
	}
	if s := p.get(KeyWiFiInterface); s != "" {
		cfg.WiFi.Interface = s
	}

	cfg.Static = p.parseStatic()

	cfg.CheckInterval = p.seconds(KeyCheckInterval, cfg.CheckInterval)
	cfg.WiFi.ConnectTimeout = p.seconds(KeyConnectTimeout, cfg.WiFi.ConnectTimeout)
	cfg.FailThreshold = p.positive(KeyFailedAttempts, cfg.FailThreshold)

	if s := p.get(KeyGPIOChip); s != "" {
		cfg.GPIO.Chip = s
	}
	cfg.GPIO.TransistorPin = p.offset(KeyTransistorPin, cfg.GPIO.TransistorPin)
	cfg.GPIO.DeviceStatePin = p.offset(KeyDeviceStatePin, cfg.GPIO.DeviceStatePin)
	cfg.GPIO.RedLEDPin = p.offset(KeyRedLEDPin, cfg.GPIO.RedLEDPin)
	cfg.GPIO.GreenLEDPin = p.offset(KeyGreenLEDPin, cfg.GPIO.GreenLEDPin)
	cfg.GPIO.BlueLEDPin = p.offset(KeyBlueLEDPin, cfg.GPIO.BlueLEDPin)

	if s := p.get(KeyRestartMode); s != "" {
		switch mode := models.RestartMode(strings.ToLower(s)); mode {
		case models.RestartReboot, models.RestartExit:
			cfg.RestartMode = mode
		default:
			p.invalid(KeyRestartMode, s, fmt.Errorf("must be one of: reboot, exit"))
		}
	}

	cfg.MetricsAddr = p.get(KeyMetricsAddr)

	// Telegram is enabled only when both token and chat are present.
	token, chat := p.get(KeyTelegramBotToken), p.get(KeyTelegramChatID)
	switch {
	case token != "" && chat != "":
		cfg.Telegram = &models.TelegramConfig{BotToken: token, ChatID: chat}
	case token != "" || chat != "":
		p.logger.Warn().Msg("telegram needs both TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID, notifications disabled")
	}

	if broker := p.get(KeyMQTTBroker); broker != "" {
		cfg.MQTT = &models.MQTTConfig{
			Broker:   broker,
			Topic:    p.get(KeyMQTTTopic),
			ClientID: p.get(KeyMQTTClientID),
			Username: p.get(KeyMQTTUsername),
			Password: p.get(KeyMQTTPassword),
		}
		if cfg.MQTT.Topic == "" {
			cfg.MQTT.Topic = DefaultMQTTTopic
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = DefaultMQTTClientID
		}
	}

	return cfg
}

func (p *Parser) parseStatic() *models.StaticAddress {
	ip, mask, gw := p.get(KeyStaticIP), p.get(KeyStaticMask), p.get(KeyStaticGateway)
	if ip == "" && mask == "" && gw == "" {
		return nil
	}
	if ip == "" || mask == "" || gw == "" {
		p.logger.Warn().Msg("static addressing needs STATIC_IP, STATIC_SUBNET_MASK and STATIC_GATEWAY, using DHCP")
		return nil
	}

	static := &models.StaticAddress{}
	var err error
	if static.Address, err = parseIPv4(ip); err != nil {
		p.invalid(KeyStaticIP, ip, err)
		return nil
	}
	if static.Mask, err = parseMask(mask); err != nil {
		p.invalid(KeyStaticMask, mask, err)
		return nil
	}
	if static.Gateway, err = parseIPv4(gw); err != nil {
		p.invalid(KeyStaticGateway, gw, err)
		return nil
	}
	if dns := p.get(KeyStaticDNS); dns != "" {
		if static.DNS, err = parseIPv4(dns); err != nil {
			p.invalid(KeyStaticDNS, dns, err)
		}
	}

	return static
}

func (p *Parser) get(key string) string {
	return strings.TrimSpace(p.v.GetString(strings.ToLower(key)))
}

func (p *Parser) positive(key string, def int) int {
	s := p.get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		p.invalid(key, s, fmt.Errorf("must be a positive integer"))
		return def
	}
	return n
}

func (p *Parser) seconds(key string, def time.Duration) time.Duration {
	n := p.positive(key, -1)
	if n < 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func (p *Parser) offset(key string, def int) int {
	s := p.get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		p.invalid(key, s, fmt.Errorf("must be a GPIO line offset"))
		return def
	}
	return n
}

func (p *Parser) invalid(key, value string, err error) {
	p.logger.Warn().
		Str("key", key).
		Str("value", value).
		Err(err).
		Msg("invalid setting, using default")
}

// ParseMAC parses a 6-byte hardware address written as hex, with or without
// ':' or '-' separators.
func ParseMAC(s string) (net.HardwareAddr, error) {
	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid MAC address %q: %w", s, err)
	}
	if len(b) != 6 {
		return nil, fmt.Errorf("invalid MAC address %q: want 6 bytes, got %d", s, len(b))
	}
	return net.HardwareAddr(b), nil
}

func parseIPv4(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, err
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("not an IPv4 address")
	}
	return addr, nil
}

func parseMask(s string) (netip.Addr, error) {
	addr, err := parseIPv4(s)
	if err != nil {
		return netip.Addr{}, err
	}
	b := addr.As4()
	if ones, bits := net.IPv4Mask(b[0], b[1], b[2], b[3]).Size(); ones == 0 && bits == 0 {
		return netip.Addr{}, fmt.Errorf("not a contiguous subnet mask")
	}
	return addr, nil
}

// Validate performs validation on the loaded settings.
func Validate(cfg *models.Settings) error {
	if cfg == nil {
		return fmt.Errorf("settings are nil")
	}

	if len(cfg.TargetMAC) != 6 {
		return fmt.Errorf("TARGET_MAC must be 6 bytes")
	}

	if cfg.WiFi.SSID == "" {
		return fmt.Errorf("WIFI_SSID is required")
	}

	if cfg.CheckInterval <= 0 {
		return fmt.Errorf("WIFI_FREQ_CHECK must be positive")
	}

	if cfg.FailThreshold < 1 {
		return fmt.Errorf("WIFI_FAILED_ATTEMPTS must be at least 1")
	}

	if cfg.WiFi.ConnectTimeout <= 0 {
		return fmt.Errorf("CONNECT_TIMEOUT must be positive")
	}

	if cfg.RestartMode != models.RestartReboot && cfg.RestartMode != models.RestartExit {
		return fmt.Errorf("RESTART_MODE must be one of: reboot, exit")
	}

	return nil
}
