// Package mqtt publishes agent events to an MQTT broker.
//
// Events go to <topic>/events/<kind> as JSON with QoS 1. The agent's
// availability is kept as a retained message on <topic>/status, with a Last
// Will so subscribers see "offline" if the agent dies without a clean
// disconnect.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fgeck/wol-power-agent/internal/models"
	"github.com/rs/zerolog"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	reconnectInterval        = 5 * time.Second

	eventQoS byte = 1
)

var (
	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")
)

// Client is the subset of the paho client used by the sink.
type Client interface {
	Connect() pahomqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
}

// Impl publishes events through a paho client.
type Impl struct {
	cfg    models.MQTTConfig
	client Client
	logger zerolog.Logger
}

// New creates an MQTT sink. Call Connect before delivering events.
func New(logger zerolog.Logger, cfg models.MQTTConfig) *Impl {
	return NewWithClient(logger, cfg, pahomqtt.NewClient(buildClientOptions(cfg)))
}

// NewWithClient creates an MQTT sink with a custom client (for testing).
func NewWithClient(logger zerolog.Logger, cfg models.MQTTConfig, client Client) *Impl {
	return &Impl{
		cfg:    cfg,
		client: client,
		logger: logger.With().Str("broker", cfg.Broker).Logger(),
	}
}

func buildClientOptions(cfg models.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	// With ConnectRetry, publishes made before the first connection are
	// queued and flushed once the broker is reachable.
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(reconnectInterval)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	opts.SetWill(statusTopic(cfg.Topic), statusPayload(cfg.ClientID, "offline"), eventQoS, true)

	return opts
}

func statusTopic(prefix string) string {
	return prefix + "/status"
}

func eventTopic(prefix string, kind models.EventKind) string {
	return fmt.Sprintf("%s/events/%s", prefix, kind)
}

func statusPayload(clientID, status string) string {
	return fmt.Sprintf(`{"status":"%s","client_id":"%s"}`, status, clientID)
}

// eventPayload is the JSON body published for each event.
type eventPayload struct {
	Kind      string    `json:"kind"`
	Time      time.Time `json:"time"`
	TargetMAC string    `json:"target_mac,omitempty"`
	Source    string    `json:"source,omitempty"`
	Failures  int       `json:"failures"`
	Threshold int       `json:"threshold"`
	Message   string    `json:"message,omitempty"`
}

// Connect starts the connection to the broker and publishes the online
// status. The client keeps retrying in the background if the broker is not
// reachable within ctx or the connect timeout.
func (s *Impl) Connect(ctx context.Context) error {
	s.logger.Info().Str("topic", s.cfg.Topic).Msg("connecting to MQTT broker")

	if err := wait(ctx, s.client.Connect(), defaultConnectTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	if err := s.publish(ctx, statusTopic(s.cfg.Topic), true, statusPayload(s.cfg.ClientID, "online")); err != nil {
		return err
	}

	s.logger.Info().Msg("connected to MQTT broker")
	return nil
}

// Name identifies the sink in logs and metrics.
func (s *Impl) Name() string {
	return "mqtt"
}

// Deliver publishes ev to its event topic.
func (s *Impl) Deliver(ctx context.Context, ev models.Event) error {
	payload, err := json.Marshal(eventPayload{
		Kind:      string(ev.Kind),
		Time:      ev.Time.UTC(),
		TargetMAC: ev.TargetMAC,
		Source:    ev.Source,
		Failures:  ev.Failures,
		Threshold: ev.Threshold,
		Message:   ev.Message,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return s.publish(ctx, eventTopic(s.cfg.Topic, ev.Kind), false, payload)
}

// Close publishes the offline status and disconnects.
func (s *Impl) Close() error {
	if s.client.IsConnectionOpen() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
		defer cancel()
		if err := s.publish(ctx, statusTopic(s.cfg.Topic), true, statusPayload(s.cfg.ClientID, "offline")); err != nil {
			s.logger.Warn().Err(err).Msg("failed to publish offline status")
		}
	}

	s.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

func (s *Impl) publish(ctx context.Context, topic string, retained bool, payload interface{}) error {
	token := s.client.Publish(topic, eventQoS, retained, payload)
	if err := wait(ctx, token, defaultPublishTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

func wait(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timeout after %v", timeout)
	}
}
