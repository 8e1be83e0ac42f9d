// Package wol sends Wake-on-LAN magic packets, for exercising an agent from
// another host.
package wol

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/fgeck/wol-power-agent/internal/config"
	"github.com/fgeck/wol-power-agent/internal/models"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

// Defaults for a wake request.
const (
	DefaultBroadcastIP = "255.255.255.255"
	DefaultPort        = 9
)

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	Send(ctx context.Context, req models.WakeRequest) (*models.WakeResult, error)
}

// Client wraps the wol library for mocking.
type Client interface {
	Wake(addr string, mac net.HardwareAddr) error
}

// DefaultClient is the default implementation using mdlayher/wol.
type DefaultClient struct{}

// Wake sends a magic packet for mac to addr (host:port).
func (c *DefaultClient) Wake(addr string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Wake(addr, mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}

	return nil
}

// Impl implements the WOL Service interface.
type Impl struct {
	wolClient Client
	logger    zerolog.Logger
}

// New creates a new WOL service.
func New(logger zerolog.Logger) *Impl {
	return NewWithClient(logger, &DefaultClient{})
}

// NewWithClient creates a new WOL service with a custom client (for testing).
func NewWithClient(logger zerolog.Logger, wolClient Client) *Impl {
	return &Impl{
		wolClient: wolClient,
		logger:    logger,
	}
}

// Send emits req.Count magic packets, req.Interval apart.
func (s *Impl) Send(ctx context.Context, req models.WakeRequest) (*models.WakeResult, error) {
	result := &models.WakeResult{}
	start := time.Now()

	mac, err := config.ParseMAC(req.MACAddress)
	if err != nil {
		result.Error = err
		return result, nil
	}

	broadcast := req.BroadcastIP
	if broadcast == "" {
		broadcast = DefaultBroadcastIP
	}
	ip := net.ParseIP(broadcast)
	if ip == nil {
		result.Error = fmt.Errorf("invalid broadcast IP: %s", broadcast)
		return result, nil
	}

	port := req.Port
	if port == 0 {
		port = DefaultPort
	}
	count := req.Count
	if count < 1 {
		count = 1
	}

	addr := net.JoinHostPort(ip.String(), strconv.Itoa(port))
	s.logger.Info().
		Str("mac", mac.String()).
		Str("addr", addr).
		Int("count", count).
		Msg("sending WOL packets")

	for i := range count {
		if i > 0 {
			select {
			case <-ctx.Done():
				result.Duration = time.Since(start)
				result.Error = ctx.Err()
				return result, nil
			case <-time.After(req.Interval):
			}
		}

		if err := s.wolClient.Wake(addr, mac); err != nil {
			result.Duration = time.Since(start)
			result.Error = err
			return result, nil //nolint:nilerr // error is stored in result struct by design
		}
		result.PacketsSent++
	}

	result.Duration = time.Since(start)
	s.logger.Info().Int("packets", result.PacketsSent).Msg("WOL packets sent successfully")

	return result, nil
}
