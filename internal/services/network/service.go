// Package network brings the Wi-Fi link up through NetworkManager and reboots
// the device when asked to.
package network

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/wol-power-agent/internal/models"
	"github.com/rs/zerolog"
)

// ConnectionName is the NetworkManager profile owned by the agent.
const ConnectionName = "wol-power-agent"

// ErrNoDeadline is returned when Connect is called without a context deadline.
var ErrNoDeadline = errors.New("connect requires a context deadline")

// Service defines the interface for link operations.
type Service interface {
	Connect(ctx context.Context, req models.ConnectRequest) error
	Connected(ctx context.Context, iface string) (bool, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its output.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Impl implements the network Service interface using nmcli.
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new network service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new network service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// Connect (re)creates the agent's connection profile and activates it. The
// attempt never outlives ctx, which must carry a deadline.
func (s *Impl) Connect(ctx context.Context, req models.ConnectRequest) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		return ErrNoDeadline
	}

	logger := s.logger.With().
		Str("ssid", req.SSID).
		Str("interface", req.Interface).
		Logger()

	if req.Static != nil {
		logger.Info().Str("address", req.Static.Prefix().String()).Msg("connecting with static address")
	} else {
		logger.Info().Msg("connecting with DHCP")
	}

	// A stale profile is expected to be missing on first start.
	if out, err := s.executor.Execute(ctx, "nmcli", "connection", "delete", "id", ConnectionName); err != nil {
		logger.Debug().Err(err).Str("output", strings.TrimSpace(string(out))).Msg("no previous connection profile")
	}

	if out, err := s.executor.Execute(ctx, "nmcli", addArgs(req)...); err != nil {
		return fmt.Errorf("failed to create connection profile: %w, output: %s", err, strings.TrimSpace(string(out)))
	}

	wait := int(time.Until(deadline).Seconds())
	if wait < 1 {
		wait = 1
	}

	out, err := s.executor.Execute(ctx, "nmcli", "--wait", strconv.Itoa(wait), "connection", "up", "id", ConnectionName)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("connect timed out: %w", ctx.Err())
		}
		return fmt.Errorf("failed to activate connection: %w, output: %s", err, strings.TrimSpace(string(out)))
	}

	logger.Info().Msg("link is up")
	return nil
}

func addArgs(req models.ConnectRequest) []string {
	args := []string{
		"connection", "add",
		"type", "wifi",
		"con-name", ConnectionName,
		"ssid", req.SSID,
		"connection.autoconnect", "no",
	}
	if req.Interface != "" {
		args = append(args, "ifname", req.Interface)
	}
	if req.Password != "" {
		args = append(args, "wifi-sec.key-mgmt", "wpa-psk", "wifi-sec.psk", req.Password)
	}

	if req.Static == nil {
		return append(args, "ipv4.method", "auto")
	}

	args = append(args,
		"ipv4.method", "manual",
		"ipv4.addresses", req.Static.Prefix().String(),
		"ipv4.gateway", req.Static.Gateway.String(),
	)
	if req.Static.DNS.IsValid() {
		args = append(args, "ipv4.dns", req.Static.DNS.String())
	}
	return args
}

// Connected reports whether iface is connected according to NetworkManager.
func (s *Impl) Connected(ctx context.Context, iface string) (bool, error) {
	out, err := s.executor.Execute(ctx, "nmcli", "-t", "-f", "DEVICE,STATE", "device", "status")
	if err != nil {
		return false, fmt.Errorf("failed to query device status: %w, output: %s", err, strings.TrimSpace(string(out)))
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		device, state, ok := strings.Cut(strings.TrimSpace(scanner.Text()), ":")
		if !ok || device != iface {
			continue
		}
		// Other states include "connecting (getting IP configuration)".
		return state == "connected", nil
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("failed to parse device status: %w", err)
	}

	return false, fmt.Errorf("interface %s not found", iface)
}

// Rebooter restarts the whole device.
type Rebooter struct {
	executor CommandExecutor
	logger   zerolog.Logger
}

// NewRebooter creates a rebooter using systemctl.
func NewRebooter(logger zerolog.Logger) *Rebooter {
	return NewRebooterWithExecutor(logger, &DefaultExecutor{})
}

// NewRebooterWithExecutor creates a rebooter with a custom executor (for testing).
func NewRebooterWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Rebooter {
	return &Rebooter{executor: executor, logger: logger}
}

// Restart asks systemd to reboot the device.
func (r *Rebooter) Restart(ctx context.Context) error {
	r.logger.Warn().Msg("rebooting device")
	out, err := r.executor.Execute(ctx, "systemctl", "reboot")
	if err != nil {
		return fmt.Errorf("failed to reboot: %w, output: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
