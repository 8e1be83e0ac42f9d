package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/wol-power-agent/internal/config"
	"github.com/fgeck/wol-power-agent/internal/metrics"
	"github.com/fgeck/wol-power-agent/internal/models"
	"github.com/fgeck/wol-power-agent/internal/services/agent"
	"github.com/fgeck/wol-power-agent/internal/services/listener"
	"github.com/fgeck/wol-power-agent/internal/services/mqtt"
	"github.com/fgeck/wol-power-agent/internal/services/network"
	"github.com/fgeck/wol-power-agent/internal/services/notifier"
	"github.com/fgeck/wol-power-agent/internal/services/power"
	"github.com/fgeck/wol-power-agent/internal/services/supervisor"
	"github.com/fgeck/wol-power-agent/internal/services/telegram"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent",
	Long: `Run the agent until it is stopped or has to restart:
1. Connect to Wi-Fi, retrying every second
2. Listen for magic packets on UDP port 9 and press the power button
   when the target machine is off
3. Check the link every WIFI_FREQ_CHECK seconds and reconnect if it dropped
4. After WIFI_FAILED_ATTEMPTS consecutive failures, reboot (RESTART_MODE=reboot)
   or exit non-zero (RESTART_MODE=exit)`,
	RunE: runAgent,
}

func runAgent(cmd *cobra.Command, args []string) error {
	// Load settings; a missing file means defaults
	cfg := config.NewParser(component("config")).Load(configFile)

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid settings")
		return err
	}

	log.Info().
		Str("config", configFile).
		Str("mac", cfg.TargetMAC.String()).
		Str("ssid", cfg.WiFi.SSID).
		Str("restart_mode", string(cfg.RestartMode)).
		Msg("settings loaded")

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	gpio, err := power.OpenGPIO(cfg.GPIO)
	if err != nil {
		log.Error().Err(err).Str("chip", cfg.GPIO.Chip).Msg("failed to open GPIO")
		return err
	}
	defer func() {
		if err := gpio.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to release GPIO")
		}
	}()

	powerSvc := power.New(component("power"), gpio.Pins())
	m := metrics.New()

	sinks, closeSinks := notificationSinks(ctx, cfg)
	defer closeSinks()
	dispatcher := notifier.New(component("notifier"), m, sinks...)

	var restarter supervisor.Restarter
	if cfg.RestartMode == models.RestartReboot {
		restarter = network.NewRebooter(component("restart"))
	}

	sup := supervisor.New(component("supervisor"), supervisor.Config{
		Network:   network.New(component("network")),
		Signaler:  powerSvc,
		Restarter: restarter,
		Notifier:  dispatcher,
		Metrics:   m,
		Request: models.ConnectRequest{
			SSID:      cfg.WiFi.SSID,
			Password:  cfg.WiFi.Password,
			Interface: cfg.WiFi.Interface,
			Static:    cfg.Static,
		},
		TargetMAC:      cfg.TargetMAC.String(),
		CheckInterval:  cfg.CheckInterval,
		FailThreshold:  cfg.FailThreshold,
		ConnectTimeout: cfg.WiFi.ConnectTimeout,
	})

	listen := func(ctx context.Context) (agent.Runner, error) {
		receiver, err := listener.ListenUDP(ctx, fmt.Sprintf("0.0.0.0:%d", listener.Port), listener.DefaultPollInterval)
		if err != nil {
			return nil, err
		}
		return listener.New(component("listener"), listener.Config{
			Target:   cfg.TargetMAC,
			Receiver: receiver,
			Power:    powerSvc,
			State:    sup,
			Notifier: dispatcher,
			Metrics:  m,
		}), nil
	}

	background := []agent.Runner{dispatcher}
	if cfg.MetricsAddr != "" {
		background = append(background, agent.RunnerFunc(func(ctx context.Context) error {
			// The agent keeps working without its metrics endpoint.
			if err := m.Serve(ctx, cfg.MetricsAddr, component("metrics")); err != nil {
				log.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics server failed")
			}
			return nil
		}))
	}

	agentSvc := agent.New(component("agent"), agent.Config{
		Supervisor: sup,
		Listen:     listen,
		Background: background,
	})

	if err := agentSvc.Run(ctx); err != nil {
		if errors.Is(err, supervisor.ErrFatalRestart) {
			log.Error().Msg("exiting so the service manager can restart the agent")
		} else {
			log.Error().Err(err).Msg("agent failed")
		}
		return err
	}

	return nil
}

// notificationSinks builds the configured sinks. The returned func releases
// them.
func notificationSinks(ctx context.Context, cfg *models.Settings) ([]notifier.Sink, func()) {
	var sinks []notifier.Sink
	closeFn := func() {}

	if cfg.Telegram != nil {
		sinks = append(sinks, telegram.New(component("telegram"), *cfg.Telegram))
	}

	if cfg.MQTT != nil {
		mqttSvc := mqtt.New(component("mqtt"), *cfg.MQTT)
		// The client keeps retrying in the background.
		if err := mqttSvc.Connect(ctx); err != nil {
			log.Warn().Err(err).Str("broker", cfg.MQTT.Broker).Msg("MQTT broker not reachable yet")
		}
		sinks = append(sinks, mqttSvc)
		closeFn = func() { _ = mqttSvc.Close() }
	}

	return sinks, closeFn
}
