package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/fgeck/wol-power-agent/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate settings file",
	Long:  `Validate the settings file and print the effective settings without touching GPIO or the network.`,
	RunE:  validateSettings,
}

func validateSettings(cmd *cobra.Command, args []string) error {
	// Check if file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Error().Str("file", configFile).Msg("settings file not found")
		return fmt.Errorf("settings file not found: %s", configFile)
	}

	// Load settings
	parser := config.NewParser(component("config"))
	cfg, err := parser.LoadFile(configFile)
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse settings")
		return err
	}

	// Validate settings
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("settings validation failed")
		return err
	}

	if bytes.Equal(cfg.TargetMAC, make([]byte, 6)) {
		log.Warn().Msg("TARGET_MAC is 00:00:00:00:00:00, no real magic packet will match")
	}

	// Print settings summary
	fmt.Println("Settings are valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Target MAC: %s\n", cfg.TargetMAC)
	fmt.Printf("  Restart mode: %s\n", cfg.RestartMode)
	fmt.Println()
	fmt.Println("Wi-Fi:")
	fmt.Printf("  SSID: %s\n", cfg.WiFi.SSID)
	fmt.Printf("  Interface: %s\n", cfg.WiFi.Interface)
	fmt.Printf("  Check interval: %s\n", cfg.CheckInterval)
	fmt.Printf("  Failed attempts before restart: %d\n", cfg.FailThreshold)
	fmt.Printf("  Connect timeout: %s\n", cfg.WiFi.ConnectTimeout)
	if cfg.Static != nil {
		fmt.Printf("  Static address: %s\n", cfg.Static.Prefix())
		fmt.Printf("  Gateway: %s\n", cfg.Static.Gateway)
		if cfg.Static.DNS.IsValid() {
			fmt.Printf("  DNS: %s\n", cfg.Static.DNS)
		}
	} else {
		fmt.Println("  Addressing: DHCP")
	}
	fmt.Println()
	fmt.Println("GPIO:")
	fmt.Printf("  Chip: %s\n", cfg.GPIO.Chip)
	fmt.Printf("  Transistor pin: %d\n", cfg.GPIO.TransistorPin)
	fmt.Printf("  Device state pin: %d\n", cfg.GPIO.DeviceStatePin)
	fmt.Printf("  LED pins (red/green/blue): %d/%d/%d\n", cfg.GPIO.RedLEDPin, cfg.GPIO.GreenLEDPin, cfg.GPIO.BlueLEDPin)
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Metrics: %v\n", cfg.MetricsAddr != "")
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)
	fmt.Printf("  MQTT: %v\n", cfg.MQTT != nil)

	if cfg.MetricsAddr != "" {
		fmt.Println()
		fmt.Println("Metrics Configuration:")
		fmt.Printf("  Address: %s\n", cfg.MetricsAddr)
	}

	if cfg.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}

	if cfg.MQTT != nil {
		fmt.Println()
		fmt.Println("MQTT Configuration:")
		fmt.Printf("  Broker: %s\n", cfg.MQTT.Broker)
		fmt.Printf("  Topic: %s\n", cfg.MQTT.Topic)
		fmt.Printf("  Client ID: %s\n", cfg.MQTT.ClientID)
	}

	return nil
}
