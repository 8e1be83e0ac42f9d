package main

import (
	"context"
	"time"

	"github.com/fgeck/wol-power-agent/internal/config"
	"github.com/fgeck/wol-power-agent/internal/models"
	"github.com/fgeck/wol-power-agent/internal/services/wol"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	wakeMAC       string
	wakeBroadcast string
	wakePort      int
	wakeCount     int
	wakeInterval  time.Duration
)

var wakeCmd = &cobra.Command{
	Use:   "wake",
	Short: "Send a magic packet",
	Long: `Send Wake-on-LAN magic packets, e.g. to test an agent from another host.
Without --mac the TARGET_MAC from the settings file is used.`,
	RunE: sendWake,
}

func init() {
	wakeCmd.Flags().StringVar(&wakeMAC, "mac", "", "target MAC address (default: TARGET_MAC from settings)")
	wakeCmd.Flags().StringVar(&wakeBroadcast, "broadcast", wol.DefaultBroadcastIP, "broadcast or unicast address to send to")
	wakeCmd.Flags().IntVar(&wakePort, "port", wol.DefaultPort, "UDP port")
	wakeCmd.Flags().IntVar(&wakeCount, "count", 1, "number of packets to send")
	wakeCmd.Flags().DurationVar(&wakeInterval, "interval", 100*time.Millisecond, "delay between packets")
}

func sendWake(cmd *cobra.Command, args []string) error {
	mac := wakeMAC
	if mac == "" {
		cfg := config.NewParser(component("config")).Load(configFile)
		mac = cfg.TargetMAC.String()
	}

	svc := wol.New(component("wol"))
	result, err := svc.Send(context.Background(), models.WakeRequest{
		MACAddress:  mac,
		BroadcastIP: wakeBroadcast,
		Port:        wakePort,
		Count:       wakeCount,
		Interval:    wakeInterval,
	})
	if err != nil {
		return err
	}
	if result.Error != nil {
		log.Error().Err(result.Error).Int("sent", result.PacketsSent).Msg("failed to send magic packet")
		return result.Error
	}

	log.Info().
		Str("mac", mac).
		Int("packets", result.PacketsSent).
		Dur("duration", result.Duration).
		Msg("magic packets sent")
	return nil
}
