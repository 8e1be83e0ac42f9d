package main

import (
	"github.com/fgeck/wol-power-agent/internal/config"
	"github.com/fgeck/wol-power-agent/internal/models"
	"github.com/fgeck/wol-power-agent/internal/services/power"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	pressForce       bool
	pressIgnoreState bool
)

var pressCmd = &cobra.Command{
	Use:   "press",
	Short: "Press the power button once",
	Long: `Press the power button of the target machine.

Without flags this is a short press that powers the machine on; it is skipped
when the machine is already on. With --force the button is held for 5 seconds
to force the machine off; it is skipped when the machine is already off.
--ignore-state presses regardless of the sensed state.

Do not run this while the agent is running; both need the GPIO lines.`,
	RunE: pressButton,
}

func init() {
	pressCmd.Flags().BoolVar(&pressForce, "force", false, "long press to force the machine off")
	pressCmd.Flags().BoolVar(&pressIgnoreState, "ignore-state", false, "press even if the machine is already in the requested state")
}

func pressButton(cmd *cobra.Command, args []string) error {
	cfg := config.NewParser(component("config")).Load(configFile)

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

	want := models.DeviceOn
	if pressForce {
		want = models.DeviceOff
	}

	if !pressIgnoreState {
		state, err := powerSvc.DeviceState()
		if err != nil {
			log.Error().Err(err).Msg("cannot read device state, use --ignore-state to press anyway")
			return err
		}
		if state == want {
			log.Info().Str("state", state.String()).Msg("device is already in the requested state, not pressing")
			return nil
		}
	}

	if pressForce {
		err = powerSvc.ForceOff()
	} else {
		err = powerSvc.Pulse()
	}
	if err != nil {
		log.Error().Err(err).Msg("press failed")
		return err
	}

	log.Info().Bool("force", pressForce).Msg("power button pressed")
	return nil
}
