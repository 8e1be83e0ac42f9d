package main

import (
	"os"
	"strings"

	"github.com/fgeck/wol-power-agent/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "wol-power-agent",
	Short: "Power on a machine by pressing its power button when a Wake-on-LAN packet arrives",
	Long: `wol-power-agent runs on a small Linux board wired to the power button of a
machine that cannot wake itself. It:
  - listens for Wake-on-LAN magic packets on UDP port 9
  - presses the power button through a transistor when the machine is off
  - keeps the Wi-Fi link up and restarts after persistent failures
  - reports events to Telegram and MQTT, and metrics to Prometheus

Run it under a service manager (systemd) with the run command.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultFile, "settings file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(wakeCmd)
	rootCmd.AddCommand(pressCmd)
}

func setupLogging() {
	// Logs go to stderr, command output to stdout.
	if jsonOutput {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
