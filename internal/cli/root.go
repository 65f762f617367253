// Package cli wires the loom command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/loom/internal/config"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "A scheduling and workflow execution engine for content generation",
	Long: `Loom runs directed graphs of content-generation steps on recurring
cron schedules, with durable checkpoints so long runs survive pauses,
failures, and process restarts.

Start the daemon:
  loom serve

Inspect a cron expression:
  loom cron next "0 9 * * *"`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./loom.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version())
		},
	})
}

// loadConfig resolves configuration from file, environment, and defaults.
func loadConfig() (*config.Config, error) {
	return config.Load(config.LoadOptions{ConfigFile: cfgFile})
}

// setupLogging configures the global zerolog logger. The --verbose flag
// overrides the configured level.
func setupLogging() {
	cfg, err := loadConfig()

	format := config.DefaultLogFormat
	level := config.DefaultLogLevel
	if err == nil {
		format = cfg.Logging.Format
		level = cfg.Logging.Level
	}

	if format == "console" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}

	parsed, parseErr := zerolog.ParseLevel(level)
	if parseErr != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

// Version returns the version string.
func Version() string {
	return fmt.Sprintf("loom version %s", "0.1.0-dev")
}
