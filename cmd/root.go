package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// CLI flags shared by all subcommands
	logLevel   string // Log verbosity level
	configPath string // Optional engine config YAML; flags override its values
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "qpaging",
	Short: "Out-of-core state-vector quantum circuit runner",
	Long: "qpaging executes quantum circuits whose state vectors exceed main memory\n" +
		"by paging amplitude data to a backing store, driven by static circuit analysis.",
}

// setupLogging applies the --log flag before any subcommand work.
func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up global CLI flags
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Engine config YAML (flags override file values)")
}
