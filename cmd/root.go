package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/logreplay/logreplay/sim/format"
)

var (
	logLevel    string // Log verbosity level
	configPath  string // Optional YAML run configuration
	formatsPath string // Optional YAML format table merged over the built-in one
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "logreplay",
	Short: "Replays web server access logs on a simulated clock",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadFormats returns the built-in format table, overridden by --formats when set.
func loadFormats() format.Table {
	table := format.DefaultTable()
	if formatsPath == "" {
		return table
	}
	extra, err := format.LoadTable(formatsPath)
	if err != nil {
		logrus.Fatalf("Failed to load formats: %v", err)
	}
	logrus.Infof("Loaded %d formats from %s", len(extra), formatsPath)
	return table.Merge(extra)
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML run configuration")
	rootCmd.PersistentFlags().StringVar(&formatsPath, "formats", "", "Path to a YAML format table merged over the built-in formats")

	registerReplayFlags(replayCmd)
	registerInputFlags(parseCmd)
	parseCmd.Flags().StringVar(&parseOutput, "output", "json", "Output encoding (json, csv)")

	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(formatsCmd)
}
