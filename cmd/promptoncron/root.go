package main

import (
	"github.com/spf13/cobra"

	"github.com/dikwickley/promptoncron/internal/version"
)

var (
	configPath string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "promptoncron",
	Short: "Run natural-language prompts on a cron schedule",
	Long: `promptoncron runs user-defined prompts on cron schedules, optionally with
live web search, and stores each run's structured table result.

The api, scheduler and worker loops only talk through the SQLite store, so
they can run as separate processes or together with "all".`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file (environment variables override it)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	// Add subcommands
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(schedulerCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(allCmd)
	rootCmd.AddCommand(versionCmd)
}
