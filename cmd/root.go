// Package cmd implements the toolrelay CLI using cobra.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolrelay/toolrelay/internal/config"
)

const version = "0.1.0"
const logo = "🛰"

var (
	configFile string
	verbose    bool
	showLogs   bool
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "toolrelay",
	Short: logo + " toolrelay: one agent, many tool servers",
	Long:  logo + " toolrelay routes an LLM agent's tool calls across independently running MCP-style tool servers",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		setupLogging()
	},
	SilenceUsage: true,
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default ~/.toolrelay/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().BoolVar(&showLogs, "logs", false, "Show runtime logs")

	rootCmd.AddCommand(onboardCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(toolserverCmd)
}

func setupLogging() {
	level := slog.LevelWarn
	switch {
	case verbose:
		level = slog.LevelDebug
	case showLogs:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func configPath() string {
	if configFile != "" {
		return configFile
	}
	return config.ConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
