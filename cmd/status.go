package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolrelay/toolrelay/internal/dependency"
	"github.com/toolrelay/toolrelay/internal/providers"
)

var statusProbe bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show toolrelay status",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusProbe, "probe", true, "Start the configured servers to report their state")
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfgPath := configPath()

	fmt.Printf("%s toolrelay Status\n\n", logo)

	_, statErr := os.Stat(cfgPath)
	cfgMark := "✗"
	if statErr == nil {
		cfgMark = "✓"
	}
	fmt.Printf("Config:    %s %s\n", cfgPath, cfgMark)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  (%v)\n", err)
		return nil
	}

	oracle := providers.Resolve(cfg.Oracle)
	keyMark := "✓"
	if oracle.APIKey == "" {
		keyMark = "(no API key)"
	}
	fmt.Printf("Oracle:    %s %s %s\n", oracle.Label(), oracle.Model, keyMark)
	fmt.Printf("Endpoint:  %s\n", oracle.APIBase)
	archive := cfg.ArchivePath()
	if archive == "" {
		archive = "(off)"
	}
	fmt.Printf("Archive:   %s\n\n", archive)

	if !statusProbe {
		fmt.Printf("Servers:   %d configured\n", len(cfg.EnabledServers()))
		return nil
	}

	c, err := dependency.NewTooling(cfg, version)
	if err != nil {
		return err
	}
	defer closeContainer(c)

	startServers(context.Background(), c)
	printServers(os.Stdout, c.Servers().Servers())
	return nil
}
