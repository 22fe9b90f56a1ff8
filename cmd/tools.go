package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolrelay/toolrelay/internal/dependency"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Start the configured servers and list the aggregated tool catalog",
	RunE:  runTools,
}

func runTools(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := dependency.NewTooling(cfg, version)
	if err != nil {
		return err
	}
	defer closeContainer(c)

	startServers(context.Background(), c)
	if !c.Registry().Available() {
		return fmt.Errorf("no tool servers are running")
	}
	printTools(os.Stdout, c)
	return nil
}
