package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolrelay/toolrelay/internal/config"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize configuration",
	RunE:  runOnboard,
}

func runOnboard(_ *cobra.Command, _ []string) error {
	cfgPath := configPath()

	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Printf("Config already exists at %s\n", cfgPath)
		fmt.Printf("Press Enter to refresh (keep existing values) or Ctrl+C to cancel: ")
		fmt.Scanln()
		existing, loadErr := config.Load(cfgPath)
		if loadErr != nil {
			def := config.DefaultConfig()
			existing = &def
		}
		if err := config.Save(existing, cfgPath); err != nil {
			return err
		}
		fmt.Printf("✓ Config refreshed at %s\n", cfgPath)
	} else {
		cfg := config.DefaultConfig()
		if err := config.Save(&cfg, cfgPath); err != nil {
			return err
		}
		fmt.Printf("✓ Created config at %s\n", cfgPath)
	}

	fmt.Printf("\n%s toolrelay is ready!\n\n", logo)
	fmt.Println("Next steps:")
	fmt.Println("  1. Export GROQ_API_KEY, or set oracle.apiKey in the config")
	fmt.Println("     Get one at: https://console.groq.com/keys")
	fmt.Printf("  2. Add your tool servers under \"servers\" in %s\n", cfgPath)
	fmt.Printf("  3. Chat: toolrelay agent -m \"What is 6 times 7?\"\n")
	return nil
}
