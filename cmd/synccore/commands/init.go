package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/syncore/coreserver/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample synccore configuration file.

By default, the configuration file is created at
$XDG_CONFIG_HOME/synccore/config.yaml. Use --config to specify a custom path.

Examples:
  # Initialize with default location
  synccore init

  # Initialize with custom path
  synccore init --config /etc/synccore/config.yaml

  # Force overwrite an existing config file
  synccore init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if !initForce {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", configPath)
		}
	}

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to set your database and blob store")
	fmt.Println("  2. Run migrations: synccore migrate")
	fmt.Println("  3. Start the server: synccore start")
	return nil
}
