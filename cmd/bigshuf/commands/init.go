package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/bigshuf/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Create a commented sample configuration file.

The file is written to $XDG_CONFIG_HOME/bigshuf/config.yaml unless --config
points somewhere else. Existing files are preserved unless --force is set.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	var configPath string

	if path := GetConfigFile(); path != "" {
		if err := config.InitConfigToPath(path, initForce); err != nil {
			return err
		}
		configPath = path
	} else {
		path, err := config.InitConfig(initForce)
		if err != nil {
			return err
		}
		configPath = path
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize chunk size and workers")
	fmt.Println("  2. Shuffle a file with: bigshuf shuffle <input> <output>")
	return nil
}
