// Package commands implements the CLI commands for bigshuf.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var configFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "bigshuf",
	Short: "Shuffle lines of files too large for memory",
	Long: `bigshuf shuffles the lines of arbitrarily large files using bounded memory.

The input is split into chunks that fit in memory, each chunk is shuffled
independently, and the shuffled chunks are interleaved into the output with
draws weighted by how many records each chunk still holds.

Use "bigshuf [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetConfigFile returns the --config flag value.
func GetConfigFile() string {
	return configFile
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to config file (default: $XDG_CONFIG_HOME/bigshuf/config.yaml)")

	rootCmd.AddCommand(shuffleCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}
