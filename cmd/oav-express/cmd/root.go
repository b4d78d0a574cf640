package cmd

import (
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=..."
var Version = "dev"

var cfgFile string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "oav-express",
	Short: "Live API traffic validation service",
	Long: `oav-express validates live API traffic against OpenAPI interface definitions.
Each validation session runs in an isolated worker and flushes aggregated
per-operation statistics to the results store when it drains.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML). Settings can also be set with OAV_* environment variables")
}
