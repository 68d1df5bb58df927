package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "dittonet",
	Short: "Framed TCP server on an event loop pool",
	Long: `dittonet serves length-prefixed TCP frames on a pool of event loops,
with heartbeats, idle timeouts and a worker pool for blocking handlers.

Configuration is read from a YAML or TOML file and DITTONET_* environment
variables. .env and .env.local in the working directory are loaded first.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load(".env")
		_ = godotenv.Load(".env.local")
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of dittonet",
	Run: func(cmd *cobra.Command, args []string) {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "dittonet %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/dittonet/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
