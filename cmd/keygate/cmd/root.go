// Package cmd provides the CLI commands for the Keygate console.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keygate-dev/keygate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "keygate",
	Short: "Keygate - admin console for the licensing backend",
	Long: `Keygate is the administration console for a software licensing backend.

It signs an operator in against the backend, keeps the session token fresh
with proactive renewal, and gates every console view on the operator's
capabilities and role.

Quick start:
  1. Create a config file: keygate.yaml
  2. Run: keygate serve

Configuration:
  Config is loaded from keygate.yaml in the current directory,
  $HOME/.keygate/, or /etc/keygate/.

  Environment variables can override config values with the KEYGATE_ prefix.
  Example: KEYGATE_SERVER_HTTP_ADDR=:9090

Commands:
  serve          Start the console server
  reset          Remove the persisted session
  hash-password  Generate an Argon2id hash for a dev account password
  version        Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./keygate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
