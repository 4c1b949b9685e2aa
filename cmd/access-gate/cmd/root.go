// Package cmd provides the CLI commands for access-gate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/accessgate/internal/config"
)

var cfgFile string
var stateFilePath string

var rootCmd = &cobra.Command{
	Use:   "access-gate",
	Short: "access-gate - attribute-based access policy decision point",
	Long: `access-gate answers "may this subject access this object?" against a
prioritized set of access policies with contextual conditions (time windows,
IP ranges, risk scores, subject attributes and CEL expressions).

Quick start:
  1. Create a config file: access-gate.yaml
  2. Run: access-gate start

Configuration:
  Config is loaded from access-gate.yaml in the current directory,
  $HOME/.access-gate/, or /etc/access-gate/.

  Environment variables can override config values with the ACCESS_GATE_ prefix.
  Example: ACCESS_GATE_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the decision server
  stop        Stop the running server
  evaluate    Evaluate one request against a policy file
  validate    Check a policy file
  reset       Reset to clean state (remove state.json)
  hash-key    Generate an argon2id hash for an admin API key
  version     Print version information`,
	SilenceUsage: true,
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./access-gate.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateFilePath, "state", "", "path to state.json file (default: store.state_path)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
