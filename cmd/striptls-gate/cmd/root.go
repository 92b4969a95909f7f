// Package cmd provides the CLI commands for striptls-gate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/striptls-gate/striptls-gate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "striptls-gate",
	Short: "striptls-gate - STARTTLS downgrade audit proxy",
	Long: `striptls-gate intercepts a plaintext protocol connection (SMTP, POP3,
IMAP, FTP, NNTP, XMPP, ACAP, or IRC), assigns each connecting client one
attack vector from its catalogue, and audits whether that client is
vulnerable to a STARTTLS-class downgrade or strip attack.

Quick start:
  striptls-gate run --remote mail.example.com:25

Configuration:
  Config is loaded from striptls-gate.yaml in the current directory,
  $HOME/.striptls-gate/, or /etc/striptls-gate/.

  Environment variables can override config values with the
  STRIPTLS_GATE_ prefix. Example: STRIPTLS_GATE_REMOTE=mail.example.com:25

Commands:
  run         Run the proxy against a remote server
  version     Print version information`,
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./striptls-gate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
