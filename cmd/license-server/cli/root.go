// Package cli implements the license-server command tree.
package cli

import (
	"github.com/spf13/cobra"

	"uvdm/internal/config"
)

var cfgFile string

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license-server",
		Short: "UVDM license server and client tools",
		Long: `UVDM license server: issues license keys, verifies entitlement with
machine binding, and receives payment provider webhooks.

The verify, activate and deactivate subcommands act as a license client
against a running server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./uvdm.yaml, overridden by UVDM_* env vars)")

	cmd.AddCommand(newServeCmd(version))
	cmd.AddCommand(newGenerateCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newActivateCmd())
	cmd.AddCommand(newDeactivateCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = "uvdm.yaml"
	}
	return config.Load(path)
}
