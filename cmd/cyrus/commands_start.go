package main

import (
	"github.com/spf13/cobra"
)

// buildStartCmd creates the "start" command that runs the edge worker.
func buildStartCmd() *cobra.Command {
	var addr string
	var adminToken string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the Cyrus edge worker",
		Long: `Start the edge worker: load config, register every configured
transport (issue tracker, Slack, Discord, GitHub) on the shared HTTP
listener, and dispatch inbound events to coding-agent sessions.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, resolveConfigPath(configPath), addr, adminToken)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":3456", "address the shared HTTP listener binds to")
	cmd.Flags().StringVar(&adminToken, "admin-token", "", "bearer token guarding /admin/* (defaults to $CYRUS_ADMIN_TOKEN)")

	return cmd
}
