package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildAuthCmd creates the "auth" command. The OAuth browser flow itself
// is out of core scope (spec §1 Out of scope); this subcommand only prints
// where to start it and which /callback address receives the redirect,
// since the CLI front-end is documented here only as the admin surface.
func buildAuthCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Print the URL to complete the issue-tracker OAuth handshake",
		Long: `Cyrus's OAuth handshake happens in a browser against the issue
tracker's own authorization page; this command only tells you where to
start it and which running instance's /callback endpoint will receive the
redirect. The running "cyrus start" process answers that /callback request
with a fixed acknowledgement; it does not time out a pending handshake.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("open your issue tracker's OAuth authorization page and redirect to http://%s/callback\n", addr)
			fmt.Println("once authorized, the issue tracker's OAuth handshake completes against the running cyrus start process")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:3456", "address of the running cyrus start process")
	return cmd
}
