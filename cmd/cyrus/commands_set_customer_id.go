package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ceedaragents/cyrus/internal/config"
)

// buildSetCustomerIDCmd creates the "set-customer-id" command, a thin
// wrapper around Manager.Update that persists the Stripe customer id the
// billing side channel associates with this installation.
func buildSetCustomerIDCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-customer-id <id>",
		Short: "Set the Stripe customer id recorded in config.json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := requireArg(args, "customer id")
			if err != nil {
				return err
			}
			return runSetCustomerID(resolveConfigPath(configPath), id)
		},
	}
	return cmd
}

func runSetCustomerID(path, customerID string) error {
	mgr, err := config.NewManager(path, slog.Default())
	if err != nil {
		return newUserError(fmt.Errorf("load config %s: %w", path, err))
	}
	if err := mgr.Update(&config.Config{StripeCustomerID: customerID}); err != nil {
		return fmt.Errorf("update config: %w", err)
	}
	fmt.Printf("customer id set to %s\n", customerID)
	return nil
}
