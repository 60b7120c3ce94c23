package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var configPath string

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cyrus",
		Short: "Cyrus - edge worker connecting issue trackers and chat to coding agents",
		Long: `Cyrus watches an issue tracker (and optionally Slack, Discord, or a
code host) for work, spawns a coding-agent subprocess per session, and
relays the agent's activity back to wherever the work came from.`,
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (defaults to $CYRUS_HOME/config.json)")

	rootCmd.AddCommand(
		buildStartCmd(),
		buildAuthCmd(),
		buildSetCustomerIDCmd(),
		buildCheckTokensCmd(),
		buildPromptsCmd(),
	)

	return rootCmd
}

// cyrusHome resolves $CYRUS_HOME, defaulting to ~/.cyrus (spec §6
// "Environment variables consumed: CYRUS_HOME").
func cyrusHome() string {
	if home := strings.TrimSpace(os.Getenv("CYRUS_HOME")); home != "" {
		return home
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".cyrus"
	}
	return filepath.Join(dir, ".cyrus")
}

// resolveConfigPath returns the effective config path: the --config flag
// if set, else $CYRUS_HOME/config.json.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	return filepath.Join(cyrusHome(), "config.json")
}

func promptsDir() string {
	return filepath.Join(cyrusHome(), "prompts")
}

func logsDir() string {
	return filepath.Join(cyrusHome(), "logs")
}

// requireArg pulls args[0], wrapped as a user error when absent.
func requireArg(args []string, name string) (string, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return "", newUserError(fmt.Errorf("%s is required", name))
	}
	return args[0], nil
}
