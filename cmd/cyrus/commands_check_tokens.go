package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ceedaragents/cyrus/internal/config"
)

// buildCheckTokensCmd creates the "check-tokens" command: a preflight that
// reports missing repository token material and missing transport
// credentials before "start" would otherwise fail mid-dispatch.
func buildCheckTokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-tokens",
		Short: "Verify repository and transport credentials are present",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckTokens(resolveConfigPath(configPath))
		},
	}
	return cmd
}

func runCheckTokens(path string) error {
	store := config.NewStore(path, 5)
	cfg, err := store.Load()
	if err != nil {
		return newUserError(fmt.Errorf("load config %s: %w", path, err))
	}

	var problems []string

	for _, repo := range cfg.Repositories {
		if !repo.IsActive {
			continue
		}
		if strings.TrimSpace(repo.TokenMaterial) == "" {
			problems = append(problems, fmt.Sprintf("repository %q has no tokenMaterial configured", repo.ID))
		}
	}

	problems = append(problems, missingEnvGroup("LINEAR_API_TOKEN", "TRACKER_WEBHOOK_SECRET")...)

	for _, name := range []string{"SLACK_BOT_TOKEN", "SLACK_SIGNING_SECRET", "DISCORD_BOT_TOKEN", "GITHUB_API_TOKEN", "GITHUB_WEBHOOK_SECRET"} {
		if os.Getenv(name) == "" {
			fmt.Printf("optional: %s not set, that transport will stay disabled\n", name)
		}
	}

	if len(problems) == 0 {
		fmt.Println("all required tokens present")
		return nil
	}

	for _, p := range problems {
		fmt.Fprintln(os.Stderr, p)
	}
	return newUserError(fmt.Errorf("%d token problem(s) found", len(problems)))
}

// missingEnvGroup reports one issue-tracker-transport problem listing every
// name in the group that is unset, whether some or all of them are missing
// (the tracker transport is required, so an entirely-missing pair is itself
// a problem). It returns nil when every name is set.
func missingEnvGroup(names ...string) []string {
	var missing []string
	for _, n := range names {
		if os.Getenv(n) == "" {
			missing = append(missing, n)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return []string{fmt.Sprintf("issue tracker transport is missing: %s", strings.Join(missing, ", "))}
}
