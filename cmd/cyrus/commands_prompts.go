package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ceedaragents/cyrus/internal/config"
	"github.com/ceedaragents/cyrus/internal/promptplan"
)

// promptPlanBackupVersion labels the rolling backup Store.Save writes
// alongside the updated config; the CLI has no running Manager to keep a
// monotonic version counter, so the current unix time serves instead.
func promptPlanBackupVersion() int {
	return int(time.Now().Unix())
}

// buildPromptsCmd groups the prompt-authoring subcommands that wrap
// internal/promptplan's pure plan builders with the file write/remove and
// config persistence the plans describe.
func buildPromptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "Manage custom prompt rules",
	}
	cmd.AddCommand(buildPromptsCreateCmd(), buildPromptsEditCmd(), buildPromptsDeleteCmd())
	return cmd
}

func buildPromptsCreateCmd() *cobra.Command {
	var labels []string
	var contentFile string
	var repositoryID string
	var repoSlug string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a custom prompt rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readPromptContent(contentFile)
			if err != nil {
				return newUserError(err)
			}
			return applyPromptPlan(func(cfg *config.Config) (*promptplan.PromptPlan, error) {
				return promptplan.BuildCreatePromptPlan(cfg, promptplan.CreateInput{
					Name:         args[0],
					Labels:       labels,
					Content:      content,
					PromptsDir:   promptsDir(),
					RepoSlug:     repoSlug,
					RepositoryID: repositoryID,
				})
			})
		},
	}
	cmd.Flags().StringSliceVar(&labels, "label", nil, "label this prompt rule matches on (repeatable)")
	cmd.Flags().StringVar(&contentFile, "content-file", "", "path to the prompt's Markdown body ('-' for stdin)")
	cmd.Flags().StringVar(&repositoryID, "repository", "", "scope the rule to one repository (default: global)")
	cmd.Flags().StringVar(&repoSlug, "repo-slug", "", "slug appended to the generated prompt filename")
	return cmd
}

func buildPromptsEditCmd() *cobra.Command {
	var labels []string
	var contentFile string
	var repositoryID string
	var repoSlug string

	cmd := &cobra.Command{
		Use:   "edit <name>",
		Short: "Edit an existing prompt rule's labels and/or content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var content *string
			if contentFile != "" {
				c, err := readPromptContent(contentFile)
				if err != nil {
					return newUserError(err)
				}
				content = &c
			}
			return applyPromptPlan(func(cfg *config.Config) (*promptplan.PromptPlan, error) {
				return promptplan.BuildEditPromptPlan(cfg, promptplan.EditInput{
					Name:         args[0],
					Labels:       labels,
					Content:      content,
					PromptsDir:   promptsDir(),
					RepoSlug:     repoSlug,
					RepositoryID: repositoryID,
				})
			})
		},
	}
	cmd.Flags().StringSliceVar(&labels, "label", nil, "replace this rule's labels (repeatable)")
	cmd.Flags().StringVar(&contentFile, "content-file", "", "path to replacement Markdown body ('-' for stdin); omit to leave content untouched")
	cmd.Flags().StringVar(&repositoryID, "repository", "", "scope of the rule being edited (default: global)")
	cmd.Flags().StringVar(&repoSlug, "repo-slug", "", "slug used if a path must be generated")
	return cmd
}

func buildPromptsDeleteCmd() *cobra.Command {
	var repositoryID string

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a custom prompt rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return applyPromptPlan(func(cfg *config.Config) (*promptplan.PromptPlan, error) {
				return promptplan.BuildDeletePromptPlan(cfg, promptplan.DeleteInput{
					Name:         args[0],
					RepositoryID: repositoryID,
				})
			})
		},
	}
	cmd.Flags().StringVar(&repositoryID, "repository", "", "scope of the rule being deleted (default: global)")
	return cmd
}

// applyPromptPlan loads the config, builds the plan, performs the single
// file side effect the plan describes, then persists the resulting config
// (spec §4.7: the builder is pure, the caller performs I/O).
func applyPromptPlan(build func(cfg *config.Config) (*promptplan.PromptPlan, error)) error {
	path := resolveConfigPath(configPath)
	store := config.NewStore(path, 5)
	cfg, err := store.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}

	plan, err := build(cfg)
	if err != nil {
		return newUserError(err)
	}

	if err := applyFileOperation(plan.FileOperation); err != nil {
		return fmt.Errorf("apply prompt file operation: %w", err)
	}

	if err := store.Save(plan.NextConfig, promptPlanBackupVersion()); err != nil {
		return fmt.Errorf("persist config: %w", err)
	}

	for _, c := range plan.LabelConflicts {
		fmt.Fprintf(os.Stderr, "warning: label %q is also claimed by %q\n", c.Label, c.ClaimedByName)
	}
	for _, l := range plan.DuplicateLabelsRemoved {
		fmt.Fprintf(os.Stderr, "warning: duplicate label %q removed\n", l)
	}
	return nil
}

func applyFileOperation(op promptplan.FileOperation) error {
	switch op.Kind {
	case promptplan.FileOpWrite:
		if err := os.MkdirAll(filepath.Dir(op.Path), 0o755); err != nil {
			return err
		}
		return os.WriteFile(op.Path, []byte(op.Content), 0o644)
	case promptplan.FileOpRemove:
		if op.Path == "" {
			return nil
		}
		err := os.Remove(op.Path)
		if os.IsNotExist(err) {
			return nil
		}
		return err
	default:
		return nil
	}
}

func readPromptContent(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("--content-file is required")
	}
	if path == "-" {
		data, err := os.ReadFile("/dev/stdin")
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
