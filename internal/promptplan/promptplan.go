// Package promptplan implements the pure prompt plan builder (spec
// §4.7): buildCreatePromptPlan/buildEditPromptPlan/buildDeletePromptPlan
// compute the next config document and a file operation describing how a
// custom prompt's on-disk Markdown should change, without performing any
// I/O themselves — the caller applies the FileOperation and then
// config.Store.Save's the resulting Config.
package promptplan

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ceedaragents/cyrus/internal/config"
)

// FileOpKind classifies the side-effecting file operation a PromptPlan
// describes.
type FileOpKind string

const (
	FileOpWrite  FileOpKind = "write"
	FileOpRemove FileOpKind = "remove"
)

// FileOperation is the single file-system side effect a PromptPlan
// requires; the caller is responsible for actually performing it.
type FileOperation struct {
	Kind    FileOpKind
	Path    string
	Content string // meaningful only for FileOpWrite
}

// LabelConflict records that label claims a prompt rule sibling in the
// same scope already owns (spec §4.7 "surfaced as LabelConflict entries,
// not errors").
type LabelConflict struct {
	Label        string
	ClaimedByName string
}

// PromptPlan is the pure output of a plan builder: the config document as
// it will look after applying the plan, the file operation to perform
// alongside it, and any non-fatal warnings.
type PromptPlan struct {
	NextConfig     *config.Config
	FileOperation  FileOperation
	LabelConflicts []LabelConflict
	DuplicateLabelsRemoved []string
}

var (
	// ErrEmptyName is returned when a normalised prompt name is empty.
	ErrEmptyName = fmt.Errorf("promptplan: prompt name must not be empty")
	// ErrBuiltInCollision is returned when create names a built-in template.
	ErrBuiltInCollision = fmt.Errorf("promptplan: name collides with a built-in template")
	// ErrNotFound is returned when edit/delete names a rule that doesn't exist.
	ErrNotFound = fmt.Errorf("promptplan: prompt rule not found")
	// ErrBuiltInImmutable is returned when edit tries to replace a built-in's content or delete removes one.
	ErrBuiltInImmutable = fmt.Errorf("promptplan: built-in prompt content cannot be replaced or deleted")
	// ErrFileCollision is returned when create's generated path already names an existing custom prompt.
	ErrFileCollision = fmt.Errorf("promptplan: generated prompt file path already exists")
)

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeName implements spec §4.7's promptName normalisation: lowercase,
// non-alphanumerics collapsed to '-', leading/trailing '-' stripped.
func NormalizeName(raw string) string {
	lower := strings.ToLower(raw)
	collapsed := nonAlphanumeric.ReplaceAllString(lower, "-")
	return strings.Trim(collapsed, "-")
}

// builtInNames is the set of template names a custom prompt may never
// collide with on create (spec §4.7 "must not collide with a built-in
// template on create").
var builtInNames = map[string]bool{
	"debugger":    true,
	"builder":     true,
	"scoper":      true,
	"reviewer":    true,
	"orchestrator": true,
}

// CreateInput is the input to BuildCreatePromptPlan.
type CreateInput struct {
	Name         string
	Labels       []string
	Content      string
	PromptsDir   string
	RepoSlug     string // optional; appended to the generated filename
	RepositoryID string // "" means a global (PromptDefaults) rule
}

// BuildCreatePromptPlan implements spec §4.7's create path.
func BuildCreatePromptPlan(cfg *config.Config, in CreateInput) (*PromptPlan, error) {
	name := NormalizeName(in.Name)
	if name == "" {
		return nil, ErrEmptyName
	}
	if builtInNames[name] {
		return nil, fmt.Errorf("%w: %q", ErrBuiltInCollision, name)
	}

	scope := ruleScope(cfg, in.RepositoryID)
	if _, exists := scope[name]; exists {
		return nil, fmt.Errorf("%w: %q already exists in this scope", ErrFileCollision, name)
	}

	path := promptFilePath(in.PromptsDir, name, in.RepoSlug)
	if existingPathInUse(cfg, path) {
		return nil, fmt.Errorf("%w: %s", ErrFileCollision, path)
	}

	labelInput := in.Labels
	if len(labelInput) == 0 {
		labelInput = frontMatterLabels(in.Content)
	}
	labels, duplicates := dedupeLabels(labelInput)

	next := cfg.Clone()
	rule := config.PromptRule{Name: name, Labels: labels, PromptPath: path}
	setRuleScope(next, in.RepositoryID, name, rule)

	conflicts := labelConflictsAfter(next, in.RepositoryID, name, labels)

	return &PromptPlan{
		NextConfig:             next,
		FileOperation:          FileOperation{Kind: FileOpWrite, Path: path, Content: in.Content},
		LabelConflicts:         conflicts,
		DuplicateLabelsRemoved: duplicates,
	}, nil
}

// frontMatter is the subset of a prompt file's optional "---"-delimited
// YAML header this package reads (spec §4.7's promptPath documents may
// carry front-matter the way nexus's own prompt templates do).
type frontMatter struct {
	Labels []string `yaml:"labels"`
}

var frontMatterBlock = regexp.MustCompile(`(?s)\A---\r?\n(.*?)\r?\n---\r?\n`)

// frontMatterLabels extracts a "labels:" list from content's YAML
// front-matter, used as a fallback when the caller supplied none
// explicitly. Malformed or absent front-matter yields nil, not an error —
// a prompt body is never rejected for carrying no metadata.
func frontMatterLabels(content string) []string {
	m := frontMatterBlock.FindStringSubmatch(content)
	if m == nil {
		return nil
	}
	var fm frontMatter
	if err := yaml.Unmarshal([]byte(m[1]), &fm); err != nil {
		return nil
	}
	return fm.Labels
}

// EditInput is the input to BuildEditPromptPlan. Content == nil leaves the
// prompt's Markdown untouched (e.g. a labels-only edit of a built-in).
type EditInput struct {
	Name         string
	Labels       []string
	Content      *string
	PromptsDir   string
	RepoSlug     string
	RepositoryID string
}

// BuildEditPromptPlan implements spec §4.7's edit path.
func BuildEditPromptPlan(cfg *config.Config, in EditInput) (*PromptPlan, error) {
	name := NormalizeName(in.Name)
	if name == "" {
		return nil, ErrEmptyName
	}

	scope := ruleScope(cfg, in.RepositoryID)
	existing, ok := scope[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	if existing.BuiltIn() && in.Content != nil {
		return nil, fmt.Errorf("%w: %q", ErrBuiltInImmutable, name)
	}

	labelInput := in.Labels
	if len(labelInput) == 0 && in.Content != nil {
		labelInput = frontMatterLabels(*in.Content)
	}
	labels, duplicates := dedupeLabels(labelInput)

	next := cfg.Clone()
	updated := existing
	updated.Labels = labels
	setRuleScope(next, in.RepositoryID, name, updated)

	conflicts := labelConflictsAfter(next, in.RepositoryID, name, labels)

	plan := &PromptPlan{
		NextConfig:             next,
		LabelConflicts:         conflicts,
		DuplicateLabelsRemoved: duplicates,
	}
	if in.Content != nil {
		path := existing.PromptPath
		if path == "" {
			path = promptFilePath(in.PromptsDir, name, in.RepoSlug)
		}
		plan.FileOperation = FileOperation{Kind: FileOpWrite, Path: path, Content: *in.Content}
	}
	return plan, nil
}

// DeleteInput is the input to BuildDeletePromptPlan.
type DeleteInput struct {
	Name         string
	RepositoryID string
}

// BuildDeletePromptPlan implements spec §4.7's delete path.
func BuildDeletePromptPlan(cfg *config.Config, in DeleteInput) (*PromptPlan, error) {
	name := NormalizeName(in.Name)
	if name == "" {
		return nil, ErrEmptyName
	}

	scope := ruleScope(cfg, in.RepositoryID)
	existing, ok := scope[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if existing.BuiltIn() {
		return nil, fmt.Errorf("%w: %q", ErrBuiltInImmutable, name)
	}

	next := cfg.Clone()
	deleteRuleScope(next, in.RepositoryID, name)

	return &PromptPlan{
		NextConfig:    next,
		FileOperation: FileOperation{Kind: FileOpRemove, Path: existing.PromptPath},
	}, nil
}

func ruleScope(cfg *config.Config, repositoryID string) map[string]config.PromptRule {
	if repositoryID == "" {
		return cfg.PromptDefaults
	}
	repo, ok := cfg.RepositoryByID(repositoryID)
	if !ok {
		return nil
	}
	return repo.LabelPrompts
}

func setRuleScope(cfg *config.Config, repositoryID, name string, rule config.PromptRule) {
	if repositoryID == "" {
		if cfg.PromptDefaults == nil {
			cfg.PromptDefaults = make(map[string]config.PromptRule)
		}
		cfg.PromptDefaults[name] = rule
		return
	}
	for i := range cfg.Repositories {
		if cfg.Repositories[i].ID == repositoryID {
			if cfg.Repositories[i].LabelPrompts == nil {
				cfg.Repositories[i].LabelPrompts = make(map[string]config.PromptRule)
			}
			cfg.Repositories[i].LabelPrompts[name] = rule
			return
		}
	}
}

func deleteRuleScope(cfg *config.Config, repositoryID, name string) {
	if repositoryID == "" {
		delete(cfg.PromptDefaults, name)
		return
	}
	for i := range cfg.Repositories {
		if cfg.Repositories[i].ID == repositoryID {
			delete(cfg.Repositories[i].LabelPrompts, name)
			return
		}
	}
}

// dedupeLabels removes case-insensitive duplicate labels within one rule,
// reporting which originals were dropped (spec §4.7 "duplicate labels...
// removed and surfaced as a warning").
func dedupeLabels(labels []string) (deduped []string, removedDuplicates []string) {
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		key := strings.ToLower(l)
		if seen[key] {
			removedDuplicates = append(removedDuplicates, l)
			continue
		}
		seen[key] = true
		deduped = append(deduped, l)
	}
	return deduped, removedDuplicates
}

// labelConflictsAfter finds labels the rule named `name` now claims that a
// sibling rule in the same scope already claims.
func labelConflictsAfter(cfg *config.Config, repositoryID, name string, labels []string) []LabelConflict {
	scope := ruleScope(cfg, repositoryID)
	var conflicts []LabelConflict

	siblingNames := make([]string, 0, len(scope))
	for n := range scope {
		if n != name {
			siblingNames = append(siblingNames, n)
		}
	}
	sort.Strings(siblingNames)

	for _, label := range labels {
		lower := strings.ToLower(label)
		for _, sibling := range siblingNames {
			for _, siblingLabel := range scope[sibling].Labels {
				if strings.ToLower(siblingLabel) == lower {
					conflicts = append(conflicts, LabelConflict{Label: label, ClaimedByName: sibling})
				}
			}
		}
	}
	return conflicts
}

// promptFilePath implements spec §4.7's generated path rule:
// <promptsDir>/custom-<name>[-<repo-slug>].md.
func promptFilePath(promptsDir, name, repoSlug string) string {
	filename := "custom-" + name
	if repoSlug != "" {
		filename += "-" + repoSlug
	}
	return filepath.Join(promptsDir, filename+".md")
}

func existingPathInUse(cfg *config.Config, path string) bool {
	for _, rule := range cfg.PromptDefaults {
		if rule.PromptPath == path {
			return true
		}
	}
	for _, repo := range cfg.Repositories {
		for _, rule := range repo.LabelPrompts {
			if rule.PromptPath == path {
				return true
			}
		}
	}
	return false
}
