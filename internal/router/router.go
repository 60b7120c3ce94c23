// Package router implements the Event Router (spec §4.3): given a
// canonical activity.InboundEvent and the current config.Config, it
// resolves which repository the event concerns, which prompt rule and
// tool policy govern the session, what intent to dispatch, and the
// workspace path the runner should use.
package router

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ceedaragents/cyrus/internal/config"
	"github.com/ceedaragents/cyrus/pkg/activity"
)

// ErrRouteAmbiguous is returned when an InboundEvent's team/owner/channel
// identifiers match more than one repository; routing a fatally ambiguous
// event is never silently resolved to a first match (SPEC_FULL confirmed
// open question 2).
var ErrRouteAmbiguous = errors.New("router: event matches more than one repository")

// ErrNoRepositoryMatch is returned when an event matches no configured
// repository at all.
var ErrNoRepositoryMatch = errors.New("router: no repository matches event")

// Intent classifies what the Dispatcher should do with a routed event
// (spec §4.3 step 3).
type Intent string

const (
	IntentCreateSession   Intent = "createSession"
	IntentPromptExisting  Intent = "promptExisting"
	IntentStopSession     Intent = "stopSession"
	IntentIgnore          Intent = "ignore"
)

// Decision is the Router's output: a dispatch intent plus everything the
// Dispatcher and Runner need to act on it.
type Decision struct {
	Intent Intent

	Repository config.Repository
	PromptRule config.PromptRule

	// LabelConflicts records label-ownership collisions discovered while
	// resolving the prompt rule, surfaced as warnings rather than errors
	// (spec §4.3 step 2).
	LabelConflicts []LabelConflict

	WorkspacePath string
	ToolPolicy    []string

	SessionThreadID string
}

// LabelConflict records that two prompt rules in the same scope both claim
// a ticket label.
type LabelConflict struct {
	Label       string
	FirstPrompt string
	SecondPrompt string
}

// Router resolves InboundEvents against a config.Config snapshot.
type Router struct {
	cfg *config.Config
}

// New constructs a Router bound to cfg. Callers typically rebuild a
// Router (or call SetConfig) each time the Configuration Manager
// publishes a new snapshot.
func New(cfg *config.Config) *Router {
	return &Router{cfg: cfg}
}

// SetConfig swaps the config snapshot the Router resolves against.
func (r *Router) SetConfig(cfg *config.Config) {
	r.cfg = cfg
}

// Route runs the full §4.3 algorithm: resolve repository, resolve prompt,
// determine intent, compute workspace path, resolve tool policy.
func (r *Router) Route(evt activity.InboundEvent) (Decision, error) {
	repo, err := r.resolveRepository(evt)
	if err != nil {
		return Decision{}, err
	}

	var labels []string
	if evt.IssueRefs != nil {
		labels = evt.IssueRefs.Labels
	}
	rule, conflicts := r.resolvePrompt(repo, labels)

	intent := r.determineIntent(evt)

	issueKey := ""
	if evt.IssueRefs != nil {
		issueKey = evt.IssueRefs.IssueID
	}
	workspacePath := computeWorkspacePath(repo.RepositoryPath, issueKey)

	toolPolicy := resolveToolPolicy(repo, rule)

	return Decision{
		Intent:          intent,
		Repository:      repo,
		PromptRule:      rule,
		LabelConflicts:  conflicts,
		WorkspacePath:   workspacePath,
		ToolPolicy:      toolPolicy,
		SessionThreadID: evt.SurfaceRefs.ThreadID,
	}, nil
}

// resolveRepository implements spec §4.3 step 1: match by team key, owner,
// or channel binding. More than one match is a fatal route error.
func (r *Router) resolveRepository(evt activity.InboundEvent) (config.Repository, error) {
	var matches []config.Repository

	for _, repo := range r.cfg.Repositories {
		if !repo.IsActive {
			continue
		}
		if matchesTeamOrOwner(repo, evt) || matchesChannelBinding(repo, evt) {
			matches = append(matches, repo)
		}
	}

	switch len(matches) {
	case 0:
		return config.Repository{}, fmt.Errorf("%w: transport=%s envelope=%s", ErrNoRepositoryMatch, evt.TransportKind, evt.EnvelopeID)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		return config.Repository{}, fmt.Errorf("%w: %s", ErrRouteAmbiguous, strings.Join(ids, ", "))
	}
}

// ownerBindingKey is the ChannelBindings key a repository uses to bind an
// issue-tracker "owner" field (a GitHub org, a Linear workspace team lead,
// etc.), kept alongside the per-transport channel bindings since both are
// just named identifiers a repository claims.
const ownerBindingKey = "owner"

func matchesTeamOrOwner(repo config.Repository, evt activity.InboundEvent) bool {
	if evt.IssueRefs == nil {
		return false
	}
	for _, tk := range repo.TeamKeys {
		if strings.EqualFold(tk, evt.IssueRefs.TeamKey) {
			return true
		}
	}
	if evt.IssueRefs.Owner != "" {
		if owner, ok := repo.ChannelBindings[ownerBindingKey]; ok && strings.EqualFold(owner, evt.IssueRefs.Owner) {
			return true
		}
	}
	return false
}

func matchesChannelBinding(repo config.Repository, evt activity.InboundEvent) bool {
	key := string(evt.TransportKind)
	bound, ok := repo.ChannelBindings[key]
	if !ok {
		return false
	}
	return strings.EqualFold(bound, evt.SurfaceRefs.ChannelID)
}

// resolvePrompt implements spec §4.3 step 2 and its tie-break rule: the
// repository-local rule with fewer labels wins (more specific); ties break
// by lexical order of the rule name. A repository-scoped match always
// beats the global default. Duplicate label ownership within the
// repository's scope is surfaced as a LabelConflict, never silent.
func (r *Router) resolvePrompt(repo config.Repository, ticketLabels []string) (config.PromptRule, []LabelConflict) {
	conflicts := labelConflicts(repo.LabelPrompts)

	if rule, ok := bestMatch(repo.LabelPrompts, ticketLabels); ok {
		return rule, conflicts
	}
	if rule, ok := bestMatch(r.cfg.PromptDefaults, ticketLabels); ok {
		return rule, conflicts
	}
	return config.PromptRule{}, conflicts
}

func bestMatch(rules map[string]config.PromptRule, ticketLabels []string) (config.PromptRule, bool) {
	var candidates []config.PromptRule
	for _, rule := range rules {
		if ruleMatchesAnyLabel(rule, ticketLabels) {
			candidates = append(candidates, rule)
		}
	}
	if len(candidates) == 0 {
		return config.PromptRule{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if len(candidates[i].Labels) != len(candidates[j].Labels) {
			return len(candidates[i].Labels) < len(candidates[j].Labels)
		}
		return candidates[i].Name < candidates[j].Name
	})
	return candidates[0], true
}

func ruleMatchesAnyLabel(rule config.PromptRule, ticketLabels []string) bool {
	for _, ruleLabel := range rule.Labels {
		for _, ticketLabel := range ticketLabels {
			if strings.EqualFold(ruleLabel, ticketLabel) {
				return true
			}
		}
	}
	return false
}

// labelConflicts finds labels claimed by more than one prompt rule in the
// same scope (spec §4.3 step 2 "conflicts in label ownership").
func labelConflicts(rules map[string]config.PromptRule) []LabelConflict {
	owner := make(map[string]string)
	var conflicts []LabelConflict

	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rule := rules[name]
		for _, label := range rule.Labels {
			lower := strings.ToLower(label)
			if first, ok := owner[lower]; ok && first != name {
				conflicts = append(conflicts, LabelConflict{Label: label, FirstPrompt: first, SecondPrompt: name})
				continue
			}
			owner[lower] = name
		}
	}
	return conflicts
}

// determineIntent implements spec §4.3 step 3.
func (r *Router) determineIntent(evt activity.InboundEvent) Intent {
	switch evt.Kind {
	case activity.EventNewThread, activity.EventMention:
		return IntentCreateSession
	case activity.EventReply:
		return IntentPromptExisting
	case activity.EventUnassign, activity.EventStop:
		return IntentStopSession
	default:
		return IntentIgnore
	}
}

// computeWorkspacePath implements spec §4.3 step 4.
func computeWorkspacePath(repositoryPath, issueKey string) string {
	if issueKey == "" {
		return repositoryPath
	}
	return repositoryPath + "-" + issueKey
}

// resolveToolPolicy implements spec §4.3 step 5: translate the rule's
// allowedTools preset or explicit list, subtract disallowedTools, and
// intersect with the repository default.
func resolveToolPolicy(repo config.Repository, rule config.PromptRule) []string {
	allowed := expandToolPolicy(rule.AllowedTools)
	if len(allowed) == 0 {
		allowed = expandToolPolicy(repo.AllowedTools)
	}

	disallowed := make(map[string]struct{}, len(rule.DisallowedTools))
	for _, t := range rule.DisallowedTools {
		disallowed[t] = struct{}{}
	}

	repoAllowed := expandToolPolicy(repo.AllowedTools)
	repoSet := make(map[string]struct{}, len(repoAllowed))
	for _, t := range repoAllowed {
		repoSet[t] = struct{}{}
	}
	intersectWithRepo := len(repoAllowed) > 0

	var out []string
	for _, t := range allowed {
		if _, blocked := disallowed[t]; blocked {
			continue
		}
		if intersectWithRepo {
			if _, ok := repoSet[t]; !ok {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

var presetTools = map[config.ToolsPreset][]string{
	config.ToolsReadOnly:    {"read", "grep", "glob", "web_fetch", "web_search"},
	config.ToolsSafe:        {"read", "grep", "glob", "web_fetch", "web_search", "edit", "write"},
	config.ToolsAll:         {"read", "grep", "glob", "web_fetch", "web_search", "edit", "write", "bash", "task"},
	config.ToolsCoordinator: {"read", "grep", "glob", "task"},
}

func expandToolPolicy(p config.ToolPolicy) []string {
	if p.Preset != "" && len(p.Explicit) == 0 {
		return append([]string(nil), presetTools[p.Preset]...)
	}
	return append([]string(nil), p.Explicit...)
}
