// Package config owns the Config Store, the Configuration Manager, and the
// small set of types the Configuration API exposes to the admin dashboard
// (spec §4.1, §6). The Config Store is a persistent JSON document; the
// Configuration Manager holds the single authoritative in-memory snapshot
// and publishes changes to listeners atomically.
package config

import "encoding/json"

// ToolsPreset is a named allowlist shorthand a PromptRule can reference
// instead of an explicit tool list.
type ToolsPreset string

const (
	ToolsReadOnly    ToolsPreset = "readOnly"
	ToolsSafe        ToolsPreset = "safe"
	ToolsAll         ToolsPreset = "all"
	ToolsCoordinator ToolsPreset = "coordinator"
)

// ToolPolicy is either a named preset or an explicit tool list; exactly one
// of Preset/Explicit is meaningful, decided by IsPreset.
type ToolPolicy struct {
	Preset   ToolsPreset
	Explicit []string
}

// IsPreset reports whether this policy names a preset rather than an
// explicit tool list.
func (p ToolPolicy) IsPreset() bool {
	return p.Preset != "" && len(p.Explicit) == 0
}

// PromptRule maps a set of ticket labels to a system prompt and a tool
// policy (spec §3 PromptRule).
type PromptRule struct {
	Name            string     `json:"-"` // the labelPrompts map key
	Labels          []string   `json:"labels"`
	AllowedTools    ToolPolicy `json:"-"`
	DisallowedTools []string   `json:"disallowedTools,omitempty"`
	PromptPath      string     `json:"promptPath,omitempty"`
}

// BuiltIn reports whether this is a built-in template: a prompt is
// built-in iff PromptPath is absent (spec §3 PromptRule invariant).
func (r PromptRule) BuiltIn() bool {
	return r.PromptPath == ""
}

// Repository is one configured code repository Cyrus can spawn sessions
// against (spec §3 Repository).
type Repository struct {
	ID                      string                `json:"id"`
	Name                    string                `json:"name"`
	RepositoryPath          string                `json:"repositoryPath"`
	BaseBranch              string                `json:"baseBranch"`
	IssueTrackerWorkspaceID string                `json:"issueTrackerWorkspaceId"`
	TokenMaterial           string                `json:"tokenMaterial"`
	LabelPrompts            map[string]PromptRule `json:"labelPrompts,omitempty"`
	AllowedTools            ToolPolicy            `json:"-"`
	TeamKeys                []string              `json:"teamKeys,omitempty"`
	IsActive                bool                  `json:"isActive"`

	// MaxConcurrentSessions overrides Dispatch.DefaultRepositoryCap for
	// this repository; zero means "use the default" (SPEC_FULL §Confirmed
	// Open Questions, item 3).
	MaxConcurrentSessions int `json:"maxConcurrentSessions,omitempty"`

	// ChannelBindings maps a surface (slack/discord/github) to the
	// team/channel/owner identifier the Router matches on (spec §4.3
	// step 1).
	ChannelBindings map[string]string `json:"channelBindings,omitempty"`

	// AgentRunner names which AgentRunner adapter (internal/runner/claude,
	// internal/runner/codex) spawns this repository's sessions; empty
	// defaults to "claude" (SPEC_FULL §Confirmed Open Questions).
	AgentRunner string `json:"agentRunner,omitempty"`
}

// RunnerKind returns the configured AgentRunner, defaulting to "claude"
// when unset.
func (r Repository) RunnerKind() string {
	if r.AgentRunner == "" {
		return "claude"
	}
	return r.AgentRunner
}

// DispatchConfig holds the Dispatcher-facing tunables that spec §9 Open
// Questions requires be configurable rather than hard-coded.
type DispatchConfig struct {
	// DedupWindowSeconds is how long an (transportKind, envelopeId) pair is
	// remembered to suppress webhook retries (spec §4.2 Dedup).
	DedupWindowSeconds int `json:"dedupWindowSeconds"`

	// DebounceWindowSeconds is how long the Dispatcher waits to merge bursty
	// inbound prompts into one stream message (spec §4.4 Debounce burst).
	DebounceWindowSeconds int `json:"debounceWindowSeconds"`

	// DefaultRepositoryCap is the per-repository concurrent session limit
	// used when a Repository does not set its own (spec §4.4 Per-repository cap).
	DefaultRepositoryCap int `json:"defaultRepositoryCap"`

	// SinkRetryBudget is the configured number of sink delivery retries
	// before an activity is dropped (spec §4.6 Failure, §7 item 7). No code
	// reads it: internal/dispatch builds each session's sink.Dispatcher with
	// the sink package's default budget.
	SinkRetryBudget int `json:"sinkRetryBudget"`

	// RunnerSpawnRetryBudget is the configured number of re-spawn attempts
	// after a runner spawn error (spec §7 item 5). No code reads it; a
	// failed spawn is not retried.
	RunnerSpawnRetryBudget int `json:"runnerSpawnRetryBudget"`

	// IdleTimeoutSeconds is the configured provider-stream silence limit
	// (spec §7 item 8). No code reads it; no runner is stopped for being
	// idle.
	IdleTimeoutSeconds int `json:"idleTimeoutSeconds"`

	// RepositoryLaunchesPerMinute caps how often a repository may spawn a
	// new session, independent of DefaultRepositoryCap's concurrency limit
	// (SPEC_FULL DOMAIN STACK: Dispatcher per-repository concurrency + rate
	// limiting). Zero means unlimited.
	RepositoryLaunchesPerMinute int `json:"repositoryLaunchesPerMinute,omitempty"`
}

// DefaultDispatchConfig returns the conservative defaults SPEC_FULL commits
// to for the previously-unspecified windows.
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		DedupWindowSeconds:          300,
		DebounceWindowSeconds:       2,
		DefaultRepositoryCap:        3,
		SinkRetryBudget:             5,
		RunnerSpawnRetryBudget:      3,
		IdleTimeoutSeconds:          600,
		RepositoryLaunchesPerMinute: 20,
	}
}

// Config is the top-level configuration document (spec §6). Unknown top
// level keys must be preserved verbatim across load/save; Extra carries
// them.
type Config struct {
	Repositories     []Repository          `json:"repositories"`
	NgrokAuthToken   string                `json:"ngrokAuthToken,omitempty"`
	IsLegacy         bool                  `json:"isLegacy,omitempty"`
	StripeCustomerID string                `json:"stripeCustomerId,omitempty"`
	PromptDefaults   map[string]PromptRule `json:"promptDefaults,omitempty"`
	Dispatch         DispatchConfig        `json:"dispatch"`

	// Extra holds any top-level key this struct does not model, so a
	// round-tripped load-then-save reproduces keys we don't understand
	// (spec §6 "unknown keys preserved verbatim").
	Extra map[string]json.RawMessage `json:"-"`
}

// Clone returns a deep-enough copy for safe concurrent reads: the
// Configuration Manager publishes a fresh *Config on every change and
// readers never mutate what Get() returns, but Clone exists for tests and
// for rollback snapshots that must not alias the live value.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.Repositories = append([]Repository(nil), c.Repositories...)
	out.PromptDefaults = cloneRuleMap(c.PromptDefaults)
	out.Extra = make(map[string]json.RawMessage, len(c.Extra))
	for k, v := range c.Extra {
		out.Extra[k] = append(json.RawMessage(nil), v...)
	}
	for i := range out.Repositories {
		out.Repositories[i].LabelPrompts = cloneRuleMap(c.Repositories[i].LabelPrompts)
		out.Repositories[i].TeamKeys = append([]string(nil), c.Repositories[i].TeamKeys...)
		out.Repositories[i].ChannelBindings = cloneStringMap(c.Repositories[i].ChannelBindings)
	}
	return &out
}

func cloneRuleMap(m map[string]PromptRule) map[string]PromptRule {
	if m == nil {
		return nil
	}
	out := make(map[string]PromptRule, len(m))
	for k, v := range m {
		v.DisallowedTools = append([]string(nil), v.DisallowedTools...)
		v.Labels = append([]string(nil), v.Labels...)
		out[k] = v
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RepositoryByID returns the repository with the given id, or false if no
// such repository exists.
func (c *Config) RepositoryByID(id string) (Repository, bool) {
	for _, r := range c.Repositories {
		if r.ID == id {
			return r, true
		}
	}
	return Repository{}, false
}
