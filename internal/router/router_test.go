package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ceedaragents/cyrus/internal/config"
	"github.com/ceedaragents/cyrus/pkg/activity"
)

func baseConfig() *config.Config {
	return &config.Config{
		Repositories: []config.Repository{
			{
				ID:             "repo-a",
				RepositoryPath: "/work/repo-a",
				TeamKeys:       []string{"ENG"},
				IsActive:       true,
				AllowedTools:   config.ToolPolicy{Preset: config.ToolsSafe},
				LabelPrompts: map[string]config.PromptRule{
					"bug-fix": {
						Name:       "bug-fix",
						Labels:     []string{"bug"},
						PromptPath: "custom-bug-fix.md",
					},
					"general": {
						Name:       "general",
						Labels:     []string{"bug", "feature"},
						PromptPath: "custom-general.md",
					},
				},
			},
			{
				ID:              "repo-b",
				RepositoryPath:  "/work/repo-b",
				TeamKeys:        []string{"OPS"},
				IsActive:        true,
				ChannelBindings: map[string]string{"slack": "C123"},
			},
		},
	}
}

func TestRouter_ResolvesRepositoryByTeamKey(t *testing.T) {
	r := New(baseConfig())
	evt := activity.InboundEvent{
		TransportKind: activity.TransportTracker,
		Kind:          activity.EventNewThread,
		IssueRefs:     &activity.IssueRefs{IssueID: "ENG-42", TeamKey: "ENG"},
	}

	d, err := r.Route(evt)
	require.NoError(t, err)
	require.Equal(t, "repo-a", d.Repository.ID)
	require.Equal(t, IntentCreateSession, d.Intent)
	require.Equal(t, "/work/repo-a-ENG-42", d.WorkspacePath)
}

func TestRouter_ResolvesRepositoryByChannelBinding(t *testing.T) {
	r := New(baseConfig())
	evt := activity.InboundEvent{
		TransportKind: activity.TransportSlack,
		Kind:          activity.EventMention,
		SurfaceRefs:   activity.SurfaceRefs{ChannelID: "C123"},
	}

	d, err := r.Route(evt)
	require.NoError(t, err)
	require.Equal(t, "repo-b", d.Repository.ID)
}

func TestRouter_AmbiguousMatchIsFatal(t *testing.T) {
	cfg := baseConfig()
	cfg.Repositories[1].TeamKeys = []string{"ENG"}
	r := New(cfg)

	evt := activity.InboundEvent{
		TransportKind: activity.TransportTracker,
		IssueRefs:     &activity.IssueRefs{TeamKey: "ENG"},
	}

	_, err := r.Route(evt)
	require.ErrorIs(t, err, ErrRouteAmbiguous)
}

func TestRouter_NoMatchIsAnError(t *testing.T) {
	r := New(baseConfig())
	evt := activity.InboundEvent{
		TransportKind: activity.TransportTracker,
		IssueRefs:     &activity.IssueRefs{TeamKey: "NOPE"},
	}

	_, err := r.Route(evt)
	require.ErrorIs(t, err, ErrNoRepositoryMatch)
}

func TestRouter_PromptTieBreakPrefersFewerLabels(t *testing.T) {
	r := New(baseConfig())
	evt := activity.InboundEvent{
		TransportKind: activity.TransportTracker,
		Kind:          activity.EventNewThread,
		IssueRefs:     &activity.IssueRefs{TeamKey: "ENG", Labels: []string{"bug"}},
	}

	d, err := r.Route(evt)
	require.NoError(t, err)
	require.Equal(t, "bug-fix", d.PromptRule.Name)
}

func TestRouter_LabelConflictSurfacedAsWarningNotError(t *testing.T) {
	r := New(baseConfig())
	evt := activity.InboundEvent{
		TransportKind: activity.TransportTracker,
		Kind:          activity.EventNewThread,
		IssueRefs:     &activity.IssueRefs{TeamKey: "ENG", Labels: []string{"bug"}},
	}

	d, err := r.Route(evt)
	require.NoError(t, err)
	require.NotEmpty(t, d.LabelConflicts)
	require.Equal(t, "bug", d.LabelConflicts[0].Label)
}

func TestRouter_IntentClassification(t *testing.T) {
	r := New(baseConfig())
	cases := []struct {
		kind   activity.EventKind
		intent Intent
	}{
		{activity.EventNewThread, IntentCreateSession},
		{activity.EventMention, IntentCreateSession},
		{activity.EventReply, IntentPromptExisting},
		{activity.EventUnassign, IntentStopSession},
		{activity.EventStop, IntentStopSession},
		{activity.EventIgnore, IntentIgnore},
	}
	for _, c := range cases {
		evt := activity.InboundEvent{
			TransportKind: activity.TransportTracker,
			Kind:          c.kind,
			IssueRefs:     &activity.IssueRefs{TeamKey: "ENG"},
		}
		d, err := r.Route(evt)
		require.NoError(t, err)
		require.Equal(t, c.intent, d.Intent, "kind=%s", c.kind)
	}
}

func TestRouter_ToolPolicySubtractsDisallowedAndIntersectsRepoDefault(t *testing.T) {
	cfg := baseConfig()
	cfg.Repositories[0].LabelPrompts["bug-fix"] = config.PromptRule{
		Name:            "bug-fix",
		Labels:          []string{"bug"},
		PromptPath:      "custom-bug-fix.md",
		AllowedTools:    config.ToolPolicy{Explicit: []string{"read", "edit", "bash"}},
		DisallowedTools: []string{"bash"},
	}
	r := New(cfg)

	evt := activity.InboundEvent{
		TransportKind: activity.TransportTracker,
		Kind:          activity.EventNewThread,
		IssueRefs:     &activity.IssueRefs{TeamKey: "ENG", Labels: []string{"bug"}},
	}
	d, err := r.Route(evt)
	require.NoError(t, err)

	require.Contains(t, d.ToolPolicy, "read")
	require.Contains(t, d.ToolPolicy, "edit")
	require.NotContains(t, d.ToolPolicy, "bash")
}

func TestRouter_ToolPolicyFallsBackToRepoPresetWhenRuleHasNone(t *testing.T) {
	r := New(baseConfig())
	evt := activity.InboundEvent{
		TransportKind: activity.TransportTracker,
		Kind:          activity.EventNewThread,
		IssueRefs:     &activity.IssueRefs{TeamKey: "ENG", Labels: []string{"feature"}},
	}
	d, err := r.Route(evt)
	require.NoError(t, err)
	require.Equal(t, "general", d.PromptRule.Name)
	require.Contains(t, d.ToolPolicy, "edit")
}

func TestRouter_WorkspacePathWithoutIssueKeyUsesRepositoryPath(t *testing.T) {
	r := New(baseConfig())
	evt := activity.InboundEvent{
		TransportKind: activity.TransportSlack,
		Kind:          activity.EventMention,
		SurfaceRefs:   activity.SurfaceRefs{ChannelID: "C123"},
	}
	d, err := r.Route(evt)
	require.NoError(t, err)
	require.Equal(t, "/work/repo-b", d.WorkspacePath)
}
