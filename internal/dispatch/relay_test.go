package dispatch

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ceedaragents/cyrus/internal/sink"
	"github.com/ceedaragents/cyrus/pkg/activity"
)

type stubFormatter struct{}

func (stubFormatter) ActionName(tool string, input map[string]any, isError bool) string {
	return "running " + tool
}
func (stubFormatter) Parameter(tool string, input map[string]any) string { return "" }
func (stubFormatter) Result(tool string, input map[string]any, raw string, isError bool) string {
	return tool + " -> " + raw
}

type recordingSurface struct {
	mu     sync.Mutex
	posted []activity.Activity
}

func (r *recordingSurface) Post(ctx context.Context, a activity.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posted = append(r.posted, a)
	return nil
}

func TestActivityRelay_RendersToolUseThenResult(t *testing.T) {
	surface := &recordingSurface{}
	sk := sink.New(surface, sink.Config{})
	relay := newActivityRelay(stubFormatter{}, sk, nil)

	relay.Deliver("sess-1", activity.AgentMessage{
		Role: activity.RoleAssistant,
		Assistant: &activity.AssistantMessage{Content: []activity.ContentBlock{
			{ToolUse: &activity.ToolUse{ID: "bash-1", Name: "bash", Input: map[string]any{"cmd": "ls"}}},
		}},
	})
	relay.Deliver("sess-1", activity.AgentMessage{
		Role:       activity.RoleToolResult,
		ToolResult: &activity.ToolResultMessage{ToolUseID: "bash-1", Content: "file.txt"},
	})
	sk.Deliver(context.Background())

	require.Len(t, surface.posted, 2)
	require.True(t, surface.posted[0].Ephemeral)
	require.Contains(t, surface.posted[0].Body, "running bash")
	require.False(t, surface.posted[1].Ephemeral)
	require.Equal(t, "bash -> file.txt", surface.posted[1].Body)
}

func TestActivityRelay_TerminalResultInvokesCallback(t *testing.T) {
	surface := &recordingSurface{}
	sk := sink.New(surface, sink.Config{})

	var gotSuccess bool
	called := false
	relay := newActivityRelay(stubFormatter{}, sk, func(success bool) {
		called = true
		gotSuccess = success
	})

	relay.Deliver("sess-1", activity.AgentMessage{
		Role:   activity.RoleResultOK,
		Result: &activity.ResultMessage{Success: true, LastText: "done"},
	})
	sk.Deliver(context.Background())

	require.True(t, called)
	require.True(t, gotSuccess)
	require.Len(t, surface.posted, 1)
	require.Equal(t, "done", surface.posted[0].Body)
}

func TestActivityRelay_AssistantTextSubmittedAsResponse(t *testing.T) {
	surface := &recordingSurface{}
	sk := sink.New(surface, sink.Config{})
	relay := newActivityRelay(stubFormatter{}, sk, nil)

	relay.Deliver("sess-1", activity.AgentMessage{
		Role:      activity.RoleAssistant,
		Assistant: &activity.AssistantMessage{Content: []activity.ContentBlock{{Text: "hello there"}}},
	})
	sk.Deliver(context.Background())

	require.Len(t, surface.posted, 1)
	require.Equal(t, activity.ActivityResponse, surface.posted[0].Kind)
	require.Equal(t, "hello there", surface.posted[0].Body)
}
