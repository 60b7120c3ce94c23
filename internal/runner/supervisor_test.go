package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ceedaragents/cyrus/internal/formatter"
	"github.com/ceedaragents/cyrus/pkg/activity"
)

type fakeFormatter struct{}

func (fakeFormatter) ActionName(string, map[string]any, bool) string { return "" }
func (fakeFormatter) Parameter(string, map[string]any) string        { return "" }
func (fakeFormatter) Result(string, map[string]any, string, bool) string { return "" }

type fakeAdapter struct {
	out       chan activity.AgentMessage
	streaming bool
	stopped   bool
	killed    bool
	added     []string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{out: make(chan activity.AgentMessage, 16)}
}

func (f *fakeAdapter) Start(ctx context.Context, cwd, prompt string) (<-chan activity.AgentMessage, error) {
	return f.out, nil
}
func (f *fakeAdapter) AddStreamMessage(text string) error {
	f.added = append(f.added, text)
	return nil
}
func (f *fakeAdapter) SupportsStreamingInput() bool { return f.streaming }
func (f *fakeAdapter) Stop() error                  { f.stopped = true; close(f.out); return nil }
func (f *fakeAdapter) Kill() error                  { f.killed = true; return nil }
func (f *fakeAdapter) Formatter() formatter.Formatter { return fakeFormatter{} }

type recordingSink struct {
	messages []activity.AgentMessage
}

func (r *recordingSink) Deliver(sessionID string, msg activity.AgentMessage) {
	r.messages = append(r.messages, msg)
}

func TestRunner_SynthesizesMissingInit(t *testing.T) {
	adapter := newFakeAdapter()
	sink := &recordingSink{}
	r := NewRunner("sess-1", "/tmp/work", "claude-sonnet", []string{"bash"}, adapter, sink, nil)

	require.NoError(t, r.Start(context.Background(), "do the thing"))

	adapter.out <- activity.AgentMessage{
		Role:      activity.RoleAssistant,
		Assistant: &activity.AssistantMessage{Content: []activity.ContentBlock{{Text: "hi"}}},
	}
	adapter.out <- activity.AgentMessage{
		Role:   activity.RoleResultOK,
		Result: &activity.ResultMessage{Success: true},
	}
	close(adapter.out)

	require.Eventually(t, func() bool { return !r.IsRunning() }, time.Second, time.Millisecond)

	msgs := r.GetMessages()
	require.Len(t, msgs, 3)
	require.Equal(t, activity.RoleSystemInit, msgs[0].Role)
	require.Equal(t, activity.RoleAssistant, msgs[1].Role)
	require.Equal(t, activity.RoleResultOK, msgs[2].Role)
	require.Equal(t, StateCompleted, r.State())
}

func TestRunner_AccumulatesDeltasAcrossRoleChange(t *testing.T) {
	adapter := newFakeAdapter()
	sink := &recordingSink{}
	r := NewRunner("sess-2", "/tmp/work", "gpt-5-codex", nil, adapter, sink, nil)

	require.NoError(t, r.Start(context.Background(), "go"))

	adapter.out <- activity.AgentMessage{
		Role:      activity.RoleSystemInit,
		SystemInit: &activity.SystemInit{SessionID: "vendor-1"},
	}
	adapter.out <- activity.AgentMessage{
		Role:      activity.RoleAssistant,
		Delta:     true,
		Assistant: &activity.AssistantMessage{Content: []activity.ContentBlock{{Text: "Hel"}}},
	}
	adapter.out <- activity.AgentMessage{
		Role:      activity.RoleAssistant,
		Delta:     true,
		Assistant: &activity.AssistantMessage{Content: []activity.ContentBlock{{Text: "lo"}}},
	}
	adapter.out <- activity.AgentMessage{
		Role:   activity.RoleResultOK,
		Result: &activity.ResultMessage{Success: true},
	}
	close(adapter.out)

	require.Eventually(t, func() bool { return !r.IsRunning() }, time.Second, time.Millisecond)

	msgs := r.GetMessages()
	require.Len(t, msgs, 3)
	require.Equal(t, "Hello", msgs[1].Assistant.Content[0].Text)
}

func TestRunner_SynthesizesResultOnAbnormalExit(t *testing.T) {
	adapter := newFakeAdapter()
	sink := &recordingSink{}
	r := NewRunner("sess-3", "/tmp/work", "claude-sonnet", nil, adapter, sink, nil)

	require.NoError(t, r.Start(context.Background(), "go"))

	adapter.out <- activity.AgentMessage{
		Role:      activity.RoleAssistant,
		Assistant: &activity.AssistantMessage{Content: []activity.ContentBlock{{Text: "partial work"}}},
	}
	close(adapter.out)

	require.Eventually(t, func() bool { return !r.IsRunning() }, time.Second, time.Millisecond)

	msgs := r.GetMessages()
	last := msgs[len(msgs)-1]
	require.Equal(t, activity.RoleResultError, last.Role)
	require.False(t, last.Result.Success)
	require.Equal(t, "partial work", last.Result.LastText)
	require.Equal(t, StateFailed, r.State())
}

func TestRunner_PairsUnidentifiedToolUse(t *testing.T) {
	adapter := newFakeAdapter()
	sink := &recordingSink{}
	r := NewRunner("sess-4", "/tmp/work", "claude-sonnet", nil, adapter, sink, nil)

	require.NoError(t, r.Start(context.Background(), "go"))

	adapter.out <- activity.AgentMessage{
		Role: activity.RoleAssistant,
		Assistant: &activity.AssistantMessage{Content: []activity.ContentBlock{
			{ToolUse: &activity.ToolUse{Name: "bash", Input: map[string]any{"cmd": "ls"}}},
		}},
	}
	adapter.out <- activity.AgentMessage{Role: activity.RoleResultOK, Result: &activity.ResultMessage{Success: true}}
	close(adapter.out)

	require.Eventually(t, func() bool { return !r.IsRunning() }, time.Second, time.Millisecond)

	msgs := r.GetMessages()
	var toolUseID string
	for _, m := range msgs {
		if m.Role == activity.RoleAssistant {
			toolUseID = m.Assistant.Content[0].ToolUse.ID
		}
	}
	require.NotEmpty(t, toolUseID)
	require.Contains(t, toolUseID, "bash-1-")
}

func TestRunner_StopEscalatesToKillAfterGracePeriod(t *testing.T) {
	prior := gracePeriod
	gracePeriod = 20 * time.Millisecond
	defer func() { gracePeriod = prior }()

	adapter := newFakeAdapter()
	r := NewRunner("sess-5", "/tmp/work", "claude-sonnet", nil, &neverStoppingAdapter{fakeAdapter: adapter}, &recordingSink{}, nil)
	require.NoError(t, r.Start(context.Background(), "go"))

	done := make(chan struct{})
	go func() {
		_ = r.Stop(StopReasonUser)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("stop returned before kill escalation was exercised")
	case <-time.After(50 * time.Millisecond):
	}

	close(adapter.out)
	<-done
	require.True(t, adapter.killed)
}

// neverStoppingAdapter ignores Stop() so the supervisor's grace period must
// expire and escalate to Kill().
type neverStoppingAdapter struct {
	*fakeAdapter
}

func (n *neverStoppingAdapter) Stop() error { return nil }
