package codex

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ceedaragents/cyrus/pkg/activity"
)

func TestDecodeLine_SessionCreated(t *testing.T) {
	msg, ok := decodeLine(`{"type":"session.created","cwd":"/work","model":"gpt-5-codex","tools":["shell"]}`)
	require.True(t, ok)
	require.Equal(t, activity.RoleSystemInit, msg.Role)
	require.Equal(t, "/work", msg.SystemInit.Cwd)
}

func TestDecodeLine_AgentMessageWithToolCall(t *testing.T) {
	line := `{"type":"agent_message","text":"checking files","tool_calls":[` +
		`{"id":"call_1","type":"function","function":{"name":"shell","arguments":"{\"command\":\"ls\"}"}}` +
		`]}`
	msg, ok := decodeLine(line)
	require.True(t, ok)
	require.Equal(t, activity.RoleAssistant, msg.Role)
	require.False(t, msg.Delta)
	require.Equal(t, "checking files", msg.Assistant.Content[0].Text)
	require.Equal(t, "call_1", msg.Assistant.Content[1].ToolUse.ID)
	require.Equal(t, "ls", msg.Assistant.Content[1].ToolUse.Input["command"])
}

func TestDecodeLine_AgentMessageDelta(t *testing.T) {
	msg, ok := decodeLine(`{"type":"agent_message_delta","text":"par"}`)
	require.True(t, ok)
	require.True(t, msg.Delta)
}

func TestDecodeLine_ToolCallOutput(t *testing.T) {
	msg, ok := decodeLine(`{"type":"tool_call_output","tool_call_id":"call_1","output":"a\nb","is_error":false}`)
	require.True(t, ok)
	require.Equal(t, activity.RoleToolResult, msg.Role)
	require.Equal(t, "call_1", msg.ToolResult.ToolUseID)
}

func TestDecodeLine_TaskCompleteSuccessAndFailure(t *testing.T) {
	msg, ok := decodeLine(`{"type":"task_complete","exit_code":0,"summary":"done"}`)
	require.True(t, ok)
	require.Equal(t, activity.RoleResultOK, msg.Role)
	require.True(t, msg.Result.Success)

	msg, ok = decodeLine(`{"type":"task_complete","exit_code":1,"summary":"failed"}`)
	require.True(t, ok)
	require.Equal(t, activity.RoleResultError, msg.Role)
	require.False(t, msg.Result.Success)
}

func TestAdapter_AddStreamMessageUnsupported(t *testing.T) {
	a := New(Config{})
	require.False(t, a.SupportsStreamingInput())
	require.Error(t, a.AddStreamMessage("x"))
}
