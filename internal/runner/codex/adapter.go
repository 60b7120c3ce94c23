// Package codex implements the runner.Adapter for the Codex CLI (and other
// OpenAI-compatible coding agents): it spawns the vendor subprocess in
// JSONL streaming mode and translates its line-delimited wire events into
// activity.AgentMessage. The wire protocol is treated as an opaque stream
// per spec scope; this package borrows
// github.com/sashabaranov/go-openai's tool-call/function-call shapes
// purely as a typed reference for decoding tool invocations, it never
// calls the OpenAI API directly.
package codex

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ceedaragents/cyrus/internal/formatter"
	"github.com/ceedaragents/cyrus/internal/runner"
	"github.com/ceedaragents/cyrus/internal/runner/procadapter"
	"github.com/ceedaragents/cyrus/pkg/activity"
)

// Config configures how the Codex CLI is invoked.
type Config struct {
	Binary        string // defaults to "codex"
	Model         string
	Sandbox       string
	ApprovalMode  string
}

// Adapter implements runner.Adapter for the Codex CLI.
type Adapter struct {
	cfg  Config
	proc *procadapter.Process
}

var _ runner.Adapter = (*Adapter)(nil)

// New constructs a Codex adapter. cfg.Binary defaults to "codex" if empty.
func New(cfg Config) *Adapter {
	if cfg.Binary == "" {
		cfg.Binary = "codex"
	}
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Start(ctx context.Context, cwd, prompt string) (<-chan activity.AgentMessage, error) {
	args := []string{"exec", prompt, "--json"}
	if a.cfg.Model != "" {
		args = append(args, "--model", a.cfg.Model)
	}
	if a.cfg.Sandbox != "" {
		args = append(args, "--sandbox", a.cfg.Sandbox)
	}
	if a.cfg.ApprovalMode != "" {
		args = append(args, "--approval-mode", a.cfg.ApprovalMode)
	}

	proc, err := procadapter.Spawn(ctx, cwd, a.cfg.Binary, args...)
	if err != nil {
		return nil, fmt.Errorf("spawn codex: %w", err)
	}
	a.proc = proc

	out := make(chan activity.AgentMessage, 32)
	go a.translate(out)
	return out, nil
}

func (a *Adapter) translate(out chan<- activity.AgentMessage) {
	defer close(out)
	for line := range a.proc.Lines {
		msg, ok := decodeLine(line)
		if !ok {
			continue
		}
		out <- msg
	}
}

// AddStreamMessage is unsupported: the Codex CLI runs one `exec` per
// invocation and does not accept follow-up prompts over stdin mid-turn.
func (a *Adapter) AddStreamMessage(text string) error {
	return fmt.Errorf("codex adapter: streaming input is not supported")
}

func (a *Adapter) SupportsStreamingInput() bool { return false }

func (a *Adapter) Stop() error {
	if a.proc == nil {
		return nil
	}
	return a.proc.Stop()
}

func (a *Adapter) Kill() error {
	if a.proc == nil {
		return nil
	}
	return a.proc.Kill()
}

func (a *Adapter) Formatter() formatter.Formatter { return Formatter{} }

// wireEvent is one line of the Codex CLI's --json streaming protocol.
type wireEvent struct {
	Type    string           `json:"type"`
	Cwd     string            `json:"cwd"`
	Model   string            `json:"model"`
	Tools   []string          `json:"tools"`
	Text    string            `json:"text"`
	Delta   bool              `json:"delta"`
	ToolCalls []openai.ToolCall `json:"tool_calls"`
	ToolCallID string          `json:"tool_call_id"`
	Output     string          `json:"output"`
	IsError    bool            `json:"is_error"`
	ExitCode   int             `json:"exit_code"`
	Summary    string          `json:"summary"`
}

func decodeLine(line string) (activity.AgentMessage, bool) {
	var evt wireEvent
	if err := json.Unmarshal([]byte(line), &evt); err != nil {
		return activity.AgentMessage{}, false
	}

	switch evt.Type {
	case "session.created":
		return activity.AgentMessage{
			Role: activity.RoleSystemInit,
			SystemInit: &activity.SystemInit{
				Cwd:   evt.Cwd,
				Tools: evt.Tools,
				Model: evt.Model,
			},
		}, true

	case "agent_message", "agent_message_delta":
		blocks := []activity.ContentBlock{{Text: evt.Text}}
		for _, tc := range evt.ToolCalls {
			var input map[string]any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
			blocks = append(blocks, activity.ContentBlock{ToolUse: &activity.ToolUse{ID: tc.ID, Name: tc.Function.Name, Input: input}})
		}
		return activity.AgentMessage{
			Role:      activity.RoleAssistant,
			Delta:     evt.Type == "agent_message_delta",
			Assistant: &activity.AssistantMessage{Content: blocks, Model: evt.Model},
		}, true

	case "tool_call_output":
		return activity.AgentMessage{
			Role: activity.RoleToolResult,
			ToolResult: &activity.ToolResultMessage{
				ToolUseID: evt.ToolCallID,
				Content:   evt.Output,
				IsError:   evt.IsError,
			},
		}, true

	case "task_complete":
		role := activity.RoleResultOK
		if evt.ExitCode != 0 {
			role = activity.RoleResultError
		}
		return activity.AgentMessage{
			Role: role,
			Result: &activity.ResultMessage{
				Success:  evt.ExitCode == 0,
				LastText: evt.Summary,
			},
		}, true
	}
	return activity.AgentMessage{}, false
}
