// Package claude implements the runner.Adapter for the Claude Code CLI:
// it spawns the vendor subprocess in streaming stream-json mode and
// translates its line-delimited wire events into activity.AgentMessage.
// The wire protocol is treated as an opaque stream per spec scope; this
// package borrows github.com/anthropics/anthropic-sdk-go's content-block
// union shapes purely as a typed reference for decoding tool_use/text
// blocks, it never calls the Anthropic API directly.
package claude

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ceedaragents/cyrus/internal/formatter"
	"github.com/ceedaragents/cyrus/internal/runner"
	"github.com/ceedaragents/cyrus/internal/runner/procadapter"
	"github.com/ceedaragents/cyrus/pkg/activity"
)

// Config configures how the Claude Code CLI is invoked.
type Config struct {
	Binary         string // defaults to "claude"
	Model          string
	PermissionMode string
	AllowedTools   []string
	MCPConfigPath  string
}

// Adapter implements runner.Adapter for the Claude Code CLI.
type Adapter struct {
	cfg  Config
	proc *procadapter.Process
}

var _ runner.Adapter = (*Adapter)(nil)

// New constructs a Claude adapter. cfg.Binary defaults to "claude" if empty.
func New(cfg Config) *Adapter {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Start(ctx context.Context, cwd, prompt string) (<-chan activity.AgentMessage, error) {
	args := []string{
		"--print", prompt,
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
	}
	if a.cfg.Model != "" {
		args = append(args, "--model", a.cfg.Model)
	}
	if a.cfg.PermissionMode != "" {
		args = append(args, "--permission-mode", a.cfg.PermissionMode)
	}
	if a.cfg.MCPConfigPath != "" {
		args = append(args, "--mcp-config", a.cfg.MCPConfigPath)
	}
	for _, tool := range a.cfg.AllowedTools {
		args = append(args, "--allowedTools", tool)
	}

	proc, err := procadapter.Spawn(ctx, cwd, a.cfg.Binary, args...)
	if err != nil {
		return nil, fmt.Errorf("spawn claude: %w", err)
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

func (a *Adapter) AddStreamMessage(text string) error {
	payload, err := json.Marshal(streamInput{Type: "user", Message: streamInputMessage{Role: "user", Content: text}})
	if err != nil {
		return err
	}
	return a.proc.Write(string(payload))
}

func (a *Adapter) SupportsStreamingInput() bool { return true }

func (a *Adapter) Stop() error {
	if a.proc == nil {
		return nil
	}
	_ = a.proc.CloseStdin()
	return a.proc.Stop()
}

func (a *Adapter) Kill() error {
	if a.proc == nil {
		return nil
	}
	return a.proc.Kill()
}

func (a *Adapter) Formatter() formatter.Formatter { return Formatter{} }

// streamInput is the stream-json input envelope the CLI expects on stdin
// for a streaming turn.
type streamInput struct {
	Type    string             `json:"type"`
	Message streamInputMessage `json:"message"`
}

type streamInputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// wireEvent is one line of the CLI's stream-json stdout protocol.
type wireEvent struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype"`
	Message json.RawMessage `json:"message"`
	Result  string          `json:"result"`
	IsError bool            `json:"is_error"`
	Cwd     string          `json:"cwd"`
	Tools   []string        `json:"tools"`
	Model   string          `json:"model"`
	UUID    string          `json:"uuid"`
}

// wireMessage wraps the Claude Code CLI's assistant/user stream-json
// events, whose content blocks are the same discriminated union
// anthropic.ContentBlockUnion models for the Anthropic Messages API (the
// CLI streams the same message schema it was generated against).
type wireMessage struct {
	Role    string                        `json:"role"`
	Model   string                        `json:"model"`
	Content []anthropic.ContentBlockUnion `json:"content"`
}

// wireUserMessage is the CLI's echo of a tool_result sent back as the next
// "user" turn; tool_result is a request-shaped block (anthropic's
// ToolResultBlockParam), not part of the response-shaped ContentBlockUnion
// above, so it gets its own minimal struct.
type wireUserMessage struct {
	Content []struct {
		Type      string          `json:"type"`
		ToolUseID string          `json:"tool_use_id"`
		Content   json.RawMessage `json:"content"`
		IsError   bool            `json:"is_error"`
	} `json:"content"`
}

func decodeLine(line string) (activity.AgentMessage, bool) {
	var evt wireEvent
	if err := json.Unmarshal([]byte(line), &evt); err != nil {
		return activity.AgentMessage{}, false
	}

	switch evt.Type {
	case "system":
		if evt.Subtype != "init" {
			return activity.AgentMessage{}, false
		}
		return activity.AgentMessage{
			Role: activity.RoleSystemInit,
			SystemInit: &activity.SystemInit{
				SessionID: evt.UUID,
				Cwd:       evt.Cwd,
				Tools:     evt.Tools,
				Model:     evt.Model,
			},
		}, true

	case "assistant":
		var wm wireMessage
		if err := json.Unmarshal(evt.Message, &wm); err != nil {
			return activity.AgentMessage{}, false
		}
		return decodeAssistant(wm)

	case "user":
		var wm wireUserMessage
		if err := json.Unmarshal(evt.Message, &wm); err != nil {
			return activity.AgentMessage{}, false
		}
		return decodeToolResult(wm)

	case "result":
		return activity.AgentMessage{
			Role: resultRole(evt.IsError),
			Result: &activity.ResultMessage{
				Success:  !evt.IsError,
				LastText: evt.Result,
			},
		}, true
	}
	return activity.AgentMessage{}, false
}

func decodeAssistant(wm wireMessage) (activity.AgentMessage, bool) {
	blocks := make([]activity.ContentBlock, 0, len(wm.Content))
	for _, b := range wm.Content {
		switch b.Type {
		case "text":
			blocks = append(blocks, activity.ContentBlock{Text: b.Text})
		case "tool_use":
			var input map[string]any
			_ = json.Unmarshal(b.Input, &input)
			blocks = append(blocks, activity.ContentBlock{ToolUse: &activity.ToolUse{ID: b.ID, Name: b.Name, Input: input}})
		}
	}
	if len(blocks) == 0 {
		return activity.AgentMessage{}, false
	}
	return activity.AgentMessage{
		Role:      activity.RoleAssistant,
		Assistant: &activity.AssistantMessage{Content: blocks, Model: wm.Model},
	}, true
}

// decodeToolResult extracts the first tool_result block from the CLI's
// echoed user turn (the human prompt itself already went out over stdin,
// so a "user" event on stdout only ever carries a tool_result back).
func decodeToolResult(wm wireUserMessage) (activity.AgentMessage, bool) {
	for _, b := range wm.Content {
		if b.Type == "tool_result" {
			return activity.AgentMessage{
				Role: activity.RoleToolResult,
				ToolResult: &activity.ToolResultMessage{
					ToolUseID: b.ToolUseID,
					Content:   toolResultText(b.Content),
					IsError:   b.IsError,
				},
			}, true
		}
	}
	return activity.AgentMessage{}, false
}

func toolResultText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func resultRole(isError bool) activity.MessageRole {
	if isError {
		return activity.RoleResultError
	}
	return activity.RoleResultOK
}
