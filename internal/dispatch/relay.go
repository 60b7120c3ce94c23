package dispatch

import (
	"strings"
	"sync"

	"github.com/ceedaragents/cyrus/internal/formatter"
	"github.com/ceedaragents/cyrus/internal/sink"
	"github.com/ceedaragents/cyrus/pkg/activity"
)

// pendingTool remembers a tool_use's name/input between the assistant
// message that issued it and the tool_result that completes it, so the
// result rendering has the full context the formatter needs.
type pendingTool struct {
	name  string
	input map[string]any
}

// activityRelay implements runner.EventSink: it is the wiring between one
// session's AgentRunner and its ActivitySink, rendering each canonical
// AgentMessage into zero or more activity.Activity via the runner's
// Formatter (spec §4.6 "each runner supplies a formatter..."). A pending
// tool call is posted as an ephemeral action activity; the per-surface
// Sink replaces it with the non-ephemeral result once the tool_result
// arrives, never appending a second activity for the same call.
type activityRelay struct {
	fmt  formatter.Formatter
	sink *sink.Dispatcher

	onTerminal func(success bool)
	onInit     func(vendorSessionID string)

	mu      sync.Mutex
	pending map[string]pendingTool
}

func newActivityRelay(fm formatter.Formatter, sk *sink.Dispatcher, onTerminal func(success bool)) *activityRelay {
	return &activityRelay{fmt: fm, sink: sk, onTerminal: onTerminal, pending: make(map[string]pendingTool)}
}

// Deliver satisfies runner.EventSink.
func (rl *activityRelay) Deliver(sessionID string, msg activity.AgentMessage) {
	switch msg.Role {
	case activity.RoleSystemInit:
		if rl.onInit != nil && msg.SystemInit != nil {
			rl.onInit(msg.SystemInit.SessionID)
		}
	case activity.RoleAssistant:
		rl.deliverAssistant(msg)
	case activity.RoleToolResult:
		rl.deliverToolResult(msg)
	case activity.RoleResultOK:
		rl.deliverResult(msg, true)
	case activity.RoleResultError:
		rl.deliverResult(msg, false)
	}
}

func (rl *activityRelay) deliverAssistant(msg activity.AgentMessage) {
	if msg.Assistant == nil {
		return
	}
	var textParts []string
	for _, block := range msg.Assistant.Content {
		if block.Text != "" {
			textParts = append(textParts, block.Text)
			continue
		}
		if block.ToolUse == nil {
			continue
		}
		tu := block.ToolUse
		rl.mu.Lock()
		rl.pending[tu.ID] = pendingTool{name: tu.Name, input: tu.Input}
		rl.mu.Unlock()

		body := rl.fmt.ActionName(tu.Name, tu.Input, false)
		if param := rl.fmt.Parameter(tu.Name, tu.Input); param != "" {
			body += "\n" + param
		}
		rl.sink.Submit(activity.Activity{Kind: activity.ActivityAction, Body: body, Ephemeral: true})
	}
	if len(textParts) > 0 {
		rl.sink.Submit(activity.Activity{Kind: activity.ActivityResponse, Body: strings.Join(textParts, "\n")})
	}
}

func (rl *activityRelay) deliverToolResult(msg activity.AgentMessage) {
	if msg.ToolResult == nil {
		return
	}
	tr := msg.ToolResult

	rl.mu.Lock()
	tool, ok := rl.pending[tr.ToolUseID]
	delete(rl.pending, tr.ToolUseID)
	rl.mu.Unlock()

	name, input := tr.ToolUseID, map[string]any(nil)
	if ok {
		name, input = tool.name, tool.input
	}

	body := rl.fmt.Result(name, input, tr.Content, tr.IsError)
	kind := activity.ActivityAction
	if tr.IsError {
		kind = activity.ActivityError
	}
	rl.sink.Submit(activity.Activity{Kind: kind, Body: body})
}

func (rl *activityRelay) deliverResult(msg activity.AgentMessage, success bool) {
	if msg.Result != nil {
		body := msg.Result.LastText
		kind := activity.ActivityResponse
		if !success {
			kind = activity.ActivityError
			if len(msg.Result.Errors) > 0 {
				body = strings.Join(msg.Result.Errors, "\n")
			}
		}
		if body != "" {
			rl.sink.Submit(activity.Activity{Kind: kind, Body: body})
		}
	}
	if rl.onTerminal != nil {
		rl.onTerminal(success)
	}
}
