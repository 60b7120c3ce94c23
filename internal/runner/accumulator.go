package runner

import "github.com/ceedaragents/cyrus/pkg/activity"

// accumulator concatenates consecutive delta AgentMessages of the same role
// into one canonical message, flushing on a role change or when a
// non-delta event arrives (spec §4.5 "Delta accumulation"). Only the
// assistant and user roles stream as deltas in practice; other roles are
// passed straight through by the caller without ever reaching add.
type accumulator struct {
	role   activity.MessageRole
	active bool
	text   string
	model  string
}

func newAccumulator() *accumulator {
	return &accumulator{}
}

// add folds one delta message into the in-flight accumulation. It returns
// a flushed message and ok=true if the delta belongs to a different role
// than what was already accumulating, meaning the prior accumulation must
// be emitted before this delta starts a new one.
func (a *accumulator) add(msg activity.AgentMessage) (activity.AgentMessage, bool) {
	text, model := deltaText(msg)

	if a.active && a.role != msg.Role {
		flushed, ok := a.flush()
		a.start(msg.Role, text, model)
		return flushed, ok
	}
	if !a.active {
		a.start(msg.Role, text, model)
		return activity.AgentMessage{}, false
	}

	a.text += text
	if model != "" {
		a.model = model
	}
	return activity.AgentMessage{}, false
}

func (a *accumulator) start(role activity.MessageRole, text, model string) {
	a.active = true
	a.role = role
	a.text = text
	a.model = model
}

// flush emits the in-flight accumulation as a canonical non-delta message,
// if anything has been accumulated.
func (a *accumulator) flush() (activity.AgentMessage, bool) {
	if !a.active {
		return activity.AgentMessage{}, false
	}
	role, text, model := a.role, a.text, a.model
	a.active = false
	a.text = ""
	a.model = ""

	switch role {
	case activity.RoleAssistant:
		return activity.AgentMessage{
			Role:      activity.RoleAssistant,
			Assistant: &activity.AssistantMessage{Content: []activity.ContentBlock{{Text: text}}, Model: model},
		}, true
	case activity.RoleUser:
		return activity.AgentMessage{
			Role: activity.RoleUser,
			User: &activity.UserMessage{Content: text},
		}, true
	default:
		return activity.AgentMessage{Role: role}, true
	}
}

func deltaText(msg activity.AgentMessage) (text, model string) {
	switch {
	case msg.Assistant != nil:
		for _, block := range msg.Assistant.Content {
			text += block.Text
		}
		model = msg.Assistant.Model
	case msg.User != nil:
		text = msg.User.Content
	}
	return text, model
}
