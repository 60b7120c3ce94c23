// Package activity defines the canonical message and event vocabulary that
// flows between Cyrus's EventTransports, AgentRunners, and ActivitySinks.
// Every adapter translates a vendor-specific wire format into these types;
// nothing downstream of an adapter boundary sees untyped data.
package activity

import "time"

// TransportKind identifies the surface an InboundEvent originated from.
type TransportKind string

const (
	TransportTracker  TransportKind = "tracker"
	TransportSlack    TransportKind = "slack"
	TransportDiscord  TransportKind = "discord"
	TransportGitHub   TransportKind = "github"
)

// EventKind classifies a normalised InboundEvent for the Router.
type EventKind string

const (
	EventNewThread EventKind = "newThread"
	EventReply     EventKind = "reply"
	EventMention   EventKind = "mention"
	EventUnassign  EventKind = "unassign"
	EventStop      EventKind = "stop"
	EventIgnore    EventKind = "ignore"
)

// Attachment is a file reference carried by an InboundEvent or posted
// alongside an Activity.
type Attachment struct {
	Name        string
	URL         string
	ContentType string
	Size        int64
}

// SurfaceRefs carries the surface-specific identifiers needed to reply in
// place (channel id, thread/message id, comment id). Transports populate
// only the fields meaningful to them; the Router and Sink treat it as
// opaque beyond what their own surface understands.
type SurfaceRefs struct {
	ChannelID string
	ThreadID  string
	MessageID string
	CommentID string
}

// InboundEvent is the normalised shape every EventTransport emits.
type InboundEvent struct {
	TransportKind TransportKind
	EnvelopeID    string // dedup key: unique per (TransportKind, EnvelopeID)
	Kind          EventKind
	Author        string
	Content       string
	Attachments   []Attachment
	SurfaceRefs   SurfaceRefs
	OccurredAt    time.Time

	// IssueRefs, when present, ties the event to a tracker issue directly
	// (e.g. a tracker webhook); surfaces that only know a channel/thread
	// leave this nil and rely on the Router's session lookup instead.
	IssueRefs *IssueRefs
}

// IssueRefs identifies the issue-tracker ticket an event concerns.
type IssueRefs struct {
	IssueID string
	Labels  []string
	TeamKey string
	Owner   string
}

// MessageRole distinguishes the canonical AgentMessage variants.
type MessageRole string

const (
	RoleSystemInit   MessageRole = "system.init"
	RoleUser         MessageRole = "user"
	RoleAssistant    MessageRole = "assistant"
	RoleToolResult   MessageRole = "tool_result"
	RoleResultOK     MessageRole = "result.success"
	RoleResultError  MessageRole = "result.error"
)

// ContentBlock is one element of an assistant message's content sequence:
// either free text or a tool invocation. Exactly one of Text/ToolUse is set.
type ContentBlock struct {
	Text    string
	ToolUse *ToolUse
}

// ToolUse is a structured tool invocation emitted by the agent.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
}

// Usage reports token accounting for a finished turn.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CachedInput  int
}

// AgentMessage is the canonical tagged union every AgentRunner adapter
// produces. Exactly one of the typed payload fields is populated,
// indicated by Role.
type AgentMessage struct {
	Role MessageRole

	// Delta marks this message as a partial chunk of a longer message of
	// the same Role; the supervisor concatenates consecutive deltas of the
	// same role into one canonical message (spec §4.5 "Delta accumulation").
	Delta bool

	SystemInit *SystemInit
	User       *UserMessage
	Assistant  *AssistantMessage
	ToolResult *ToolResultMessage
	Result     *ResultMessage
}

// SystemInit is the mandatory first message of every session.
type SystemInit struct {
	SessionID      string
	Cwd            string
	Tools          []string
	Model          string
	PermissionMode string
	MCPServers     []string
}

// UserMessage carries a user turn, either free text or structured blocks
// (e.g. a wrapped <new_comment> burst).
type UserMessage struct {
	Content         string
	ParentToolUseID string
}

// AssistantMessage carries the agent's turn: free text interleaved with
// tool invocations.
type AssistantMessage struct {
	Content []ContentBlock
	Model   string
}

// ToolResultMessage pairs with the AssistantMessage tool_use of the same
// ToolUseID.
type ToolResultMessage struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// ResultMessage is the terminal message of a session turn.
type ResultMessage struct {
	Success  bool
	Duration time.Duration
	Usage    Usage
	LastText string
	Errors   []string
}

// ActivityKind classifies an outbound Activity for rendering.
type ActivityKind string

const (
	ActivityThought     ActivityKind = "thought"
	ActivityAction      ActivityKind = "action"
	ActivityResponse    ActivityKind = "response"
	ActivityError       ActivityKind = "error"
	ActivityElicitation ActivityKind = "elicitation"
)

// Signal annotates an Activity with a control-flow hint for the sink/dispatcher.
type Signal string

const (
	SignalStop           Signal = "stop"
	SignalAwaitingInput   Signal = "awaitingInput"
)

// Activity is a single human-visible unit posted to a surface under a
// Session.
type Activity struct {
	Kind      ActivityKind
	Body      string
	Ephemeral bool
	Signal    Signal

	SourceCommentID string

	// OrderSeq is assigned by the sink at submission time, not at runner
	// emission time (spec §3 Activity invariant).
	OrderSeq uint64

	Attachments []Attachment
}
