// Package formatter defines the Message Formatter contract (spec §4.6
// "Tool formatting"): pure functions that render one tool call's name,
// parameters, and result as human-readable markdown for a transport
// surface. Each AgentRunner adapter (internal/runner/claude,
// internal/runner/codex) implements this per its vendor's tool
// vocabulary; internal/dispatch's activity relay reaches it through the
// adapter's Formatter() method without knowing which vendor produced the
// message.
package formatter

// Formatter renders one runner's tool calls as markdown.
type Formatter interface {
	// ActionName returns the short present-tense label for a tool call,
	// e.g. "Running command" for a shell invocation.
	ActionName(toolName string, input map[string]any, isError bool) string

	// Parameter renders the tool call's input as markdown (a code fence,
	// an inline path, etc., depending on the tool).
	Parameter(toolName string, input map[string]any) string

	// Result renders the tool call's raw output as markdown, truncating
	// and marking errors as appropriate.
	Result(toolName string, input map[string]any, raw string, isError bool) string
}
