package claude

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Formatter renders Claude Code's tool calls as markdown, implementing
// formatter.Formatter.
type Formatter struct{}

func (Formatter) ActionName(toolName string, input map[string]any, isError bool) string {
	switch toolName {
	case "Bash":
		return "Running command"
	case "Read":
		return "Reading file"
	case "Edit", "Write":
		return "Editing file"
	case "Grep":
		return "Searching"
	case "Glob":
		return "Finding files"
	case "Task":
		return "Delegating to subagent"
	case "WebFetch", "WebSearch":
		return "Browsing the web"
	default:
		return "Using " + toolName
	}
}

func (Formatter) Parameter(toolName string, input map[string]any) string {
	switch toolName {
	case "Bash":
		return codeFence("bash", str(input["command"]))
	case "Read", "Edit", "Write":
		return "`" + str(input["file_path"]) + "`"
	case "Grep":
		return "`" + str(input["pattern"]) + "`"
	case "Glob":
		return "`" + str(input["pattern"]) + "`"
	default:
		raw, _ := json.MarshalIndent(input, "", "  ")
		return codeFence("json", string(raw))
	}
}

func (Formatter) Result(toolName string, input map[string]any, raw string, isError bool) string {
	if isError {
		return "**Error:** " + raw
	}
	if len(raw) > 2000 {
		raw = raw[:2000] + "\n... (truncated)"
	}
	return codeFence("", raw)
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func codeFence(lang, body string) string {
	return fmt.Sprintf("```%s\n%s\n```", lang, strings.TrimRight(body, "\n"))
}
