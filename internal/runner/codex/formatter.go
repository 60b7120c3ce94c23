package codex

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Formatter renders Codex's tool calls as markdown, implementing
// formatter.Formatter.
type Formatter struct{}

func (Formatter) ActionName(toolName string, input map[string]any, isError bool) string {
	switch toolName {
	case "shell", "exec":
		return "Running command"
	case "apply_patch":
		return "Applying patch"
	case "read_file":
		return "Reading file"
	default:
		return "Using " + toolName
	}
}

func (Formatter) Parameter(toolName string, input map[string]any) string {
	switch toolName {
	case "shell", "exec":
		return codeFence("bash", str(input["command"]))
	case "apply_patch":
		return codeFence("diff", str(input["patch"]))
	case "read_file":
		return "`" + str(input["path"]) + "`"
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
