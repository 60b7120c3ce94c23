package runner

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ceedaragents/cyrus/pkg/activity"
)

// LogStream records every canonical AgentMessage for one session as both a
// machine-readable NDJSON file and a human-readable transcript, mirroring
// the "record every interaction for replay" idea in
// nexus/internal/agent/tape/recorder.go, adapted from an in-memory Tape to
// two append-only files named by session id (spec §4.5 "Log stream").
type LogStream struct {
	mu     sync.Mutex
	ndjson io.WriteCloser
	human  io.WriteCloser
}

// OpenLogStream creates "<dir>/<sessionID>.ndjson" and
// "<dir>/<sessionID>.log", truncating any prior run's files.
func OpenLogStream(dir, sessionID string) (*LogStream, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	ndjson, err := os.Create(filepath.Join(dir, sessionID+".ndjson"))
	if err != nil {
		return nil, fmt.Errorf("create ndjson log: %w", err)
	}
	human, err := os.Create(filepath.Join(dir, sessionID+".log"))
	if err != nil {
		ndjson.Close()
		return nil, fmt.Errorf("create human log: %w", err)
	}
	return &LogStream{ndjson: ndjson, human: human}, nil
}

// Deliver implements EventSink, appending one line to each file per
// message. It never returns an error to the caller: a logging failure must
// not interrupt the agent session, so write errors are swallowed after
// being attempted once.
func (l *LogStream) Deliver(sessionID string, msg activity.AgentMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := json.Marshal(struct {
		Time string `json:"time"`
		activity.AgentMessage
	}{Time: time.Now().UTC().Format(time.RFC3339Nano), AgentMessage: msg})
	if err == nil {
		l.ndjson.Write(line)
		l.ndjson.Write([]byte("\n"))
	}

	fmt.Fprintf(l.human, "[%s] %s\n", time.Now().UTC().Format(time.RFC3339), humanLine(msg))
}

// Close closes both underlying files.
func (l *LogStream) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err1 := l.ndjson.Close()
	err2 := l.human.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func humanLine(msg activity.AgentMessage) string {
	switch msg.Role {
	case activity.RoleSystemInit:
		if msg.SystemInit != nil {
			return fmt.Sprintf("init session=%s model=%s cwd=%s", msg.SystemInit.SessionID, msg.SystemInit.Model, msg.SystemInit.Cwd)
		}
	case activity.RoleUser:
		if msg.User != nil {
			return "user: " + msg.User.Content
		}
	case activity.RoleAssistant:
		if msg.Assistant != nil {
			var out string
			for _, block := range msg.Assistant.Content {
				switch {
				case block.Text != "":
					out += block.Text
				case block.ToolUse != nil:
					out += fmt.Sprintf("[tool %s(%s)]", block.ToolUse.Name, block.ToolUse.ID)
				}
			}
			return "assistant: " + out
		}
	case activity.RoleToolResult:
		if msg.ToolResult != nil {
			status := "ok"
			if msg.ToolResult.IsError {
				status = "error"
			}
			return fmt.Sprintf("tool_result(%s, %s): %s", msg.ToolResult.ToolUseID, status, msg.ToolResult.Content)
		}
	case activity.RoleResultOK, activity.RoleResultError:
		if msg.Result != nil {
			return fmt.Sprintf("result success=%v duration=%s errors=%v", msg.Result.Success, msg.Result.Duration, msg.Result.Errors)
		}
	}
	return string(msg.Role)
}
