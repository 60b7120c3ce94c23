// Package session implements the Session Registry & Workspace Manager
// (spec §2, §3 "Session"): per-(repository, issue, thread) session
// records tracking state, the owning runner and sink handles, and the
// bookkeeping needed to route a follow-up inbound event back to the right
// in-flight agent session.
package session

import (
	"sync"
	"time"

	"github.com/ceedaragents/cyrus/internal/runner"
	"github.com/ceedaragents/cyrus/internal/sink"
	"github.com/ceedaragents/cyrus/pkg/activity"
)

// State is the session-level lifecycle, a superset of runner.State that
// adds awaitingInput for a session whose runner is alive but blocked on a
// human reply (spec §3 Session state enum).
type State string

const (
	StatePending       State = "pending"
	StateActive        State = "active"
	StateAwaitingInput State = "awaitingInput"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateStopped       State = "stopped"
)

func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateStopped:
		return true
	default:
		return false
	}
}

// Session is one tracked (repository, issue, thread) conversation with an
// agent. sessionId stays empty until the runner emits its first message
// (spec §3 Session invariant).
type Session struct {
	Key Key

	SessionID      string
	IssueID        string
	RepositoryID   string
	SurfaceContext activity.SurfaceRefs
	TransportKind  activity.TransportKind
	WorkspacePath  string
	RunnerKind     string

	RunnerHandle *runner.Runner
	SinkHandle   *sink.Dispatcher

	State State

	CreatedAt      time.Time
	LastActivityAt time.Time

	// PendingPrompts queues prompt text that arrived before the runner was
	// ready to accept streaming input.
	PendingPrompts []string

	SupportsStreamingInput bool

	// EmittedToolUseIDs monotonically grows as the runner pairs tool
	// calls; used to detect a duplicate or out-of-order tool_result.
	EmittedToolUseIDs map[string]struct{}

	LastResultMessage *activity.ResultMessage

	mu sync.Mutex
}

// Key identifies a session: one agent conversation per (repository, issue,
// thread) (spec §2 "Session Registry... per-(repository,issue,thread)").
type Key struct {
	RepositoryID string
	IssueID      string
	ThreadID     string
}

// Touch updates LastActivityAt, called on every inbound event or outbound
// activity routed to this session.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivityAt = now
}

// RecordToolUse adds id to EmittedToolUseIDs, reporting whether it was
// already present (a duplicate tool_use the runner re-emitted).
func (s *Session) RecordToolUse(id string) (alreadySeen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EmittedToolUseIDs == nil {
		s.EmittedToolUseIDs = make(map[string]struct{})
	}
	_, alreadySeen = s.EmittedToolUseIDs[id]
	s.EmittedToolUseIDs[id] = struct{}{}
	return alreadySeen
}

// EnqueuePrompt appends text to PendingPrompts, used while the runner
// hasn't yet signalled it can accept streaming input.
func (s *Session) EnqueuePrompt(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingPrompts = append(s.PendingPrompts, text)
}

// DrainPrompts returns and clears PendingPrompts.
func (s *Session) DrainPrompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := s.PendingPrompts
	s.PendingPrompts = nil
	return drained
}

// SetState transitions the session's state; terminal transitions are
// sticky (spec §4.5 state table: "completed/failed/stopped -> any ->
// (terminal) ignore").
func (s *Session) SetState(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State.Terminal() {
		return
	}
	s.State = to
}

// CurrentState returns the session's state.
func (s *Session) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State
}
