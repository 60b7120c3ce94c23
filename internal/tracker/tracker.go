// Package tracker defines the Issue-Tracker Service contract: the interface
// the rest of Cyrus uses to read and write issue-tracker state, independent
// of which backend (Linear, Jira, ...) is actually wired in (spec §2
// "Issue-Tracker Service").
package tracker

import (
	"context"
	"errors"

	"github.com/ceedaragents/cyrus/pkg/activity"
)

var (
	ErrIssueNotFound   = errors.New("tracker: issue not found")
	ErrSessionNotFound = errors.New("tracker: agent session not found")
	ErrUnauthorized    = errors.New("tracker: unauthorized")
)

// Issue is the subset of tracker ticket state Cyrus needs to route and
// render work: its identity, the labels/team/owner used for routing, and
// its current workflow state.
type Issue struct {
	ID            string
	Identifier    string // human-facing key, e.g. "ENG-123"
	Title         string
	Description   string
	Labels        []string
	TeamKey       string
	Owner         string
	WorkflowState string
	WorkspaceID   string
	URL           string
}

// Comment is a single tracker comment thread entry.
type Comment struct {
	ID        string
	IssueID   string
	Author    string
	Body      string
	ParentID  string
}

// User is a tracker-side identity, used to resolve @-mention authorship and
// to attribute agent-authored comments.
type User struct {
	ID    string
	Name  string
	Email string
}

// Team groups issues for routing by teamKey (spec §3 Repository.teamKeys).
type Team struct {
	ID  string
	Key string
}

// Label is a tracker label, matched case-insensitively against PromptRule.Labels.
type Label struct {
	ID   string
	Name string
}

// WorkflowState is one step of a team's issue workflow (e.g. "In Progress").
type WorkflowState struct {
	ID   string
	Name string
	Type string // triage | backlog | unstarted | started | completed | canceled
}

// AgentActivityKind is the tracker-side typed enum of activities the
// Issue-Tracker Service can post back onto an issue (spec §2 "post agent
// activities (typed enum of thought/action/response/error/elicitation)").
// It mirrors activity.ActivityKind; kept distinct because a tracker backend
// may support a narrower or differently-named set than Cyrus's internal one.
type AgentActivityKind string

const (
	AgentActivityThought     AgentActivityKind = "thought"
	AgentActivityAction      AgentActivityKind = "action"
	AgentActivityResponse    AgentActivityKind = "response"
	AgentActivityError       AgentActivityKind = "error"
	AgentActivityElicitation AgentActivityKind = "elicitation"
)

// ActivityKindFromCanonical maps the canonical activity.ActivityKind to the
// tracker's own enum; it is the identity mapping today but keeps the two
// vocabularies independently evolvable.
func ActivityKindFromCanonical(k activity.ActivityKind) AgentActivityKind {
	return AgentActivityKind(k)
}

// CreateCommentInput is the payload for Service.CreateComment.
type CreateCommentInput struct {
	IssueID  string
	Body     string
	ParentID string // reply-in-thread, empty for a new top-level comment
}

// CreateAgentSessionInput starts a tracker-visible record of an agent run
// against an issue (spec §2 "create agent sessions").
type CreateAgentSessionInput struct {
	IssueID     string
	RunnerKind  string
	PromptName  string
	WorkspaceID string
}

// AgentSession is the tracker's handle for a running or finished agent
// session, distinct from Cyrus's own Session record (internal/session):
// this one is the user-visible audit trail on the tracker side.
type AgentSession struct {
	ID      string
	IssueID string
}

// PostAgentActivityInput posts one agent-authored update onto a tracker
// agent session.
type PostAgentActivityInput struct {
	AgentSessionID string
	IssueID        string // the issue the session belongs to; carried by the caller (internal/transport/tracker) from the Session record
	Kind           AgentActivityKind
	Body           string
	Ephemeral      bool
}

// Attachment is a file to upload and link from a comment or activity.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// UploadedAttachment is the tracker's reference to a previously uploaded
// Attachment, suitable for embedding in markdown.
type UploadedAttachment struct {
	URL  string
	Name string
}

// Service abstracts a ticketing backend. Every method takes a context and
// returns a wrapped error; callers classify failures with errors.Is against
// the sentinels above.
type Service interface {
	FetchIssue(ctx context.Context, issueID string) (*Issue, error)
	FetchComment(ctx context.Context, commentID string) (*Comment, error)
	FetchUser(ctx context.Context, userID string) (*User, error)
	FetchTeam(ctx context.Context, teamID string) (*Team, error)
	FetchLabels(ctx context.Context, issueID string) ([]Label, error)
	FetchWorkflowStates(ctx context.Context, teamID string) ([]WorkflowState, error)

	CreateComment(ctx context.Context, in CreateCommentInput) (*Comment, error)

	CreateAgentSession(ctx context.Context, in CreateAgentSessionInput) (*AgentSession, error)
	PostAgentActivity(ctx context.Context, in PostAgentActivityInput) error

	UploadAttachment(ctx context.Context, att Attachment) (*UploadedAttachment, error)
}
