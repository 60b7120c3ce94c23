package tracker

import (
	"context"
	"fmt"

	"github.com/ceedaragents/cyrus/internal/tracker"
	"github.com/ceedaragents/cyrus/pkg/activity"
)

// Sink implements the ActivitySink contract by posting onto an issue's
// tracker-side agent session via tracker.Service.PostAgentActivity (spec
// §2 "Issue-Tracker Service... post agent activities"). Ephemeral replace
// is left to the tracker backend: PostAgentActivityInput carries the
// Ephemeral flag through. The Linear client (internal/tracker/linear) does
// not act on that flag, so on Linear every activity, ephemeral or not,
// becomes a new reply and nothing is replaced.
type Sink struct {
	svc            tracker.Service
	issueID        string
	agentSessionID string
	nextOrderSeq   uint64
}

// NewSink binds a Sink to one tracker-side agent session.
func NewSink(svc tracker.Service, issueID, agentSessionID string) *Sink {
	return &Sink{svc: svc, issueID: issueID, agentSessionID: agentSessionID}
}

// Post implements the ActivitySink contract.
func (s *Sink) Post(ctx context.Context, a activity.Activity) error {
	a.OrderSeq = s.nextOrderSeq
	s.nextOrderSeq++

	err := s.svc.PostAgentActivity(ctx, tracker.PostAgentActivityInput{
		AgentSessionID: s.agentSessionID,
		IssueID:        s.issueID,
		Kind:           tracker.ActivityKindFromCanonical(a.Kind),
		Body:           a.Body,
		Ephemeral:      a.Ephemeral,
	})
	if err != nil {
		return fmt.Errorf("post tracker agent activity: %w", err)
	}
	return nil
}
