package tracker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ceedaragents/cyrus/internal/tracker"
	"github.com/ceedaragents/cyrus/pkg/activity"
)

type fakeTrackerService struct {
	tracker.Service
	posted []tracker.PostAgentActivityInput
}

func (f *fakeTrackerService) PostAgentActivity(ctx context.Context, in tracker.PostAgentActivityInput) error {
	f.posted = append(f.posted, in)
	return nil
}

func TestSink_PostsAgentActivityWithOrderSeqAndEphemeralFlag(t *testing.T) {
	svc := &fakeTrackerService{}
	sink := NewSink(svc, "ENG-1", "session-1")

	require.NoError(t, sink.Post(t.Context(), activity.Activity{Kind: activity.ActivityThought, Body: "thinking", Ephemeral: true}))
	require.NoError(t, sink.Post(t.Context(), activity.Activity{Kind: activity.ActivityResponse, Body: "done"}))

	require.Len(t, svc.posted, 2)
	require.Equal(t, "ENG-1", svc.posted[0].IssueID)
	require.Equal(t, "session-1", svc.posted[0].AgentSessionID)
	require.True(t, svc.posted[0].Ephemeral)
	require.False(t, svc.posted[1].Ephemeral)
}
