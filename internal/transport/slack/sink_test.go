package slack

import (
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/require"

	"github.com/ceedaragents/cyrus/pkg/activity"
)

type fakeAPI struct {
	posted  []string
	updated []string
	postTS  string
}

func (f *fakeAPI) PostMessage(channelID string, options ...goslack.MsgOption) (string, string, error) {
	f.posted = append(f.posted, channelID)
	f.postTS = "1710000000.000100"
	return channelID, f.postTS, nil
}

func (f *fakeAPI) UpdateMessage(channelID, timestamp string, options ...goslack.MsgOption) (string, string, string, error) {
	f.updated = append(f.updated, timestamp)
	return channelID, timestamp, "", nil
}

func (f *fakeAPI) GetUserInfo(userID string) (*goslack.User, error) {
	return &goslack.User{ID: userID}, nil
}

func TestSink_PostsNewMessageForNonEphemeral(t *testing.T) {
	api := &fakeAPI{}
	sink := NewSink(api, "C1", "1710000000.000000")

	require.NoError(t, sink.Post(t.Context(), activity.Activity{Kind: activity.ActivityResponse, Body: "done"}))
	require.Len(t, api.posted, 1)
	require.Empty(t, api.updated)
}

func TestSink_UpdatesInPlaceForConsecutiveEphemeral(t *testing.T) {
	api := &fakeAPI{}
	sink := NewSink(api, "C1", "1710000000.000000")

	require.NoError(t, sink.Post(t.Context(), activity.Activity{Kind: activity.ActivityThought, Body: "thinking", Ephemeral: true}))
	require.Len(t, api.posted, 1)

	require.NoError(t, sink.Post(t.Context(), activity.Activity{Kind: activity.ActivityThought, Body: "still thinking", Ephemeral: true}))
	require.Len(t, api.posted, 1, "second ephemeral activity updates rather than posts")
	require.Len(t, api.updated, 1)
}

func TestSink_NonEphemeralReplacesEphemeral(t *testing.T) {
	api := &fakeAPI{}
	sink := NewSink(api, "C1", "1710000000.000000")

	require.NoError(t, sink.Post(t.Context(), activity.Activity{Kind: activity.ActivityThought, Body: "thinking", Ephemeral: true}))
	require.NoError(t, sink.Post(t.Context(), activity.Activity{Kind: activity.ActivityResponse, Body: "done"}))
	require.Len(t, api.posted, 1, "a non-ephemeral activity overwrites the pending ephemeral message")
	require.Len(t, api.updated, 1)

	require.NoError(t, sink.Post(t.Context(), activity.Activity{Kind: activity.ActivityThought, Body: "thinking again", Ephemeral: true}))
	require.Len(t, api.posted, 2, "after a non-ephemeral activity, the next ephemeral starts a new message, not an update")
}

func TestSink_AssignsMonotonicOrderSeq(t *testing.T) {
	api := &fakeAPI{}
	sink := NewSink(api, "C1", "1710000000.000000")

	require.NoError(t, sink.Post(t.Context(), activity.Activity{Kind: activity.ActivityResponse, Body: "a"}))
	require.NoError(t, sink.Post(t.Context(), activity.Activity{Kind: activity.ActivityResponse, Body: "b"}))
	require.EqualValues(t, 2, sink.nextOrderSeq)
}
