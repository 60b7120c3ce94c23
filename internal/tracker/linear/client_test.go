package linear

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ceedaragents/cyrus/internal/tracker"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	client := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key"})
	return client, srv.Close
}

func TestNewClient_DefaultsBaseURLAndTimeout(t *testing.T) {
	c := NewClient(Config{APIKey: "k"})
	require.Equal(t, defaultBaseURL, c.baseURL)
	require.Equal(t, 30_000_000_000, int(c.httpClient.Timeout))
}

func TestClient_FetchIssue(t *testing.T) {
	client, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"issue":{
			"id":"iss-1","identifier":"ENG-1","title":"Fix bug","description":"desc","url":"https://linear.app/x/issue/ENG-1",
			"state":{"name":"In Progress"},
			"team":{"id":"team-1","key":"ENG"},
			"assignee":{"name":"Ada"},
			"labels":{"nodes":[{"name":"bug"},{"name":"urgent"}]}
		}}}`))
	})
	defer closeFn()

	issue, err := client.FetchIssue(t.Context(), "iss-1")
	require.NoError(t, err)
	require.Equal(t, "ENG-1", issue.Identifier)
	require.Equal(t, "ENG", issue.TeamKey)
	require.Equal(t, "Ada", issue.Owner)
	require.ElementsMatch(t, []string{"bug", "urgent"}, issue.Labels)
}

func TestClient_FetchIssue_NotFound(t *testing.T) {
	client, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"issue":null}}`))
	})
	defer closeFn()

	_, err := client.FetchIssue(t.Context(), "missing")
	require.ErrorIs(t, err, tracker.ErrIssueNotFound)
}

func TestClient_FetchIssue_Unauthorized(t *testing.T) {
	client, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	defer closeFn()

	_, err := client.FetchIssue(t.Context(), "iss-1")
	require.ErrorIs(t, err, tracker.ErrUnauthorized)
}

func TestClient_CreateComment(t *testing.T) {
	var captured graphQLRequest
	client, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"commentCreate":{"success":true,"comment":{
			"id":"c-1","body":"hello","issue":{"id":"iss-1"},"user":{"name":"bot"}
		}}}}`))
	})
	defer closeFn()

	comment, err := client.CreateComment(t.Context(), tracker.CreateCommentInput{IssueID: "iss-1", Body: "hello"})
	require.NoError(t, err)
	require.Equal(t, "c-1", comment.ID)
	require.Equal(t, "iss-1", captured.Variables["issueId"])
}

func TestClient_CreateAgentSession(t *testing.T) {
	client, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"commentCreate":{"success":true,"comment":{
			"id":"c-1","body":"start","issue":{"id":"iss-1"},"user":{"name":"bot"}
		}}}}`))
	})
	defer closeFn()

	session, err := client.CreateAgentSession(t.Context(), tracker.CreateAgentSessionInput{
		IssueID: "iss-1", RunnerKind: "claude", PromptName: "builder",
	})
	require.NoError(t, err)
	require.Equal(t, "c-1", session.ID)
	require.Equal(t, "iss-1", session.IssueID)
}

func TestActivityKindPrefix(t *testing.T) {
	require.NotEmpty(t, activityKindPrefix(tracker.AgentActivityThought))
	require.Empty(t, activityKindPrefix(tracker.AgentActivityResponse))
}
