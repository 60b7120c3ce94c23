// Package linear implements the tracker.Service contract against Linear's
// GraphQL API, grounded on the REST client idiom in
// nexus/internal/tools/servicenow (request-build, setAuth, status-check,
// decode) but speaking GraphQL over a single endpoint as Linear requires.
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ceedaragents/cyrus/internal/tracker"
)

const defaultBaseURL = "https://api.linear.app/graphql"

// Client is a Linear GraphQL API client satisfying tracker.Service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Config configures a Client.
type Config struct {
	BaseURL string // defaults to defaultBaseURL
	APIKey  string
	Timeout time.Duration
}

// NewClient creates a Linear API client.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

var _ tracker.Service = (*Client)(nil)

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return tracker.ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			respBody = []byte("(failed to read response body)")
		}
		return fmt.Errorf("linear API error %d: %s", resp.StatusCode, string(respBody))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphQLError  `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("linear graphql error: %s", envelope.Errors[0].Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

type issueNode struct {
	ID          string `json:"id"`
	Identifier  string `json:"identifier"`
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	State       struct {
		Name string `json:"name"`
	} `json:"state"`
	Team struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	} `json:"team"`
	Assignee *struct {
		Name string `json:"name"`
	} `json:"assignee"`
	Labels struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
}

func (n issueNode) toIssue() *tracker.Issue {
	labels := make([]string, 0, len(n.Labels.Nodes))
	for _, l := range n.Labels.Nodes {
		labels = append(labels, l.Name)
	}
	owner := ""
	if n.Assignee != nil {
		owner = n.Assignee.Name
	}
	return &tracker.Issue{
		ID:            n.ID,
		Identifier:    n.Identifier,
		Title:         n.Title,
		Description:   n.Description,
		Labels:        labels,
		TeamKey:       n.Team.Key,
		Owner:         owner,
		WorkflowState: n.State.Name,
		WorkspaceID:   n.Team.ID,
		URL:           n.URL,
	}
}

const fetchIssueQuery = `
query($id: String!) {
  issue(id: $id) {
    id identifier title description url
    state { name }
    team { id key }
    assignee { name }
    labels { nodes { name } }
  }
}`

// FetchIssue implements tracker.Service.
func (c *Client) FetchIssue(ctx context.Context, issueID string) (*tracker.Issue, error) {
	var result struct {
		Issue *issueNode `json:"issue"`
	}
	if err := c.do(ctx, fetchIssueQuery, map[string]any{"id": issueID}, &result); err != nil {
		return nil, fmt.Errorf("fetch issue %s: %w", issueID, err)
	}
	if result.Issue == nil {
		return nil, fmt.Errorf("fetch issue %s: %w", issueID, tracker.ErrIssueNotFound)
	}
	return result.Issue.toIssue(), nil
}

const fetchCommentQuery = `
query($id: String!) {
  comment(id: $id) {
    id body
    issue { id }
    user { name }
    parent { id }
  }
}`

// FetchComment implements tracker.Service.
func (c *Client) FetchComment(ctx context.Context, commentID string) (*tracker.Comment, error) {
	var result struct {
		Comment *struct {
			ID    string `json:"id"`
			Body  string `json:"body"`
			Issue struct {
				ID string `json:"id"`
			} `json:"issue"`
			User struct {
				Name string `json:"name"`
			} `json:"user"`
			Parent *struct {
				ID string `json:"id"`
			} `json:"parent"`
		} `json:"comment"`
	}
	if err := c.do(ctx, fetchCommentQuery, map[string]any{"id": commentID}, &result); err != nil {
		return nil, fmt.Errorf("fetch comment %s: %w", commentID, err)
	}
	if result.Comment == nil {
		return nil, fmt.Errorf("fetch comment %s: %w", commentID, tracker.ErrIssueNotFound)
	}
	parentID := ""
	if result.Comment.Parent != nil {
		parentID = result.Comment.Parent.ID
	}
	return &tracker.Comment{
		ID:       result.Comment.ID,
		IssueID:  result.Comment.Issue.ID,
		Author:   result.Comment.User.Name,
		Body:     result.Comment.Body,
		ParentID: parentID,
	}, nil
}

const fetchUserQuery = `query($id: String!) { user(id: $id) { id name email } }`

// FetchUser implements tracker.Service.
func (c *Client) FetchUser(ctx context.Context, userID string) (*tracker.User, error) {
	var result struct {
		User *tracker.User `json:"user"`
	}
	if err := c.do(ctx, fetchUserQuery, map[string]any{"id": userID}, &result); err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", userID, err)
	}
	if result.User == nil {
		return nil, fmt.Errorf("fetch user %s: %w", userID, tracker.ErrIssueNotFound)
	}
	return result.User, nil
}

const fetchTeamQuery = `query($id: String!) { team(id: $id) { id key } }`

// FetchTeam implements tracker.Service.
func (c *Client) FetchTeam(ctx context.Context, teamID string) (*tracker.Team, error) {
	var result struct {
		Team *tracker.Team `json:"team"`
	}
	if err := c.do(ctx, fetchTeamQuery, map[string]any{"id": teamID}, &result); err != nil {
		return nil, fmt.Errorf("fetch team %s: %w", teamID, err)
	}
	if result.Team == nil {
		return nil, fmt.Errorf("fetch team %s: %w", teamID, tracker.ErrIssueNotFound)
	}
	return result.Team, nil
}

const fetchLabelsQuery = `
query($id: String!) {
  issue(id: $id) {
    labels { nodes { id name } }
  }
}`

// FetchLabels implements tracker.Service.
func (c *Client) FetchLabels(ctx context.Context, issueID string) ([]tracker.Label, error) {
	var result struct {
		Issue *struct {
			Labels struct {
				Nodes []tracker.Label `json:"nodes"`
			} `json:"labels"`
		} `json:"issue"`
	}
	if err := c.do(ctx, fetchLabelsQuery, map[string]any{"id": issueID}, &result); err != nil {
		return nil, fmt.Errorf("fetch labels for issue %s: %w", issueID, err)
	}
	if result.Issue == nil {
		return nil, fmt.Errorf("fetch labels for issue %s: %w", issueID, tracker.ErrIssueNotFound)
	}
	return result.Issue.Labels.Nodes, nil
}

const fetchWorkflowStatesQuery = `
query($id: String!) {
  team(id: $id) {
    states { nodes { id name type } }
  }
}`

// FetchWorkflowStates implements tracker.Service.
func (c *Client) FetchWorkflowStates(ctx context.Context, teamID string) ([]tracker.WorkflowState, error) {
	var result struct {
		Team *struct {
			States struct {
				Nodes []tracker.WorkflowState `json:"nodes"`
			} `json:"states"`
		} `json:"team"`
	}
	if err := c.do(ctx, fetchWorkflowStatesQuery, map[string]any{"id": teamID}, &result); err != nil {
		return nil, fmt.Errorf("fetch workflow states for team %s: %w", teamID, err)
	}
	if result.Team == nil {
		return nil, fmt.Errorf("fetch workflow states for team %s: %w", teamID, tracker.ErrIssueNotFound)
	}
	return result.Team.States.Nodes, nil
}

const createCommentMutation = `
mutation($issueId: String!, $body: String!, $parentId: String) {
  commentCreate(input: { issueId: $issueId, body: $body, parentId: $parentId }) {
    success
    comment { id body issue { id } user { name } }
  }
}`

// CreateComment implements tracker.Service.
func (c *Client) CreateComment(ctx context.Context, in tracker.CreateCommentInput) (*tracker.Comment, error) {
	vars := map[string]any{"issueId": in.IssueID, "body": in.Body}
	if in.ParentID != "" {
		vars["parentId"] = in.ParentID
	}
	var result struct {
		CommentCreate struct {
			Success bool `json:"success"`
			Comment struct {
				ID    string `json:"id"`
				Body  string `json:"body"`
				Issue struct {
					ID string `json:"id"`
				} `json:"issue"`
				User struct {
					Name string `json:"name"`
				} `json:"user"`
			} `json:"comment"`
		} `json:"commentCreate"`
	}
	if err := c.do(ctx, createCommentMutation, vars, &result); err != nil {
		return nil, fmt.Errorf("create comment on issue %s: %w", in.IssueID, err)
	}
	if !result.CommentCreate.Success {
		return nil, fmt.Errorf("create comment on issue %s: rejected by tracker", in.IssueID)
	}
	cc := result.CommentCreate.Comment
	return &tracker.Comment{ID: cc.ID, IssueID: cc.Issue.ID, Author: cc.User.Name, Body: cc.Body, ParentID: in.ParentID}, nil
}

// CreateAgentSession implements tracker.Service. Linear's native
// "AgentSession" concept does not exist on the public API as of this
// writing; we model it as a specially-tagged comment so that agent runs
// remain visible in the issue's activity feed without requiring an
// unreleased API surface.
func (c *Client) CreateAgentSession(ctx context.Context, in tracker.CreateAgentSessionInput) (*tracker.AgentSession, error) {
	body := fmt.Sprintf("🤖 Starting %s session (prompt: %s)", in.RunnerKind, in.PromptName)
	comment, err := c.CreateComment(ctx, tracker.CreateCommentInput{IssueID: in.IssueID, Body: body})
	if err != nil {
		return nil, fmt.Errorf("create agent session on issue %s: %w", in.IssueID, err)
	}
	return &tracker.AgentSession{ID: comment.ID, IssueID: in.IssueID}, nil
}

// PostAgentActivity implements tracker.Service by posting a threaded reply
// under the agent session's root comment, prefixed with a kind marker so
// the tracker UI (and a human skimming the thread) can tell activity kinds
// apart at a glance. The input's Ephemeral flag is not read: every call
// creates a new reply, and an earlier ephemeral reply is never edited or
// removed.
func (c *Client) PostAgentActivity(ctx context.Context, in tracker.PostAgentActivityInput) error {
	prefix := activityKindPrefix(in.Kind)
	_, err := c.CreateComment(ctx, tracker.CreateCommentInput{
		IssueID:  in.IssueID,
		ParentID: in.AgentSessionID,
		Body:     prefix + in.Body,
	})
	if err != nil {
		return fmt.Errorf("post agent activity to session %s: %w", in.AgentSessionID, err)
	}
	return nil
}

func activityKindPrefix(k tracker.AgentActivityKind) string {
	switch k {
	case tracker.AgentActivityThought:
		return "_thinking…_ "
	case tracker.AgentActivityAction:
		return "⚙️ "
	case tracker.AgentActivityError:
		return "❌ "
	case tracker.AgentActivityElicitation:
		return "❓ "
	default:
		return ""
	}
}

const fileUploadMutation = `
mutation($contentType: String!, $filename: String!, $size: Int!) {
  fileUpload(contentType: $contentType, filename: $filename, size: $size) {
    success
    uploadFile { uploadUrl assetUrl headers { key value } }
  }
}`

// UploadAttachment implements tracker.Service: it requests a signed upload
// URL from Linear, PUTs the bytes there, and returns the asset URL Linear
// will serve the file from.
func (c *Client) UploadAttachment(ctx context.Context, att tracker.Attachment) (*tracker.UploadedAttachment, error) {
	var result struct {
		FileUpload struct {
			Success    bool `json:"success"`
			UploadFile struct {
				UploadURL string `json:"uploadUrl"`
				AssetURL  string `json:"assetUrl"`
				Headers   []struct {
					Key   string `json:"key"`
					Value string `json:"value"`
				} `json:"headers"`
			} `json:"uploadFile"`
		} `json:"fileUpload"`
	}
	vars := map[string]any{"contentType": att.ContentType, "filename": att.Name, "size": len(att.Data)}
	if err := c.do(ctx, fileUploadMutation, vars, &result); err != nil {
		return nil, fmt.Errorf("request upload URL for %s: %w", att.Name, err)
	}
	if !result.FileUpload.Success {
		return nil, fmt.Errorf("request upload URL for %s: rejected by tracker", att.Name)
	}

	uf := result.FileUpload.UploadFile
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uf.UploadURL, bytes.NewReader(att.Data))
	if err != nil {
		return nil, fmt.Errorf("create upload request for %s: %w", att.Name, err)
	}
	req.Header.Set("Content-Type", att.ContentType)
	for _, h := range uf.Headers {
		req.Header.Set(h.Key, h.Value)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", att.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("upload %s: storage returned %d: %s", att.Name, resp.StatusCode, string(body))
	}

	return &tracker.UploadedAttachment{URL: uf.AssetURL, Name: att.Name}, nil
}
