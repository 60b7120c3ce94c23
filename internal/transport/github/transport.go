// Package github implements the code-host comment EventTransport and its
// ActivitySink. No GitHub SDK is vendored in the example corpus (SPEC_FULL.md's
// DOMAIN STACK notes this), so the client is a thin REST wrapper grounded
// on nexus/internal/tools/servicenow/client.go's request-build/status-check
// idiom, same as internal/tracker/linear.
package github

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ceedaragents/cyrus/pkg/activity"
)

// Config configures the GitHub transport/sink pair.
type Config struct {
	WebhookSecret string // validates the X-Hub-Signature-256 header
	APIToken      string
	APIBaseURL    string // defaults to "https://api.github.com"
	WebhookPath   string // defaults to "/github-webhook"
	BotLogin      string // used to ignore the bot's own comments
}

// Transport implements transport.Transport for GitHub's issue_comment
// webhook.
type Transport struct {
	cfg    Config
	log    *slog.Logger
	events chan activity.InboundEvent
	errs   chan error
}

// New creates a GitHub Transport.
func New(cfg Config, log *slog.Logger) *Transport {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/github-webhook"
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.github.com"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Transport{cfg: cfg, log: log, events: make(chan activity.InboundEvent, 64), errs: make(chan error, 16)}
}

func (t *Transport) Kind() activity.TransportKind          { return activity.TransportGitHub }
func (t *Transport) Events() <-chan activity.InboundEvent { return t.events }
func (t *Transport) Errors() <-chan error                 { return t.errs }

func (t *Transport) Register(mux *http.ServeMux) {
	mux.HandleFunc(t.cfg.WebhookPath, t.handleWebhook)
}

type issueCommentPayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number       int      `json:"number"`
		PullRequest  *struct{} `json:"pull_request"`
	} `json:"issue"`
	Comment struct {
		ID   int64  `json:"id"`
		Body string `json:"body"`
		User struct {
			Login string `json:"login"`
		} `json:"user"`
	} `json:"comment"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

func (t *Transport) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if !verifyHubSignature(t.cfg.WebhookSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	if event == "ping" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
		return
	}
	if event != "issue_comment" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
		return
	}

	var payload issueCommentPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	if payload.Action != "created" || payload.Comment.User.Login == t.cfg.BotLogin {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
		return
	}

	ev := activity.InboundEvent{
		TransportKind: activity.TransportGitHub,
		EnvelopeID:    fmt.Sprintf("%s:%d", payload.Repository.FullName, payload.Comment.ID),
		Kind:          activity.EventReply,
		Author:        payload.Comment.User.Login,
		Content:       payload.Comment.Body,
		SurfaceRefs: activity.SurfaceRefs{
			ChannelID: payload.Repository.FullName,
			ThreadID:  fmt.Sprintf("%d", payload.Issue.Number),
			CommentID: fmt.Sprintf("%d", payload.Comment.ID),
		},
		OccurredAt: time.Now(),
	}

	select {
	case t.events <- ev:
	default:
		t.errs <- fmt.Errorf("github transport: event queue full, dropped envelope %s", ev.EnvelopeID)
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"success":true}`))
}

func verifyHubSignature(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if secret == "" || len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := prefix + hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(header), []byte(expected)) == 1
}

// Sink implements the ActivitySink contract by posting GitHub issue
// comments. GitHub issue comments cannot be "ephemeral" in place the way a
// chat message can; an ephemeral activity's comment is edited by the next
// activity, and a non-ephemeral one ends that chain, matching the chat-surface sinks'
// replace-not-append behavior with GitHub's comment-edit API standing in
// for message-update.
type Sink struct {
	cfg        Config
	httpClient *http.Client
	repo       string
	issue      string

	lastEphemeralCommentID string
	nextOrderSeq           uint64
}

// NewSink binds a Sink to one repository issue.
func NewSink(cfg Config, repo, issue string) *Sink {
	return &Sink{cfg: cfg, httpClient: &http.Client{Timeout: 15 * time.Second}, repo: repo, issue: issue}
}

type ghComment struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
}

// Post implements the ActivitySink contract.
func (s *Sink) Post(ctx context.Context, a activity.Activity) error {
	a.OrderSeq = s.nextOrderSeq
	s.nextOrderSeq++

	if s.lastEphemeralCommentID != "" {
		if err := s.editComment(ctx, s.lastEphemeralCommentID, render(a)); err != nil {
			return err
		}
		if !a.Ephemeral {
			s.lastEphemeralCommentID = ""
		}
		return nil
	}

	id, err := s.createComment(ctx, render(a))
	if err != nil {
		return err
	}
	if a.Ephemeral {
		s.lastEphemeralCommentID = id
	} else {
		s.lastEphemeralCommentID = ""
	}
	return nil
}

func (s *Sink) createComment(ctx context.Context, body string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/issues/%s/comments", s.cfg.APIBaseURL, s.repo, s.issue)
	payload, _ := json.Marshal(map[string]string{"body": body})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	s.setAuth(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create github comment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("github API error %d: %s", resp.StatusCode, string(b))
	}

	var comment ghComment
	if err := json.NewDecoder(resp.Body).Decode(&comment); err != nil {
		return "", fmt.Errorf("decode github comment: %w", err)
	}
	return fmt.Sprintf("%d", comment.ID), nil
}

func (s *Sink) editComment(ctx context.Context, commentID, body string) error {
	url := fmt.Sprintf("%s/repos/%s/issues/comments/%s", s.cfg.APIBaseURL, s.repo, commentID)
	payload, _ := json.Marshal(map[string]string{"body": body})

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	s.setAuth(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("edit github comment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("github API error %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

func (s *Sink) setAuth(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
}

func render(a activity.Activity) string {
	switch a.Kind {
	case activity.ActivityThought:
		return "_" + a.Body + "_"
	case activity.ActivityError:
		return "❌ " + a.Body
	case activity.ActivityElicitation:
		return "❓ " + a.Body
	default:
		return a.Body
	}
}
