// Package tracker implements the ticket-tracker webhook EventTransport
// (spec §4.2: the "/webhook" path, HMAC-with-timestamp verification),
// normalising Linear's Issue and Comment webhook payloads into
// activity.InboundEvent. Other payload types, such as
// AppUserNotification, produce no event.
package tracker

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ceedaragents/cyrus/internal/transport"
	"github.com/ceedaragents/cyrus/pkg/activity"
)

// Config configures the tracker webhook transport.
type Config struct {
	Secret      string
	WebhookPath string // defaults to "/webhook"
}

// Transport implements transport.Transport for the issue-tracker webhook.
type Transport struct {
	cfg    Config
	log    *slog.Logger
	events chan activity.InboundEvent
	errs   chan error
}

// New creates a tracker webhook Transport.
func New(cfg Config, log *slog.Logger) *Transport {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/webhook"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Transport{cfg: cfg, log: log, events: make(chan activity.InboundEvent, 64), errs: make(chan error, 16)}
}

func (t *Transport) Kind() activity.TransportKind          { return activity.TransportTracker }
func (t *Transport) Events() <-chan activity.InboundEvent { return t.events }
func (t *Transport) Errors() <-chan error                 { return t.errs }

func (t *Transport) Register(mux *http.ServeMux) {
	mux.HandleFunc(t.cfg.WebhookPath, t.handleWebhook)
}

// webhookPayload is the shape of a Linear webhook delivery: a typed
// envelope around an Issue or Comment action.
type webhookPayload struct {
	Action          string `json:"action"`
	Type            string `json:"type"` // "Issue" | "Comment" | "AppUserNotification"
	WebhookTimestamp int64  `json:"webhookTimestamp"`
	Data            struct {
		ID          string   `json:"id"`
		IssueID     string   `json:"issueId"`
		Body        string   `json:"body"`
		ParentID    string   `json:"parentId"`
		Identifier  string   `json:"identifier"`
		Title       string   `json:"title"`
		LabelIDs    []string `json:"labelIds"`
		TeamID      string   `json:"teamId"`
		AssigneeID  string   `json:"assigneeId"`
		CreatorID   string   `json:"creatorId"`
		UserID      string   `json:"userId"`
	} `json:"data"`
	UpdatedFrom map[string]any `json:"updatedFrom"`
}

func (t *Transport) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	timestamp := r.Header.Get("Linear-Timestamp")
	signature := r.Header.Get("Linear-Signature")
	if !transport.VerifyHMACWithTimestamp(t.cfg.Secret, timestamp, string(body), signature) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	ev, ok := normalise(payload)
	if ok {
		select {
		case t.events <- ev:
		default:
			t.errs <- fmt.Errorf("tracker transport: event queue full, dropped envelope %s", ev.EnvelopeID)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"success":true}`))
}

func normalise(p webhookPayload) (activity.InboundEvent, bool) {
	base := activity.InboundEvent{
		TransportKind: activity.TransportTracker,
		OccurredAt:    time.Now(),
	}

	switch p.Type {
	case "Issue":
		switch p.Action {
		case "create":
			base.Kind = activity.EventNewThread
		case "update":
			if wasUnassigned(p) {
				base.Kind = activity.EventUnassign
			} else {
				base.Kind = activity.EventIgnore
			}
		default:
			base.Kind = activity.EventIgnore
		}
		base.EnvelopeID = "issue:" + p.Data.ID
		base.Author = p.Data.CreatorID
		base.Content = p.Data.Title
		base.IssueRefs = &activity.IssueRefs{IssueID: p.Data.ID, Labels: p.Data.LabelIDs, TeamKey: p.Data.TeamID, Owner: p.Data.AssigneeID}

	case "Comment":
		if p.Action != "create" {
			return activity.InboundEvent{}, false
		}
		base.EnvelopeID = "comment:" + p.Data.ID
		base.Kind = activity.EventReply
		base.Author = p.Data.CreatorID
		base.Content = p.Data.Body
		base.IssueRefs = &activity.IssueRefs{IssueID: p.Data.IssueID}

	default:
		return activity.InboundEvent{}, false
	}

	if base.Kind == activity.EventIgnore {
		return activity.InboundEvent{}, false
	}
	return base, true
}

func wasUnassigned(p webhookPayload) bool {
	if p.UpdatedFrom == nil {
		return false
	}
	prevAssignee, had := p.UpdatedFrom["assigneeId"]
	return had && prevAssignee != "" && p.Data.AssigneeID == ""
}
