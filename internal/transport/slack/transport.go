// Package slack implements a chat-surface EventTransport and ActivitySink
// over Slack's Events API, grounded on the mock-injectable client interface
// in nexus/internal/channels/slack/clients.go (SlackAPIClient) and on the
// slackevents handling in nexus/internal/channels/slack/adapter.go, adapted
// from nexus's socket-mode subscription to a direct HTTP webhook per
// spec §4.2 ("register(server) — attach one or more paths").
package slack

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	goslack "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/ceedaragents/cyrus/internal/transport"
	"github.com/ceedaragents/cyrus/pkg/activity"
)

// API is the subset of the Slack Web API this transport/sink needs,
// segregated the way nexus/internal/channels/slack/clients.go segregates
// SlackAPIClient, so tests can inject a fake instead of a live client.
type API interface {
	PostMessage(channelID string, options ...goslack.MsgOption) (string, string, error)
	UpdateMessage(channelID, timestamp string, options ...goslack.MsgOption) (string, string, string, error)
	GetUserInfo(userID string) (*goslack.User, error)
}

var _ API = (*goslack.Client)(nil)

// Config configures the Slack transport/sink pair.
type Config struct {
	SigningSecret string
	BotToken      string
	WebhookPath   string // defaults to "/slack-webhook"
}

// Transport implements transport.Transport for Slack's Events API.
type Transport struct {
	cfg    Config
	api    API
	log    *slog.Logger
	events chan activity.InboundEvent
	errs   chan error
}

// New creates a Slack Transport around api; NewSink builds a thread's Sink
// separately and can share the same API client.
func New(cfg Config, api API, log *slog.Logger) *Transport {
	if cfg.WebhookPath == "" {
		cfg.WebhookPath = "/slack-webhook"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		cfg:    cfg,
		api:    api,
		log:    log,
		events: make(chan activity.InboundEvent, 64),
		errs:   make(chan error, 16),
	}
}

func (t *Transport) Kind() activity.TransportKind { return activity.TransportSlack }
func (t *Transport) Events() <-chan activity.InboundEvent { return t.events }
func (t *Transport) Errors() <-chan error { return t.errs }

// Register attaches the Events API webhook handler (spec §4.2 register()).
func (t *Transport) Register(mux *http.ServeMux) {
	mux.HandleFunc(t.cfg.WebhookPath, t.handleWebhook)
}

func (t *Transport) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	timestamp := r.Header.Get("X-Slack-Request-Timestamp")
	signature := r.Header.Get("X-Slack-Signature")
	if !transport.VerifyHMACWithTimestamp(t.cfg.SigningSecret, timestamp, string(body), signature) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	eventsAPIEvent, err := slackevents.ParseEvent(body, slackevents.OptionNoVerifyToken())
	if err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	switch eventsAPIEvent.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			http.Error(w, "malformed challenge", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(challenge.Challenge))
		return
	case slackevents.CallbackEvent:
		t.handleCallback(eventsAPIEvent)
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"success":true}`))
}

func (t *Transport) handleCallback(e slackevents.EventsAPIEvent) {
	inner := e.InnerEvent
	var ev activity.InboundEvent

	switch data := inner.Data.(type) {
	case *slackevents.AppMentionEvent:
		ev = activity.InboundEvent{
			TransportKind: activity.TransportSlack,
			EnvelopeID:    e.TeamID + ":" + data.TimeStamp,
			Kind:          activity.EventMention,
			Author:        data.User,
			Content:       data.Text,
			SurfaceRefs: activity.SurfaceRefs{
				ChannelID: data.Channel,
				ThreadID:  firstNonEmpty(data.ThreadTimeStamp, data.TimeStamp),
				MessageID: data.TimeStamp,
			},
			OccurredAt: slackTimestamp(data.TimeStamp),
		}
	case *slackevents.MessageEvent:
		if data.BotID != "" || data.SubType != "" {
			return // ignore bot echoes and edits/deletes
		}
		kind := activity.EventReply
		if data.ThreadTimeStamp == "" {
			kind = activity.EventNewThread
		}
		ev = activity.InboundEvent{
			TransportKind: activity.TransportSlack,
			EnvelopeID:    data.Channel + ":" + data.TimeStamp,
			Kind:          kind,
			Author:        data.User,
			Content:       data.Text,
			SurfaceRefs: activity.SurfaceRefs{
				ChannelID: data.Channel,
				ThreadID:  firstNonEmpty(data.ThreadTimeStamp, data.TimeStamp),
				MessageID: data.TimeStamp,
			},
			OccurredAt: slackTimestamp(data.TimeStamp),
		}
	default:
		return
	}

	select {
	case t.events <- ev:
	default:
		t.errs <- errQueueFull
	}
}

func slackTimestamp(ts string) time.Time {
	sec, _, _ := parseSlackTS(ts)
	return time.Unix(sec, 0)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
