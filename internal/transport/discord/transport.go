// Package discord implements a chat-surface EventTransport and ActivitySink
// over Discord's gateway, grounded on the mock-injectable session interface
// and Config/Validate pattern in nexus/internal/channels/discord/adapter.go.
// Discord bots receive messages over a persistent gateway connection rather
// than a webhook per event, so Register attaches only a lightweight health
// path to the Shared Application Server; the actual event source is the
// gateway session started by Start.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/ceedaragents/cyrus/pkg/activity"
)

// Session is the subset of *discordgo.Session this transport/sink needs,
// segregated the way nexus/internal/channels/discord/adapter.go's
// discordSession interface is, so tests can inject a fake.
type Session interface {
	Open() error
	Close() error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	AddHandler(handler interface{}) func()
}

var _ Session = (*discordgo.Session)(nil)

// Config configures the Discord transport/sink pair.
type Config struct {
	Token       string
	BotUserID   string // used to detect and ignore the bot's own messages
	HealthPath  string // defaults to "/discord-webhook"
}

// Transport implements transport.Transport over a Discord gateway session.
type Transport struct {
	cfg     Config
	session Session
	log     *slog.Logger
	events  chan activity.InboundEvent
	errs    chan error

	unregister func()
}

// New wires a Transport to an already-constructed Session (production
// callers pass a *discordgo.Session; tests pass a fake).
func New(cfg Config, session Session, log *slog.Logger) *Transport {
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/discord-webhook"
	}
	if log == nil {
		log = slog.Default()
	}
	t := &Transport{cfg: cfg, session: session, log: log, events: make(chan activity.InboundEvent, 64), errs: make(chan error, 16)}
	t.unregister = session.AddHandler(t.onMessageCreate)
	return t
}

func (t *Transport) Kind() activity.TransportKind          { return activity.TransportDiscord }
func (t *Transport) Events() <-chan activity.InboundEvent { return t.events }
func (t *Transport) Errors() <-chan error                 { return t.errs }

// Register attaches a no-op health endpoint; see package doc for why
// Discord does not register a webhook path like the other transports.
func (t *Transport) Register(mux *http.ServeMux) {
	mux.HandleFunc(t.cfg.HealthPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	})
}

// Start opens the gateway session. Stop (via the context) closes it.
func (t *Transport) Start(ctx context.Context) error {
	if err := t.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	go func() {
		<-ctx.Done()
		t.unregister()
		_ = t.session.Close()
	}()
	return nil
}

func (t *Transport) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == t.cfg.BotUserID {
		return
	}

	mentioned := false
	for _, u := range m.Mentions {
		if u.ID == t.cfg.BotUserID {
			mentioned = true
			break
		}
	}

	kind := activity.EventIgnore
	content := strings.TrimSpace(m.Content)
	switch {
	case mentioned:
		kind = activity.EventMention
	case m.MessageReference != nil:
		kind = activity.EventReply
	case content != "":
		kind = activity.EventNewThread
	}
	if kind == activity.EventIgnore {
		return
	}

	ev := activity.InboundEvent{
		TransportKind: activity.TransportDiscord,
		EnvelopeID:    m.ChannelID + ":" + m.ID,
		Kind:          kind,
		Author:        m.Author.ID,
		Content:       content,
		SurfaceRefs: activity.SurfaceRefs{
			ChannelID: m.ChannelID,
			MessageID: m.ID,
		},
		OccurredAt: m.Timestamp,
	}
	if m.MessageReference != nil {
		ev.SurfaceRefs.ThreadID = m.MessageReference.MessageID
	}

	select {
	case t.events <- ev:
	default:
		t.errs <- fmt.Errorf("discord transport: event queue full, dropped envelope %s", ev.EnvelopeID)
	}
}

// Sink implements the ActivitySink contract (spec §4.6) for a Discord
// channel, mirroring the ephemeral-replace-in-place behavior of
// internal/transport/slack.Sink.
type Sink struct {
	session   Session
	channelID string

	mu              sync.Mutex
	lastEphemeralID string
	nextOrderSeq    uint64
}

// NewSink binds a Sink to one Discord channel.
func NewSink(session Session, channelID string) *Sink {
	return &Sink{session: session, channelID: channelID}
}

// Post implements the ActivitySink contract.
func (s *Sink) Post(ctx context.Context, a activity.Activity) error {
	s.mu.Lock()
	a.OrderSeq = s.nextOrderSeq
	s.nextOrderSeq++
	lastEphemeral := s.lastEphemeralID
	s.mu.Unlock()

	body := render(a)

	if lastEphemeral != "" {
		if _, err := s.session.ChannelMessageEdit(s.channelID, lastEphemeral, body); err != nil {
			return fmt.Errorf("edit discord message: %w", err)
		}
		if !a.Ephemeral {
			s.mu.Lock()
			s.lastEphemeralID = ""
			s.mu.Unlock()
		}
		return nil
	}

	msg, err := s.session.ChannelMessageSend(s.channelID, body)
	if err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}

	s.mu.Lock()
	if a.Ephemeral {
		s.lastEphemeralID = msg.ID
	} else {
		s.lastEphemeralID = ""
	}
	s.mu.Unlock()

	return nil
}

func render(a activity.Activity) string {
	switch a.Kind {
	case activity.ActivityThought:
		return "*" + a.Body + "*"
	case activity.ActivityError:
		return "❌ " + a.Body
	case activity.ActivityElicitation:
		return "❓ " + a.Body
	default:
		return a.Body
	}
}
