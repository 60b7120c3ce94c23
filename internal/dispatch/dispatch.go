// Package dispatch implements the Dispatcher (spec §4.4): it turns Router
// decisions into runner calls while enforcing per-session mutual
// exclusion, a per-repository concurrency cap, debounced comment-burst
// merging, and cancellation. Delivery to a surface is left to each
// session's internal/sink.Dispatcher, which queues activities and retries
// with backoff; this package does not consult its Backpressured signal and
// never pauses delivery itself.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ceedaragents/cyrus/internal/config"
	"github.com/ceedaragents/cyrus/internal/debounce"
	"github.com/ceedaragents/cyrus/internal/router"
	"github.com/ceedaragents/cyrus/internal/runner"
	"github.com/ceedaragents/cyrus/internal/session"
	"github.com/ceedaragents/cyrus/internal/sink"
	"github.com/ceedaragents/cyrus/pkg/activity"
)

// Launcher builds the vendor runner.Adapter and ActivitySink.Surface for a
// routed decision, without starting either; the Dispatcher owns actually
// spawning and wiring them (spec §4.4/§4.5 boundary: the Router/config
// decide *what* to run, the Dispatcher decides *when*).
type Launcher interface {
	NewAdapter(decision router.Decision) (runner.Adapter, error)

	// NewSurface builds the ActivitySink.Surface the new session replies
	// through. evt is passed alongside decision because a repository may
	// bind more than one chat/code-host surface (spec §4.3
	// ChannelBindings is a map keyed by surface) — only the triggering
	// event's TransportKind and SurfaceRefs say which one this particular
	// session belongs to.
	NewSurface(decision router.Decision, evt activity.InboundEvent) (sink.Surface, error)
}

// Dispatcher turns routed InboundEvents into running sessions.
type Dispatcher struct {
	cfg *config.Config
	rtr *router.Router
	reg *session.Registry
	lnc Launcher
	log *slog.Logger

	// logDir, when set via SetLogDir, is the directory each session's
	// runner.LogStream writes its NDJSON/human transcript under (spec
	// §4.5 "Log stream"). Left unset, sessions run without a log stream —
	// tests exercise the Dispatcher's orchestration without touching disk.
	logDir string

	gatesMu sync.Mutex
	gates   map[string]*repoGate

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter

	debMu      sync.Mutex
	debouncers map[session.Key]*debounce.Debouncer[commentItem]
}

// commentItem is one inbound comment queued for debounce burst-merging
// (spec §4.4 "Debounce burst").
type commentItem struct {
	author   string
	content  string
	occurred time.Time
}

// New constructs a Dispatcher.
func New(cfg *config.Config, rtr *router.Router, reg *session.Registry, lnc Launcher, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		cfg:        cfg,
		rtr:        rtr,
		reg:        reg,
		lnc:        lnc,
		log:        log,
		gates:      make(map[string]*repoGate),
		limiters:   make(map[string]*rate.Limiter),
		debouncers: make(map[session.Key]*debounce.Debouncer[commentItem]),
	}
}

// SetLogDir enables per-session log streams rooted at dir (spec §6
// "logs/<workspace>/<sessionId>.ndjson"); call it once after New, before
// the first Dispatch.
func (d *Dispatcher) SetLogDir(dir string) {
	d.logDir = dir
}

// Dispatch routes evt and acts on the resulting intent.
func (d *Dispatcher) Dispatch(ctx context.Context, evt activity.InboundEvent) error {
	decision, err := d.rtr.Route(evt)
	if err != nil {
		return fmt.Errorf("dispatch: route event: %w", err)
	}
	for _, c := range decision.LabelConflicts {
		d.log.Warn("label claimed by more than one prompt rule", "label", c.Label, "first", c.FirstPrompt, "second", c.SecondPrompt)
	}

	key := session.Key{RepositoryID: decision.Repository.ID, IssueID: issueID(evt), ThreadID: evt.SurfaceRefs.ThreadID}

	switch decision.Intent {
	case router.IntentCreateSession:
		return d.handleCreateSession(ctx, key, decision, evt)
	case router.IntentPromptExisting:
		return d.handlePromptExisting(ctx, key, decision, evt)
	case router.IntentStopSession:
		return d.handleStopSession(key)
	case router.IntentIgnore:
		return nil
	default:
		return fmt.Errorf("dispatch: unknown intent %q", decision.Intent)
	}
}

func (d *Dispatcher) handleCreateSession(ctx context.Context, key session.Key, decision router.Decision, evt activity.InboundEvent) error {
	if existing, ok := d.reg.Get(key); ok && existing.RunnerHandle.IsRunning() {
		return d.handlePromptExisting(ctx, key, decision, evt)
	}

	gate := d.gateFor(decision.Repository)
	limiter := d.limiterFor(decision.Repository)
	gate.run(func() {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				d.log.Warn("session launch rate limit wait aborted", "error", err, "repository", decision.Repository.ID, "issue", issueID(evt))
				gate.release()
				return
			}
		}
		if err := d.launch(ctx, key, decision, evt, gate); err != nil {
			d.log.Error("failed to launch session", "error", err, "repository", decision.Repository.ID, "issue", issueID(evt))
			gate.release()
		}
	})
	return nil
}

// limiterFor returns the rate.Limiter bounding how often repo may launch a
// new session, or nil when RepositoryLaunchesPerMinute is unset (spec §9
// Open Questions leaves the exact throttle unspecified; SPEC_FULL commits
// to a per-repository token bucket sized from config).
func (d *Dispatcher) limiterFor(repo config.Repository) *rate.Limiter {
	perMinute := d.cfg.Dispatch.RepositoryLaunchesPerMinute
	if perMinute <= 0 {
		return nil
	}

	d.limitersMu.Lock()
	defer d.limitersMu.Unlock()
	if l, ok := d.limiters[repo.ID]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
	d.limiters[repo.ID] = l
	return l
}

// issueID returns the tracker issue id an event concerns, or "" for
// surface-only events (a bare Slack/Discord mention with no tracker tie).
func issueID(evt activity.InboundEvent) string {
	if evt.IssueRefs == nil {
		return ""
	}
	return evt.IssueRefs.IssueID
}

func (d *Dispatcher) launch(ctx context.Context, key session.Key, decision router.Decision, evt activity.InboundEvent, gate *repoGate) error {
	adapter, err := d.lnc.NewAdapter(decision)
	if err != nil {
		return fmt.Errorf("construct adapter: %w", err)
	}
	surface, err := d.lnc.NewSurface(decision, evt)
	if err != nil {
		return fmt.Errorf("construct surface: %w", err)
	}

	skDispatcher := sink.New(surface, sink.Config{Logger: d.log})

	var released bool
	var releaseMu sync.Mutex
	releaseOnce := func() {
		releaseMu.Lock()
		defer releaseMu.Unlock()
		if released {
			return
		}
		released = true
		gate.release()
	}

	sessionID := decision.Repository.ID + ":" + key.IssueID

	var logStream *runner.LogStream
	if d.logDir != "" {
		logDir := filepath.Join(d.logDir, decision.Repository.ID)
		ls, err := runner.OpenLogStream(logDir, sessionID)
		if err != nil {
			d.log.Warn("failed to open session log stream, continuing without it", "error", err, "session_id", sessionID)
		} else {
			logStream = ls
		}
	}

	relay := newActivityRelay(adapter.Formatter(), skDispatcher, func(success bool) {
		d.reg.Finish(key, time.Now())
		if logStream != nil {
			logStream.Close()
		}
		releaseOnce()
	})

	var eventSink runner.EventSink = relay
	if logStream != nil {
		eventSink = runner.MultiSink{relay, logStream}
	}

	r := runner.NewRunner(sessionID, decision.WorkspacePath, "", decision.ToolPolicy, adapter, eventSink, d.log)

	s := &session.Session{
		Key:                    key,
		IssueID:                key.IssueID,
		RepositoryID:           decision.Repository.ID,
		SurfaceContext:         evt.SurfaceRefs,
		TransportKind:          evt.TransportKind,
		WorkspacePath:          decision.WorkspacePath,
		RunnerHandle:           r,
		SinkHandle:             skDispatcher,
		State:                  session.StatePending,
		CreatedAt:              time.Now(),
		LastActivityAt:         time.Now(),
		SupportsStreamingInput: adapter.SupportsStreamingInput(),
	}
	// A session only becomes active once the adapter's provider sessionId
	// (real or supervisor-synthesised) is observed, not merely because
	// Start was called — spec §4.5's state table gates pending->active on
	// that sessionId, so a spawn failure stays pending->failed instead of
	// passing through a false "active".
	relay.onInit = func(vendorSessionID string) {
		s.SessionID = vendorSessionID
		s.SetState(session.StateActive)
	}

	_, created := d.reg.GetOrCreate(key, func() *session.Session { return s })
	if !created {
		releaseOnce()
		return nil
	}

	go skDispatcher.Run(ctx)

	if err := r.Start(ctx, evt.Content); err != nil {
		s.SetState(session.StateFailed)
		d.reg.Finish(key, time.Now())
		releaseOnce()
		return fmt.Errorf("start runner: %w", err)
	}
	return nil
}

func (d *Dispatcher) handlePromptExisting(ctx context.Context, key session.Key, decision router.Decision, evt activity.InboundEvent) error {
	s, ok := d.reg.Get(key)
	if !ok {
		return d.handleCreateSession(ctx, key, decision, evt)
	}
	s.Touch(time.Now())

	window := time.Duration(d.cfg.Dispatch.DebounceWindowSeconds) * time.Second
	db := d.debouncerFor(key, window, s)
	db.Enqueue(&commentItem{author: evt.Author, content: evt.Content, occurred: evt.OccurredAt})
	return nil
}

func (d *Dispatcher) debouncerFor(key session.Key, window time.Duration, s *session.Session) *debounce.Debouncer[commentItem] {
	d.debMu.Lock()
	defer d.debMu.Unlock()
	if db, ok := d.debouncers[key]; ok {
		return db
	}
	db := debounce.New(debounce.Options[commentItem]{
		Window: window,
		OnFlush: func(items []*commentItem) {
			d.flushComments(s, items)
		},
	})
	d.debouncers[key] = db
	return db
}

// flushComments implements spec §4.4's burst-merge wrapping: each queued
// comment is wrapped in <new_comment> preserving author attribution, then
// forwarded as one stream message if the runner supports it, or enqueued
// to replay after the current turn otherwise.
func (d *Dispatcher) flushComments(s *session.Session, items []*commentItem) {
	var b strings.Builder
	for _, item := range items {
		b.WriteString("<new_comment>")
		b.WriteString("<author>" + item.author + "</author>")
		b.WriteString("<timestamp>" + item.occurred.Format(time.RFC3339) + "</timestamp>")
		b.WriteString("<content>" + item.content + "</content>")
		b.WriteString("</new_comment>")
	}
	merged := b.String()

	if s.RunnerHandle.IsRunning() && s.SupportsStreamingInput {
		if err := s.RunnerHandle.AddStreamMessage(merged); err != nil {
			d.log.Warn("failed to forward stream message, queueing for replay", "error", err, "session_id", s.SessionID)
			s.EnqueuePrompt(merged)
		}
		return
	}
	s.EnqueuePrompt(merged)
}

// ReplayPending forwards any prompts queued while the runner could not
// accept streaming input, called once the runner becomes able to accept
// them again (spec §4.4 "enqueued and replayed after the current agent
// turn finishes").
func (d *Dispatcher) ReplayPending(s *session.Session) {
	if !s.RunnerHandle.IsRunning() || !s.SupportsStreamingInput {
		return
	}
	for _, prompt := range s.DrainPrompts() {
		if err := s.RunnerHandle.AddStreamMessage(prompt); err != nil {
			d.log.Warn("failed to replay queued prompt", "error", err, "session_id", s.SessionID)
			return
		}
	}
}

func (d *Dispatcher) handleStopSession(key session.Key) error {
	return d.stopSession(key, runner.StopReasonUser, "")
}

// DrainRepository stops every live session belonging to repositoryID,
// posting a terminal result.error activity carrying reason before the
// runner is signalled (spec §2/§3: a reload that removes a repository or
// changes its repositoryPath/tokenMaterial drains its sessions instead of
// leaving them running against stale config; spec §8 Scenario 5). It
// returns the number of sessions drained.
func (d *Dispatcher) DrainRepository(repositoryID, reason string) int {
	drained := 0
	for _, s := range d.reg.ListRunning() {
		if s.RepositoryID != repositoryID {
			continue
		}
		if err := d.stopSession(s.Key, runner.StopReasonConfig, reason); err != nil {
			d.log.Error("failed to drain session for repository change", "error", err, "repository", repositoryID, "session_id", s.SessionID)
			continue
		}
		drained++
	}
	return drained
}

// stopSession drops any prompts queued for s, posts a terminal error
// activity naming why (when reason is non-empty), then signals the
// runner and marks the session stopped.
func (d *Dispatcher) stopSession(key session.Key, stopReason runner.StopReason, reason string) error {
	s, ok := d.reg.Get(key)
	if !ok {
		return nil
	}

	dropped := s.DrainPrompts()
	for range dropped {
		s.SinkHandle.Submit(activity.Activity{
			Kind: activity.ActivityError,
			Body: "session stopped before this prompt could be delivered",
		})
	}

	if reason != "" {
		s.SinkHandle.Submit(activity.Activity{
			Kind: activity.ActivityError,
			Body: fmt.Sprintf("session stopped: %s", reason),
		})
	}

	s.SetState(session.StateStopped)
	if err := s.RunnerHandle.Stop(stopReason); err != nil {
		d.log.Error("error stopping runner", "error", err, "session_id", s.SessionID)
	}
	// Stopping the runner drives its consume loop to a close, which
	// synthesises a terminal result and fires the session's onTerminal
	// callback (registered in launch) — that's what finishes the registry
	// entry and releases this repository's concurrency slot exactly once.
	return nil
}

func (d *Dispatcher) gateFor(repo config.Repository) *repoGate {
	d.gatesMu.Lock()
	defer d.gatesMu.Unlock()
	if g, ok := d.gates[repo.ID]; ok {
		return g
	}
	capacity := repo.MaxConcurrentSessions
	if capacity <= 0 {
		capacity = d.cfg.Dispatch.DefaultRepositoryCap
	}
	g := newRepoGate(capacity)
	d.gates[repo.ID] = g
	return g
}
