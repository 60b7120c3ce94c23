package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ceedaragents/cyrus/internal/formatter"
	"github.com/ceedaragents/cyrus/pkg/activity"
)

// gracePeriod is how long Stop waits for a clean subprocess exit before
// escalating to Kill (spec §4.5 "Cancellation"). A var, not a const, so
// tests can shrink it.
var gracePeriod = 10 * time.Second

// Runner is the supervisor wrapping one Adapter: it fabricates a missing
// system.init, accumulates deltas, pairs tool use/result, and synthesises a
// terminal result on abnormal exit (spec §4.5). The session's log stream is
// not written here: LogStream is a separate EventSink that callers fan out
// to with MultiSink. It implements the "start/startStreaming/addStreamMessage/
// completeStream/stop/isRunning/getMessages/getFormatter" contract from
// spec §2, grounded on nexus/internal/tools/exec/manager.go's
// background-process bookkeeping (done channel, exit code, cancel func).
type Runner struct {
	sessionID string
	cwd       string
	model     string
	tools     []string
	adapter   Adapter
	log       *slog.Logger
	sink      EventSink

	mu        sync.Mutex
	state     State
	running   atomic.Bool
	messages  []activity.AgentMessage
	accum     *accumulator
	toolUseSeq int

	stop       context.CancelFunc
	done       chan struct{}
}

// EventSink is where the supervisor forwards each canonical AgentMessage —
// typically the session's Formatter+ActivitySink pipeline, but tests can
// inject a recording fake.
type EventSink interface {
	Deliver(sessionID string, msg activity.AgentMessage)
}

// NewRunner constructs a supervisor around adapter for one session.
func NewRunner(sessionID, cwd, model string, tools []string, adapter Adapter, sink EventSink, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		sessionID: sessionID,
		cwd:       cwd,
		model:     model,
		tools:     tools,
		adapter:   adapter,
		log:       log.With("session_id", sessionID),
		sink:      sink,
		state:     StatePending,
		accum:     newAccumulator(),
	}
}

// Start spawns the subprocess with the given prompt (spec "start(prompt)").
func (r *Runner) Start(ctx context.Context, prompt string) error {
	r.mu.Lock()
	if r.running.Load() {
		r.mu.Unlock()
		return ErrAlreadyActive
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.stop = cancel
	r.done = make(chan struct{})
	r.mu.Unlock()

	raw, err := r.adapter.Start(runCtx, r.cwd, prompt)
	if err != nil {
		cancel()
		r.transition(StateFailed)
		return fmt.Errorf("start runner for session %s: %w", r.sessionID, err)
	}

	r.running.Store(true)
	r.transition(StatePending)

	go r.consume(raw)
	return nil
}

// StartStreaming starts a runner that accepts incremental prompts via
// AddStreamMessage rather than one fixed initial prompt.
func (r *Runner) StartStreaming(ctx context.Context, initial string) error {
	return r.Start(ctx, initial)
}

// AddStreamMessage forwards text to a running streaming-capable adapter.
func (r *Runner) AddStreamMessage(text string) error {
	if !r.running.Load() {
		return ErrNotRunning
	}
	if !r.adapter.SupportsStreamingInput() {
		return fmt.Errorf("runner %s: adapter does not support streaming input", r.sessionID)
	}
	return r.adapter.AddStreamMessage(text)
}

// CompleteStream signals that no further prompts will be added for the
// current turn; adapters that need an explicit EOF marker implement this
// via AddStreamMessage("") themselves, so CompleteStream is a no-op here
// that exists purely to satisfy the spec's named operation.
func (r *Runner) CompleteStream() error {
	return nil
}

// IsRunning implements "isRunning()". It becomes false before the terminal
// activity is emitted (spec §4.5 "Cancellation"), so late prompts never
// race into a dead runner.
func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// GetMessages returns the accumulated canonical messages for this session.
func (r *Runner) GetMessages() []activity.AgentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]activity.AgentMessage, len(r.messages))
	copy(out, r.messages)
	return out
}

// GetFormatter returns the adapter's tool-rendering Formatter.
func (r *Runner) GetFormatter() formatter.Formatter {
	return r.adapter.Formatter()
}

// State reports the current state-machine position (spec §4.5 table).
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stop implements "stop()": signal, then escalate to Kill after a grace
// period if the subprocess has not exited.
func (r *Runner) Stop(reason StopReason) error {
	r.mu.Lock()
	if !r.running.Load() {
		r.mu.Unlock()
		return nil
	}
	done := r.done
	r.mu.Unlock()

	if err := r.adapter.Stop(); err != nil {
		r.log.Warn("stop signal failed, will escalate to kill", "error", err)
	}

	select {
	case <-done:
	case <-time.After(gracePeriod):
		if err := r.adapter.Kill(); err != nil {
			r.log.Error("kill failed", "error", err)
		}
		<-done
	}

	r.transition(StateStopped)
	return nil
}

func (r *Runner) transition(to State) {
	r.mu.Lock()
	from := r.state
	r.state = to
	r.mu.Unlock()
	r.log.Debug("runner state transition", "from", from, "to", to)
}

// consume reads the adapter's raw message channel, fabricating an init if
// needed, accumulating deltas, pairing tool calls, and forwarding every
// canonical message to the sink, then synthesises a terminal result if the
// adapter's channel closed without one (spec §4.5 "Result finalisation").
func (r *Runner) consume(raw <-chan activity.AgentMessage) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("runner consume loop panicked", "panic", p)
		}
		r.running.Store(false)
		close(r.done)
	}()

	sawInit := false
	sawResult := false
	var lastAssistantText string

	for msg := range raw {
		if !sawInit {
			if msg.Role != activity.RoleSystemInit {
				r.emit(r.synthesizeInit())
			}
			sawInit = true
			r.transition(StateActive)
		}

		if msg.Delta {
			flushed, ok := r.accum.add(msg)
			if ok {
				r.emit(flushed)
			}
			continue
		}
		if flushed, ok := r.accum.flush(); ok {
			r.emit(flushed)
		}

		msg = r.pairToolUse(msg)

		if msg.Role == activity.RoleAssistant && msg.Assistant != nil {
			for _, block := range msg.Assistant.Content {
				if block.Text != "" {
					lastAssistantText = block.Text
				}
			}
		}

		r.emit(msg)

		switch msg.Role {
		case activity.RoleResultOK:
			sawResult = true
			r.transition(StateCompleted)
		case activity.RoleResultError:
			sawResult = true
			r.transition(StateFailed)
		}
	}

	if flushed, ok := r.accum.flush(); ok {
		r.emit(flushed)
	}

	if !sawResult {
		r.emit(activity.AgentMessage{
			Role: activity.RoleResultError,
			Result: &activity.ResultMessage{
				Success:  false,
				LastText: lastAssistantText,
				Errors:   []string{"process exited without a terminal result"},
			},
		})
		r.transition(StateFailed)
	}
}

func (r *Runner) synthesizeInit() activity.AgentMessage {
	return activity.AgentMessage{
		Role: activity.RoleSystemInit,
		SystemInit: &activity.SystemInit{
			SessionID: uuid.NewString(),
			Cwd:       r.cwd,
			Tools:     r.tools,
			Model:     r.model,
		},
	}
}

// pairToolUse assigns a fallback tool-use id ("<name>-<seq>-<rand>") to any
// assistant tool_use block the adapter left unidentified, so later
// tool_result messages can still be paired (spec §4.5 "Tool pairing").
func (r *Runner) pairToolUse(msg activity.AgentMessage) activity.AgentMessage {
	if msg.Role != activity.RoleAssistant || msg.Assistant == nil {
		return msg
	}
	for i, block := range msg.Assistant.Content {
		if block.ToolUse != nil && block.ToolUse.ID == "" {
			r.mu.Lock()
			r.toolUseSeq++
			seq := r.toolUseSeq
			r.mu.Unlock()
			msg.Assistant.Content[i].ToolUse.ID = fmt.Sprintf("%s-%d-%s", block.ToolUse.Name, seq, uuid.NewString()[:8])
		}
	}
	return msg
}

func (r *Runner) emit(msg activity.AgentMessage) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
	if r.sink != nil {
		r.sink.Deliver(r.sessionID, msg)
	}
}
