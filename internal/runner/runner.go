// Package runner defines the AgentRunner contract and the supervisor that
// turns a heterogeneous coding-agent subprocess into the canonical
// activity.AgentMessage stream (spec §2, §4.5). Per-vendor adapters
// (internal/runner/claude, internal/runner/codex) only need to translate
// their provider's wire format into activity.AgentMessage; the supervisor
// handles liveness, init synthesis, delta accumulation, tool pairing,
// result finalisation, logging, and cancellation uniformly.
package runner

import (
	"context"
	"errors"

	"github.com/ceedaragents/cyrus/internal/formatter"
	"github.com/ceedaragents/cyrus/pkg/activity"
)

var (
	ErrNotRunning    = errors.New("runner: not running")
	ErrAlreadyActive = errors.New("runner: already has an active stream")
)

// State is the per-session runner state machine (spec §4.5 state table).
type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateStopped   State = "stopped"
)

// StopReason annotates why a runner was stopped.
type StopReason string

const (
	StopReasonUser    StopReason = "user"
	StopReasonIdle    StopReason = "idle"
	StopReasonConfig  StopReason = "config"
)

// Adapter is what a per-vendor package implements: spawning the vendor
// subprocess and translating its wire stream into activity.AgentMessage.
// The supervisor (Runner) wraps an Adapter with liveness, accumulation,
// and logging so adapters stay thin.
type Adapter interface {
	// Start spawns the subprocess with the given initial prompt and
	// working directory, returning the adapter's raw message channel.
	// The channel is closed when the subprocess exits.
	Start(ctx context.Context, cwd, prompt string) (<-chan activity.AgentMessage, error)

	// AddStreamMessage forwards additional user text to a running session
	// that supports streaming input (spec "addStreamMessage(text)").
	AddStreamMessage(text string) error

	// SupportsStreamingInput reports whether AddStreamMessage is usable;
	// adapters whose vendor CLI takes one-shot prompts only return false.
	SupportsStreamingInput() bool

	// Stop sends a termination signal to the subprocess.
	Stop() error

	// Kill forcibly terminates the subprocess (escalation after the grace
	// period expires).
	Kill() error

	Formatter() formatter.Formatter
}
