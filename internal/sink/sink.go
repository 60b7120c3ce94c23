// Package sink implements the generic ActivitySink orchestration layer
// (spec §4.6): ordering and bounded retry-then-drop, wrapping whichever
// per-surface Sink (internal/transport/{slack,discord,github,tracker}.Sink)
// a session targets. Per-surface sinks only implement Post, and any
// ephemeral replace-in-place happens inside that Post; this package owns
// the submission-order queue, the OrderSeq assignment, and the
// backoff/drop-after-budget policy every surface shares.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ceedaragents/cyrus/internal/backoff"
	"github.com/ceedaragents/cyrus/pkg/activity"
)

// Surface is what a per-surface sink implements: post or update one
// Activity on its originating surface.
type Surface interface {
	Post(ctx context.Context, a activity.Activity) error
}

// Uploader persists one attachment to wherever the surface or tracker
// keeps file content, returning a URL to reference in the activity body
// (spec §4.3 "upload first, then reference in the activity body").
type Uploader func(ctx context.Context, att activity.Attachment) (url string, err error)

// Dispatcher serialises one session's activities onto a Surface in
// submission order, assigning OrderSeq at submission time (spec §3
// Activity invariant), retrying failures with backoff up to a budget and
// dropping the activity after that (spec §4.6 "Failure is non-fatal").
type Dispatcher struct {
	surface  Surface
	upload   Uploader
	log      *slog.Logger
	policy   backoff.Policy
	budget   backoff.Budget
	pauseCap int

	nextSeq atomic.Uint64
	wake    chan struct{}

	mu    sync.Mutex
	queue []activity.Activity
}

// Config configures a Dispatcher.
type Config struct {
	Policy backoff.Policy
	Budget backoff.Budget
	Logger *slog.Logger

	// Upload persists attachments before the activity referencing them is
	// posted. Nil means attachments are dropped (surfaces with no upload
	// path, e.g. tests).
	Upload Uploader

	// PauseAt is the queue depth at which the dispatcher task should treat
	// the sink as backpressured and stop accepting new runner output
	// locally (spec §4.4 "Backpressure"). 0 disables the check.
	PauseAt int
}

// New constructs a Dispatcher wrapping surface.
func New(surface Surface, cfg Config) *Dispatcher {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	policy := cfg.Policy
	if policy == (backoff.Policy{}) {
		policy = backoff.DefaultPolicy()
	}
	budget := cfg.Budget
	if budget.MaxAttempts == 0 {
		budget.MaxAttempts = 5
	}
	return &Dispatcher{surface: surface, upload: cfg.Upload, log: log, policy: policy, budget: budget, pauseCap: cfg.PauseAt, wake: make(chan struct{}, 1)}
}

// Submit assigns a.OrderSeq and enqueues the activity for delivery. It
// returns immediately; delivery happens on the caller's goroutine via
// Deliver, which a session's single sink-dispatcher task should call in
// a loop (spec §5 "per-session sink dispatcher").
func (d *Dispatcher) Submit(a activity.Activity) activity.Activity {
	a.OrderSeq = d.nextSeq.Add(1)
	d.mu.Lock()
	d.queue = append(d.queue, a)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return a
}

// Deliver drains the queue in submission order, retrying each activity
// with backoff until it is accepted by the surface or the budget is
// exhausted, in which case it's dropped and logged (spec §4.6, §7 "Sink
// error"). It returns once the queue is empty.
func (d *Dispatcher) Deliver(ctx context.Context) {
	for {
		a, ok := d.dequeue()
		if !ok {
			return
		}
		d.deliverOne(ctx, a)
	}
}

// Run is the per-session sink-dispatcher task (spec §5): it blocks until
// Submit wakes it, drains the queue, and repeats until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		d.Deliver(ctx)
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) dequeue() (activity.Activity, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return activity.Activity{}, false
	}
	a := d.queue[0]
	d.queue = d.queue[1:]
	return a, true
}

func (d *Dispatcher) deliverOne(ctx context.Context, a activity.Activity) {
	a = d.resolveAttachments(ctx, a)
	for attempt := 1; ; attempt++ {
		err := d.surface.Post(ctx, a)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if d.budget.Exhausted(attempt) {
			d.log.Error("dropping activity after retry budget exhausted", "error", err, "order_seq", a.OrderSeq, "attempts", attempt)
			return
		}
		d.log.Warn("activity delivery failed, retrying", "error", err, "order_seq", a.OrderSeq, "attempt", attempt)
		if sleepErr := backoff.SleepAttempt(ctx, d.policy, attempt); sleepErr != nil {
			return
		}
	}
}

// resolveAttachments uploads each attachment and appends a markdown
// reference to the activity body before it is ever posted, so a retried
// Post never re-uploads.
func (d *Dispatcher) resolveAttachments(ctx context.Context, a activity.Activity) activity.Activity {
	if len(a.Attachments) == 0 || d.upload == nil {
		return a
	}
	var refs []string
	for _, att := range a.Attachments {
		url, err := d.upload(ctx, att)
		if err != nil {
			d.log.Warn("attachment upload failed, omitting reference", "name", att.Name, "error", err)
			continue
		}
		refs = append(refs, fmt.Sprintf("[%s](%s)", att.Name, url))
	}
	if len(refs) > 0 {
		a.Body = strings.TrimRight(a.Body, "\n") + "\n\n" + strings.Join(refs, " ")
	}
	a.Attachments = nil
	return a
}

// Pending reports how many activities are queued but not yet delivered,
// used by the dispatcher task's backpressure decision (spec §4.4
// "Backpressure").
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Backpressured reports whether the queue has grown past PauseAt, signalling
// the dispatcher task should stop accepting new runner output locally until
// the sink recovers (spec §4.4).
func (d *Dispatcher) Backpressured() bool {
	if d.pauseCap <= 0 {
		return false
	}
	return d.Pending() >= d.pauseCap
}
