package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ceedaragents/cyrus/internal/backoff"
	"github.com/ceedaragents/cyrus/pkg/activity"
)

type recordingSurface struct {
	mu       sync.Mutex
	posted   []activity.Activity
	failNext int
}

func (r *recordingSurface) Post(ctx context.Context, a activity.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext > 0 {
		r.failNext--
		return errors.New("surface unavailable")
	}
	r.posted = append(r.posted, a)
	return nil
}

func fastPolicy() backoff.Policy {
	return backoff.Policy{InitialMs: 1, MaxMs: 5, Factor: 1, Jitter: 0}
}

func TestDispatcher_DeliversInSubmissionOrder(t *testing.T) {
	surface := &recordingSurface{}
	d := New(surface, Config{Policy: fastPolicy()})

	d.Submit(activity.Activity{Body: "one"})
	d.Submit(activity.Activity{Body: "two"})
	d.Submit(activity.Activity{Body: "three"})

	d.Deliver(context.Background())

	require.Len(t, surface.posted, 3)
	require.Equal(t, "one", surface.posted[0].Body)
	require.Equal(t, "two", surface.posted[1].Body)
	require.Equal(t, "three", surface.posted[2].Body)
	require.Less(t, surface.posted[0].OrderSeq, surface.posted[1].OrderSeq)
}

func TestDispatcher_RetriesThenDropsAfterBudget(t *testing.T) {
	surface := &recordingSurface{failNext: 10}
	d := New(surface, Config{Policy: fastPolicy(), Budget: backoff.Budget{MaxAttempts: 3}})

	d.Submit(activity.Activity{Body: "doomed"})
	d.Deliver(context.Background())

	require.Empty(t, surface.posted)
}

func TestDispatcher_RecoversAfterTransientFailure(t *testing.T) {
	surface := &recordingSurface{failNext: 2}
	d := New(surface, Config{Policy: fastPolicy(), Budget: backoff.Budget{MaxAttempts: 5}})

	d.Submit(activity.Activity{Body: "eventually ok"})
	d.Deliver(context.Background())

	require.Len(t, surface.posted, 1)
	require.Equal(t, "eventually ok", surface.posted[0].Body)
}

func TestDispatcher_UploadsAttachmentsBeforePosting(t *testing.T) {
	surface := &recordingSurface{}
	uploaded := []string{}
	d := New(surface, Config{
		Policy: fastPolicy(),
		Upload: func(ctx context.Context, att activity.Attachment) (string, error) {
			uploaded = append(uploaded, att.Name)
			return "https://example.test/" + att.Name, nil
		},
	})

	d.Submit(activity.Activity{
		Body:        "see attached",
		Attachments: []activity.Attachment{{Name: "log.txt"}},
	})
	d.Deliver(context.Background())

	require.Equal(t, []string{"log.txt"}, uploaded)
	require.Len(t, surface.posted, 1)
	require.Contains(t, surface.posted[0].Body, "https://example.test/log.txt")
	require.Empty(t, surface.posted[0].Attachments)
}

func TestDispatcher_Backpressured(t *testing.T) {
	surface := &recordingSurface{}
	d := New(surface, Config{PauseAt: 2})

	require.False(t, d.Backpressured())
	d.Submit(activity.Activity{Body: "a"})
	d.Submit(activity.Activity{Body: "b"})
	require.True(t, d.Backpressured())
}

func TestDispatcher_RunDeliversAndExitsOnCancel(t *testing.T) {
	surface := &recordingSurface{}
	d := New(surface, Config{Policy: fastPolicy()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	d.Submit(activity.Activity{Body: "hello"})
	require.Eventually(t, func() bool { return len(surface.posted) == 1 }, time.Second, time.Millisecond)

	cancel()
	<-done
}
